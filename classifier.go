package offlinecache

import (
	"net/http"
	"path"
	"strings"
)

// Class is the strategy bucket a request falls into.
type Class int

const (
	// ClassBypass means the request is not intercepted at all: it is either
	// not a read or not aimed at our own origin.
	ClassBypass Class = iota

	// ClassAsset is a static asset served cache-first.
	ClassAsset

	// ClassAPI is a backend call served network-first with a JSON fallback.
	ClassAPI

	// ClassPage is a navigation request served network-first with the
	// precached offline document as the terminal fallback.
	ClassPage
)

func (c Class) String() string {
	switch c {
	case ClassAsset:
		return "asset"
	case ClassAPI:
		return "api"
	case ClassPage:
		return "page"
	default:
		return "bypass"
	}
}

// Classifier assigns every request exactly one Class. The rules form a strict
// priority chain: API prefix match beats asset-extension match, which beats
// the page default. An API path that happens to end in ".json" must never be
// treated as a static asset.
type Classifier struct {
	// Host is the application's own host. Absolute request URLs aimed at a
	// different host bypass interception.
	Host string

	APIPrefixes     []string
	AssetExtensions []string
}

// NewClassifier builds a Classifier from the configured prefix set and
// extension allowlist.
func NewClassifier(host string, cfg Config) *Classifier {
	return &Classifier{
		Host:            host,
		APIPrefixes:     cfg.APIPrefixes,
		AssetExtensions: cfg.AssetExtensions,
	}
}

// Classify maps a request to its Class.
func (c *Classifier) Classify(r *http.Request) Class {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return ClassBypass
	}

	if r.URL.Host != "" && c.Host != "" && r.URL.Host != c.Host {
		return ClassBypass
	}

	for _, prefix := range c.APIPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return ClassAPI
		}
	}

	ext := strings.ToLower(path.Ext(r.URL.Path))
	if ext != "" {
		for _, allowed := range c.AssetExtensions {
			if ext == allowed {
				return ClassAsset
			}
		}
	}

	return ClassPage
}
