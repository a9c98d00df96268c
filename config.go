package offlinecache

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config carries the compile-time constants of the resilience layer. The two
// generation names must change together on every deploy; bumping them is the
// only invalidation mechanism there is.
type Config struct {
	// StaticCacheName is the generation precached at install time with the
	// shell-asset manifest.
	StaticCacheName string `yaml:"static_cache_name"`

	// DynamicCacheName is the generation populated lazily by the strategies
	// as responses come back from the network.
	DynamicCacheName string `yaml:"dynamic_cache_name"`

	// PrecacheManifest is the ordered list of same-origin paths fetched and
	// stored during install. It must include OfflinePath.
	PrecacheManifest []string `yaml:"precache_manifest"`

	// OfflinePath is the path of the generic offline document served as the
	// terminal fallback for navigation requests.
	OfflinePath string `yaml:"offline_path"`

	// APIPrefixes is the set of path prefixes classified as backend calls.
	APIPrefixes []string `yaml:"api_prefixes"`

	// AssetExtensions is the allowlist of file extensions classified as
	// static assets.
	AssetExtensions []string `yaml:"asset_extensions"`

	// Origin is the application's own origin, e.g. https://app.example.com.
	// Requests to any other origin pass through uncached.
	Origin string `yaml:"origin"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		StaticCacheName:  "static-v1",
		DynamicCacheName: "dynamic-v1",
		PrecacheManifest: []string{"/offline.html", "/favicon.ico", "/manifest.json"},
		OfflinePath:      "/offline.html",
		APIPrefixes:      []string{"/api/"},
		AssetExtensions: []string{
			".js", ".css", ".png", ".jpg", ".jpeg", ".gif", ".svg",
			".ico", ".webp", ".woff", ".woff2", ".ttf",
		},
	}
}

// LoadConfig reads a YAML config file and expands environment variables.
// Missing fields keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the generation names and manifest. The static and dynamic
// names must differ and carry the same version suffix, so a deploy that bumps
// one without the other is caught before install.
func (c Config) Validate() error {
	if c.StaticCacheName == "" || c.DynamicCacheName == "" {
		return fmt.Errorf("cache generation names must not be empty")
	}
	if c.StaticCacheName == c.DynamicCacheName {
		return fmt.Errorf("static and dynamic cache generations must have distinct names")
	}
	if s := suffix(c.StaticCacheName); s == "" || s != suffix(c.DynamicCacheName) {
		return fmt.Errorf("cache generations %q and %q must share a non-empty version suffix",
			c.StaticCacheName, c.DynamicCacheName)
	}
	if c.OfflinePath != "" && !contains(c.PrecacheManifest, c.OfflinePath) {
		return fmt.Errorf("offline path %q missing from precache manifest", c.OfflinePath)
	}
	return nil
}

func suffix(name string) string {
	i := strings.LastIndex(name, "-")
	if i < 0 {
		return ""
	}
	return name[i+1:]
}

func contains(paths []string, p string) bool {
	for _, v := range paths {
		if v == p {
			return true
		}
	}
	return false
}
