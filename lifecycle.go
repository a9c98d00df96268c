package offlinecache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/offlinecache/go-offline-cache/caches"
)

// State is a phase of a cache generation's lifecycle.
type State int

const (
	StateInstalling State = iota
	StateWaiting
	StateActivating
	StateActive
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	default:
		return "redundant"
	}
}

// Message is a control-channel command.
type Message string

// MessageSkipWaiting tells a Waiting lifecycle to activate immediately,
// preempting the previous generation even while clients still hold it.
const MessageSkipWaiting Message = "SKIP_WAITING"

// Adopter is claimed on activation so that already-open clients route
// through the new generation. *Transport implements it.
type Adopter interface {
	Adopt(staticName, dynamicName string)
}

// Lifecycle drives one cache generation through
// Installing -> Waiting -> Activating -> Active, and eventually Redundant
// when a newer generation supersedes it. It owns cache versioning: the static
// generation is precached during install and every undesignated generation is
// purged during activation. It is never on the per-request path.
type Lifecycle struct {
	store   Store
	cfg     Config
	fetch   http.RoundTripper
	adopter Adopter
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	state State

	msgs        chan Message
	released    chan struct{}
	releaseOnce sync.Once
}

// NewLifecycle creates a lifecycle for the generations named in cfg. The
// fetch transport is used for precache requests and defaults to
// http.DefaultTransport. The adopter may be nil when no running transport
// needs claiming.
func NewLifecycle(
	store Store,
	cfg Config,
	fetch http.RoundTripper,
	adopter Adopter,
	logger *slog.Logger,
) *Lifecycle {
	if fetch == nil {
		fetch = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Lifecycle{
		store:    store,
		cfg:      cfg,
		fetch:    fetch,
		adopter:  adopter,
		logger:   logger,
		now:      time.Now,
		state:    StateInstalling,
		msgs:     make(chan Message, 1),
		released: make(chan struct{}),
	}
}

// State reports the current lifecycle phase.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

func (l *Lifecycle) setState(ctx context.Context, s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()

	l.logger.DebugContext(ctx, "lifecycle state change", "state", s.String())
}

// Send delivers a control-channel command. Only MessageSkipWaiting is
// recognized; anything else is dropped.
func (l *Lifecycle) Send(msg Message) {
	if msg != MessageSkipWaiting {
		return
	}

	select {
	case l.msgs <- msg:
	default:
	}
}

// ReleaseClients signals that no client still holds the previous generation,
// allowing a Waiting lifecycle to proceed to activation.
func (l *Lifecycle) ReleaseClients() {
	l.releaseOnce.Do(func() { close(l.released) })
}

// Retire marks the lifecycle Redundant. Called when a newer generation has
// taken over.
func (l *Lifecycle) Retire() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state = StateRedundant
}

// Install pre-populates the static generation with the precache manifest.
// The install is all-or-nothing: every manifest fetch is staged in memory and
// the store is not touched until all of them have succeeded, so a failed
// install leaves whatever generation already exists under the same name
// intact and serving.
func (l *Lifecycle) Install(ctx context.Context) error {
	staged := make([]*CacheItem, len(l.cfg.PrecacheManifest))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range l.cfg.PrecacheManifest {
		g.Go(func() error {
			item, err := l.fetchManifestEntry(gctx, path)
			if err != nil {
				return err
			}
			staged[i] = item
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("precache manifest: %w", err)
	}

	static, err := l.store.Open(ctx, l.cfg.StaticCacheName)
	if err != nil {
		return err
	}

	for i, path := range l.cfg.PrecacheManifest {
		if err := static.Set(ctx, caches.PathKey(path), staged[i]); err != nil {
			return fmt.Errorf("store %s: %w", path, err)
		}
	}

	return nil
}

func (l *Lifecycle) fetchManifestEntry(ctx context.Context, path string) (*CacheItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.Origin+path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.fetch.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if !success(resp) {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", path, resp.StatusCode)
	}

	resBytes, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return nil, fmt.Errorf("dump %s: %w", path, err)
	}

	l.logger.DebugContext(ctx, "precached manifest entry", "path", path)

	return &CacheItem{
		Response: resBytes,
		StoredAt: l.now().UTC(),
	}, nil
}

// Activate enumerates all generations, deletes every one whose name is not
// currently designated, and claims the adopter so in-flight clients route
// through the new generation.
func (l *Lifecycle) Activate(ctx context.Context) error {
	names, err := l.store.Names(ctx)
	if err != nil {
		return err
	}

	keep := map[string]bool{
		l.cfg.StaticCacheName:  true,
		l.cfg.DynamicCacheName: true,
	}

	for _, name := range names {
		if keep[name] {
			continue
		}

		l.logger.DebugContext(ctx, "deleting stale cache generation", "name", name)
		if err := l.store.Delete(ctx, name); err != nil {
			return fmt.Errorf("delete generation %s: %w", name, err)
		}
	}

	if l.adopter != nil {
		l.adopter.Adopt(l.cfg.StaticCacheName, l.cfg.DynamicCacheName)
	}

	return nil
}

// Run drives the state machine to completion. Install and Activate are
// awaited in full before the next transition is acknowledged; the Waiting
// phase holds until ReleaseClients, a skip-waiting command, or context
// cancellation.
func (l *Lifecycle) Run(ctx context.Context) error {
	if err := l.cfg.Validate(); err != nil {
		l.setState(ctx, StateRedundant)
		return err
	}

	l.setState(ctx, StateInstalling)
	if err := l.Install(ctx); err != nil {
		l.setState(ctx, StateRedundant)
		return fmt.Errorf("install: %w", err)
	}

	l.setState(ctx, StateWaiting)
	select {
	case <-ctx.Done():
		l.setState(ctx, StateRedundant)
		return ctx.Err()
	case msg := <-l.msgs:
		l.logger.DebugContext(ctx, "skip-waiting requested", "message", string(msg))
	case <-l.released:
	}

	l.setState(ctx, StateActivating)
	if err := l.Activate(ctx); err != nil {
		l.setState(ctx, StateRedundant)
		return fmt.Errorf("activate: %w", err)
	}

	l.setState(ctx, StateActive)
	return nil
}
