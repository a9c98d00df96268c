package offlinecache_test

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	offlinecache "github.com/offlinecache/go-offline-cache"
	"github.com/offlinecache/go-offline-cache/caches"
	"github.com/offlinecache/go-offline-cache/caches/local"
)

type recordingAdopter struct {
	mu sync.Mutex

	staticName  string
	dynamicName string
	calls       int
}

func (a *recordingAdopter) Adopt(staticName, dynamicName string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.staticName = staticName
	a.dynamicName = dynamicName
	a.calls++
}

func shellServer(t *testing.T, missing ...string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, m := range missing {
			if r.URL.Path == m {
				http.NotFound(w, r)
				return
			}
		}
		switch {
		case strings.HasSuffix(r.URL.Path, ".html"):
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html>offline shell</html>"))
		default:
			w.Write([]byte("shell asset"))
		}
	}))
	t.Cleanup(server.Close)

	return server
}

func waitForState(t *testing.T, lc *offlinecache.Lifecycle, want offlinecache.State) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if lc.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("lifecycle never reached state %s, stuck in %s", want, lc.State())
}

func TestInstallPrecachesManifest(t *testing.T) {
	t.Parallel()

	server := shellServer(t)
	ctx := context.Background()

	cfg := testConfig(server.URL)
	store := local.NewStore()
	lc := offlinecache.NewLifecycle(store, cfg, nil, nil, nil)

	if err := lc.Install(ctx); err != nil {
		t.Fatalf("install: %v", err)
	}

	static, err := store.Open(ctx, cfg.StaticCacheName)
	if err != nil {
		t.Fatalf("open static cache: %v", err)
	}

	for _, path := range cfg.PrecacheManifest {
		item, err := static.Get(ctx, caches.PathKey(path))
		if err != nil {
			t.Errorf("expected %s precached: %v", path, err)
			continue
		}
		if len(item.Response) == 0 {
			t.Errorf("expected non-empty stored response for %s", path)
		}
	}
}

func TestInstallIsAllOrNothing(t *testing.T) {
	t.Parallel()

	server := shellServer(t, "/favicon.ico")
	ctx := context.Background()

	cfg := testConfig(server.URL)
	store := local.NewStore()
	lc := offlinecache.NewLifecycle(store, cfg, nil, nil, nil)

	if err := lc.Install(ctx); err == nil {
		t.Fatal("expected install to fail when a manifest fetch fails")
	}

	names, err := store.Names(ctx)
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	for _, name := range names {
		if name == cfg.StaticCacheName {
			t.Errorf("expected failed install not to commit generation %s", name)
		}
	}
}

func TestFailedInstallKeepsPreviousGeneration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := local.NewStore()
	cfg := testConfig("")

	// a previous deploy fully populated the generation under the same name
	previous, err := store.Open(ctx, cfg.StaticCacheName)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := previous.Set(ctx, caches.PathKey("/offline.html"), storedDocument(t, "text/html", "working offline doc")); err != nil {
		t.Fatalf("set: %v", err)
	}

	server := shellServer(t, "/favicon.ico")
	cfg.Origin = server.URL
	lc := offlinecache.NewLifecycle(store, cfg, nil, nil, nil)

	if err := lc.Install(ctx); err == nil {
		t.Fatal("expected install to fail when a manifest fetch fails")
	}

	names, err := store.Names(ctx)
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) != 1 || names[0] != cfg.StaticCacheName {
		t.Fatalf("expected generation %s to survive failed install, got %v", cfg.StaticCacheName, names)
	}

	static, err := store.Open(ctx, cfg.StaticCacheName)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	item, err := static.Get(ctx, caches.PathKey("/offline.html"))
	if err != nil {
		t.Fatalf("expected previous offline document to survive: %v", err)
	}
	r := httptest.NewRequest(http.MethodGet, "/offline.html", nil)
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(item.Response)), r)
	if err != nil {
		t.Fatalf("replay stored document: %v", err)
	}
	if body := readBody(t, resp); body != "working offline doc" {
		t.Errorf("expected previous document body, got %q", body)
	}
}

func TestActivatePurgesStaleGenerations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := local.NewStore()

	for _, name := range []string{"static-v0", "dynamic-v0", "static-v1", "dynamic-v1"} {
		if _, err := store.Open(ctx, name); err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
	}

	cfg := testConfig("https://app.example.com")
	adopter := &recordingAdopter{}
	lc := offlinecache.NewLifecycle(store, cfg, nil, adopter, nil)

	if err := lc.Activate(ctx); err != nil {
		t.Fatalf("activate: %v", err)
	}

	names, err := store.Names(ctx)
	if err != nil {
		t.Fatalf("names: %v", err)
	}

	want := []string{"dynamic-v1", "static-v1"}
	if len(names) != len(want) {
		t.Fatalf("expected generations %v after activation, got %v", want, names)
	}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("names[%d] = %s, want %s", i, names[i], name)
		}
	}

	if adopter.calls != 1 {
		t.Errorf("expected adopter claimed once, got %d", adopter.calls)
	}
	if adopter.staticName != "static-v1" || adopter.dynamicName != "dynamic-v1" {
		t.Errorf("adopter got %s/%s, want static-v1/dynamic-v1", adopter.staticName, adopter.dynamicName)
	}
}

func TestRunSkipWaitingPreemptsOldGeneration(t *testing.T) {
	t.Parallel()

	server := shellServer(t)
	cfg := testConfig(server.URL)
	store := local.NewStore()
	adopter := &recordingAdopter{}
	lc := offlinecache.NewLifecycle(store, cfg, nil, adopter, nil)

	done := make(chan error, 1)
	go func() {
		done <- lc.Run(context.Background())
	}()

	// no ReleaseClients: the lifecycle must hold in Waiting
	waitForState(t, lc, offlinecache.StateWaiting)

	lc.Send(offlinecache.MessageSkipWaiting)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after skip-waiting")
	}

	if lc.State() != offlinecache.StateActive {
		t.Errorf("expected active state, got %s", lc.State())
	}
	if adopter.calls != 1 {
		t.Errorf("expected adopter claimed once, got %d", adopter.calls)
	}
}

func TestRunProceedsWhenClientsRelease(t *testing.T) {
	t.Parallel()

	server := shellServer(t)
	cfg := testConfig(server.URL)
	store := local.NewStore()
	lc := offlinecache.NewLifecycle(store, cfg, nil, nil, nil)

	done := make(chan error, 1)
	go func() {
		done <- lc.Run(context.Background())
	}()

	waitForState(t, lc, offlinecache.StateWaiting)
	lc.ReleaseClients()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after clients released")
	}
}

func TestSendIgnoresUnrecognizedCommands(t *testing.T) {
	t.Parallel()

	server := shellServer(t)
	cfg := testConfig(server.URL)
	store := local.NewStore()
	lc := offlinecache.NewLifecycle(store, cfg, nil, nil, nil)

	go func() {
		_ = lc.Run(context.Background())
	}()

	waitForState(t, lc, offlinecache.StateWaiting)

	lc.Send(offlinecache.Message("DEPLOY_NOW"))
	time.Sleep(50 * time.Millisecond)

	if lc.State() != offlinecache.StateWaiting {
		t.Errorf("expected unrecognized command to be dropped, state is %s", lc.State())
	}

	lc.ReleaseClients()
}

func TestRunRejectsMismatchedGenerationNames(t *testing.T) {
	t.Parallel()

	cfg := testConfig("https://app.example.com")
	cfg.StaticCacheName = "static-v1"
	cfg.DynamicCacheName = "dynamic-v2"

	lc := offlinecache.NewLifecycle(local.NewStore(), cfg, nil, nil, nil)

	if err := lc.Run(context.Background()); err == nil {
		t.Fatal("expected run to fail on mismatched generation versions")
	}
	if lc.State() != offlinecache.StateRedundant {
		t.Errorf("expected redundant state, got %s", lc.State())
	}
}

func TestRunCanceledWhileWaiting(t *testing.T) {
	t.Parallel()

	server := shellServer(t)
	cfg := testConfig(server.URL)
	lc := offlinecache.NewLifecycle(local.NewStore(), cfg, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- lc.Run(ctx)
	}()

	waitForState(t, lc, offlinecache.StateWaiting)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected context error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancellation")
	}

	if lc.State() != offlinecache.StateRedundant {
		t.Errorf("expected redundant state, got %s", lc.State())
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state offlinecache.State
		want  string
	}{
		{offlinecache.StateInstalling, "installing"},
		{offlinecache.StateWaiting, "waiting"},
		{offlinecache.StateActivating, "activating"},
		{offlinecache.StateActive, "active"},
		{offlinecache.StateRedundant, "redundant"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}
