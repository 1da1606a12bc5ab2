package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeStorefront serves the store, checkout and API hosts from one
// httptest server and records every call.
type fakeStorefront struct {
	srv *httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	paths    []string
	forms    map[string]url.Values
	queries  map[string]url.Values
	referers map[string]string
}

func newFakeStorefront(t *testing.T) *fakeStorefront {
	t.Helper()
	f := &fakeStorefront{
		handlers: map[string]http.HandlerFunc{},
		forms:    map[string]url.Values{},
		queries:  map[string]url.Values{},
		referers: map[string]string{},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeStorefront) serve(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()

	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.forms[r.URL.Path] = r.PostForm
	f.queries[r.URL.Path] = r.URL.Query()
	f.referers[r.URL.Path] = r.Referer()
	h := f.handlers[r.URL.Path]
	f.mu.Unlock()

	if h == nil {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (f *fakeStorefront) handle(path string, h http.HandlerFunc) {
	f.mu.Lock()
	f.handlers[path] = h
	f.mu.Unlock()
}

// reply answers path with a fixed body.
func (f *fakeStorefront) reply(path, contentType, body string) {
	f.handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = io.WriteString(w, body)
	})
}

func (f *fakeStorefront) json(path, body string) {
	f.reply(path, "application/json", body)
}

func (f *fakeStorefront) html(path, body string) {
	f.reply(path, "text/html", body)
}

func (f *fakeStorefront) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func (f *fakeStorefront) count(path string) int {
	n := 0
	for _, p := range f.calls() {
		if p == path {
			n++
		}
	}
	return n
}

func (f *fakeStorefront) form(path string) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[path]
}

func (f *fakeStorefront) query(path string) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[path]
}

func (f *fakeStorefront) referer(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.referers[path]
}

func (f *fakeStorefront) URL() string {
	return f.srv.URL
}

// newTestConfig points every host at base and keeps all state in a temp dir.
func newTestConfig(t *testing.T, base string) *Config {
	t.Helper()
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.StoreURL = base
	cfg.CheckoutURL = base
	cfg.APIURL = base
	cfg.RequestTimeout = 5
	cfg.RequestsPerSecond = 1000
	cfg.RequestBurst = 100
	cfg.BrowserProfilePath = filepath.Join(dir, "profile")
	cfg.JournalPath = ""
	cfg.LogFile = ""
	cfg.TimeServers = nil
	return cfg
}

func newTestSession(t *testing.T, cfg *Config, name string) *Session {
	t.Helper()
	gw, err := NewHTTPGateway(cfg, []*http.Cookie{{Name: sessionCookie, Value: "sid-" + name}}, nil)
	require.NoError(t, err)
	return &Session{
		Name:           name,
		AccessToken:    "token-" + name,
		SteamID:        76561198000000001,
		WalletCurrency: "USD",
		Gateway:        gw,
	}
}

func newTestRegions(t *testing.T, cfg *Config) *RegionResolver {
	t.Helper()
	regions, err := NewRegionResolver(context.Background(), NewMemoryRegionStore(), cfg)
	require.NoError(t, err)
	return regions
}

func testLogger() *slog.Logger {
	return discardLogger()
}
