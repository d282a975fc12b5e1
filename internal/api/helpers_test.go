package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kalambet/mdpress/internal/dify"
	"github.com/kalambet/mdpress/internal/generate"
	"github.com/kalambet/mdpress/internal/markdown"
	"github.com/kalambet/mdpress/internal/metrics"
	"github.com/kalambet/mdpress/internal/render"
	"github.com/kalambet/mdpress/internal/storage"
	"github.com/kalambet/mdpress/internal/templates"
)

const testAPIKey = "secret-key"

type testEnv struct {
	deps    Deps
	store   *storage.Store
	handler http.Handler
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEnv wires the router against an in-memory store and a Dify stand-in
// served by difyHandler (nil means every workflow call returns 500).
func newTestEnv(t *testing.T, difyHandler http.HandlerFunc, mutate ...func(*Deps)) *testEnv {
	t.Helper()

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	set, err := templates.Load(quietLogger())
	if err != nil {
		t.Fatalf("loading templates: %v", err)
	}
	reg := prometheus.NewRegistry()
	m := metrics.MustNew(reg)
	renderer, err := render.New(markdown.NewGoldmark(), set, 16, m)
	if err != nil {
		t.Fatalf("creating renderer: %v", err)
	}

	if difyHandler == nil {
		difyHandler = func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"message":"boom"}`, http.StatusInternalServerError)
		}
	}
	difySrv := httptest.NewServer(difyHandler)
	t.Cleanup(difySrv.Close)

	client := dify.NewClient(difySrv.URL, "")
	gen := generate.New(client, generate.Config{
		MaxRetries:       0,
		BaseDelay:        time.Millisecond,
		MinContentLength: 100,
		MockFallback:     false,
	}, generate.WithLogger(quietLogger()), generate.WithMetrics(m))

	deps := Deps{
		Documents:     store,
		History:       store,
		Renderer:      renderer,
		Dify:          client,
		Generator:     gen,
		APIKey:        testAPIKey,
		DifyAPIKey:    "dify-key",
		ArticleAPIKey: "",
		Metrics:       m,
		Gatherer:      reg,
		Logger:        quietLogger(),
	}
	for _, f := range mutate {
		f(&deps)
	}
	return &testEnv{deps: deps, store: store, handler: NewRouter(deps)}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}
