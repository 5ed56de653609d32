package shellcache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type originHandler struct {
	hits    atomic.Int32
	handler http.HandlerFunc
}

func (h *originHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.hits.Add(1)
	h.handler(w, r)
}

func newShellOrigin() *originHandler {
	return &originHandler{handler: func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/img/placeholder.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte("placeholder-bytes")) //nolint:errcheck
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("asset:" + r.URL.Path)) //nolint:errcheck
		}
	}}
}

func newTestWorker(t *testing.T, origin string, manifest []string) *Worker {
	t.Helper()
	store, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	worker, err := NewWorker(WorkerConfig{
		Store:    store,
		CacheTag: "v1",
		Origin:   origin,
		Manifest: manifest,
	})
	if err != nil {
		t.Fatalf("unexpected worker error: %v", err)
	}
	return worker
}

func installAndActivate(t *testing.T, worker *Worker) {
	t.Helper()
	if err := worker.Install(context.Background()); err != nil {
		t.Fatalf("unexpected install error: %v", err)
	}
	if err := worker.Activate(context.Background()); err != nil {
		t.Fatalf("unexpected activate error: %v", err)
	}
}

func get(t *testing.T, worker *Worker, path string) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	worker.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
	return recorder
}

func TestInstallPrecachesManifestAndWaits(t *testing.T) {
	origin := newShellOrigin()
	server := httptest.NewServer(origin)
	defer server.Close()

	worker := newTestWorker(t, server.URL, []string{"/", "/css/styles.css"})
	if worker.State() != StateNew {
		t.Fatalf("expected new worker, got %s", worker.State())
	}
	if err := worker.Install(context.Background()); err != nil {
		t.Fatalf("unexpected install error: %v", err)
	}
	if worker.State() != StateWaiting {
		t.Fatalf("expected waiting worker, got %s", worker.State())
	}
	if origin.hits.Load() != 2 {
		t.Fatalf("expected one fetch per manifest entry, got %d", origin.hits.Load())
	}
}

func TestInstallFailsWhenAnyManifestEntryFails(t *testing.T) {
	origin := newShellOrigin()
	server := httptest.NewServer(origin)
	defer server.Close()

	worker := newTestWorker(t, server.URL, []string{"/", "/missing"})
	err := worker.Install(context.Background())
	if err == nil {
		t.Fatal("expected install to fail on the unfetchable entry")
	}
	if worker.State() != StateNew {
		t.Fatalf("failed install must roll back to new, got %s", worker.State())
	}
}

func TestSkipWaitingRequiresStagedGeneration(t *testing.T) {
	origin := newShellOrigin()
	server := httptest.NewServer(origin)
	defer server.Close()

	worker := newTestWorker(t, server.URL, []string{"/"})
	if err := worker.SkipWaiting(context.Background()); !errors.Is(err, ErrNotWaiting) {
		t.Fatalf("expected ErrNotWaiting, got %v", err)
	}

	if err := worker.Install(context.Background()); err != nil {
		t.Fatalf("unexpected install error: %v", err)
	}
	if err := worker.SkipWaiting(context.Background()); err != nil {
		t.Fatalf("unexpected skip-waiting error: %v", err)
	}
	if worker.State() != StateActive {
		t.Fatalf("expected active worker, got %s", worker.State())
	}
	if err := worker.SkipWaiting(context.Background()); !errors.Is(err, ErrNotWaiting) {
		t.Fatalf("repeated skip-waiting must fail, got %v", err)
	}
}

func TestCachedShellServedWithoutNetwork(t *testing.T) {
	origin := newShellOrigin()
	server := httptest.NewServer(origin)

	worker := newTestWorker(t, server.URL, []string{"/css/styles.css"})
	installAndActivate(t, worker)
	server.Close()

	recorder := get(t, worker, "/css/styles.css")
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	if recorder.Body.String() != "asset:/css/styles.css" {
		t.Fatalf("unexpected body: %q", recorder.Body.String())
	}
}

func TestNavigationPopulatesCacheOnFirstFetch(t *testing.T) {
	origin := newShellOrigin()
	server := httptest.NewServer(origin)
	defer server.Close()

	worker := newTestWorker(t, server.URL, []string{"/"})
	installAndActivate(t, worker)

	first := get(t, worker, "/restaurant.html?id=3")
	if first.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", first.Code)
	}
	fetched := origin.hits.Load()

	second := get(t, worker, "/restaurant.html?id=5")
	if second.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", second.Code)
	}
	if origin.hits.Load() != fetched {
		t.Fatal("second read of a cached page must not reach the origin")
	}
	if second.Body.String() != first.Body.String() {
		t.Fatal("query variants must share one cached entry")
	}
}

func TestAPICollectionResponsesAreNeverCached(t *testing.T) {
	origin := newShellOrigin()
	server := httptest.NewServer(origin)
	defer server.Close()

	worker := newTestWorker(t, server.URL, []string{"/"})
	installAndActivate(t, worker)

	get(t, worker, "/restaurants/")
	fetched := origin.hits.Load()
	get(t, worker, "/restaurants/")
	if origin.hits.Load() != fetched+1 {
		t.Fatal("every API read must reach the origin")
	}

	get(t, worker, "/reviews/4")
	fetched = origin.hits.Load()
	get(t, worker, "/reviews/4")
	if origin.hits.Load() != fetched+1 {
		t.Fatal("every API read must reach the origin")
	}
}

func TestMutatingMethodsAreNeverCached(t *testing.T) {
	origin := newShellOrigin()
	server := httptest.NewServer(origin)
	defer server.Close()

	worker := newTestWorker(t, server.URL, []string{"/"})
	installAndActivate(t, worker)

	for _, method := range []string{http.MethodPut, http.MethodDelete} {
		recorder := httptest.NewRecorder()
		worker.ServeHTTP(recorder, httptest.NewRequest(method, "/settings/theme", nil))
		if recorder.Code != http.StatusOK {
			t.Fatalf("unexpected %s status: %d", method, recorder.Code)
		}
	}

	fetched := origin.hits.Load()
	get(t, worker, "/settings/theme")
	if origin.hits.Load() != fetched+1 {
		t.Fatal("a write must not leave a cached read behind")
	}

	// A write to a now-cached URL still reaches the origin.
	fetched = origin.hits.Load()
	recorder := httptest.NewRecorder()
	worker.ServeHTTP(recorder, httptest.NewRequest(http.MethodPut, "/settings/theme", nil))
	if origin.hits.Load() != fetched+1 {
		t.Fatal("a cached read must not answer a write")
	}
}

func TestSentinelImageServedFromCachedPlaceholder(t *testing.T) {
	origin := newShellOrigin()
	server := httptest.NewServer(origin)
	defer server.Close()

	worker := newTestWorker(t, server.URL, []string{"/img/placeholder.jpg"})
	installAndActivate(t, worker)

	recorder := get(t, worker, "/img/undefined.jpg")
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	if recorder.Body.String() != "placeholder-bytes" {
		t.Fatalf("expected the cached placeholder, got %q", recorder.Body.String())
	}
}

func TestUnreachableOriginYieldsSyntheticNotFound(t *testing.T) {
	origin := newShellOrigin()
	server := httptest.NewServer(origin)

	worker := newTestWorker(t, server.URL, []string{"/"})
	installAndActivate(t, worker)
	server.Close()

	recorder := get(t, worker, "/never-cached")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	if recorder.Body.String() != "404 failed" {
		t.Fatalf("unexpected body: %q", recorder.Body.String())
	}
}

func TestPostResponsesAreNeverCached(t *testing.T) {
	origin := &originHandler{handler: func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Method + ":" + r.URL.Path)) //nolint:errcheck
	}}
	server := httptest.NewServer(origin)
	defer server.Close()

	worker := newTestWorker(t, server.URL, []string{"/"})
	installAndActivate(t, worker)

	recorder := httptest.NewRecorder()
	worker.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/contact", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected POST status: %d", recorder.Code)
	}

	fetched := origin.hits.Load()
	got := get(t, worker, "/contact")
	if origin.hits.Load() != fetched+1 {
		t.Fatal("a GET after a POST must reach the origin")
	}
	if got.Body.String() != "GET:/contact" {
		t.Fatalf("GET must not be answered from a POST entry, got %q", got.Body.String())
	}
}

func TestHeadRequestsServeCachedHeadersWithoutBody(t *testing.T) {
	origin := newShellOrigin()
	server := httptest.NewServer(origin)

	worker := newTestWorker(t, server.URL, []string{"/css/styles.css"})
	installAndActivate(t, worker)
	server.Close()

	recorder := httptest.NewRecorder()
	worker.ServeHTTP(recorder, httptest.NewRequest(http.MethodHead, "/css/styles.css", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	if recorder.Header().Get("Content-Type") != "text/plain" {
		t.Fatalf("unexpected content type: %q", recorder.Header().Get("Content-Type"))
	}
	if recorder.Body.Len() != 0 {
		t.Fatalf("HEAD must not carry a body, got %q", recorder.Body.String())
	}
}

func TestStagedGenerationDoesNotServeUntilActivated(t *testing.T) {
	origin := newShellOrigin()
	server := httptest.NewServer(origin)
	defer server.Close()

	worker := newTestWorker(t, server.URL, []string{"/css/styles.css"})
	if err := worker.Install(context.Background()); err != nil {
		t.Fatalf("unexpected install error: %v", err)
	}

	fetched := origin.hits.Load()
	get(t, worker, "/css/styles.css")
	if origin.hits.Load() != fetched+1 {
		t.Fatal("a waiting worker must not answer from its staged generation")
	}

	if err := worker.SkipWaiting(context.Background()); err != nil {
		t.Fatalf("unexpected skip-waiting error: %v", err)
	}
	fetched = origin.hits.Load()
	get(t, worker, "/css/styles.css")
	if origin.hits.Load() != fetched {
		t.Fatal("the activated generation must answer without the origin")
	}
}
