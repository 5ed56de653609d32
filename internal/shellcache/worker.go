package shellcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Lifecycle states of the interception worker.
type WorkerState int

const (
	// StateNew is a constructed worker that has not installed yet.
	StateNew WorkerState = iota
	// StateInstalling is a worker precaching its shell manifest.
	StateInstalling
	// StateWaiting is an installed worker not yet serving requests.
	StateWaiting
	// StateActive is the live worker; exactly one generation remains.
	StateActive
)

func (s WorkerState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// sentinelImage is the final path segment signalling a missing restaurant
// photo; the policy substitutes the cached placeholder for it.
const sentinelImage = "undefined.jpg"

// placeholderPath locates the fallback image inside the shell manifest.
const placeholderPath = "/img/placeholder.jpg"

// apiSegments are the second-to-last path segments identifying mutable API
// resources. Their responses are never cached.
var apiSegments = map[string]struct{}{
	"restaurants": {},
	"reviews":     {},
}

// DefaultManifest is the install-time eager fetch list for the app shell.
func DefaultManifest() []string {
	return []string{
		"/",
		"/review",
		"/img/star.png",
		"/img/star_unchecked.png",
		"/img/placeholder.jpg",
		"/img/placeholder-100-1x.jpg",
		"/img/placeholder-100-2x.jpg",
		"/img/placeholder-100-3x.jpg",
		"/sw.js",
		"/js/main.js",
		"/css/styles.css",
		"https://cdnjs.cloudflare.com/ajax/libs/normalize/8.0.0/normalize.min.css",
	}
}

var (
	errMissingStore  = errors.New("shellcache: store is required")
	errMissingOrigin = errors.New("shellcache: origin is required")
	// ErrNotWaiting reports a skip-waiting message sent to a worker that
	// has nothing staged to activate.
	ErrNotWaiting = errors.New("shellcache: worker has no installed generation waiting")
)

// WorkerConfig captures the dependencies of a Worker.
type WorkerConfig struct {
	Store      *Store
	CacheTag   string
	Origin     string
	Manifest   []string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Worker is the interception policy runtime: it owns one cache generation,
// walks the install/waiting/active lifecycle, and serves the per-request
// decision procedure as an http.Handler.
type Worker struct {
	store      *Store
	tag        string
	origin     *url.URL
	manifest   []string
	httpClient *http.Client
	logger     *zap.Logger

	mu         sync.Mutex
	state      WorkerState
	generation *Generation
}

// NewWorker constructs a Worker for one cache tag.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if strings.TrimSpace(cfg.Origin) == "" {
		return nil, errMissingOrigin
	}
	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("shellcache: parse origin: %w", err)
	}
	if strings.TrimSpace(cfg.CacheTag) == "" {
		return nil, errors.New("shellcache: cache tag is required")
	}

	manifest := cfg.Manifest
	if manifest == nil {
		manifest = DefaultManifest()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Worker{
		store:      cfg.Store,
		tag:        cfg.CacheTag,
		origin:     origin,
		manifest:   manifest,
		httpClient: httpClient,
		logger:     logger,
		state:      StateNew,
	}, nil
}

// State reports the worker's lifecycle state.
func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Install eagerly fetches and stores the shell manifest. Any manifest entry
// that cannot be fetched fails the install, leaving the previous generation
// live.
func (w *Worker) Install(ctx context.Context) error {
	w.mu.Lock()
	w.state = StateInstalling
	w.mu.Unlock()

	generation, err := w.store.Open(w.tag)
	if err != nil {
		return err
	}

	for _, entry := range w.manifest {
		if err := w.precache(ctx, generation, entry); err != nil {
			w.mu.Lock()
			w.state = StateNew
			w.mu.Unlock()
			return fmt.Errorf("shellcache: install %q: %w", entry, err)
		}
	}

	w.mu.Lock()
	w.generation = generation
	w.state = StateWaiting
	w.mu.Unlock()

	w.logger.Info("shell manifest installed",
		zap.String("cache_tag", w.tag),
		zap.Int("assets", len(w.manifest)))
	return nil
}

// Activate makes the installed generation live and deletes every other
// generation.
func (w *Worker) Activate(ctx context.Context) error {
	w.mu.Lock()
	if w.generation == nil {
		w.mu.Unlock()
		return ErrNotWaiting
	}
	w.state = StateActive
	w.mu.Unlock()

	if _, err := w.store.DeleteOthers(w.tag); err != nil {
		return err
	}
	w.logger.Info("worker activated", zap.String("cache_tag", w.tag))
	return nil
}

// SkipWaiting is the external control message: it activates a waiting
// worker immediately instead of holding the staged generation.
func (w *Worker) SkipWaiting(ctx context.Context) error {
	w.mu.Lock()
	state := w.state
	w.mu.Unlock()
	if state != StateWaiting {
		return ErrNotWaiting
	}
	return w.Activate(ctx)
}

func (w *Worker) precache(ctx context.Context, generation *Generation, entry string) error {
	target, err := w.resolve(entry)
	if err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	response, err := w.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close() //nolint:errcheck

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("status %d", response.StatusCode)
	}
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}
	return generation.Put(target, CachedResponse{
		Status: response.StatusCode,
		Header: storableHeader(response.Header),
		Body:   body,
	})
}

// resolve maps a manifest entry or request path onto an absolute URL;
// absolute entries (cross-origin assets) pass through unchanged.
func (w *Worker) resolve(entry string) (string, error) {
	parsed, err := url.Parse(entry)
	if err != nil {
		return "", fmt.Errorf("shellcache: parse manifest entry: %w", err)
	}
	return w.origin.ResolveReference(parsed).String(), nil
}

func storableHeader(header http.Header) http.Header {
	kept := http.Header{}
	for _, name := range []string{"Content-Type", "Cache-Control", "ETag", "Last-Modified"} {
		if value := header.Get(name); value != "" {
			kept.Set(name, value)
		}
	}
	return kept
}
