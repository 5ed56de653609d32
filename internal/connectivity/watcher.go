// Package connectivity observes the reachability of the remote API origin
// and publishes the connectivity-restored signal that gates queue replay.
package connectivity

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultProbeInterval = 500 * time.Millisecond

// Probe reports whether the remote origin is currently reachable.
type Probe func(ctx context.Context) bool

// OriginProbe returns a Probe that issues a HEAD request against the API
// origin. Any response counts as reachable; only a transport failure does
// not.
func OriginProbe(baseURL string, client *http.Client) Probe {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	return func(ctx context.Context) bool {
		request, err := http.NewRequestWithContext(ctx, http.MethodHead, baseURL, nil)
		if err != nil {
			return false
		}
		response, err := client.Do(request)
		if err != nil {
			return false
		}
		io.Copy(io.Discard, response.Body) //nolint:errcheck
		response.Body.Close()              //nolint:errcheck
		return true
	}
}

// Config captures the dependencies of a Watcher.
type Config struct {
	Probe    Probe
	Interval time.Duration
	Logger   *zap.Logger
}

// Watcher polls the probe and emits a signal on every offline-to-online
// transition. Subscribers with a pending, unconsumed signal are not sent
// another; they never block the watcher.
type Watcher struct {
	probe    Probe
	interval time.Duration
	logger   *zap.Logger

	mu          sync.Mutex
	subscribers map[int]chan struct{}
	nextID      int
	online      bool
}

// NewWatcher constructs a Watcher. The probe is required; the watcher
// assumes the origin is reachable until the first probe says otherwise.
func NewWatcher(cfg Config) *Watcher {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		probe:       cfg.Probe,
		interval:    interval,
		logger:      logger,
		subscribers: make(map[int]chan struct{}),
		online:      true,
	}
}

// Online reports the last observed reachability.
func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Subscribe registers for connectivity-restored signals. The returned
// cancel function must be called when the subscriber is torn down.
func (w *Watcher) Subscribe() (<-chan struct{}, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID
	w.nextID++
	signal := make(chan struct{}, 1)
	w.subscribers[id] = signal

	cancel := func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.subscribers, id)
	}
	return signal, cancel
}

// Run polls until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.observe(w.probe(ctx))
		}
	}
}

func (w *Watcher) observe(online bool) {
	w.mu.Lock()
	wasOnline := w.online
	w.online = online
	var signals []chan struct{}
	if online && !wasOnline {
		for _, signal := range w.subscribers {
			signals = append(signals, signal)
		}
	}
	w.mu.Unlock()

	if online == wasOnline {
		return
	}

	if online {
		w.logger.Info("connectivity restored")
		for _, signal := range signals {
			select {
			case signal <- struct{}{}:
			default:
			}
		}
		return
	}
	w.logger.Warn("connectivity lost")
}
