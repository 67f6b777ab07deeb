// Package connwatch tracks whether Docket's external dependencies (the
// Backboard API, the MQTT broker, the IMAP server) are reachable, and
// feeds the aggregated answer to the health endpoint.
//
// httpkit's transport retry already absorbs sub-second dial hiccups;
// this package is for the longer outages: provider maintenance windows,
// broker restarts, a partitioned network. Each watcher probes one
// service, first on an exponential startup schedule (2s, 4s, 8s, ...
// capped at 60s), then on a steady background cadence with transitions
// logged.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ProbeFunc tests one service. A nil return means reachable.
type ProbeFunc func(ctx context.Context) error

// Readiness states reported per watched service.
const (
	StateReady = "ready"
	StateDown  = "down"
)

// BackoffConfig shapes the startup probe schedule and the background
// poll cadence. Zero fields take the defaults.
type BackoffConfig struct {
	// InitialDelay separates the first failed probe from the second.
	InitialDelay time.Duration

	// MaxDelay caps the gap between startup probes as it grows.
	MaxDelay time.Duration

	// Multiplier is the growth factor applied after every failed
	// startup probe.
	Multiplier float64

	// MaxRetries bounds the startup phase; after this many failed
	// probes the watcher settles into background polling while down.
	MaxRetries int

	// PollInterval is the background cadence once startup is over.
	PollInterval time.Duration

	// ProbeTimeout bounds one probe call.
	ProbeTimeout time.Duration
}

// DefaultBackoffConfig is the schedule production watchers run with:
// startup probes at 2s, 4s, 8s, 16s, 32s, then 60s, ten attempts in
// all, followed by one background poll per minute.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   10,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

func (b BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier <= 0 {
		b.Multiplier = d.Multiplier
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = d.MaxRetries
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

// ServiceStatus is one watched service's health, in the shape the
// health endpoint serializes.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher probes a single service from its own goroutine.
type Watcher struct {
	name  string
	probe ProbeFunc
	cfg   BackoffConfig
	log   *slog.Logger

	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// IsReady reports whether the last probe of the service succeeded.
func (w *Watcher) IsReady() bool {
	return w.ready.Load()
}

// Status snapshots the watcher's current view of the service.
func (w *Watcher) Status() ServiceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := ServiceStatus{
		Name:      w.name,
		Ready:     w.ready.Load(),
		LastCheck: w.lastCheck,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop ends the watcher's goroutine and waits for it to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	if w.startup(ctx) {
		w.pollLoop(ctx)
	}
}

// startup probes on the growing schedule until the service answers or
// the attempt budget runs out. Either way the watcher moves on to
// background polling; false means ctx ended first.
func (w *Watcher) startup(ctx context.Context) bool {
	delay := w.cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		err := w.runProbe(ctx)
		if err == nil {
			w.ready.Store(true)
			w.log.Info("service connected", "service", w.name, "attempts", attempt)
			return true
		}
		if attempt >= w.cfg.MaxRetries {
			w.log.Info("service unreachable at startup, will keep polling",
				"service", w.name, "attempts", attempt, "error", err)
			return true
		}
		w.log.Debug("startup probe failed",
			"service", w.name, "attempt", attempt, "retry_in", delay.String(), "error", err)
		if !wait(ctx, delay) {
			return false
		}
		delay = min(time.Duration(float64(delay)*w.cfg.Multiplier), w.cfg.MaxDelay)
	}
}

// pollLoop rechecks the service at the background cadence and logs
// state transitions.
func (w *Watcher) pollLoop(ctx context.Context) {
	tick := time.NewTicker(w.cfg.PollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		err := w.runProbe(ctx)
		wasReady := w.ready.Load()
		switch {
		case err == nil && !wasReady:
			w.ready.Store(true)
			w.log.Info("service recovered", "service", w.name)
		case err != nil && wasReady:
			w.ready.Store(false)
			w.log.Warn("service became unreachable", "service", w.name, "error", err)
		case err != nil:
			w.log.Debug("service still unreachable", "service", w.name, "error", err)
		}
	}
}

// runProbe executes one probe under the configured timeout and records
// the outcome for Status.
func (w *Watcher) runProbe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.cfg.ProbeTimeout)
	err := w.probe(probeCtx)
	cancel()

	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()
	return err
}

// wait sleeps for d unless ctx ends first.
func wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Manager owns the watchers for all configured dependencies.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	log      *slog.Logger
}

// NewManager creates an empty manager logging through logger.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		watchers: make(map[string]*Watcher),
		log:      logger.With("component", "connwatch"),
	}
}

// Watch starts a watcher for one service and registers it under name.
// The goroutine runs until ctx is cancelled or Stop is called. An empty
// name or nil probe is a programming error and panics.
func (m *Manager) Watch(ctx context.Context, name string, probe ProbeFunc, backoff BackoffConfig) *Watcher {
	if name == "" {
		panic("connwatch: watcher name must not be empty")
	}
	if probe == nil {
		panic("connwatch: probe must not be nil")
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		name:   name,
		probe:  probe,
		cfg:    backoff.withDefaults(),
		log:    m.log,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run(watchCtx)

	m.mu.Lock()
	m.watchers[name] = w
	m.mu.Unlock()
	return w
}

// Status reports the detailed state of every watched service.
func (m *Manager) Status() map[string]ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ServiceStatus, len(m.watchers))
	for name, w := range m.watchers {
		out[name] = w.Status()
	}
	return out
}

// Readiness reduces each watched service to "ready" or "down", the
// shape /api/health embeds.
func (m *Manager) Readiness() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.watchers))
	for name, w := range m.watchers {
		if w.IsReady() {
			out[name] = StateReady
		} else {
			out[name] = StateDown
		}
	}
	return out
}

// Stop shuts every watcher down and waits for their goroutines.
func (m *Manager) Stop() {
	m.mu.RLock()
	all := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		all = append(all, w)
	}
	m.mu.RUnlock()

	for _, w := range all {
		w.Stop()
	}
}
