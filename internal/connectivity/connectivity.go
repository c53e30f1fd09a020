// Package connectivity provides the reachability signal the sync engine
// consumes: a boolean online state, change notifications, and a one-shot
// probe.
//
// There is no portable OS-level reachability event on a server or CLI
// host, so the monitor derives the signal by probing the remote API's
// health endpoint on an interval. Before the first probe lands the engine
// assumes it is online; only a real signal may say otherwise.
package connectivity

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// Prober performs a single reachability check. *remote.Gateway's Health
// method satisfies it via ProbeFunc.
type Prober interface {
	Probe(ctx context.Context) bool
}

// ProbeFunc adapts a health-check function into a Prober. A nil error
// means reachable.
type ProbeFunc func(ctx context.Context) error

// Probe implements Prober.
func (f ProbeFunc) Probe(ctx context.Context) bool {
	return f(ctx) == nil
}

// Config holds monitor configuration.
type Config struct {
	// Interval between probes. Zero means 30 seconds.
	Interval time.Duration

	// ProbeTimeout bounds a single probe. Zero means 5 seconds.
	ProbeTimeout time.Duration

	// Logger for monitor activity; nil means a stderr default.
	Logger *log.Logger
}

// Monitor watches remote reachability and reports transitions.
type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	logger   *log.Logger

	mu       sync.Mutex
	online   bool
	onChange []func(bool)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor over the given prober. The monitor starts in the
// assumed-online state.
func New(prober Prober, cfg Config) *Monitor {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[connectivity] ", log.LstdFlags)
	}
	return &Monitor{
		prober:   prober,
		interval: cfg.Interval,
		timeout:  cfg.ProbeTimeout,
		logger:   cfg.Logger,
		online:   true,
	}
}

// Online returns the current reachability view.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnChange registers a callback invoked on every online/offline
// transition. Callbacks run on the monitor goroutine.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Fetch performs a one-shot probe, records the result, and returns it.
func (m *Monitor) Fetch(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.record(m.prober.Probe(ctx))
}

// record stores the probed state and fires callbacks on transition. The
// first real probe confirms or contradicts the assumed-online cold start;
// confirming it is not a transition.
func (m *Monitor) record(online bool) bool {
	m.mu.Lock()
	changed := online != m.online
	m.online = online
	callbacks := m.onChange
	m.mu.Unlock()

	if changed {
		m.logger.Printf("connectivity changed: online=%v", online)
		for _, fn := range callbacks {
			fn(online)
		}
	}
	return online
}

// Start begins periodic probing. Stop shuts it down.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		// Probe immediately; the assumed-online state should not outlive
		// the first chance to verify it.
		m.Fetch(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Fetch(ctx)
			}
		}
	}()
}

// Stop halts periodic probing and waits for the monitor goroutine.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
