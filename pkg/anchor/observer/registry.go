// Package observer implements the bounded waiter and the observer lifecycle
// registry. Each wait pairs a page-side MutationObserver with a Go-side
// deadline; the registration owns both and guarantees exactly-once,
// error-tolerant teardown. The registry keeps a non-owning index over live
// registrations for telemetry and mass cleanup.
package observer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tourforge/anchor/internal/config"
	"github.com/tourforge/anchor/pkg/anchor/session"
)

// RegistryStats is an advisory snapshot of the live registrations.
type RegistryStats struct {
	ActiveObservers    int           `json:"activeObservers"`
	OldestObserverAge  time.Duration `json:"oldestObserverAge"`
	AverageObserverAge time.Duration `json:"averageObserverAge"`
	MemoryLeakRisk     bool          `json:"memoryLeakRisk"`
}

// Registration is one live wait: a page-side observer, an optional timer,
// and a one-shot teardown. It is owned by the function that registered it
// and destroyed only through Cleanup; the registry's index is non-owning.
type Registration struct {
	id        string
	selector  string
	createdAt time.Time

	// observed reports whether the page-side observer installed; when false
	// the poll loop re-queries the document directly instead of reading the
	// hit slot.
	observed bool

	session session.Session
	logger  *zap.Logger

	// cancel stops the polling loop; timer is the optional deadline.
	cancel context.CancelFunc
	timer  *time.Timer

	registry *Registry
	once     sync.Once
}

// ID returns the registration's identity.
func (r *Registration) ID() string { return r.id }

// Age reports how long the registration has been live.
func (r *Registration) Age(now time.Time) time.Duration {
	return now.Sub(r.createdAt)
}

// Cleanup tears the registration down: deadline timer, polling loop,
// page-side observer, registry entry. Idempotent and safe to call
// concurrently; a failure in any step never prevents the others.
func (r *Registration) Cleanup() {
	r.once.Do(func() {
		if r.timer != nil {
			func() {
				defer func() { _ = recover() }()
				r.timer.Stop()
			}()
		}
		if r.cancel != nil {
			func() {
				defer func() { _ = recover() }()
				r.cancel()
			}()
		}
		r.disconnectPageObserver()
		if r.registry != nil {
			r.registry.remove(r.id)
		}
	})
}

// disconnectPageObserver detaches the MutationObserver in the page. Errors
// are logged and swallowed; the page may already be gone.
func (r *Registration) disconnectPageObserver() {
	if r.session == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := r.session.ExecuteScript(ctx, disconnectObserverScript, []interface{}{r.id}); err != nil {
		r.logger.Debug("Page observer disconnect failed; continuing teardown.",
			zap.String("observer_id", r.id), zap.Error(err))
	}
}

// Registry indexes live registrations for telemetry, staleness sweeps and
// hard resets. It never owns a registration's lifecycle.
type Registry struct {
	logger  *zap.Logger
	cfg     config.ObserverConfig
	limiter *rate.Limiter

	mu   sync.Mutex
	regs map[string]*Registration
}

// NewRegistry creates a Registry with the given thresholds. The embedded
// rate limiter bounds page script evaluations across all registrations.
func NewRegistry(cfg config.ObserverConfig, logger *zap.Logger) *Registry {
	burst := cfg.LeakThreshold
	if burst < 1 {
		burst = 1
	}
	return &Registry{
		logger:  logger.Named("observer_registry"),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.EvalRate), burst),
		regs:    make(map[string]*Registration),
	}
}

// add records a registration in the index.
func (g *Registry) add(r *Registration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.regs[r.id] = r
}

// remove drops a registration from the index. Called exactly once per
// registration, from its Cleanup.
func (g *Registry) remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.regs, id)
}

// allowEval reports whether a poll may evaluate a page script right now.
func (g *Registry) allowEval() bool {
	return g.limiter.Allow()
}

// Stats computes the advisory telemetry snapshot.
func (g *Registry) Stats() RegistryStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	stats := RegistryStats{ActiveObservers: len(g.regs)}
	if len(g.regs) == 0 {
		return stats
	}

	now := time.Now()
	var total time.Duration
	for _, r := range g.regs {
		age := r.Age(now)
		total += age
		if age > stats.OldestObserverAge {
			stats.OldestObserverAge = age
		}
	}
	stats.AverageObserverAge = total / time.Duration(len(g.regs))
	stats.MemoryLeakRisk = len(g.regs) > g.cfg.LeakThreshold
	return stats
}

// EmergencyCleanup disconnects only registrations older than the staleness
// threshold. Fresh registrations are left alone, so calling this never
// disturbs genuinely in-flight waits. Returns how many were torn down.
func (g *Registry) EmergencyCleanup() int {
	now := time.Now()

	g.mu.Lock()
	var stale []*Registration
	for _, r := range g.regs {
		if r.Age(now) > g.cfg.StalenessThreshold {
			stale = append(stale, r)
		}
	}
	g.mu.Unlock()

	for _, r := range stale {
		g.logger.Warn("Emergency cleanup of stale observer.",
			zap.String("observer_id", r.id),
			zap.String("selector", r.selector),
			zap.Duration("age", r.Age(now)))
		r.Cleanup()
	}
	return len(stale)
}

// ForceCleanupAll unconditionally disconnects every registration and clears
// the index. For hard resets such as test teardown or page navigation.
func (g *Registry) ForceCleanupAll() int {
	g.mu.Lock()
	all := make([]*Registration, 0, len(g.regs))
	for _, r := range g.regs {
		all = append(all, r)
	}
	g.mu.Unlock()

	for _, r := range all {
		r.Cleanup()
	}
	if len(all) > 0 {
		g.logger.Info("Force-cleaned all observers.", zap.Int("count", len(all)))
	}
	return len(all)
}
