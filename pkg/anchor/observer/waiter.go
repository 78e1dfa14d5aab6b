package observer

import (
	"context"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/tourforge/anchor/internal/config"
	"github.com/tourforge/anchor/pkg/anchor/finder"
	"github.com/tourforge/anchor/pkg/anchor/selector"
	"github.com/tourforge/anchor/pkg/anchor/session"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// installObserverScript installs one MutationObserver watching the document
// root for added or changed subtrees, parking any hit on a per-registration
// slot under window.__anchorObs. The initial check covers elements that
// appear between the static attempt and observer installation.
const installObserverScript = `(sel, id, mark) => {
	try {
		if (typeof document === 'undefined' || typeof MutationObserver === 'undefined') {
			return false;
		}
		window.__anchorObs = window.__anchorObs || {};
		const state = { hit: null, mo: null };
		const check = () => {
			try {
				if (state.hit) return;
				const el = document.querySelector(sel);
				if (!el) return;
				if (!el.getAttribute('data-anchor-id')) {
					el.setAttribute('data-anchor-id', mark);
				}
				state.hit = {
					anchorId: el.getAttribute('data-anchor-id'),
					tag: (el.tagName || '').toLowerCase()
				};
				try { state.mo.disconnect(); } catch (e) {}
			} catch (e) {}
		};
		state.mo = new MutationObserver(check);
		state.mo.observe(document.documentElement || document, {
			childList: true,
			subtree: true,
			attributes: true
		});
		window.__anchorObs[id] = state;
		check();
		return true;
	} catch (e) {
		return false;
	}
}`

// checkObserverScript reads a registration's hit slot.
const checkObserverScript = `(id) => {
	try {
		const state = window.__anchorObs && window.__anchorObs[id];
		return (state && state.hit) ? state.hit : null;
	} catch (e) {
		return null;
	}
}`

// disconnectObserverScript detaches a registration's observer and frees its
// slot. Each step tolerates an already-gone page.
const disconnectObserverScript = `(id) => {
	try {
		const state = window.__anchorObs && window.__anchorObs[id];
		if (state) {
			try { state.mo.disconnect(); } catch (e) {}
			delete window.__anchorObs[id];
		}
		return true;
	} catch (e) {
		return false;
	}
}`

// Callback receives the handle of an element an observer matched.
type Callback func(finder.Handle)

// Options tunes a caller-managed observer registration.
type Options struct {
	// Timeout tears the registration down automatically when it elapses.
	// Zero means the registration lives until its cleanup is called.
	Timeout time.Duration
	// PollInterval overrides the configured poll cadence.
	PollInterval time.Duration
}

// Waiter performs bounded waits for elements that are not yet in the DOM.
type Waiter struct {
	session   session.Session
	detector  *session.Detector
	finder    *finder.Finder
	registry  *Registry
	validator *selector.Validator
	logger    *zap.Logger
	cfg       config.ObserverConfig

	// defaultTimeout bounds waits whose caller supplied an invalid timeout.
	defaultTimeout time.Duration
}

// NewWaiter wires a Waiter over one session.
func NewWaiter(
	s session.Session,
	detector *session.Detector,
	f *finder.Finder,
	registry *Registry,
	validator *selector.Validator,
	cfg config.ObserverConfig,
	defaultTimeout time.Duration,
	logger *zap.Logger,
) *Waiter {
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Second
	}
	return &Waiter{
		session:        s,
		detector:       detector,
		finder:         f,
		registry:       registry,
		validator:      validator,
		logger:         logger.Named("waiter"),
		cfg:            cfg,
		defaultTimeout: defaultTimeout,
	}
}

// normalizeTimeout replaces non-positive timeouts with the bounded default,
// logging a warning. A wait can never be unbounded.
func (w *Waiter) normalizeTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		w.logger.Warn("Invalid wait timeout; using bounded default.",
			zap.Duration("supplied", timeout),
			zap.Duration("default", w.defaultTimeout))
		return w.defaultTimeout
	}
	return timeout
}

// register installs the page-side observer and records the registration.
// The returned registration is exclusively owned by the caller.
func (w *Waiter) register(ctx context.Context, sel string, cancel context.CancelFunc, timer *time.Timer) *Registration {
	reg := &Registration{
		id:        "obs-" + uuid.New().String()[:12],
		selector:  sel,
		createdAt: time.Now(),
		session:   w.session,
		logger:    w.logger,
		cancel:    cancel,
		timer:     timer,
		registry:  w.registry,
	}

	var installed bool
	raw, err := w.session.ExecuteScript(ctx, installObserverScript,
		[]interface{}{sel, reg.id, "anchor-" + uuid.New().String()[:8]})
	if err == nil {
		_ = jsonAPI.Unmarshal(raw, &installed)
	}
	reg.observed = installed
	if !installed {
		w.logger.Warn("Mutation observer installation failed; polls will re-query the document directly.",
			zap.String("selector", sel), zap.Error(err))
	}

	w.registry.add(reg)
	return reg
}

// checkHit polls the registration's page-side hit slot. When the observer
// never installed there is no slot to read, so the poll degrades to a
// direct query for the watched selector.
func (w *Waiter) checkHit(ctx context.Context, reg *Registration) (finder.Handle, bool) {
	if !reg.observed {
		res, err := w.finder.Query(ctx, reg.selector)
		if err != nil || !res.Found {
			return finder.Handle{}, false
		}
		return res.Handle(), true
	}

	raw, err := w.session.ExecuteScript(ctx, checkObserverScript, []interface{}{reg.id})
	if err != nil {
		return finder.Handle{}, false
	}
	var h *finder.Handle
	if err := jsonAPI.Unmarshal(raw, &h); err != nil || h == nil {
		return finder.Handle{}, false
	}
	return *h, h.Valid()
}

// WaitForElement resolves sel immediately if possible, otherwise observes
// the DOM until the element appears or the timeout elapses. The second
// return reports whether an element was found. Resources are torn down
// synchronously before return on every path.
func (w *Waiter) WaitForElement(ctx context.Context, sel string, timeout time.Duration) (finder.Handle, bool) {
	if !w.validator.IsValid(sel) {
		w.logger.Warn("Refusing to wait on an invalid selector.", zap.String("selector", sel))
		return finder.Handle{}, false
	}
	timeout = w.normalizeTimeout(timeout)

	if !w.detector.IsBrowserLike(ctx) {
		w.logger.Warn("No DOM capability; wait resolves as not found.", zap.String("selector", sel))
		return finder.Handle{}, false
	}

	// Immediate attempt first; most anchors already exist.
	if res, err := w.finder.Query(ctx, sel); err == nil && res.Found {
		return res.Handle(), true
	}

	pollCtx, cancel := context.WithCancel(ctx)
	timer := time.NewTimer(timeout)
	reg := w.register(pollCtx, sel, cancel, timer)
	defer reg.Cleanup()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			return finder.Handle{}, false
		case <-timer.C:
			// Timer wins: tear down the observer before reporting.
			reg.Cleanup()
			return finder.Handle{}, false
		case <-ticker.C:
			if !w.registry.allowEval() {
				continue
			}
			if h, ok := w.checkHit(pollCtx, reg); ok {
				// Observation wins: tear down the timer before the
				// caller's continuation runs.
				reg.Cleanup()
				return h, true
			}
		}
	}
}

// CreateElementObserver registers a caller-managed observation of sel,
// invoking callback with the handle when the element first appears. It
// always returns a valid, idempotent cleanup closure, even when the inputs
// are unusable (in which case it warns and the closure is a no-op).
func (w *Waiter) CreateElementObserver(ctx context.Context, sel string, callback Callback, opts Options) func() {
	if !w.validator.IsValid(sel) || callback == nil {
		w.logger.Warn("Observer not created: invalid selector or nil callback.",
			zap.String("selector", sel))
		return func() {}
	}
	if !w.detector.IsBrowserLike(ctx) {
		w.logger.Warn("Observer not created: no DOM capability.", zap.String("selector", sel))
		return func() {}
	}

	poll := opts.PollInterval
	if poll <= 0 {
		poll = w.cfg.PollInterval
	}

	// The registration outlives the construction call; its lifetime is
	// governed by the cleanup closure and the optional timeout.
	loopCtx, cancel := context.WithCancel(context.Background())
	var timer *time.Timer
	if opts.Timeout > 0 {
		timer = time.NewTimer(opts.Timeout)
	}
	reg := w.register(ctx, sel, cancel, timer)

	go func() {
		ticker := time.NewTicker(poll)
		defer ticker.Stop()

		var deadline <-chan time.Time
		if timer != nil {
			deadline = timer.C
		}
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-deadline:
				reg.Cleanup()
				return
			case <-ticker.C:
				if !w.registry.allowEval() {
					continue
				}
				if h, ok := w.checkHit(loopCtx, reg); ok {
					callback(h)
					// One-shot delivery; the registration stays live
					// until the caller's cleanup runs.
					return
				}
			}
		}
	}()

	return reg.Cleanup
}
