package session

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Timer flavor values reported by the environment probe. The flavor names the
// page-side scheduler available to mutation observers and timeouts.
const (
	TimerBrowser = "browser"
	TimerNode    = "node"
	TimerNone    = "none"
)

// Capabilities describes what the execution context on the other side of the
// session can do. Absence of a capability is always reported as a
// conservative false, never as an error.
type Capabilities struct {
	HasDOM      bool   `json:"dom"`
	Headless    bool   `json:"headless"`
	TimerFlavor string `json:"timer"`
}

// probeScript inspects the page's globals without ever throwing. Each check
// is individually guarded so a hostile or partial environment degrades to
// "no capability" instead of an evaluation error.
const probeScript = `(() => {
	const caps = { dom: false, headless: false, timer: 'none' };
	try {
		caps.dom = typeof document !== 'undefined' && typeof document.querySelector === 'function';
	} catch (e) {}
	try {
		const nav = typeof navigator !== 'undefined' ? navigator : null;
		caps.headless = !!(nav && (nav.webdriver === true || /\bHeadless/i.test(nav.userAgent || '')));
	} catch (e) {}
	try {
		if (typeof window !== 'undefined' && typeof window.setTimeout === 'function') {
			caps.timer = 'browser';
		} else if (typeof process !== 'undefined' && typeof setTimeout === 'function') {
			caps.timer = 'node';
		}
	} catch (e) {}
	return caps;
})()`

// Detector probes a session's environment once and caches the verdict for
// the session's lifetime. All DOM-touching components consult it first.
type Detector struct {
	session Session
	logger  *zap.Logger

	once sync.Once
	caps Capabilities
}

// NewDetector creates a Detector for the given session.
func NewDetector(s Session, logger *zap.Logger) *Detector {
	return &Detector{
		session: s,
		logger:  logger.Named("environment"),
	}
}

// Capabilities returns the cached probe result, probing on first use.
// It never returns an error: a failed probe yields zero capabilities.
func (d *Detector) Capabilities(ctx context.Context) Capabilities {
	d.once.Do(func() {
		d.caps = Capabilities{TimerFlavor: TimerNone}
		if d.session == nil {
			d.logger.Warn("Environment probe skipped: no session attached.")
			return
		}
		var caps Capabilities
		if err := Eval(ctx, d.session, probeScript, &caps); err != nil {
			d.logger.Warn("Environment probe failed; assuming no DOM capability.", zap.Error(err))
			return
		}
		if caps.TimerFlavor == "" {
			caps.TimerFlavor = TimerNone
		}
		d.caps = caps
	})
	return d.caps
}

// IsBrowserLike reports whether the context has a queryable DOM.
func (d *Detector) IsBrowserLike(ctx context.Context) bool {
	return d.Capabilities(ctx).HasDOM
}

// IsHeadlessLike reports whether the context advertises automation.
func (d *Detector) IsHeadlessLike(ctx context.Context) bool {
	return d.Capabilities(ctx).Headless
}

// TimerFlavor reports which scheduler the page exposes.
func (d *Detector) TimerFlavor(ctx context.Context) string {
	return d.Capabilities(ctx).TimerFlavor
}
