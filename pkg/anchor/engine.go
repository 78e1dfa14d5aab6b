// Package anchor is the engine root: it wires the session, finder, waiter,
// validators, visibility evaluator and telemetry into one resolution
// facade. Resolution failures are data, not errors; callers always receive
// a fully populated result describing what was tried and why it failed.
package anchor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tourforge/anchor/internal/config"
	"github.com/tourforge/anchor/pkg/anchor/finder"
	"github.com/tourforge/anchor/pkg/anchor/observer"
	"github.com/tourforge/anchor/pkg/anchor/selector"
	"github.com/tourforge/anchor/pkg/anchor/session"
	"github.com/tourforge/anchor/pkg/anchor/telemetry"
	"github.com/tourforge/anchor/pkg/anchor/validate"
	"github.com/tourforge/anchor/pkg/anchor/visibility"
)

// Validation methods recorded on results.
const (
	MethodCSS        = "css"        // native querySelector hit
	MethodJavaScript = "javascript" // script-based text/role matching
	MethodHybrid     = "hybrid"     // static miss resolved by observation
)

// Performance describes what one resolution cost. Always populated; zeroed
// when the input was rejected before any query ran.
type Performance struct {
	SearchTime         time.Duration `json:"searchTime"`
	FallbacksAttempted int           `json:"fallbacksAttempted"`
}

// ErrorDetails carries the taxonomy code and remediation for a failure.
type ErrorDetails struct {
	Code        string   `json:"code"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// FallbackStrategies records synthesized candidates for diagnostics.
type FallbackStrategies struct {
	Attempted       []string `json:"attempted"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// ElementValidationResult is the uniform outcome of a resolution attempt.
type ElementValidationResult struct {
	Selector         string              `json:"selector"`
	Found            bool                `json:"found"`
	Element          *finder.Handle      `json:"element,omitempty"`
	FallbackUsed     bool                `json:"fallbackUsed"`
	ValidationMethod string              `json:"validationMethod,omitempty"`
	Performance      Performance         `json:"performance"`
	Error            string              `json:"error,omitempty"`
	ErrorDetails     *ErrorDetails       `json:"errorDetails,omitempty"`
	Fallbacks        *FallbackStrategies `json:"fallbackStrategies,omitempty"`
}

// Engine resolves selectors against one session.
type Engine struct {
	session  session.Session
	detector *session.Detector
	finder   *finder.Finder
	selval   *selector.Validator
	registry *observer.Registry
	waiter   *observer.Waiter
	vis      *visibility.Evaluator
	checker  *validate.Checker
	monitor  *telemetry.Monitor
	cfg      config.Interface
	logger   *zap.Logger
}

// NewEngine wires an Engine over one session. The relational-selector probe
// runs lazily on first use and is cached for the engine's lifetime.
func NewEngine(s session.Session, cfg config.Interface, logger *zap.Logger) *Engine {
	log := logger.Named("engine")
	detector := session.NewDetector(s, log)
	f := finder.New(s, detector, log)

	selval := selector.NewValidator(func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return f.SupportsRelational(ctx)
	})

	registry := observer.NewRegistry(cfg.Observer(), log)
	waiter := observer.NewWaiter(s, detector, f, registry, selval,
		cfg.Observer(), cfg.Resolver().DefaultTimeout, log)
	vis := visibility.New(s, detector, log)
	checker := validate.NewChecker(s, waiter, selval, vis, log)
	monitor := telemetry.NewMonitor(cfg.Telemetry(), log)

	return &Engine{
		session:  s,
		detector: detector,
		finder:   f,
		selval:   selval,
		registry: registry,
		waiter:   waiter,
		vis:      vis,
		checker:  checker,
		monitor:  monitor,
		cfg:      cfg,
		logger:   log,
	}
}

// rejected builds the zero-performance result for inputs refused before any
// query ran.
func rejected(sel, msg, code string) *ElementValidationResult {
	return &ElementValidationResult{
		Selector: sel,
		Error:    msg,
		ErrorDetails: &ErrorDetails{
			Code:        code,
			Suggestions: selector.Suggestions(code, sel),
		},
	}
}

// FindElement resolves the first matching candidate from selectors, in
// order. Resolution strategy per candidate: native query first, script-based
// text matching for text pseudo-selectors; when every candidate misses
// statically and a timeout remains, the first valid candidate is observed
// until it appears or the deadline elapses. The only Go error is context
// cancellation; everything else is reported inside the result.
func (e *Engine) FindElement(ctx context.Context, selectors []string, timeout time.Duration) (*ElementValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	primary := ""
	if len(selectors) > 0 {
		primary = selectors[0]
	}

	candidates, err := selector.Normalize(selectors)
	if err != nil {
		e.logger.Warn("Resolution rejected before querying.",
			zap.Strings("selectors", selectors), zap.Error(err))
		return rejected(primary, err.Error(), selector.CodeSelectorInvalid), nil
	}

	if !e.detector.IsBrowserLike(ctx) {
		return rejected(candidates[0], "document is not in a queryable state", selector.CodeDOMNotReady), nil
	}

	start := time.Now()
	res := &ElementValidationResult{Selector: candidates[0]}
	finish := func() (*ElementValidationResult, error) {
		res.Performance.SearchTime = time.Since(start)
		e.monitor.RecordSearch(res.Selector, res.Performance.SearchTime, res.Found, res.FallbackUsed)
		return res, nil
	}

	var firstValid string
	for i, sel := range candidates {
		if tag, text, ok := selector.TextPseudoArgument(sel); ok {
			res.Performance.FallbacksAttempted++
			if handles := e.finder.ByText(ctx, tag, text, false); len(handles) > 0 {
				res.Found = true
				res.Element = &handles[0]
				res.Selector = sel
				res.FallbackUsed = i > 0
				res.ValidationMethod = MethodJavaScript
				return finish()
			}
			continue
		}

		if !e.selval.IsValid(sel) {
			e.logger.Warn("Skipping unsupported candidate.", zap.String("selector", sel))
			continue
		}
		if firstValid == "" {
			firstValid = sel
		}

		res.Performance.FallbacksAttempted++
		q, qerr := e.finder.Query(ctx, sel)
		if qerr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Warn("Candidate query failed; continuing.",
				zap.String("selector", sel), zap.Error(qerr))
			continue
		}
		if q.Error != "" {
			e.logger.Warn("Query engine rejected candidate; continuing.",
				zap.String("selector", sel), zap.String("engine_error", q.Error))
			continue
		}
		if q.Found {
			h := q.Handle()
			res.Found = true
			res.Element = &h
			res.Selector = sel
			res.FallbackUsed = i > 0
			res.ValidationMethod = MethodCSS
			return finish()
		}
	}

	// Static pass exhausted. Observe the first valid candidate if the caller
	// gave us time to wait.
	if firstValid != "" && timeout > 0 {
		if h, ok := e.waiter.WaitForElement(ctx, firstValid, timeout); ok {
			res.Found = true
			res.Element = &h
			res.Selector = firstValid
			res.ValidationMethod = MethodHybrid
			return finish()
		}
	}

	res.Selector = candidates[0]
	if res.Performance.FallbacksAttempted == 0 {
		// Every candidate was skipped as unsupported syntax; nothing was
		// ever queried, so this is an input defect, not a missing element.
		res.Error = "no candidate selector is supported by the query engine"
		res.ErrorDetails = &ErrorDetails{
			Code:        selector.CodeSelectorInvalid,
			Suggestions: selector.Suggestions(selector.CodeSelectorInvalid, candidates[0]),
		}
		return finish()
	}
	res.Error = "no candidate selector resolved to an element"
	res.ErrorDetails = &ErrorDetails{
		Code:        selector.CodeSelectorNotFound,
		Suggestions: selector.Suggestions(selector.CodeSelectorNotFound, candidates[0]),
	}
	return finish()
}

// ExecuteWithFallbackStrategies resolves sel and, when it fails, retries
// with synthesized fallback candidates capped by the configured bound. The
// result's FallbackStrategies records what was synthesized either way.
func (e *Engine) ExecuteWithFallbackStrategies(ctx context.Context, sel string, timeout time.Duration) (*ElementValidationResult, error) {
	generated := selector.GenerateFallbackSelectors(sel)
	if max := e.cfg.Resolver().MaxFallbacks; max >= 0 && len(generated) > max {
		generated = generated[:max]
	}

	candidates := append([]string{sel}, generated...)
	res, err := e.FindElement(ctx, candidates, timeout)
	if err != nil {
		return nil, err
	}

	res.Fallbacks = &FallbackStrategies{Attempted: generated}
	if !res.Found {
		res.Fallbacks.Recommendations = selector.Suggestions(selector.CodeSelectorNotFound, sel)
	}
	return res, nil
}

// WaitForElement exposes the bounded wait directly.
func (e *Engine) WaitForElement(ctx context.Context, sel string, timeout time.Duration) (finder.Handle, bool) {
	return e.waiter.WaitForElement(ctx, sel, timeout)
}

// CreateElementObserver registers a caller-managed observation; the returned
// closure is the caller's cleanup obligation.
func (e *Engine) CreateElementObserver(ctx context.Context, sel string, cb observer.Callback, opts observer.Options) func() {
	return e.waiter.CreateElementObserver(ctx, sel, cb, opts)
}

// IsVisible reports effective visibility for a resolved element.
func (e *Engine) IsVisible(ctx context.Context, h finder.Handle) bool {
	return e.vis.IsVisible(ctx, h)
}

// IsVisibleInShadowDOM is the shadow-aware visibility check.
func (e *Engine) IsVisibleInShadowDOM(ctx context.Context, h finder.Handle) bool {
	return e.vis.IsVisibleInShadowDOM(ctx, h)
}

// Position returns viewport-relative geometry for a resolved element.
func (e *Engine) Position(ctx context.Context, h finder.Handle) *visibility.Position {
	return e.vis.Position(ctx, h)
}

// PositionInShadowDOM adds shadow containment metadata to the geometry.
func (e *Engine) PositionInShadowDOM(ctx context.Context, h finder.Handle) *visibility.Position {
	return e.vis.PositionInShadowDOM(ctx, h)
}

// ValidateElement runs the deep accessibility diagnostic for one selector.
func (e *Engine) ValidateElement(ctx context.Context, sel string, timeout time.Duration) validate.ComprehensiveValidation {
	return e.checker.ValidateElement(ctx, sel, timeout)
}

// ValidateTourSteps batch-validates tour step descriptors.
func (e *Engine) ValidateTourSteps(ctx context.Context, steps []validate.Step) validate.TourValidation {
	return e.checker.ValidateTourSteps(ctx, steps, e.cfg.Resolver())
}

// VerifyObserverCleanup snapshots the live observer registrations.
func (e *Engine) VerifyObserverCleanup() observer.RegistryStats {
	return e.registry.Stats()
}

// PerformEmergencyCleanup tears down registrations older than the staleness
// threshold, returning how many were removed.
func (e *Engine) PerformEmergencyCleanup() int {
	return e.registry.EmergencyCleanup()
}

// ForceCleanupAllObservers unconditionally tears down every registration.
func (e *Engine) ForceCleanupAllObservers() int {
	return e.registry.ForceCleanupAll()
}

// RecordSearch feeds an externally timed search into the monitor.
func (e *Engine) RecordSearch(sel string, d time.Duration, found, usedFallback bool) {
	e.monitor.RecordSearch(sel, d, found, usedFallback)
}

// GetValidationReport composes search telemetry and registry state into the
// health report.
func (e *Engine) GetValidationReport() telemetry.Report {
	return e.monitor.Report(e.registry.Stats(), e.cfg.Observer().StalenessThreshold)
}
