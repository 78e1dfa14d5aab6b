// Package visibility answers whether a resolved element is practically
// visible and where it sits relative to the viewport. All platform
// introspection happens page-side behind guards, so an element detached
// mid-check degrades to "not visible" or a nil position, never an error.
package visibility

import (
	"context"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/tourforge/anchor/pkg/anchor/finder"
	"github.com/tourforge/anchor/pkg/anchor/session"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Viewport describes the element's intersection with the viewport.
// VisibleArea is always clamped to [0,1]; zero when there is no overlap.
type Viewport struct {
	IsVisible   bool    `json:"isVisible"`
	VisibleArea float64 `json:"visibleArea"`
}

// Scroll carries the page's current scroll offsets.
type Scroll struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ShadowInfo reports shadow-DOM containment for the shadow-aware variants.
type ShadowInfo struct {
	IsInShadowDOM bool `json:"isInShadowDOM"`
}

// Position is the viewport-relative geometry of an element.
type Position struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Bottom float64 `json:"bottom"`
	Right  float64 `json:"right"`

	Viewport Viewport    `json:"viewport"`
	Scroll   Scroll      `json:"scroll"`
	Shadow   *ShadowInfo `json:"shadowDOM,omitempty"`
}

// Evaluator computes visibility verdicts and geometry for one session.
type Evaluator struct {
	session  session.Session
	detector *session.Detector
	logger   *zap.Logger
}

// New creates an Evaluator bound to a session.
func New(s session.Session, detector *session.Detector, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		session:  s,
		detector: detector,
		logger:   logger.Named("visibility"),
	}
}

// boolEval runs a predicate script; any failure is "not visible".
func (e *Evaluator) boolEval(ctx context.Context, script, sel string) bool {
	if !e.detector.IsBrowserLike(ctx) {
		return false
	}
	raw, err := e.session.ExecuteScript(ctx, script, []interface{}{sel})
	if err != nil {
		e.logger.Warn("Visibility check failed; treating as not visible.",
			zap.String("selector", sel), zap.Error(err))
		return false
	}
	var visible bool
	if err := jsonAPI.Unmarshal(raw, &visible); err != nil {
		return false
	}
	return visible
}

// positionEval runs a geometry script; any failure degrades to nil.
func (e *Evaluator) positionEval(ctx context.Context, script, sel string) *Position {
	if !e.detector.IsBrowserLike(ctx) {
		return nil
	}
	raw, err := e.session.ExecuteScript(ctx, script, []interface{}{sel})
	if err != nil {
		e.logger.Warn("Geometry read failed; returning no position.",
			zap.String("selector", sel), zap.Error(err))
		return nil
	}
	var pos *Position
	if err := jsonAPI.Unmarshal(raw, &pos); err != nil {
		return nil
	}
	if pos != nil {
		// Defense against a page-side script returning out-of-range data.
		if pos.Viewport.VisibleArea < 0 {
			pos.Viewport.VisibleArea = 0
		}
		if pos.Viewport.VisibleArea > 1 {
			pos.Viewport.VisibleArea = 1
		}
	}
	return pos
}

// IsVisible reports effective visibility for the element behind the handle.
// A missing or invalid handle is never visible.
func (e *Evaluator) IsVisible(ctx context.Context, h finder.Handle) bool {
	if !h.Valid() {
		return false
	}
	return e.boolEval(ctx, isVisibleScript, h.Selector())
}

// IsVisibleInShadowDOM is the shadow-aware variant: it resolves through one
// level of open shadow roots and also requires the host to be visible.
func (e *Evaluator) IsVisibleInShadowDOM(ctx context.Context, h finder.Handle) bool {
	if !h.Valid() {
		return false
	}
	return e.boolEval(ctx, isVisibleInShadowScript, h.Selector())
}

// Position returns the element's viewport-relative geometry, or nil when
// the element is missing or geometry cannot be computed.
func (e *Evaluator) Position(ctx context.Context, h finder.Handle) *Position {
	if !h.Valid() {
		return nil
	}
	return e.positionEval(ctx, positionScript, h.Selector())
}

// PositionInShadowDOM adds shadow containment metadata to the geometry.
func (e *Evaluator) PositionInShadowDOM(ctx context.Context, h finder.Handle) *Position {
	if !h.Valid() {
		return nil
	}
	return e.positionEval(ctx, positionInShadowScript, h.Selector())
}
