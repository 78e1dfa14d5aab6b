// Package finder locates elements that native selector syntax cannot
// express: literal text matching, role heuristics, label association, and an
// emulated relational query. Matches are tagged in the page with a generated
// data-anchor-id attribute and handed back as stable Handles.
package finder

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/tourforge/anchor/pkg/anchor/session"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Handle is a non-owning reference to an element found in the page. The
// element stays addressable through its minted attribute selector for as
// long as the node survives re-renders.
type Handle struct {
	AnchorID string `json:"anchorId"`
	Tag      string `json:"tag"`
}

// Valid reports whether the handle references anything at all. The engine
// accepts handles from test doubles, so this checks shape, not identity.
func (h Handle) Valid() bool {
	return strings.TrimSpace(h.AnchorID) != ""
}

// Selector returns the attribute selector addressing the tagged element.
func (h Handle) Selector() string {
	return fmt.Sprintf(`[%s=%q]`, markAttr, h.AnchorID)
}

// QueryResult is the value-shaped outcome of a native query: either a hit,
// a clean miss, or an engine error captured as text.
type QueryResult struct {
	Found    bool   `json:"found"`
	AnchorID string `json:"anchorId"`
	Tag      string `json:"tag"`
	Error    string `json:"error,omitempty"`
}

// Handle converts a hit into a Handle.
func (r QueryResult) Handle() Handle {
	return Handle{AnchorID: r.AnchorID, Tag: r.Tag}
}

// Finder executes script-based element searches against one session.
type Finder struct {
	session  session.Session
	detector *session.Detector
	logger   *zap.Logger
}

// New creates a Finder bound to a session.
func New(s session.Session, detector *session.Detector, logger *zap.Logger) *Finder {
	return &Finder{
		session:  s,
		detector: detector,
		logger:   logger.Named("finder"),
	}
}

// mark mints a fresh tagging prefix so concurrent searches never collide.
func mark() string {
	return "anchor-" + uuid.New().String()[:8]
}

// runList executes a finder script expected to return a handle list.
// Any failure degrades to an empty list; finders never propagate errors.
func (f *Finder) runList(ctx context.Context, script string, args ...interface{}) []Handle {
	if !f.detector.IsBrowserLike(ctx) {
		return nil
	}
	raw, err := f.session.ExecuteScript(ctx, script, args)
	if err != nil {
		f.logger.Warn("Script-based search failed.", zap.Error(err))
		return nil
	}
	var handles []Handle
	if err := jsonAPI.Unmarshal(raw, &handles); err != nil {
		f.logger.Warn("Could not decode search result.", zap.Error(err))
		return nil
	}
	return handles
}

// ByText finds elements whose aggregated text contains (or, if exact,
// equals) text, optionally restricted to a tag name. Empty text yields an
// empty list rather than scanning the whole document.
func (f *Finder) ByText(ctx context.Context, tag, text string, exact bool) []Handle {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return f.runList(ctx, byTextScript, tag, text, exact, mark())
}

// ButtonByText finds button-like elements (including role="button") by text.
func (f *Finder) ButtonByText(ctx context.Context, text string) []Handle {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return f.runList(ctx, buttonByTextScript, text, mark())
}

// LinkByText finds anchors and link-role elements by text.
func (f *Finder) LinkByText(ctx context.Context, text string) []Handle {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return f.runList(ctx, linkByTextScript, text, mark())
}

// InputByLabelText resolves form controls associated with a label matching
// text, through for-reference, nesting, or adjacency.
func (f *Finder) InputByLabelText(ctx context.Context, text string) []Handle {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return f.runList(ctx, inputByLabelTextScript, text, mark())
}

// WithRelationalMatch emulates "parent containing a descendant matching
// childSel" for engines without native :has() support.
func (f *Finder) WithRelationalMatch(ctx context.Context, parentSel, childSel string) []Handle {
	if strings.TrimSpace(parentSel) == "" || strings.TrimSpace(childSel) == "" {
		return nil
	}
	return f.runList(ctx, relationalMatchScript, parentSel, childSel, mark())
}

// Query issues one native querySelector call. Engine exceptions come back
// inside the QueryResult, never as a Go error; the error return is reserved
// for transport failures (session gone, context cancelled).
func (f *Finder) Query(ctx context.Context, sel string) (QueryResult, error) {
	if !f.detector.IsBrowserLike(ctx) {
		return QueryResult{}, nil
	}
	raw, err := f.session.ExecuteScript(ctx, querySelectorScript, []interface{}{sel, mark()})
	if err != nil {
		return QueryResult{}, err
	}
	var res QueryResult
	if err := jsonAPI.Unmarshal(raw, &res); err != nil {
		return QueryResult{}, fmt.Errorf("decoding query result: %w", err)
	}
	return res, nil
}

// SupportsRelational probes once whether the page's query engine accepts
// :has(). Suitable as the selector.Validator probe.
func (f *Finder) SupportsRelational(ctx context.Context) bool {
	if !f.detector.IsBrowserLike(ctx) {
		return false
	}
	raw, err := f.session.ExecuteScript(ctx, relationalProbeScript, []interface{}{})
	if err != nil {
		return false
	}
	var supported bool
	if err := jsonAPI.Unmarshal(raw, &supported); err != nil {
		return false
	}
	return supported
}
