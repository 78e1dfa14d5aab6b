package anchor

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tourforge/anchor/internal/config"
	"github.com/tourforge/anchor/pkg/anchor/selector"
)

// pageFake simulates a page whose elements are a set of resolvable
// selectors plus optional text matches, with late appearance support for
// the observation path.
type pageFake struct {
	mu sync.Mutex
	// static maps selectors to hits for the native query path.
	static map[string]bool
	// textMatches answers the script-based text finders.
	textMatches bool
	// lateHit, when set, is returned by the observer hit slot.
	lateHit string
	hasDOM  bool

	queries []string
}

func newPageFake() *pageFake {
	return &pageFake{static: map[string]bool{}, hasDOM: true}
}

func (p *pageFake) ID() string                                     { return "page-fake" }
func (p *pageFake) Navigate(ctx context.Context, url string) error { return nil }
func (p *pageFake) Close(ctx context.Context) error                { return nil }

func (p *pageFake) ExecuteScript(ctx context.Context, script string, args []interface{}) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case strings.Contains(script, "caps.dom"):
		if p.hasDOM {
			return json.RawMessage(`{"dom":true,"headless":true,"timer":"browser"}`), nil
		}
		return json.RawMessage(`{"dom":false,"headless":false,"timer":"none"}`), nil
	case strings.Contains(script, ":has(*)"):
		return json.RawMessage(`false`), nil
	case strings.Contains(script, "new MutationObserver"):
		return json.RawMessage(`true`), nil
	case strings.Contains(script, "delete window.__anchorObs"):
		return json.RawMessage(`true`), nil
	case strings.Contains(script, "state.hit"):
		if p.lateHit != "" {
			return json.RawMessage(`{"anchorId":"` + p.lateHit + `","tag":"section"}`), nil
		}
		return json.RawMessage(`null`), nil
	case strings.Contains(script, "getElementsByTagName(tag"):
		if p.textMatches {
			return json.RawMessage(`[{"anchorId":"anchor-txt-0","tag":"button"}]`), nil
		}
		return json.RawMessage(`[]`), nil
	default:
		// Native querySelector.
		sel, _ := args[0].(string)
		p.queries = append(p.queries, sel)
		if p.static[sel] {
			return json.RawMessage(`{"found":true,"anchorId":"anchor-q-0","tag":"div"}`), nil
		}
		return json.RawMessage(`{"found":false}`), nil
	}
}

func newTestEngine(t *testing.T, p *pageFake) *Engine {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.ObserverCfg.PollInterval = 5 * time.Millisecond
	return NewEngine(p, cfg, zaptest.NewLogger(t))
}

func TestFindElementRejectsBadInput(t *testing.T) {
	ctx := context.Background()

	t.Run("no selectors", func(t *testing.T) {
		e := newTestEngine(t, newPageFake())
		res, err := e.FindElement(ctx, nil, time.Second)
		require.NoError(t, err)

		assert.False(t, res.Found)
		assert.Equal(t, "no selectors provided", res.Error)
		require.NotNil(t, res.ErrorDetails)
		assert.Equal(t, selector.CodeSelectorInvalid, res.ErrorDetails.Code)
		// Rejection happens before any query: performance stays zeroed.
		assert.Zero(t, res.Performance.SearchTime)
		assert.Zero(t, res.Performance.FallbacksAttempted)
	})

	t.Run("only blank selectors", func(t *testing.T) {
		p := newPageFake()
		e := newTestEngine(t, p)
		res, err := e.FindElement(ctx, []string{"", "   "}, time.Second)
		require.NoError(t, err)

		assert.False(t, res.Found)
		assert.Equal(t, "no valid selectors after filtering", res.Error)
		assert.Zero(t, res.Performance.FallbacksAttempted)
		assert.Empty(t, p.queries, "no query may reach the page")
	})

	t.Run("no DOM capability", func(t *testing.T) {
		p := newPageFake()
		p.hasDOM = false
		e := newTestEngine(t, p)
		res, err := e.FindElement(ctx, []string{"#x"}, time.Second)
		require.NoError(t, err)

		assert.False(t, res.Found)
		require.NotNil(t, res.ErrorDetails)
		assert.Equal(t, selector.CodeDOMNotReady, res.ErrorDetails.Code)
	})
}

func TestFindElementStaticResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("blanks are filtered before counting attempts", func(t *testing.T) {
		p := newPageFake()
		p.static["#target"] = true
		e := newTestEngine(t, p)

		res, err := e.FindElement(ctx, []string{"", "   ", "#target"}, 0)
		require.NoError(t, err)

		assert.True(t, res.Found)
		assert.Equal(t, MethodCSS, res.ValidationMethod)
		assert.Equal(t, 1, res.Performance.FallbacksAttempted)
		assert.False(t, res.FallbackUsed, "the only surviving candidate is the primary")
		assert.Greater(t, res.Performance.SearchTime, time.Duration(0))
		require.NotNil(t, res.Element)
		assert.Equal(t, "anchor-q-0", res.Element.AnchorID)
	})

	t.Run("second candidate wins as fallback", func(t *testing.T) {
		p := newPageFake()
		p.static[".alternate"] = true
		e := newTestEngine(t, p)

		res, err := e.FindElement(ctx, []string{"#primary", ".alternate"}, 0)
		require.NoError(t, err)

		assert.True(t, res.Found)
		assert.True(t, res.FallbackUsed)
		assert.Equal(t, ".alternate", res.Selector)
		assert.Equal(t, 2, res.Performance.FallbacksAttempted)
	})

	t.Run("text pseudo routes to script matching", func(t *testing.T) {
		p := newPageFake()
		p.textMatches = true
		e := newTestEngine(t, p)

		res, err := e.FindElement(ctx, []string{`button:contains("Save")`}, 0)
		require.NoError(t, err)

		assert.True(t, res.Found)
		assert.Equal(t, MethodJavaScript, res.ValidationMethod)
		require.NotNil(t, res.Element)
		assert.Equal(t, "anchor-txt-0", res.Element.AnchorID)
	})

	t.Run("all candidates unsupported reports invalid syntax", func(t *testing.T) {
		// The relational probe answers false, so :has() is unsupported and
		// every candidate is skipped without ever being queried.
		p := newPageFake()
		e := newTestEngine(t, p)

		res, err := e.FindElement(ctx, []string{"div:has(> span)", "li:has(a)"}, time.Second)
		require.NoError(t, err)

		assert.False(t, res.Found)
		assert.Zero(t, res.Performance.FallbacksAttempted)
		assert.Empty(t, p.queries, "no query may reach the page")
		require.NotNil(t, res.ErrorDetails)
		assert.Equal(t, selector.CodeSelectorInvalid, res.ErrorDetails.Code)
	})

	t.Run("exhausted candidates report not found", func(t *testing.T) {
		p := newPageFake()
		e := newTestEngine(t, p)

		res, err := e.FindElement(ctx, []string{"#a", "#b"}, 0)
		require.NoError(t, err)

		assert.False(t, res.Found)
		assert.Equal(t, "#a", res.Selector)
		assert.Equal(t, 2, res.Performance.FallbacksAttempted)
		require.NotNil(t, res.ErrorDetails)
		assert.Equal(t, selector.CodeSelectorNotFound, res.ErrorDetails.Code)
		assert.NotEmpty(t, res.ErrorDetails.Suggestions)
	})
}

func TestFindElementHybridObservation(t *testing.T) {
	p := newPageFake()
	p.lateHit = "anchor-late-7"
	e := newTestEngine(t, p)

	res, err := e.FindElement(context.Background(), []string{"#appears-later"}, 2*time.Second)
	require.NoError(t, err)

	assert.True(t, res.Found)
	assert.Equal(t, MethodHybrid, res.ValidationMethod)
	require.NotNil(t, res.Element)
	assert.Equal(t, "anchor-late-7", res.Element.AnchorID)

	// The wait tore its registration down before returning.
	assert.Equal(t, 0, e.VerifyObserverCleanup().ActiveObservers)
}

func TestFindElementCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newTestEngine(t, newPageFake())
	_, err := e.FindElement(ctx, []string{"#x"}, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecuteWithFallbackStrategies(t *testing.T) {
	ctx := context.Background()

	t.Run("synthesized candidate rescues the search", func(t *testing.T) {
		p := newPageFake()
		p.static[`[role="button"]`] = true
		e := newTestEngine(t, p)

		res, err := e.ExecuteWithFallbackStrategies(ctx, "#checkout-button", 0)
		require.NoError(t, err)

		assert.True(t, res.Found)
		assert.True(t, res.FallbackUsed)
		assert.Equal(t, `[role="button"]`, res.Selector)
		require.NotNil(t, res.Fallbacks)
		assert.Contains(t, res.Fallbacks.Attempted, `[role="button"]`)
	})

	t.Run("generated candidates respect the cap", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.ResolverCfg.MaxFallbacks = 1
		e := NewEngine(newPageFake(), cfg, zaptest.NewLogger(t))

		res, err := e.ExecuteWithFallbackStrategies(ctx, "#checkout-button", 0)
		require.NoError(t, err)

		assert.False(t, res.Found)
		require.NotNil(t, res.Fallbacks)
		assert.LessOrEqual(t, len(res.Fallbacks.Attempted), 1)
		assert.NotEmpty(t, res.Fallbacks.Recommendations)
	})
}

func TestEngineTelemetryComposition(t *testing.T) {
	p := newPageFake()
	p.static["#hit"] = true
	e := newTestEngine(t, p)
	ctx := context.Background()

	_, err := e.FindElement(ctx, []string{"#hit"}, 0)
	require.NoError(t, err)
	_, err = e.FindElement(ctx, []string{"#miss"}, 0)
	require.NoError(t, err)

	report := e.GetValidationReport()
	assert.Equal(t, 2, report.Performance.TotalSelectors)
	assert.InDelta(t, 0.5, report.Performance.SuccessRate, 1e-9)
	assert.Equal(t, 0, report.Observers.ActiveObservers)
}

func TestEngineCleanupPassthroughs(t *testing.T) {
	e := newTestEngine(t, newPageFake())

	assert.Equal(t, 0, e.VerifyObserverCleanup().ActiveObservers)
	assert.Equal(t, 0, e.PerformEmergencyCleanup())
	assert.Equal(t, 0, e.ForceCleanupAllObservers())
}
