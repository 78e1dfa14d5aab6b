package validate

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tourforge/anchor/internal/config"
	"github.com/tourforge/anchor/pkg/anchor/finder"
	"github.com/tourforge/anchor/pkg/anchor/selector"
	"github.com/tourforge/anchor/pkg/anchor/session"
	"github.com/tourforge/anchor/pkg/anchor/visibility"
)

// selectorLocator resolves selectors by a predicate, with optional jitter to
// shake out ordering bugs under concurrency.
type selectorLocator struct {
	resolves func(sel string) bool
	jitter   time.Duration
}

func (l *selectorLocator) WaitForElement(ctx context.Context, sel string, timeout time.Duration) (finder.Handle, bool) {
	if l.jitter > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(l.jitter))))
	}
	if l.resolves != nil && l.resolves(sel) {
		return finder.Handle{AnchorID: "anchor-" + strings.TrimLeft(sel, "#."), Tag: "div"}, true
	}
	return finder.Handle{}, false
}

func newStepsChecker(t *testing.T, locator Locator) *Checker {
	t.Helper()
	s := &checkerSession{}
	logger := zaptest.NewLogger(t)
	detector := session.NewDetector(s, logger)
	vis := visibility.New(s, detector, logger)
	return NewChecker(s, locator, selector.NewValidator(nil), vis, logger)
}

func testResolverConfig() config.ResolverConfig {
	return config.ResolverConfig{
		DefaultTimeout:  time.Second,
		MaxFallbacks:    5,
		UseFallbacks:    true,
		StepConcurrency: 4,
	}
}

func TestStepDecoding(t *testing.T) {
	t.Run("element as single string", func(t *testing.T) {
		var s Step
		require.NoError(t, jsonAPI.Unmarshal([]byte(`{"name":"intro","element":"#intro"}`), &s))
		assert.Equal(t, "intro", s.Name)
		assert.Equal(t, ElementList{"#intro"}, s.Element)
	})

	t.Run("element as candidate list", func(t *testing.T) {
		var s Step
		require.NoError(t, jsonAPI.Unmarshal([]byte(`{"name":"done","element":["#done",".finish"]}`), &s))
		assert.Equal(t, ElementList{"#done", ".finish"}, s.Element)
	})

	t.Run("required defaults to true", func(t *testing.T) {
		var s Step
		require.NoError(t, jsonAPI.Unmarshal([]byte(`{"name":"intro","element":"#intro"}`), &s))
		assert.True(t, s.Required)
	})

	t.Run("required false is honored", func(t *testing.T) {
		var s Step
		require.NoError(t, jsonAPI.Unmarshal([]byte(`{"name":"tip","element":"#tip","required":false}`), &s))
		assert.False(t, s.Required)
	})

	t.Run("element of wrong type errors", func(t *testing.T) {
		var s Step
		err := jsonAPI.Unmarshal([]byte(`{"name":"bad","element":42}`), &s)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "element must be a selector")
	})
}

func TestValidateTourStepsEmpty(t *testing.T) {
	c := newStepsChecker(t, &selectorLocator{})
	result := c.ValidateTourSteps(context.Background(), nil, testResolverConfig())

	assert.True(t, result.Valid)
	assert.Empty(t, result.Results)
	assert.Empty(t, result.MissingElements)
}

func TestValidateTourStepsAllResolve(t *testing.T) {
	locator := &selectorLocator{resolves: func(string) bool { return true }}
	c := newStepsChecker(t, locator)

	steps := []Step{
		{Name: "welcome", Element: ElementList{"#welcome"}, Required: true},
		{Name: "profile", Element: ElementList{".profile-card"}, Required: true},
		{Name: "finish", Element: ElementList{"#done"}, Required: true},
	}
	result := c.ValidateTourSteps(context.Background(), steps, testResolverConfig())

	assert.True(t, result.Valid)
	assert.Empty(t, result.MissingElements)
	require.Len(t, result.Results, 3)
	for i, res := range result.Results {
		assert.Equal(t, steps[i].Name, res.Step)
		assert.True(t, res.Found)
		assert.Equal(t, steps[i].Element[0], res.Selector)
	}
}

func TestValidateTourStepsPreservesOrderUnderConcurrency(t *testing.T) {
	locator := &selectorLocator{
		resolves: func(string) bool { return true },
		jitter:   3 * time.Millisecond,
	}
	c := newStepsChecker(t, locator)

	steps := make([]Step, 16)
	for i := range steps {
		steps[i] = Step{
			Name:     fmt.Sprintf("step-%02d", i),
			Element:  ElementList{fmt.Sprintf("#s%02d", i)},
			Required: true,
		}
	}
	result := c.ValidateTourSteps(context.Background(), steps, testResolverConfig())

	require.Len(t, result.Results, len(steps))
	for i, res := range result.Results {
		assert.Equal(t, steps[i].Name, res.Step, "result order must match step order")
	}
}

func TestValidateTourStepsMissingRequired(t *testing.T) {
	locator := &selectorLocator{resolves: func(sel string) bool {
		return !strings.Contains(sel, "gone")
	}}
	c := newStepsChecker(t, locator)

	steps := []Step{
		{Name: "ok-1", Element: ElementList{"#here"}, Required: true},
		{Name: "broken", Element: ElementList{"#gone-away"}, Required: true},
		{Name: "ok-2", Element: ElementList{"#also-here"}, Required: true},
	}
	result := c.ValidateTourSteps(context.Background(), steps, testResolverConfig())

	assert.False(t, result.Valid)
	assert.Equal(t, []string{"broken"}, result.MissingElements)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "broken")

	// One bad step never disturbs its neighbors.
	assert.True(t, result.Results[0].Found)
	assert.False(t, result.Results[1].Found)
	assert.True(t, result.Results[2].Found)
}

func TestValidateTourStepsOptionalMiss(t *testing.T) {
	locator := &selectorLocator{resolves: func(sel string) bool {
		return sel != "#hint"
	}}
	c := newStepsChecker(t, locator)

	steps := []Step{
		{Name: "core", Element: ElementList{"#core"}, Required: true},
		{Name: "hint", Element: ElementList{"#hint"}},
	}
	result := c.ValidateTourSteps(context.Background(), steps, testResolverConfig())

	// An optional miss is reported but never fails the tour.
	assert.True(t, result.Valid)
	assert.Equal(t, []string{"hint"}, result.MissingElements)
	assert.False(t, result.Results[1].Found)
	assert.False(t, result.Results[1].Required)
}

func TestValidateTourStepsCandidateLadder(t *testing.T) {
	locator := &selectorLocator{resolves: func(sel string) bool {
		return sel == "#fallback"
	}}
	c := newStepsChecker(t, locator)

	steps := []Step{
		{
			Name:     "ladder",
			Element:  ElementList{"#primary", `:contains("skip me")`, "#fallback"},
			Required: true,
		},
	}
	result := c.ValidateTourSteps(context.Background(), steps, testResolverConfig())

	assert.True(t, result.Valid)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "#fallback", result.Results[0].Selector)
}

func TestValidateTourStepsBlankSelectors(t *testing.T) {
	c := newStepsChecker(t, &selectorLocator{})

	steps := []Step{
		{Name: "no-selectors", Required: true},
		{Name: "blank-selectors", Element: ElementList{"", "   "}, Required: true},
	}
	result := c.ValidateTourSteps(context.Background(), steps, testResolverConfig())

	assert.False(t, result.Valid)
	assert.ElementsMatch(t, []string{"no-selectors", "blank-selectors"}, result.MissingElements)
	assert.Contains(t, result.Results[0].Error, "no selectors provided")
	assert.Contains(t, result.Results[1].Error, "no valid selectors")
}
