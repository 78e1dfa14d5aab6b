package validate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tourforge/anchor/internal/config"
	"github.com/tourforge/anchor/pkg/anchor/selector"
)

// ElementList is the authoring layer's selector-or-list form: a JSON string
// decodes as a single candidate, an array as the ordered candidate list.
type ElementList []string

func (e *ElementList) UnmarshalJSON(data []byte) error {
	var single string
	if err := jsonAPI.Unmarshal(data, &single); err == nil {
		*e = ElementList{single}
		return nil
	}
	var list []string
	if err := jsonAPI.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("element must be a selector or a list of selectors: %w", err)
	}
	*e = ElementList(list)
	return nil
}

// Step is one tour step descriptor from the authoring layer. Element holds
// the selector candidates in preference order. Steps are required unless
// the descriptor marks them optional.
type Step struct {
	Name     string      `json:"name"`
	Element  ElementList `json:"element"`
	Required bool        `json:"required"`
}

// UnmarshalJSON defaults Required to true when the key is absent.
func (s *Step) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name     string      `json:"name"`
		Element  ElementList `json:"element"`
		Required *bool       `json:"required"`
	}
	if err := jsonAPI.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Name = raw.Name
	s.Element = raw.Element
	s.Required = raw.Required == nil || *raw.Required
	return nil
}

// StepResult is the verdict for a single step. Selector names the candidate
// that resolved, empty when none did.
type StepResult struct {
	Step     string `json:"step"`
	Required bool   `json:"required"`
	Selector string `json:"selector,omitempty"`
	Found    bool   `json:"found"`
	Error    string `json:"error,omitempty"`
}

// TourValidation aggregates a batch run. MissingElements lists every step
// that did not resolve; Valid is false only when one of them was required.
type TourValidation struct {
	Valid           bool         `json:"valid"`
	Results         []StepResult `json:"results"`
	MissingElements []string     `json:"missingElements"`
	Errors          []string     `json:"errors,omitempty"`
}

// ValidateTourSteps resolves every step's candidates concurrently, bounded
// by the configured step concurrency. Results preserve step order; one bad
// step never aborts the batch.
func (c *Checker) ValidateTourSteps(ctx context.Context, steps []Step, cfg config.ResolverConfig) TourValidation {
	out := TourValidation{Results: make([]StepResult, len(steps))}
	if len(steps) == 0 {
		out.Valid = true
		return out
	}

	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.StepConcurrency > 0 {
		g.SetLimit(cfg.StepConcurrency)
	}
	for i, step := range steps {
		i, step := i, step
		g.Go(func() error {
			out.Results[i] = c.validateStep(gctx, step, timeout)
			return nil
		})
	}
	// Workers only write their own slot and never return errors.
	_ = g.Wait()

	out.Valid = true
	for _, res := range out.Results {
		if res.Found {
			continue
		}
		out.MissingElements = append(out.MissingElements, res.Step)
		if res.Error != "" {
			out.Errors = append(out.Errors, res.Step+": "+res.Error)
		}
		if res.Required {
			out.Valid = false
		}
	}
	return out
}

// validateStep tries the step's candidates in order until one resolves.
func (c *Checker) validateStep(ctx context.Context, step Step, timeout time.Duration) StepResult {
	res := StepResult{Step: step.Name, Required: step.Required}

	candidates, err := selector.Normalize(step.Element)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	for _, sel := range candidates {
		if !c.validator.IsValid(sel) {
			c.logger.Debug("Skipping unsupported candidate.",
				zap.String("step", step.Name), zap.String("selector", sel))
			continue
		}
		if _, found := c.locator.WaitForElement(ctx, sel, timeout); found {
			res.Selector = sel
			res.Found = true
			return res
		}
	}
	res.Error = "no candidate selector resolved to an element"
	return res
}
