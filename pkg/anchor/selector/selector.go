// Package selector validates, escapes and synthesizes CSS selector
// candidates before any of them reach a DOM query. Everything in this package
// is pure string work; feature probes that need a live page are injected.
package selector

import (
	"errors"
	"regexp"
	"strings"
	"sync"
)

var (
	// ErrNoSelectors reports that the caller supplied nothing at all.
	ErrNoSelectors = errors.New("no selectors provided")
	// ErrNoValidSelectors reports that filtering removed every candidate.
	ErrNoValidSelectors = errors.New("no valid selectors after filtering")
)

// Error taxonomy codes carried on diagnostic results.
const (
	CodeSelectorInvalid  = "SELECTOR_INVALID"
	CodeSelectorNotFound = "SELECTOR_NOT_FOUND"
	CodeDOMNotReady      = "DOM_NOT_READY"
)

// textPseudoRe matches text-content pseudo-selectors. These have no native
// query equivalent anywhere, so they are always invalid.
var textPseudoRe = regexp.MustCompile(`:(?:contains|text|has-text)\(`)

// relationalPseudoRe matches the relational pseudo-selector, which only some
// engines support. Validity is decided by a cached per-session probe.
var relationalPseudoRe = regexp.MustCompile(`:has\(`)

// Normalize drops empty and whitespace-only candidates, preserving order.
// It distinguishes "nothing supplied" from "nothing valid after filtering".
func Normalize(candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, ErrNoSelectors
	}
	valid := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if strings.TrimSpace(c) == "" {
			continue
		}
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		return nil, ErrNoValidSelectors
	}
	return valid, nil
}

// Validator answers whether a selector's syntax is supported by the query
// engine. The relational pseudo-selector probe runs at most once per
// Validator; a probe that panics or errors counts as "unsupported".
type Validator struct {
	probe func() bool

	once         sync.Once
	hasSupported bool
}

// NewValidator creates a Validator. probe reports whether the engine
// supports the relational pseudo-selector; nil means unsupported.
func NewValidator(probe func() bool) *Validator {
	return &Validator{probe: probe}
}

// IsValid performs a cheap syntax check without issuing a query.
func (v *Validator) IsValid(sel string) bool {
	if strings.TrimSpace(sel) == "" {
		return false
	}
	if textPseudoRe.MatchString(sel) {
		return false
	}
	if relationalPseudoRe.MatchString(sel) && !v.supportsRelational() {
		return false
	}
	return true
}

// supportsRelational runs the feature probe once and caches the verdict.
func (v *Validator) supportsRelational() bool {
	v.once.Do(func() {
		if v.probe == nil {
			return
		}
		defer func() {
			if recover() != nil {
				v.hasSupported = false
			}
		}()
		v.hasSupported = v.probe()
	})
	return v.hasSupported
}

// Suggestions returns remediation text for a taxonomy code.
func Suggestions(code string, sel string) []string {
	switch code {
	case CodeSelectorInvalid:
		if textPseudoRe.MatchString(sel) {
			return []string{
				"Text pseudo-selectors are not supported by querySelector; use script-based text matching instead.",
				"Consider a data-testid attribute on the target element for a stable selector.",
			}
		}
		if relationalPseudoRe.MatchString(sel) {
			return []string{
				"The :has() pseudo-selector is not supported in this environment; use feature detection or a script-based relational fallback.",
			}
		}
		return []string{
			"Provide a non-empty CSS selector such as '#id', '.class' or '[data-testid=\"...\"]'.",
		}
	case CodeSelectorNotFound:
		return []string{
			"Verify the element exists at the time of the search, or increase the wait timeout.",
			"Try the generated fallback selectors (role-based, test-id or aria-label alternatives).",
		}
	case CodeDOMNotReady:
		return []string{
			"The document does not appear to be in a queryable state; retry after navigation completes.",
		}
	default:
		return nil
	}
}
