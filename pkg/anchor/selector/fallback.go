package selector

import (
	"fmt"
	"regexp"
	"strings"
)

// Verdict is the outcome of a syntax check, with an actionable message for
// each known-invalid pattern.
type Verdict struct {
	IsValid    bool   `json:"isValid"`
	Error      string `json:"error,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ValidateCSSSelector checks a selector's syntax and explains failures.
func ValidateCSSSelector(sel string) Verdict {
	if strings.TrimSpace(sel) == "" {
		return Verdict{
			Error:      "selector is empty or whitespace-only",
			Suggestion: "provide a non-empty CSS selector",
		}
	}
	if m := textPseudoRe.FindString(sel); m != "" {
		return Verdict{
			Error:      fmt.Sprintf("%s...) is not valid CSS; no query engine supports text pseudo-selectors", strings.TrimSuffix(m, "(")+"("),
			Suggestion: "use script-based text matching (finder.ByText) instead",
		}
	}
	if relationalPseudoRe.MatchString(sel) {
		return Verdict{
			Error:      ":has() is only conditionally supported",
			Suggestion: "use feature detection or the script-based relational fallback (finder.WithRelationalMatch)",
		}
	}
	return Verdict{IsValid: true}
}

var (
	// embedded text argument of a text pseudo-selector, e.g. :contains("Save").
	pseudoArgRe = regexp.MustCompile(`:(?:contains|text|has-text)\(\s*['"]?([^'")]+)['"]?\s*\)`)
	// leading class chain, e.g. .btn.primary.
	classChainRe = regexp.MustCompile(`\.([A-Za-z][\w-]*)`)
	idRe         = regexp.MustCompile(`#([A-Za-z][\w-]*)`)
	// bare tag head preceding a pseudo-selector, e.g. the "button" in
	// button:contains("Save").
	bareTagRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)
)

// TextPseudoArgument extracts the tag and quoted text of a text
// pseudo-selector such as button:contains("Save"). ok is false when the
// selector carries no text pseudo-selector.
func TextPseudoArgument(sel string) (tag, text string, ok bool) {
	m := pseudoArgRe.FindStringSubmatchIndex(sel)
	if m == nil {
		return "", "", false
	}
	text = strings.TrimSpace(sel[m[2]:m[3]])
	if text == "" {
		return "", "", false
	}
	head := sel[:m[0]]
	// Only a bare tag head is usable as a scan restriction.
	if bareTagRe.MatchString(head) {
		tag = strings.ToLower(head)
	}
	return tag, text, true
}

// GenerateFallbackSelectors synthesizes ranked alternatives for a failing
// selector by parsing its shape and ignoring unsupported pseudo-syntax.
// Every returned candidate passes the pure syntax check and differs from the
// input.
func GenerateFallbackSelectors(sel string) []string {
	shape := strings.ToLower(sel)
	var out []string
	add := func(candidate string) {
		if candidate == "" || candidate == sel {
			return
		}
		for _, existing := range out {
			if existing == candidate {
				return
			}
		}
		out = append(out, candidate)
	}

	// 1. data-testid guess derived from embedded text or identifier content.
	if m := pseudoArgRe.FindStringSubmatch(sel); m != nil {
		if token := SanitizeForTestID(m[1]); token != "" {
			add(fmt.Sprintf(`[data-testid="%s"]`, token))
			add(fmt.Sprintf(`[aria-label*="%s"]`, strings.TrimSpace(m[1])))
		}
	} else if m := idRe.FindStringSubmatch(sel); m != nil {
		if token := SanitizeForTestID(m[1]); token != "" {
			add(fmt.Sprintf(`[data-testid="%s"]`, token))
		}
	} else if m := classChainRe.FindStringSubmatch(sel); m != nil {
		if token := SanitizeForTestID(m[1]); token != "" {
			add(fmt.Sprintf(`[data-testid="%s"]`, token))
		}
	}

	// 2. Role-based alternatives for interactive shapes.
	switch {
	case strings.Contains(shape, "button") || strings.Contains(shape, "btn") ||
		strings.Contains(shape, "submit"):
		add(`button`)
		add(`[role="button"]`)
		add(`input[type="submit"]`)
	case strings.Contains(shape, "nav") || strings.Contains(shape, "menu"):
		add(`nav a`)
		add(`[role="navigation"] a`)
	case strings.HasPrefix(shape, "a.") || strings.HasPrefix(shape, "a[") ||
		strings.Contains(shape, "link"):
		add(`a[href]`)
		add(`[role="link"]`)
	case strings.Contains(shape, "input") || strings.Contains(shape, "form") ||
		strings.Contains(shape, "field"):
		add(`input`)
		add(`form input, form select, form textarea`)
	}

	// 3. Attribute-based alternative for class-heavy selectors.
	if classes := classChainRe.FindAllStringSubmatch(sel, -1); len(classes) >= 2 {
		add(fmt.Sprintf(`[class*="%s"]`, classes[0][1]))
	}

	return out
}
