// Package validate performs deep single-element diagnostics and batch
// validation of tour step selectors. Diagnostics never fail the caller:
// an unresolvable element produces a zero-score report, not an error.
package validate

import (
	"context"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/tourforge/anchor/pkg/anchor/finder"
	"github.com/tourforge/anchor/pkg/anchor/selector"
	"github.com/tourforge/anchor/pkg/anchor/session"
	"github.com/tourforge/anchor/pkg/anchor/visibility"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// outerHTMLScript reads the serialized markup of the element behind a
// handle selector. Null when the element is gone.
const outerHTMLScript = `(sel) => {
	try {
		if (typeof document === 'undefined') return null;
		const el = document.querySelector(sel);
		return el ? el.outerHTML : null;
	} catch (e) {
		return null;
	}
}`

// ComprehensiveValidation is the deep diagnostic verdict for one element.
// AccessibilityScore starts at 100 and loses points per failed check,
// clamped to [0,100].
type ComprehensiveValidation struct {
	IsValid            bool     `json:"isValid"`
	AccessibilityScore int      `json:"accessibilityScore"`
	Issues             []string `json:"issues"`
	Recommendations    []string `json:"recommendations"`
}

// Locator resolves a selector within a bounded wait.
type Locator interface {
	WaitForElement(ctx context.Context, sel string, timeout time.Duration) (finder.Handle, bool)
}

// Checker runs diagnostics over one session.
type Checker struct {
	session   session.Session
	locator   Locator
	validator *selector.Validator
	vis       *visibility.Evaluator
	logger    *zap.Logger
}

// NewChecker wires a Checker.
func NewChecker(
	s session.Session,
	locator Locator,
	validator *selector.Validator,
	vis *visibility.Evaluator,
	logger *zap.Logger,
) *Checker {
	return &Checker{
		session:   s,
		locator:   locator,
		validator: validator,
		vis:       vis,
		logger:    logger.Named("validate"),
	}
}

// ValidateElement resolves sel and runs the accessibility checklist against
// the element's markup and live visibility. An invalid or unresolvable
// selector yields a zero-score report with the blocking issue recorded.
func (c *Checker) ValidateElement(ctx context.Context, sel string, timeout time.Duration) ComprehensiveValidation {
	if !c.validator.IsValid(sel) {
		return ComprehensiveValidation{
			Issues:          []string{"selector syntax is not supported by the query engine"},
			Recommendations: selector.Suggestions(selector.CodeSelectorInvalid, sel),
		}
	}

	h, found := c.locator.WaitForElement(ctx, sel, timeout)
	if !found {
		return ComprehensiveValidation{
			Issues:          []string{"element could not be resolved"},
			Recommendations: selector.Suggestions(selector.CodeSelectorNotFound, sel),
		}
	}

	markup := c.outerHTML(ctx, h)
	node := firstElement(markup)
	if node == nil {
		// Resolved but unreadable markup still counts as found; score on
		// visibility alone.
		c.logger.Debug("Element markup unavailable; scoring visibility only.",
			zap.String("selector", sel))
	}

	report := ComprehensiveValidation{IsValid: true, AccessibilityScore: 100}
	deduct := func(points int, issue, rec string) {
		report.AccessibilityScore -= points
		report.Issues = append(report.Issues, issue)
		if rec != "" {
			report.Recommendations = append(report.Recommendations, rec)
		}
	}

	if node != nil {
		if !hasAccessibleName(node) {
			deduct(25, "element has no accessible name",
				"add aria-label, a title attribute, or visible text content")
		}
		if !hasRole(node) {
			deduct(15, "element has neither an explicit nor an implied role",
				"use a semantic tag or set an explicit role attribute")
		}
		if !keyboardReachable(node) {
			deduct(10, "element is not reachable by keyboard",
				"use a natively focusable element or set tabindex=\"0\"")
		}
		if colorOnlySignal(node) {
			deduct(10, "element appears to convey meaning through color alone",
				"pair the color cue with text or an aria-label")
		}
	}

	if !c.vis.IsVisible(ctx, h) {
		deduct(25, "element is not effectively visible",
			"check display, visibility, opacity and geometry of the element and its ancestors")
	}

	if report.AccessibilityScore < 0 {
		report.AccessibilityScore = 0
	}
	return report
}

// outerHTML fetches the element's serialized markup, empty on any failure.
func (c *Checker) outerHTML(ctx context.Context, h finder.Handle) string {
	raw, err := c.session.ExecuteScript(ctx, outerHTMLScript, []interface{}{h.Selector()})
	if err != nil {
		return ""
	}
	var markup *string
	if err := jsonAPI.Unmarshal(raw, &markup); err != nil || markup == nil {
		return ""
	}
	return *markup
}

// firstElement parses a markup fragment and returns its first element node.
func firstElement(markup string) *html.Node {
	if strings.TrimSpace(markup) == "" {
		return nil
	}
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil
	}
	var walk func(*html.Node) *html.Node
	walk = func(n *html.Node) *html.Node {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "html", "head", "body":
				// Wrapper nodes injected by the parser.
			default:
				return n
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			if el := walk(child); el != nil {
				return el
			}
		}
		return nil
	}
	return walk(doc)
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

// textContent aggregates the fragment's text, whitespace-trimmed.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

// hasAccessibleName checks the name computation sources available from
// static markup: aria attributes, title, alt, control values, text content.
func hasAccessibleName(n *html.Node) bool {
	for _, name := range []string{"aria-label", "aria-labelledby", "title", "alt"} {
		if v, ok := attr(n, name); ok && strings.TrimSpace(v) != "" {
			return true
		}
	}
	if n.Data == "input" {
		if v, ok := attr(n, "value"); ok && strings.TrimSpace(v) != "" {
			return true
		}
		if v, ok := attr(n, "placeholder"); ok && strings.TrimSpace(v) != "" {
			return true
		}
	}
	return textContent(n) != ""
}

// impliedRoleTags lists tags that map to an ARIA role on their own.
var impliedRoleTags = map[string]bool{
	"a": true, "button": true, "input": true, "select": true, "textarea": true,
	"nav": true, "main": true, "header": true, "footer": true, "aside": true,
	"form": true, "img": true, "table": true, "ul": true, "ol": true, "li": true,
	"dialog": true, "progress": true, "summary": true, "details": true, "option": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

func hasRole(n *html.Node) bool {
	if v, ok := attr(n, "role"); ok && strings.TrimSpace(v) != "" {
		return true
	}
	if n.Data == "a" {
		_, hasHref := attr(n, "href")
		return hasHref
	}
	return impliedRoleTags[n.Data]
}

// focusableTags lists tags that join the tab order without a tabindex.
var focusableTags = map[string]bool{
	"button": true, "input": true, "select": true, "textarea": true, "summary": true,
}

func keyboardReachable(n *html.Node) bool {
	if v, ok := attr(n, "tabindex"); ok {
		idx, err := strconv.Atoi(strings.TrimSpace(v))
		return err == nil && idx >= 0
	}
	if _, disabled := attr(n, "disabled"); disabled {
		return false
	}
	if n.Data == "a" {
		_, hasHref := attr(n, "href")
		return hasHref
	}
	return focusableTags[n.Data]
}

// colorOnlySignal is a heuristic: inline color styling on an element with no
// text and no aria labelling suggests the color is the only cue.
func colorOnlySignal(n *html.Node) bool {
	style, ok := attr(n, "style")
	if !ok || !strings.Contains(strings.ToLower(style), "color") {
		return false
	}
	if v, labelled := attr(n, "aria-label"); labelled && strings.TrimSpace(v) != "" {
		return false
	}
	return textContent(n) == ""
}
