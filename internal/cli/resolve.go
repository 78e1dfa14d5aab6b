// File: internal/cli/resolve.go
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tourforge/anchor/internal/observability"
	"github.com/tourforge/anchor/pkg/anchor"
	"github.com/tourforge/anchor/pkg/anchor/session"
)

// newResolveCmd creates and configures the `resolve` command.
func newResolveCmd() *cobra.Command {
	resolveCmd := &cobra.Command{
		Use:   "resolve <url> <selector>...",
		Short: "Resolves selectors against a live page and reports diagnostics",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			url, selectors := normalizeURL(args[0]), args[1:]

			// Flag overrides go through the config setters so the engine only
			// ever sees one source of truth.
			cfg := appCfg
			if cmd.Flags().Changed("timeout") {
				timeout, _ := cmd.Flags().GetDuration("timeout")
				cfg.SetResolverDefaultTimeout(timeout)
			}
			if cmd.Flags().Changed("fallbacks") {
				useFallbacks, _ := cmd.Flags().GetBool("fallbacks")
				cfg.SetResolverUseFallbacks(useFallbacks)
			}
			if cmd.Flags().Changed("headed") {
				headed, _ := cmd.Flags().GetBool("headed")
				cfg.SetBrowserHeadless(!headed)
			}
			asJSON, _ := cmd.Flags().GetBool("json")

			engine, page, shutdown, err := openEngine(ctx, logger)
			if err != nil {
				return err
			}
			defer shutdown()

			logger.Info("Navigating", zap.String("url", url))
			if err := page.Navigate(ctx, url); err != nil {
				return fmt.Errorf("navigation failed: %w", err)
			}

			timeout := cfg.Resolver().DefaultTimeout
			var result *anchor.ElementValidationResult
			if cfg.Resolver().UseFallbacks && len(selectors) == 1 {
				result, err = engine.ExecuteWithFallbackStrategies(ctx, selectors[0], timeout)
			} else {
				result, err = engine.FindElement(ctx, selectors, timeout)
			}
			if err != nil {
				return fmt.Errorf("resolution aborted: %w", err)
			}

			report := buildResolveReport(ctx, engine, result, timeout)
			if asJSON {
				return printJSON(report)
			}
			printResolveReport(report)

			if !result.Found {
				return fmt.Errorf("no element resolved for %q", selectors[0])
			}
			return nil
		},
	}

	resolveCmd.Flags().DurationP("timeout", "t", 10*time.Second, "Bounded wait for elements not yet in the DOM. (Overrides config/env)")
	resolveCmd.Flags().Bool("fallbacks", true, "Synthesize fallback selectors when a single selector fails. (Overrides config/env)")
	resolveCmd.Flags().Bool("headed", false, "Run the browser with a visible window.")
	resolveCmd.Flags().Bool("json", false, "Emit the full report as JSON.")

	return resolveCmd
}

// resolveReport is the command's full output: resolution outcome, element
// diagnostics for a hit, and the engine health report.
type resolveReport struct {
	Result     *anchor.ElementValidationResult `json:"result"`
	Visibility *visibilityReport               `json:"visibility,omitempty"`
	Validation interface{}                     `json:"validation,omitempty"`
	Health     interface{}                     `json:"health"`
}

type visibilityReport struct {
	IsVisible bool        `json:"isVisible"`
	Position  interface{} `json:"position,omitempty"`
}

// openEngine launches the browser, opens a page and wires an engine over it.
// The returned shutdown closes the page and the browser.
func openEngine(ctx context.Context, logger *zap.Logger) (*anchor.Engine, session.Session, func(), error) {
	manager, err := session.NewManager(ctx, logger, appCfg.Browser())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	page, err := manager.NewPage(ctx)
	if err != nil {
		shutdownManager(manager, logger)
		return nil, nil, nil, fmt.Errorf("failed to open page: %w", err)
	}

	engine := anchor.NewEngine(page, appCfg, logger)
	shutdown := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		engine.ForceCleanupAllObservers()
		if err := page.Close(closeCtx); err != nil {
			logger.Warn("Error closing page", zap.Error(err))
		}
		shutdownManager(manager, logger)
	}
	return engine, page, shutdown, nil
}

func shutdownManager(m *session.Manager, logger *zap.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := m.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Error during browser shutdown", zap.Error(err))
	}
}

// buildResolveReport enriches a hit with visibility, geometry and the deep
// validation, then attaches the health report.
func buildResolveReport(ctx context.Context, engine *anchor.Engine, result *anchor.ElementValidationResult, timeout time.Duration) resolveReport {
	report := resolveReport{Result: result}
	if result.Found && result.Element != nil {
		report.Visibility = &visibilityReport{
			IsVisible: engine.IsVisible(ctx, *result.Element),
			Position:  engine.Position(ctx, *result.Element),
		}
		report.Validation = engine.ValidateElement(ctx, result.Selector, timeout)
	}
	report.Health = engine.GetValidationReport()
	return report
}

func printResolveReport(report resolveReport) {
	res := report.Result
	if res.Found {
		fmt.Printf("Resolved %q via %s in %s", res.Selector, res.ValidationMethod,
			res.Performance.SearchTime.Round(time.Millisecond))
		if res.FallbackUsed {
			fmt.Print(" (fallback)")
		}
		fmt.Println()
		if report.Visibility != nil {
			fmt.Printf("Visible: %v\n", report.Visibility.IsVisible)
		}
	} else {
		fmt.Printf("Not found: %q", res.Selector)
		if res.Error != "" {
			fmt.Printf(" (%s)", res.Error)
		}
		fmt.Println()
		if res.ErrorDetails != nil {
			for _, s := range res.ErrorDetails.Suggestions {
				fmt.Printf("  hint: %s\n", s)
			}
		}
	}
	fmt.Printf("Attempted %d candidate(s)\n", res.Performance.FallbacksAttempted)
}

func printJSON(v interface{}) error {
	enc := jsonAPI.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// normalizeURL defaults a bare host to https.
func normalizeURL(target string) string {
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return "https://" + target
	}
	return target
}
