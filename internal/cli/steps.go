// File: internal/cli/steps.go
package cli

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tourforge/anchor/internal/observability"
	"github.com/tourforge/anchor/pkg/anchor/validate"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// stepsFile is the on-disk descriptor format for a tour's steps.
type stepsFile struct {
	Steps []validate.Step `json:"steps"`
}

// newStepsCmd creates and configures the `steps` command.
func newStepsCmd() *cobra.Command {
	stepsCmd := &cobra.Command{
		Use:   "steps <url>",
		Short: "Batch-validates every step of a tour against a live page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			path, _ := cmd.Flags().GetString("file")
			asJSON, _ := cmd.Flags().GetBool("json")

			steps, err := loadSteps(path)
			if err != nil {
				return err
			}
			if len(steps) == 0 {
				return fmt.Errorf("steps file %q contains no steps", path)
			}

			engine, page, shutdown, err := openEngine(ctx, logger)
			if err != nil {
				return err
			}
			defer shutdown()

			url := normalizeURL(args[0])
			logger.Info("Navigating", zap.String("url", url), zap.Int("steps", len(steps)))
			if err := page.Navigate(ctx, url); err != nil {
				return fmt.Errorf("navigation failed: %w", err)
			}

			result := engine.ValidateTourSteps(ctx, steps)
			if asJSON {
				if err := printJSON(result); err != nil {
					return err
				}
			} else {
				printStepResults(result)
			}

			if !result.Valid {
				missing := 0
				for _, res := range result.Results {
					if !res.Found && res.Required {
						missing++
					}
				}
				return fmt.Errorf("%d required step(s) did not resolve", missing)
			}
			return nil
		},
	}

	stepsCmd.Flags().StringP("file", "f", "steps.json", "Path to the tour step descriptor file.")
	stepsCmd.Flags().Bool("json", false, "Emit the validation result as JSON.")

	return stepsCmd
}

// loadSteps reads and decodes a step descriptor file. A top-level array is
// accepted as shorthand for {"steps": [...]}.
func loadSteps(path string) ([]validate.Step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading steps file: %w", err)
	}

	var wrapped stepsFile
	if err := jsonAPI.Unmarshal(data, &wrapped); err == nil && len(wrapped.Steps) > 0 {
		return wrapped.Steps, nil
	}
	var bare []validate.Step
	if err := jsonAPI.Unmarshal(data, &bare); err != nil {
		return nil, fmt.Errorf("decoding steps file %q: %w", path, err)
	}
	return bare, nil
}

func printStepResults(result validate.TourValidation) {
	for _, res := range result.Results {
		switch {
		case res.Found:
			fmt.Printf("ok    %-20s %s\n", res.Step, res.Selector)
		case res.Required:
			fmt.Printf("MISS  %-20s %s\n", res.Step, res.Error)
		default:
			fmt.Printf("miss  %-20s optional; %s\n", res.Step, res.Error)
		}
	}
	if result.Valid {
		fmt.Println("All required steps resolved.")
	}
}
