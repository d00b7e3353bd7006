// -- cmd/run.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/selectsweep/internal/browser"
	"github.com/xkilldash9x/selectsweep/internal/config"
	"github.com/xkilldash9x/selectsweep/internal/harness"
	"github.com/xkilldash9x/selectsweep/internal/observability"
	"github.com/xkilldash9x/selectsweep/internal/reporting"
	"github.com/xkilldash9x/selectsweep/internal/testcases"
	"github.com/xkilldash9x/selectsweep/internal/valog"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [urls...]",
		Short: "Runs the combination sweep against the CSV test cases or the given URLs",
		// PreRunE binds flags to their Viper keys so command-line flags
		// correctly override values from the config file and environment.
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("input.csv_path", cmd.Flags().Lookup("csv")); err != nil {
				return err
			}
			if err := viper.BindPFlag("report.output", cmd.Flags().Lookup("output")); err != nil {
				return err
			}
			if err := viper.BindPFlag("report.format", cmd.Flags().Lookup("format")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			return viper.BindPFlag("browser.device", cmd.Flags().Lookup("device"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from Execute (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			targets, err := resolveTargets(logger, cfg, args)
			if err != nil {
				return err
			}

			logger.Info("Starting combination sweep",
				zap.Int("targets", len(targets)),
				zap.String("format", cfg.Report.Format),
				zap.String("output", cfg.Report.Output),
			)

			components, err := initializeRunComponents(ctx, cfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown()
				}
				return fmt.Errorf("failed to initialize run components: %w", err)
			}
			defer components.Shutdown()

			report := components.Runner.Run(ctx, targets)

			if err := writeReport(report, cfg, logger); err != nil {
				return err
			}

			if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
				logger.Warn("Run aborted by user signal; partial report written")
				return fmt.Errorf("run aborted by user signal")
			}

			fmt.Printf("\nSweep complete. %d combinations, %d passed, %d failed.\n",
				report.TotalTests, report.PassedTests, report.FailedTests)
			if report.FailedTests > 0 || report.ErroredURLs > 0 {
				return fmt.Errorf("%d combinations failed, %d URLs errored", report.FailedTests, report.ErroredURLs)
			}
			return nil
		},
	}

	runCmd.Flags().String("csv", "", "Path to the test case CSV file. (Overrides config/env)")
	runCmd.Flags().StringP("output", "o", "", "Output file path for the report, or 'stdout'.")
	runCmd.Flags().StringP("format", "f", "", "Report format: 'json', 'html' or 'text'.")
	runCmd.Flags().Bool("headless", true, "Run the browser headless. (Overrides config/env)")
	runCmd.Flags().String("device", "", "Device emulation preset for all targets (e.g. 'iphone-x').")

	return runCmd
}

// resolveTargets builds the target list from positional URLs, falling back to
// the configured CSV file.
func resolveTargets(logger *zap.Logger, cfg *config.Config, args []string) ([]harness.Target, error) {
	if len(args) > 0 {
		targets := make([]harness.Target, 0, len(args))
		for _, url := range args {
			targets = append(targets, harness.Target{URL: url, Device: cfg.Browser.Device})
		}
		return targets, nil
	}
	return testcases.Load(logger, cfg.Input.CSVPath)
}

// runComponents holds initialized services.
type runComponents struct {
	BrowserManager *browser.Manager
	ValidationLog  *valog.Buffer
	Runner         *harness.Runner
}

// Shutdown gracefully closes all components.
func (rc *runComponents) Shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if rc.ValidationLog != nil {
		if err := rc.ValidationLog.Close(); err != nil {
			observability.GetLogger().Warn("Error closing validation log", zap.Error(err))
		}
	}
	if rc.BrowserManager != nil {
		if err := rc.BrowserManager.Shutdown(shutdownCtx); err != nil {
			observability.GetLogger().Warn("Error during browser manager shutdown", zap.Error(err))
		}
	}
}

// initializeRunComponents handles dependency injection.
func initializeRunComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runComponents, error) {
	components := &runComponents{}

	manager, err := browser.NewManager(ctx, logger, cfg)
	if err != nil {
		return components, fmt.Errorf("failed to initialize browser manager: %w", err)
	}
	components.BrowserManager = manager

	components.ValidationLog = valog.New(logger, cfg.Harness.ValidationLog, cfg.Harness.FlushThreshold)

	factory := browser.NewFactory(logger, manager, cfg)
	components.Runner = harness.NewRunner(logger, cfg.Harness, factory, components.ValidationLog, Version)

	return components, nil
}

// writeReport renders the finished run report to the configured output.
func writeReport(report *harness.RunReport, cfg *config.Config, logger *zap.Logger) error {
	reporter, err := reporting.New(cfg.Report.Format, cfg.Report.Output)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	if err := reporter.Write(report); err != nil {
		reporter.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	// Rendering happens at Close for the buffered formats.
	if err := reporter.Close(); err != nil {
		return fmt.Errorf("failed to finalize report: %w", err)
	}
	logger.Info("Report generated successfully.", zap.String("path", cfg.Report.Output))
	return nil
}
