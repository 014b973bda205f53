// Command reportctl runs, validates and previews report definitions from
// the command line.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AngelCh415/adreports/internal/config"
	"github.com/AngelCh415/adreports/internal/credentials"
	"github.com/AngelCh415/adreports/internal/errs"
	"github.com/AngelCh415/adreports/internal/export"
	"github.com/AngelCh415/adreports/internal/ingest"
	"github.com/AngelCh415/adreports/internal/models"
	"github.com/AngelCh415/adreports/internal/period"
	"github.com/AngelCh415/adreports/internal/pipeline"
	"github.com/AngelCh415/adreports/internal/store"
	"github.com/AngelCh415/adreports/internal/table"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "reportctl",
		Short:         "Build advertising reports from Direct and Metrika",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCommand(), newValidateCommand(), newPeriodCommand())
	return root
}

// env loads service settings and a text logger on stderr.
func env(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, nil, err
	}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.Level()}))
	return cfg, log, nil
}

func newPipeline(cfg config.Config, log *slog.Logger) *pipeline.Pipeline {
	return pipeline.New(ingest.NewRegistry(cfg, log), credentials.FromConfig(cfg), log, nil)
}

func newRunCommand() *cobra.Command {
	var (
		format   string
		doExport bool
	)
	cmd := &cobra.Command{
		Use:   "run <report-file>",
		Short: "Run a report and print the resulting table",
		Example: `  # Preview a report as a table
  reportctl run weekly.yaml

  # Run, export and record the run
  reportctl run weekly.yaml --export --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := config.LoadReport(args[0])
			if err != nil {
				return err
			}
			cfg, log, err := env(cmd)
			if err != nil {
				return err
			}
			p := newPipeline(cfg, log)

			var out *table.Table
			if doExport {
				runs, err := store.Open(cfg.StorePath)
				if err != nil {
					return err
				}
				defer runs.Close()
				runner := &pipeline.Runner{Pipeline: p, Sinks: export.NewMux(cfg, log), Runs: runs, Log: log}
				var run models.ReportRun
				run, out, err = runner.Run(cmd.Context(), rep.Name, rep.Config)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "run %s exported to %s\n", run.ID, run.ResultURL)
			} else {
				out, err = p.Run(cmd.Context(), rep.Config)
				if err != nil {
					return err
				}
			}
			return render(cmd.OutOrStdout(), out, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format: table, json, csv, markdown")
	cmd.Flags().BoolVar(&doExport, "export", false, "deliver the result to the configured sink and record the run")
	return cmd
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <report-file>",
		Short: "Check a report definition without calling any API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := config.LoadReport(args[0])
			if err != nil {
				return err
			}
			cfg, log, err := env(cmd)
			if err != nil {
				return err
			}
			plan, err := newPipeline(cfg, log).Validate(rep.Config)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, %d source(s), %s..%s\n",
				rep.Name, len(plan.Sources), plan.Range.DateFrom(), plan.Range.DateTo())
			return nil
		},
	}
}

func newPeriodCommand() *cobra.Command {
	var from, to, today string
	cmd := &cobra.Command{
		Use:   "period <type>",
		Short: "Print the date range a period resolves to",
		Example: `  reportctl period last_7_days
  reportctl period custom --from 2025-08-01 --to 2025-08-07`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if today != "" {
				t, err := time.Parse(time.DateOnly, today)
				if err != nil {
					return fmt.Errorf("--today: %w", err)
				}
				now = t
			}
			r, err := period.Resolve(models.PeriodConfig{Type: args[0], DateFrom: from, DateTo: to}, now)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %d\n", r.DateFrom(), r.DateTo(), r.Days())
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day of a custom period (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last day of a custom period (YYYY-MM-DD)")
	cmd.Flags().StringVar(&today, "today", "", "anchor relative periods to this date instead of now")
	return cmd
}

// exitCode separates configuration mistakes from API and internal failures.
func exitCode(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return 2
	case errs.KindAuth:
		return 3
	case errs.KindUpstream:
		return 4
	}
	return 1
}
