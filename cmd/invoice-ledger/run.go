package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/joseph-ayodele/invoice-ledger/internal/ingest"
	"github.com/joseph-ayodele/invoice-ledger/internal/pipeline"
)

// pipelineFlags are shared by run and watch.
type pipelineFlags struct {
	input          string
	output         string
	pattern        string
	workers        int
	callTimeout    time.Duration
	includeSkipped bool
	useLLM         bool
	provider       string
}

func (f *pipelineFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.input, "input", "i", "", "input directory (default $INPUT_DIR or ./pdf)")
	fs.StringVarP(&f.output, "output", "o", "", "output workbook (default $OUTPUT_PATH or invoices.xlsx)")
	fs.StringVar(&f.pattern, "pattern", "", "doublestar pattern relative to the input directory")
	fs.IntVarP(&f.workers, "workers", "w", 0, "files processed in parallel")
	fs.DurationVar(&f.callTimeout, "call-timeout", 0, "timeout of each text extraction or extractor call")
	fs.BoolVar(&f.includeSkipped, "include-skipped", true, "export rows of unchanged files from the memory bank")
	fs.BoolVar(&f.useLLM, "llm", false, "use the real extractor instead of the mock")
	fs.StringVar(&f.provider, "provider", "", "llm provider: anthropic or openai")
}

func (f *pipelineFlags) apply(a *app, fs *pflag.FlagSet) {
	p := &a.cfg.Pipeline
	if fs.Changed("input") {
		p.InputDir = f.input
	}
	if fs.Changed("output") {
		p.OutputPath = f.output
	}
	if fs.Changed("pattern") {
		p.Pattern = f.pattern
	}
	if fs.Changed("workers") {
		p.Workers = f.workers
	}
	if fs.Changed("call-timeout") {
		p.CallTimeout = f.callTimeout
	}
	if fs.Changed("include-skipped") {
		p.IncludeSkipped = f.includeSkipped
	}
	if fs.Changed("llm") {
		a.cfg.Extractor.UseLLM = f.useLLM
	}
	if fs.Changed("provider") {
		a.cfg.Extractor.Provider = f.provider
	}
}

func newRunCmd(a *app) *cobra.Command {
	flags := &pipelineFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every invoice in the input directory once and export the workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags.apply(a, cmd.Flags())
			if err := a.validate(); err != nil {
				return err
			}
			p := a.cfg.Pipeline

			paths, stats, err := ingest.Discover(p.InputDir, p.Pattern, a.logger)
			if err != nil {
				return err
			}
			a.logger.Info("run.discovered", "dir", p.InputDir, "matched", stats.Matched, "ignored", stats.Ignored)

			orch, err := a.newOrchestrator()
			if err != nil {
				return err
			}
			if err := a.openLedger(cmd.Context()); err != nil {
				return err
			}

			report, runErr := orch.Run(cmd.Context(), a.bank, paths, p.OutputPath)
			printReport(cmd.OutOrStdout(), report, p.OutputPath)
			fmt.Fprint(cmd.OutOrStdout(), a.bank.Summary())
			return runErr
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func printReport(w io.Writer, r pipeline.RunReport, dest string) {
	fmt.Fprintf(w, "Run %s finished in %s\n", r.RunID, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  processed:    %d (ok %d, needs review %d, error %d)\n", r.Processed, r.OK, r.NeedsReview, r.Errors)
	fmt.Fprintf(w, "  skipped:      %d\n", r.Skipped)
	if r.Exported > 0 {
		fmt.Fprintf(w, "  exported:     %d rows -> %s\n", r.Exported, dest)
	}
	if r.SaveErrors > 0 {
		fmt.Fprintf(w, "  save errors:  %d\n", r.SaveErrors)
	}
	if r.Canceled {
		fmt.Fprintln(w, "  interrupted: unfinished files will be retried on the next run")
	}
}
