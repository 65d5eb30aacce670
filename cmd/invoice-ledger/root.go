package main

import (
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/invoice-ledger/constants"
	"github.com/joseph-ayodele/invoice-ledger/internal/common"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	ledgerPath string
	backend    string
}

// newRootCmd builds the command tree around a.
func newRootCmd(a *app, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "invoice-ledger",
		Short: "Extract invoices into a spreadsheet, remembering vendors that needed review",
		Long: `invoice-ledger reads PDF, image and text invoices, extracts structured
data with an LLM (or a deterministic mock), and writes one row per line item
to an XLSX workbook. A persistent memory bank skips unchanged files and
re-examines documents from vendors that previously needed review.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := common.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("log-level") {
				cfg.Log.Level = opts.logLevel
			}
			if flags.Changed("log-format") {
				cfg.Log.Format = opts.logFormat
			}
			if flags.Changed("ledger") {
				cfg.Ledger.Path = opts.ledgerPath
			}
			if flags.Changed("backend") {
				cfg.Ledger.Backend = constants.LedgerBackend(opts.backend)
			}
			a.cfg = cfg
			a.logger = newLogger(cfg.Log, stderr)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "TOML config file (default $CONFIG_FILE)")
	pf.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	pf.StringVar(&opts.logFormat, "log-format", "text", "text or json")
	pf.StringVar(&opts.ledgerPath, "ledger", "", "memory bank file for the json backend")
	pf.StringVar(&opts.backend, "backend", "", "ledger backend: json, sqlite, postgres or redis")

	cmd.AddCommand(
		newRunCmd(a),
		newWatchCmd(a),
		newStatsCmd(a),
		newExportCmd(a),
		newFlagCmd(a),
		newTextCmd(a),
		newParseCmd(a),
		newPingCmd(a),
	)
	return cmd
}

// validate runs config validation after command flags were applied.
func (a *app) validate() error {
	if err := a.cfg.Validate(); err != nil {
		a.logger.Error("config.invalid", "error", err)
		return err
	}
	return nil
}

// exitCode is 2 for configuration errors and 1 for anything else.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, common.ErrConfig) {
		return 2
	}
	return 1
}
