package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/invoice-ledger/internal/llm"
	"github.com/joseph-ayodele/invoice-ledger/internal/policy"
	"github.com/joseph-ayodele/invoice-ledger/internal/repository"
)

func newTextCmd(a *app) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "text <file>",
		Short: "Print the text extracted from one document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.newTextProvider().Extract(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if verbose {
				fmt.Fprintf(out, "method=%s pages=%d confidence=%.2f elapsed=%s\n",
					res.Method, res.Pages, res.Confidence, res.Duration.Round(time.Millisecond))
				for _, w := range res.Warnings {
					fmt.Fprintf(out, "warning: %s\n", w)
				}
			}
			fmt.Fprintln(out, res.Text)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print extraction method and confidence")
	return cmd
}

func newParseCmd(a *app) *cobra.Command {
	var useLedger bool
	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Extract one document and print the invoice JSON without recording it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.validate(); err != nil {
				return err
			}
			extractor, _, err := newExtractor(a.cfg.Extractor, a.logger)
			if err != nil {
				return err
			}
			text, err := a.newTextProvider().Text(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			req := llm.ParseRequest{Text: text, FilenameHint: filepath.Base(args[0])}
			inv, err := extractor.Parse(cmd.Context(), req)
			if err != nil {
				return err
			}
			if useLedger {
				if err := a.openLedger(cmd.Context()); err != nil {
					return err
				}
				if f, ok := a.bank.VendorFlag(inv.VendorName); ok {
					req.VendorContext = policy.VendorContext(f)
					if inv, err = extractor.Parse(cmd.Context(), req); err != nil {
						return err
					}
				}
				inv = policy.Apply(a.bank, inv)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(inv)
		},
	}
	cmd.Flags().BoolVar(&useLedger, "policy", false, "apply vendor flags from the memory bank")
	return cmd
}

func newPingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the configured ledger store is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.validate(); err != nil {
				return err
			}
			if err := a.openLedger(cmd.Context()); err != nil {
				return err
			}
			start := time.Now()
			if p, ok := a.store.(repository.Pinger); ok {
				if err := p.Ping(cmd.Context()); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ledger ok (%s, %d files)\n",
				a.cfg.Ledger.Backend, time.Since(start).Round(time.Millisecond), len(a.bank.Records()))
			return nil
		},
	}
}
