package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/invoice-ledger/internal/common"
	"github.com/joseph-ayodele/invoice-ledger/internal/export"
)

func newStatsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print memory bank statistics and flagged vendors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.validate(); err != nil {
				return err
			}
			if err := a.openLedger(cmd.Context()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !asJSON {
				fmt.Fprint(out, a.bank.Summary())
				return nil
			}
			snap := a.bank.Snapshot()
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Stats   any `json:"stats"`
				LastRun any `json:"last_run,omitempty"`
				Flagged any `json:"flagged_vendors"`
			}{snap.Stats, snap.LastRun, a.bank.FlaggedVendors()})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Rebuild the workbook from the memory bank without processing files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("output") {
				a.cfg.Pipeline.OutputPath = output
			}
			if err := a.validate(); err != nil {
				return err
			}
			if err := a.openLedger(cmd.Context()); err != nil {
				return err
			}
			rows := a.bank.Rows()
			dest := a.cfg.Pipeline.OutputPath
			if err := export.NewXLSXExporter(a.logger).Write(cmd.Context(), rows, dest); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d rows -> %s\n", len(rows), dest)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output workbook")
	return cmd
}

func newFlagCmd(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "flag <vendor>",
		Short: "Flag a vendor so its next documents are reparsed and sent to review",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vendor := strings.TrimSpace(strings.Join(args, " "))
			if vendor == "" {
				return fmt.Errorf("%w: vendor name is empty", common.ErrInvalidInput)
			}
			if err := a.validate(); err != nil {
				return err
			}
			if err := a.openLedger(cmd.Context()); err != nil {
				return err
			}
			a.bank.FlagVendor(vendor, reason)
			if err := a.bank.Save(cmd.Context()); err != nil {
				return err
			}
			f, _ := a.bank.VendorFlag(vendor)
			fmt.Fprintf(cmd.OutOrStdout(), "flagged %q (count %d): %s\n", f.VendorName, f.OccurrenceCount, f.Reason)
			return nil
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "manually flagged", "reason shown on review")
	return cmd
}
