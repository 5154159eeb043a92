// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/pdf2md/internal/ledger"
	"github.com/pdiddy/pdf2md/pkg/types"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect recorded conversion runs (runs, documents, export)",
	Long: `Ledger reads the SQLite database that convert writes after every
run. Use subcommands to list runs, show the documents of one run, or
export everything.`,
}

// --- runs subcommand ---

var ledgerRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs, newest first",
	RunE:  runLedgerRuns,
}

func runLedgerRuns(cmd *cobra.Command, args []string) error {
	store, err := openLedger()
	if err != nil {
		return err
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := store.Runs(cmd.Context(), limit)
	if err != nil {
		return err
	}
	return formatRuns(cmd.OutOrStdout(), runs)
}

func formatRuns(w io.Writer, runs []types.RunInfo) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	fmt.Fprintf(w, "%-36s  %-20s  %-13s  %9s  %7s  %6s\n",
		"Run", "Started", "Engine", "Converted", "Skipped", "Failed")
	fmt.Fprintln(w, strings.Repeat("-", 101))
	for _, r := range runs {
		fmt.Fprintf(w, "%-36s  %-20s  %-13s  %9d  %7d  %6d\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Engine, r.Converted, r.Skipped, r.Failed)
	}
	fmt.Fprintf(w, "\n%d runs\n", len(runs))
	return nil
}

// --- documents subcommand ---

var ledgerDocumentsCmd = &cobra.Command{
	Use:   "documents <run-id>",
	Short: "Show the documents of one run",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerDocuments,
}

func runLedgerDocuments(cmd *cobra.Command, args []string) error {
	store, err := openLedger()
	if err != nil {
		return err
	}
	defer store.Close()

	docs, err := store.Documents(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return formatDocuments(cmd.OutOrStdout(), docs)
}

func formatDocuments(w io.Writer, docs []types.DocumentRecord) error {
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents recorded for this run.")
		return nil
	}

	fmt.Fprintf(w, "%-30s  %-9s  %6s  %s\n", "Document", "Status", "Images", "Detail")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, d := range docs {
		name := d.BaseName
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		detail := d.OutputDir
		if d.Status == types.ConversionFailed {
			detail = d.Error
		}
		fmt.Fprintf(w, "%-30s  %-9s  %6d  %s\n", name, d.Status, d.ImageCount, detail)
	}
	return nil
}

// --- export subcommand ---

var ledgerExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every run and its documents as YAML or JSON",
	RunE:  runLedgerExport,
}

func runLedgerExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")

	store, err := openLedger()
	if err != nil {
		return err
	}
	defer store.Close()

	switch format {
	case "yaml", "":
		return store.ExportYAML(cmd.Context(), cmd.OutOrStdout())
	case "json":
		return store.ExportJSON(cmd.Context(), cmd.OutOrStdout())
	}
	return fmt.Errorf("unsupported format %q: use yaml or json", format)
}

// --- shared helpers ---

func openLedger() (*ledger.Store, error) {
	path := viper.GetString("ledger.path")
	if path == "" {
		return nil, fmt.Errorf("no ledger configured: set ledger.path or pass --ledger")
	}
	return ledger.NewStore(path)
}

func init() {
	ledgerCmd.PersistentFlags().String("ledger", "", "ledger database path (default .pdf2md/ledger.db)")

	ledgerRunsCmd.Flags().Int("limit", 20, "maximum runs to list (0 = all)")
	ledgerExportCmd.Flags().String("format", "yaml", "export format: yaml or json")

	ledgerCmd.AddCommand(ledgerRunsCmd)
	ledgerCmd.AddCommand(ledgerDocumentsCmd)
	ledgerCmd.AddCommand(ledgerExportCmd)

	rootCmd.AddCommand(ledgerCmd)
}
