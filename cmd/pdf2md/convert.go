// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/pdf2md/internal/convert"
	"github.com/pdiddy/pdf2md/internal/device"
	"github.com/pdiddy/pdf2md/internal/engine"
	"github.com/pdiddy/pdf2md/internal/ledger"
	"github.com/pdiddy/pdf2md/internal/secrets"
	"github.com/pdiddy/pdf2md/pkg/types"
)

var convertCmd = &cobra.Command{
	Use:   "convert [source-dir]",
	Short: "Convert every PDF in a directory",
	Long: `Convert scans source-dir (default: pdfs) for *.pdf files and converts
each one into output/<name>/ holding <name>.<ext>, <name>_meta.json, and
the extracted images as PNG.

A document that cannot be converted is reported and skipped; the batch
continues. Each run is recorded in the ledger unless --ledger is empty.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConvert,
}

var convertFileCmd = &cobra.Command{
	Use:   "convert-file <pdf>",
	Short: "Convert a single PDF",
	Long: `Convert-file converts one PDF into output/<name>/. It fails without
creating anything when the file does not exist.`,
	Args: cobra.ExactArgs(1),
	RunE: runConvertFile,
}

func init() {
	for _, cmd := range []*cobra.Command{convertCmd, convertFileCmd} {
		addEngineFlags(cmd)
	}
	convertCmd.Flags().Bool("skip-existing", false, "skip documents whose text output already exists")
	convertCmd.Flags().String("ledger", "", "ledger database path (default .pdf2md/ledger.db, empty string in config disables)")

	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(convertFileCmd)
}

func addEngineFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "", "output root directory (default md_output)")
	cmd.Flags().String("engine", "", "conversion engine: native, marker, or marker-server (default native)")
	cmd.Flags().String("output-format", "", "text format: markdown, json, or html (default markdown)")
	cmd.Flags().Bool("extract-images", true, "extract embedded images")
	cmd.Flags().Bool("debug", false, "verbose engine diagnostics")
	cmd.Flags().String("output-folder", "", "scratch location for engines that need one")
	cmd.Flags().String("marker-image", "", "marker container image (default marker:latest)")
	cmd.Flags().String("marker-url", "", "marker server base URL")
	cmd.Flags().Bool("use-llm", false, "enable marker LLM mode (needs gemini-api-key)")
}

// batchConfig assembles the run configuration from viper and secrets.
func batchConfig() types.BatchConfig {
	return types.BatchConfig{
		SourceDir:    viper.GetString("source_dir"),
		OutputDir:    viper.GetString("output_dir"),
		Backend:      types.EngineBackend(viper.GetString("engine.backend")),
		SkipExisting: viper.GetBool("skip_existing"),
		Engine: types.EngineConfig{
			OutputFormat:  types.OutputFormat(viper.GetString("engine.output_format")),
			ExtractImages: viper.GetBool("engine.extract_images"),
			OutputFolder:  viper.GetString("engine.output_folder"),
			Debug:         viper.GetBool("engine.debug"),
		},
		Marker: types.MarkerConfig{
			Image:        viper.GetString("marker.image"),
			URL:          viper.GetString("marker.url"),
			UseLLM:       viper.GetBool("marker.use_llm"),
			GeminiAPIKey: loadedSecrets.Get(secrets.KeyGemini),
			Token:        loadedSecrets.Get(secrets.KeyMarkerServerToken),
		},
		Ledger: types.LedgerConfig{Path: viper.GetString("ledger.path")},
	}
}

// probed replays a single device probe to the orchestrator.
type probed device.Report

func (p probed) Probe() device.Report { return device.Report(p) }

// newBatch builds the engine once and wraps it for the whole run.
func newBatch(cmd *cobra.Command, cfg types.BatchConfig) (*convert.Batch, error) {
	report := device.NewProber().Probe()

	eng, err := engine.New(cfg.Backend, cfg.Engine, engine.Deps{
		Device: report,
		Marker: cfg.Marker,
		Log:    log,
	})
	if err != nil {
		return nil, err
	}

	orch, err := convert.NewOrchestrator(eng, cfg.Engine, probed(report), log)
	if err != nil {
		return nil, err
	}

	return &convert.Batch{
		Orchestrator: orch,
		OutputDir:    cfg.OutputDir,
		Out:          cmd.OutOrStdout(),
		Log:          log,
		SkipExisting: cfg.SkipExisting,
	}, nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg := batchConfig()
	if len(args) > 0 {
		cfg.SourceDir = args[0]
	}

	batch, err := newBatch(cmd, cfg)
	if err != nil {
		return err
	}

	if cfg.Ledger.Path != "" {
		store, err := ledger.NewStore(cfg.Ledger.Path)
		if err != nil {
			log.WithError(err).Warn("ledger unavailable, run will not be recorded")
		} else {
			defer store.Close()
			batch.Recorder = store
		}
	}

	result, err := batch.Run(cmd.Context(), cfg.SourceDir)
	if err != nil {
		return err
	}
	if result.RunID != "" {
		log.WithField("run_id", result.RunID).Debug("run recorded")
	}
	if result.HasFailures() {
		return fmt.Errorf("%d document(s) failed conversion", result.Failed)
	}
	return nil
}

func runConvertFile(cmd *cobra.Command, args []string) error {
	cfg := batchConfig()

	batch, err := newBatch(cmd, cfg)
	if err != nil {
		return err
	}
	_, err = batch.ConvertOne(cmd.Context(), args[0])
	return err
}
