// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the pdf2md CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pdiddy/pdf2md/internal/httputil"
	"github.com/pdiddy/pdf2md/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from the secrets directory at startup.
var loadedSecrets = secrets.Set{}

// log is the process-wide logger; diagnostics go to stderr so stdout keeps
// only status lines.
var log = logrus.New()

// flagKeys maps command-line flags to configuration keys. A flag is bound
// only on commands that define it.
var flagKeys = map[string]string{
	"output":         "output_dir",
	"engine":         "engine.backend",
	"output-format":  "engine.output_format",
	"extract-images": "engine.extract_images",
	"debug":          "engine.debug",
	"output-folder":  "engine.output_folder",
	"skip-existing":  "skip_existing",
	"ledger":         "ledger.path",
	"marker-image":   "marker.image",
	"marker-url":     "marker.url",
	"use-llm":        "marker.use_llm",
}

// rootCmd is the base command for the pdf2md CLI.
var rootCmd = &cobra.Command{
	Use:   "pdf2md",
	Short: "Batch-convert PDF documents into Markdown",
	Long: `pdf2md converts every PDF in a directory into a per-document output
folder holding the text (Markdown, JSON, or HTML), a metadata JSON file,
and the extracted images as PNG.

Conversion runs through one of three engines: native (pure Go), marker
(container image), or marker-server (HTTP). Failed documents are reported
and the batch continues.`,
	SilenceUsage: true,
}

// persistentPreRunE binds flags, configures logging, and loads secrets before
// every command. It is assigned in init to avoid an initialization cycle
// through setupLogger.
func persistentPreRunE(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd.Flags()); err != nil {
		return err
	}
	setupLogger()

	dir, _ := cmd.Flags().GetString("secrets-dir")
	s, err := secrets.Load(dir, log)
	if err != nil {
		return err
	}
	loadedSecrets = s
	if len(s) > 0 {
		keys := make([]string, 0, len(s))
		for k := range s {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		log.WithField("keys", keys).Debug("loaded secrets")
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = persistentPreRunE
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./pdf2md.yaml or ~/.config/pdf2md/pdf2md.yaml)")
	rootCmd.PersistentFlags().String("secrets-dir", ".secrets/", "directory of secret key files")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (default info, debug with --debug)")
	setDefaults()
}

// setDefaults registers the configuration defaults.
func setDefaults() {
	viper.SetDefault("source_dir", "pdfs")
	viper.SetDefault("output_dir", "md_output")
	viper.SetDefault("engine.backend", "native")
	viper.SetDefault("engine.output_format", "markdown")
	viper.SetDefault("engine.extract_images", true)
	viper.SetDefault("engine.debug", false)
	viper.SetDefault("engine.output_folder", "")
	viper.SetDefault("marker.image", "marker:latest")
	viper.SetDefault("marker.url", "")
	viper.SetDefault("marker.use_llm", false)
	viper.SetDefault("ledger.path", ".pdf2md/ledger.db")
	viper.SetDefault("skip_existing", false)
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("pdf2md")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "pdf2md"))
		}
	}

	viper.SetEnvPrefix("PDF2MD")
	viper.SetEnvKeyReplacer(envReplacer())
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// envReplacer maps engine.backend to PDF2MD_ENGINE_BACKEND.
func envReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}

func bindFlags(flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding --%s: %w", name, err)
		}
	}
	return nil
}

func setupLogger() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(logrus.InfoLevel)
	if viper.GetBool("engine.debug") {
		log.SetLevel(logrus.DebugLevel)
	}
	if lvl, _ := rootCmd.PersistentFlags().GetString("log-level"); lvl != "" {
		if parsed, err := logrus.ParseLevel(lvl); err == nil {
			log.SetLevel(parsed)
		} else {
			log.WithError(err).Warn("ignoring --log-level")
		}
	}
	httputil.Logger = log
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
