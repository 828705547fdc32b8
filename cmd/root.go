// Package cmd implements the biomapper command line interface.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/arpanauts/biomapper/internal/config"
)

var (
	cfgFile string
	dbPath  string

	cfg *config.Config
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "biomapper",
	Short: "Map biological identifiers across vocabularies",
	Long: `biomapper translates biological identifiers (gene symbols, UniProt
accessions, metabolite ids, ...) between vocabularies by walking translation
paths configured in a metadata database.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if dbPath != "" {
			loaded.DBPath = dbPath
		}
		cfg = loaded
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
		slog.SetDefault(log)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the metadata database (overrides config)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
