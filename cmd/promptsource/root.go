package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	cfgFile      string
	envFile      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "promptsource",
	Short: "Resolve tenant prompts from remote content repositories",
	Long: `promptsource resolves the instruction text for a tenant and request context
from the tenant's own content repository, with multi-tier caching and a
fallback chain that always produces content.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env file is normal outside local development.
		if envFile != "" {
			return godotenv.Load(envFile)
		}
		_ = godotenv.Load()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/promptsource/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&envFile, "env-file", "", "dotenv file to load before reading configuration",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "json", "output format: json or yaml",
	)
}

func writeOutput(w io.Writer, v interface{}) error {
	switch outputFormat {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", outputFormat)
	}
}
