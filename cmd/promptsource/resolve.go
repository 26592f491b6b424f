package main

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/devrev/promptsource/internal/config"
	"github.com/devrev/promptsource/internal/model"
)

var (
	promptRole string
	dimensions []string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <tenant-id>",
	Short: "Resolve one prompt and print it with its source",
	Long: `Resolve a prompt the same way the API does, using the configured tiers
and tenant configuration store.

Examples:
  promptsource resolve acme --set type=brief
  promptsource resolve acme --prompt-role user --set channel=support -o yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := parseDimensions(dimensions)
		if err != nil {
			return err
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger, _ := initLogger(cfg.Logging)
		defer logger.Sync()

		a, err := buildApp(cmd.Context(), cfg, prometheus.NewRegistry(), logger)
		if err != nil {
			return err
		}
		defer a.close()

		rc := model.NewRequestContext(args[0], model.PromptRole(promptRole), values)
		return writeOutput(cmd.OutOrStdout(), a.resolution.Resolve(cmd.Context(), rc))
	},
}

// parseDimensions turns repeated name=value flags into dimension values.
func parseDimensions(pairs []string) (map[string]string, error) {
	values := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid dimension %q, want name=value", p)
		}
		if !model.IsDimension(name) {
			return nil, fmt.Errorf("unknown dimension %q", name)
		}
		values[name] = value
	}
	return values, nil
}

func init() {
	resolveCmd.Flags().StringVar(&promptRole, "prompt-role", string(model.PromptRoleSystem), "prompt role: system or user")
	resolveCmd.Flags().StringArrayVar(&dimensions, "set", nil, "dimension value as name=value (repeatable)")
	rootCmd.AddCommand(resolveCmd)
}
