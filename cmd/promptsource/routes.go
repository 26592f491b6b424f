package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/devrev/promptsource/internal/model"
	"github.com/devrev/promptsource/internal/routing"
)

type patternReport struct {
	Line     int    `json:"line" yaml:"line"`
	Template string `json:"template" yaml:"template"`
	Priority int    `json:"priority" yaml:"priority"`
}

type lineReport struct {
	Line   int    `json:"line" yaml:"line"`
	Text   string `json:"text" yaml:"text"`
	Reason string `json:"reason" yaml:"reason"`
}

type routesReport struct {
	Version     int             `json:"version,omitempty" yaml:"version,omitempty"`
	DefaultPath string          `json:"default_path,omitempty" yaml:"default_path,omitempty"`
	Patterns    []patternReport `json:"patterns" yaml:"patterns"`
	Skipped     []lineReport    `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Resolved    string          `json:"resolved,omitempty" yaml:"resolved,omitempty"`
}

var validateRoutesCmd = &cobra.Command{
	Use:   "validate-routes <file>",
	Short: "Parse a routing document and show patterns in priority order",
	Long: `Parse a local routing document the way the resolver does. Patterns are
listed in the order they are tried and skipped lines are reported with a
reason. With --set, the document is also resolved against that context.

Examples:
  promptsource validate-routes prompts.routes
  promptsource validate-routes prompts.routes --set type=brief --set channel=42`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		values, err := parseDimensions(dimensions)
		if err != nil {
			return err
		}

		report := buildRoutesReport(string(data))
		if len(values) > 0 {
			rc := model.NewRequestContext("local", model.PromptRole(promptRole), values)
			report.Resolved = resolveLocal(string(data), rc)
		}

		if err := writeOutput(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if len(report.Skipped) > 0 {
			return fmt.Errorf("%d routing lines were skipped", len(report.Skipped))
		}
		return nil
	},
}

func buildRoutesReport(document string) routesReport {
	doc, problems := routing.Parse(document)

	report := routesReport{
		Version:  doc.Version,
		Patterns: make([]patternReport, 0, len(doc.Patterns)),
	}
	if doc.DefaultPath != nil {
		report.DefaultPath = doc.DefaultPath.Template
	}
	for _, p := range doc.Patterns {
		report.Patterns = append(report.Patterns, patternReport{Line: p.Line, Template: p.Template, Priority: p.Priority})
	}
	for _, p := range problems {
		report.Skipped = append(report.Skipped, lineReport{Line: p.Line, Text: p.Text, Reason: p.Reason})
	}
	return report
}

// resolveLocal picks the file the resolver would fetch for rc.
func resolveLocal(document string, rc model.RequestContext) string {
	path, err := routing.NewRouter(zap.NewNop()).Route(document, rc)
	if err != nil {
		return routing.DefaultPath(rc)
	}
	return path
}

func init() {
	validateRoutesCmd.Flags().StringVar(&promptRole, "prompt-role", string(model.PromptRoleSystem), "prompt role: system or user")
	validateRoutesCmd.Flags().StringArrayVar(&dimensions, "set", nil, "dimension value as name=value (repeatable)")
	rootCmd.AddCommand(validateRoutesCmd)
}
