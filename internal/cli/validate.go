package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/quillaudio/microtune/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid        bool   `json:"valid"`
	Destinations int    `json:"destinations"`
	Routes       int    `json:"routes"`
	Error        string `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var printResolved bool
	cmd := &cobra.Command{
		Use:           "validate <config.yaml>",
		Short:         "Validate a configuration file",
		Long:          "Checks the configuration against the schema and semantic rules\nwithout opening any MIDI ports.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidateConfig(rootOpts, args[0], printResolved, cmd)
		},
	}
	cmd.Flags().BoolVar(&printResolved, "print", false, "print the resolved configuration with schema defaults applied")
	return cmd
}

func runValidateConfig(opts *RootOptions, path string, printResolved bool, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	cfg, err := config.Load(path)
	if err != nil {
		if opts.Format == "json" {
			_ = formatter.Error("E_CONFIG", err.Error())
		} else {
			fmt.Fprintf(formatter.Writer, "✗ %v\n", err)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("invalid configuration: %v", err))
	}

	if printResolved {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return NewExitError(ExitCommandError, fmt.Sprintf("marshaling configuration: %v", err))
		}
		fmt.Fprintf(formatter.Writer, "%s", out)
		return nil
	}

	if opts.Format == "json" {
		return formatter.Success(ValidationResult{
			Valid:        true,
			Destinations: len(cfg.Destinations),
			Routes:       len(cfg.Routes),
		})
	}
	fmt.Fprintf(formatter.Writer, "✓ configuration valid: %d destination(s), %d route(s)\n",
		len(cfg.Destinations), len(cfg.Routes))
	return nil
}
