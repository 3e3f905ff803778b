package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/switchyard/internal/version"
)

func newVersionCommand() *cobra.Command {
	output := newEnum(formatText, formatText, formatJSON, formatYAML)
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display the version, commit, build time, Go version and platform.

Examples:
  switchyard version            # Detailed text
  switchyard version --short    # Version only
  switchyard version -o json    # JSON output`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			w := cmd.OutOrStdout()
			switch output.String() {
			case formatJSON:
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			case formatYAML:
				return yaml.NewEncoder(w).Encode(info)
			}
			if short {
				_, err := fmt.Fprintln(w, info.Short())
				return err
			}
			_, err := fmt.Fprintln(w, info.String())
			return err
		},
	}
	cmd.Flags().VarP(output, "output", "o", "output format (text, json, yaml)")
	cmd.Flags().BoolVar(&short, "short", false, "show the version only")
	return cmd
}
