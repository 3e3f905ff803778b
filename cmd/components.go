package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/switchyard/internal/registry"
)

// ComponentInfo describes one registry entry.
type ComponentInfo struct {
	Type    string   `json:"type" yaml:"type"`
	Source  string   `json:"source" yaml:"source"`
	Tags    []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Factory string   `json:"factory,omitempty" yaml:"factory,omitempty"`
}

func newComponentsCommand(v *viper.Viper) *cobra.Command {
	output := newEnum(formatTable, formatTable, formatJSON, formatYAML)
	cmd := &cobra.Command{
		Use:     "components",
		Aliases: []string{"c", "list"},
		Short:   "List the discovered components",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := bootContainer(v)
			if err != nil {
				return err
			}
			defer container.Shutdown(context.Background())

			reg, err := container.Registry()
			if err != nil {
				return err
			}
			return writeComponents(cmd.OutOrStdout(), describeComponents(reg), output.String())
		},
	}
	cmd.Flags().VarP(output, "output", "o", "output format (table, json, yaml)")
	return cmd
}

func describeComponents(reg *registry.Registry) []ComponentInfo {
	entries := reg.Entries()
	out := make([]ComponentInfo, 0, len(entries))
	for _, e := range entries {
		info := ComponentInfo{Type: string(e.ID), Source: string(e.Source)}
		if e.Descriptor != nil {
			for _, t := range e.Descriptor.Tags {
				info.Tags = append(info.Tags, string(t))
			}
		}
		if e.Factory != "" {
			info.Factory = fmt.Sprintf("%s.%s", e.Origin, e.Factory)
		}
		out = append(out, info)
	}
	return out
}

func writeComponents(w io.Writer, comps []ComponentInfo, format string) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(comps)
	case formatYAML:
		return yaml.NewEncoder(w).Encode(comps)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tSOURCE\tTAGS\tFACTORY")
	for _, c := range comps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Type, c.Source, strings.Join(c.Tags, ","), c.Factory)
	}
	return tw.Flush()
}
