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

	"github.com/conneroisu/switchyard/internal/di"
	"github.com/conneroisu/switchyard/internal/routing"
)

// RouteInfo describes one route table entry.
type RouteInfo struct {
	Verb     string   `json:"verb" yaml:"verb"`
	Pattern  string   `json:"pattern" yaml:"pattern"`
	Handler  string   `json:"handler" yaml:"handler"`
	Params   []string `json:"params,omitempty" yaml:"params,omitempty"`
	Produces string   `json:"produces,omitempty" yaml:"produces,omitempty"`
}

// ScopeInfo describes a filter or interceptor registration.
type ScopeInfo struct {
	Kind    string `json:"kind" yaml:"kind"`
	Pattern string `json:"pattern" yaml:"pattern"`
	Order   int    `json:"order" yaml:"order"`
	Owner   string `json:"owner" yaml:"owner"`
}

// RouteListing is the output of the routes command.
type RouteListing struct {
	Routes []RouteInfo `json:"routes" yaml:"routes"`
	Scopes []ScopeInfo `json:"scopes" yaml:"scopes"`
}

func newRoutesCommand(v *viper.Viper) *cobra.Command {
	output := newEnum(formatTable, formatTable, formatJSON, formatYAML)
	cmd := &cobra.Command{
		Use:     "routes",
		Aliases: []string{"r"},
		Short:   "Print the route table",
		Long: `Build the route table without opening a listener and print every route
together with the filters and interceptors that apply.

Examples:
  switchyard routes            # Table output
  switchyard routes -o json    # JSON output`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := bootContainer(v)
			if err != nil {
				return err
			}
			defer container.Shutdown(context.Background())

			table, err := container.Routes()
			if err != nil {
				return err
			}
			return writeRoutes(cmd.OutOrStdout(), describeRoutes(table), output.String())
		},
	}
	cmd.Flags().VarP(output, "output", "o", "output format (table, json, yaml)")
	return cmd
}

func bootContainer(v *viper.Viper) (*di.ServiceContainer, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, err
	}
	cat, err := applicationCatalog()
	if err != nil {
		return nil, err
	}
	container := di.NewServiceContainer(cfg, cat)
	if err := container.Boot(); err != nil {
		return nil, err
	}
	return container, nil
}

func describeRoutes(table *routing.Table) RouteListing {
	var out RouteListing
	for _, h := range table.Routes() {
		info := RouteInfo{
			Verb:     string(h.Verb),
			Pattern:  h.Pattern.String(),
			Handler:  fmt.Sprintf("%s.%s", h.Owner, h.Method),
			Produces: h.Produces,
		}
		if h.Plan != nil {
			for _, name := range h.Plan.Names() {
				if name != "" {
					info.Params = append(info.Params, name)
				}
			}
		}
		out.Routes = append(out.Routes, info)
	}
	for _, f := range table.Filters() {
		out.Scopes = append(out.Scopes, ScopeInfo{Kind: "filter", Pattern: f.Pattern.String(), Order: f.Order, Owner: string(f.Owner)})
	}
	for _, in := range table.Interceptors() {
		out.Scopes = append(out.Scopes, ScopeInfo{Kind: "interceptor", Pattern: in.Pattern.String(), Order: in.Order, Owner: string(in.Owner)})
	}
	return out
}

func writeRoutes(w io.Writer, listing RouteListing, format string) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(listing)
	case formatYAML:
		return yaml.NewEncoder(w).Encode(listing)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERB\tPATTERN\tHANDLER\tPARAMS")
	for _, r := range listing.Routes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Verb, r.Pattern, r.Handler, strings.Join(r.Params, ","))
	}
	if len(listing.Scopes) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "KIND\tPATTERN\tORDER\tOWNER")
		for _, s := range listing.Scopes {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.Kind, s.Pattern, s.Order, s.Owner)
		}
	}
	return tw.Flush()
}
