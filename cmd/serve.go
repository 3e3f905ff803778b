package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/switchyard/internal/di"
)

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Serve the application over HTTP",
		Long: `Discover and wire the application components, build the route table and
serve requests until interrupted.

Examples:
  switchyard serve                        # Serve on localhost:9000
  switchyard serve -p 8080 --host 0.0.0.0 # Serve on all interfaces
  switchyard serve --static ./public      # Serve static pages from ./public
  switchyard serve --binding source --source-dir ./internal/showcase`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), v)
		},
	}

	f := cmd.Flags()
	f.IntP("port", "p", 9000, "port to serve on")
	f.String("host", "localhost", "host to bind to")
	f.Int("max-connections", 0, "maximum concurrent connections (0 is unlimited)")
	f.String("static", "static", "static content root")
	f.Bool("watch", false, "evict cached static files when they change")
	f.StringSlice("namespace", nil, "discovery namespaces")
	f.String("binding", "auto", "parameter binding strategy (auto, declared, source)")
	f.StringSlice("source-dir", nil, "source directories for the source binding strategy")
	f.Bool("metrics", true, "expose prometheus metrics")

	bind := map[string]string{
		"server.port":            "port",
		"server.host":            "host",
		"server.max_connections": "max-connections",
		"static.root":            "static",
		"static.watch":           "watch",
		"discovery.namespaces":   "namespace",
		"binding.strategy":       "binding",
		"binding.source_dirs":    "source-dir",
		"metrics.enabled":        "metrics",
	}
	for key, name := range bind {
		_ = v.BindPFlag(key, f.Lookup(name))
	}
	return cmd
}

func runServe(ctx context.Context, v *viper.Viper) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	cat, err := applicationCatalog()
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	container := di.NewServiceContainer(cfg, cat)
	if err := container.Run(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
