// Package cmd provides the switchyard command-line interface.
//
// Configuration is read, from highest to lowest priority, from command-line
// flags, SWITCHYARD_<SECTION>_<OPTION> environment variables and a YAML
// configuration file. The file is chosen by --config, then by the
// SWITCHYARD_CONFIG_FILE environment variable, and defaults to
// .switchyard.yml in the working directory.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/switchyard/internal/catalog"
	"github.com/conneroisu/switchyard/internal/config"
	"github.com/conneroisu/switchyard/internal/errors"
	"github.com/conneroisu/switchyard/internal/showcase"
)

// ConfigFileEnv names an alternative configuration file.
const ConfigFileEnv = "SWITCHYARD_CONFIG_FILE"

const defaultConfigName = ".switchyard"

// Execute runs the root command with the process arguments.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the command tree around a fresh viper instance.
func NewRootCommand() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:   "switchyard",
		Short: "A component registry and HTTP dispatcher",
		Long: `switchyard discovers the components of an application, wires their
dependencies, derives a route table from the controllers it finds and serves
HTTP requests through filters, interceptors and bound handler methods.

Quick Start:
  switchyard serve                Serve the bundled application
  switchyard routes               Print the route table
  switchyard components           List the discovered components
  switchyard version              Show version information`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile)
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .switchyard.yml, can also use "+ConfigFileEnv+")")
	root.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "text", "log format (text, json)")
	_ = v.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("logging.format", root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(
		newServeCommand(v),
		newRoutesCommand(v),
		newComponentsCommand(v),
		newVersionCommand(),
	)
	return root
}

// initConfig points v at the configuration file and enables environment
// overrides. A missing default file is not an error; a missing explicit one
// is.
func initConfig(v *viper.Viper, cfgFile string) error {
	explicit := true
	switch {
	case cfgFile != "":
		v.SetConfigFile(cfgFile)
	case os.Getenv(ConfigFileEnv) != "":
		v.SetConfigFile(os.Getenv(ConfigFileEnv))
	default:
		explicit = false
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(defaultConfigName)
	}

	config.ConfigureEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !explicit && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.LoadFrom(v)
	if err != nil {
		return nil, err
	}
	if len(cfg.Discovery.Namespaces) == 0 {
		cfg.Discovery.Namespaces = []string{showcase.Namespace}
	}
	return cfg, nil
}

// applicationCatalog holds the components served by this binary.
func applicationCatalog() (*catalog.Catalog, error) {
	cat := catalog.New()
	if err := showcase.Register(cat); err != nil {
		return nil, fmt.Errorf("register components: %w", err)
	}
	return cat, nil
}
