// Package config provides configuration management for switchyard using
// Viper for loading from files, environment variables, and command-line
// flags.
//
// Configuration covers the transport (host, port, connection limit and
// timeouts), discovery namespaces, the parameter-binding strategy, the static
// content root, logging and metrics. Environment overrides use the
// SWITCHYARD_ prefix, e.g. SWITCHYARD_SERVER_PORT=9000.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Binding strategies.
const (
	StrategyAuto     = "auto"
	StrategyDeclared = "declared"
	StrategySource   = "source"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
	Binding   BindingConfig   `mapstructure:"binding" yaml:"binding"`
	Static    StaticConfig    `mapstructure:"static" yaml:"static"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	MaxConnections  int           `mapstructure:"max_connections" yaml:"max_connections"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type DiscoveryConfig struct {
	Namespaces []string `mapstructure:"namespaces" yaml:"namespaces"`
	Workers    int      `mapstructure:"workers" yaml:"workers"`
}

type BindingConfig struct {
	Strategy   string   `mapstructure:"strategy" yaml:"strategy"`
	SourceDirs []string `mapstructure:"source_dirs" yaml:"source_dirs"`
	MaxDepth   int      `mapstructure:"max_depth" yaml:"max_depth"`
}

type StaticConfig struct {
	Root     string   `mapstructure:"root" yaml:"root"`
	Suffixes []string `mapstructure:"suffixes" yaml:"suffixes"`
	Cache    bool     `mapstructure:"cache" yaml:"cache"`
	Watch    bool     `mapstructure:"watch" yaml:"watch"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SWITCHYARD"

// ConfigureEnv enables SWITCHYARD_SECTION_OPTION environment overrides on v.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 9000)
	v.SetDefault("server.max_connections", 0)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("discovery.namespaces", []string{})
	v.SetDefault("discovery.workers", 1)

	v.SetDefault("binding.strategy", StrategyAuto)
	v.SetDefault("binding.source_dirs", []string{})
	v.SetDefault("binding.max_depth", 8)

	v.SetDefault("static.root", "static")
	v.SetDefault("static.suffixes", []string{".html", ".htm"})
	v.SetDefault("static.cache", true)
	v.SetDefault("static.watch", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Comma-separated env overrides arrive as a single element.
	config.Discovery.Namespaces = splitList(config.Discovery.Namespaces)
	config.Binding.SourceDirs = splitList(config.Binding.SourceDirs)
	config.Static.Suffixes = splitList(config.Static.Suffixes)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the configuration produced by the defaults alone.
func Default() *Config {
	cfg, err := LoadFrom(viper.New())
	if err != nil {
		panic(fmt.Sprintf("config: defaults are invalid: %v", err))
	}
	return cfg
}

// Addr returns the host:port the transport binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// validateConfig validates configuration values for correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if config.Discovery.Workers < 1 {
		return fmt.Errorf("discovery config: workers must be at least 1, got %d", config.Discovery.Workers)
	}

	switch config.Binding.Strategy {
	case StrategyAuto, StrategyDeclared, StrategySource:
	default:
		return fmt.Errorf("binding config: unknown strategy %q", config.Binding.Strategy)
	}
	if config.Binding.MaxDepth < 1 {
		return fmt.Errorf("binding config: max_depth must be at least 1, got %d", config.Binding.MaxDepth)
	}
	for _, dir := range config.Binding.SourceDirs {
		if err := validatePath(dir); err != nil {
			return fmt.Errorf("binding config: invalid source dir '%s': %w", dir, err)
		}
	}

	if err := validatePath(config.Static.Root); err != nil {
		return fmt.Errorf("static config: invalid root '%s': %w", config.Static.Root, err)
	}
	for _, suffix := range config.Static.Suffixes {
		if !strings.HasPrefix(suffix, ".") {
			return fmt.Errorf("static config: suffix %q must start with a dot", suffix)
		}
	}

	switch config.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging config: unknown format %q", config.Logging.Format)
	}

	if config.Metrics.Enabled && !strings.HasPrefix(config.Metrics.Path, "/") {
		return fmt.Errorf("metrics config: path %q must start with /", config.Metrics.Path)
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(config.Host, char) {
			return fmt.Errorf("host contains dangerous character: %s", char)
		}
	}

	if config.MaxConnections < 0 {
		return fmt.Errorf("max_connections cannot be negative")
	}

	return nil
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
