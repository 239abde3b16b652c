// config.go - Configuration management for the billing daemon.
package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/meterfold/privatebilling/internal/network"
	"github.com/meterfold/privatebilling/internal/wire"
)

// Config holds everything needed to stand up one node.
type Config struct {
	Role        string `mapstructure:"role"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Bootstrap   string `mapstructure:"bootstrap"`
	CycleLength int    `mapstructure:"cycle_length"`

	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`

	DiagAddr string `mapstructure:"diag_addr"`
}

// DefaultConfig mirrors a single-edge-bootstrap deployment: an EDGE
// listening on all interfaces at billing port 9100 with a 24-slot cycle.
func DefaultConfig() *Config {
	return &Config{
		Role:        "edge",
		Host:        "0.0.0.0",
		Port:        9100,
		CycleLength: 24,
		LogLevel:    "info",
		LogPretty:   false,
		DiagAddr:    ":9101",
	}
}

// LoadConfig binds pflag flags into viper, reads billingd.yaml (or
// BILLINGD_*-prefixed environment overrides) from configPaths if
// present, and returns the merged configuration.
func LoadConfig(flags *pflag.FlagSet, configPaths ...string) (*Config, error) {
	v := viper.New()
	def := DefaultConfig()
	v.SetDefault("role", def.Role)
	v.SetDefault("host", def.Host)
	v.SetDefault("port", def.Port)
	v.SetDefault("bootstrap", def.Bootstrap)
	v.SetDefault("cycle_length", def.CycleLength)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_pretty", def.LogPretty)
	v.SetDefault("diag_addr", def.DiagAddr)

	v.SetEnvPrefix("billingd")
	v.AutomaticEnv()

	v.SetConfigName("billingd")
	v.SetConfigType("yaml")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if flags != nil {
		// Flag names use dashes; config keys use underscores.
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("binding flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// RegisterFlags declares the billingd command-line surface.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("role", "", "node role: core or edge")
	flags.String("host", "", "address to bind the billing listener on")
	flags.Int("port", 0, "port to bind the billing listener on")
	flags.String("bootstrap", "", "host:port of an existing network member to join through (core role)")
	flags.Int("cycle-length", 0, "number of intervals per billing cycle (edge role)")
	flags.String("log-level", "", "zerolog level: debug, info, warn, error")
	flags.Bool("log-pretty", false, "use zerolog's console writer instead of JSON output")
	flags.String("diag-addr", "", "address for the /healthz and /metrics diagnostics server")
}

func (c *Config) Validate() error {
	switch network.Role(c.Role) {
	case network.RoleCore, network.RoleEdge:
	default:
		return fmt.Errorf("role must be %q or %q, got %q", network.RoleCore, network.RoleEdge, c.Role)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535, got %d", c.Port)
	}
	if network.Role(c.Role) == network.RoleCore && c.Bootstrap == "" {
		return fmt.Errorf("core role requires --bootstrap")
	}
	if network.Role(c.Role) == network.RoleEdge && c.CycleLength <= 0 {
		return fmt.Errorf("edge role requires a positive --cycle-length")
	}
	return nil
}

// Address is this node's own listen address.
func (c *Config) Address() wire.Address {
	return wire.Address{Host: c.Host, Port: c.Port}
}

// BootstrapAddress parses the configured "host:port" bootstrap target.
func (c *Config) BootstrapAddress() (wire.Address, error) {
	return parseAddress(c.Bootstrap)
}

func parseAddress(hostport string) (wire.Address, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(hostport))
	if err != nil {
		return wire.Address{}, fmt.Errorf("parsing address %q: %w", hostport, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return wire.Address{}, fmt.Errorf("parsing port in %q: %w", hostport, err)
	}
	return wire.Address{Host: host, Port: port}, nil
}
