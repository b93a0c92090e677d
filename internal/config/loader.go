package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-cluster/internal/group"
)

// BindCommonFlags binds the flags every command shares.
func BindCommonFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()

	f.String("config", "", "config file path")
	f.String("data-dir", "", "data directory (default ~/.arc-cluster)")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (json, text)")

	_ = v.BindPFlag("data_dir", f.Lookup("data-dir"))
	_ = v.BindPFlag("observability.log_level", f.Lookup("log-level"))
	_ = v.BindPFlag("observability.log_format", f.Lookup("log-format"))
}

// BindClusterFlags binds the group membership flags.
func BindClusterFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()

	f.String("group", "", "group name")
	f.String("transport", "", "transport profile (lan, wan, local)")
	f.String("node-name", "", "node name (default hostname)")
	f.String("bind", "", "gossip bind address")
	f.Int("port", 0, "gossip bind port")
	f.StringSlice("seed", nil, "seed node host:port (repeatable)")
	f.Duration("reply-timeout", 0, "how long a discovery round waits for replies")

	_ = v.BindPFlag("cluster.group_name", f.Lookup("group"))
	_ = v.BindPFlag("cluster.transport", f.Lookup("transport"))
	_ = v.BindPFlag("cluster.node_name", f.Lookup("node-name"))
	_ = v.BindPFlag("cluster.bind_addr", f.Lookup("bind"))
	_ = v.BindPFlag("cluster.bind_port", f.Lookup("port"))
	_ = v.BindPFlag("cluster.seeds", f.Lookup("seed"))
	_ = v.BindPFlag("cluster.reply_timeout", f.Lookup("reply-timeout"))
}

// BindServerFlags binds the flags of the long-running start command.
func BindServerFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()

	f.String("admin-addr", "", "admin gRPC listen address")
	f.String("metrics-addr", "", "metrics HTTP listen address")
	f.Bool("reflection", false, "enable gRPC reflection on the admin server")
	f.String("store", "", "handle store backend (memory, badger, redis, sqlite)")

	_ = v.BindPFlag("admin.addr", f.Lookup("admin-addr"))
	_ = v.BindPFlag("observability.metrics_addr", f.Lookup("metrics-addr"))
	_ = v.BindPFlag("admin.enable_reflection", f.Lookup("reflection"))
	_ = v.BindPFlag("store.backend", f.Lookup("store"))
}

// Load applies defaults, reads the config file and environment, and returns
// the merged, validated configuration. A missing config file is only an error
// when configFile names it explicitly.
func Load(v *viper.Viper, configFile string) (Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("arc-cluster")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.arc-cluster")
		v.AddConfigPath("/etc/arc-cluster")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c Config) Validate() error {
	if c.Cluster.GroupName == "" {
		return errors.New("config: cluster.group_name must not be empty")
	}
	switch c.Cluster.Transport {
	case group.ProfileLAN, group.ProfileWAN, group.ProfileLocal:
	default:
		return fmt.Errorf("config: cluster.transport %q must be one of lan, wan, local", c.Cluster.Transport)
	}
	if c.Cluster.ReplyTimeout <= 0 {
		return fmt.Errorf("config: cluster.reply_timeout must be positive, got %s", c.Cluster.ReplyTimeout)
	}
	if c.Cluster.BindPort < 0 || c.Cluster.BindPort > 65535 {
		return fmt.Errorf("config: cluster.bind_port %d out of range", c.Cluster.BindPort)
	}
	for i, s := range c.Services {
		if _, err := s.Key(); err != nil {
			return fmt.Errorf("config: services[%d]: %w", i, err)
		}
	}
	return nil
}
