package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/gezibash/arc-cluster/internal/group"
)

// EnvPrefix prefixes every environment variable, e.g. ARC_CLUSTER_CLUSTER_SEEDS.
const EnvPrefix = "ARC_CLUSTER"

// Defaults contains the values used when nothing else is configured.
var Defaults = struct {
	GroupName      string
	Transport      string
	ReplyTimeout   time.Duration
	BindAddr       string
	BindPort       int
	RequestWorkers int
	StoreBackend   string
	AdminAddr      string
	MetricsAddr    string
	LogLevel       string
	LogFormat      string
	ServiceName    string
}{
	GroupName:      group.DefaultGroupName,
	Transport:      group.ProfileLAN,
	ReplyTimeout:   10 * time.Second,
	BindAddr:       "0.0.0.0",
	BindPort:       7946,
	RequestWorkers: 16,
	StoreBackend:   "memory",
	AdminAddr:      ":50061",
	MetricsAddr:    ":9090",
	LogLevel:       "info",
	LogFormat:      "text",
	ServiceName:    "arc-cluster",
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())

	v.SetDefault("cluster.group_name", Defaults.GroupName)
	v.SetDefault("cluster.transport", Defaults.Transport)
	v.SetDefault("cluster.reply_timeout", Defaults.ReplyTimeout)
	v.SetDefault("cluster.node_name", "")
	v.SetDefault("cluster.bind_addr", Defaults.BindAddr)
	v.SetDefault("cluster.bind_port", Defaults.BindPort)
	v.SetDefault("cluster.advertise_addr", "")
	v.SetDefault("cluster.advertise_port", 0)
	v.SetDefault("cluster.seeds", []string{})
	v.SetDefault("cluster.request_workers", Defaults.RequestWorkers)

	v.SetDefault("store.backend", Defaults.StoreBackend)

	v.SetDefault("admin.addr", Defaults.AdminAddr)
	v.SetDefault("admin.enable_reflection", false)

	v.SetDefault("observability.log_level", Defaults.LogLevel)
	v.SetDefault("observability.log_format", Defaults.LogFormat)
	v.SetDefault("observability.metrics_addr", Defaults.MetricsAddr)
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_protocol", "http")
	v.SetDefault("observability.service_name", Defaults.ServiceName)
	v.SetDefault("observability.service_version", "dev")
}
