// Package config loads arc-cluster node configuration from defaults, a config
// file, ARC_CLUSTER_* environment variables and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gezibash/arc-cluster/internal/group"
	"github.com/gezibash/arc-cluster/pkg/metadata"
)

// Config is the complete node configuration.
type Config struct {
	DataDir       string              `mapstructure:"data_dir"`
	Cluster       ClusterConfig       `mapstructure:"cluster"`
	Store         BackendConfig       `mapstructure:"store"`
	Admin         AdminConfig         `mapstructure:"admin"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Services      []ServiceConfig     `mapstructure:"services"`
}

// ClusterConfig configures group membership and discovery.
type ClusterConfig struct {
	GroupName      string        `mapstructure:"group_name"`
	Transport      string        `mapstructure:"transport"`
	ReplyTimeout   time.Duration `mapstructure:"reply_timeout"`
	NodeName       string        `mapstructure:"node_name"`
	BindAddr       string        `mapstructure:"bind_addr"`
	BindPort       int           `mapstructure:"bind_port"`
	AdvertiseAddr  string        `mapstructure:"advertise_addr"`
	AdvertisePort  int           `mapstructure:"advertise_port"`
	Seeds          []string      `mapstructure:"seeds"`
	RequestWorkers int           `mapstructure:"request_workers"`
}

// BackendConfig selects a handle store backend and its options.
type BackendConfig struct {
	Backend string            `mapstructure:"backend"`
	Config  map[string]string `mapstructure:"config"`
}

// AdminConfig configures the admin gRPC server.
type AdminConfig struct {
	Addr             string `mapstructure:"addr"`
	EnableReflection bool   `mapstructure:"enable_reflection"`
}

// ObservabilityConfig holds logging, metrics and tracing settings.
type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPProtocol   string `mapstructure:"otlp_protocol"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
}

// ServiceConfig declares an implementation this node hosts.
type ServiceConfig struct {
	Name       string   `mapstructure:"name"`
	Type       string   `mapstructure:"type"`
	Qualifiers []string `mapstructure:"qualifiers"`
}

// Key returns the metadata key the service is registered under.
func (s ServiceConfig) Key() (metadata.Key, error) {
	k := metadata.New(s.Name, s.Type, s.Qualifiers...)
	if err := k.Validate(); err != nil {
		return metadata.Key{}, fmt.Errorf("service %q: %w", s.Name, err)
	}
	return k, nil
}

// GroupConfig converts the cluster section into a transport configuration.
func (c ClusterConfig) GroupConfig() group.Config {
	return group.Config{
		GroupName:     c.GroupName,
		Profile:       c.Transport,
		NodeName:      c.NodeName,
		BindAddr:      c.BindAddr,
		BindPort:      c.BindPort,
		AdvertiseAddr: c.AdvertiseAddr,
		AdvertisePort: c.AdvertisePort,
		Seeds:         c.Seeds,
		Workers:       c.RequestWorkers,
	}
}

// DefaultDataDir returns ~/.arc-cluster, or a relative directory when the
// home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".arc-cluster"
	}
	return filepath.Join(home, ".arc-cluster")
}

// DataPath joins elem to the data directory.
func (c Config) DataPath(elem ...string) string {
	dir := c.DataDir
	if dir == "" {
		dir = DefaultDataDir()
	}
	return filepath.Join(append([]string{dir}, elem...)...)
}
