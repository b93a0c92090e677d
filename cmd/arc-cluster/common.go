package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-cluster/internal/cli"
	"github.com/gezibash/arc-cluster/internal/config"
	"github.com/gezibash/arc-cluster/internal/group"
	"github.com/gezibash/arc-cluster/internal/handlestore"
	"github.com/gezibash/arc-cluster/internal/handlestore/physical/memory"
	"github.com/gezibash/arc-cluster/internal/provider"
	"github.com/gezibash/arc-cluster/internal/registry"
	"github.com/gezibash/arc-cluster/pkg/runtime"
)

func outputFor(cmd *cobra.Command) *cli.Output {
	format, _ := cmd.Flags().GetString("output")
	return cli.NewOutput(cli.ParseFormat(format), cmd.OutOrStdout())
}

func loadConfig(cmd *cobra.Command, v *viper.Viper) (config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// transientGroupConfig derives the transport config of a short-lived client
// node: a unique name so it never collides with a server on the same host,
// and an OS-assigned port.
func transientGroupConfig(cfg config.ClusterConfig, command string) group.Config {
	gc := cfg.GroupConfig()
	base := gc.NodeName
	if base == "" {
		base, _ = os.Hostname()
	}
	if base == "" {
		base = "arc-cluster"
	}
	gc.NodeName = fmt.Sprintf("%s-%s-%s", base, command, uuid.NewString()[:8])
	gc.BindPort = 0
	gc.AdvertisePort = 0
	return gc
}

// joinTransient connects a client node that hosts nothing. The returned
// provider is running; the runtime stops it on close.
func joinTransient(ctx context.Context, rt *runtime.Runtime, cfg config.Config, command string) (*provider.Provider, error) {
	if len(cfg.Cluster.Seeds) == 0 {
		return nil, fmt.Errorf("%s: no seeds configured (use --seed host:port)", command)
	}

	store := handlestore.New(memory.New())
	rt.OnClose(store.Close)

	p, err := provider.New(provider.Config{
		Group:        transientGroupConfig(cfg.Cluster, command),
		ReplyTimeout: cfg.Cluster.ReplyTimeout,
	}, registry.New(), store, nil)
	if err != nil {
		return nil, err
	}
	rt.OnClose(func() error {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return p.Stop(stopCtx)
	})

	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}
	if err := p.Start(); err != nil {
		return nil, err
	}
	return p, nil
}

func clientRuntime(cfg config.Config, command string) (*runtime.Runtime, error) {
	rt, err := runtime.New("arc-cluster-"+command).
		Logging(cfg.Observability.LogLevel, cfg.Observability.LogFormat).
		DataDir(cfg.DataDir).
		Build()
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return rt, nil
}
