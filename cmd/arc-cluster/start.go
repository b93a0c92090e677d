package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/gezibash/arc-cluster/internal/config"
	"github.com/gezibash/arc-cluster/internal/handlestore"
	"github.com/gezibash/arc-cluster/internal/observability"
	"github.com/gezibash/arc-cluster/internal/provider"
	"github.com/gezibash/arc-cluster/pkg/runtime"
)

const componentObservability = "observability"

func newStartCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a cluster node",
		Long: `Join the group, register the services listed in the config file and
answer discovery requests from other nodes until interrupted.

Examples:
  arc-cluster start                                  # default settings
  arc-cluster start --seed 10.0.0.2:7946             # join an existing group
  arc-cluster start --store badger --port 7947       # persistent handle store
  arc-cluster start --log-level debug --reflection   # debug admin server`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}

			rt, err := runtime.New("arc-cluster").
				Logging(cfg.Observability.LogLevel, cfg.Observability.LogFormat).
				DataDir(cfg.DataDir).
				Use(withObservability(cfg)).
				Build()
			if err != nil {
				return fmt.Errorf("create runtime: %w", err)
			}
			defer func() { _ = rt.Close() }()

			obs := rt.Get(componentObservability).(*observability.Observability)
			return serve(rt, cfg, obs)
		},
	}

	config.BindCommonFlags(cmd, v)
	config.BindClusterFlags(cmd, v)
	config.BindServerFlags(cmd, v)
	return cmd
}

// withObservability sets up metrics, tracing and the metrics endpoint.
// Exported spans carry the group and node the process runs as.
func withObservability(cfg config.Config) runtime.Extension {
	return func(rt *runtime.Runtime) error {
		oc := cfg.Observability
		obs, err := observability.New(rt.Context(), observability.ObsConfig{
			LogLevel:       oc.LogLevel,
			LogFormat:      oc.LogFormat,
			OTLPEndpoint:   oc.OTLPEndpoint,
			OTLPProtocol:   oc.OTLPProtocol,
			ServiceName:    oc.ServiceName,
			ServiceVersion: serviceVersion(oc.ServiceVersion),
			GroupName:      cfg.Cluster.GroupName,
			NodeName:       nodeName(cfg.Cluster),
			Transport:      cfg.Cluster.Transport,
		}, os.Stderr)
		if err != nil {
			return fmt.Errorf("init observability: %w", err)
		}
		if oc.MetricsAddr != "" {
			obs.ServeMetrics(rt.Context(), oc.MetricsAddr)
		}
		rt.Set(componentObservability, obs)
		rt.OnClose(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return obs.Close(ctx)
		})
		return nil
	}
}

// nodeName returns the configured node name, falling back to the host name
// the transport defaults to.
func nodeName(cfg config.ClusterConfig) string {
	if cfg.NodeName != "" {
		return cfg.NodeName
	}
	host, _ := os.Hostname()
	return host
}

func serviceVersion(configured string) string {
	if configured != "" {
		return configured
	}
	return version
}

func serve(rt *runtime.Runtime, cfg config.Config, obs *observability.Observability) error {
	ctx := rt.Context()
	log := rt.Log().WithComponent("start")

	store, err := handlestore.Open(ctx, cfg.Store.Backend, cfg.Store.Config, obs.Metrics)
	if err != nil {
		return fmt.Errorf("open handle store: %w", err)
	}
	rt.OnClose(store.Close)

	reg, err := buildRegistry(cfg.Services)
	if err != nil {
		return err
	}

	p, err := provider.New(provider.Config{
		Group:        cfg.Cluster.GroupConfig(),
		ReplyTimeout: cfg.Cluster.ReplyTimeout,
	}, reg, store, obs.Metrics)
	if err != nil {
		return err
	}
	if err := p.Initialize(ctx); err != nil {
		return err
	}
	if err := p.Start(); err != nil {
		return err
	}

	runCtx, stopProvider := context.WithCancel(ctx)
	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(runCtx) }()

	grpcServer := grpc.NewServer(observability.AdminServerOptions(obs.Metrics, p.Self())...)
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, hs)
	if cfg.Admin.EnableReflection {
		reflection.Register(grpcServer)
	}

	lc := net.ListenConfig{}
	lis, err := lc.Listen(ctx, "tcp", cfg.Admin.Addr)
	if err != nil {
		stopProvider()
		<-runErr
		return fmt.Errorf("listen: %w", err)
	}

	log.Info("node running",
		slog.String("self", p.Self()),
		slog.String("group", cfg.Cluster.GroupName),
		slog.String("admin", lis.Addr().String()),
		slog.Int("services", reg.Len()),
		slog.Int("members", len(p.Members())),
	)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() { serveErr <- grpcServer.Serve(lis) }()

	var runDone bool
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-serveErr:
		log.Error("admin server stopped", slog.Any("error", err))
	case err = <-runErr:
		runDone = true
	}

	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	grpcServer.GracefulStop()
	stopProvider()
	if !runDone {
		if stopErr := <-runErr; stopErr != nil && err == nil {
			err = stopErr
		}
	}
	return err
}
