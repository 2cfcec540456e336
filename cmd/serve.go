package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/otherjamesbrown/mediaref/config"
	"github.com/otherjamesbrown/mediaref/pkg/buildinfo"
	"github.com/otherjamesbrown/mediaref/pkg/db"
	"github.com/otherjamesbrown/mediaref/pkg/logging"
	"github.com/otherjamesbrown/mediaref/pkg/observability"
	"github.com/otherjamesbrown/mediaref/pkg/rpc"
	"github.com/otherjamesbrown/mediaref/pkg/store"
)

// readyFunc is told the bound addresses once both listeners are open.
type readyFunc func(grpcAddr, httpAddr net.Addr)

// NewServeCommand creates the serve command.
func NewServeCommand(deps *CommandDeps) *cobra.Command {
	deps = withDefaults(deps)
	var grpcAddr, metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the resolver as a gRPC service",
		Long: `Run the resolver as a gRPC service backed by the configured store.

A second HTTP listener serves:
  /metrics   Prometheus metrics
  /version   build information
  /healthz   liveness, including the Postgres pool when that store is used

The server stops gracefully when the command context is cancelled
(SIGINT or SIGTERM).

Examples:
  mediaref serve
  MEDIAREF_STORE_BACKEND=redis mediaref serve --grpc-address :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if grpcAddr != "" {
				cfg.Server.GRPCAddress = grpcAddr
			}
			if metricsAddr != "" {
				cfg.Server.MetricsAddress = metricsAddr
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runServe(ctx, deps, cfg, nil)
		},
	}

	cmd.Flags().StringVar(&grpcAddr, "grpc-address", "", "gRPC listen address (default from config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-address", "", "HTTP listen address for metrics and health (default from config)")
	return cmd
}

// runServe serves until ctx is done, then shuts both listeners down within
// the configured shutdown timeout.
func runServe(ctx context.Context, deps *CommandDeps, cfg *config.Config, ready readyFunc) error {
	logger := deps.NewLogger(cfg).With(logging.Component("serve"))
	applyStoredSecrets(cfg, deps.NewCredentialStore, logger)

	info := buildinfo.Get(buildinfo.ServiceName)
	tracingCfg := cfg.Tracing
	tracingCfg.ServiceVersion = info.Version
	tp, err := observability.NewTracerProvider(ctx, tracingCfg)
	if err != nil {
		return fmt.Errorf("starting tracer provider: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewResolverMetrics(reg)

	rt, err := newRuntime(ctx, cfg, logger, runtimeOptions{
		Registerer: reg,
		Metrics:    metrics,
		Tracer:     tp.Tracer(),
	})
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return err
	}

	var serverOpts rpc.ServerOptions
	serverOpts.Logger = logger
	if cfg.Server.TLS.Enabled {
		cfg.Server.TLS.ResolvePaths()
		tlsCfg, err := rpc.LoadServerTLSConfig(&cfg.Server.TLS)
		if err != nil {
			_ = rt.Close()
			_ = tp.Shutdown(context.Background())
			return err
		}
		serverOpts.TLS = tlsCfg
	}
	grpcServer, healthServer := rpc.NewGRPCServer(rpc.NewServer(rt.Handler, rt.Store, logger), serverOpts)

	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddress)
	if err != nil {
		_ = rt.Close()
		_ = tp.Shutdown(context.Background())
		return fmt.Errorf("listening on %s: %w", cfg.Server.GRPCAddress, err)
	}
	httpLis, err := net.Listen("tcp", cfg.Server.MetricsAddress)
	if err != nil {
		_ = grpcLis.Close()
		_ = rt.Close()
		_ = tp.Shutdown(context.Background())
		return fmt.Errorf("listening on %s: %w", cfg.Server.MetricsAddress, err)
	}

	httpServer := &http.Server{
		Handler:           newHTTPMux(reg, rt.Store),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Serving",
		logging.F("grpc_address", grpcLis.Addr().String()),
		logging.F("http_address", httpLis.Addr().String()),
		logging.F("store", cfg.Store.Backend),
		logging.F("version", info.String()))
	if ready != nil {
		ready(grpcLis.Addr(), httpLis.Addr())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	if closeErr := rt.Close(); closeErr != nil {
		logger.Warn("Failed to close store", logging.Err(closeErr))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if tpErr := tp.Shutdown(shutdownCtx); tpErr != nil {
		logger.Warn("Failed to flush traces", logging.Err(tpErr))
	}
	return err
}

// healthResponse is the body of /healthz.
type healthResponse struct {
	Status   string `json:"status"`
	Store    string `json:"store"`
	Database string `json:"database,omitempty"`
	Latency  string `json:"latency,omitempty"`
}

func newHTTPMux(reg *prometheus.Registry, st store.Store) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/version", buildinfo.Handler(buildinfo.ServiceName))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Store: storeBackend(st)}
		code := http.StatusOK

		if ps, ok := st.(*store.PostgresStore); ok {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			hs := db.Check(ctx, ps.Pool())
			resp.Latency = hs.Latency.String()
			if hs.Healthy {
				resp.Database = "ok"
			} else {
				resp.Status = "degraded"
				resp.Database = hs.Error.Error()
				code = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func storeBackend(st store.Store) string {
	switch st.(type) {
	case *store.PostgresStore:
		return store.BackendPostgres
	case *store.RedisStore:
		return store.BackendRedis
	default:
		return store.BackendMemory
	}
}
