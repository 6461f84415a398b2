package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/cuemby/ballast/pkg/config"
	"github.com/cuemby/ballast/pkg/health"
	"github.com/cuemby/ballast/pkg/kv"
	"github.com/cuemby/ballast/pkg/log"
	"github.com/cuemby/ballast/pkg/metrics"
	"github.com/cuemby/ballast/pkg/network"
	"github.com/cuemby/ballast/pkg/reconciler"
	"github.com/cuemby/ballast/pkg/runtime"
	"github.com/cuemby/ballast/pkg/statesync"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "agent",
	Short:   "Deployment agent: scores, scales, and publishes the worker fleet",
	Version: Version,
	RunE:    runAgent,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("agent version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	metrics.SetCriticalComponents([]string{"kv", "runtime"})

	rt, err := runtime.NewContainerdRuntime(cfg.ContainerdSocket, cfg.ContainerdNamespace)
	if err != nil {
		metrics.RegisterComponent("runtime", false, err.Error())
		return fmt.Errorf("connect containerd: %w", err)
	}
	defer rt.Close()
	metrics.RegisterComponent("runtime", true, "connected")

	store := kv.New(cfg.RedisAddr())
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = store.Ping(pingCtx)
	cancel()
	if err != nil {
		metrics.RegisterComponent("kv", false, err.Error())
		return fmt.Errorf("connect redis: %w", err)
	}
	metrics.RegisterComponent("kv", true, "connected")

	ports := network.NewAllocator()
	if err := seedAllocator(context.Background(), rt, store, ports, cfg.AppIdentifier); err != nil {
		log.Logger.Warn().Err(err).Msg("failed to seed port allocator from existing workers, some ports may be reused")
	}

	probe := func(ctx context.Context, address string) (time.Duration, bool) {
		checker := health.NewTCPChecker(address).WithTimeout(5 * time.Second)
		result := checker.Check(ctx)
		return result.Duration, result.Healthy
	}

	recon := reconciler.New(reconciler.Config{
		AppID:           cfg.AppIdentifier,
		Image:           cfg.DockerImage,
		TargetPort:      cfg.TargetPort,
		DefaultReplicas: cfg.DefaultContainer,
		MaxContainers:   cfg.MaxContainers,
	}, rt, store, ports, probe)
	recon.Start()
	defer recon.Stop()

	publisher := statesync.NewPublisher(recon.Latest)

	mux := chi.NewRouter()
	mux.Get("/health", metrics.HealthHandler())
	mux.Get("/ready", metrics.ReadyHandler())
	mux.Get("/metrics", metrics.Handler().ServeHTTP)
	mux.Get("/stats", statsHandler(recon))

	diagServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: mux}
	wsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HostPortWSDeploymentAgent), Handler: publisher}

	errCh := make(chan error, 2)
	go func() { errCh <- diagServer.ListenAndServe() }()
	go func() { errCh <- wsServer.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Logger.Error().Err(err).Msg("server error")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	diagServer.Shutdown(shutdownCtx)
	wsServer.Shutdown(shutdownCtx)
	return nil
}

// seedAllocator reserves the host port of every worker already present
// in the runtime and KV store before the reconciler starts ticking, so
// a restarted agent never hands out a port a surviving worker still
// holds.
func seedAllocator(ctx context.Context, rt runtime.Runtime, store kv.Store, ports *network.Allocator, appID string) error {
	names, err := rt.List(ctx, appID)
	if err != nil {
		return err
	}
	for _, name := range names {
		rec, ok, err := kv.GetContainerRecord(ctx, store, kv.ContainerKey(appID, name))
		if err != nil || !ok || rec.Port == 0 {
			continue
		}
		ports.Reserve(rec.Port, name)
	}
	return nil
}

func statsHandler(recon *reconciler.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := recon.Latest()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snapshot)
	}
}
