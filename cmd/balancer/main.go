package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/ballast/pkg/config"
	"github.com/cuemby/ballast/pkg/dispatcher"
	"github.com/cuemby/ballast/pkg/log"
	"github.com/cuemby/ballast/pkg/metrics"
	"github.com/cuemby/ballast/pkg/proxy"
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
	Use:     "balancer",
	Short:   "Adaptive weighted load balancer for a deployment-agent worker fleet",
	Version: Version,
	RunE:    runBalancer,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("balancer version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
}

func runBalancer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	metrics.SetCriticalComponents([]string{"statesync"})

	sub := statesync.NewSubscriber(cfg.HostIPHostInternal, cfg.HostPortWSDeploymentAgent)
	subCtx, subCancel := context.WithCancel(context.Background())
	defer subCancel()
	go sub.Run(subCtx)
	metrics.RegisterComponent("statesync", true, "subscriber started")

	dispatch := dispatcher.New(sub)
	engine := proxy.New(proxy.Config{
		TargetPort:     cfg.TargetPort,
		CacheCapacity:  cfg.CacheCapacity,
		RequestTimeout: time.Duration(cfg.RequestTimeout) * time.Second,
	}, dispatch)
	defer engine.Close()

	forwardServer := proxy.NewServer(fmt.Sprintf(":%d", cfg.HostPortHTTPBalancer), engine)

	diagMux := http.NewServeMux()
	diagMux.HandleFunc("/health", metrics.HealthHandler())
	diagMux.HandleFunc("/ready", metrics.ReadyHandler())
	diagMux.Handle("/metrics", metrics.Handler())
	diagServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: diagMux}

	errCh := make(chan error, 2)
	go func() { errCh <- forwardServer.ListenAndServe() }()
	go func() { errCh <- diagServer.ListenAndServe() }()

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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 40*time.Second)
	defer shutdownCancel()
	forwardServer.Shutdown(shutdownCtx)
	diagServer.Shutdown(shutdownCtx)
	return nil
}
