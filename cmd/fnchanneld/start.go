package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/fnchannel/pkg/channel"
	"github.com/cuemby/fnchannel/pkg/config"
	"github.com/cuemby/fnchannel/pkg/eventbus"
	"github.com/cuemby/fnchannel/pkg/fnrpc"
	"github.com/cuemby/fnchannel/pkg/funcmeta"
	"github.com/cuemby/fnchannel/pkg/log"
	"github.com/cuemby/fnchannel/pkg/metrics"
	"github.com/cuemby/fnchannel/pkg/procmanager"
	"github.com/cuemby/fnchannel/pkg/watch"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

const hostVersion = "1.0.0"

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the channel: spawn the worker, register functions, and serve invocations",
	RunE:  runStart,
}

func init() {
	startCmd.Flags().String("config", "", "Path to a YAML config file")
	startCmd.Flags().String("env-file", "", "Path to a .env file")
	startCmd.Flags().String("worker-id", "worker-1", "Opaque identifier for the worker process")
	startCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the Prometheus metrics/health HTTP server")
}

func runStart(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	workerID, _ := cmd.Flags().GetString("worker-id")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg, err := config.Load(configFile, envFile, nil)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	metrics.SetVersion(hostVersion)
	metrics.RegisterComponent("transport", false, "initializing")
	metrics.RegisterComponent("worker_process", false, "initializing")

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	log.Logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

	var functions []*channel.FunctionMetadata
	if cfg.FunctionsDir != "" {
		functions, err = funcmeta.Load(cfg.FunctionsDir)
		if err != nil {
			return fmt.Errorf("loading function metadata: %w", err)
		}
	}

	bus := eventbus.New(256)
	bus.Start()
	defer bus.Stop()

	c := channel.NewChannel(workerID, hostVersion, channel.WorkerConfig{
		Language:   cfg.Language,
		Extensions: cfg.Extensions,
	}, bus)

	switchboard := channel.NewSwitchboard()
	switchboard.Register(c)
	defer switchboard.Unregister(workerID)

	listener, err := net.Listen("tcp", cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Endpoint, err)
	}
	grpcServer := grpc.NewServer()
	fnrpc.RegisterFunctionRpcServer(grpcServer, switchboard)

	go func() {
		if err := grpcServer.Serve(listener); err != nil {
			log.Logger.Error().Err(err).Msg("grpc server stopped")
		}
	}()
	log.Logger.Info().Str("addr", cfg.Endpoint).Msg("control channel listening")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.FunctionsDir != "" {
		fileWatcher := watch.New(bus, workerID, cfg.FunctionsDir)
		if err := fileWatcher.Start(ctx); err != nil {
			return fmt.Errorf("starting file watcher: %w", err)
		}
	}

	c.SetupFunctionInvocationBuffers(functions)

	proc := procmanager.New(cfg.WorkerBinary, cfg.WorkerArgs...)
	startup := c.StartWorkerProcessAsync(ctx, func() error {
		return proc.Start(ctx, workerID)
	})

	if err := startup.Wait(ctx); err != nil {
		return fmt.Errorf("worker startup failed: %w", err)
	}
	metrics.RegisterComponent("worker_process", true, "ready")
	metrics.RegisterComponent("transport", true, "ready")
	log.Logger.Info().Msg("worker initialized")

	if err := c.SendFunctionLoadRequests(); err != nil {
		return fmt.Errorf("sending function load requests: %w", err)
	}

	log.Logger.Info().Int("functions", len(functions)).Msg("function load requests sent")
	log.Logger.Info().Msg("channel running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Logger.Info().Msg("shutting down")
	shutdownChannel(c, proc, grpcServer, log.Logger)
	return nil
}

func shutdownChannel(c *channel.Channel, proc *procmanager.WorkerProcess, grpcServer *grpc.Server, logger zerolog.Logger) {
	c.Dispose()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		grpcServer.Stop()
	}

	if err := proc.Stop(); err != nil {
		logger.Warn().Err(err).Msg("worker process did not stop cleanly")
	}
}
