package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/minicloud/minicloud/pkg/api"
	"github.com/minicloud/minicloud/pkg/config"
	"github.com/minicloud/minicloud/pkg/events"
	"github.com/minicloud/minicloud/pkg/gpu"
	"github.com/minicloud/minicloud/pkg/log"
	"github.com/minicloud/minicloud/pkg/logstream"
	"github.com/minicloud/minicloud/pkg/manager"
	"github.com/minicloud/minicloud/pkg/metrics"
	"github.com/minicloud/minicloud/pkg/network"
	"github.com/minicloud/minicloud/pkg/queue"
	"github.com/minicloud/minicloud/pkg/runtime"
	"github.com/minicloud/minicloud/pkg/stats"
	"github.com/minicloud/minicloud/pkg/storage"
	"github.com/minicloud/minicloud/pkg/worker"
	"github.com/minicloud/minicloud/pkg/workspace"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the control plane",
	Long: `Start the full control plane: store, GPU admission, worker pool,
log streaming, and the HTTP API. Runs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		return runServer(configPath)
	},
}

func init() {
	serverCmd.Flags().String("config", "", "Path to YAML config file")
}

func runServer(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	logger := log.WithComponent("main")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	workspaces, err := workspace.NewManager(cfg.WorkspaceRoot)
	if err != nil {
		return fmt.Errorf("failed to prepare workspace root: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	// Lifecycle audit trail: every task and gpu event lands in the log
	auditSub := broker.Subscribe()
	defer broker.Unsubscribe(auditSub)
	go func() {
		audit := log.WithComponent("events")
		for ev := range auditSub {
			audit.Info().
				Str("event", string(ev.Type)).
				Int64("task_id", ev.TaskID).
				Msg(ev.Message)
		}
	}()

	ctrl := gpu.NewController(store, cfg.TotalVRAM.MB(), cfg.GPUSlice.MB(), broker)

	q := queue.New(store, cfg.LeaseTimeout)
	q.Start()
	defer q.Stop()

	rt, err := runtime.NewContainerdRuntime(cfg.ContainerdSocket, cfg.ContainerdNamespace)
	if err != nil {
		return fmt.Errorf("failed to connect to containerd: %w", err)
	}
	defer rt.Close()

	hub := logstream.NewHub()
	ports := network.NewAllocator(cfg.StaticPortMin, cfg.StaticPortMax)

	mgr := manager.NewManager(&manager.Config{
		Store:         store,
		Workspaces:    workspaces,
		GPU:           ctrl,
		Queue:         q,
		Runtime:       rt,
		Broker:        broker,
		Ports:         ports,
		MaxCPU:        cfg.MaxCPU,
		StaticImage:   cfg.StaticImage,
		AdvertiseAddr: cfg.AdvertiseAddr,
	})

	pool := worker.NewPool(&worker.Config{
		Store:   store,
		Queue:   q,
		Runtime: rt,
		GPU:     ctrl,
		Hub:     hub,
		Broker:  broker,
		Ports:   ports,
		Workers: cfg.Workers,
		LogCap:  int64(cfg.LogCap),
	})
	pool.Start()
	defer pool.Stop()

	collector := metrics.NewCollector(store, ctrl, q)
	collector.Start()
	defer collector.Stop()

	server := api.NewServer(&api.Config{
		Manager:          mgr,
		Hub:              hub,
		Stats:            stats.NewSampler(ctrl),
		ListenAddr:       cfg.ListenAddr,
		CORSOrigins:      cfg.CORSOrigins,
		ResourceInterval: cfg.ResourceInterval,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info().
		Str("addr", cfg.ListenAddr).
		Int("workers", cfg.Workers).
		Int64("gpu_total_mb", cfg.TotalVRAM.MB()).
		Int64("gpu_slice_mb", cfg.GPUSlice.MB()).
		Msg("control plane running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("api shutdown failed")
	}
	return nil
}
