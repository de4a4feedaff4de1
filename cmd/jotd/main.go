package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jotlabs/jot-core/internal/actions"
	"github.com/jotlabs/jot-core/internal/bus"
	"github.com/jotlabs/jot-core/internal/capability"
	"github.com/jotlabs/jot-core/internal/config"
	"github.com/jotlabs/jot-core/internal/dictate"
	"github.com/jotlabs/jot-core/internal/history"
	"github.com/jotlabs/jot-core/internal/inject"
	"github.com/jotlabs/jot-core/internal/natsserver"
	"github.com/jotlabs/jot-core/internal/packs"
	"github.com/jotlabs/jot-core/internal/runtime"
	"github.com/jotlabs/jot-core/internal/worker"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "jot.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager, err := worker.NewManager(cfg.Worker, logger)
	if err != nil {
		logger.Error("failed to configure worker", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := manager.EnsureStarted(); err != nil {
		logger.Error("failed to start worker", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer manager.Stop()

	client := worker.NewClient(manager, logger)
	pingTimeout := time.Duration(cfg.Worker.PingTimeoutMS) * time.Millisecond
	if _, err := client.Ping(ctx, pingTimeout); err != nil {
		logger.Error("worker did not answer ping", slog.String("error", err.Error()))
		os.Exit(1)
	}
	caps, err := client.Capabilities(ctx, pingTimeout)
	if err != nil {
		logger.Warn("worker capabilities unavailable", slog.String("error", err.Error()))
	}

	interp := actions.NewInterpreter()
	var biasPhrases []string
	if cfg.Packs.Enabled {
		manifests, err := packs.LoadDir(cfg.Packs.Directory)
		if err != nil {
			logger.Error("failed to load command packs", slog.String("error", err.Error()))
			os.Exit(1)
		}
		for _, m := range manifests {
			packs.Apply(m, interp)
			logger.Info("command pack loaded",
				slog.String("name", m.Metadata.Name),
				slog.String("version", m.Metadata.Version))
		}
		biasPhrases = packs.BiasPhrases(manifests)
	}

	store, err := history.Open(ctx, cfg.History, logger)
	if err != nil {
		logger.Error("failed to open history store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	injector, err := inject.New(cfg.Injector, logger, systemClipboard{}, systemPaster{})
	if err != nil {
		logger.Error("failed to configure injector", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var busClient *bus.Client
	var frontend *dictate.BusFrontend
	svcChecks := []runtime.HealthCheck{
		{Name: "worker", Check: manager.Running},
	}
	if cfg.Bus.Enabled {
		embedded, err := natsserver.Start(cfg.Bus, logger)
		if err != nil {
			logger.Error("failed to start embedded NATS", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer embedded.Shutdown()

		busClient, err = bus.Connect(ctx, cfg.Bus, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer busClient.Close()
		svcChecks = append(svcChecks, runtime.HealthCheck{Name: "bus", Check: busClient.Healthy})

		registry, err := capability.NewRegistry(ctx, capability.Options{AgentID: cfg.AgentName}, busClient, caps, logger)
		if err != nil {
			logger.Error("failed to start capability registry", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer registry.Close()
	}

	svc := dictate.NewService(cfg, client, interp, injector, store, busClient, biasPhrases, logger)
	if busClient != nil {
		frontend = dictate.NewBusFrontend(svc, busClient, logger)
		if err := frontend.Start(); err != nil {
			logger.Error("failed to start dictation frontend", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer frontend.Close()
	}

	rt := runtime.New(cfg, logger, svcChecks...)
	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
