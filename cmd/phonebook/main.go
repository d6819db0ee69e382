package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HerbHall/phonebook/internal/config"
	"github.com/HerbHall/phonebook/internal/contacts"
	"github.com/HerbHall/phonebook/internal/event"
	"github.com/HerbHall/phonebook/internal/meta"
	"github.com/HerbHall/phonebook/internal/plugin"
	"github.com/HerbHall/phonebook/internal/server"
	"github.com/HerbHall/phonebook/internal/services"
	"github.com/HerbHall/phonebook/internal/store"
	"github.com/HerbHall/phonebook/internal/version"
	pkgplugin "github.com/HerbHall/phonebook/pkg/plugin"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "backup":
			runBackup(os.Args[2:])
			return
		case "restore":
			runRestore(os.Args[2:])
			return
		case "seed":
			runSeed(os.Args[2:])
			return
		case "ls":
			runList(os.Args[2:])
			return
		case "version":
			fmt.Println(version.Info())
			return
		}
	}
	runServe(os.Args[1:])
}

func runServe(args []string) {
	fs := flag.NewFlagSet("phonebook", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush on exit

	logger.Info("phonebook server starting", zap.String("version", version.Short()))

	db, err := store.New(cfg.GetString("database.path"),
		store.WithLogger(logger.Named("store")),
		store.WithBusyTimeout(cfg.GetDuration("database.busy_timeout")),
	)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	bus := event.NewBus(logger.Named("events"))
	bus.SubscribeAll(func(_ context.Context, e pkgplugin.Event) {
		logger.Debug("event", zap.String("topic", e.Topic), zap.String("source", e.Source))
	})

	registry := plugin.NewRegistry(logger)

	// Register all plugins (compile-time composition)
	plugins := []pkgplugin.Plugin{
		contacts.New(db, afero.NewOsFs(),
			contacts.WithEventBus(bus),
			contacts.WithExposeErrors(cfg.GetBool("server.expose_errors")),
		),
	}
	for _, p := range plugins {
		if err := registry.Register(p); err != nil {
			logger.Fatal("failed to register plugin", zap.Error(err))
		}
	}

	if err := registry.InitAll(cfg); err != nil {
		logger.Fatal("failed to initialize plugins", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := registry.StartAll(ctx); err != nil {
		logger.Fatal("failed to start plugins", zap.Error(err))
	}

	metaRepo, err := services.NewSQLiteMetaRepository(ctx, db)
	if err != nil {
		logger.Fatal("failed to open metadata", zap.Error(err))
	}

	addr := cfg.GetString("server.host") + ":" + cfg.GetString("server.port")
	opts := server.Options{
		Handlers: []server.RouteRegistrar{meta.NewHandler(metaRepo, logger.Named("meta"))},
	}
	if cfg.GetBool("server.rate_limit.enabled") {
		opts.RateLimitRPS = cfg.GetFloat64("server.rate_limit.rps")
		opts.RateLimitBurst = cfg.GetInt("server.rate_limit.burst")
	}
	srv := server.New(addr, registry, logger, opts)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("phonebook server ready", zap.String("addr", addr))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	registry.StopAll()

	logger.Info("phonebook server stopped")
}

func newLogger(cfg *viper.Viper) (*zap.Logger, error) {
	if cfg.GetBool("log.development") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// loadConfig loads the configuration for the maintenance subcommands.
func loadConfig(path string) *viper.Viper {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
