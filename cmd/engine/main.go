package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"perpetual-engine/internal/engine"
	"perpetual-engine/internal/logger"
	"perpetual-engine/internal/market"
	"perpetual-engine/internal/notify"
	"perpetual-engine/internal/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	autostart := flag.Bool("autostart", false, "start the engine without waiting for the API")
	flag.Parse()

	if err := initializeSystem(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *autostart); err != nil {
		logger.ErrorWithErr(ctx, "Engine exited with error", err)
		shutdownTracing()
		os.Exit(1)
	}
	shutdownTracing()
}

func run(ctx context.Context, configPath string, autostart bool) error {
	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return err
	}

	sinks, st, err := initializeSinks(ctx, cfg)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	dispatcher := notify.New(ctx, cfg, sinks...)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := dispatcher.Close(closeCtx); err != nil {
			logger.Warn(closeCtx, "Notifications not fully delivered", "error", err, "dropped", dispatcher.Dropped())
		}
	}()

	src, err := market.New(cfg)
	if err != nil {
		return err
	}

	hub := server.NewHub()
	eng := engine.NewFromConfig(cfg, src,
		engine.WithNotifier(dispatcher),
		engine.WithPublisher(hub),
	)

	// server.New must see a nil interface, not a nil *storage.Store.
	var history server.History
	if st != nil {
		history = st
	}
	srv := server.New(eng, history, hub, cfg.Server.CORSOrigins)

	if autostart {
		if err := eng.Start(ctx); err != nil {
			return fmt.Errorf("autostart: %w", err)
		}
	}

	logger.Info(ctx, "Perpetual engine ready",
		"addr", cfg.Server.Addr,
		"timezone", cfg.Timezone,
		"symbols", len(cfg.Market.Symbols),
		"autostart", autostart,
	)

	serveErr := srv.Run(ctx, cfg.Server.Addr)

	logger.Info(ctx, "Shutting down...")
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		logger.ErrorWithErr(stopCtx, "Engine did not stop cleanly", err)
	}
	return serveErr
}

func shutdownTracing() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = logger.Shutdown(ctx)
}
