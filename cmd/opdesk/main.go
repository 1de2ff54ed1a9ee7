package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sebas/opdesk/internal/banner"
	"github.com/sebas/opdesk/internal/logger"
	"github.com/sebas/opdesk/internal/panel/app"
	"github.com/sebas/opdesk/internal/panel/config"
)

func main() {
	configPath := flag.String("config", "opdesk.yaml", "Path to the configuration file")
	logLevel := flag.String("loglevel", "", "Log level override (debug, info, warn, error)")
	flag.Parse()

	// Initialize logger
	logger.InitLogger(os.Stdout)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger.SetLevel(cfg.LogLevel)

	directorySource := fmt.Sprintf("file (%d extensions)", len(cfg.Directory.Extensions))
	if cfg.Directory.DSN != "" {
		directorySource = "database"
	}

	// Print startup banner
	banner.Print("OPERATOR PANEL", []banner.ConfigLine{
		{Label: "HTTP Listen", Value: cfg.ListenAddr},
		{Label: "Switch", Value: cfg.Switch.Addr},
		{Label: "Directory", Value: directorySource},
		{Label: "Operators", Value: fmt.Sprintf("%d", len(cfg.Operators))},
		{Label: "Log Level", Value: cfg.LogLevel},
	})

	// Create panel
	panel, err := app.NewPanel(context.Background(), cfg)
	if err != nil {
		slog.Error("Failed to create panel", "error", err)
		os.Exit(1)
	}
	defer panel.Close()

	run(panel, cfg)
}

func run(panel *app.Panel, cfg *config.Config) {
	slog.Info("Starting OpDesk Operator Panel",
		"listen", cfg.ListenAddr,
		"switch", cfg.Switch.Addr,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- panel.Run(ctx) }()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down", "signal", sig)
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			slog.Error("Panel stopped", "error", err)
			os.Exit(1)
		}
	}
}
