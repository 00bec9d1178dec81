// Package main is the entry point for the protolith server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/protolith-db/protolith/internal/app"
	"github.com/protolith-db/protolith/internal/buildinfo"
	"github.com/protolith-db/protolith/internal/config"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("protolith %s (commit: %s, built: %s)\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
		bootLogger.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("starting protolith",
		slog.String("version", buildinfo.Version),
		slog.String("address", cfg.Address()),
		slog.String("db_path", cfg.DB.Path),
		slog.String("default_database", cfg.Database.Name),
	)

	a, err := app.Boot(cfg, logger)
	if err != nil {
		logger.Error("failed to boot", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// newLogger builds the slog.Logger cfg.Logging describes: JSON or text,
// at the configured level, to stdout or to a rotating log file.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	w := cfg.Logging.Writer()
	if strings.EqualFold(cfg.Logging.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
