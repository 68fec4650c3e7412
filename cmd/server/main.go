package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/streamdl/streamdl/internal/config"
	"github.com/streamdl/streamdl/internal/download"
	"github.com/streamdl/streamdl/internal/httpapi"
	"github.com/streamdl/streamdl/internal/jobs"
	"github.com/streamdl/streamdl/internal/persistence"
	"github.com/streamdl/streamdl/pkg/log"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.LogLevel))

	if err := os.MkdirAll(cfg.Storage.DownloadDir, 0o755); err != nil {
		log.Fatal("failed to create download directory: %v", err)
	}

	store, err := persistence.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal("failed to open job store: %v", err)
	}
	defer store.Close()

	tool := download.NewTool(download.Options{
		YtdlpPath:   cfg.Download.YtdlpPath,
		FfmpegPath:  cfg.Download.FfmpegPath,
		CookiesFile: cfg.Download.CookiesFile,
		MergeFormat: cfg.Download.MergeFormat,
		BaseDir:     cfg.Storage.DownloadDir,
	})

	manager := jobs.NewManager(store, tool, cfg.Download.MaxConcurrent)
	manager.Start()

	server := httpapi.NewServer(manager)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening on %s", cfg.Server.ListenAddr)
		errCh <- server.ListenAndServe(cfg.Server.ListenAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("server stopped: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown: %v", err)
	}
	manager.Stop()
}
