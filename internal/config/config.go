package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all application configuration.
// Values come from environment variables with sensible defaults.
//
// Environment Variables:
//
// Server Configuration:
// - LISTEN_ADDR: HTTP listen address (default: :8080)
//
// Storage Configuration:
// - DB_PATH: SQLite database file (default: data/streamdl.db)
// - DOWNLOAD_DIR: working directory for job artifacts (default: data/downloads)
//
// Download Configuration:
// - MAX_CONCURRENT_DOWNLOADS: executor slots (default: 3)
// - YTDLP_PATH: fetch tool binary (default: yt-dlp)
// - FFMPEG_PATH: muxing tool binary (default: ffmpeg)
// - YTDLP_COOKIES: optional cookies.txt handed to the fetch tool
// - MERGE_FORMAT: container for merged video output (default: mkv)
//
// System Configuration:
// - LOG_LEVEL: debug/info/warn/error (default: info)
type Config struct {
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Download DownloadConfig `json:"download"`
	LogLevel string         `json:"log_level"`
}

type ServerConfig struct {
	ListenAddr string `json:"listen_addr"`
}

type StorageConfig struct {
	DBPath      string `json:"db_path"`
	DownloadDir string `json:"download_dir"`
}

// DownloadConfig holds the configuration for the download executor.
type DownloadConfig struct {
	MaxConcurrent int    `json:"max_concurrent"`
	YtdlpPath     string `json:"ytdlp_path"`
	FfmpegPath    string `json:"ffmpeg_path"`
	CookiesFile   string `json:"cookies_file"`
	MergeFormat   string `json:"merge_format"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			ListenAddr: getEnvString("LISTEN_ADDR", ":8080"),
		},
		Storage: StorageConfig{
			DBPath:      getEnvString("DB_PATH", filepath.Join("data", "streamdl.db")),
			DownloadDir: getEnvString("DOWNLOAD_DIR", filepath.Join("data", "downloads")),
		},
		Download: DownloadConfig{
			MaxConcurrent: getEnvInt("MAX_CONCURRENT_DOWNLOADS", 3),
			YtdlpPath:     getEnvString("YTDLP_PATH", "yt-dlp"),
			FfmpegPath:    getEnvString("FFMPEG_PATH", "ffmpeg"),
			CookiesFile:   getEnvString("YTDLP_COOKIES", ""),
			MergeFormat:   getEnvString("MERGE_FORMAT", "mkv"),
		},
		LogLevel: getEnvString("LOG_LEVEL", "info"),
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR is required")
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if c.Storage.DownloadDir == "" {
		return fmt.Errorf("DOWNLOAD_DIR is required")
	}
	if c.Download.MaxConcurrent < 1 {
		return fmt.Errorf("MAX_CONCURRENT_DOWNLOADS must be at least 1")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
