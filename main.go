package main

import (
	"embed"
	"log/slog"
	"os"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"voiceloop/internal/config"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	setupLogging(logLevel())

	app := NewApp()
	err := wails.Run(&options.App{
		Title:     "Voiceloop",
		Width:     520,
		Height:    720,
		MinWidth:  380,
		MinHeight: 480,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		OnStartup:  app.startup,
		OnShutdown: app.shutdown,
		Bind: []interface{}{
			app,
		},
	})
	if err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

// logLevel reads the configured level, dotenv file included. A broken
// configuration is reported again at startup, so it falls back to info here.
func logLevel() string {
	cfg, err := config.Load()
	if err != nil {
		return "info"
	}
	return cfg.LogLevel
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogging(level string) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(level)})
	slog.SetDefault(slog.New(handler))
}
