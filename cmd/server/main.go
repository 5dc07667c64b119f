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

	"github.com/joho/godotenv"

	"github.com/voicepipe/voice-ingest-service/internal/config"
	"github.com/voicepipe/voice-ingest-service/internal/metrics"
	"github.com/voicepipe/voice-ingest-service/internal/server"
	"github.com/voicepipe/voice-ingest-service/internal/session"
	"github.com/voicepipe/voice-ingest-service/internal/transcription"
	"github.com/voicepipe/voice-ingest-service/internal/tts"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voice-ingest-service"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Local .env files feed the config's environment overrides. Missing
	// file is fine in production where the environment is set directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load .env file: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("max_sessions", cfg.Server.MaxSessions),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.String("format", cfg.Audio.Format),
		slog.Bool("vad_enabled", cfg.VAD.Enabled),
		slog.Int("silence_threshold_ms", cfg.VAD.SilenceThresholdMs),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	sttClient, err := transcription.NewClient(transcription.Config{
		Endpoint:      cfg.Transcription.Endpoint,
		APIKey:        cfg.Transcription.APIKey,
		Timeout:       cfg.Transcription.GetTimeoutDuration(),
		MaxRetries:    cfg.Transcription.MaxRetries,
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
		Language:      cfg.Transcription.Language,
		Model:         cfg.Transcription.Model,
	})
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	probeCtx, probeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if sttClient.IsAvailable(probeCtx) {
		logger.Info("Transcription backend is available",
			slog.String("endpoint", cfg.Transcription.Endpoint),
		)
	} else {
		logger.Warn("Transcription backend is not responding, continuing anyway",
			slog.String("endpoint", cfg.Transcription.Endpoint),
		)
	}
	probeCancel()

	var ttsClient *tts.Client
	if cfg.TTS.Enabled {
		ttsClient, err = tts.NewClient(tts.Config{
			Endpoint: cfg.TTS.Endpoint,
			APIKey:   cfg.TTS.APIKey,
			Timeout:  cfg.TTS.GetTimeoutDuration(),
			Voice:    cfg.TTS.Voice,
			Format:   cfg.TTS.Format,
		})
		if err != nil {
			logger.Error("Failed to create TTS client", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("TTS client initialized",
			slog.String("endpoint", cfg.TTS.Endpoint),
			slog.String("voice", cfg.TTS.Voice),
		)
	}

	sessionMgr, err := session.NewManager(session.ManagerConfig{
		Session: session.Config{
			Format:              cfg.Audio.Format,
			Language:            cfg.Transcription.Language,
			MinFragmentDuration: cfg.Audio.MinFragmentDuration,
			VADEnabled:          cfg.VAD.Enabled,
			SilenceThreshold:    cfg.VAD.GetSilenceThreshold(),
			MaxUtterance:        cfg.VAD.GetMaxUtteranceDuration(),
			ChunkDuration:       cfg.Audio.ChunkDuration,
			MaxBufferDuration:   cfg.Audio.MaxBufferDuration,
			TranscribeTimeout:   cfg.Transcription.GetTimeoutDuration(),
		},
		MaxSessions:         cfg.Server.MaxSessions,
		IdleTimeout:         cfg.Server.GetSessionIdleTimeout(),
		ByteRate:            cfg.Audio.ByteRate,
		SampleRate:          cfg.Audio.SampleRate,
		RMSSilenceThreshold: cfg.VAD.RMSSilenceThreshold,
	}, sttClient, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to create session manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Session manager initialized",
		slog.Duration("idle_timeout", cfg.Server.GetSessionIdleTimeout()),
	)

	wsServer := server.NewWSServer(cfg.Server, sessionMgr, appMetrics, logger)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, sessionMgr, wsServer, sttClient, ttsClient, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	if err := wsServer.Start(); err != nil {
		logger.Error("Failed to start WebSocket server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("ws_address", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := wsServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping WebSocket server", slog.String("error", err.Error()))
	}

	sessionMgr.Stop()

	if err := sttClient.Close(); err != nil {
		logger.Warn("Error closing transcription client", slog.String("error", err.Error()))
	}

	sttStats := sttClient.GetStats()
	logger.Info("Final statistics",
		slog.Uint64("transcription_requests", sttStats.TotalRequests),
		slog.Uint64("transcription_successes", sttStats.SuccessRequests),
		slog.Float64("transcription_success_rate", sttStats.SuccessRate),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
