// Command vigil is the main entry point for the Vigil session capture and
// safety analysis server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"

	"github.com/vigil-video/vigil/internal/config"
	"github.com/vigil-video/vigil/internal/health"
	"github.com/vigil-video/vigil/internal/observe"
	"github.com/vigil-video/vigil/internal/pipeline"
	"github.com/vigil-video/vigil/internal/server"
	"github.com/vigil-video/vigil/pkg/bookkeeping"
	"github.com/vigil-video/vigil/pkg/judge"
	"github.com/vigil-video/vigil/pkg/liveness"
	"github.com/vigil-video/vigil/pkg/media"
	"github.com/vigil-video/vigil/pkg/moderation"
	"github.com/vigil-video/vigil/pkg/objectstore"
	"github.com/vigil-video/vigil/pkg/transcribe"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	// The watcher keeps polling the file; log-level edits apply at runtime,
	// everything else needs a restart.
	logLevel := new(slog.LevelVar)
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		if old.Server.LogLevel != new.Server.LogLevel {
			logLevel.Set(slogLevel(new.Server.LogLevel))
			slog.Info("log level changed",
				"from", old.Server.LogLevel, "to", new.Server.LogLevel)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vigil: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vigil: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	slog.Info("vigil starting",
		"version", version,
		"config", *configPath,
		"listen_addr", listenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "vigil",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Bookkeeping database ──────────────────────────────────────────────────
	ledger, err := bookkeeping.NewStore(ctx, cfg.Database.DSN)
	if err != nil {
		slog.Error("failed to connect to bookkeeping database", "err", err)
		return 1
	}
	defer ledger.Close()
	if err := ledger.EnsureSchema(ctx); err != nil {
		slog.Error("failed to ensure bookkeeping schema", "err", err)
		return 1
	}

	// ── Object store ──────────────────────────────────────────────────────────
	artifacts, err := objectstore.NewStore(ctx, objectstore.Config{
		Region:          cfg.Storage.Region,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		Bucket:          cfg.Storage.Bucket,
	})
	if err != nil {
		slog.Error("failed to create object store", "err", err)
		return 1
	}
	slog.Info("object store ready", "bucket", artifacts.Bucket())

	// ── Analysis providers ────────────────────────────────────────────────────
	var sttOpts []transcribe.Option
	if cfg.Transcription.Model != "" {
		sttOpts = append(sttOpts, transcribe.WithModel(cfg.Transcription.Model))
	}
	if cfg.Transcription.BaseURL != "" {
		sttOpts = append(sttOpts, transcribe.WithBaseURL(cfg.Transcription.BaseURL))
	}
	stt := transcribe.NewHuggingFace(cfg.Transcription.Token, sttOpts...)

	var judgeOpts []judge.Option
	if cfg.Judge.Model != "" {
		judgeOpts = append(judgeOpts, judge.WithModel(cfg.Judge.Model))
	}
	sessionJudge := judge.NewGemini(cfg.Judge.APIKey, judgeOpts...)

	moderator, err := buildModerator(ctx, cfg)
	if err != nil {
		slog.Error("failed to create moderation backend", "err", err)
		return 1
	}

	// ── Realtime monitor sidecars ─────────────────────────────────────────────
	var monitoring *server.Monitoring
	if cfg.Monitor.Enabled {
		face, err := liveness.NewFaceHTTP(ctx, cfg.Monitor.FaceModelURL)
		if err != nil {
			slog.Error("face model sidecar unavailable", "url", cfg.Monitor.FaceModelURL, "err", err)
			return 1
		}
		voice, err := liveness.NewVoiceHTTP(ctx, cfg.Monitor.VoiceModelURL)
		if err != nil {
			slog.Error("voice model sidecar unavailable", "url", cfg.Monitor.VoiceModelURL, "err", err)
			return 1
		}
		monitoring = &server.Monitoring{
			Face:     face,
			Voice:    voice,
			Interval: time.Duration(cfg.Monitor.IntervalMs) * time.Millisecond,
			Metrics:  metrics,
		}
		slog.Info("realtime monitor ready", "interval_ms", cfg.Monitor.IntervalMs)
	}

	// ── Pipeline service ──────────────────────────────────────────────────────
	svc := pipeline.New(artifacts, ledger, media.New(), stt, sessionJudge,
		pipeline.WithMetrics(metrics))

	// ── HTTP server ───────────────────────────────────────────────────────────
	checks := health.New(version,
		health.Checker{Name: "database", Check: ledger.Ping},
		health.Checker{Name: "objectstore", Check: artifacts.Ping},
	)
	opts := []server.Option{
		server.WithHealth(checks),
		server.WithMetrics(metrics),
	}
	if monitoring != nil {
		opts = append(opts, server.WithMonitoring(monitoring))
	}
	srv := server.New(svc, moderator, opts...)

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		slog.Error("http server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	srv.StopMonitors()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildModerator picks the moderation backend: a custom HTTP endpoint when
// configured, Rekognition with the storage credentials otherwise.
func buildModerator(ctx context.Context, cfg *config.Config) (moderation.Moderator, error) {
	if cfg.Moderation.Endpoint != "" {
		slog.Info("moderation backend", "kind", "endpoint", "url", cfg.Moderation.Endpoint)
		return moderation.NewEndpointClient(cfg.Moderation.Endpoint), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Storage.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Storage.AccessKeyID, cfg.Storage.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	slog.Info("moderation backend", "kind", "rekognition", "region", cfg.Storage.Region)
	return moderation.NewRekognition(rekognition.NewFromConfig(awsCfg)), nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
