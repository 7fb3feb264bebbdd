// betterflyd is the Betterfly chat server daemon.
//
// It accepts long-lived TCP connections carrying brace-framed JSON,
// relays chat between users and groups, persists every message through
// MySQL stored procedures, hands out presigned COS URLs for file
// transfer, and pages offline recipients through APNs.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Voltline/Betterfly-Server-Go/internal/config"
	"github.com/Voltline/Betterfly-Server-Go/internal/objstore"
	"github.com/Voltline/Betterfly-Server-Go/internal/push"
	"github.com/Voltline/Betterfly-Server-Go/internal/server"
	"github.com/Voltline/Betterfly-Server-Go/internal/store"
	"github.com/Voltline/Betterfly-Server-Go/internal/version"
)

const (
	connectTimeout  = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	configDir := os.Getenv("BETTERFLY_CONFIG")
	if configDir == "" {
		configDir = "Config"
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	logger.Info().Str("version", version.Version()).Msg("betterflyd starting")

	cfg, err := config.Load(configDir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", configDir).Msg("load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.Server.LogLevel); err == nil && level != zerolog.NoLevel {
		logger = logger.Level(level)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	db, err := store.Open(ctx, cfg.Database.DSN(), logger.With().Str("component", "store").Logger())
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer db.Close()
	logger.Info().Str("db", cfg.Database.DB).Msg("database connected")

	var objects server.ObjectStore
	if cfg.COS.SecretID != "" {
		st, err := objstore.New(cfg.COS.Endpoint(), cfg.COS.SecretID, cfg.COS.SecretKey, cfg.COS.Bucket)
		if err != nil {
			logger.Fatal().Err(err).Msg("init object store")
		}
		objects = st
		logger.Info().Str("endpoint", cfg.COS.Endpoint()).Str("bucket", cfg.COS.Bucket).Msg("object store ready")
	} else {
		logger.Warn().Msg("cos_config.json absent or empty, file transfers disabled")
		objects = unconfiguredObjects{}
	}

	var pusher push.Gateway
	if _, err := os.Stat(cfg.APNs.KeyFile); err == nil {
		p, err := push.New(cfg.APNs.KeyFile, cfg.APNs.KeyID, cfg.APNs.TeamID, cfg.APNs.Topic,
			cfg.APNs.Sandbox, logger.With().Str("component", "push").Logger())
		if err != nil {
			logger.Fatal().Err(err).Msg("init push gateway")
		}
		pusher = p
		logger.Info().Str("topic", cfg.APNs.Topic).Bool("sandbox", cfg.APNs.Sandbox).Msg("push gateway ready")
	} else {
		logger.Warn().Str("key_file", cfg.APNs.KeyFile).Msg("apns signing key absent, push disabled")
		pusher = discardPusher{log: logger}
	}

	srv := server.New(cfg.Server, db, objects, pusher,
		logger.With().Str("component", "server").Logger())
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	shCtx, shCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shCancel()
	if err := srv.Shutdown(shCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
	}
}

// unconfiguredObjects answers file requests with an error when
// cos_config.json is absent.
type unconfiguredObjects struct{}

func (unconfiguredObjects) PresignUpload(context.Context, string) (string, error) {
	return "", errors.New("object store not configured")
}

func (unconfiguredObjects) PresignDownload(context.Context, string) (string, error) {
	return "", errors.New("object store not configured")
}

// discardPusher drops notifications when no APNs signing key is
// installed.
type discardPusher struct {
	log zerolog.Logger
}

func (d discardPusher) Send(t push.Task) push.Result {
	d.log.Debug().Int64("user", t.UserID).Msg("push disabled, notification dropped")
	return push.OK
}
