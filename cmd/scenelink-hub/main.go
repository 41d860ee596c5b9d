// Main package for the SceneLink hub: a standalone scene server that authenticates game
// clients over WebSocket and keeps their loaded scenes in sync.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sessamekesh/scenelink/pkg/auth"
	"github.com/sessamekesh/scenelink/pkg/session"
	"github.com/sessamekesh/scenelink/pkg/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %s\n", err)
		os.Exit(2)
	}

	if cfg.IssueToken {
		token := auth.NewToken(auth.NewKey(), []byte(cfg.TokenSecret))
		fmt.Printf("key:   %s\ntoken: %s\n", token.Key(), token)
		return
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %s\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("SceneLink hub stopped with an error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Successfully shutdown SceneLink hub")
}

func run(cfg config, logger *zap.Logger) error {
	shutdownCtx, shutdownRelease := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer shutdownRelease()

	authenticator, err := cfg.newAuthenticator(logger)
	if err != nil {
		return fmt.Errorf("create authenticator: %w", err)
	}

	manager, err := session.CreateManager(cfg.managerConfig(logger, authenticator))
	if err != nil {
		return fmt.Errorf("create session manager: %w", err)
	}
	scenes := session.CreateSceneBroadcaster(manager)

	wsHandler, err := manager.CreateTransportHandler("WebSocket")
	if err != nil {
		return fmt.Errorf("create WebSocket transport handler: %w", err)
	}
	wsServer, err := transport.CreateWebsocketHandler(wsHandler, transport.WebsocketHandlerParams{
		ListenAddress:    cfg.ListenAddress,
		ListenEndpoint:   cfg.Endpoint,
		AllowAllHosts:    len(cfg.AllowedOrigins) == 0,
		AllowlistedHosts: cfg.AllowedOrigins,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("create WebSocket server: %w", err)
	}

	if start := cfg.startScenes(); len(start.SceneLookupDatas) > 0 {
		if err := scenes.LoadGlobalScenes(start); err != nil {
			return fmt.Errorf("load start scenes: %w", err)
		}
		logger.Info("Loaded start scenes", zap.Strings("scenes", scenes.GlobalScenes()))
	}

	eg, ctx := errgroup.WithContext(shutdownCtx)

	eg.Go(func() error {
		logger.Info("Starting session manager", zap.String("authenticator", cfg.Authenticator))
		defer logger.Info("Stopping session manager")
		return manager.Start(ctx)
	})

	eg.Go(func() error {
		defer logger.Info("Stopping WebSocket server")
		return wsServer.Start(ctx)
	})

	return eg.Wait()
}
