package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/site-forge/backend/internal/config"
	"github.com/zhouzirui/site-forge/backend/internal/handler"
	speechHandler "github.com/zhouzirui/site-forge/backend/internal/handler/speech"
	"github.com/zhouzirui/site-forge/backend/internal/logging"
	"github.com/zhouzirui/site-forge/backend/internal/model/site"
	speechModel "github.com/zhouzirui/site-forge/backend/internal/model/speech"
	"github.com/zhouzirui/site-forge/backend/internal/service/ai"
	"github.com/zhouzirui/site-forge/backend/internal/service/session"
	siteService "github.com/zhouzirui/site-forge/backend/internal/service/site"
	"github.com/zhouzirui/site-forge/backend/internal/service/speech"
)

const shutdownNotice = "server shutting down"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Setup(cfg.Log)
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file, using process environment only")
	}

	store, err := openStore(cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open site store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("close site store")
		}
	}()

	sites := siteService.NewService(store, siteService.Options{
		PublicBaseURL: cfg.Server.PublicBaseURL,
		SlugAttempts:  cfg.Store.SlugAttempts,
	})

	aiService, err := ai.NewServiceFromConfig(ctx, cfg.AI)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize AI service")
	}
	if aiService.Enabled() {
		log.Info().Str("model", cfg.AI.Model).Str("vision_model", cfg.AI.VisionModel).Msg("AI service initialized")
	} else {
		log.Warn().Msg("Ark 凭证或模型未配置，生成接口将返回 503")
	}

	speechService := speech.NewServiceFromConfig(cfg.Speech)
	registry := session.NewRegistry()

	router := handler.NewRouter(handler.Dependencies{
		Sites:          sites,
		AI:             aiService,
		Speech:         speechService,
		Registry:       registry,
		Relay:          speechHandler.OptionsFromConfig(cfg.Speech, cfg.Server.AllowedOrigins),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	startServer(ctx, cfg.Server, router, registry)
}

func openStore(cfg config.StoreConfig) (site.Store, error) {
	if cfg.InMemory() {
		log.Warn().Msg("using in-memory site store, saved sites are lost on restart")
		return site.NewMemoryStore(), nil
	}
	store, err := site.NewSQLiteStore(cfg.DSN)
	if err != nil {
		return nil, err
	}
	log.Info().Str("dsn", cfg.DSN).Msg("sqlite site store ready")
	return store, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, registry *session.Registry) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Shutdown 不会关闭已升级的 WebSocket 连接，需要单独通知并关闭
	srv.RegisterOnShutdown(func() {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sent := registry.Broadcast(notifyCtx, speechModel.ErrorReply(shutdownNotice))
		registry.CloseAll(shutdownNotice)
		log.Info().Int("notified", sent).Msg("relay sessions closed")
	})

	log.Info().Str("addr", serverCfg.Addr).Msg("site forge backend listening")
	if err := runServer(ctx, srv); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
