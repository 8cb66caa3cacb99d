package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/code-100-precent/LingMeet/internal/handler"
	"github.com/code-100-precent/LingMeet/internal/hub"
	"github.com/code-100-precent/LingMeet/internal/models"
	"github.com/code-100-precent/LingMeet/internal/pipeline"
	"github.com/code-100-precent/LingMeet/internal/room"
	"github.com/code-100-precent/LingMeet/pkg/cache"
	"github.com/code-100-precent/LingMeet/pkg/config"
	"github.com/code-100-precent/LingMeet/pkg/logger"
	"github.com/code-100-precent/LingMeet/pkg/subtitlecache"
	"github.com/code-100-precent/LingMeet/pkg/translator"
	"github.com/code-100-precent/LingMeet/pkg/utils"
	"github.com/code-100-precent/LingMeet/pkg/vad"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg := config.GlobalConfig
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if err := logger.Init(&cfg.Log, cfg.Server.Mode); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	db, err := utils.InitDatabase(cfg.Database.Driver, cfg.Database.DSN, cfg.Server.Mode == "development")
	if err != nil {
		logger.Fatal("open database failed", zap.Error(err))
	}
	if err := models.Migrate(db); err != nil {
		logger.Fatal("migrate failed", zap.Error(err))
	}

	c, err := cache.NewCache(cfg.Cache)
	if err != nil {
		logger.Fatal("init cache failed", zap.Error(err))
	}
	defer c.Close()

	provider, err := translator.NewProvider(cfg.AI.Provider, translator.Options{
		APIKey:    cfg.AI.APIKey,
		BaseURL:   cfg.AI.BaseURL,
		ASRModel:  cfg.AI.ASRModel,
		ChatModel: cfg.AI.ChatModel,
		TTSModel:  cfg.AI.TTSModel,
		TTSVoice:  cfg.AI.TTSVoice,
	})
	if err != nil {
		logger.Fatal("init AI provider failed", zap.Error(err))
	}

	detector := vad.NewDetector()
	detector.MinEnergy = cfg.Pipeline.VADMinEnergy

	subCache := subtitlecache.New(c)
	connHub := hub.New()
	rooms := room.NewManager()
	pipe := pipeline.New(db, provider, subCache, connHub, detector, pipeline.Config{
		MaxLatency: cfg.Pipeline.MaxLatency,
		MaxJitter:  cfg.Pipeline.MaxJitter,
	})

	if cfg.Server.Mode != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	handler.New(db, cfg, c, subCache, provider, connHub, rooms, pipe).Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: engine,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Server.Addr), zap.String("mode", cfg.Server.Mode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}
