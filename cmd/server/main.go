package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cipherdrop/cipherdrop/internal/artifact"
	"github.com/cipherdrop/cipherdrop/internal/assembler"
	"github.com/cipherdrop/cipherdrop/internal/cleanup"
	"github.com/cipherdrop/cipherdrop/internal/common"
	"github.com/cipherdrop/cipherdrop/internal/session"
	"github.com/cipherdrop/cipherdrop/internal/storage"
	"github.com/cipherdrop/cipherdrop/internal/upload"
	"github.com/cipherdrop/cipherdrop/pkg/config"
)

func main() {
	cfg := config.LoadFromEnv()

	setupLogging(cfg.Logging)

	log.Info().Msg("starting cipherdrop server")

	storageFactory := storage.NewStorageFactory(&cfg.Storage)
	blobStorage, err := storageFactory.CreateStorage()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}

	sessionStore, err := buildSessionStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize session store")
	}

	artifactStore, closeDB, err := buildArtifactStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize artifact store")
	}
	defer closeDB()

	asm := assembler.New(blobStorage, cfg.Upload.MaxChunkSize)
	uploadService := upload.NewService(sessionStore, artifactStore, asm, &cfg.Upload)

	scheduler := cleanup.New(sessionStore, artifactStore, asm, blobStorage,
		cfg.Upload.SweepInterval, cfg.Upload.UploadWindow)
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	go scheduler.Run(schedulerCtx)

	router := setupRouter(uploadService)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	stopScheduler()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	} else {
		log.Info().Msg("server shutdown complete")
	}
}

// buildSessionStore picks the session backend: in-process for a single
// instance, Redis when the engine runs behind several.
func buildSessionStore(cfg *config.Config) (session.Store, error) {
	switch cfg.Upload.SessionBackend {
	case "memory":
		return session.NewMemoryStore(), nil
	case "redis":
		client, err := common.NewRedisClient(&cfg.Redis)
		if err != nil {
			return nil, err
		}
		return session.NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("unsupported session backend: %s", cfg.Upload.SessionBackend)
	}
}

// buildArtifactStore connects the relational artifact store, falling
// back to the in-process store when no database is configured.
func buildArtifactStore(cfg *config.Config) (artifact.Store, func(), error) {
	if cfg.Database.Host == "" {
		log.Warn().Msg("no database configured, artifact records are in-process only")
		return artifact.NewMemoryStore(), func() {}, nil
	}

	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, err
	}
	return artifact.NewGormStore(db), func() { db.Close() }, nil
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func setupRouter(uploadService *upload.Service) *gin.Engine {
	if zerolog.GlobalLevel() == zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "cipherdrop",
			"time":    time.Now().UTC(),
		})
	})

	api := router.Group("/api/v1")
	{
		uploads := api.Group("/uploads")
		{
			uploads.POST("", handleInitUpload(uploadService))
			uploads.PUT("/:sessionId/chunks/:index", handleUploadChunk(uploadService))
			uploads.POST("/:sessionId/finalize", handleFinalize(uploadService))
		}
	}

	return router
}
