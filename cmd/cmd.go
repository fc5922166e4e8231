package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"joy-journal/internal/config"
	"joy-journal/internal/handlers"
	"joy-journal/internal/identity"
	"joy-journal/internal/logger"
	"joy-journal/internal/models"
	"joy-journal/internal/objectstore"
	"joy-journal/internal/repository"
	"joy-journal/internal/services"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const defaultConfigPath = "config.yaml"

func Run() {
	configPath := os.Getenv("JOY_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Local store is always available
	local, err := repository.OpenLocalStore(cfg.Local.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Local.Path).Msg("Failed to open local store")
	}
	defer local.Close()
	log.Info().Str("path", cfg.Local.Path).Msg("Local store opened")

	// Remote backend is only wired when the identity provider is configured
	var (
		provider services.IdentityProvider
		records  services.RemoteMomentStore
		profiles services.ProfileStore
		images   services.ImageStore
	)

	var sessions *services.SessionManager
	if cfg.Auth.Configured() {
		if !cfg.Database.Configured() {
			log.Fatal().Msg("Identity provider is configured but the database is not")
		}

		db, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		// Test database connection
		if err := db.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to ping database")
		}
		if err := repository.EnsureRemoteSchema(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("Failed to prepare database schema")
		}
		log.Info().Msg("Database connection established")

		records = repository.NewMomentRepository(db)
		profiles = repository.NewProfileRepository(db)

		client := identity.New(cfg.Auth, local)
		provider = client
		sessions = services.NewSessionManager(provider)

		if cfg.Storage.Configured() {
			s3Client, err := objectstore.NewClient(ctx, cfg.Storage)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to create object store client")
			}
			images = objectstore.New(s3Client, sessions, cfg.Storage)
			log.Info().Str("bucket", cfg.Storage.ImageBucket).Msg("Object store configured")
		} else {
			log.Warn().Msg("Object store not configured, image uploads are disabled")
		}
	} else {
		log.Warn().Msg("Identity provider not configured, moments are kept locally only")
		sessions = services.NewSessionManager(nil)
	}
	defer sessions.Close()

	// Initialize services
	moments := services.NewMomentService(sessions, local, records, images)
	profileService := services.NewProfileService(profiles, local, sessions, images)
	wsHub := services.NewWSHub()

	sessions.Subscribe(moments.HandleAuthEvent)
	sessions.Subscribe(func(event models.AuthEvent) {
		wsHub.NotifySession(event.Type, sessions.Status(), sessions.Current())
	})
	moments.OnLoad(wsHub.NotifyMomentsLoaded)

	// Initial identity check, which also performs the first load
	sessions.Init(ctx)
	go sessions.Run(ctx)

	router := handlers.NewRouter(handlers.Services{
		Sessions: sessions,
		Moments:  moments,
		Profiles: profileService,
		Hub:      wsHub,
	}, cfg.Server.AllowedOrigins)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Bool("remote", sessions.Configured()).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Stop the session refresh loop
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
