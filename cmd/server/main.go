package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/churn/internal/app"
	"github.com/stwalsh4118/churn/internal/config"
	"github.com/stwalsh4118/churn/internal/handlers"
	"github.com/stwalsh4118/churn/internal/logger"
	"github.com/stwalsh4118/churn/internal/metrics"
	"github.com/stwalsh4118/churn/internal/middleware"
	"github.com/stwalsh4118/churn/internal/services"
)

const (
	shutdownTimeout = 30 * time.Second
	startupTimeout  = 30 * time.Second
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.Env)
	log.Info("Starting churn API", map[string]interface{}{
		"version":     handlers.APIVersion,
		"environment": cfg.Server.Env,
		"port":        cfg.Server.Port,
		"model_path":  cfg.Model.Path,
		"store":       cfg.Model.Store,
	})

	startCtx, cancelStart := context.WithTimeout(context.Background(), startupTimeout)
	defer cancelStart()

	db, err := app.OpenDatabase(startCtx, cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", err, map[string]interface{}{
			"host": cfg.Database.Host,
			"port": cfg.Database.Port,
			"name": cfg.Database.Name,
		})
	}
	// Keep the Pinger interface nil when the database is disabled.
	var pinger handlers.Pinger
	if db != nil {
		defer db.Close()
		pinger = db
	}

	store, err := app.NewArtifactStore(cfg.Model, db)
	if err != nil {
		log.Fatal("Failed to open artifact store", err, nil)
	}
	policy, err := app.RiskPolicy(cfg.Risk)
	if err != nil {
		log.Fatal("Invalid risk thresholds", err, nil)
	}

	m := metrics.New()
	registry := services.NewModelRegistry(store, cfg.Model.Path, log, m)
	if _, err := registry.Reload(startCtx); err != nil {
		// The server still starts; readiness fails until a reload succeeds.
		log.Warn("No model loaded at startup", map[string]interface{}{
			"key":   cfg.Model.Path,
			"error": err.Error(),
		})
	}
	predictionService := services.NewPredictionService(registry, policy, log, m)

	retrain := newScheduler(cfg, db, store, registry, log, m)
	if retrain != nil {
		if err := retrain.Start(); err != nil {
			log.Fatal("Failed to start scheduler", err, nil)
		}
	}

	// Setup Gin router
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware in order: RequestID -> Logger -> Recovery -> Metrics -> CORS
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log, "/health", "/health/ready", "/metrics"))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Metrics(m))
	router.Use(middleware.CORS(cfg.CORS.Origins))

	healthHandler := handlers.NewHealthHandler(pinger, registry, cfg.Server.Env)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	predictionHandler := handlers.NewPredictionHandler(predictionService)
	modelHandler := handlers.NewModelHandler(registry)

	// Register API v1 routes
	v1 := router.Group("/api/v1")
	{
		v1.GET("/info", healthHandler.Info)
		v1.POST("/predictions", predictionHandler.Predict)

		model := v1.Group("/model")
		{
			model.GET("", modelHandler.Info)
			model.GET("/features", modelHandler.Features)
			model.POST("/reload", modelHandler.Reload)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server listening", map[string]interface{}{
			"port": cfg.Server.Port,
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed to start", err, nil)
		}
	}()

	// Wait for interrupt signal (SIGINT or SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if retrain != nil {
		if err := retrain.Stop(shutdownCtx); err != nil {
			log.Error("Scheduler did not stop cleanly", err, nil)
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", err, map[string]interface{}{
			"timeout": shutdownTimeout.String(),
		})
	}

	log.Info("Server exited", nil)
}
