// Package main provides the main entry point for the Yata no Kagami vision gateway
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/amirphl/Yata-no-Kagami/app/handlers"
	"github.com/amirphl/Yata-no-Kagami/app/router"
	"github.com/amirphl/Yata-no-Kagami/app/services"
	businessflow "github.com/amirphl/Yata-no-Kagami/business_flow"
	"github.com/amirphl/Yata-no-Kagami/config"
	"github.com/amirphl/Yata-no-Kagami/repository"
	"github.com/gofiber/fiber/v3"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Application represents the main application structure
type Application struct {
	router router.Router
	config *config.ProductionConfig
	server *fiber.App
}

func main() {
	log.Println("Starting Yata no Kagami gateway...")

	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	setupLogging(&cfg.Logging)

	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	app.router.SetupRoutes()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Println("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// setupLogging wires the process log output into a rotating file sink when configured
func setupLogging(cfg *config.LoggingConfig) {
	if cfg.File == "" {
		return
	}
	rotating := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotating))
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	// Initialize transient upload storage
	tempFileRepo, err := repository.NewTempFileRepository(cfg.Upload.Dir, cfg.Upload.MaxSizeBytes)
	if err != nil {
		return nil, err
	}

	// Clear anything a previous crash may have left behind
	if removed, err := tempFileRepo.Sweep(context.Background(), cfg.Upload.SweepMaxAge); err != nil {
		log.Printf("Temp file sweep failed: %v", err)
	} else if removed > 0 {
		log.Printf("Temp file sweep removed %d stale files", removed)
	}

	// One shared generation client, never mutated after construction
	geminiClient := services.NewGeminiClient(&cfg.Gemini)

	analysisFlow := businessflow.NewAnalysisFlow(tempFileRepo, geminiClient, &cfg.Upload)

	analysisHandler := handlers.NewAnalysisHandler(analysisFlow)

	appRouter := router.NewFiberRouter(analysisHandler, cfg)

	return &Application{
		router: appRouter,
		config: cfg,
		server: appRouter.GetApp(),
	}, nil
}
