// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Corphon/AutoAnnotator/internal/app"
	"github.com/Corphon/AutoAnnotator/internal/config"
	"github.com/gin-gonic/gin"
)

func main() {
	log.Println("Starting AutoAnnotator review server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	createDirectories(cfg)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	application, err := app.New(context.Background(), cfg, os.Stdout)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	log.Printf("Listening on port %s", cfg.Port)
	log.Printf("Review UI: http://localhost:%s", cfg.Port)

	setupGracefulShutdown(application, cfg.Port)
}

func setupGracefulShutdown(application *app.App, port string) {
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: application.Router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Websocket connections are hijacked and not tracked by Shutdown
	application.Hub.Close()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
	if err := application.Close(); err != nil {
		log.Printf("failed to release resources: %v", err)
	}

	log.Println("Server stopped")
}

// createDirectories creates the directories the server writes to
func createDirectories(cfg *config.Config) {
	for _, dir := range cfg.Directories() {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("failed to create directory %s: %v", dir, err)
		}
	}
}
