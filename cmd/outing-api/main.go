// README: Entry point; loads config, wires services, starts the HTTP server and the session sweeper.
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

	"outing/internal/app"
	"outing/internal/config"
	httptransport "outing/internal/http"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer application.Close()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := httptransport.NewServer(httptransport.ServerDeps{
		Chat:        application.Chat,
		Sessions:    application.Chat,
		Places:      application.Places,
		Photos:      application.Places,
		CacheStats:  application.CacheStats,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		TurnTimeout: cfg.HTTP.TurnTimeout,
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go application.RunSweeper(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
	}()

	log.Printf("outing-api listening on %s (mode=%s)", cfg.HTTP.Addr, cfg.Dialogue.Mode)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	log.Printf("outing-api stopped")
}
