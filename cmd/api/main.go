package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"voice-turns-go/internal/app"
	"voice-turns-go/internal/config"
	"voice-turns-go/internal/logger"
)

func main() {
	log := logger.New()
	log.WithField("service", "voice-turns-go").Info("starting service")

	cfg, err := config.Load() // loads .env
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	a, err := app.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build pipeline")
	}
	defer a.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      newServer(a, log).routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", srv.Addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("server terminated")
	}
	log.Info("server stopped")
}
