package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	logrus "github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"browserengine/config"
	"browserengine/engine"
	"browserengine/logger"
	"browserengine/natshandler"
	"browserengine/orchestrator"
	"browserengine/routes"
	"browserengine/service"
)

func main() {
	cfg := config.LoadConfig()

	zlog, err := logger.New(cfg.Environment)
	if err != nil {
		panic(err)
	}
	defer zlog.Sync()

	olog := logrus.New()
	if cfg.Environment == "development" {
		olog.SetLevel(logrus.DebugLevel)
	}

	eng, err := engine.NewPlaywright(engine.Options{
		Headless: cfg.Headless,
	})
	if err != nil {
		zlog.Fatal("Failed to start browser engine", zap.Error(err))
	}

	sched := orchestrator.NewScheduler(eng, orchestrator.Config{
		Capacity:         cfg.PoolCapacity,
		QueueDepth:       cfg.QueueDepth,
		DefaultTimeout:   cfg.DefaultTimeout,
		LaunchRetries:    cfg.LaunchRetries,
		HealthInterval:   cfg.HealthInterval,
		FailureThreshold: cfg.FailureThreshold,
		BreakerCooldown:  cfg.BreakerCooldown,
	}, olog)

	svc := service.NewAutomationService(sched, cfg.MaxSteps, cfg.AllowEvaluate)

	// NATS is an optional second transport; the HTTP API works without it.
	nc, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		zlog.Warn("NATS unavailable, request/reply transport disabled",
			zap.String("url", cfg.NatsURL),
			zap.Error(err))
	} else {
		defer nc.Close()
		nc.Subscribe(natshandler.SubjectExecute, func(msg *nats.Msg) {
			natshandler.HandleExecuteRequest(msg, nc, svc)
		})
	}

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	routes.Register(router, svc)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		zlog.Info("HTTP server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info("Shutdown signal received, draining")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zlog.Warn("HTTP shutdown error", zap.Error(err))
	}
	if err := sched.Drain(ctx); err != nil {
		zlog.Warn("Orchestrator drain incomplete", zap.Error(err))
	}
	if err := eng.Close(); err != nil {
		zlog.Warn("Engine close error", zap.Error(err))
	}
	zlog.Info("Shutdown complete")
}
