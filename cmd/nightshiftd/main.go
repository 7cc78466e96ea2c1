package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nightshift/backend/internal/bootstrap"
	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/internal/core/services"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	transporthttp "github.com/nightshift/backend/internal/transport/http"
)

func main() {
	configPath := flag.String("config", os.Getenv("NIGHTSHIFT_CONFIG"), "path to config file")
	noScheduler := flag.Bool("no-scheduler", false, "serve the API only")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	app, err := bootstrap.New(cfg, log)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	log.Infow("database ready", "driver", cfg.Database.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sched *services.Scheduler
	var stats func() interface{}
	if !*noScheduler {
		sched = app.Scheduler()
		if err := sched.Start(ctx); err != nil {
			log.Fatalf("failed to start scheduler: %v", err)
		}
		stats = func() interface{} { return sched.Stats() }
	}

	server := transporthttp.NewApp(cfg, log)
	transporthttp.SetupRoutes(server, transporthttp.RouterConfig{
		Tasks:   app.Tasks,
		Control: app.Control,
		Stats:   stats,
		Logger:  log,
		Config:  cfg,
	})

	addr := cfg.Server.Address()
	go func() {
		if err := server.Listen(addr); err != nil {
			log.Errorw("server stopped", "error", err)
			stop()
		}
	}()
	log.Infof("server started on %s", addr)

	<-ctx.Done()
	gracefulShutdown(server, sched, app, log)
}

// gracefulShutdown stops intake first, then the workers (which record their
// in-flight tasks), then closes the store.
func gracefulShutdown(server *fiber.App, sched *services.Scheduler, app *bootstrap.App, log *logger.Logger) {
	log.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.ShutdownWithContext(ctx); err != nil {
		log.Errorf("server forced to shutdown: %v", err)
	}

	if sched != nil {
		sched.Stop()
	}

	if err := app.Close(); err != nil {
		log.Errorf("failed to close resources: %v", err)
	}
	log.Info("exited gracefully")
}
