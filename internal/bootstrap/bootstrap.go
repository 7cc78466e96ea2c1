// Package bootstrap wires configuration into the store, the services and the
// scheduler. Both binaries start here.
package bootstrap

import (
	"errors"
	"fmt"

	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/core/services"
	"github.com/nightshift/backend/internal/executor"
	"github.com/nightshift/backend/internal/infrastructure/artifacts"
	"github.com/nightshift/backend/internal/infrastructure/db"
	"github.com/nightshift/backend/internal/infrastructure/effects"
	"github.com/nightshift/backend/internal/infrastructure/isolation"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	"github.com/nightshift/backend/internal/infrastructure/notify"
	"github.com/nightshift/backend/internal/infrastructure/process"
	"gorm.io/gorm"
)

type App struct {
	Config  *config.Config
	Log     *logger.Logger
	DB      *gorm.DB
	Repo    ports.TaskRepository
	Tasks   *services.TaskService
	Control *services.ControlService

	notifier ports.Notifier
}

// New opens and migrates the store and builds the task services.
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("prepare directories: %w", err)
	}

	database, err := db.NewConnection(cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.RunMigrations(database); err != nil {
		_ = db.Close(database)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	repo := db.NewTaskRepository(database, log)
	control := services.NewControlService(repo, process.NewController(log), cfg.Scheduler.KillGrace, log)
	return &App{
		Config:  cfg,
		Log:     log,
		DB:      database,
		Repo:    repo,
		Tasks:   services.NewTaskService(repo, control, log),
		Control: control,
	}, nil
}

// Scheduler builds the worker pool with the configured sandbox, agent and
// notifiers. It is not started.
func (a *App) Scheduler() *services.Scheduler {
	cfg := a.Config
	runner := executor.NewLocalRunner(cfg.Agent, a.Log.Named("runner"))
	agent := executor.NewAgent(
		runner,
		effects.NewTracker(a.Log),
		executor.NewCredentialHelper(cfg.Agent, a.Log),
		a.Log.Named("agent"),
	)
	if a.notifier == nil {
		a.notifier = notify.FromConfig(cfg.Notify, a.Log.Named("notify"))
	}

	return services.NewScheduler(services.SchedulerConfig{
		Workers:          cfg.Scheduler.Workers,
		PollInterval:     cfg.Scheduler.PollInterval,
		ExecutionTimeout: cfg.Scheduler.ExecutionTimeout,
		KillGrace:        cfg.Scheduler.KillGrace,
		LockFile:         cfg.Scheduler.LockFile,
		SandboxEnabled:   cfg.Sandbox.Enabled,
		AllowUnsandboxed: cfg.Sandbox.AllowUnsandboxed,
		NotifyTruncate:   cfg.Notify.Truncate,
	}, services.SchedulerDeps{
		Repo:      a.Repo,
		Agent:     agent,
		Profiles:  isolation.NewBuilder(cfg.Sandbox),
		Isolation: isolation.Select(cfg.Sandbox, a.Log),
		Processes: process.NewController(a.Log),
		Notifier:  a.notifier,
		Artifacts: artifacts.NewWriter(cfg.Agent.OutputDir),
		Log:       a.Log.Named("scheduler"),
	})
}

func (a *App) Close() error {
	var errs []error
	if a.notifier != nil {
		errs = append(errs, a.notifier.Close())
	}
	errs = append(errs, db.Close(a.DB))
	return errors.Join(errs...)
}
