package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
	"github.com/nightshift/backend/internal/bootstrap"
	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/internal/infrastructure/logger"
)

// Build-time variables (set via ldflags)
var (
	version = "dev"
	commit  = "unknown"
)

// runtime is what every command's Run receives.
type runtime struct {
	app  *bootstrap.App
	out  io.Writer
	json bool
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("nightshift"),
		kong.Description("Queue coding-agent tasks, approve their plans, and run them sandboxed."),
		kong.UsageOnError(),
		kongVars(),
	)

	rt, cleanup, err := newRuntime(cli.Config, cli.JSON, os.Stdout, ctx.Command() == "run")
	ctx.FatalIfErrorf(err)
	err = ctx.Run(rt)
	cleanup()
	ctx.FatalIfErrorf(err)
}

// newRuntime loads config and opens the store. Short-lived commands log only
// warnings so their output stays readable.
func newRuntime(configPath string, asJSON bool, out io.Writer, verbose bool) (*runtime, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if !verbose && cfg.Logger.Level != "debug" {
		cfg.Logger.Level = "warn"
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app, err := bootstrap.New(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := app.Close(); err != nil {
			log.Warnw("cli_close_failed", "error", err)
		}
		_ = log.Sync()
	}
	return &runtime{app: app, out: out, json: asJSON}, cleanup, nil
}
