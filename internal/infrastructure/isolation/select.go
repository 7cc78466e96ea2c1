package isolation

import (
	"runtime"

	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/infrastructure/logger"
)

// Select picks the provider for this host once at startup.
func Select(cfg config.SandboxConfig, log *logger.Logger) ports.IsolationProvider {
	var p ports.IsolationProvider
	switch {
	case !cfg.Enabled || cfg.Provider == "none":
		p = NewUnavailableProvider("none", "sandboxing disabled by configuration")
	case cfg.Provider == "seatbelt":
		p = NewSeatbeltProvider()
	case cfg.Provider == "bubblewrap":
		p = NewBubblewrapProvider()
	case runtime.GOOS == "darwin":
		p = NewSeatbeltProvider()
	case runtime.GOOS == "linux":
		p = NewBubblewrapProvider()
	default:
		p = NewUnavailableProvider("auto", "no sandbox primitive for "+runtime.GOOS)
	}

	if err := p.Available(); err != nil {
		log.Warnw("isolation_provider_unavailable", "provider", p.Name(), "error", err)
	} else {
		log.Infow("isolation_provider_selected", "provider", p.Name())
	}
	return p
}
