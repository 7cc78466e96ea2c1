package notify

import (
	"context"
	"errors"

	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
)

// Multi delivers to every notifier and joins their errors.
type Multi []ports.Notifier

func (m Multi) Notify(ctx context.Context, s domain.Summary) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, n := range m {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the notifiers that are configured. The file notifier is
// always present; NATS is skipped with a warning when unreachable.
func FromConfig(cfg config.NotifyConfig, log *logger.Logger) Multi {
	m := Multi{NewFileNotifier(cfg.Dir)}
	if cfg.NATSURL != "" {
		nn, err := NewNATSNotifier(cfg.NATSURL, cfg.NATSSubject, cfg.Timeout, log)
		if err != nil {
			log.Warnw("notify_nats_unavailable", "url", cfg.NATSURL, "error", err)
		} else {
			m = append(m, nn)
		}
	}
	if cfg.WebhookURL != "" {
		m = append(m, NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookToken, cfg.Timeout, log))
	}
	return m
}
