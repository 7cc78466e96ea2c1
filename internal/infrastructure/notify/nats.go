package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
)

// NATSNotifier publishes summaries on a subject.
type NATSNotifier struct {
	nc      *nats.Conn
	subject string
	log     *logger.Logger
}

func NewNATSNotifier(url, subject string, timeout time.Duration, log *logger.Logger) (*NATSNotifier, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	nc, err := nats.Connect(url,
		nats.Name("nightshift"),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnw("notify_nats_disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Infow("notify_nats_reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	log.Infow("notify_nats_connected", "url", nc.ConnectedUrl(), "subject", subject)
	return &NATSNotifier{nc: nc, subject: subject, log: log}, nil
}

func (n *NATSNotifier) Notify(ctx context.Context, s domain.Summary) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	msg := nats.NewMsg(n.subject)
	msg.Data = body
	msg.Header.Set("Nightshift-Task-Id", s.TaskID)
	msg.Header.Set("Nightshift-Status", string(s.Status))
	if err := n.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", n.subject, err)
	}
	return n.nc.FlushWithContext(ctx)
}

func (n *NATSNotifier) Close() error {
	return n.nc.Drain()
}
