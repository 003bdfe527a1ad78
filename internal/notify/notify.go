// Package notify delivers alert messages to chat channels.
package notify

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Notifier interface {
	Send(ctx context.Context, title, text string) error
}

// Multi fans a message out to every notifier. All of them are tried; the
// failures are returned together.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, title, text string) error {
	var errs error
	for _, n := range m {
		if n == nil {
			continue
		}
		errs = multierr.Append(errs, n.Send(ctx, title, text))
	}
	return errs
}

// Log writes alerts to the structured log. It is the fallback when no chat
// channel is configured.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Send(_ context.Context, title, text string) error {
	log := l.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("alert", zap.String("title", title), zap.String("text", text))
	return nil
}
