package email

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogTransport logs messages instead of sending them.
type LogTransport struct {
	Log *zap.Logger
}

func (l *LogTransport) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	l.Log.Info("email logged",
		zap.String("message_id", id),
		zap.String("from", msg.From),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Any("tags", msg.Tags),
		zap.Int("html_bytes", len(msg.HTML)),
	)

	return id, nil
}
