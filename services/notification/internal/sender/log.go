package sender

import (
	"context"

	"go.uber.org/zap"
)

// LogSender ничего не отправляет, только пишет уведомление в лог (SENDER=log)
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender создаёт log sender
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.Info("notification logged instead of sending",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body_preview", truncate(msg.Body, 80)),
	)
	return nil
}
