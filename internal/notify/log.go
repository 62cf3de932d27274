package notify

import (
	"context"
	"log/slog"
)

// LogSender writes confirmations to the log instead of sending them. It is
// used when no email provider is configured.
type LogSender struct {
	log *slog.Logger
}

var _ Sender = (*LogSender)(nil)

func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) SendRegistration(_ context.Context, c Confirmation) error {
	s.log.Warn("email provider not configured, confirmation logged only",
		slog.String("to", c.To),
		slog.String("event", c.EventName),
		slog.String("ticket_code", c.TicketCode),
		slog.String("qr_url", c.QRURL),
	)
	return nil
}
