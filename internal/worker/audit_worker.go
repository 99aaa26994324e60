package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/session-service/internal/events"
)

// StartAuditWorker registers a handler that writes every session lifecycle
// event to the audit log.
func StartAuditWorker(dispatcher events.Dispatcher, logger *zap.Logger) {
	if dispatcher == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	audit := logger.Named("audit")

	for _, eventType := range events.AllEventTypes {
		dispatcher.Subscribe(eventType, func(_ context.Context, event events.Event) error {
			fields := []zap.Field{
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.Time("timestamp", event.Timestamp),
			}
			if event.UserID != "" {
				fields = append(fields, zap.String("user_id", event.UserID))
			}
			if event.Payload != nil {
				fields = append(fields, zap.Any("payload", event.Payload))
			}
			audit.Info("session event", fields...)
			return nil
		})
	}
}
