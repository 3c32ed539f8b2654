package outbox

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendar-server/internal/store"
)

// RegisterDefaultHandlers wires the logging-only stub handlers for the three
// event lifecycle message types. Real delivery (push notifications, webhook
// fan-out) is out of scope; these exist so the outbox has somewhere to drain
// to and the at-least-once contract is exercised end to end.
func RegisterDefaultHandlers(w *Worker, logger zerolog.Logger) {
	log := logger.With().Str("component", "outbox").Logger()

	w.Register("event.created", loggingHandler(log, "event created"))
	w.Register("event.updated", loggingHandler(log, "event updated"))
	w.Register("event.deleted", loggingHandler(log, "event deleted"))
}

func loggingHandler(logger zerolog.Logger, msg string) Handler {
	return func(_ context.Context, m *store.OutboxMessage) error {
		logger.Info().Str("message_id", m.ID).RawJSON("payload", m.Payload).Msg(msg)
		return nil
	}
}
