package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendar-server/internal/store"
	"github.com/sonroyaalmerol/calendar-server/internal/store/storetest"
)

func TestWorkerCompletesHandledMessage(t *testing.T) {
	fake := storetest.New()
	w := New(fake, zerolog.Nop(), time.Hour, 10, 3, 2)

	var got *store.OutboxMessage
	w.Register("event.created", func(_ context.Context, msg *store.OutboxMessage) error {
		got = msg
		return nil
	})

	msg := fake.EnqueuePending("event.created", []byte(`{"uid":"abc"}`))
	w.tick(context.Background())

	if got == nil || got.ID != msg.ID {
		t.Fatal("handler was not invoked with the seeded message")
	}
	if status := fake.OutboxStatus(msg.ID); status != store.OutboxCompleted {
		t.Fatalf("message status = %q, want %q", status, store.OutboxCompleted)
	}
}

func TestWorkerRetriesFailedHandler(t *testing.T) {
	fake := storetest.New()
	w := New(fake, zerolog.Nop(), time.Hour, 10, 3, 2)

	w.Register("event.updated", func(context.Context, *store.OutboxMessage) error {
		return errors.New("downstream unavailable")
	})

	msg := fake.EnqueuePending("event.updated", nil)
	w.tick(context.Background())

	if status := fake.OutboxStatus(msg.ID); status != store.OutboxPending {
		t.Fatalf("message status after one failure = %q, want %q (retry, not exhausted)", status, store.OutboxPending)
	}
}

func TestWorkerDropsUnregisteredMessageType(t *testing.T) {
	fake := storetest.New()
	w := New(fake, zerolog.Nop(), time.Hour, 10, 3, 2)

	msg := fake.EnqueuePending("unknown.type", nil)
	w.tick(context.Background())

	if status := fake.OutboxStatus(msg.ID); status != store.OutboxCompleted {
		t.Fatalf("unhandled message status = %q, want %q (dropped as completed)", status, store.OutboxCompleted)
	}
}
