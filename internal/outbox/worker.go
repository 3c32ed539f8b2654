// Package outbox drains the transactional outbox: rows enqueued alongside
// event mutations in the same database transaction, delivered at-least-once
// to a Handler keyed by message_type.
package outbox

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendar-server/internal/store"
)

// Handler processes one outbox message. Handlers must be idempotent: a
// message may be redelivered after a crash between completion and commit.
type Handler func(ctx context.Context, msg *store.OutboxMessage) error

// Worker polls the store for due messages and dispatches them to registered
// handlers, keyed by message_type so multiple message kinds can share one
// poll loop instead of running one ticker per job.
type Worker struct {
	store      store.Store
	logger     zerolog.Logger
	interval   time.Duration
	batchSize  int
	maxRetries int
	concurrent int

	mu       sync.RWMutex
	handlers map[string]Handler
}

func New(st store.Store, logger zerolog.Logger, interval time.Duration, batchSize, maxRetries, concurrent int) *Worker {
	if concurrent <= 0 {
		concurrent = 1
	}
	return &Worker{
		store:      st,
		logger:     logger.With().Str("component", "outbox").Logger(),
		interval:   interval,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		concurrent: concurrent,
		handlers:   make(map[string]Handler),
	}
}

// Register binds a Handler to a message_type. Must be called before Start.
func (w *Worker) Register(messageType string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[messageType] = h
}

func (w *Worker) handlerFor(messageType string) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[messageType]
	return h, ok
}

// Start runs the poll loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	batch, err := w.store.DequeueOutboxBatch(ctx, w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("dequeue outbox batch")
		return
	}
	if len(batch) == 0 {
		return
	}

	sem := make(chan struct{}, w.concurrent)
	var wg sync.WaitGroup
	for _, msg := range batch {
		msg := msg
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(ctx, msg)
		}()
	}
	wg.Wait()
}

func (w *Worker) process(ctx context.Context, msg *store.OutboxMessage) {
	log := w.logger.With().Str("message_id", msg.ID).Str("message_type", msg.MessageType).Logger()

	h, ok := w.handlerFor(msg.MessageType)
	if !ok {
		log.Warn().Msg("no handler registered for message type, dropping")
		if err := w.store.CompleteOutboxMessage(ctx, msg.ID); err != nil {
			log.Error().Err(err).Msg("complete unhandled message")
		}
		return
	}

	if err := h(ctx, msg); err != nil {
		log.Error().Err(err).Int("retry_count", msg.RetryCount).Msg("handler failed")
		next := time.Now().Add(backoff(msg.RetryCount))
		if retryErr := w.store.RetryOutboxMessage(ctx, msg.ID, err.Error(), next, w.maxRetries); retryErr != nil {
			log.Error().Err(retryErr).Msg("record retry")
		}
		return
	}

	if err := w.store.CompleteOutboxMessage(ctx, msg.ID); err != nil {
		log.Error().Err(err).Msg("complete message")
	}
}

// backoff is exponential with full jitter, capped at 5 minutes.
func backoff(retryCount int) time.Duration {
	base := time.Second * time.Duration(math.Pow(2, float64(retryCount)))
	const cap = 5 * time.Minute
	if base > cap {
		base = cap
	}
	return time.Duration(rand.Int63n(int64(base) + 1))
}
