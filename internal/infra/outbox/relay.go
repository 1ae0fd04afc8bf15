package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Queue is the relay's view of an outbox.
type Queue interface {
	Claim(ctx context.Context, workerID string) (*EventDocument, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error
	MarkDead(ctx context.Context, id string, errMsg string) error
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error
}

var ErrWorkerNotConfigured = errors.New("outbox: worker missing dependencies")

const (
	defaultBatch    = 50
	defaultInterval = 500 * time.Millisecond
	defaultRetry    = 5 * time.Second
)

// Worker relays outbox documents to a broker as CloudEvents, oldest first.
// A document that fails MaxAttempts times is parked as dead; zero retries forever.
type Worker struct {
	Store       Queue
	Producer    Producer
	Interval    time.Duration
	TopicPrefix string
	Source      string
	ID          string
	Backoff     []time.Duration
	MaxAttempts int
	Batch       int
	Logger      *slog.Logger
}

func (w *Worker) Run(ctx context.Context) error {
	if w.Store == nil || w.Producer == nil {
		return ErrWorkerNotConfigured
	}
	if w.ID == "" {
		w.ID = "relay-" + uuid.NewString()
	}
	interval := w.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Drain(ctx); err != nil && ctx.Err() == nil {
				w.log().Warn("outbox relay pass failed", "worker_id", w.ID, "error", err)
			}
		}
	}
}

// Drain publishes due documents until none is left, a publish fails, or the
// batch is full. It returns the number published.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	limit := w.Batch
	if limit <= 0 {
		limit = defaultBatch
	}
	for sent := 0; sent < limit; sent++ {
		doc, err := w.Store.Claim(ctx, w.workerID())
		if err != nil || doc == nil {
			return sent, err
		}
		if err := w.relay(ctx, doc); err != nil {
			if errors.Is(err, errPublish) {
				return sent, nil
			}
			return sent, err
		}
	}
	return limit, nil
}

var errPublish = errors.New("outbox: publish failed")

func (w *Worker) relay(ctx context.Context, doc *EventDocument) error {
	source := w.Source
	if source == "" {
		source = defaultSource
	}
	payload, headers, err := envelope(doc, source)
	if err == nil {
		err = w.Producer.Publish(ctx, topicFor(w.TopicPrefix, doc.Name), doc.Key, payload, headers)
	}
	if err != nil {
		if markErr := w.fail(ctx, doc, err); markErr != nil {
			return markErr
		}
		return errPublish
	}
	return w.Store.MarkSent(ctx, doc.ID)
}

func (w *Worker) fail(ctx context.Context, doc *EventDocument, cause error) error {
	attempts := doc.Attempts + 1
	if w.MaxAttempts > 0 && attempts >= w.MaxAttempts {
		w.log().Error("outbox event parked", "event_id", doc.ID, "event", doc.Name, "attempts", attempts, "error", cause)
		return w.Store.MarkDead(ctx, doc.ID, cause.Error())
	}
	w.log().Warn("outbox publish failed", "event_id", doc.ID, "event", doc.Name, "attempts", attempts, "error", cause)
	return w.Store.MarkFailed(ctx, doc.ID, time.Now().Add(w.retryAfter(doc.Attempts)), cause.Error())
}

// retryAfter walks the backoff ladder and stays on its last rung.
func (w *Worker) retryAfter(attempts int) time.Duration {
	switch {
	case len(w.Backoff) == 0:
		return defaultRetry
	case attempts < len(w.Backoff):
		return w.Backoff[attempts]
	default:
		return w.Backoff[len(w.Backoff)-1]
	}
}

func (w *Worker) workerID() string {
	if w.ID != "" {
		return w.ID
	}
	return "outbox-relay"
}

func (w *Worker) log() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.New(slog.DiscardHandler)
}
