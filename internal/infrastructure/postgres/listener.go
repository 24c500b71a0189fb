package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/alerting-scheduler/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
)

// channel carries one notification per committed write to scheduled_jobs.
const channel = "scheduled_jobs"

// notification is the pg_notify payload. Sources are re-read on delivery
// because payloads are capped at 8000 bytes.
type notification struct {
	Index   string             `json:"index"`
	Shard   int                `json:"shard"`
	ID      string             `json:"id"`
	Version int64              `json:"version"`
	Op      repository.WriteOp `json:"op"`
}

func decodeNotification(payload string) (notification, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return n, fmt.Errorf("decode notification: %w", err)
	}
	if n.ID == "" || (n.Op != repository.OpIndex && n.Op != repository.OpDelete) {
		return n, fmt.Errorf("decode notification: missing id or unknown op %q", n.Op)
	}
	return n, nil
}

// EventListener turns job write notifications into write events.
type EventListener struct {
	pool   *pgxpool.Pool
	store  repository.JobStore
	target repository.WriteListener
	logger *slog.Logger
	retry  time.Duration
}

func NewEventListener(pool *pgxpool.Pool, store repository.JobStore, target repository.WriteListener, logger *slog.Logger) *EventListener {
	return &EventListener{
		pool:   pool,
		store:  store,
		target: target,
		logger: logger.With("component", "event_listener"),
		retry:  time.Second,
	}
}

// Start listens until ctx is done, reconnecting after connection loss.
// Writes committed while disconnected are picked up by the next full sweep,
// which also deschedules jobs whose documents were deleted meanwhile.
func (l *EventListener) Start(ctx context.Context) {
	l.logger.Info("event listener started", "channel", channel)
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			l.logger.Info("event listener shut down")
			return
		}
		l.logger.Error("listen for job writes, reconnecting", "error", err, "retry_in", l.retry)

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.retry):
		}
	}
}

func (l *EventListener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		l.dispatch(ctx, n.Payload)
	}
}

func (l *EventListener) dispatch(ctx context.Context, payload string) {
	n, err := decodeNotification(payload)
	if err != nil {
		l.logger.Warn("dropping notification", "error", err)
		return
	}

	ev := repository.WriteEvent{
		Index:   n.Index,
		Shard:   n.Shard,
		ID:      n.ID,
		Version: n.Version,
		Op:      n.Op,
		Success: true,
	}
	if n.Op == repository.OpDelete {
		l.target.PostDelete(ev)
		return
	}

	// NOTIFY payloads are capped at 8000 bytes, so the notification carries
	// only the id and the source is read back from the store.
	doc, err := l.store.Get(ctx, n.ID)
	if errors.Is(err, repository.ErrNotFound) {
		l.logger.Debug("document deleted before its index event was read", "job_id", n.ID)
		return
	}
	if err != nil {
		l.logger.Error("read indexed document", "job_id", n.ID, "error", err)
		return
	}
	// a newer version may have landed already; sweeping it is still correct
	ev.Version = doc.Version
	ev.Source = doc.Source
	l.target.PostIndex(ev)
}
