package log

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	jobIDKey
	runIDKey
)

// contextAttrs lists the context values every record is tagged with, in
// output order.
var contextAttrs = []struct {
	key  ctxKey
	attr string
}{
	{requestIDKey, "request_id"},
	{jobIDKey, "job_id"},
	{runIDKey, "run_id"},
}

func NewRequestID() string {
	return uuid.NewString()
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns "" if ctx carries no request ID.
func RequestID(ctx context.Context) string { return value(ctx, requestIDKey) }

// WithJobID tags ctx with the job a piece of work belongs to.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

func JobID(ctx context.Context) string { return value(ctx, jobIDKey) }

// WithRunID tags ctx with a single run of a job.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

func RunID(ctx context.Context) string { return value(ctx, runIDKey) }

func value(ctx context.Context, key ctxKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}
