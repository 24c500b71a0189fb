package repository

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrVersionConflict = errors.New("document version conflict")
	// ErrTransient marks store errors worth retrying with backoff, such as a
	// rejected or timed out request.
	ErrTransient = errors.New("transient store error")
)

// Document is a raw job document as held by the job index.
type Document struct {
	ID      string
	Shard   int
	Version int64
	Source  json.RawMessage
}

type SearchStatus string

const (
	SearchOK               SearchStatus = "ok"
	SearchShardUnavailable SearchStatus = "shard_unavailable"
)

// SearchRequest asks for one page of a shard ordered by id, starting after
// After. An empty After starts at the beginning of the shard.
type SearchRequest struct {
	Index string
	Shard int
	Types []string // only documents whose top-level key is one of Types
	After string
	Size  int
}

type SearchResponse struct {
	Status SearchStatus
	Hits   []Document
}

// JobStore is the sharded job index.
type JobStore interface {
	SearchShard(ctx context.Context, req SearchRequest) (SearchResponse, error)
	Get(ctx context.Context, id string) (*Document, error)

	// Index creates or replaces a document. expectedVersion 0 means the
	// document must not exist yet. Returns the new version.
	Index(ctx context.Context, id string, source json.RawMessage, expectedVersion int64) (int64, error)
	Delete(ctx context.Context, id string, expectedVersion int64) error
}
