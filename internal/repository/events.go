package repository

import "encoding/json"

type WriteOp string

const (
	OpIndex  WriteOp = "index"
	OpDelete WriteOp = "delete"
)

// WriteEvent describes a completed write to a job document on a shard.
// Success is false when the write was rejected; Source is set for
// successful index operations only.
type WriteEvent struct {
	Index   string
	Shard   int
	ID      string
	Version int64
	Op      WriteOp
	Success bool
	Source  json.RawMessage
}

// WriteListener observes writes to the job index.
type WriteListener interface {
	PostIndex(ev WriteEvent)
	PostDelete(ev WriteEvent)
}
