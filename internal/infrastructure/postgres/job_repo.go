package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ErlanBelekov/alerting-scheduler/internal/cluster"
	"github.com/ErlanBelekov/alerting-scheduler/internal/document"
	"github.com/ErlanBelekov/alerting-scheduler/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// JobStore keeps job documents in the scheduled_jobs table, split into a
// fixed number of shards by document id. Versions come from one sequence so
// a recreated document never reuses a version seen before its delete.
type JobStore struct {
	pool   *pgxpool.Pool
	index  string
	shards int
}

func NewJobStore(pool *pgxpool.Pool, index string, shards int) *JobStore {
	return &JobStore{pool: pool, index: index, shards: shards}
}

func (s *JobStore) SearchShard(ctx context.Context, req repository.SearchRequest) (repository.SearchResponse, error) {
	if req.Index != s.index || req.Shard < 0 || req.Shard >= s.shards {
		return repository.SearchResponse{Status: repository.SearchShardUnavailable}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, shard, version, source
		FROM scheduled_jobs
		WHERE shard = $1
		  AND type = ANY($2)
		  AND id COLLATE "C" > $3
		ORDER BY id COLLATE "C"
		LIMIT $4`,
		req.Shard, req.Types, req.After, req.Size,
	)
	if err != nil {
		return repository.SearchResponse{}, fmt.Errorf("search shard %d: %w", req.Shard, classify(err))
	}
	defer rows.Close()

	resp := repository.SearchResponse{Status: repository.SearchOK}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return repository.SearchResponse{}, err
		}
		resp.Hits = append(resp.Hits, *doc)
	}
	if err := rows.Err(); err != nil {
		return repository.SearchResponse{}, fmt.Errorf("search shard %d: %w", req.Shard, classify(err))
	}
	return resp, nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*repository.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, shard, version, source FROM scheduled_jobs WHERE id = $1`, id)
	return scanDocument(row)
}

// Index writes source and announces the write on the job channel in the same
// transaction, so listeners only hear about committed versions.
func (s *JobStore) Index(ctx context.Context, id string, source json.RawMessage, expectedVersion int64) (int64, error) {
	typ, ok := document.DocType(source)
	if !ok {
		return 0, fmt.Errorf("%w: expected a single top-level key", document.ErrMalformed)
	}
	shard := cluster.ShardFor(id, s.shards)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin index: %w", classify(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var row pgx.Row
	if expectedVersion == 0 {
		row = tx.QueryRow(ctx, `
			INSERT INTO scheduled_jobs (id, shard, type, version, source)
			VALUES ($1, $2, $3, nextval('scheduled_job_versions'), $4)
			ON CONFLICT (id) DO NOTHING
			RETURNING version`,
			id, shard, typ, []byte(source))
	} else {
		row = tx.QueryRow(ctx, `
			UPDATE scheduled_jobs
			SET    type       = $2,
			       source     = $3,
			       version    = nextval('scheduled_job_versions'),
			       updated_at = NOW()
			WHERE id = $1 AND version = $4
			RETURNING version`,
			id, typ, []byte(source), expectedVersion)
	}

	var version int64
	if err := row.Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, repository.ErrVersionConflict
		}
		return 0, fmt.Errorf("index %s: %w", id, classify(err))
	}

	if err := s.notify(ctx, tx, notification{Index: s.index, Shard: shard, ID: id, Version: version, Op: repository.OpIndex}); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit index %s: %w", id, classify(err))
	}
	return version, nil
}

// Delete removes a document. expectedVersion 0 deletes whatever version is stored.
func (s *JobStore) Delete(ctx context.Context, id string, expectedVersion int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete: %w", classify(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var shard int
	var version int64
	err = tx.QueryRow(ctx, `
		DELETE FROM scheduled_jobs
		WHERE id = $1 AND ($2::BIGINT = 0 OR version = $2)
		RETURNING shard, nextval('scheduled_job_versions')`,
		id, expectedVersion,
	).Scan(&shard, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM scheduled_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("delete %s: %w", id, classify(err))
		}
		if exists {
			return repository.ErrVersionConflict
		}
		return repository.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, classify(err))
	}

	if err := s.notify(ctx, tx, notification{Index: s.index, Shard: shard, ID: id, Version: version, Op: repository.OpDelete}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete %s: %w", id, classify(err))
	}
	return nil
}

func (s *JobStore) notify(ctx context.Context, tx pgx.Tx, n notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, string(payload)); err != nil {
		return fmt.Errorf("notify %s: %w", n.ID, classify(err))
	}
	return nil
}

// pgx.Row and pgx.Rows both implement this.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*repository.Document, error) {
	var d repository.Document
	var source []byte
	if err := row.Scan(&d.ID, &d.Shard, &d.Version, &source); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan document: %w", classify(err))
	}
	d.Source = source
	return &d, nil
}

// transientCodes are postgres errors a retry can get past.
var transientCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
	"57014": true, // query_canceled (statement timeout)
	"57P03": true, // cannot_connect_now
}

// classify marks errors worth retrying with repository.ErrTransient.
func classify(err error) error {
	if err == nil || errors.Is(err, repository.ErrTransient) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", repository.ErrTransient, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && transientCodes[pgErr.Code] {
		return fmt.Errorf("%w: %w", repository.ErrTransient, err)
	}
	return err
}
