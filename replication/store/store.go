package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog/log"

	"github.com/byte4ever/mpbridge/replication"
)

//go:embed schema.sql
var schema string

const columns = `request_id, merge_proposal_link, target_repository,
	diff_content, status, github_url, failure_reason,
	created_at, updated_at, completed_at`

// Querier is the subset of pgx shared by pools and transactions.
type Querier interface {
	Exec(
		ctx context.Context, sql string, args ...any,
	) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Postgres-backed request repository.
type Store struct {
	queries

	pool *pgxpool.Pool
}

// Open connects to the database at url.
func Open(ctx context.Context, url string) (*Store, error) {
	const errCtx = "opening store"

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return New(pool), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{q: pool}, pool: pool}
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases every pooled connection.
func (s *Store) Close() { s.pool.Close() }

// Migrate creates the request table and the job queue tables.
func (s *Store) Migrate(ctx context.Context) error {
	const errCtx = "migrating store"

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%s: schema: %w", errCtx, err)
	}

	migrator, err := rivermigrate.New(riverpgxv5.New(s.pool), nil)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("%s: queue: %w", errCtx, err)
	}

	for _, v := range res.Versions {
		log.Info().
			Int("version", v.Version).
			Msg("applied queue migration")
	}

	return nil
}

// InTx implements replication.Transactor.
func (s *Store) InTx(
	ctx context.Context,
	fn func(ctx context.Context, repo replication.Repository) error,
) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, WithTx(tx))
	})
}

// WithTx returns a Repository issuing its queries on tx.
func WithTx(tx pgx.Tx) replication.Repository {
	return queries{q: tx}
}

type queries struct {
	q Querier
}

func (r queries) Create(
	ctx context.Context,
	req replication.Request,
) (replication.Request, error) {
	const errCtx = "creating request"

	status := req.Status
	if status == "" {
		status = replication.StatusPending
	}

	if _, err := r.q.Exec(
		ctx,
		`INSERT INTO replication_requests
			(request_id, merge_proposal_link, target_repository,
			 diff_content, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id) DO NOTHING`,
		req.ID,
		req.MergeProposalLink,
		string(req.Target),
		[]byte(req.Diff),
		string(status),
	); err != nil {
		return replication.Request{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	out, err := r.FindByID(ctx, req.ID)
	if err != nil {
		return replication.Request{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	return out, nil
}

func (r queries) FindByID(
	ctx context.Context,
	id string,
) (replication.Request, error) {
	row := r.q.QueryRow(
		ctx,
		`SELECT `+columns+`
		FROM replication_requests
		WHERE request_id = $1
		FOR UPDATE`,
		id,
	)

	req, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return replication.Request{}, &replication.NotFoundError{
			RequestID: id,
		}
	}

	if err != nil {
		return replication.Request{}, fmt.Errorf(
			"finding request %s: %w", id, err,
		)
	}

	return req, nil
}

func (r queries) Update(
	ctx context.Context,
	req replication.Request,
) error {
	const errCtx = "updating request"

	tag, err := r.q.Exec(
		ctx,
		`UPDATE replication_requests
		SET diff_content = $2,
		    status = $3,
		    github_url = $4,
		    failure_reason = $5,
		    updated_at = $6,
		    completed_at = $7
		WHERE request_id = $1`,
		req.ID,
		[]byte(req.Diff),
		string(req.Status),
		req.URL,
		req.FailureReason,
		req.UpdatedAt,
		req.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if tag.RowsAffected() == 0 {
		return &replication.NotFoundError{RequestID: req.ID}
	}

	return nil
}

func (r queries) List(
	ctx context.Context,
	status replication.Status,
	limit int,
) ([]replication.Request, error) {
	const errCtx = "listing requests"

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.q.Query(
		ctx,
		`SELECT `+columns+`
		FROM replication_requests
		WHERE $1::text = '' OR status = $1::text
		ORDER BY updated_at DESC
		LIMIT $2`,
		string(status),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	defer rows.Close()

	var out []replication.Request

	for rows.Next() {
		req, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		out = append(out, req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return out, nil
}

func scan(row pgx.Row) (replication.Request, error) {
	var (
		req            replication.Request
		target, status string
		diff           []byte
		completedAt    *time.Time
	)

	if err := row.Scan(
		&req.ID,
		&req.MergeProposalLink,
		&target,
		&diff,
		&status,
		&req.URL,
		&req.FailureReason,
		&req.CreatedAt,
		&req.UpdatedAt,
		&completedAt,
	); err != nil {
		return replication.Request{}, err
	}

	req.Target = replication.Target(target)
	req.Diff = string(diff)
	req.Status = replication.Status(status)
	req.CompletedAt = completedAt

	return req, nil
}
