// Package recorder persists the progress and final outcome of replication
// requests.
package recorder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/byte4ever/mpbridge/replication"
)

// Recorder writes status transitions in single transactions.
type Recorder struct {
	tx  replication.Transactor
	now func() time.Time
}

// New returns a Recorder working through tx.
func New(tx replication.Transactor) *Recorder {
	return &Recorder{tx: tx, now: time.Now}
}

// Record applies c in its own transaction and returns the stored request.
func (r *Recorder) Record(
	ctx context.Context,
	c replication.Completion,
) (replication.Request, error) {
	var out replication.Request

	err := r.tx.InTx(
		ctx,
		func(ctx context.Context, repo replication.Repository) error {
			var err error

			out, err = r.RecordWith(ctx, repo, c)

			return err
		},
	)

	return out, err
}

// RecordWith applies c through repo, which the caller has bound to its
// own transaction. Recording the values already stored writes nothing.
// Fields c leaves empty keep their stored value.
func (r *Recorder) RecordWith(
	ctx context.Context,
	repo replication.Repository,
	c replication.Completion,
) (replication.Request, error) {
	const errCtx = "recording completion"

	req, err := repo.FindByID(ctx, c.RequestID)
	if err != nil {
		return replication.Request{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	c.Reason = printable(c.Reason)

	if unchanged(req, c) {
		return req, nil
	}

	if req.Status.IsTerminal() || !req.Status.CanAdvanceTo(c.Status) {
		return replication.Request{}, fmt.Errorf(
			"%s: %s: %w: %s -> %s",
			errCtx, c.RequestID,
			replication.ErrInvalidTransition, req.Status, c.Status,
		)
	}

	now := r.now().UTC()

	req.Status = c.Status
	req.UpdatedAt = now

	if c.URL != "" {
		req.URL = c.URL
	}

	if c.Reason != "" {
		req.FailureReason = c.Reason
	}

	if c.Status.IsTerminal() && req.CompletedAt == nil {
		req.CompletedAt = &now
	}

	if err := repo.Update(ctx, req); err != nil {
		return replication.Request{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	log.Info().
		Str("request_id", req.ID).
		Str("status", string(req.Status)).
		Str("url", req.URL).
		Msg("request status recorded")

	return req, nil
}

// printable makes a failure reason storable as text. Reasons can quote
// git output, which carries the diff's own bytes.
func printable(s string) string {
	return strings.ToValidUTF8(strings.ReplaceAll(s, "\x00", ""), "\uFFFD")
}

func unchanged(req replication.Request, c replication.Completion) bool {
	return req.Status == c.Status &&
		(c.URL == "" || c.URL == req.URL) &&
		(c.Reason == "" || c.Reason == req.FailureReason)
}

// PinDiff stores diff on request id unless a diff is already stored, and
// returns the stored diff. Every later step works from the pinned value.
func (r *Recorder) PinDiff(
	ctx context.Context,
	id string,
	diff string,
) (string, error) {
	const errCtx = "pinning diff"

	var pinned string

	err := r.tx.InTx(
		ctx,
		func(ctx context.Context, repo replication.Repository) error {
			var err error

			pinned, err = PinDiffWith(ctx, repo, id, diff, r.now())

			return err
		},
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return pinned, nil
}

// PinDiffWith is PinDiff inside a caller-owned transaction.
func PinDiffWith(
	ctx context.Context,
	repo replication.Repository,
	id string,
	diff string,
	now time.Time,
) (string, error) {
	req, err := repo.FindByID(ctx, id)
	if err != nil {
		return "", err
	}

	if req.Diff != "" {
		if req.Diff != diff {
			log.Warn().
				Str("request_id", id).
				Msg("upstream diff changed since it was pinned, keeping pinned diff")
		}

		return req.Diff, nil
	}

	req.Diff = diff
	req.UpdatedAt = now.UTC()

	if err := repo.Update(ctx, req); err != nil {
		return "", err
	}

	return diff, nil
}
