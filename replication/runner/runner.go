package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/byte4ever/mpbridge/replication"
	"github.com/byte4ever/mpbridge/replication/pipeline"
)

// Config holds the settings of a Runner.
type Config struct {
	// MaxAttempts bounds the attempts of each step (default 3).
	MaxAttempts int

	// Backoff is the wait before the first retry; it doubles after
	// each attempt (default 1s).
	Backoff time.Duration

	// StepTimeout bounds one attempt of one step (0 means none).
	StepTimeout time.Duration

	// Parallelism is the number of requests RunAll replicates at once
	// (default 1).
	Parallelism int
}

// Runner replicates requests in process.
type Runner struct {
	cfg      Config
	pipeline *pipeline.Pipeline
	store    Store
}

// Store is the repository and transaction source the runner records to.
type Store interface {
	replication.Repository
	replication.Transactor
}

// New returns a Runner applying defaults to cfg.
func New(cfg Config, pl *pipeline.Pipeline, st Store) *Runner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}

	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}

	return &Runner{cfg: cfg, pipeline: pl, store: st}
}

// Run replicates request id to completion. Steps already reflected in the
// stored status are replayed idempotently. On a terminal error, or once
// a step runs out of attempts, the request is recorded as failed and the
// error returned.
func (r *Runner) Run(ctx context.Context, id string) error {
	const errCtx = "running replication"

	for _, step := range pipeline.Steps() {
		req, done, err := pipeline.Load(ctx, r.store, id)
		if err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}

		if done {
			log.Info().
				Str("request_id", id).
				Str("status", string(req.Status)).
				Msg("request already finished")

			return nil
		}

		if err := r.runStep(ctx, step, req); err != nil {
			if ctx.Err() == nil {
				if failErr := r.pipeline.Fail(
					context.WithoutCancel(ctx), r.store, id, err.Error(),
				); failErr != nil {
					err = errors.Join(err, failErr)
				}
			}

			return fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	return nil
}

// runStep executes and commits step, retrying retryable errors.
func (r *Runner) runStep(
	ctx context.Context,
	step pipeline.Step,
	req replication.Request,
) error {
	wait := r.cfg.Backoff

	for attempt := 1; ; attempt++ {
		err := r.attempt(ctx, step, req)
		if err == nil {
			return nil
		}

		if replication.IsTerminal(err) || attempt >= r.cfg.MaxAttempts {
			return err
		}

		log.Warn().
			Err(err).
			Str("request_id", req.ID).
			Str("step", string(step)).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("step failed, retrying")

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(wait):
		}

		wait *= 2
	}
}

func (r *Runner) attempt(
	ctx context.Context,
	step pipeline.Step,
	req replication.Request,
) error {
	if r.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, r.cfg.StepTimeout)
		defer cancel()
	}

	ctx = replication.WithHeartbeater(
		ctx,
		replication.HeartbeaterFunc(func(stage string) {
			log.Debug().
				Str("request_id", req.ID).
				Str("step", string(step)).
				Str("stage", stage).
				Msg("heartbeat")
		}),
	)

	res, err := r.pipeline.Execute(ctx, step, req)
	if err != nil {
		return err
	}

	return r.store.InTx(
		ctx,
		func(ctx context.Context, repo replication.Repository) error {
			return r.pipeline.Commit(ctx, repo, step, req.ID, res)
		},
	)
}

// RunAll replicates ids with at most cfg.Parallelism requests in flight.
// Every request is attempted; the returned error joins all failures.
func (r *Runner) RunAll(ctx context.Context, ids []string) error {
	const errCtx = "running replications"

	var errs []error

	results := make(chan error, len(ids))
	sem := make(chan struct{}, r.cfg.Parallelism)

	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())

			break
		}

		sem <- struct{}{}

		go func() {
			defer func() { <-sem }()

			results <- r.Run(ctx, id)
		}()
	}

	// Wait for in-flight workers by filling the semaphore.
	for range cap(sem) {
		sem <- struct{}{}
	}

	close(results)

	for err := range results {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf(
			"%s: %d failed: %w", errCtx, len(errs), errors.Join(errs...),
		)
	}

	return nil
}
