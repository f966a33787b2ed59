package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog/log"

	"github.com/byte4ever/mpbridge/replication"
	"github.com/byte4ever/mpbridge/replication/pipeline"
	"github.com/byte4ever/mpbridge/replication/store"
)

// Queue manages the River client running the replication pipeline.
type Queue struct {
	client   *river.Client[pgx.Tx]
	store    *store.Store
	pipeline *pipeline.Pipeline
	cfg      Config
}

// New creates a Queue working pl against st. The queue does not process
// jobs until Start is called; Submit works either way.
func New(
	cfg Config,
	st *store.Store,
	pl *pipeline.Pipeline,
) (*Queue, error) {
	const errCtx = "creating job queue"

	cfg = cfg.withDefaults()

	q := &Queue{store: st, pipeline: pl, cfg: cfg}

	workers := river.NewWorkers()
	river.AddWorker(workers, &stepWorker[FetchDiffArgs]{q: q})
	river.AddWorker(workers, &stepWorker[SyncMirrorArgs]{q: q})
	river.AddWorker(workers, &stepWorker[MaterializeBranchArgs]{q: q})
	river.AddWorker(workers, &stepWorker[OpenPullRequestArgs]{q: q})
	river.AddWorker(workers, &completeWorker{q: q})

	client, err := river.NewClient(riverpgxv5.New(st.Pool()), &river.Config{
		Queues:      cfg.RiverQueueConfig(),
		Workers:     workers,
		MaxAttempts: cfg.MaxAttempts,
		JobTimeout:  cfg.JobTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	q.client = client

	return q, nil
}

// Start starts the job queue workers.
func (q *Queue) Start(ctx context.Context) error {
	return q.client.Start(ctx)
}

// Stop waits for running jobs to finish and stops the workers.
func (q *Queue) Stop(ctx context.Context) error {
	return q.client.Stop(ctx)
}

// Submit stores req as pending and enqueues its first step in the same
// transaction. Submitting an id twice returns the stored request and
// enqueues nothing new.
func (q *Queue) Submit(
	ctx context.Context,
	req replication.Request,
) (replication.Request, error) {
	const errCtx = "submitting request"

	var out replication.Request

	err := pgx.BeginFunc(ctx, q.store.Pool(), func(tx pgx.Tx) error {
		var err error

		out, err = store.WithTx(tx).Create(ctx, req)
		if err != nil {
			return err
		}

		_, err = q.client.InsertTx(
			ctx, tx, FetchDiffArgs{RequestID: req.ID}, nil,
		)

		return err
	})
	if err != nil {
		return replication.Request{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	log.Info().
		Str("request_id", out.ID).
		Str("target", string(out.Target)).
		Msg("request submitted")

	return out, nil
}

// stepWorker runs one pipeline step and hands off to the next.
type stepWorker[A stepArgs] struct {
	river.WorkerDefaults[A]

	q *Queue
}

// Work implements river.Worker.
func (w *stepWorker[A]) Work(ctx context.Context, job *river.Job[A]) error {
	return w.q.work(
		ctx,
		job.Args.step(),
		job.Args.requestID(),
		job.JobRow,
		func(ctx context.Context, tx pgx.Tx) error {
			_, err := river.JobCompleteTx[*riverpgxv5.Driver](ctx, tx, job)

			return err
		},
	)
}

func (q *Queue) work(
	ctx context.Context,
	step pipeline.Step,
	id string,
	row *rivertype.JobRow,
	complete func(ctx context.Context, tx pgx.Tx) error,
) error {
	ctx, stop := Watch(ctx, q.cfg.HeartbeatTimeout)
	defer stop()

	req, done, err := pipeline.Load(ctx, q.store, id)
	if err != nil {
		return q.fail(ctx, step, id, row, err)
	}

	if done {
		log.Info().
			Str("request_id", id).
			Str("step", string(step)).
			Str("status", string(req.Status)).
			Msg("request already finished, dropping step")

		return nil
	}

	res, err := q.pipeline.Execute(ctx, step, req)
	if err != nil {
		if stalled(ctx) {
			err = fmt.Errorf("%w: %w", ErrHeartbeatTimeout, err)
		}

		return q.fail(ctx, step, id, row, err)
	}

	err = pgx.BeginFunc(ctx, q.store.Pool(), func(tx pgx.Tx) error {
		if err := q.pipeline.Commit(
			ctx, store.WithTx(tx), step, id, res,
		); err != nil {
			return err
		}

		if next := step.Next(); next != "" {
			if _, err := q.client.InsertTx(
				ctx, tx, argsFor(next, id), nil,
			); err != nil {
				return fmt.Errorf("enqueueing %s: %w", next, err)
			}
		}

		return complete(ctx, tx)
	})
	if err != nil {
		return q.fail(ctx, step, id, row, err)
	}

	return nil
}

// fail decides between retrying and recording a failure. Terminal errors
// and failures of the last attempt enqueue a failed completion.
func (q *Queue) fail(
	ctx context.Context,
	step pipeline.Step,
	id string,
	row *rivertype.JobRow,
	cause error,
) error {
	terminal := replication.IsTerminal(cause)
	last := row.Attempt >= row.MaxAttempts

	logger := log.With().
		Err(cause).
		Str("request_id", id).
		Str("step", string(step)).
		Int("attempt", row.Attempt).
		Bool("terminal", terminal).
		Logger()

	var nf *replication.NotFoundError
	if errors.As(cause, &nf) {
		logger.Error().Msg("request vanished, cancelling job")

		return river.JobCancel(cause)
	}

	if !terminal && !last {
		logger.Warn().Msg("step failed, will retry")

		return cause
	}

	logger.Error().Msg("step failed, recording failure")

	recErr := pgx.BeginFunc(
		context.WithoutCancel(ctx),
		q.store.Pool(),
		func(tx pgx.Tx) error {
			_, err := q.client.InsertTx(
				context.WithoutCancel(ctx),
				tx,
				CompleteRequestArgs{
					RequestID: id,
					Failed:    true,
					Reason:    cause.Error(),
				},
				nil,
			)

			return err
		},
	)
	if recErr != nil {
		return errors.Join(cause, recErr)
	}

	if terminal {
		return river.JobCancel(cause)
	}

	return cause
}

// completeWorker records the final status of a request.
type completeWorker struct {
	river.WorkerDefaults[CompleteRequestArgs]

	q *Queue
}

// Work implements river.Worker.
func (w *completeWorker) Work(
	ctx context.Context,
	job *river.Job[CompleteRequestArgs],
) error {
	args := job.Args

	err := pgx.BeginFunc(ctx, w.q.store.Pool(), func(tx pgx.Tx) error {
		repo := store.WithTx(tx)

		var err error

		if args.Failed {
			err = w.q.pipeline.Fail(ctx, repo, args.RequestID, args.Reason)
		} else {
			var done bool

			_, done, err = pipeline.Load(ctx, repo, args.RequestID)
			if err == nil && !done {
				err = w.q.pipeline.Commit(
					ctx, repo, pipeline.StepComplete,
					args.RequestID, pipeline.Result{},
				)
			}
		}

		if err != nil {
			return err
		}

		_, err = river.JobCompleteTx[*riverpgxv5.Driver](ctx, tx, job)

		return err
	})
	if err != nil && replication.IsTerminal(err) {
		log.Error().
			Err(err).
			Str("request_id", args.RequestID).
			Msg("cannot record completion")

		return river.JobCancel(err)
	}

	return err
}
