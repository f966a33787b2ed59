package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/byte4ever/mpbridge/replication"
	"github.com/byte4ever/mpbridge/replication/config"
	"github.com/byte4ever/mpbridge/replication/jobqueue"
	"github.com/byte4ever/mpbridge/replication/launchpad"
	"github.com/byte4ever/mpbridge/replication/runner"
	"github.com/byte4ever/mpbridge/replication/store"
	"github.com/byte4ever/mpbridge/replication/store/memstore"
)

const shutdownTimeout = 30 * time.Second

var errUsage = errors.New("usage")

// loadConfig reads the configuration named by the global flags, sets up
// logging and validates it.
func loadConfig(c *cli.Context, needDatabase bool) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}

	if f := c.String("log-format"); f != "" {
		cfg.Log.Format = f
	}

	if err := setupLogging(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}

	if err := cfg.Validate(needDatabase); err != nil {
		return nil, err
	}

	return cfg, nil
}

func workerCommand() *cli.Command {
	return &cli.Command{
		Name:   "worker",
		Usage:  "Process queued replication jobs until interrupted",
		Action: runWorker,
	}
}

func runWorker(c *cli.Context) error {
	const errCtx = "running worker"

	cfg, err := loadConfig(c, true)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	ctx, stop := signal.NotifyContext(
		c.Context, os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	st, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}
	defer st.Close()

	pl, err := newPipeline(cfg, st)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	q, err := jobqueue.New(queueConfig(cfg), st, pl)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	// Cancelling the start context hard-stops River; shutdown goes
	// through Stop instead.
	if err := q.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	log.Info().
		Int("max_workers", cfg.Queue.MaxWorkers).
		Msg("worker started")

	<-ctx.Done()

	log.Info().Msg("worker stopping")

	stopCtx, cancel := context.WithTimeout(
		context.Background(), shutdownTimeout,
	)
	defer cancel()

	if err := q.Stop(stopCtx); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

func requestFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "target",
			Aliases: []string{"t"},
			Usage:   "Target repository (canonical, fork)",
			Value:   string(replication.TargetCanonical),
		},
		&cli.StringFlag{
			Name:  "id",
			Usage: "Request id and branch name (default: a new UUID)",
		},
	}
}

// newRequest validates a submission. Links the fetcher would reject fail
// here instead of in the first job.
func newRequest(
	cfg *config.Config,
	id string,
	link string,
	target string,
) (replication.Request, error) {
	tg, err := replication.ParseTarget(target)
	if err != nil {
		return replication.Request{}, err
	}

	if _, ok := cfg.Targets[target]; !ok {
		return replication.Request{}, fmt.Errorf(
			"target %q is not configured", target,
		)
	}

	fetcher := launchpad.NewFetcher(launchpad.Config{
		WebBase: cfg.Launchpad.WebBase,
		APIBase: cfg.Launchpad.APIBase,
	})

	if _, err := fetcher.APILink(link); err != nil {
		return replication.Request{}, err
	}

	if id == "" {
		id = uuid.NewString()
	}

	return replication.NewRequest(id, link, tg)
}

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Queue the replication of a merge proposal",
		ArgsUsage: "LINK",
		Flags:     requestFlags(),
		Action:    runSubmit,
	}
}

func runSubmit(c *cli.Context) error {
	const errCtx = "submitting"

	if c.NArg() != 1 {
		return fmt.Errorf("%s: %w: submit LINK", errCtx, errUsage)
	}

	cfg, err := loadConfig(c, true)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	req, err := newRequest(
		cfg, c.String("id"), c.Args().First(), c.String("target"),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	st, err := store.Open(c.Context, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}
	defer st.Close()

	pl, err := newPipeline(cfg, st)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	q, err := jobqueue.New(queueConfig(cfg), st, pl)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	out, err := q.Submit(c.Context, req)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	fmt.Fprintln(c.App.Writer, out.ID)

	return nil
}

// requestView is the printed form of a request, without the diff.
type requestView struct {
	ID                string     `json:"request_id"`
	MergeProposalLink string     `json:"merge_proposal_link"`
	Target            string     `json:"target_repository"`
	Status            string     `json:"status"`
	URL               string     `json:"github_url,omitempty"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

func viewOf(req replication.Request) requestView {
	return requestView{
		ID:                req.ID,
		MergeProposalLink: req.MergeProposalLink,
		Target:            string(req.Target),
		Status:            string(req.Status),
		URL:               req.URL,
		FailureReason:     req.FailureReason,
		CreatedAt:         req.CreatedAt,
		UpdatedAt:         req.UpdatedAt,
		CompletedAt:       req.CompletedAt,
	}
}

func printRequests(c *cli.Context, reqs ...replication.Request) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")

	for _, req := range reqs {
		if err := enc.Encode(viewOf(req)); err != nil {
			return err
		}
	}

	return nil
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show one request, or list requests",
		ArgsUsage: "[REQUEST_ID]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "status",
				Usage: "List only requests in this status",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of listed requests",
				Value: 50,
			},
		},
		Action: runStatus,
	}
}

func runStatus(c *cli.Context) error {
	const errCtx = "reading status"

	cfg, err := loadConfig(c, true)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	var status replication.Status

	if s := c.String("status"); s != "" {
		status, err = replication.ParseStatus(s)
		if err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	st, err := store.Open(c.Context, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}
	defer st.Close()

	if c.NArg() > 0 {
		req, err := st.FindByID(c.Context, c.Args().First())
		if err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}

		return printRequests(c, req)
	}

	reqs, err := st.List(c.Context, status, c.Int("limit"))
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return printRequests(c, reqs...)
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Create or upgrade the request and job tables",
		Action: runMigrate,
	}
}

func runMigrate(c *cli.Context) error {
	const errCtx = "migrating"

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := setupLogging(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if cfg.Database.URL == "" {
		return fmt.Errorf("%s: %w: database.url is required",
			errCtx, config.ErrInvalid)
	}

	st, err := store.Open(c.Context, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}
	defer st.Close()

	if err := st.Migrate(c.Context); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Bring target mirrors up to date with upstream",
		ArgsUsage: "[TARGET...]",
		Action:    runSync,
	}
}

func runSync(c *cli.Context) error {
	const errCtx = "syncing mirrors"

	cfg, err := loadConfig(c, false)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	mirrors, err := newMirrorManager(cfg)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	targets := cfg.TargetNames()

	if c.NArg() > 0 {
		targets = targets[:0]

		for _, arg := range c.Args().Slice() {
			tg, err := replication.ParseTarget(arg)
			if err != nil {
				return fmt.Errorf("%s: %w", errCtx, err)
			}

			targets = append(targets, tg)
		}
	}

	for _, tg := range targets {
		if err := mirrors.EnsureSynced(c.Context, tg); err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}

		state := mirrors.State(tg)

		log.Info().
			Str("target", string(tg)).
			Str("path", state.Path).
			Time("last_synced_at", state.LastSyncedAt).
			Msg("mirror synced")
	}

	return nil
}

func replicateCommand() *cli.Command {
	return &cli.Command{
		Name:      "replicate",
		Usage:     "Replicate merge proposals in process, without the queue",
		ArgsUsage: "LINK...",
		Flags: append(requestFlags(),
			&cli.BoolFlag{
				Name: "memory",
				Usage: "Keep request state in memory even when " +
					"database.url is set",
			},
		),
		Action: runReplicate,
	}
}

func runReplicate(c *cli.Context) error {
	const errCtx = "replicating"

	if c.NArg() == 0 {
		return fmt.Errorf("%s: %w: replicate LINK...", errCtx, errUsage)
	}

	if c.NArg() > 1 && c.String("id") != "" {
		return fmt.Errorf(
			"%s: %w: --id needs a single LINK", errCtx, errUsage,
		)
	}

	cfg, err := loadConfig(c, false)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	var st runner.Store = memstore.New()

	if cfg.Database.URL != "" && !c.Bool("memory") {
		pg, err := store.Open(c.Context, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}
		defer pg.Close()

		st = pg
	}

	pl, err := newPipeline(cfg, st)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	ids := make([]string, 0, c.NArg())

	for _, link := range c.Args().Slice() {
		req, err := newRequest(cfg, c.String("id"), link, c.String("target"))
		if err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}

		req, err = st.Create(c.Context, req)
		if err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}

		ids = append(ids, req.ID)
	}

	runErr := runner.New(runnerConfig(cfg), pl, st).RunAll(c.Context, ids)

	reqs := make([]replication.Request, 0, len(ids))

	for _, id := range ids {
		req, err := st.FindByID(c.Context, id)
		if err != nil {
			return fmt.Errorf("%s: %w", errCtx, errors.Join(runErr, err))
		}

		reqs = append(reqs, req)
	}

	if err := printRequests(c, reqs...); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if runErr != nil {
		return fmt.Errorf("%s: %w", errCtx, runErr)
	}

	return nil
}

func initConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "init-config",
		Usage: "Write a sample configuration file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output file path",
				Value:   "mpbridge.toml",
			},
		},
		Action: runInitConfig,
	}
}

func runInitConfig(c *cli.Context) error {
	path := c.String("output")

	if err := config.InitConfig(path); err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "Created configuration file at %s\n", path)

	return nil
}
