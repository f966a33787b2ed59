package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/byte4ever/mpbridge/replication"
	"github.com/byte4ever/mpbridge/replication/branch"
	"github.com/byte4ever/mpbridge/replication/config"
	"github.com/byte4ever/mpbridge/replication/git"
	"github.com/byte4ever/mpbridge/replication/git/bitbucket"
	"github.com/byte4ever/mpbridge/replication/git/github"
	"github.com/byte4ever/mpbridge/replication/git/gitlab"
	"github.com/byte4ever/mpbridge/replication/jobqueue"
	"github.com/byte4ever/mpbridge/replication/launchpad"
	"github.com/byte4ever/mpbridge/replication/mirror"
	"github.com/byte4ever/mpbridge/replication/pipeline"
	"github.com/byte4ever/mpbridge/replication/pullreq"
	"github.com/byte4ever/mpbridge/replication/recorder"
	"github.com/byte4ever/mpbridge/replication/runner"
	"github.com/byte4ever/mpbridge/replication/stamper"
)

// setupLogging configures the global zerolog logger.
func setupLogging(level, format string) error {
	const errCtx = "configuring logging"

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	zerolog.SetGlobalLevel(lvl)

	switch format {
	case "", "json":
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	case "console":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	default:
		return fmt.Errorf("%s: unknown format %q", errCtx, format)
	}

	return nil
}

func identity(cfg *config.Config) git.Identity {
	return git.Identity{
		Name:  cfg.Git.AuthorName,
		Email: cfg.Git.AuthorEmail,
	}
}

func newMirrorManager(cfg *config.Config) (*mirror.Manager, error) {
	specs := make([]mirror.Spec, 0, len(cfg.Targets))

	for _, name := range cfg.TargetNames() {
		tg := cfg.Targets[string(name)]

		specs = append(specs, mirror.Spec{
			Target:         name,
			OriginURL:      tg.OriginURL,
			UpstreamURL:    tg.UpstreamURL,
			UpstreamRemote: tg.UpstreamRemote,
			DefaultBranch:  tg.DefaultBranch,
		})
	}

	return mirror.NewManager(mirror.Config{
		Root:     cfg.Git.MirrorRoot,
		Binary:   cfg.Git.Binary,
		Identity: identity(cfg),
		Specs:    specs,
	})
}

// newProvider creates the git.Provider of one target.
//
// Pattern: Factory -- selects platform implementation at runtime.
func newProvider(
	forge config.Forge,
	tg config.Target,
) (git.Provider, error) {
	const errCtx = "creating git provider"

	var (
		p   git.Provider
		err error
	)

	switch forge.Kind {
	case config.ForgeGitHub:
		p, err = github.NewProvider(github.Config{
			RepoOwner:      tg.Owner,
			Repo:           tg.Repo,
			AccessToken:    forge.Token,
			EnterpriseHost: forge.Host,
			APIBaseURL:     forge.APIBaseURL,
		})

	case config.ForgeGitLab:
		p, err = gitlab.NewProvider(gitlab.Config{
			Host:        forge.Host,
			Repo:        tg.Repo,
			AccessToken: forge.Token,
		})

	case config.ForgeBitbucket:
		p, err = bitbucket.NewProvider(bitbucket.Config{
			APIEndpoint: bitbucketEndpoint(forge.Host, tg),
			ProjectKey:  tg.Owner,
			RepoSlug:    tg.Repo,
			User:        forge.User,
			Password:    forge.Token,
		})

	default:
		return nil, fmt.Errorf(
			"%s: unknown forge %q", errCtx, forge.Kind,
		)
	}

	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return p, nil
}

func bitbucketEndpoint(host string, tg config.Target) string {
	return strings.TrimSuffix(host, "/") +
		"/rest/api/1.0/projects/" + tg.Owner +
		"/repos/" + tg.Repo + "/pull-requests"
}

func newOpener(cfg *config.Config) (*pullreq.Opener, error) {
	const errCtx = "creating opener"

	stamps, err := stamper.LoadStamps(cfg.PullRequest.StampFiles)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	targets := make([]pullreq.Target, 0, len(cfg.Targets))

	for _, name := range cfg.TargetNames() {
		tg := cfg.Targets[string(name)]

		p, err := newProvider(cfg.Forge, tg)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", errCtx, name, err)
		}

		targets = append(targets, pullreq.Target{
			Target:        name,
			HeadOwner:     tg.HeadOwner,
			DefaultBranch: tg.DefaultBranch,
			Provider:      p,
		})
	}

	return pullreq.NewOpener(pullreq.Config{
		TitleTemplate: cfg.PullRequest.TitleTemplate,
		BodyTemplate:  cfg.PullRequest.BodyTemplate,
		Stamps:        stamps,
	}, targets...)
}

// newPipeline builds every component and binds them to tx for recording.
func newPipeline(
	cfg *config.Config,
	tx replication.Transactor,
) (*pipeline.Pipeline, error) {
	const errCtx = "building pipeline"

	mirrors, err := newMirrorManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	mat, err := branch.NewMaterializer(branch.Config{
		WorkRoot:       cfg.Git.WorkRoot,
		CommitTemplate: cfg.PullRequest.CommitMessageTemplate,
	}, mirrors)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	op, err := newOpener(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return &pipeline.Pipeline{
		Fetcher: launchpad.NewFetcher(launchpad.Config{
			WebBase:           cfg.Launchpad.WebBase,
			APIBase:           cfg.Launchpad.APIBase,
			DiffSuffix:        cfg.Launchpad.DiffSuffix,
			RequestsPerSecond: cfg.Launchpad.RequestsPerSecond,
			Timeout:           cfg.Launchpad.Timeout,
		}),
		Mirrors:      mirrors,
		Materializer: mat,
		Opener:       op,
		Recorder:     recorder.New(tx),
	}, nil
}

func queueConfig(cfg *config.Config) jobqueue.Config {
	return jobqueue.Config{
		MaxWorkers:       cfg.Queue.MaxWorkers,
		MaxAttempts:      cfg.Queue.MaxAttempts,
		JobTimeout:       cfg.Queue.JobTimeout,
		HeartbeatTimeout: cfg.Queue.HeartbeatTimeout,
	}
}

func runnerConfig(cfg *config.Config) runner.Config {
	return runner.Config{
		MaxAttempts: cfg.Runner.MaxAttempts,
		Backoff:     cfg.Runner.Backoff,
		StepTimeout: cfg.Runner.StepTimeout,
		Parallelism: cfg.Runner.Parallelism,
	}
}
