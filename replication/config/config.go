package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/byte4ever/mpbridge/replication"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MPBRIDGE_"

// Forge kinds.
const (
	ForgeGitHub    = "github"
	ForgeGitLab    = "gitlab"
	ForgeBitbucket = "bitbucket"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete mpbridge configuration.
type Config struct {
	Database    Database          `koanf:"database"`
	Queue       Queue             `koanf:"queue"`
	Runner      Runner            `koanf:"runner"`
	Launchpad   Launchpad         `koanf:"launchpad"`
	Git         Git               `koanf:"git"`
	Forge       Forge             `koanf:"forge"`
	Targets     map[string]Target `koanf:"targets"`
	PullRequest PullRequest       `koanf:"pull_request"`
	Log         Log               `koanf:"log"`
}

// Database locates the Postgres instance holding requests and jobs.
type Database struct {
	URL string `koanf:"url"`
}

// Queue tunes the River workers.
type Queue struct {
	MaxWorkers       int           `koanf:"max_workers"`
	MaxAttempts      int           `koanf:"max_attempts"`
	JobTimeout       time.Duration `koanf:"job_timeout"`
	HeartbeatTimeout time.Duration `koanf:"heartbeat_timeout"`
}

// Runner tunes inline replication.
type Runner struct {
	MaxAttempts int           `koanf:"max_attempts"`
	Backoff     time.Duration `koanf:"backoff"`
	StepTimeout time.Duration `koanf:"step_timeout"`
	Parallelism int           `koanf:"parallelism"`
}

// Launchpad configures the diff fetcher.
type Launchpad struct {
	WebBase           string        `koanf:"web_base"`
	APIBase           string        `koanf:"api_base"`
	DiffSuffix        string        `koanf:"diff_suffix"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Timeout           time.Duration `koanf:"timeout"`
}

// Git configures local repository handling.
type Git struct {
	Binary      string `koanf:"binary"`
	AuthorName  string `koanf:"author_name"`
	AuthorEmail string `koanf:"author_email"`
	MirrorRoot  string `koanf:"mirror_root"`
	WorkRoot    string `koanf:"work_root"`
}

// Forge selects and authenticates the pull request platform.
type Forge struct {
	// Kind is github, gitlab or bitbucket.
	Kind  string `koanf:"kind"`
	Token string `koanf:"token"`
	// Host is the GitHub Enterprise hostname, the GitLab base URL or the
	// Bitbucket Server base URL.
	Host string `koanf:"host"`
	// APIBaseURL overrides the GitHub REST endpoint.
	APIBaseURL string `koanf:"api_base_url"`
	// User authenticates Bitbucket Server calls together with Token.
	User string `koanf:"user"`
}

// Target describes one target repository.
type Target struct {
	OriginURL      string `koanf:"origin_url"`
	UpstreamURL    string `koanf:"upstream_url"`
	UpstreamRemote string `koanf:"upstream_remote"`
	DefaultBranch  string `koanf:"default_branch"`
	// Owner and Repo name the repository on the forge. For Bitbucket
	// they are the project key and repository slug; for GitLab Repo is
	// the full project path.
	Owner string `koanf:"owner"`
	Repo  string `koanf:"repo"`
	// HeadOwner qualifies request branches pushed to another account.
	HeadOwner string `koanf:"head_owner"`
}

// PullRequest holds the templates for generated content.
type PullRequest struct {
	TitleTemplate         string   `koanf:"title_template"`
	BodyTemplate          string   `koanf:"body_template"`
	CommitMessageTemplate string   `koanf:"commit_message_template"`
	StampFiles            []string `koanf:"stamp_files"`
}

// Log configures zerolog.
type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaults() map[string]any {
	return map[string]any{
		"queue.max_workers":             10,
		"queue.max_attempts":            10,
		"queue.job_timeout":             "30m",
		"queue.heartbeat_timeout":       "5m",
		"runner.max_attempts":           3,
		"runner.backoff":                "1s",
		"runner.parallelism":            1,
		"launchpad.web_base":            "https://code.launchpad.net/",
		"launchpad.api_base":            "https://api.launchpad.net/devel/",
		"launchpad.diff_suffix":         "/+files/preview.diff",
		"launchpad.requests_per_second": 5.0,
		"launchpad.timeout":             "1m",
		"git.binary":                    "git",
		"git.author_name":               "mpbridge",
		"git.author_email":              "mpbridge@localhost",
		"git.mirror_root":               "/var/lib/mpbridge/mirrors",
		"git.work_root":                 "/var/lib/mpbridge/work",
		"forge.kind":                    ForgeGitHub,
		"log.level":                     "info",
		"log.format":                    "json",
	}
}

// Load layers defaults, the file at path (skipped when path is empty) and
// the environment, then decodes the result.
func Load(path string) (*Config, error) {
	const errCtx = "loading config"

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("%s: defaults: %w", errCtx, err)
	}

	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", errCtx, path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("%s: environment: %w", errCtx, err)
	}

	var cfg Config

	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("%s: decoding: %w", errCtx, err)
	}

	return &cfg, nil
}

// envKey maps MPBRIDGE_GIT__WORK_ROOT to git.work_root.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))

	return strings.ReplaceAll(s, "__", ".")
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Parser(), nil
	case ".yaml", ".yml":
		return yamlParser{}, nil
	default:
		return nil, fmt.Errorf(
			"unsupported config format %q", filepath.Ext(path),
		)
	}
}

// Validate reports the first missing or inconsistent setting. The
// database URL is only checked when needDatabase is set, so inline
// replication works without Postgres.
func (c *Config) Validate(needDatabase bool) error {
	if needDatabase && c.Database.URL == "" {
		return fmt.Errorf("%w: database.url is required", ErrInvalid)
	}

	switch c.Forge.Kind {
	case ForgeGitHub, ForgeGitLab:
	case ForgeBitbucket:
		if c.Forge.Host == "" || c.Forge.User == "" {
			return fmt.Errorf(
				"%w: forge.host and forge.user are required for bitbucket",
				ErrInvalid,
			)
		}
	default:
		return fmt.Errorf(
			"%w: unknown forge.kind %q", ErrInvalid, c.Forge.Kind,
		)
	}

	if c.Forge.Token == "" {
		return fmt.Errorf("%w: forge.token is required", ErrInvalid)
	}

	if c.Git.MirrorRoot == "" || c.Git.WorkRoot == "" {
		return fmt.Errorf(
			"%w: git.mirror_root and git.work_root are required",
			ErrInvalid,
		)
	}

	if len(c.Targets) == 0 {
		return fmt.Errorf("%w: at least one target is required", ErrInvalid)
	}

	for name, tg := range c.Targets {
		if _, err := replication.ParseTarget(name); err != nil {
			return fmt.Errorf("%w: targets.%s: %w", ErrInvalid, name, err)
		}

		if err := tg.validate(c.Forge.Kind); err != nil {
			return fmt.Errorf("%w: targets.%s: %w", ErrInvalid, name, err)
		}
	}

	return nil
}

func (t Target) validate(kind string) error {
	switch {
	case t.OriginURL == "":
		return errors.New("origin_url is required")
	case t.UpstreamURL == "":
		return errors.New("upstream_url is required")
	case t.DefaultBranch == "":
		return errors.New("default_branch is required")
	case t.Repo == "":
		return errors.New("repo is required")
	case t.Owner == "" && kind != ForgeGitLab:
		return errors.New("owner is required")
	}

	return nil
}

// TargetNames returns the configured targets as domain values.
func (c *Config) TargetNames() []replication.Target {
	out := make([]replication.Target, 0, len(c.Targets))

	for _, t := range replication.Targets() {
		if _, ok := c.Targets[string(t)]; ok {
			out = append(out, t)
		}
	}

	return out
}
