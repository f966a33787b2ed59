package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/mpbridge/replication"
	"github.com/byte4ever/mpbridge/replication/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Queue.MaxWorkers)
	assert.Equal(t, 30*time.Minute, cfg.Queue.JobTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Queue.HeartbeatTimeout)
	assert.Equal(t, time.Second, cfg.Runner.Backoff)
	assert.Equal(t, "https://api.launchpad.net/devel/", cfg.Launchpad.APIBase)
	assert.Equal(t, "git", cfg.Git.Binary)
	assert.Equal(t, config.ForgeGitHub, cfg.Forge.Kind)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_sample_toml_is_valid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mpbridge.toml")
	require.NoError(t, config.InitConfig(path))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate(true))

	assert.Equal(t, "example-bot", cfg.Targets["fork"].HeadOwner)
	assert.Equal(t, "master", cfg.Targets["canonical"].DefaultBranch)
	assert.Equal(t,
		[]replication.Target{
			replication.TargetCanonical,
			replication.TargetFork,
		},
		cfg.TargetNames(),
	)
}

func TestInitConfig_refuses_overwrite(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "mpbridge.toml", "x")

	require.Error(t, config.InitConfig(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "x", string(b))
}

func TestLoad_yaml(t *testing.T) {
	path := writeFile(t, "mpbridge.yaml", `
forge:
  kind: gitlab
  token: secret
  host: https://gitlab.example.com
queue:
  heartbeat_timeout: 90s
targets:
  canonical:
    origin_url: https://gitlab.example.com/group/project.git
    upstream_url: https://git.launchpad.net/project
    default_branch: main
    repo: group/project
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate(false))

	assert.Equal(t, config.ForgeGitLab, cfg.Forge.Kind)
	assert.Equal(t, 90*time.Second, cfg.Queue.HeartbeatTimeout)
	assert.Equal(t, "group/project", cfg.Targets["canonical"].Repo)
}

func TestLoad_environment_overrides_file(t *testing.T) {
	path := writeFile(t, "mpbridge.toml", `
[git]
work_root = "/from/file"
`)

	t.Setenv("MPBRIDGE_GIT__WORK_ROOT", "/from/env")
	t.Setenv("MPBRIDGE_TARGETS__FORK__HEAD_OWNER", "bot")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/from/env", cfg.Git.WorkRoot)
	assert.Equal(t, "bot", cfg.Targets["fork"].HeadOwner)
}

func TestLoad_unsupported_extension(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "mpbridge.ini", "")

	_, err := config.Load(path)
	require.ErrorContains(t, err, "unsupported config format")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *config.Config {
		return &config.Config{
			Database: config.Database{URL: "postgres://x"},
			Git: config.Git{
				MirrorRoot: "/m",
				WorkRoot:   "/w",
			},
			Forge: config.Forge{Kind: config.ForgeGitHub, Token: "t"},
			Targets: map[string]config.Target{
				"canonical": {
					OriginURL:     "o",
					UpstreamURL:   "u",
					DefaultBranch: "master",
					Owner:         "org",
					Repo:          "repo",
				},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *config.Config)
		want   string
	}{
		{
			name:   "valid",
			mutate: func(*config.Config) {},
		},
		{
			name:   "missing database",
			mutate: func(c *config.Config) { c.Database.URL = "" },
			want:   "database.url",
		},
		{
			name:   "unknown forge",
			mutate: func(c *config.Config) { c.Forge.Kind = "gitea" },
			want:   "forge.kind",
		},
		{
			name: "bitbucket without user",
			mutate: func(c *config.Config) {
				c.Forge.Kind = config.ForgeBitbucket
				c.Forge.Host = "https://bb"
			},
			want: "forge.user",
		},
		{
			name:   "missing token",
			mutate: func(c *config.Config) { c.Forge.Token = "" },
			want:   "forge.token",
		},
		{
			name: "unknown target",
			mutate: func(c *config.Config) {
				c.Targets["staging"] = c.Targets["canonical"]
			},
			want: "targets.staging",
		},
		{
			name: "target without owner",
			mutate: func(c *config.Config) {
				tg := c.Targets["canonical"]
				tg.Owner = ""
				c.Targets["canonical"] = tg
			},
			want: "owner is required",
		},
		{
			name:   "no targets",
			mutate: func(c *config.Config) { c.Targets = nil },
			want:   "at least one target",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate(true)
			if tt.want == "" {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, config.ErrInvalid)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
