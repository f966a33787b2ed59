// Package gittest builds throwaway git repositories for tests: a bare
// "forge" repository, an "upstream" with history, and helpers to run git
// inside them.
package gittest

import (
	"context"
	"os"
	oe "os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// Identity used for every fixture commit.
const (
	UserName  = "Test"
	UserEmail = "test@test.com"
)

// Git runs a git command in dir and returns its trimmed output. The test
// fails on a non-zero exit.
func Git(tb testing.TB, dir string, args ...string) string {
	tb.Helper()

	full := append([]string{
		"-c", "user.name=" + UserName,
		"-c", "user.email=" + UserEmail,
		// Disable hooks so pre-commit scanners do not interfere
		// with tests.
		"-c", "core.hooksPath=/dev/null",
	}, args...)

	//nolint:gosec // test helper
	cmd := oe.CommandContext(context.Background(), "git", full...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	out, err := cmd.CombinedOutput()
	if err != nil {
		tb.Fatalf("git %v failed: %s: %v", args, string(out), err)
	}

	return strings.TrimSpace(string(out))
}

// InitRepo creates a non-bare repository on branch with one commit
// holding README.md.
func InitRepo(tb testing.TB, dir string, branch string) {
	tb.Helper()

	if err := os.MkdirAll(dir, 0o750); err != nil {
		tb.Fatalf("mkdir %s: %v", dir, err)
	}

	Git(tb, dir, "init", "-b", branch)
	WriteFile(tb, dir, "README.md", "hello\n")
	Git(tb, dir, "add", "-A")
	Git(tb, dir, "commit", "-m", "initial")
}

// InitBare creates a bare repository at dir.
func InitBare(tb testing.TB, dir string, branch string) {
	tb.Helper()

	if err := os.MkdirAll(dir, 0o750); err != nil {
		tb.Fatalf("mkdir %s: %v", dir, err)
	}

	Git(tb, dir, "init", "--bare", "-b", branch)
}

// WriteFile writes content to name below dir.
func WriteFile(tb testing.TB, dir, name, content string) {
	tb.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		tb.Fatalf("mkdir for %s: %v", path, err)
	}

	//nolint:gosec // test file
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
}

// CommitFile writes and commits a file in a working repository.
func CommitFile(tb testing.TB, dir, name, content, msg string) {
	tb.Helper()

	WriteFile(tb, dir, name, content)
	Git(tb, dir, "add", "-A")
	Git(tb, dir, "commit", "-m", msg)
}

// Forge is the pair of repositories a mirror is built from: a bare
// origin standing in for the forge, and an upstream working repository
// standing in for the source platform.
type Forge struct {
	Origin   string
	Upstream string
	Branch   string
}

// NewForge lays out upstream with one commit and an origin seeded from
// it, both below root.
func NewForge(tb testing.TB, root string, branch string) Forge {
	tb.Helper()

	fg := Forge{
		Origin:   filepath.Join(root, "origin.git"),
		Upstream: filepath.Join(root, "upstream"),
		Branch:   branch,
	}

	InitRepo(tb, fg.Upstream, branch)
	InitBare(tb, fg.Origin, branch)
	Git(tb, fg.Upstream, "push", fg.Origin, branch)

	return fg
}

// RemoteBranches lists the branch names in a (bare) repository.
func RemoteBranches(tb testing.TB, dir string) []string {
	tb.Helper()

	out := Git(
		tb, dir,
		"for-each-ref", "--format=%(refname:short)", "refs/heads",
	)
	if out == "" {
		return nil
	}

	return strings.Split(out, "\n")
}

// CountCommits returns the number of commits reachable from from but
// not from exclude.
func CountCommits(tb testing.TB, dir, from, exclude string) string {
	tb.Helper()

	return Git(tb, dir, "rev-list", "--count", from, "^"+exclude)
}
