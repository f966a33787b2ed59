// Package exec provides process execution helpers for the git surface of
// the pipeline.
package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	oe "os/exec"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/byte4ever/mpbridge/replication"
)

// baseEnv is appended to every command environment so that git never
// waits on an interactive prompt inside a worker.
var baseEnv = []string{
	"GIT_TERMINAL_PROMPT=0",
	"GIT_ASKPASS=true",
}

// Ex executes the named command in the given directory and returns
// combined stdout+stderr output. Pass empty dir to use the current
// working directory. The process is killed when ctx is done.
func Ex(
	ctx context.Context,
	dir string,
	name string,
	arg ...string,
) (string, error) {
	return ExEnv(ctx, dir, nil, name, arg...)
}

// ExEnv is Ex with extra KEY=VALUE environment entries. While the command
// runs, ctx's heartbeater is kept alive with the command name as stage.
func ExEnv(
	ctx context.Context,
	dir string,
	env []string,
	name string,
	arg ...string,
) (string, error) {
	const errCtx = "executing command"

	log.Debug().
		Str("cmd", name).
		Str("args", strings.Join(arg, " ")).
		Str("dir", dir).
		Msg("executing")

	//nolint:gosec // commands are built from constants and validated ids
	cmd := oe.CommandContext(ctx, name, arg...)
	if dir != "" {
		cmd.Dir = dir
	}

	cmd.Env = append(os.Environ(), baseEnv...)
	cmd.Env = append(cmd.Env, env...)

	stop := replication.KeepAlive(ctx, name)
	by, err := cmd.CombinedOutput()
	stop()

	out := string(by)

	log.Debug().Str("result", out).Msg("output")

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(err, ctxErr)
		}

		return out, &Error{
			Cmd:    name + " " + strings.Join(arg, " "),
			Output: strings.TrimSpace(out),
			Err:    fmt.Errorf("%s: %w", errCtx, err),
		}
	}

	return out, nil
}

// Error is returned by Ex when the command exits non-zero or cannot be
// started.
type Error struct {
	Cmd    string
	Output string
	Err    error
}

func (e *Error) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s: %v", e.Cmd, e.Err)
	}

	return fmt.Sprintf("%s: %v: %s", e.Cmd, e.Err, e.Output)
}

func (e *Error) Unwrap() error { return e.Err }

// ExitCode returns the exit status carried by err, or -1 when err does
// not come from an exited process.
func ExitCode(err error) int {
	var exitErr *oe.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}
