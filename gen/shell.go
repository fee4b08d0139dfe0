package gen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Environment variables passed to generator commands.
const (
	EnvHeader = "PGSYS_HEADER"
	EnvTarget = "PGSYS_TARGET"
	EnvMajor  = "PGSYS_MAJOR"
	EnvTags   = "PGSYS_TAGS"
	EnvOutput = "PGSYS_OUTPUT"
)

// CommandError is a generator command exiting with a non-zero status.
type CommandError struct {
	Header string
	Status int
	Stderr string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("generator for %v exited with status %v", e.Header, e.Status)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// ShellGenerator runs a POSIX shell command through an embedded
// interpreter. The command reads the unit from the PGSYS_* variables and
// writes the generated Go source to stdout.
type ShellGenerator struct {
	Command string
	// Base environment; the process environment if nil.
	Env []string
	// Receives the command's stderr on success; discarded if nil.
	Stderr io.Writer
}

func (g *ShellGenerator) Generate(ctx context.Context, job Job) ([]byte, error) {
	file, err := syntax.NewParser().Parse(strings.NewReader(g.Command), "command")
	if err != nil {
		return nil, fmt.Errorf("parse generator command: %w", err)
	}

	env := g.Env
	if env == nil {
		env = os.Environ()
	}
	env = append(slices.Clone(env),
		EnvHeader+"="+job.Unit.Header,
		EnvTarget+"="+job.Target,
		EnvMajor+"="+strconv.Itoa(job.Major),
		EnvTags+"="+strings.Join(job.Tags, ","),
		EnvOutput+"="+job.Unit.Output,
	)

	var stdout, stderr bytes.Buffer
	runner, err := interp.New(
		interp.Dir(job.Dir),
		interp.Env(expand.ListEnviron(env...)),
		interp.StdIO(nil, &stdout, &stderr),
	)
	if err != nil {
		return nil, err
	}
	if err := runner.Run(ctx, file); err != nil {
		var status interp.ExitStatus
		if errors.As(err, &status) {
			return nil, &CommandError{Header: job.Unit.Header, Status: int(status), Stderr: stderr.String()}
		}
		return nil, err
	}
	if g.Stderr != nil {
		if _, err := g.Stderr.Write(stderr.Bytes()); err != nil {
			return nil, err
		}
	}
	return stdout.Bytes(), nil
}
