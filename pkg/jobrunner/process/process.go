// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	shellquote "github.com/kballard/go-shellquote"
)

// Exit codes reported when a process could not be started at all. They
// follow the shell conventions so scripts and binaries fail the same way.
const (
	ExitCodeNotExecutable = 126
	ExitCodeNotFound      = 127
	// ExitCodeKilled is reported when the process was terminated by a
	// signal, including deadline expiry.
	ExitCodeKilled = -1
)

// waitDelay bounds how long Wait keeps copying output after the process was
// killed, since grandchildren may still hold the pipe open.
const waitDelay = time.Second

// Command describes one process to spawn.
type Command struct {
	Path string
	Args []string
	// Env is a list of KEY=VALUE entries layered on top of the current
	// process environment. Later entries win.
	Env []string
	Dir string
}

func (c Command) String() string {
	return shellquote.Join(append([]string{c.Path}, c.Args...)...)
}

// Result is what a finished process left behind.
type Result struct {
	ExitCode int
	// Output holds stdout and stderr interleaved as written.
	Output   []byte
	TimedOut bool
}

// Executor runs commands to completion.
type Executor interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// LocalExecutor is just a thin layer over exec.Command.
type LocalExecutor struct {
	// Timeout bounds every Run; zero means no deadline.
	Timeout time.Duration
	// Stream, when set, also receives the output while the process runs.
	Stream io.Writer
}

// NewLocalExecutor returns an executor that spawns processes on this host.
func NewLocalExecutor(timeout time.Duration, stream io.Writer) *LocalExecutor {
	return &LocalExecutor{Timeout: timeout, Stream: stream}
}

// Run starts the command and waits for it. A non-zero exit status is not an
// error; the returned error is only set when the process could not be
// started, in which case the Result still carries a shell style exit code.
func (le *LocalExecutor) Run(ctx context.Context, c Command) (*Result, error) {
	if le.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, le.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.WaitDelay = waitDelay

	var output bytes.Buffer
	var w io.Writer = &output
	if le.Stream != nil {
		w = io.MultiWriter(&output, le.Stream)
	}
	// same writer for both, so exec shares a single pipe and keeps ordering
	cmd.Stdout, cmd.Stderr = w, w

	if err := cmd.Start(); err != nil {
		code := startFailureExitCode(err)
		return &Result{ExitCode: code, Output: []byte(err.Error() + "\n")}, fmt.Errorf("failed to start process: %w", err)
	}

	err := cmd.Wait()
	res := &Result{Output: output.Bytes()}
	if err == nil {
		return res, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = ExitCodeKilled
		return res, nil
	}
	var e *exec.ExitError
	if !errors.As(err, &e) {
		// I/O copy errors after a successful start
		res.ExitCode = 1
		return res, nil
	}
	res.ExitCode = e.ExitCode()
	return res, nil
}

func startFailureExitCode(err error) int {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return ExitCodeNotFound
	case errors.Is(err, os.ErrPermission):
		return ExitCodeNotExecutable
	default:
		return 1
	}
}
