package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/buildkite/shellwords"
	"github.com/rs/zerolog/log"
)

var ErrScriptFailed = errors.New("script failed")

// ScriptRunner runs an admin script and returns what it printed on stdout.
type ScriptRunner interface {
	Run(ctx context.Context, script string) (string, error)
}

// ShellScriptRunner hands scripts to a configured interpreter,
// e.g. "/bin/sh" or "powershell -NonInteractive -File".
type ShellScriptRunner struct {
	interpreter []string
	timeout     time.Duration
}

// NewScriptRunner parses the interpreter command line once.
func NewScriptRunner(interpreter string, timeout time.Duration) (*ShellScriptRunner, error) {
	argv, err := shellwords.Split(interpreter)
	if err != nil {
		return nil, fmt.Errorf("parse script interpreter %q: %w", interpreter, err)
	}
	if len(argv) == 0 {
		return nil, errors.New("script interpreter is empty")
	}
	return &ShellScriptRunner{interpreter: argv, timeout: timeout}, nil
}

// Run executes the script and returns its stdout without trailing line breaks.
func (r *ShellScriptRunner) Run(ctx context.Context, script string) (string, error) {
	if strings.TrimSpace(script) == "" {
		return "", fmt.Errorf("%w: no script configured", ErrScriptFailed)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	args := append(append([]string{}, r.interpreter[1:]...), script)
	cmd := exec.CommandContext(ctx, r.interpreter[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children that inherit stdout must not hold Run open past cancellation.
	cmd.WaitDelay = time.Second

	started := time.Now()
	err := cmd.Run()
	output := strings.TrimRight(stdout.String(), "\r\n")
	if err != nil {
		log.Error().Err(err).Str("script", script).Str("stderr", strings.TrimSpace(stderr.String())).Msg("Script failed")
		return output, fmt.Errorf("%w: %s: %w", ErrScriptFailed, script, err)
	}
	log.Info().Str("script", script).Dur("took", time.Since(started)).Msg("Script finished")
	return output, nil
}
