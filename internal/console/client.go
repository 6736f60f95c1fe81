// Package console talks to the game server over its remote console (RCON) port.
package console

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/gorcon/rcon"
	"github.com/rs/zerolog/log"
)

// Dialect selects how strictly responses are interpreted.
type Dialect int

const (
	// DialectStrict returns the server's response body untouched apart from
	// trailing line terminators.
	DialectStrict Dialect = iota
	// DialectLegacy is the non-strict variant spoken by ARK dedicated servers.
	DialectLegacy
)

// noResponseBody is what legacy servers send instead of an empty body.
const noResponseBody = "Server received, But no response!!"

const defaultTimeout = 5 * time.Second

var (
	ErrAuthFailed  = errors.New("rcon authentication failed")
	ErrUnreachable = errors.New("rcon endpoint unreachable")
	ErrProtocol    = errors.New("rcon protocol error")
	ErrTimeout     = errors.New("rcon call timed out")
)

// Executor is anything that can run a console command and return its output.
type Executor interface {
	Execute(ctx context.Context, command string) (string, error)
}

// Config holds the connection settings for the console endpoint.
type Config struct {
	Addr     string
	Password string
	Dialect  Dialect
	Timeout  time.Duration
}

// Client opens a fresh authenticated session for every command.
type Client struct {
	cfg Config
}

// New creates a new console Client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{cfg: cfg}
}

// Execute dials the server, runs a single command and closes the session.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	timeout := c.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
		if remaining < timeout {
			timeout = remaining
		}
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	conn, err := rcon.Dial(c.cfg.Addr, c.cfg.Password, rcon.SetDialTimeout(timeout), rcon.SetDeadline(timeout))
	if err != nil {
		return "", classifyDialError(err)
	}
	defer conn.Close()

	response, err := conn.Execute(command)
	if err != nil {
		return "", classifyExecError(err)
	}

	response = c.normalize(response)
	log.Debug().Str("command", command).Int("response_len", len(response)).Msg("RCON command executed")
	return response, nil
}

func (c *Client) normalize(response string) string {
	response = strings.TrimRight(response, "\r\n")
	if c.cfg.Dialect == DialectLegacy {
		response = strings.TrimRight(response, " \t\r\n\x00")
		if strings.TrimSpace(response) == noResponseBody {
			return ""
		}
	}
	return response
}

func classifyDialError(err error) error {
	switch {
	case errors.Is(err, rcon.ErrAuthFailed):
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	case isTimeout(err):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	return fmt.Errorf("%w: %w", ErrProtocol, err)
}

func classifyExecError(err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrProtocol, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
