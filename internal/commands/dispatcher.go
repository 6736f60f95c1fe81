// Package commands maps command names to lifecycle, backup and tunnel operations
// and renders their results as outcomes.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/buildkite/shellwords"
	"github.com/isdelr/ark-warden/internal/models"
	"github.com/isdelr/ark-warden/internal/services"
	"github.com/rs/zerolog/log"
)

const forceToken = "force"

// Request is a parsed invocation.
type Request struct {
	Raw   string   // argument text as typed
	Args  []string // parsed arguments with a trailing force token removed
	Force bool
}

// Handler runs one command.
type Handler struct {
	Usage       string
	Description string
	// RawText handlers receive the argument text untouched in Request.Raw.
	RawText bool
	Run     func(ctx context.Context, req Request) models.Outcome
}

// Table is the command-name to handler lookup.
type Table struct {
	handlers  map[string]Handler
	lifecycle services.LifecycleServiceProvider
	backups   services.BackupServiceProvider
	tunnel    services.TunnelServiceProvider
}

// NewTable registers every command.
func NewTable(lifecycle services.LifecycleServiceProvider, backups services.BackupServiceProvider, tunnel services.TunnelServiceProvider) *Table {
	t := &Table{lifecycle: lifecycle, backups: backups, tunnel: tunnel}
	t.handlers = map[string]Handler{
		"status":        {Usage: "status", Description: "Report whether the server is running and how many players are online.", Run: t.status},
		"listplayers":   {Usage: "listplayers", Description: "List connected players.", Run: t.listPlayers},
		"broadcast":     {Usage: "broadcast <message>", Description: "Show a message to everyone in game.", RawText: true, Run: t.broadcast},
		"save":          {Usage: "save", Description: "Save the world and take a backup.", Run: t.save},
		"start":         {Usage: "start", Description: "Start the server.", Run: t.start},
		"restart":       {Usage: "restart [force]", Description: "Save, stop and start the server.", Run: t.restart},
		"shutdown":      {Usage: "shutdown [force]", Description: "Save and stop the server.", Run: t.shutdown},
		"listbackups":   {Usage: "listbackups", Description: "List archives available for rollback.", Run: t.listBackups},
		"rollback":      {Usage: "rollback <backup> force", Description: "Restore an archive into the data directory. The server must be stopped.", Run: t.rollback},
		"reload_tunnel": {Usage: "reload_tunnel [force]", Description: "Restart the port-forwarding tunnel.", Run: t.reloadTunnel},
		"check_tunnel":  {Usage: "check_tunnel", Description: "Check whether the port-forwarding tunnel is running.", Run: t.checkTunnel},
	}
	t.handlers["help"] = Handler{Usage: "help", Description: "List commands.", Run: t.help}
	return t
}

// Names returns the registered command names in order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.handlers))
	for name := range t.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse splits the argument text. Force is only recognised as an exact final token.
func Parse(raw string) (Request, error) {
	args, err := shellwords.SplitPosix(raw)
	if err != nil {
		return Request{}, err
	}
	req := Request{Raw: strings.TrimSpace(raw), Args: args}
	if n := len(args); n > 0 && args[n-1] == forceToken {
		req.Force = true
		req.Args = args[:n-1]
	}
	return req, nil
}

// Dispatch looks up and runs a command.
func (t *Table) Dispatch(ctx context.Context, name, raw string) models.Outcome {
	name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "/"))
	handler, ok := t.handlers[name]
	if !ok {
		return models.Outcome{Kind: models.OutcomeUnknownCommand, Message: fmt.Sprintf("Unknown command '%s'. Run 'help' for a list.", name)}
	}
	var req Request
	if handler.RawText {
		req = Request{Raw: strings.TrimSpace(raw)}
	} else {
		var err error
		if req, err = Parse(raw); err != nil {
			return invalid(handler, err.Error())
		}
	}
	log.Info().Str("command", name).Bool("force", req.Force).Msg("Dispatching command")
	return handler.Run(ctx, req)
}

func invalid(h Handler, reason string) models.Outcome {
	return models.Outcome{Kind: models.OutcomeInvalidArgs, Message: fmt.Sprintf("%s. Usage: %s", reason, h.Usage)}
}

func failed(action string, err error) models.Outcome {
	log.Error().Err(err).Str("command", action).Msg("Command failed")
	return models.Outcome{Kind: models.OutcomeError, Message: fmt.Sprintf("%s failed: %v", action, err)}
}

// withError keeps the service's outcome when it carries one, otherwise renders the error.
func withError(action string, outcome models.Outcome, err error) models.Outcome {
	if err == nil {
		return outcome
	}
	if outcome.Kind == "" {
		return failed(action, err)
	}
	log.Error().Err(err).Str("command", action).Msg("Command failed")
	outcome.Message = fmt.Sprintf("%s (%v)", outcome.Message, err)
	return outcome
}

func (t *Table) noArgs(name string, req Request) (models.Outcome, bool) {
	if len(req.Args) > 0 || req.Force {
		return invalid(t.handlers[name], "This command takes no arguments"), false
	}
	return models.Outcome{}, true
}

func (t *Table) status(ctx context.Context, req Request) models.Outcome {
	if o, ok := t.noArgs("status", req); !ok {
		return o
	}
	status := t.lifecycle.Status(ctx)
	if status.Stopped() {
		return models.Outcome{Kind: models.OutcomeStopped, Message: "The server is stopped."}
	}
	return models.Outcome{Kind: models.OutcomeRunning, Message: fmt.Sprintf("The server is running with %d players online.", status.Players)}
}

func (t *Table) listPlayers(ctx context.Context, req Request) models.Outcome {
	if o, ok := t.noArgs("listplayers", req); !ok {
		return o
	}
	players, err := t.lifecycle.ListPlayers(ctx)
	if err != nil {
		return failed("listplayers", err)
	}
	if len(players) == 0 {
		return models.Outcome{Kind: models.OutcomeOK, Message: "No players connected."}
	}
	return models.Outcome{Kind: models.OutcomeOK, Message: strings.Join(players, "\n")}
}

func (t *Table) broadcast(ctx context.Context, req Request) models.Outcome {
	if req.Raw == "" {
		return invalid(t.handlers["broadcast"], "A message is required")
	}
	resp, err := t.lifecycle.Broadcast(ctx, req.Raw)
	if err != nil {
		return failed("broadcast", err)
	}
	if resp == "" {
		resp = "[Broadcast] " + req.Raw
	}
	return models.Outcome{Kind: models.OutcomeOK, Message: resp}
}

// save accepts a force token for symmetry with restart; saving has no gate.
func (t *Table) save(ctx context.Context, req Request) models.Outcome {
	if len(req.Args) > 0 {
		return invalid(t.handlers["save"], "This command takes no arguments")
	}
	outcome, err := t.lifecycle.Save(ctx)
	if err != nil {
		if outcome.Saved {
			return models.Outcome{Kind: models.OutcomeError, Message: fmt.Sprintf("World saved but the backup failed: %v", err)}
		}
		return failed("save", err)
	}
	if !outcome.Saved {
		return models.Outcome{
			Kind:    models.OutcomeSaveFailed,
			Message: fmt.Sprintf("Save failed after %d attempts. No backup was taken.", len(outcome.Attempts)),
		}
	}
	msg := outcome.Response
	if outcome.Backup != nil {
		msg = fmt.Sprintf("%s\nBackup %s created.", msg, outcome.Backup.ID())
	}
	return models.Outcome{Kind: models.OutcomeSaved, Message: msg}
}

func (t *Table) start(ctx context.Context, req Request) models.Outcome {
	if o, ok := t.noArgs("start", req); !ok {
		return o
	}
	outcome, err := t.lifecycle.Start(ctx)
	return withError("start", outcome, err)
}

func (t *Table) restart(ctx context.Context, req Request) models.Outcome {
	if len(req.Args) > 0 {
		return invalid(t.handlers["restart"], "Only 'force' is accepted")
	}
	outcome, err := t.lifecycle.Restart(ctx, req.Force)
	return withError("restart", outcome, err)
}

func (t *Table) shutdown(ctx context.Context, req Request) models.Outcome {
	if len(req.Args) > 0 {
		return invalid(t.handlers["shutdown"], "Only 'force' is accepted")
	}
	outcome, err := t.lifecycle.Shutdown(ctx, req.Force)
	return withError("shutdown", outcome, err)
}

func (t *Table) listBackups(_ context.Context, req Request) models.Outcome {
	if o, ok := t.noArgs("listbackups", req); !ok {
		return o
	}
	backups, err := t.backups.GetBackups()
	if err != nil {
		return failed("listbackups", err)
	}
	if len(backups) == 0 {
		return models.Outcome{Kind: models.OutcomeOK, Message: "No backups available."}
	}
	ids := make([]string, 0, len(backups))
	for _, b := range backups {
		ids = append(ids, b.ID())
	}
	return models.Outcome{Kind: models.OutcomeOK, Message: strings.Join(ids, "\n")}
}

func (t *Table) rollback(ctx context.Context, req Request) models.Outcome {
	if len(req.Args) != 1 {
		return invalid(t.handlers["rollback"], "Name one backup from 'listbackups'")
	}
	outcome, err := t.lifecycle.Rollback(ctx, req.Args[0], req.Force)
	if errors.Is(err, services.ErrArchiveNotFound) {
		return models.Outcome{Kind: models.OutcomeInvalidArgs, Message: fmt.Sprintf("No backup named '%s'. Run 'listbackups' to see what is available.", req.Args[0])}
	}
	return withError("rollback", outcome, err)
}

func (t *Table) reloadTunnel(ctx context.Context, req Request) models.Outcome {
	if len(req.Args) > 0 {
		return invalid(t.handlers["reload_tunnel"], "Only 'force' is accepted")
	}
	outcome, err := t.tunnel.ReloadTunnel(ctx, req.Force)
	return withError("reload_tunnel", outcome, err)
}

func (t *Table) checkTunnel(ctx context.Context, req Request) models.Outcome {
	if o, ok := t.noArgs("check_tunnel", req); !ok {
		return o
	}
	up, err := t.tunnel.CheckTunnel(ctx)
	if err != nil {
		return failed("check_tunnel", err)
	}
	if !up {
		return models.Outcome{Kind: models.OutcomeStopped, Message: "The tunnel is not running. Run 'reload_tunnel' to start it."}
	}
	return models.Outcome{Kind: models.OutcomeRunning, Message: "The tunnel is running. Run 'reload_tunnel' if the connection is unstable."}
}

func (t *Table) help(_ context.Context, _ Request) models.Outcome {
	var b strings.Builder
	for _, name := range t.Names() {
		h := t.handlers[name]
		fmt.Fprintf(&b, "%-24s %s\n", h.Usage, h.Description)
	}
	return models.Outcome{Kind: models.OutcomeOK, Message: strings.TrimRight(b.String(), "\n")}
}
