package models

// OutcomeKind distinguishes command results for whoever renders them.
type OutcomeKind string

const (
	OutcomeOK                OutcomeKind = "ok"
	OutcomeNoOutput          OutcomeKind = "no_output"
	OutcomeStopped           OutcomeKind = "stopped"
	OutcomeRunning           OutcomeKind = "running"
	OutcomeSaved             OutcomeKind = "saved"
	OutcomeSaveFailed        OutcomeKind = "save_failed"
	OutcomeBlocked           OutcomeKind = "blocked"
	OutcomeExitUnconfirmed   OutcomeKind = "exit_unconfirmed"
	OutcomeAlreadyRunning    OutcomeKind = "already_running"
	OutcomeNeedsConfirmation OutcomeKind = "needs_confirmation"
	OutcomeInvalidArgs       OutcomeKind = "invalid_args"
	OutcomeUnknownCommand    OutcomeKind = "unknown_command"
	OutcomeError             OutcomeKind = "error"
)

// Block reasons.
const (
	ReasonPlayersPresent     = "players present"
	ReasonServerUnresponsive = "server unresponsive"
	ReasonStateUnknown       = "server state unknown"
	ReasonServerLive         = "server is running"
)

// Outcome is the result of any command: a message plus a machine-readable kind.
type Outcome struct {
	Kind    OutcomeKind `json:"kind"`
	Message string      `json:"message"`
	Reason  string      `json:"reason,omitempty"`
}
