package websocket

import (
	"encoding/json"

	"github.com/isdelr/ark-warden/internal/models"
)

// Message defines the structure for websocket messages.
type Message struct {
	Action  string      `json:"action"`
	Payload interface{} `json:"payload"`
}

// CommandRequest is the payload of a "run_command" message.
type CommandRequest struct {
	Name string `json:"name"`
	Args string `json:"args"`
}

// NewErrorMessage encodes an error for a single client.
func NewErrorMessage(msg string) []byte {
	return encode(Message{Action: "error", Payload: map[string]string{"message": msg}})
}

// NewOutcomeMessage encodes the result of a command.
func NewOutcomeMessage(command string, outcome models.Outcome) []byte {
	return encode(Message{Action: "command_result", Payload: map[string]interface{}{
		"command": command,
		"outcome": outcome,
	}})
}

func encode(m Message) []byte {
	data, _ := json.Marshal(m)
	return data
}
