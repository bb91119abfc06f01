package webui

import (
	"time"

	"photomaker/imagegen"
)

// Message types sent over /ws.
const (
	// MessageTypeInitial carries the server state to a newly connected client.
	MessageTypeInitial = "initial"
	// MessageTypeProgress wraps an imagegen.Event of the running generation.
	MessageTypeProgress = "progress"
	// MessageTypeStatus reports a change of the busy flag.
	MessageTypeStatus = "status"
	MessageTypeError  = "error"
)

// WSMessage is the envelope of every websocket message.
type WSMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

func NewWSMessage(msgType string, data interface{}) WSMessage {
	return WSMessage{Type: msgType, Timestamp: time.Now(), Data: data}
}

// StatusData tells clients whether a generation is running.
type StatusData struct {
	Busy    bool   `json:"busy"`
	RunID   string `json:"run_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// InitialData is sent once per connection.
type InitialData struct {
	Busy    bool   `json:"busy"`
	Version string `json:"version"`
}

type ErrorData struct {
	Message string `json:"message"`
}

func NewProgressMessage(ev imagegen.Event) WSMessage {
	return NewWSMessage(MessageTypeProgress, ev)
}

func NewStatusMessage(data StatusData) WSMessage {
	return NewWSMessage(MessageTypeStatus, data)
}

func NewErrorMessage(message string) WSMessage {
	return NewWSMessage(MessageTypeError, ErrorData{Message: message})
}
