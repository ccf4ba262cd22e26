// Package protocol defines the JSON-lines command channel spoken by
// "larder serve" over stdio.
//
// Every line is an envelope {type, timestamp, data}. The server announces
// itself with READY, answers each CMD with exactly one DONE or ERROR carrying
// the command ID, forwards lifecycle notifications as EVENT and says EXIT
// before it stops.
package protocol

import (
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/larderapp/larder/pkg/dberr"
	"github.com/larderapp/larder/pkg/query"
	"github.com/larderapp/larder/pkg/stores"
)

// Version is the protocol revision reported in READY.
const Version = "1"

// MessageType tags an envelope.
type MessageType string

// Envelope types. READY, EVENT, DONE, ERROR and EXIT flow from server to
// host; CMD flows the other way.
const (
	MessageTypeReady   MessageType = "READY"
	MessageTypeCommand MessageType = "CMD"
	MessageTypeEvent   MessageType = "EVENT"
	MessageTypeDone    MessageType = "DONE"
	MessageTypeError   MessageType = "ERROR"
	MessageTypeExit    MessageType = "EXIT"
)

// CommandType names the database call a CMD asks for.
type CommandType string

const (
	CommandTypeInit    CommandType = "init"    // open or reopen the database
	CommandTypeExecute CommandType = "execute" // one statement
	CommandTypeBatch   CommandType = "batch"   // statements in order, one transaction
	CommandTypeSync    CommandType = "sync"    // pull remote frames into the replica
)

// Error codes that are not database error kinds.
const (
	CodeInvalidCommand = "invalid_command"
	CodeInvalidParams  = "invalid_params"
)

// Message is the envelope for all protocol messages.
type Message struct {
	Type      MessageType       `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Data      gojson.RawMessage `json:"data,omitempty"`
}

// ReadyMessage opens every session.
type ReadyMessage struct {
	Version  string            `json:"version"`
	Platform string            `json:"platform"`
	Arch     string            `json:"arch"`
	PID      int               `json:"pid"`
	Caps     map[string]bool   `json:"capabilities"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CommandMessage is one host request.
type CommandMessage struct {
	ID   string      `json:"id"`
	Type CommandType `json:"type"`
	// Timeout in seconds. Zero means no deadline.
	Timeout  int               `json:"timeout,omitempty"`
	Params   gojson.RawMessage `json:"params,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// EventMessage forwards a lifecycle notification to the host.
type EventMessage struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Level    string         `json:"level"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data,omitempty"`
	Occurred time.Time      `json:"occurred"`
}

// DoneMessage answers a command that succeeded.
type DoneMessage struct {
	CommandID string            `json:"command_id"`
	Result    gojson.RawMessage `json:"result"`
	Duration  float64           `json:"duration"` // seconds
}

// ErrorMessage answers a command that failed. Code is a dberr kind or one of
// the Code constants.
type ErrorMessage struct {
	CommandID string `json:"command_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ExitMessage is the last line of a session.
type ExitMessage struct {
	Reason        string `json:"reason"`
	ExitCode      int    `json:"exit_code"`
	CommandsTotal int    `json:"commands_total"`
}

// InitParams are the params of an init command. Both fields empty means a
// local database.
type InitParams struct {
	URL       string `json:"url,omitempty"`
	AuthToken string `json:"auth_token,omitempty"`
}

// Remote converts the params to a replica target.
func (p InitParams) Remote() stores.Remote {
	return stores.Remote{URL: p.URL, AuthToken: p.AuthToken}
}

// InitResult reports how the database was opened.
type InitResult struct {
	Mode         stores.Mode `json:"mode"`
	Path         string      `json:"path"`
	URL          string      `json:"url,omitempty"`
	Attempts     int         `json:"attempts"`
	FellBack     bool        `json:"fell_back"`
	RemoteError  string      `json:"remote_error,omitempty"`
	FramesSynced uint64      `json:"frames_synced"`
	SyncError    string      `json:"sync_error,omitempty"`
}

// NewInitResult flattens an Outcome for the wire.
func NewInitResult(o stores.Outcome) InitResult {
	r := InitResult{
		Mode:         o.Mode,
		Path:         o.Path,
		URL:          o.URL,
		Attempts:     o.Attempts,
		FellBack:     o.FellBack,
		FramesSynced: o.InitialSync.FramesSynced,
	}
	if o.RemoteErr != nil {
		r.RemoteError = o.RemoteErr.Error()
	}
	if o.SyncErr != nil {
		r.SyncError = o.SyncErr.Error()
	}
	return r
}

// ExecuteParams are the params of an execute command.
type ExecuteParams struct {
	SQL  string `json:"sql"`
	Args []any  `json:"args,omitempty"`
}

// BatchParams are the params of a batch command.
type BatchParams struct {
	Statements []query.Statement `json:"statements"`
}

// BatchResult holds one result per statement.
type BatchResult struct {
	Results []*query.Result `json:"results"`
}

// SyncResult reports the frames a sync applied.
type SyncResult struct {
	FramesSynced uint64 `json:"frames_synced"`
}

// NewErrorMessage classifies err for the wire.
func NewErrorMessage(commandID string, err error) *ErrorMessage {
	code := string(dberr.KindOf(err))
	if code == "" {
		code = string(dberr.KindExecution)
	}
	return &ErrorMessage{
		CommandID: commandID,
		Code:      code,
		Message:   err.Error(),
		Retryable: dberr.Retryable(dberr.Kind(code)),
	}
}

// Validate rejects unknown envelope types.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeReady, MessageTypeCommand, MessageTypeEvent,
		MessageTypeDone, MessageTypeError, MessageTypeExit:
		return nil
	default:
		return fmt.Errorf("invalid message type: %s", mt)
	}
}

// Validate rejects unknown command types.
func (ct CommandType) Validate() error {
	switch ct {
	case CommandTypeInit, CommandTypeExecute, CommandTypeBatch, CommandTypeSync:
		return nil
	default:
		return fmt.Errorf("invalid command type: %s", ct)
	}
}

// Validate checks the ID, type and timeout, and that execute and batch
// carry params.
func (cmd *CommandMessage) Validate() error {
	if cmd.ID == "" {
		return fmt.Errorf("command ID is required")
	}
	if err := cmd.Type.Validate(); err != nil {
		return err
	}
	if cmd.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	switch cmd.Type {
	case CommandTypeExecute, CommandTypeBatch:
		if len(cmd.Params) == 0 {
			return fmt.Errorf("%s requires params", cmd.Type)
		}
	}
	return nil
}

// Validate checks the statement text.
func (p *ExecuteParams) Validate() error {
	if p.SQL == "" {
		return fmt.Errorf("sql is required")
	}
	return nil
}

// Validate checks every statement in the batch.
func (p *BatchParams) Validate() error {
	for i, stmt := range p.Statements {
		if stmt.SQL == "" {
			return fmt.Errorf("statement %d: sql is required", i)
		}
	}
	return nil
}
