// Package dberr defines the typed error taxonomy shared by the connection,
// execution and sync layers. Retry and fallback decisions branch on Kind,
// never on the text of an underlying driver message.
package dberr

import (
	"errors"
	"fmt"
)

// Kind classifies a database bridge failure.
type Kind string

const (
	// KindDataDir means the private storage directory could not be resolved or created.
	KindDataDir Kind = "data_dir"

	// KindRemoteConnect means an embedded replica could not be established.
	// Absorbed by the connection manager's retry and fallback.
	KindRemoteConnect Kind = "remote_connect"

	// KindLocalOpen means the local database could not be opened. Nothing is left to try.
	KindLocalOpen Kind = "local_open"

	// KindNotInitialized means a call arrived before a successful init.
	KindNotInitialized Kind = "not_initialized"

	// KindExecution means the engine rejected a statement or its bindings.
	KindExecution Kind = "execution"

	// KindSync means a replica sync exchange failed.
	KindSync Kind = "sync"
)

// Valid reports whether k is one of the kinds above.
func (k Kind) Valid() bool {
	switch k {
	case KindDataDir, KindRemoteConnect, KindLocalOpen, KindNotInitialized, KindExecution, KindSync:
		return true
	default:
		return false
	}
}

// Error is a classified database bridge error.
type Error struct {
	// Kind is the failure classification.
	Kind Kind `json:"kind"`

	// Op is the operation that failed (init, execute, batch, sync, ...).
	Op string `json:"op,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, dberr.NotInitialized) style checks work against the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && t.Message == "" && t.Op == ""
}

// Sentinels for errors.Is checks.
var (
	DataDir        = &Error{Kind: KindDataDir}
	RemoteConnect  = &Error{Kind: KindRemoteConnect}
	LocalOpen      = &Error{Kind: KindLocalOpen}
	NotInitialized = &Error{Kind: KindNotInitialized}
	Execution      = &Error{Kind: KindExecution}
	Sync           = &Error{Kind: KindSync}
)

// New creates a classified error.
func New(kind Kind, op, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// NewDataDirError creates a data directory error.
func NewDataDirError(dir string, err error) *Error {
	return New(KindDataDir, "init", fmt.Sprintf("data directory %q unavailable", dir), err)
}

// NewRemoteConnectError creates a replica connection error.
func NewRemoteConnectError(url string, err error) *Error {
	return New(KindRemoteConnect, "init", fmt.Sprintf("remote replica %s unreachable", url), err)
}

// NewLocalOpenError creates a local open error.
func NewLocalOpenError(path string, err error) *Error {
	return New(KindLocalOpen, "init", fmt.Sprintf("failed to open local database %s", path), err)
}

// NewNotInitializedError creates the error returned for calls made before init.
func NewNotInitializedError(op string) *Error {
	return New(KindNotInitialized, op, "database not initialized, call init first", nil)
}

// NewExecutionError wraps an engine error. The engine message is preserved verbatim.
func NewExecutionError(op string, err error) *Error {
	return New(KindExecution, op, "", err)
}

// NewSyncError wraps a failed sync exchange.
func NewSyncError(err error) *Error {
	return New(KindSync, "sync", "replica sync failed", err)
}

// KindOf returns the kind of the first *Error in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether a failure of this kind may succeed if tried again later.
func Retryable(kind Kind) bool {
	switch kind {
	case KindRemoteConnect, KindSync:
		return true
	default:
		return false
	}
}

// Fatal reports whether a failure of this kind leaves the process without a database.
func Fatal(kind Kind) bool {
	return kind == KindDataDir || kind == KindLocalOpen
}
