// Package server answers protocol commands read from a stream by running
// them against the shared database state.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/larderapp/larder/pkg/dberr"
	"github.com/larderapp/larder/pkg/ipc/protocol"
	"github.com/larderapp/larder/pkg/query"
	"github.com/larderapp/larder/pkg/stores"
	"github.com/larderapp/larder/pkg/telemetry"
)

// Store is the database surface the server drives. *state.Store implements it.
type Store interface {
	Init(ctx context.Context, remote stores.Remote) (stores.Outcome, error)
	Execute(ctx context.Context, sqlText string, args []any) (*query.Result, error)
	Batch(ctx context.Context, stmts []query.Statement) ([]*query.Result, error)
	Sync(ctx context.Context) (uint64, error)
}

// WriteNotifier is told about statements that changed rows.
type WriteNotifier interface {
	AfterWrite()
}

// Config configures a Server.
type Config struct {
	Store Store

	// Notifier is optional. The serve command passes the sync coordinator.
	Notifier WriteNotifier

	// Events, when set, are forwarded to the host as EVENT messages.
	Events *telemetry.Publisher

	Version string
	Logger  zerolog.Logger
}

// Server runs one command session.
type Server struct {
	store    Store
	notifier WriteNotifier
	events   *telemetry.Publisher
	version  string
	logger   zerolog.Logger

	commands atomic.Int64
}

// New creates a Server.
func New(cfg Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	return &Server{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		events:   cfg.Events,
		version:  version,
		logger:   cfg.Logger.With().Str("component", "ipc_server").Logger(),
	}
}

type decoded struct {
	msg *protocol.Message
	err error
}

// Serve sends READY, then handles commands from r until r ends or ctx is
// cancelled, and finishes with EXIT. Commands run concurrently and the
// Store serializes them, except init, which waits for in-flight commands
// and runs before the next line is read. The returned error is nil on a
// clean end of input.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	enc := protocol.NewEncoder(w)
	dec := protocol.NewDecoder(r)

	var closed atomic.Bool
	s.events.Subscribe(func(e telemetry.Event) {
		if closed.Load() {
			return
		}
		if err := enc.EncodeEvent(&protocol.EventMessage{
			ID:       e.ID,
			Type:     e.Type,
			Level:    e.Level,
			Message:  e.Message,
			Data:     e.Data,
			Occurred: e.Timestamp,
		}); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to forward event")
		}
	})

	if err := s.sendReady(enc); err != nil {
		return fmt.Errorf("failed to send ready: %w", err)
	}

	lines := make(chan decoded)
	go func() {
		defer close(lines)
		for {
			msg, err := dec.Decode()
			select {
			case lines <- decoded{msg, err}:
			case <-ctx.Done():
				return
			}
			if err != nil && !errors.Is(err, protocol.ErrMalformed) {
				return
			}
		}
	}()

	var wg sync.WaitGroup
	reason, exitCode, serveErr := "eof", 0, error(nil)

loop:
	for {
		select {
		case <-ctx.Done():
			reason = "cancelled"
			break loop
		case d, ok := <-lines:
			if !ok {
				reason = "cancelled"
				break loop
			}
			if d.err != nil {
				if errors.Is(d.err, io.EOF) {
					break loop
				}
				if errors.Is(d.err, protocol.ErrMalformed) {
					s.reject(enc, "", d.err)
					continue
				}
				reason, exitCode, serveErr = "error", 1, d.err
				break loop
			}

			cmd, err := protocol.DecodeCommand(d.msg)
			if err != nil {
				s.reject(enc, commandID(d.msg), err)
				continue
			}
			s.commands.Add(1)

			if cmd.Type == protocol.CommandTypeInit {
				wg.Wait()
				s.handle(ctx, enc, cmd)
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.handle(ctx, enc, cmd)
			}()
		}
	}

	wg.Wait()
	closed.Store(true)

	s.logger.Info().
		Str("reason", reason).
		Int64("commands", s.commands.Load()).
		Msg("Command session ended")

	if err := enc.EncodeExit(&protocol.ExitMessage{
		Reason:        reason,
		ExitCode:      exitCode,
		CommandsTotal: int(s.commands.Load()),
	}); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("failed to send exit: %w", err)
	}
	return serveErr
}

func (s *Server) sendReady(enc *protocol.Encoder) error {
	return enc.EncodeReady(&protocol.ReadyMessage{
		Version:  protocol.Version,
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		PID:      os.Getpid(),
		Caps: map[string]bool{
			string(protocol.CommandTypeInit):    true,
			string(protocol.CommandTypeExecute): true,
			string(protocol.CommandTypeBatch):   true,
			string(protocol.CommandTypeSync):    true,
		},
		Metadata: map[string]string{
			"larder_version": s.version,
		},
	})
}

func (s *Server) reject(enc *protocol.Encoder, id string, err error) {
	s.logger.Warn().Err(err).Str("command_id", id).Msg("Rejected message")
	if encErr := enc.EncodeError(&protocol.ErrorMessage{
		CommandID: id,
		Code:      protocol.CodeInvalidCommand,
		Message:   err.Error(),
	}); encErr != nil {
		s.logger.Error().Err(encErr).Msg("Failed to send error")
	}
}

func (s *Server) handle(ctx context.Context, enc *protocol.Encoder, cmd *protocol.CommandMessage) {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cmd.Timeout)*time.Second)
		defer cancel()
	}

	start := time.Now()
	result, err := s.handleCommand(ctx, cmd)
	duration := time.Since(start)

	logger := s.logger.With().
		Str("command_id", cmd.ID).
		Str("command", string(cmd.Type)).
		Dur("duration", duration).
		Logger()

	if err != nil {
		var errMsg *protocol.ErrorMessage
		var pe *paramsError
		if errors.As(err, &pe) {
			errMsg = &protocol.ErrorMessage{CommandID: cmd.ID, Code: protocol.CodeInvalidParams, Message: err.Error()}
		} else {
			errMsg = protocol.NewErrorMessage(cmd.ID, err)
		}
		logger.Debug().Err(err).Str("code", errMsg.Code).Msg("Command failed")
		if encErr := enc.EncodeError(errMsg); encErr != nil {
			logger.Error().Err(encErr).Msg("Failed to send error")
		}
		return
	}

	logger.Debug().Msg("Command completed")
	if encErr := enc.EncodeDone(cmd.ID, result, duration); encErr != nil {
		logger.Error().Err(encErr).Msg("Failed to send result")
	}
}

// paramsError marks a command whose params did not decode or validate.
type paramsError struct{ err error }

func (e *paramsError) Error() string { return e.err.Error() }
func (e *paramsError) Unwrap() error { return e.err }

func (s *Server) handleCommand(ctx context.Context, cmd *protocol.CommandMessage) (any, error) {
	switch cmd.Type {
	case protocol.CommandTypeInit:
		var params protocol.InitParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, &paramsError{err}
		}
		outcome, err := s.store.Init(ctx, params.Remote())
		if err != nil {
			return nil, err
		}
		return protocol.NewInitResult(outcome), nil

	case protocol.CommandTypeExecute:
		var params protocol.ExecuteParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, &paramsError{err}
		}
		if err := params.Validate(); err != nil {
			return nil, &paramsError{err}
		}
		res, err := s.store.Execute(ctx, params.SQL, params.Args)
		if err != nil {
			return nil, err
		}
		if res.RowsAffected > 0 {
			s.afterWrite()
		}
		return res, nil

	case protocol.CommandTypeBatch:
		var params protocol.BatchParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, &paramsError{err}
		}
		if err := params.Validate(); err != nil {
			return nil, &paramsError{err}
		}
		results, err := s.store.Batch(ctx, params.Statements)
		if err != nil {
			// Statements before the failure may have written
			if dberr.Is(err, dberr.KindExecution) && len(params.Statements) > 1 {
				s.afterWrite()
			}
			return nil, err
		}
		for _, res := range results {
			if res.RowsAffected > 0 {
				s.afterWrite()
				break
			}
		}
		return protocol.BatchResult{Results: results}, nil

	case protocol.CommandTypeSync:
		frames, err := s.store.Sync(ctx)
		if err != nil {
			return nil, err
		}
		return protocol.SyncResult{FramesSynced: frames}, nil

	default:
		return nil, fmt.Errorf("unsupported command type: %s", cmd.Type)
	}
}

func (s *Server) afterWrite() {
	if s.notifier != nil {
		s.notifier.AfterWrite()
	}
}

// commandID pulls the ID out of a command that failed validation so the
// error can still be correlated.
func commandID(msg *protocol.Message) string {
	var partial struct {
		ID string `json:"id"`
	}
	if err := protocol.ParseParams(msg.Data, &partial); err != nil {
		return ""
	}
	return partial.ID
}
