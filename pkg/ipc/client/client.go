// Package client drives a "larder serve" session from Go. Calls may be
// made from several goroutines; replies are matched to calls by command ID.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/larderapp/larder/pkg/dberr"
	"github.com/larderapp/larder/pkg/ipc/protocol"
	"github.com/larderapp/larder/pkg/query"
)

// ErrClosed is returned by calls made after Close or after the session ended.
var ErrClosed = errors.New("client is closed")

// Config contains client configuration options.
type Config struct {
	Transport      Transport
	StartupTimeout time.Duration

	// OnEvent receives forwarded EVENT messages. It runs on the read loop
	// and must not block.
	OnEvent func(*protocol.EventMessage)

	Logger zerolog.Logger
}

// Client manages one serve session.
type Client struct {
	transport      Transport
	startupTimeout time.Duration
	onEvent        func(*protocol.EventMessage)
	logger         zerolog.Logger

	encoder *protocol.Encoder
	stdin   io.WriteCloser
	ready   *protocol.ReadyMessage

	mu      sync.Mutex
	pending map[string]chan *protocol.Message
	closed  bool
	exit    *protocol.ExitMessage
	done    chan struct{}
}

// New creates a client. Start must be called before any command.
func New(cfg Config) (*Client, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 10 * time.Second
	}

	return &Client{
		transport:      cfg.Transport,
		startupTimeout: cfg.StartupTimeout,
		onEvent:        cfg.OnEvent,
		logger:         cfg.Logger.With().Str("component", "ipc_client").Logger(),
		pending:        make(map[string]chan *protocol.Message),
		done:           make(chan struct{}),
	}, nil
}

// Start launches the session and waits for READY.
func (c *Client) Start(ctx context.Context) error {
	stdin, stdout, err := c.transport.Start(ctx)
	if err != nil {
		return err
	}
	c.stdin = stdin
	c.encoder = protocol.NewEncoder(stdin)
	decoder := protocol.NewDecoder(stdout)

	readyCh := make(chan *protocol.ReadyMessage, 1)
	errCh := make(chan error, 1)

	go func() {
		msg, err := decoder.Decode()
		if err != nil {
			errCh <- err
			return
		}
		if msg.Type != protocol.MessageTypeReady {
			errCh <- fmt.Errorf("expected READY, got %s", msg.Type)
			return
		}
		var ready protocol.ReadyMessage
		if err := protocol.ParseParams(msg.Data, &ready); err != nil {
			errCh <- err
			return
		}
		readyCh <- &ready
	}()

	timer := time.NewTimer(c.startupTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		_ = stdin.Close()
		return ctx.Err()
	case <-timer.C:
		_ = stdin.Close()
		return fmt.Errorf("timeout waiting for READY message")
	case err := <-errCh:
		_ = stdin.Close()
		return fmt.Errorf("failed to receive READY: %w", err)
	case ready := <-readyCh:
		c.ready = ready
	}

	go c.readLoop(decoder)
	return nil
}

// Ready returns the READY message received during startup.
func (c *Client) Ready() *protocol.ReadyMessage {
	return c.ready
}

func (c *Client) readLoop(decoder *protocol.Decoder) {
	defer c.finish()

	for {
		msg, err := decoder.Decode()
		if errors.Is(err, protocol.ErrMalformed) {
			c.logger.Warn().Err(err).Msg("Skipping malformed line")
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Warn().Err(err).Msg("Session read failed")
			}
			return
		}

		switch msg.Type {
		case protocol.MessageTypeEvent:
			if c.onEvent == nil {
				continue
			}
			var evt protocol.EventMessage
			if err := protocol.ParseParams(msg.Data, &evt); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to parse event")
				continue
			}
			c.onEvent(&evt)

		case protocol.MessageTypeDone, protocol.MessageTypeError:
			var ref struct {
				CommandID string `json:"command_id"`
			}
			if err := protocol.ParseParams(msg.Data, &ref); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to parse reply")
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[ref.CommandID]
			delete(c.pending, ref.CommandID)
			c.mu.Unlock()
			if !ok {
				c.logger.Warn().Str("command_id", ref.CommandID).Msg("Reply for unknown command")
				continue
			}
			ch <- msg

		case protocol.MessageTypeExit:
			var exit protocol.ExitMessage
			if err := protocol.ParseParams(msg.Data, &exit); err == nil {
				c.mu.Lock()
				c.exit = &exit
				c.mu.Unlock()
			}
			return

		default:
			c.logger.Warn().Str("type", string(msg.Type)).Msg("Unexpected message")
		}
	}
}

// finish fails every waiting call once the session is over.
func (c *Client) finish() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]chan *protocol.Message)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	close(c.done)
}

// Call sends one command and waits for its reply. params may be nil.
func (c *Client) Call(ctx context.Context, typ protocol.CommandType, params any) (*protocol.DoneMessage, error) {
	cmd := &protocol.CommandMessage{
		ID:   uuid.New().String(),
		Type: typ,
	}
	if params != nil {
		raw, err := marshal(params)
		if err != nil {
			return nil, err
		}
		cmd.Params = raw
	}
	if deadline, ok := ctx.Deadline(); ok {
		if secs := int(time.Until(deadline).Seconds()); secs > 0 {
			cmd.Timeout = secs
		}
	}

	ch := make(chan *protocol.Message, 1)
	c.mu.Lock()
	if c.closed || c.encoder == nil {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[cmd.ID] = ch
	c.mu.Unlock()

	if err := c.encoder.EncodeCommand(cmd); err != nil {
		c.forget(cmd.ID)
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	select {
	case <-ctx.Done():
		c.forget(cmd.ID)
		return nil, ctx.Err()
	case msg, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return reply(msg)
	}
}

func marshal(v any) ([]byte, error) {
	raw, err := gojson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return raw, nil
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func reply(msg *protocol.Message) (*protocol.DoneMessage, error) {
	if msg.Type == protocol.MessageTypeError {
		var e protocol.ErrorMessage
		if err := protocol.ParseParams(msg.Data, &e); err != nil {
			return nil, fmt.Errorf("failed to parse error: %w", err)
		}
		return nil, remoteError(&e)
	}

	var done protocol.DoneMessage
	if err := protocol.ParseParams(msg.Data, &done); err != nil {
		return nil, fmt.Errorf("failed to parse done: %w", err)
	}
	return &done, nil
}

// remoteError rebuilds a classified error so errors.Is against the dberr
// sentinels works across the channel.
func remoteError(e *protocol.ErrorMessage) error {
	if kind := dberr.Kind(e.Code); kind.Valid() {
		return dberr.New(kind, "", e.Message, nil)
	}
	return fmt.Errorf("%s: %s", e.Code, e.Message)
}

// Init opens the database in the session. Empty url and token mean local.
func (c *Client) Init(ctx context.Context, url, authToken string) (*protocol.InitResult, error) {
	var res protocol.InitResult
	if err := c.callInto(ctx, protocol.CommandTypeInit, protocol.InitParams{URL: url, AuthToken: authToken}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Execute runs one statement. Numbers in the result decode as json.Number.
func (c *Client) Execute(ctx context.Context, sqlText string, args ...any) (*query.Result, error) {
	var res query.Result
	if err := c.callInto(ctx, protocol.CommandTypeExecute, protocol.ExecuteParams{SQL: sqlText, Args: args}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Batch runs statements in order, stopping at the first failure.
func (c *Client) Batch(ctx context.Context, stmts []query.Statement) ([]*query.Result, error) {
	var res protocol.BatchResult
	if err := c.callInto(ctx, protocol.CommandTypeBatch, protocol.BatchParams{Statements: stmts}, &res); err != nil {
		return nil, err
	}
	return res.Results, nil
}

// Sync pulls remote changes and returns the frames applied.
func (c *Client) Sync(ctx context.Context) (uint64, error) {
	var res protocol.SyncResult
	if err := c.callInto(ctx, protocol.CommandTypeSync, nil, &res); err != nil {
		return 0, err
	}
	return res.FramesSynced, nil
}

func (c *Client) callInto(ctx context.Context, typ protocol.CommandType, params, target any) error {
	done, err := c.Call(ctx, typ, params)
	if err != nil {
		return err
	}
	return protocol.ParseParams(done.Result, target)
}

// Close ends the session by closing its stdin, then waits for EXIT and for
// the transport to finish. The EXIT message is returned when one arrived.
func (c *Client) Close(ctx context.Context) (*protocol.ExitMessage, error) {
	if c.stdin == nil {
		return nil, nil
	}

	var errs []error
	if err := c.stdin.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close stdin: %w", err))
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	if err := c.transport.Wait(); err != nil {
		errs = append(errs, err)
	}

	c.mu.Lock()
	exit := c.exit
	c.mu.Unlock()
	return exit, errors.Join(errs...)
}
