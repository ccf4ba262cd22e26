package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
)

// ErrMalformed marks a line that is not a valid envelope. The stream is
// still usable after it.
var ErrMalformed = errors.New("malformed message")

// maxLineSize bounds a single message. Batches carrying blobs can be large.
const maxLineSize = 10 * 1024 * 1024

// Encoder frames messages onto w, one JSON object per line. Lines from
// concurrent callers never interleave.
type Encoder struct {
	mu  sync.Mutex
	out *bufio.Writer
	now func() time.Time
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{out: bufio.NewWriter(w), now: time.Now}
}

// Encode wraps data in an envelope of type t and writes it as one line.
func (e *Encoder) Encode(t MessageType, data any) error {
	if err := t.Validate(); err != nil {
		return err
	}

	env := Message{Type: t, Timestamp: e.now().UTC()}
	if data != nil {
		payload, err := gojson.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", t, err)
		}
		env.Data = payload
	}

	line, err := gojson.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", t, err)
	}
	line = append(line, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.out.Write(line); err != nil {
		return fmt.Errorf("write %s: %w", t, err)
	}
	return e.out.Flush()
}

// EncodeReady sends a READY message.
func (e *Encoder) EncodeReady(ready *ReadyMessage) error {
	return e.Encode(MessageTypeReady, ready)
}

// EncodeCommand sends a CMD message.
func (e *Encoder) EncodeCommand(cmd *CommandMessage) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	return e.Encode(MessageTypeCommand, cmd)
}

// EncodeEvent sends an EVENT message.
func (e *Encoder) EncodeEvent(event *EventMessage) error {
	return e.Encode(MessageTypeEvent, event)
}

// EncodeDone marshals result and sends a DONE message.
func (e *Encoder) EncodeDone(commandID string, result any, duration time.Duration) error {
	raw, err := gojson.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result of %s: %w", commandID, err)
	}
	return e.Encode(MessageTypeDone, &DoneMessage{
		CommandID: commandID,
		Result:    raw,
		Duration:  duration.Seconds(),
	})
}

// EncodeError sends an ERROR message.
func (e *Encoder) EncodeError(msg *ErrorMessage) error {
	return e.Encode(MessageTypeError, msg)
}

// EncodeExit sends an EXIT message.
func (e *Encoder) EncodeExit(exit *ExitMessage) error {
	return e.Encode(MessageTypeExit, exit)
}

// Decoder splits a stream into envelopes.
type Decoder struct {
	lines *bufio.Scanner
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	lines := bufio.NewScanner(r)
	lines.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Decoder{lines: lines}
}

// Decode returns the next envelope, skipping blank lines. A line that is
// not an envelope yields an error wrapping ErrMalformed and the next call
// moves on. End of input is a bare io.EOF.
func (d *Decoder) Decode() (*Message, error) {
	for d.lines.Scan() {
		line := bytes.TrimSpace(d.lines.Bytes())
		if len(line) == 0 {
			continue
		}

		msg := new(Message)
		if err := gojson.Unmarshal(line, msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if err := msg.Type.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return msg, nil
	}
	if err := d.lines.Err(); err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	return nil, io.EOF
}

// DecodeCommand extracts and validates the command carried by a CMD envelope.
func DecodeCommand(msg *Message) (*CommandMessage, error) {
	if msg.Type != MessageTypeCommand {
		return nil, fmt.Errorf("not a command: %s", msg.Type)
	}

	cmd := new(CommandMessage)
	if err := gojson.Unmarshal(msg.Data, cmd); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// ParseParams decodes raw into target. Numbers are kept as json.Number so
// integers beyond 2^53 reach the value codec intact. Empty raw leaves
// target untouched.
func ParseParams(raw gojson.RawMessage, target any) error {
	if len(raw) == 0 {
		return nil
	}
	dec := gojson.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}
