package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/larderapp/larder/pkg/dberr"
	"github.com/larderapp/larder/pkg/stores"
)

func TestEncoder(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    any
		wantErr bool
	}{
		{
			name:    "ready",
			msgType: MessageTypeReady,
			data:    &ReadyMessage{Version: Version, Platform: "linux", Arch: "amd64", PID: 1234},
		},
		{
			name:    "error",
			msgType: MessageTypeError,
			data:    &ErrorMessage{CommandID: "c1", Code: "sync", Message: "boom", Retryable: true},
		},
		{
			name:    "exit",
			msgType: MessageTypeExit,
			data:    &ExitMessage{Reason: "eof", CommandsTotal: 3},
		},
		{
			name:    "invalid message type",
			msgType: MessageType("INVALID"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := NewEncoder(&buf).Encode(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Encode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			out := buf.String()
			if !strings.HasSuffix(out, "\n") || strings.Count(out, "\n") != 1 {
				t.Fatalf("expected exactly one line, got %q", out)
			}
			var msg Message
			if err := json.Unmarshal([]byte(out), &msg); err != nil {
				t.Fatalf("output is not JSON: %v", err)
			}
			if msg.Type != tt.msgType {
				t.Errorf("type = %s, want %s", msg.Type, tt.msgType)
			}
			if msg.Timestamp.IsZero() {
				t.Error("timestamp not set")
			}
		})
	}
}

func TestEncodeDone(t *testing.T) {
	var buf bytes.Buffer
	err := NewEncoder(&buf).EncodeDone("c7", SyncResult{FramesSynced: 4}, 1500*time.Millisecond)
	if err != nil {
		t.Fatalf("EncodeDone() error = %v", err)
	}

	msg, err := NewDecoder(&buf).Decode()
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	var done DoneMessage
	if err := ParseParams(msg.Data, &done); err != nil {
		t.Fatal(err)
	}
	if done.CommandID != "c7" || done.Duration != 1.5 {
		t.Errorf("done = %+v", done)
	}
	var res SyncResult
	if err := ParseParams(done.Result, &res); err != nil {
		t.Fatal(err)
	}
	if res.FramesSynced != 4 {
		t.Errorf("frames = %d, want 4", res.FramesSynced)
	}
}

func TestEncoderConcurrentLinesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = enc.EncodeError(&ErrorMessage{CommandID: "c", Code: "execution", Message: strings.Repeat("x", 512)})
		}()
	}
	wg.Wait()

	dec := NewDecoder(&buf)
	n := 0
	for {
		_, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("line %d: %v", n, err)
		}
		n++
	}
	if n != 50 {
		t.Errorf("decoded %d messages, want 50", n)
	}
}

func TestDecoder(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    MessageType
		wantEOF bool
		wantErr bool
	}{
		{
			name:  "command",
			input: `{"type":"CMD","timestamp":"2024-01-01T00:00:00Z","data":{"id":"1","type":"sync"}}` + "\n",
			want:  MessageTypeCommand,
		},
		{
			name:  "blank lines skipped",
			input: "\n  \n" + `{"type":"EXIT","timestamp":"2024-01-01T00:00:00Z"}` + "\n",
			want:  MessageTypeExit,
		},
		{
			name:    "empty stream",
			input:   "",
			wantEOF: true,
		},
		{
			name:    "not json",
			input:   "hello\n",
			wantErr: true,
		},
		{
			name:    "unknown type",
			input:   `{"type":"NOPE","timestamp":"2024-01-01T00:00:00Z"}` + "\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewDecoder(strings.NewReader(tt.input)).Decode()
			if tt.wantEOF {
				if !errors.Is(err, io.EOF) {
					t.Fatalf("error = %v, want io.EOF", err)
				}
				return
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrMalformed) {
				t.Errorf("error %v does not wrap ErrMalformed", err)
			}
			if !tt.wantErr && msg.Type != tt.want {
				t.Errorf("type = %s, want %s", msg.Type, tt.want)
			}
		})
	}
}

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{
			name: "execute",
			msg:  Message{Type: MessageTypeCommand, Data: []byte(`{"id":"a","type":"execute","params":{"sql":"SELECT 1"}}`)},
		},
		{
			name: "sync without params",
			msg:  Message{Type: MessageTypeCommand, Data: []byte(`{"id":"a","type":"sync"}`)},
		},
		{
			name:    "not a command",
			msg:     Message{Type: MessageTypeDone, Data: []byte(`{}`)},
			wantErr: true,
		},
		{
			name:    "missing id",
			msg:     Message{Type: MessageTypeCommand, Data: []byte(`{"type":"sync"}`)},
			wantErr: true,
		},
		{
			name:    "unknown command",
			msg:     Message{Type: MessageTypeCommand, Data: []byte(`{"id":"a","type":"exec"}`)},
			wantErr: true,
		},
		{
			name:    "execute without params",
			msg:     Message{Type: MessageTypeCommand, Data: []byte(`{"id":"a","type":"execute"}`)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.msg
			_, err := DecodeCommand(&msg)
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeCommand() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseParamsKeepsNumbers(t *testing.T) {
	var p ExecuteParams
	raw := []byte(`{"sql":"SELECT ?, ?, ?","args":[9007199254740993, 1.5, "x"]}`)
	if err := ParseParams(raw, &p); err != nil {
		t.Fatalf("ParseParams() error = %v", err)
	}

	n, ok := p.Args[0].(json.Number)
	if !ok {
		t.Fatalf("arg 0 is %T, want json.Number", p.Args[0])
	}
	if n.String() != "9007199254740993" {
		t.Errorf("arg 0 = %s", n)
	}
	if f, ok := p.Args[1].(json.Number); !ok || f.String() != "1.5" {
		t.Errorf("arg 1 = %#v", p.Args[1])
	}
	if s, ok := p.Args[2].(string); !ok || s != "x" {
		t.Errorf("arg 2 = %#v", p.Args[2])
	}
}

func TestParseParamsEmpty(t *testing.T) {
	p := InitParams{URL: "keep"}
	if err := ParseParams(nil, &p); err != nil {
		t.Fatal(err)
	}
	if p.URL != "keep" {
		t.Errorf("URL = %q", p.URL)
	}
	if err := ParseParams([]byte(`{"url":`), &p); err == nil {
		t.Error("expected error for truncated params")
	}
}

func TestNewErrorMessage(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{"not initialized", dberr.NewNotInitializedError("execute"), "not_initialized", false},
		{"sync", dberr.NewSyncError(errors.New("timeout")), "sync", true},
		{"plain error", errors.New("boom"), "execution", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := NewErrorMessage("id", tt.err)
			if msg.Code != tt.code || msg.Retryable != tt.retryable {
				t.Errorf("got code=%s retryable=%v, want %s %v", msg.Code, msg.Retryable, tt.code, tt.retryable)
			}
			if msg.Message != tt.err.Error() {
				t.Errorf("message = %q", msg.Message)
			}
		})
	}
}

func TestNewInitResult(t *testing.T) {
	r := NewInitResult(stores.Outcome{
		Mode:      stores.ModeLocal,
		Path:      "/d/local.db",
		Attempts:  6,
		FellBack:  true,
		RemoteErr: errors.New("unreachable"),
	})
	if r.Mode != stores.ModeLocal || !r.FellBack || r.Attempts != 6 || r.RemoteError != "unreachable" {
		t.Errorf("result = %+v", r)
	}
	if r.SyncError != "" {
		t.Errorf("sync error = %q, want empty", r.SyncError)
	}
}
