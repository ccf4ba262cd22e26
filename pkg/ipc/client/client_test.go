package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/larderapp/larder/pkg/dberr"
	"github.com/larderapp/larder/pkg/ipc/protocol"
	"github.com/larderapp/larder/pkg/ipc/server"
	"github.com/larderapp/larder/pkg/query"
	"github.com/larderapp/larder/pkg/state"
	"github.com/larderapp/larder/pkg/stores"
)

// pipeTransport runs a server in-process over io.Pipe.
type pipeTransport struct {
	srv  *server.Server
	done chan error
}

func (p *pipeTransport) Start(context.Context) (io.WriteCloser, io.ReadCloser, error) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	p.done = make(chan error, 1)
	go func() {
		err := p.srv.Serve(context.Background(), inR, outW)
		_ = outW.Close()
		p.done <- err
	}()
	return inW, outR, nil
}

func (p *pipeTransport) Wait() error { return <-p.done }

func startClient(t *testing.T) *Client {
	t.Helper()

	store := state.New(state.Config{
		Manager: stores.NewManager(stores.ManagerConfig{
			DataDir: t.TempDir(),
			Logger:  zerolog.Nop(),
		}),
		Logger: zerolog.Nop(),
	})
	t.Cleanup(func() { _ = store.Close() })

	c, err := New(Config{
		Transport: &pipeTransport{srv: server.New(server.Config{Store: store, Logger: zerolog.Nop()})},
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return c
}

func TestClientRoundTrip(t *testing.T) {
	c := startClient(t)
	ctx := context.Background()

	if c.Ready() == nil || !c.Ready().Caps["batch"] {
		t.Fatalf("ready = %+v", c.Ready())
	}

	if _, err := c.Execute(ctx, "SELECT 1"); !errors.Is(err, dberr.NotInitialized) {
		t.Fatalf("Execute() before init error = %v, want not initialized", err)
	}

	res, err := c.Init(ctx, "", "")
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if res.Mode != stores.ModeLocal {
		t.Errorf("mode = %s, want local", res.Mode)
	}

	if _, err := c.Execute(ctx, "CREATE TABLE kv (k TEXT PRIMARY KEY, v BLOB)"); err != nil {
		t.Fatal(err)
	}
	results, err := c.Batch(ctx, []query.Statement{
		{SQL: "INSERT INTO kv VALUES (?, ?)", Args: []any{"a", 1}},
		{SQL: "INSERT INTO kv VALUES (?, ?)", Args: []any{"b", 2.5}},
		{SQL: "SELECT k, v FROM kv ORDER BY k"},
	})
	if err != nil {
		t.Fatalf("Batch() error = %v", err)
	}
	if len(results) != 3 || len(results[2].Rows) != 2 {
		t.Fatalf("batch results = %+v", results)
	}
	if got := fmt.Sprint(results[2].Rows[1][1]); got != "2.5" {
		t.Errorf("real value = %s, want 2.5", got)
	}

	_, err = c.Execute(ctx, "INSERT INTO kv VALUES ('a', 0)")
	if !errors.Is(err, dberr.Execution) {
		t.Errorf("duplicate insert error = %v, want execution", err)
	}
	if err != nil && !strings.Contains(err.Error(), "UNIQUE") {
		t.Errorf("engine message lost: %v", err)
	}

	if _, err := c.Sync(ctx); !errors.Is(err, dberr.Sync) {
		t.Errorf("Sync() on local error = %v, want sync", err)
	}

	exit, err := c.Close(ctx)
	if err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if exit == nil || exit.Reason != "eof" || exit.CommandsTotal != 6 {
		t.Errorf("exit = %+v", exit)
	}

	if _, err := c.Sync(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("call after close error = %v, want ErrClosed", err)
	}
}

func TestClientConcurrentCalls(t *testing.T) {
	c := startClient(t)
	ctx := context.Background()

	if _, err := c.Init(ctx, "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Execute(ctx, "CREATE TABLE n (i INTEGER)"); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := c.Execute(ctx, "INSERT INTO n VALUES (?)", i); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent insert: %v", err)
	}

	res, err := c.Execute(ctx, "SELECT count(*) FROM n")
	if err != nil {
		t.Fatal(err)
	}
	if got := fmt.Sprint(res.Rows[0][0]); got != "20" {
		t.Errorf("count = %s, want 20", got)
	}
	if _, err := c.Close(ctx); err != nil {
		t.Fatal(err)
	}
}

// silentTransport never says READY.
type silentTransport struct{ w *io.PipeWriter }

func (s *silentTransport) Start(context.Context) (io.WriteCloser, io.ReadCloser, error) {
	_, inW := io.Pipe()
	outR, outW := io.Pipe()
	s.w = outW
	return inW, outR, nil
}

func (s *silentTransport) Wait() error { return s.w.Close() }

func TestClientStartupTimeout(t *testing.T) {
	tr := &silentTransport{}
	c, err := New(Config{Transport: tr, StartupTimeout: 50 * time.Millisecond, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	err = c.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Errorf("Start() error = %v, want timeout", err)
	}
	_ = tr.Wait()
}

func TestNewRequiresTransport(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without transport")
	}
}

func TestRemoteError(t *testing.T) {
	err := remoteError(&protocol.ErrorMessage{Code: "local_open", Message: "init: failed"})
	if !errors.Is(err, dberr.LocalOpen) {
		t.Errorf("error %v does not match LocalOpen", err)
	}
	if err.Error() != "init: failed" {
		t.Errorf("message = %q", err.Error())
	}

	err = remoteError(&protocol.ErrorMessage{Code: protocol.CodeInvalidParams, Message: "sql is required"})
	if dberr.KindOf(err) != "" {
		t.Errorf("protocol error classified as %s", dberr.KindOf(err))
	}
}
