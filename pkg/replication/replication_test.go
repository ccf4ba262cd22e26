package replication

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/larderapp/larder/pkg/dberr"
	"github.com/larderapp/larder/pkg/stores"
)

type fakeDatabase struct {
	mode    stores.Mode
	report  stores.SyncReport
	syncErr error
	calls   int
}

func (f *fakeDatabase) Mode() stores.Mode                          { return f.mode }
func (f *fakeDatabase) Path() string                               { return "fake.db" }
func (f *fakeDatabase) DB() *sql.DB                                { return nil }
func (f *fakeDatabase) Connect(context.Context) (*sql.Conn, error) { return nil, errors.New("unused") }
func (f *fakeDatabase) Close() error                               { return nil }

func (f *fakeDatabase) Sync(context.Context) (stores.SyncReport, error) {
	f.calls++
	return f.report, f.syncErr
}

func TestSync(t *testing.T) {
	tests := []struct {
		name      string
		db        *fakeDatabase
		want      uint64
		wantErr   bool
		wantCalls int
	}{
		{"local is rejected", &fakeDatabase{mode: stores.ModeLocal}, 0, true, 0},
		{"replica frames", &fakeDatabase{mode: stores.ModeReplica, report: stores.SyncReport{FrameNo: 9, FramesSynced: 3}}, 3, false, 1},
		{"replica up to date", &fakeDatabase{mode: stores.ModeReplica}, 0, false, 1},
		{"replica failure", &fakeDatabase{mode: stores.ModeReplica, syncErr: errors.New("offline")}, 0, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := Sync(context.Background(), tt.db)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Sync() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, dberr.Sync) {
				t.Errorf("error kind = %q, want sync", dberr.KindOf(err))
			}
			if report.FramesSynced != tt.want {
				t.Errorf("frames = %d, want %d", report.FramesSynced, tt.want)
			}
			if tt.db.calls != tt.wantCalls {
				t.Errorf("engine sync calls = %d, want %d", tt.db.calls, tt.wantCalls)
			}
		})
	}
}

func TestSyncLocalWrapsNotReplica(t *testing.T) {
	_, err := Sync(context.Background(), &fakeDatabase{mode: stores.ModeLocal})
	if !errors.Is(err, stores.ErrNotReplica) {
		t.Errorf("Sync() error = %v, want ErrNotReplica in chain", err)
	}
}

// countingSyncer counts calls and reports each start on started.
type countingSyncer struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func newCountingSyncer(blocking bool) *countingSyncer {
	s := &countingSyncer{started: make(chan struct{}, 64)}
	if blocking {
		s.release = make(chan struct{})
	}
	return s
}

func (s *countingSyncer) Sync(ctx context.Context) (uint64, error) {
	s.calls.Add(1)
	s.started <- struct{}{}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return 1, nil
}

func waitStarted(t *testing.T, s *countingSyncer) {
	t.Helper()
	select {
	case <-s.started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sync to start")
	}
}

func TestCoordinatorCoalescesTriggers(t *testing.T) {
	syncer := newCountingSyncer(true)
	c := NewCoordinator(syncer, Config{Logger: zerolog.Nop()})
	c.Start(context.Background())
	defer c.Stop()

	// Start queues the first sync, which now blocks
	waitStarted(t, syncer)

	for i := 0; i < 5; i++ {
		c.Trigger()
	}
	syncer.release <- struct{}{}

	// Exactly one follow-up runs
	waitStarted(t, syncer)
	syncer.release <- struct{}{}

	select {
	case <-syncer.started:
		t.Fatal("unexpected third sync")
	case <-time.After(100 * time.Millisecond):
	}
	if got := syncer.calls.Load(); got != 2 {
		t.Errorf("sync calls = %d, want 2", got)
	}
}

func TestCoordinatorAfterWriteDebounces(t *testing.T) {
	syncer := newCountingSyncer(false)
	c := NewCoordinator(syncer, Config{Debounce: 30 * time.Millisecond, Logger: zerolog.Nop()})
	c.Start(context.Background())
	defer c.Stop()

	waitStarted(t, syncer)

	for i := 0; i < 10; i++ {
		c.AfterWrite()
		time.Sleep(time.Millisecond)
	}

	waitStarted(t, syncer)
	time.Sleep(100 * time.Millisecond)

	if got := syncer.calls.Load(); got != 2 {
		t.Errorf("sync calls = %d, want 2 (startup plus one debounced)", got)
	}
}

func TestCoordinatorPeriodic(t *testing.T) {
	syncer := newCountingSyncer(false)
	c := NewCoordinator(syncer, Config{Interval: 10 * time.Millisecond, Logger: zerolog.Nop()})
	c.Start(context.Background())
	defer c.Stop()

	for i := 0; i < 3; i++ {
		waitStarted(t, syncer)
	}
}

func TestCoordinatorFailuresAreSwallowed(t *testing.T) {
	done := make(chan struct{}, 4)
	syncer := SyncerFunc(func(context.Context) (uint64, error) {
		done <- struct{}{}
		return 0, dberr.NewSyncError(errors.New("offline"))
	})

	c := NewCoordinator(syncer, Config{Logger: zerolog.Nop()})
	c.Start(context.Background())
	defer c.Stop()

	<-done
	c.Trigger()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator stopped after a failed sync")
	}
}

func TestCoordinatorStopIsIdempotent(t *testing.T) {
	syncer := newCountingSyncer(true)
	c := NewCoordinator(syncer, Config{Logger: zerolog.Nop()})
	c.Stop()

	c.Start(context.Background())
	c.Start(context.Background())
	waitStarted(t, syncer)

	// Stop cancels the in-flight sync and waits for it
	c.Stop()
	c.Stop()

	if got := syncer.calls.Load(); got != 1 {
		t.Errorf("sync calls = %d, want 1", got)
	}
}
