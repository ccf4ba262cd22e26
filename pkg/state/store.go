// Package state holds the process-wide database handle. Every call that
// touches the connection runs under one exclusive guard, and calls made
// before a successful Init fail immediately instead of waiting.
package state

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/larderapp/larder/pkg/dberr"
	"github.com/larderapp/larder/pkg/query"
	"github.com/larderapp/larder/pkg/replication"
	"github.com/larderapp/larder/pkg/stores"
	"github.com/larderapp/larder/pkg/telemetry"
)

// Config configures a Store.
type Config struct {
	Manager   *stores.Manager
	Logger    zerolog.Logger
	Telemetry *telemetry.Telemetry
}

// Store owns the active database and connection.
type Store struct {
	manager *stores.Manager
	logger  zerolog.Logger
	tel     *telemetry.Telemetry

	// initMu serializes Init so two reconnects cannot interleave.
	initMu sync.Mutex

	mu          sync.Mutex
	handle      *stores.Handle
	initialized bool
}

// New creates an uninitialized Store.
func New(cfg Config) *Store {
	return &Store{
		manager: cfg.Manager,
		logger:  cfg.Logger.With().Str("component", "state").Logger(),
		tel:     telemetry.OrNop(cfg.Telemetry),
	}
}

// Init opens a database through the Manager and makes it current. Calling
// it again reconnects: the new pair replaces the old one, which is then
// closed. If the new open fails the previous pair stays in service.
func (s *Store) Init(ctx context.Context, remote stores.Remote) (stores.Outcome, error) {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	h, err := s.manager.Init(ctx, remote)
	if err != nil {
		return stores.Outcome{}, err
	}

	s.mu.Lock()
	old := s.handle
	s.handle = h
	s.initialized = true
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close previous database")
		} else {
			s.logger.Info().
				Str("previous_mode", string(old.Outcome.Mode)).
				Str("mode", string(h.Outcome.Mode)).
				Msg("Reconnected")
		}
	}

	return h.Outcome, nil
}

// Initialized reports whether Init has succeeded.
func (s *Store) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Mode returns the active connection mode, or false before Init.
func (s *Store) Mode() (stores.Mode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return "", false
	}
	return s.handle.Outcome.Mode, true
}

// Outcome returns how the active database was opened.
func (s *Store) Outcome() (stores.Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return stores.Outcome{}, false
	}
	return s.handle.Outcome, true
}

// Execute runs one statement on the shared connection.
func (s *Store) Execute(ctx context.Context, sqlText string, args []any) (res *query.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, dberr.NewNotInitializedError("execute")
	}

	op := s.tel.StartOperation(ctx, "db.execute", telemetry.AttrMode.String(string(s.handle.Outcome.Mode)))
	defer func() {
		s.tel.Metrics.RecordStatements("execute", 1, err, op.Elapsed())
		if res != nil {
			op.Span.SetAttributes(telemetry.AttrRowsAffected.Int64(int64(res.RowsAffected)))
		}
		op.End(err)
	}()

	return query.Execute(op.Ctx, s.handle.Conn, sqlText, args)
}

// Batch runs statements in order on the shared connection, stopping at the
// first failure. The guard is held for the whole batch.
func (s *Store) Batch(ctx context.Context, stmts []query.Statement) (results []*query.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, dberr.NewNotInitializedError("batch")
	}

	op := s.tel.StartOperation(ctx, "db.batch",
		telemetry.AttrMode.String(string(s.handle.Outcome.Mode)),
		telemetry.AttrStatements.Int(len(stmts)),
	)
	defer func() {
		s.tel.Metrics.RecordStatements("batch", len(stmts), err, op.Elapsed())
		op.End(err)
	}()

	return query.Batch(op.Ctx, s.handle.Conn, stmts)
}

// Sync pulls remote changes and returns the number of frames applied.
func (s *Store) Sync(ctx context.Context) (frames uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return 0, dberr.NewNotInitializedError("sync")
	}

	op := s.tel.StartOperation(ctx, "db.sync", telemetry.AttrMode.String(string(s.handle.Outcome.Mode)))
	defer func() { op.End(err) }()

	report, err := replication.Sync(op.Ctx, s.handle.Database)
	if dberr.Is(err, dberr.KindSync) && s.handle.Outcome.Mode == stores.ModeLocal {
		return 0, err
	}

	s.tel.Metrics.RecordSync(report.FramesSynced, err)
	if err != nil {
		_ = s.tel.Events.PublishSyncFailed(err.Error())
		return 0, err
	}

	op.Span.SetAttributes(telemetry.AttrFrames.Int64(int64(report.FramesSynced)))
	_ = s.tel.Events.PublishSyncCompleted(report.FramesSynced, op.Elapsed())
	return report.FramesSynced, nil
}

// Migrate applies the embedded schema migrations to the active database.
func (s *Store) Migrate(ctx context.Context) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return 0, dberr.NewNotInitializedError("migrate")
	}

	version, err := stores.Migrate(ctx, s.handle.Database.DB())
	if err != nil {
		return 0, err
	}
	s.logger.Info().Uint("version", version).Msg("Schema migrated")
	return version, nil
}

// Close releases the active database. The Store can be initialized again.
func (s *Store) Close() error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.initialized = false
	s.mu.Unlock()

	return h.Close()
}
