package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/larderapp/larder/pkg/dberr"
	"github.com/larderapp/larder/pkg/telemetry"
)

const (
	// DefaultFileName is the database file created inside the data directory.
	DefaultFileName = "local.db"
	// DefaultAttempts is the number of replica connection rounds.
	DefaultAttempts = 3
	// DefaultRetryDelay is the pause between rounds.
	DefaultRetryDelay = 2 * time.Second
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	DataDir  string
	FileName string

	// Attempts is the number of rounds. Every URL variant is tried once per round.
	Attempts int

	// RetryDelay is the fixed wait between rounds. There is no wait after the last.
	RetryDelay time.Duration

	Driver    Driver
	Logger    zerolog.Logger
	Telemetry *telemetry.Telemetry
}

// Outcome records how Init reached its database.
type Outcome struct {
	Mode Mode   `json:"mode"`
	Path string `json:"path"`

	// URL is the variant that connected. Empty in local mode.
	URL string `json:"url,omitempty"`

	// Round is the 1-based round that connected. Zero in local mode.
	Round int `json:"round,omitempty"`

	// Attempts counts every replica open that was tried.
	Attempts int `json:"attempts"`

	// FellBack is set when a replica was requested but a local database was opened.
	FellBack  bool  `json:"fell_back"`
	RemoteErr error `json:"-"`

	// InitialSync is the report of the sync run right after connecting.
	InitialSync SyncReport `json:"initial_sync"`
	SyncErr     error      `json:"-"`
}

// Handle is a database plus the one connection statements run on.
type Handle struct {
	Database Database
	Conn     *sql.Conn
	Outcome  Outcome
}

// Close releases the connection, then the database.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	var errs []error
	if h.Conn != nil {
		errs = append(errs, h.Conn.Close())
	}
	if h.Database != nil {
		errs = append(errs, h.Database.Close())
	}
	return errors.Join(errs...)
}

// Manager produces a live Handle, preferring an embedded replica and
// falling back to a local database.
type Manager struct {
	cfg    ManagerConfig
	logger zerolog.Logger
	tel    *telemetry.Telemetry
}

// NewManager creates a Manager, filling unset config fields with defaults.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.FileName == "" {
		cfg.FileName = DefaultFileName
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.Driver == nil {
		cfg.Driver = SQLDriver{}
	}

	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "connection_manager").Logger(),
		tel:    telemetry.OrNop(cfg.Telemetry),
	}
}

// Path is the database file location.
func (m *Manager) Path() string {
	return filepath.Join(m.cfg.DataDir, m.cfg.FileName)
}

// Init opens the database. With both a URL and token it tries the replica
// first; otherwise, or once every round fails, it opens the local file at
// the same path. Only data directory and local open failures are returned.
func (m *Manager) Init(ctx context.Context, remote Remote) (handle *Handle, err error) {
	mode := remote.Mode()
	op := m.tel.StartOperation(ctx, "db.init", telemetry.AttrMode.String(string(mode)))
	defer func() { op.End(err) }()

	if err := os.MkdirAll(m.cfg.DataDir, 0o700); err != nil {
		return nil, dberr.NewDataDirError(m.cfg.DataDir, err)
	}

	path := m.Path()
	outcome := Outcome{Mode: ModeLocal, Path: path}

	if mode == ModeReplica {
		h, err := m.connectReplica(op.Ctx, path, remote, &outcome)
		if err == nil {
			m.initialSync(op.Ctx, h)
			m.finish(h, op)
			return h, nil
		}

		outcome.FellBack = true
		outcome.RemoteErr = err
		m.logger.Warn().Err(err).
			Int("attempts", outcome.Attempts).
			Str("path", path).
			Msg("Replica unavailable, falling back to local database")
		m.tel.Metrics.RecordFallback()
		_ = m.tel.Events.PublishFallback(outcome.Attempts, err.Error())
	}

	// A cancelled init still has to leave a working database behind
	h, err := m.openLocal(context.WithoutCancel(op.Ctx), path)
	if err != nil {
		return nil, err
	}
	h.Outcome.Attempts = outcome.Attempts
	h.Outcome.FellBack = outcome.FellBack
	h.Outcome.RemoteErr = outcome.RemoteErr

	m.finish(h, op)
	return h, nil
}

// connectReplica runs the retry rounds. Each round wipes stale metadata and
// tries every URL variant before waiting.
func (m *Manager) connectReplica(ctx context.Context, path string, remote Remote, outcome *Outcome) (*Handle, error) {
	variants := URLVariants(remote.URL)
	round := 0

	attemptRound := func() (*Handle, error) {
		round++
		var errs []error
		for _, url := range variants {
			outcome.Attempts++

			if err := WipeReplicaMetadata(path); err != nil {
				m.logger.Warn().Err(err).Msg("Failed to wipe replica metadata")
			}

			h, err := m.openReplica(ctx, path, url, remote.AuthToken, round)
			m.tel.Metrics.RecordConnectAttempt(scheme(url), err == nil)
			if err == nil {
				h.Outcome.Round = round
				h.Outcome.Attempts = outcome.Attempts
				m.logger.Info().
					Int("round", round).
					Int("attempts", outcome.Attempts).
					Str("url", url).
					Msg("Connected to replica")
				return h, nil
			}

			m.logger.Warn().Err(err).
				Int("round", round).
				Str("url", url).
				Msg("Replica connection attempt failed")
			errs = append(errs, err)
		}
		return nil, errors.Join(errs...)
	}

	h, err := backoff.Retry(ctx, attemptRound,
		backoff.WithBackOff(backoff.NewConstantBackOff(m.cfg.RetryDelay)),
		backoff.WithMaxTries(uint(m.cfg.Attempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (m *Manager) openReplica(ctx context.Context, path, url, token string, round int) (h *Handle, err error) {
	op := m.tel.StartOperation(ctx, "db.connect",
		telemetry.AttrSyncURL.String(url),
		telemetry.AttrRound.Int(round),
	)
	defer func() { op.End(err) }()

	db, err := m.cfg.Driver.OpenReplica(op.Ctx, path, url, token)
	if err != nil {
		return nil, dberr.NewRemoteConnectError(url, err)
	}

	conn, err := db.Connect(op.Ctx)
	if err != nil {
		_ = db.Close()
		return nil, dberr.NewRemoteConnectError(url, err)
	}

	return &Handle{
		Database: db,
		Conn:     conn,
		Outcome: Outcome{
			Mode: ModeReplica,
			Path: path,
			URL:  url,
		},
	}, nil
}

func (m *Manager) openLocal(ctx context.Context, path string) (*Handle, error) {
	db, err := m.cfg.Driver.OpenLocal(ctx, path)
	if err != nil {
		return nil, dberr.NewLocalOpenError(path, err)
	}

	conn, err := db.Connect(ctx)
	if err != nil {
		_ = db.Close()
		return nil, dberr.NewLocalOpenError(path, err)
	}

	return &Handle{
		Database: db,
		Conn:     conn,
		Outcome: Outcome{
			Mode: ModeLocal,
			Path: path,
		},
	}, nil
}

// initialSync pulls once after connecting. Failure leaves the replica usable
// with whatever is already on disk.
func (m *Manager) initialSync(ctx context.Context, h *Handle) {
	report, err := h.Database.Sync(ctx)
	m.tel.Metrics.RecordSync(report.FramesSynced, err)
	if err != nil {
		h.Outcome.SyncErr = dberr.NewSyncError(err)
		m.logger.Warn().Err(err).Msg("Initial sync failed, continuing with local replica data")
		_ = m.tel.Events.PublishSyncFailed(err.Error())
		return
	}

	h.Outcome.InitialSync = report
	m.logger.Info().
		Uint64("frames_synced", report.FramesSynced).
		Uint64("frame_no", report.FrameNo).
		Msg("Initial sync completed")
}

func (m *Manager) finish(h *Handle, op *telemetry.Operation) {
	mode := string(h.Outcome.Mode)
	elapsed := op.Elapsed()
	m.tel.Metrics.RecordInit(mode, elapsed)
	_ = m.tel.Events.PublishConnected(mode, h.Outcome.Path, h.Outcome.URL)
	m.logger.Info().
		Str("mode", mode).
		Str("path", h.Outcome.Path).
		Bool("fell_back", h.Outcome.FellBack).
		Dur("duration", elapsed).
		Msg("Database initialized")
}

// String renders the outcome for logs and CLI output.
func (o Outcome) String() string {
	if o.Mode == ModeReplica {
		return fmt.Sprintf("replica %s (round %d, %d attempts)", o.URL, o.Round, o.Attempts)
	}
	if o.FellBack {
		return fmt.Sprintf("local %s (fallback after %d attempts)", o.Path, o.Attempts)
	}
	return fmt.Sprintf("local %s", o.Path)
}
