package stores

import (
	"context"
	"database/sql"
	"errors"
)

// Mode is how the database was opened. It is fixed at init.
type Mode string

const (
	// ModeLocal is a plain on-disk SQLite database.
	ModeLocal Mode = "local"
	// ModeReplica is a local copy kept in step with a remote libSQL primary.
	ModeReplica Mode = "replica"
)

var (
	// ErrNotReplica is returned by Sync on a local database.
	ErrNotReplica = errors.New("database is not a replica")

	// ErrReplicaUnsupported is returned when the binary was built without
	// embedded replica support.
	ErrReplicaUnsupported = errors.New("embedded replica support not compiled in (build with -tags libsql)")
)

// Remote identifies the primary an embedded replica follows.
type Remote struct {
	URL       string `json:"url,omitempty" yaml:"url,omitempty"`
	AuthToken string `json:"auth_token,omitempty" yaml:"auth_token,omitempty"`
}

// Mode reports ModeReplica only when both URL and token are present.
func (r Remote) Mode() Mode {
	if r.URL != "" && r.AuthToken != "" {
		return ModeReplica
	}
	return ModeLocal
}

// SyncReport is the outcome of one sync exchange.
type SyncReport struct {
	FrameNo      uint64 `json:"frame_no"`
	FramesSynced uint64 `json:"frames_synced"`
}

// Database is an open database handle.
type Database interface {
	Mode() Mode
	Path() string

	// DB is the underlying pool, used by migrations.
	DB() *sql.DB

	// Connect pins one connection from the pool.
	Connect(ctx context.Context) (*sql.Conn, error)

	// Sync pulls remote changes into the replica. Local databases return ErrNotReplica.
	Sync(ctx context.Context) (SyncReport, error)

	Close() error
}

// Driver opens databases. The Manager depends on this rather than on a
// concrete engine so the remote can be scripted in tests.
type Driver interface {
	OpenLocal(ctx context.Context, path string) (Database, error)
	OpenReplica(ctx context.Context, path, url, authToken string) (Database, error)
}
