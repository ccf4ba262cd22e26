//go:build libsql

package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tursodatabase/go-libsql"
)

// ReplicaDatabase is a libSQL embedded replica: a local file that pulls
// frames from a remote primary on Sync.
type ReplicaDatabase struct {
	connector *libsql.Connector
	db        *sql.DB
	path      string
	url       string
}

func openReplica(ctx context.Context, path, url, authToken string) (Database, error) {
	connector, err := libsql.NewEmbeddedReplicaConnector(path, url, libsql.WithAuthToken(authToken))
	if err != nil {
		return nil, fmt.Errorf("failed to create replica connector: %w", err)
	}

	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = connector.Close()
		return nil, fmt.Errorf("failed to ping replica: %w", err)
	}

	return &ReplicaDatabase{
		connector: connector,
		db:        db,
		path:      path,
		url:       url,
	}, nil
}

// Mode implements Database.
func (r *ReplicaDatabase) Mode() Mode { return ModeReplica }

// Path implements Database.
func (r *ReplicaDatabase) Path() string { return r.path }

// DB implements Database.
func (r *ReplicaDatabase) DB() *sql.DB { return r.db }

// Connect implements Database.
func (r *ReplicaDatabase) Connect(ctx context.Context) (*sql.Conn, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire replica connection: %w", err)
	}
	return conn, nil
}

// Sync pulls pending frames from the primary.
func (r *ReplicaDatabase) Sync(context.Context) (SyncReport, error) {
	rep, err := r.connector.Sync()
	if err != nil {
		return SyncReport{}, err
	}
	return SyncReport{
		FrameNo:      uint64(rep.FrameNo),
		FramesSynced: uint64(rep.FramesSynced),
	}, nil
}

// Close closes the pool, then the connector.
func (r *ReplicaDatabase) Close() error {
	return errors.Join(r.db.Close(), r.connector.Close())
}
