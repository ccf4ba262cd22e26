// Package replication pulls remote changes into an embedded replica, either
// on demand or from a background Coordinator.
package replication

import (
	"context"

	"github.com/larderapp/larder/pkg/dberr"
	"github.com/larderapp/larder/pkg/stores"
)

// Sync runs one sync exchange on db. A local database fails with a sync
// error wrapping stores.ErrNotReplica; nothing is sent anywhere.
func Sync(ctx context.Context, db stores.Database) (stores.SyncReport, error) {
	if db.Mode() != stores.ModeReplica {
		return stores.SyncReport{}, dberr.New(dberr.KindSync, "sync", "database is not a replica", stores.ErrNotReplica)
	}

	report, err := db.Sync(ctx)
	if err != nil {
		return stores.SyncReport{}, dberr.NewSyncError(err)
	}
	return report, nil
}
