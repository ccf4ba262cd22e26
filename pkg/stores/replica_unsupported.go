//go:build !libsql

package stores

import "context"

func openReplica(context.Context, string, string, string) (Database, error) {
	return nil, ErrReplicaUnsupported
}
