package stores

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// replicaMetadataSuffixes name the replica bookkeeping files kept next to the
// database file. The database itself and its -wal/-shm files are never touched.
var replicaMetadataSuffixes = []string{"-info", "-metadata", "-client_wal_index"}

// WipeReplicaMetadata deletes replica bookkeeping for the database at path.
// Missing files are not an error.
func WipeReplicaMetadata(path string) error {
	var errs []error
	for _, suffix := range replicaMetadataSuffixes {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", path+suffix, err))
		}
	}
	return errors.Join(errs...)
}
