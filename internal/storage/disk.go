package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// FootprintBytes returns the on-disk size of the SQLite database at dbPath, including
// its WAL and shared-memory sidecar files, plus any extra paths (files or directories).
// Missing paths contribute 0.
func FootprintBytes(dbPath string, extra ...string) (int64, error) {
	paths := append([]string{dbPath, dbPath + "-wal", dbPath + "-shm"}, extra...)
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		n, err := pathSize(p)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func pathSize(p string) (int64, error) {
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
