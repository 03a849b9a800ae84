package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
)

// FileCache keeps the last good copy of each manifest on disk so a run can
// go ahead when the manifest host is unreachable.
type FileCache struct {
	Dir string
}

// Key derives the cache key for a manifest source.
func Key(source string) string {
	sum := sha1.Sum([]byte(source))
	return hex.EncodeToString(sum[:])
}

func (f *FileCache) Get(key string) ([]byte, error) {
	return os.ReadFile(f.path(key))
}

// Put replaces the cached copy. The write goes through a temp file so a
// reader never sees a partial manifest.
func (f *FileCache) Put(key string, data []byte) error {
	// Ensure the directory exists
	if err := os.MkdirAll(f.Dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.Dir, key+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path(key))
}

func (f *FileCache) Exists(key string) bool {
	_, err := os.Stat(f.path(key))
	return err == nil
}

func (f *FileCache) path(key string) string {
	return filepath.Join(f.Dir, key+".xml")
}
