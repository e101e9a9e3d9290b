package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	TempSuffix   = ".part"
	LedgerSuffix = ".ledger"
)

// TempPath returns the in-progress file for dest.
func TempPath(dest string) string {
	return dest + TempSuffix
}

// LedgerPath returns the resume ledger for dest.
func LedgerPath(dest string) string {
	return dest + LedgerSuffix
}

// OSFileSystem implements artifact file handling using OS file operations
type OSFileSystem struct{}

// NewOSFileSystem creates a new OS filesystem
func NewOSFileSystem() *OSFileSystem {
	return &OSFileSystem{}
}

// OpenPartial opens or creates the temp file and sizes it to size when size is known.
// existed reports whether a previous attempt left the file behind.
func (fs *OSFileSystem) OpenPartial(path string, size int64) (f *os.File, existed bool, err error) {
	if err := fs.EnsureDirectory(filepath.Dir(path)); err != nil {
		return nil, false, err
	}

	existed, err = fs.FileExists(path)
	if err != nil {
		return nil, false, err
	}

	f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, false, err
	}

	if size > 0 {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, false, err
		}

		if info.Size() != size {
			if err := f.Truncate(size); err != nil {
				f.Close()
				return nil, false, fmt.Errorf("failed to pre-allocate %d bytes: %w", size, err)
			}
		}
	}

	return f, existed, nil
}

// WriteFileAtomic replaces path with data through a temp file and rename,
// so readers observe either the old or the new content.
func (fs *OSFileSystem) WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fs.EnsureDirectory(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Publish atomically renames the verified temp file onto dest and syncs the directory.
func (fs *OSFileSystem) Publish(tempPath, dest string) error {
	if err := os.Rename(tempPath, dest); err != nil {
		return err
	}

	// Directory fsync is best effort, not every platform supports it.
	if dir, err := os.Open(filepath.Dir(dest)); err == nil {
		_ = dir.Sync()
		dir.Close()
	}

	return nil
}

// DeleteFile deletes a file, ignoring files that do not exist
func (fs *OSFileSystem) DeleteFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// EnsureDirectory ensures a directory exists
func (fs *OSFileSystem) EnsureDirectory(path string) error {
	return os.MkdirAll(path, 0o755)
}

// FileExists checks if a file exists
func (fs *OSFileSystem) FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// GetFileInfo gets file info
func (fs *OSFileSystem) GetFileInfo(path string) (os.FileInfo, error) {
	return os.Stat(path)
}
