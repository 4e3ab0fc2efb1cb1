package document

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// writeFileAtomic writes data next to path, fsyncs it and renames it into
// place, so readers see either the old or the new content.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	file, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temporary file")
	}
	temporaryPath := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return errors.Wrap(err, "write temporary file")
	}
	if err := file.Chmod(perm); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return errors.Wrap(err, "chmod temporary file")
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return errors.Wrap(err, "sync temporary file")
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return errors.Wrap(err, "close temporary file")
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return errors.Wrap(err, "rename into place")
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

func modeOf(path string, def os.FileMode) os.FileMode {
	if fi, err := os.Stat(path); err == nil {
		return fi.Mode().Perm()
	}
	return def
}
