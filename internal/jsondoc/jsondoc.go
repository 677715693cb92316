// Package jsondoc reads and atomically replaces whole JSON documents.
package jsondoc

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kilianp07/homecharge/core/errs"
)

// Load decodes the document at path into v. A missing document is not an
// error: found is false and v is left untouched.
func Load(path string, v any) (found bool, err error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errs.E(errs.KindIO, "read "+path, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return true, errs.E(errs.KindCorrupt, "decode "+path, err)
	}
	return true, nil
}

// Save writes v to path through a temporary file in the same directory and
// renames it into place. On failure the temporary file is removed and the
// previous document is left as it was.
func Save(path string, v any) (err error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errs.E(errs.KindValidation, "encode "+path, err)
	}
	b = append(b, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.E(errs.KindIO, "mkdir "+dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errs.E(errs.KindIO, "create temp for "+path, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(b); err != nil {
		return errs.E(errs.KindIO, "write "+tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		return errs.E(errs.KindIO, "sync "+tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return errs.E(errs.KindIO, "close "+tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return errs.E(errs.KindIO, "chmod "+tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errs.E(errs.KindIO, "rename "+path, err)
	}
	committed = true
	return nil
}
