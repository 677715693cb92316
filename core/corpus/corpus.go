// Package corpus stores historical session records as one JSON file per
// session under <root>/YYYY/MM/DD/<session-id>.json.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kilianp07/homecharge/core/errs"
	"github.com/kilianp07/homecharge/core/model"
	"github.com/kilianp07/homecharge/internal/jsondoc"
)

// Dir is a corpus rooted at a directory.
type Dir struct {
	Root string
}

// New returns the corpus rooted at root.
func New(root string) Dir { return Dir{Root: root} }

// Walk calls fn for every record file in lexical path order, which is also
// chronological. An error returned by fn stops the walk and is returned.
// A missing root is reported as KindNoData.
func (d Dir) Walk(ctx context.Context, fn func(path string) error) error {
	info, err := os.Stat(d.Root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return errs.E(errs.KindNoData, "corpus.walk", fmt.Errorf("%s: %w", d.Root, err))
	case err != nil:
		return errs.E(errs.KindIO, "corpus.walk", err)
	case !info.IsDir():
		return errs.Errorf(errs.KindIO, "corpus.walk", "%s is not a directory", d.Root)
	}
	return filepath.WalkDir(d.Root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			if path == d.Root {
				return errs.E(errs.KindIO, "corpus.walk", err)
			}
			// unreadable subdirectory: skip it, keep walking
			if e != nil && e.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".") {
			return nil
		}
		return fn(path)
	})
}

// Read decodes one record. The session id defaults to the file name when
// the record omits it.
func (d Dir) Read(path string) (model.SessionRecord, error) {
	var rec model.SessionRecord
	found, err := jsondoc.Load(path, &rec)
	if err != nil {
		return rec, err
	}
	if !found {
		return rec, errs.Errorf(errs.KindNoData, "corpus.read", "%s does not exist", path)
	}
	if rec.SessionID == "" {
		rec.SessionID = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	return rec, nil
}

// PathFor returns where a record for sessionID collected on day is stored.
func (d Dir) PathFor(sessionID string, day time.Time) string {
	return filepath.Join(d.Root,
		fmt.Sprintf("%04d", day.Year()),
		fmt.Sprintf("%02d", int(day.Month())),
		fmt.Sprintf("%02d", day.Day()),
		sessionID+".json")
}

// Write stores rec under the calendar day of day and returns its path.
func (d Dir) Write(rec model.SessionRecord, day time.Time) (string, error) {
	if rec.SessionID == "" || strings.ContainsAny(rec.SessionID, `/\`) {
		return "", errs.Errorf(errs.KindValidation, "corpus.write", "invalid session id %q", rec.SessionID)
	}
	path := d.PathFor(rec.SessionID, day)
	if err := jsondoc.Save(path, rec); err != nil {
		return "", err
	}
	return path, nil
}

// Find locates the record of sessionID anywhere in the corpus.
func (d Dir) Find(ctx context.Context, sessionID string) (string, error) {
	var found string
	stop := errors.New("found")
	err := d.Walk(ctx, func(path string) error {
		if filepath.Base(path) == sessionID+".json" {
			found = path
			return stop
		}
		return nil
	})
	if err != nil && !errors.Is(err, stop) {
		return "", err
	}
	if found == "" {
		return "", errs.Errorf(errs.KindNoData, "corpus.find", "session %s not in corpus", sessionID)
	}
	return found, nil
}
