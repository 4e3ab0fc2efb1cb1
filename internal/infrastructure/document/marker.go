package document

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/example/qmatic-scheduler/internal/pkg/clock"
)

// ResetMarker records when the last reset cycle finished.
type ResetMarker struct {
	Path  string
	Clock clock.Clock
}

// Last returns the recorded time. ok is false when no marker exists.
func (m ResetMarker) Last() (t time.Time, ok bool, err error) {
	raw, err := os.ReadFile(m.Path)
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "read reset marker %s", m.Path)
	}
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(string(raw))); err == nil {
		return t, true, nil
	}
	// markers written by other tools only carry an mtime
	fi, err := os.Stat(m.Path)
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "stat reset marker %s", m.Path)
	}
	return fi.ModTime(), true, nil
}

// Due reports whether a reset cycle should run: the marker is missing or
// at least interval old.
func (m ResetMarker) Due(interval time.Duration) (bool, error) {
	last, ok, err := m.Last()
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return m.Clock.Now().Sub(last) >= interval, nil
}

func (m ResetMarker) Touch() error {
	if err := os.MkdirAll(filepath.Dir(m.Path), 0o755); err != nil {
		return errors.Wrap(err, "create reset marker directory")
	}
	stamp := m.Clock.Now().UTC().Format(time.RFC3339) + "\n"
	return writeFileAtomic(m.Path, []byte(stamp), 0o644)
}
