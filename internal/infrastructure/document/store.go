package document

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/jsonc"

	"github.com/example/qmatic-scheduler/internal/domain/booking"
	"github.com/example/qmatic-scheduler/internal/domain/watermark"
	"github.com/example/qmatic-scheduler/internal/internaltypes"
)

// FileStore keeps watermarks in the channels document itself. Every Set
// rewrites the whole document; fields it does not know about are kept.
// Comments in a JSONC source do not survive a rewrite.
type FileStore struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

var _ watermark.Store = (*FileStore)(nil)

func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

func (s *FileStore) Get(_ context.Context, k watermark.Key) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree, err := s.readTree()
	if err != nil {
		return "", err
	}
	svc, ok := findService(tree, k)
	if !ok {
		return "", internaltypes.Markf(internaltypes.ErrNotFound, "no service %s", k)
	}
	date, _ := svc["last_registered_date"].(string)
	return date, nil
}

func (s *FileStore) Set(_ context.Context, k watermark.Key, date string) error {
	if !booking.IsDate(date) {
		return internaltypes.Markf(internaltypes.ErrPersistence, "watermark %q is not YYYY-MM-DD", date)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tree, err := s.readTree()
	if err != nil {
		return err
	}
	svc, ok := findService(tree, k)
	if !ok {
		return internaltypes.Mark(internaltypes.Markf(internaltypes.ErrNotFound, "no service %s", k), internaltypes.ErrPersistence)
	}
	old, _ := svc["last_registered_date"].(string)
	if date <= old {
		s.logger.Debug("watermark not advanced", "key", k.String(), "current", old, "proposed", date)
		return nil
	}
	svc["last_registered_date"] = date

	data, err := encode(tree)
	if err != nil {
		return internaltypes.Mark(errors.Wrap(err, "encode channels document"), internaltypes.ErrPersistence)
	}
	if err := writeFileAtomic(s.path, data, modeOf(s.path, 0o644)); err != nil {
		return internaltypes.Mark(errors.Wrapf(err, "write %s", s.path), internaltypes.ErrPersistence)
	}
	s.logger.Info("watermark advanced", "key", k.String(), "from", old, "to", date)
	return nil
}

func (s *FileStore) List(_ context.Context) ([]watermark.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, internaltypes.Mark(errors.Wrapf(err, "read %s", s.path), internaltypes.ErrPersistence)
	}
	doc, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	var out []watermark.Entry
	for _, c := range doc.Channels {
		for _, svc := range c.Services {
			out = append(out, watermark.Entry{
				Key:  watermark.Key{ChannelID: string(c.ID), ServiceID: string(svc.ServiceID)},
				Date: svc.LastRegisteredDate,
			})
		}
	}
	return out, nil
}

func (s *FileStore) readTree() (map[string]any, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, internaltypes.Mark(errors.Wrapf(err, "read %s", s.path), internaltypes.ErrPersistence)
	}
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(raw)))
	dec.UseNumber()
	var tree map[string]any
	if err := dec.Decode(&tree); err != nil {
		return nil, internaltypes.Mark(errors.Wrapf(err, "parse %s", s.path), internaltypes.ErrPersistence)
	}
	return tree, nil
}

func findService(tree map[string]any, k watermark.Key) (map[string]any, bool) {
	channels, _ := tree["channels"].([]any)
	for _, c := range channels {
		ch, ok := c.(map[string]any)
		if !ok || textOf(ch["id"]) != k.ChannelID {
			continue
		}
		services, _ := ch["services"].([]any)
		for _, sv := range services {
			svc, ok := sv.(map[string]any)
			if ok && textOf(svc["service_id"]) == k.ServiceID {
				return svc, true
			}
		}
	}
	return nil, false
}

func encode(tree map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
