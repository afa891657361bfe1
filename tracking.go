package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// TrackingStore persists the IDs of published tracks across runs in two
// generations, current and prior, whose union is the exclusion set.
type TrackingStore interface {
	Load(ctx context.Context) (IDSet, error)
	RecordPublished(ctx context.Context, ids ...string) error
	Rotate(ctx context.Context) error
}

// Period names a tracking generation
type Period string

const (
	PeriodCurrent Period = "current"
	PeriodPrior   Period = "prior"
)

// periodBackend stores the raw ID list of each period. Read returns an
// empty list, not an error, for a period that was never written.
type periodBackend interface {
	Read(ctx context.Context, period Period) ([]string, error)
	Append(ctx context.Context, period Period, ids []string) error
	Replace(ctx context.Context, period Period, ids []string) error
}

// RollingTracker keeps both periods in memory for the run and writes
// through to its backend at each checkpoint.
type RollingTracker struct {
	backend periodBackend
	current IDSet
	prior   IDSet
	logger  *zap.Logger
}

func NewRollingTracker(backend periodBackend, logger *zap.Logger) *RollingTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RollingTracker{
		backend: backend,
		current: NewIDSet(),
		prior:   NewIDSet(),
		logger:  logger,
	}
}

// Load reads both periods and returns their union
func (t *RollingTracker) Load(ctx context.Context) (IDSet, error) {
	current, err := t.backend.Read(ctx, PeriodCurrent)
	if err != nil {
		return nil, fmt.Errorf("reading current tracking period: %w", err)
	}
	prior, err := t.backend.Read(ctx, PeriodPrior)
	if err != nil {
		return nil, fmt.Errorf("reading prior tracking period: %w", err)
	}

	t.current = NewIDSet(current...)
	t.prior = NewIDSet(prior...)

	t.logger.Info("Loaded tracking records",
		zap.Int("current", len(t.current)),
		zap.Int("prior", len(t.prior)))
	return t.current.Union(t.prior), nil
}

// RecordPublished appends IDs to the current period. IDs already recorded
// in the current period are not written again.
func (t *RollingTracker) RecordPublished(ctx context.Context, ids ...string) error {
	fresh := make([]string, 0, len(ids))
	seen := NewIDSet()
	for _, id := range ids {
		if id == "" || t.current.Has(id) || seen.Has(id) {
			continue
		}
		seen.Add(id)
		fresh = append(fresh, id)
	}
	if len(fresh) == 0 {
		return nil
	}

	if err := t.backend.Append(ctx, PeriodCurrent, fresh); err != nil {
		return fmt.Errorf("recording %d published tracks: %w", len(fresh), err)
	}
	for _, id := range fresh {
		t.current.Add(id)
	}
	return nil
}

// Rotate moves the current period into the prior one and clears current.
// An empty current period leaves the prior period untouched, so rotating
// twice in a row is harmless.
func (t *RollingTracker) Rotate(ctx context.Context) error {
	current, err := t.backend.Read(ctx, PeriodCurrent)
	if err != nil {
		return fmt.Errorf("reading current tracking period: %w", err)
	}

	if len(current) > 0 {
		// prior is written before current is cleared so a crash in between
		// only leaves the same IDs in both periods
		if err := t.backend.Replace(ctx, PeriodPrior, current); err != nil {
			return fmt.Errorf("writing prior tracking period: %w", err)
		}
		t.prior = NewIDSet(current...)
	}
	if err := t.backend.Replace(ctx, PeriodCurrent, nil); err != nil {
		return fmt.Errorf("clearing current tracking period: %w", err)
	}
	t.current = NewIDSet()

	t.logger.Info("Rotated tracking records",
		zap.Int("prior", len(t.prior)),
		zap.Bool("prior_replaced", len(current) > 0))
	return nil
}

// FileBackend stores each period as a text file with one ID per line
type FileBackend struct {
	paths map[Period]string
}

func NewFileBackend(currentPath, priorPath string) *FileBackend {
	return &FileBackend{paths: map[Period]string{
		PeriodCurrent: currentPath,
		PeriodPrior:   priorPath,
	}}
}

// NewFileTracker is a RollingTracker over plain-text files
func NewFileTracker(currentPath, priorPath string, logger *zap.Logger) *RollingTracker {
	return NewRollingTracker(NewFileBackend(currentPath, priorPath), logger)
}

func (b *FileBackend) Read(ctx context.Context, period Period) ([]string, error) {
	f, err := os.Open(b.paths[period])
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return parseIDLines(f)
}

func (b *FileBackend) Append(ctx context.Context, period Period, ids []string) error {
	path := b.paths[period]
	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(formatIDLines(ids)); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Replace overwrites the period through a temp file and rename
func (b *FileBackend) Replace(ctx context.Context, period Period, ids []string) error {
	path := b.paths[period]
	if err := ensureDir(path); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(formatIDLines(ids)); err != nil {
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
	return os.Rename(tmp.Name(), path)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func parseIDLines(r io.Reader) ([]string, error) {
	var ids []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if id := strings.TrimSpace(scanner.Text()); id != "" {
			ids = append(ids, id)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func formatIDLines(ids []string) []byte {
	var buf bytes.Buffer
	for _, id := range ids {
		buf.WriteString(id)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
