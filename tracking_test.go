package main

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
)

func newTestFileTracker(t *testing.T) (*RollingTracker, string, string) {
	t.Helper()
	dir := t.TempDir()
	current := filepath.Join(dir, "state", "current.txt")
	prior := filepath.Join(dir, "state", "prior.txt")
	return NewFileTracker(current, prior, nil), current, prior
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	ids, err := parseIDLines(f)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return ids
}

func sortedIDs(s IDSet) []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func TestFileTrackerLoadMissingFiles(t *testing.T) {
	tracker, _, _ := newTestFileTracker(t)

	ids, err := tracker.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Load() = %v, want empty set", ids)
	}
}

func TestFileTrackerLoadUnionsPeriods(t *testing.T) {
	tracker, current, prior := newTestFileTracker(t)
	os.MkdirAll(filepath.Dir(current), 0o755)
	os.WriteFile(current, []byte("a\nb\n\n"), 0o644)
	os.WriteFile(prior, []byte("b\nc\n"), 0o644)

	ids, err := tracker.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []string{"a", "b", "c"}
	if got := sortedIDs(ids); !reflect.DeepEqual(got, want) {
		t.Errorf("Load() = %v, want %v", got, want)
	}
}

func TestFileTrackerRecordPublished(t *testing.T) {
	ctx := context.Background()
	tracker, current, _ := newTestFileTracker(t)
	if _, err := tracker.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if err := tracker.RecordPublished(ctx, "t1", "t2"); err != nil {
		t.Fatalf("RecordPublished() error = %v", err)
	}
	if err := tracker.RecordPublished(ctx, "t2", "t3", "t3", ""); err != nil {
		t.Fatalf("RecordPublished() error = %v", err)
	}

	want := []string{"t1", "t2", "t3"}
	if got := readLines(t, current); !reflect.DeepEqual(got, want) {
		t.Errorf("current file = %v, want %v", got, want)
	}

	// a later run sees the records
	next := NewFileTracker(current, filepath.Join(filepath.Dir(current), "prior.txt"), nil)
	ids, err := next.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := sortedIDs(ids); !reflect.DeepEqual(got, want) {
		t.Errorf("Load() after record = %v, want %v", got, want)
	}
}

func TestFileTrackerRotate(t *testing.T) {
	ctx := context.Background()
	tracker, current, prior := newTestFileTracker(t)
	os.MkdirAll(filepath.Dir(current), 0o755)
	os.WriteFile(prior, []byte("old\n"), 0o644)

	tracker.Load(ctx)
	tracker.RecordPublished(ctx, "t1", "t2")

	if err := tracker.Rotate(ctx); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	if got := readLines(t, prior); !reflect.DeepEqual(got, []string{"t1", "t2"}) {
		t.Errorf("prior after rotate = %v, want [t1 t2]", got)
	}
	if got := readLines(t, current); len(got) != 0 {
		t.Errorf("current after rotate = %v, want empty", got)
	}

	ids, _ := tracker.Load(ctx)
	if ids.Has("old") {
		t.Error("records older than the prior period should have rolled off")
	}
}

func TestFileTrackerRotateTwice(t *testing.T) {
	ctx := context.Background()
	tracker, current, prior := newTestFileTracker(t)

	tracker.Load(ctx)
	tracker.RecordPublished(ctx, "t1", "t2")

	for i := 0; i < 2; i++ {
		if err := tracker.Rotate(ctx); err != nil {
			t.Fatalf("Rotate() #%d error = %v", i+1, err)
		}
		if got := readLines(t, prior); !reflect.DeepEqual(got, []string{"t1", "t2"}) {
			t.Errorf("prior after rotate #%d = %v, want [t1 t2]", i+1, got)
		}
		if got := readLines(t, current); len(got) != 0 {
			t.Errorf("current after rotate #%d = %v, want empty", i+1, got)
		}
	}
}

func TestFileTrackerRotateWithoutLoad(t *testing.T) {
	ctx := context.Background()
	_, current, prior := newTestFileTracker(t)
	os.MkdirAll(filepath.Dir(current), 0o755)
	os.WriteFile(current, []byte("x\n"), 0o644)

	// a fresh tracker rotates what is on disk, not only what it recorded
	tracker := NewFileTracker(current, prior, nil)
	if err := tracker.Rotate(ctx); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if got := readLines(t, prior); !reflect.DeepEqual(got, []string{"x"}) {
		t.Errorf("prior = %v, want [x]", got)
	}
}

// memoryObjects is an in-memory blobObjects
type memoryObjects struct {
	data map[string][]byte
	puts int
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{data: make(map[string][]byte)}
}

func (m *memoryObjects) Get(ctx context.Context, name string) ([]byte, bool, error) {
	d, ok := m.data[name]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), d...), true, nil
}

func (m *memoryObjects) Put(ctx context.Context, name string, data []byte) error {
	m.puts++
	m.data[name] = append([]byte(nil), data...)
	return nil
}

func TestBlobTracker(t *testing.T) {
	ctx := context.Background()
	objects := newMemoryObjects()
	objects.data["tracking/current.txt"] = []byte("a\nb") // no trailing newline
	tracker := NewRollingTracker(NewBlobBackend(objects, "tracking/current.txt", "tracking/prior.txt"), nil)

	ids, err := tracker.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := sortedIDs(ids); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Load() = %v, want [a b]", got)
	}

	if err := tracker.RecordPublished(ctx, "b", "c"); err != nil {
		t.Fatalf("RecordPublished() error = %v", err)
	}
	if got := string(objects.data["tracking/current.txt"]); got != "a\nb\nc\n" {
		t.Errorf("current blob = %q, want %q", got, "a\nb\nc\n")
	}

	if err := tracker.Rotate(ctx); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if got := string(objects.data["tracking/prior.txt"]); got != "a\nb\nc\n" {
		t.Errorf("prior blob = %q, want %q", got, "a\nb\nc\n")
	}
	if got := string(objects.data["tracking/current.txt"]); got != "" {
		t.Errorf("current blob = %q, want empty", got)
	}

	if err := tracker.Rotate(ctx); err != nil {
		t.Fatalf("second Rotate() error = %v", err)
	}
	if got := string(objects.data["tracking/prior.txt"]); got != "a\nb\nc\n" {
		t.Errorf("prior blob after second rotate = %q, want unchanged", got)
	}
}
