package worker

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte("time\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestPruner_Prune(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 31, 12, 0, 0, 0, time.Local)

	touch(t, filepath.Join(dir, "g1_2024-03-01.csv"), now)                   // old by name
	touch(t, filepath.Join(dir, "g1_2024-03-30.csv"), now)                   // recent
	touch(t, filepath.Join(dir, "manual.csv"), now.AddDate(0, 0, -30))       // old by mtime
	touch(t, filepath.Join(dir, "notes.txt"), now.AddDate(0, 0, -30))        // not a report
	touch(t, filepath.Join(dir, "g2_2024-03-24.csv"), now.AddDate(0, 0, -7)) // just inside

	p := NewPruner(dir, 7*24*time.Hour)
	removed, err := p.Prune(now)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 files removed, got %d", removed)
	}

	for name, want := range map[string]bool{
		"g1_2024-03-01.csv": false,
		"g1_2024-03-30.csv": true,
		"manual.csv":        false,
		"notes.txt":         true,
		"g2_2024-03-24.csv": true,
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		if exists := err == nil; exists != want {
			t.Errorf("%s: exists=%v, want %v", name, exists, want)
		}
	}
}

func TestPruner_MissingDir(t *testing.T) {
	p := NewPruner(filepath.Join(t.TempDir(), "nope"), time.Hour)
	removed, err := p.Prune(time.Now())
	if err != nil || removed != 0 {
		t.Errorf("expected no-op, got %d, %v", removed, err)
	}
}
