package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Pruner deletes report files older than the retention period.
type Pruner struct {
	dir       string
	retention time.Duration
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker for the CSV files in dir.
func NewPruner(dir string, retention time.Duration) *Pruner {
	return &Pruner{
		dir:       dir,
		retention: retention,
		log:       slog.Default(),
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 || p.dir == "" {
		return // Retention disabled
	}

	// Check at 10% of the retention period, between one minute and one hour.
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.prune()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune()
		}
	}
}

func (p *Pruner) prune() {
	removed, err := p.Prune(time.Now())
	if err != nil {
		p.log.Error("Failed to prune reports", "dir", p.dir, "error", err)
		return
	}
	if removed > 0 {
		p.log.Info("Pruned old reports", "dir", p.dir, "removed", removed)
	}
}

// Prune removes report files whose day is older than now minus retention
// and returns how many were removed.
func (p *Pruner) Prune(now time.Time) (int, error) {
	entries, err := os.ReadDir(p.dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read report dir: %w", err)
	}

	threshold := now.Add(-p.retention)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".csv" {
			continue
		}
		day, ok := reportDay(e)
		if !ok || !day.Before(threshold) {
			continue
		}
		if err := os.Remove(filepath.Join(p.dir, e.Name())); err != nil {
			return removed, fmt.Errorf("remove %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// reportDay reads the day from "<source>_<YYYY-MM-DD>.csv", falling back to
// the modification time. The day counts as ended at its last instant.
func reportDay(e os.DirEntry) (time.Time, bool) {
	name := strings.TrimSuffix(e.Name(), ".csv")
	if i := strings.LastIndexByte(name, '_'); i >= 0 {
		if day, err := time.ParseInLocation(time.DateOnly, name[i+1:], time.Local); err == nil {
			return day.AddDate(0, 0, 1), true
		}
	}
	info, err := e.Info()
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}
