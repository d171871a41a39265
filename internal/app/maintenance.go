package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"menfessbot/internal/quota"
	"menfessbot/internal/storage"
	logx "menfessbot/pkg/logx"
)

// Rows untouched for two full windows are safe to drop: any reservation
// they could still back has long expired.
const pruneAge = 2 * quota.Window

const scratchAge = 24 * time.Hour

// maintenance runs the periodic housekeeping jobs: pruning stale ledger
// rows and sweeping orphaned scratch directories left by a crash.
type maintenance struct {
	store    storage.Store
	scratch  string
	schedule string
	log      logx.Logger
	cron     *cron.Cron
}

func newMaintenance(store storage.Store, scratch, schedule string, log logx.Logger) *maintenance {
	return &maintenance{store: store, scratch: scratch, schedule: schedule, log: log}
}

func (m *maintenance) start() error {
	if strings.TrimSpace(m.schedule) == "" {
		m.log.Debug("maintenance schedule empty, skipping")
		return nil
	}
	m.cron = cron.New()
	if _, err := m.cron.AddFunc(m.schedule, m.run); err != nil {
		return err
	}
	m.cron.Start()
	m.log.Info("maintenance scheduled", logx.String("schedule", m.schedule))
	return nil
}

func (m *maintenance) stop() {
	if m.cron == nil {
		return
	}
	ctx := m.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(stopTimeout):
	}
}

func (m *maintenance) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	start := time.Now()
	n, err := m.store.PruneStale(ctx, start.Add(-pruneAge))
	if err != nil {
		m.log.Error("prune failed", logx.Err(err))
	} else if n > 0 {
		m.log.Info("pruned stale rows", logx.Int64("rows", n),
			logx.Duration("took", time.Since(start)))
	}

	m.sweepScratch()
}

// sweepScratch removes fetch scratch directories older than scratchAge.
// Normal jobs clean up after themselves; this catches leftovers from
// process crashes.
func (m *maintenance) sweepScratch() {
	root := m.scratch
	if root == "" {
		root = os.TempDir()
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-scratchAge)
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "fetch-") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(root, e.Name())
		if err := os.RemoveAll(path); err != nil {
			m.log.Warn("scratch sweep failed", logx.String("dir", path), logx.Err(err))
		} else {
			m.log.Info("removed orphaned scratch dir", logx.String("dir", path))
		}
	}
}
