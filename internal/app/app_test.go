package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"menfessbot/internal/config"
	"menfessbot/internal/quota"
	"menfessbot/internal/storage"
	logx "menfessbot/pkg/logx"
)

func TestLimitsMapDefaults(t *testing.T) {
	t.Parallel()
	m, err := limitsMap(&config.Config{})
	if err != nil {
		t.Fatalf("limitsMap: %v", err)
	}
	if got := m[quota.CategoryFetch]; got.Daily != 2 || got.Cooldown != 30*time.Second {
		t.Fatalf("fetch = %+v", got)
	}
	if got := m[quota.CategoryTextPost]; got.Daily != 5 || got.Cooldown != 5*time.Second {
		t.Fatalf("text_post = %+v", got)
	}
}

func TestLimitsMapOverrides(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Limits.Fetch = config.CategoryLimit{DailyLimit: 9, Cooldown: "1m"}
	cfg.Limits.MediaPost = config.CategoryLimit{Cooldown: "3s"}

	m, err := limitsMap(cfg)
	if err != nil {
		t.Fatalf("limitsMap: %v", err)
	}
	if got := m[quota.CategoryFetch]; got.Daily != 9 || got.Cooldown != time.Minute {
		t.Fatalf("fetch = %+v", got)
	}
	// Partial override keeps the default daily limit.
	if got := m[quota.CategoryMediaPost]; got.Daily != 10 || got.Cooldown != 3*time.Second {
		t.Fatalf("media_post = %+v", got)
	}
}

func TestLimitsMapBadCooldown(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Limits.Fetch = config.CategoryLimit{Cooldown: "half an hour"}
	if _, err := limitsMap(cfg); err == nil {
		t.Fatal("expected error for invalid cooldown")
	}
}

func TestSweepScratchRemovesOnlyOldFetchDirs(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	oldDir := filepath.Join(root, "fetch-old")
	freshDir := filepath.Join(root, "fetch-fresh")
	otherDir := filepath.Join(root, "unrelated")
	for _, d := range []string{oldDir, freshDir, otherDir} {
		if err := os.Mkdir(d, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	stale := time.Now().Add(-scratchAge - time.Hour)
	if err := os.Chtimes(oldDir, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Chtimes(otherDir, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	m := newMaintenance(storage.NewMemory(), root, "", logx.Nop())
	m.sweepScratch()

	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Fatalf("old fetch dir should be removed, stat err = %v", err)
	}
	if _, err := os.Stat(freshDir); err != nil {
		t.Fatalf("fresh fetch dir should survive: %v", err)
	}
	if _, err := os.Stat(otherDir); err != nil {
		t.Fatalf("non-fetch dir should survive: %v", err)
	}
}
