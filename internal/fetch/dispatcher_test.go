package fetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"menfessbot/internal/quota"
	"menfessbot/internal/storage"
	"menfessbot/internal/transport"
	logx "menfessbot/pkg/logx"
)

// fakeRunner writes a fixed payload into the scratch dir, or blocks, or
// fails, depending on the knobs set per test.
type fakeRunner struct {
	payload []byte
	files   int
	err     error
	block   bool
	started chan struct{}

	mu   sync.Mutex
	dirs []string
}

func (r *fakeRunner) Supports(q Quality) bool { return q != QualityAudio }

func (r *fakeRunner) Fetch(ctx context.Context, url string, q Quality, dir string) error {
	r.mu.Lock()
	r.dirs = append(r.dirs, dir)
	r.mu.Unlock()
	if r.started != nil {
		close(r.started)
		r.started = nil
	}
	if r.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if r.err != nil {
		return r.err
	}
	n := r.files
	if n == 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		// Later files are smaller so index 0 is the expected pick.
		data := r.payload[:len(r.payload)-i]
		name := filepath.Join(dir, "out"+string(rune('a'+i))+".mp4")
		if err := os.WriteFile(name, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeRunner) lastDir() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.dirs) == 0 {
		return ""
	}
	return r.dirs[len(r.dirs)-1]
}

type fakeDeliverer struct {
	mu    sync.Mutex
	sent  []string
	kinds []transport.FileKind
	err   error
}

func (d *fakeDeliverer) SendFile(ctx context.Context, to transport.ChatTarget, path string, kind transport.FileKind, caption string) (transport.MessageRef, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return transport.MessageRef{}, d.err
	}
	d.sent = append(d.sent, path)
	d.kinds = append(d.kinds, kind)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func newTestPolicy(t *testing.T) (*quota.AccessPolicy, storage.Store) {
	t.Helper()
	store := storage.NewMemory()
	limits := quota.NewLimits(map[quota.Category]quota.Limit{
		quota.CategoryFetch: {Daily: 5, Cooldown: 0},
	})
	ledger := quota.NewLedger(store, limits, nil, logx.Nop())
	gate := quota.NewCooldownGate(store, limits, nil, logx.Nop())
	return quota.NewAccessPolicy(ledger, gate, nil), store
}

func usageCount(t *testing.T, store storage.Store, userID int64) int {
	t.Helper()
	rec, found, err := store.UsageState(context.Background(), userID, string(quota.CategoryFetch))
	if err != nil {
		t.Fatalf("usage state: %v", err)
	}
	if !found {
		return 0
	}
	return rec.Count
}

func TestSubmitSuccess(t *testing.T) {
	t.Parallel()
	policy, store := newTestPolicy(t)
	runner := &fakeRunner{payload: []byte("video-bytes")}
	deliver := &fakeDeliverer{}
	d := NewDispatcher(Config{ScratchRoot: t.TempDir()}, policy, runner, deliver, logx.Nop())

	err := d.Submit(context.Background(), Request{
		UserID: 7, URL: "https://example.com/v", Quality: QualityHigh,
		Reply: transport.ChatTarget{ChatID: 7},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(deliver.sent) != 1 {
		t.Fatalf("sent = %d files, want 1", len(deliver.sent))
	}
	if deliver.kinds[0] != transport.FileVideo {
		t.Fatalf("kind = %s, want video", deliver.kinds[0])
	}
	if usageCount(t, store, 7) != 1 {
		t.Fatalf("usage = %d, want 1 committed charge", usageCount(t, store, 7))
	}
	if _, err := os.Stat(runner.lastDir()); !os.IsNotExist(err) {
		t.Fatalf("scratch dir should be removed, stat err = %v", err)
	}
	if d.Active() != 0 {
		t.Fatalf("active = %d, want 0", d.Active())
	}
}

func TestSubmitPicksLargestFile(t *testing.T) {
	t.Parallel()
	policy, _ := newTestPolicy(t)
	runner := &fakeRunner{payload: []byte("0123456789"), files: 3}
	deliver := &fakeDeliverer{}
	d := NewDispatcher(Config{ScratchRoot: t.TempDir()}, policy, runner, deliver, logx.Nop())

	err := d.Submit(context.Background(), Request{
		UserID: 7, URL: "https://example.com/v", Reply: transport.ChatTarget{ChatID: 7},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := filepath.Base(deliver.sent[0]); got != "outa.mp4" {
		t.Fatalf("delivered %s, want the largest file outa.mp4", got)
	}
}

func TestSubmitSingleFlightPerUser(t *testing.T) {
	t.Parallel()
	policy, store := newTestPolicy(t)
	runner := &fakeRunner{block: true, started: make(chan struct{})}
	started := runner.started
	deliver := &fakeDeliverer{}
	d := NewDispatcher(Config{MaxConcurrent: 2, ScratchRoot: t.TempDir()}, policy, runner, deliver, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	first := make(chan error, 1)
	go func() {
		defer wg.Done()
		first <- d.Submit(ctx, Request{UserID: 7, URL: "https://example.com/a", Reply: transport.ChatTarget{ChatID: 7}})
	}()
	<-started

	// Same user while the first is in flight: rejected without queueing.
	err := d.Submit(ctx, Request{UserID: 7, URL: "https://example.com/b", Reply: transport.ChatTarget{ChatID: 7}})
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("duplicate submit err = %v, want ErrAlreadyRunning", err)
	}
	// The rejection must not have touched the ledger beyond the first job.
	if usageCount(t, store, 7) != 1 {
		t.Fatalf("usage = %d, want 1", usageCount(t, store, 7))
	}

	cancel()
	wg.Wait()
	if err := <-first; !errors.Is(err, ErrTimeout) && !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("first submit err = %v, want a failure after cancel", err)
	}

	// Terminal state clears the marker and rolls the charge back.
	if d.Active() != 0 {
		t.Fatalf("active = %d, want 0", d.Active())
	}
	if usageCount(t, store, 7) != 0 {
		t.Fatalf("usage = %d, want 0 after rollback", usageCount(t, store, 7))
	}
}

func TestSubmitDistinctUsersRunConcurrently(t *testing.T) {
	t.Parallel()
	policy, _ := newTestPolicy(t)
	runner := &fakeRunner{payload: []byte("x")}
	deliver := &fakeDeliverer{}
	d := NewDispatcher(Config{MaxConcurrent: 2, ScratchRoot: t.TempDir()}, policy, runner, deliver, logx.Nop())

	var wg sync.WaitGroup
	var failures atomic.Int32
	for _, uid := range []int64{1, 2, 3} {
		uid := uid
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.Submit(context.Background(), Request{
				UserID: uid, URL: "https://example.com/v", Reply: transport.ChatTarget{ChatID: uid},
			}); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()
	if failures.Load() != 0 {
		t.Fatalf("%d submits failed, want 0", failures.Load())
	}
	if len(deliver.sent) != 3 {
		t.Fatalf("sent = %d, want 3", len(deliver.sent))
	}
}

func TestSubmitOversizedOutput(t *testing.T) {
	t.Parallel()
	policy, store := newTestPolicy(t)
	runner := &fakeRunner{payload: []byte("way too many bytes")}
	deliver := &fakeDeliverer{}
	d := NewDispatcher(Config{Ceiling: 4, ScratchRoot: t.TempDir()}, policy, runner, deliver, logx.Nop())

	err := d.Submit(context.Background(), Request{
		UserID: 7, URL: "https://example.com/v", Reply: transport.ChatTarget{ChatID: 7},
	})
	if !IsOversized(err) {
		t.Fatalf("err = %v, want OversizedError", err)
	}
	if len(deliver.sent) != 0 {
		t.Fatal("oversized artifact must not be delivered")
	}
	if usageCount(t, store, 7) != 0 {
		t.Fatalf("usage = %d, want 0 (no net charge)", usageCount(t, store, 7))
	}
	if _, err := os.Stat(runner.lastDir()); !os.IsNotExist(err) {
		t.Fatalf("scratch dir should be removed, stat err = %v", err)
	}
}

func TestSubmitToolFailureRollsBack(t *testing.T) {
	t.Parallel()
	policy, store := newTestPolicy(t)
	runner := &fakeRunner{err: errors.New("exit status 1")}
	deliver := &fakeDeliverer{}
	d := NewDispatcher(Config{ScratchRoot: t.TempDir()}, policy, runner, deliver, logx.Nop())

	err := d.Submit(context.Background(), Request{
		UserID: 7, URL: "https://example.com/v", Reply: transport.ChatTarget{ChatID: 7},
	})
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("err = %v, want ErrFetchFailed", err)
	}
	if usageCount(t, store, 7) != 0 {
		t.Fatalf("usage = %d, want 0 after rollback", usageCount(t, store, 7))
	}
}

func TestSubmitDeliveryFailureRollsBack(t *testing.T) {
	t.Parallel()
	policy, store := newTestPolicy(t)
	runner := &fakeRunner{payload: []byte("ok")}
	deliver := &fakeDeliverer{err: errors.New("chat not found")}
	d := NewDispatcher(Config{ScratchRoot: t.TempDir()}, policy, runner, deliver, logx.Nop())

	err := d.Submit(context.Background(), Request{
		UserID: 7, URL: "https://example.com/v", Reply: transport.ChatTarget{ChatID: 7},
	})
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("err = %v, want ErrDeliveryFailed", err)
	}
	if usageCount(t, store, 7) != 0 {
		t.Fatalf("usage = %d, want 0 after rollback", usageCount(t, store, 7))
	}
}

func TestSubmitUnsupportedQuality(t *testing.T) {
	t.Parallel()
	policy, store := newTestPolicy(t)
	runner := &fakeRunner{}
	d := NewDispatcher(Config{ScratchRoot: t.TempDir()}, policy, runner, &fakeDeliverer{}, logx.Nop())

	err := d.Submit(context.Background(), Request{
		UserID: 7, URL: "https://example.com/v", Quality: QualityAudio,
		Reply: transport.ChatTarget{ChatID: 7},
	})
	if !errors.Is(err, ErrCapabilityUnavailable) {
		t.Fatalf("err = %v, want ErrCapabilityUnavailable", err)
	}
	// The capability check precedes admission and reservation.
	if usageCount(t, store, 7) != 0 {
		t.Fatalf("usage = %d, want 0", usageCount(t, store, 7))
	}
	if len(runner.dirs) != 0 {
		t.Fatal("runner must not have been invoked")
	}
}

func TestSubmitTimeout(t *testing.T) {
	t.Parallel()
	policy, store := newTestPolicy(t)
	runner := &fakeRunner{block: true}
	d := NewDispatcher(Config{Timeout: 20 * time.Millisecond, ScratchRoot: t.TempDir()}, policy, runner, &fakeDeliverer{}, logx.Nop())

	err := d.Submit(context.Background(), Request{
		UserID: 7, URL: "https://example.com/v", Reply: transport.ChatTarget{ChatID: 7},
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if usageCount(t, store, 7) != 0 {
		t.Fatalf("usage = %d, want 0 after rollback", usageCount(t, store, 7))
	}
	if d.Active() != 0 {
		t.Fatalf("active = %d, want 0", d.Active())
	}
}

func TestParseQuality(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    Quality
		wantErr bool
	}{
		{raw: "", want: QualityHigh},
		{raw: "high", want: QualityHigh},
		{raw: "LOW", want: QualityLow},
		{raw: "mp3", want: QualityAudio},
		{raw: "audio", want: QualityAudio},
		{raw: "4k", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseQuality(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseQuality(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseQuality(%q) = %q, %v, want %q", tt.raw, got, err, tt.want)
		}
	}
}

func TestKindForPath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path string
		want transport.FileKind
	}{
		{"a.mp4", transport.FileVideo},
		{"a.MKV", transport.FileVideo},
		{"a.mp3", transport.FileAudio},
		{"a.jpg", transport.FileImage},
		{"a.bin", transport.FileDocument},
	}
	for _, tt := range tests {
		if got := kindForPath(tt.path); got != tt.want {
			t.Fatalf("kindForPath(%q) = %s, want %s", tt.path, got, tt.want)
		}
	}
}
