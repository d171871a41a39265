package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"menfessbot/internal/quota"
	"menfessbot/internal/transport"
	logx "menfessbot/pkg/logx"
)

// DefaultCeiling is the delivery size limit shared by the dispatcher and
// the direct path. Matches the transport's 50 MiB upload cap.
const DefaultCeiling = 50 * 1024 * 1024

const DefaultTimeout = 300 * time.Second

// Config for the dispatcher. Zero values fall back to defaults.
type Config struct {
	// MaxConcurrent caps fetch tool invocations across all users.
	MaxConcurrent int
	// Timeout is the wall-clock budget for the fetch step only.
	Timeout time.Duration
	// Ceiling is the maximum artifact size in bytes.
	Ceiling int64
	// ScratchRoot is where per-job scratch directories are created.
	// Empty means the OS temp dir.
	ScratchRoot string
}

// Request is one admitted-or-rejected fetch attempt.
type Request struct {
	UserID  int64
	URL     string
	Quality Quality
	// Reply is where the artifact is delivered.
	Reply transport.ChatTarget
}

// Dispatcher runs the external fetch pipeline with single-flight per
// user, a bounded global concurrency gate, a fetch timeout, output size
// validation and rollback-on-failure accounting.
//
// Submit blocks until the job reaches a terminal state; callers run it
// from their own goroutine (the bot router handles each update on one).
type Dispatcher struct {
	policy  *quota.AccessPolicy
	runner  Runner
	deliver transport.Deliverer
	log     logx.Logger

	sem     *semaphore.Weighted
	timeout time.Duration
	ceiling int64
	scratch string

	mu     sync.Mutex
	active map[int64]struct{}
}

func NewDispatcher(cfg Config, policy *quota.AccessPolicy, runner Runner, deliver transport.Deliverer, log logx.Logger) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = DefaultCeiling
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		policy:  policy,
		runner:  runner,
		deliver: deliver,
		log:     log,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		timeout: cfg.Timeout,
		ceiling: cfg.Ceiling,
		scratch: cfg.ScratchRoot,
		active:  make(map[int64]struct{}),
	}
}

// Active reports how many users currently hold a job.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

func (d *Dispatcher) admit(userID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.active[userID]; ok {
		return false
	}
	d.active[userID] = struct{}{}
	return true
}

func (d *Dispatcher) release(userID int64) {
	d.mu.Lock()
	delete(d.active, userID)
	d.mu.Unlock()
}

// Submit runs one fetch job to a terminal state. Denials and failures
// come back as the package's typed errors; on every failure path the
// reservation is rolled back and the scratch directory is removed.
func (d *Dispatcher) Submit(ctx context.Context, req Request) error {
	// Capability short-circuit comes before any reservation.
	if !d.runner.Supports(req.Quality) {
		return ErrCapabilityUnavailable
	}

	// Single-flight marker first, so a concurrent duplicate is rejected
	// before it can reach the ledger.
	if !d.admit(req.UserID) {
		return ErrAlreadyRunning
	}
	defer d.release(req.UserID)

	res, err := d.policy.Decide(ctx, req.UserID, quota.CategoryFetch)
	if err != nil {
		return err
	}

	j := &job{id: uuid.NewString(), userID: req.UserID, url: req.URL, log: d.log}
	j.to(StateAdmitted)

	if err := d.sem.Acquire(ctx, 1); err != nil {
		j.to(StateFailed)
		d.policy.Abort(context.WithoutCancel(ctx), res)
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer d.sem.Release(1)

	if err := d.run(ctx, j, req); err != nil {
		j.to(StateFailed)
		// Rollback must survive a canceled caller context.
		d.policy.Abort(context.WithoutCancel(ctx), res)
		return err
	}

	j.to(StateCompleted)
	if err := d.policy.Finish(ctx, res); err != nil {
		// Delivery already happened; the charge stands even if the
		// cooldown mark failed.
		d.log.Error("cooldown mark failed after delivery",
			logx.String("job", j.id), logx.Err(err))
	}
	return nil
}

func (d *Dispatcher) run(ctx context.Context, j *job, req Request) error {
	dir, err := os.MkdirTemp(d.scratch, "fetch-*")
	if err != nil {
		return fmt.Errorf("%w: scratch dir: %v", ErrFetchFailed, err)
	}
	// Scratch state never outlives the job, success or failure.
	defer os.RemoveAll(dir)

	j.to(StateFetching)
	fctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.runner.Fetch(fctx, req.URL, req.Quality, dir); err != nil {
		if errors.Is(fctx.Err(), context.DeadlineExceeded) {
			d.log.Warn("fetch timed out",
				logx.String("job", j.id),
				logx.String("url", req.URL),
				logx.Duration("timeout", d.timeout),
			)
			return ErrTimeout
		}
		d.log.Warn("fetch tool failed",
			logx.String("job", j.id),
			logx.String("url", req.URL),
			logx.Err(err),
		)
		return ErrFetchFailed
	}

	j.to(StateValidating)
	out, size, err := largestFile(dir)
	if err != nil {
		d.log.Warn("fetch produced no output",
			logx.String("job", j.id), logx.String("url", req.URL))
		return ErrFetchFailed
	}
	if size > d.ceiling {
		return &OversizedError{Size: size, Ceiling: d.ceiling}
	}

	j.to(StateDelivering)
	if _, err := d.deliver.SendFile(ctx, req.Reply, out, kindForPath(out), req.URL); err != nil {
		d.log.Error("delivery failed",
			logx.String("job", j.id),
			logx.String("file", out),
			logx.Err(err),
		)
		return ErrDeliveryFailed
	}
	return nil
}

// largestFile picks the biggest regular file under dir. The largest file
// is the final merged artifact; intermediates and partials are smaller.
func largestFile(dir string) (string, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, err
	}
	var best string
	var bestSize int64 = -1
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			best = filepath.Join(dir, e.Name())
			bestSize = info.Size()
		}
	}
	if best == "" {
		return "", 0, errors.New("no output files")
	}
	return best, bestSize, nil
}
