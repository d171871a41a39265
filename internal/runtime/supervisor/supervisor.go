// Package supervisor manages goroutines tied to a shared context:
// named starts for logging, panic recovery, and timeout-aware waiting on
// shutdown.
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	logx "menfessbot/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger
	wg     sync.WaitGroup
}

func New(ctx context.Context, log logx.Logger) *Supervisor {
	if ctx == nil {
		ctx = context.Background()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cctx, cancel := context.WithCancel(ctx)
	return &Supervisor{ctx: cctx, cancel: cancel, log: log}
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Go starts a named goroutine under the supervisor. Panics are recovered
// and logged; they never take down the process.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("goroutine panicked",
					logx.String("name", name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
			}
		}()
		start := time.Now()
		s.log.Debug("goroutine started", logx.String("name", name))
		err := fn(s.ctx)
		if err != nil && s.ctx.Err() == nil {
			s.log.Warn("goroutine exited with error",
				logx.String("name", name),
				logx.Err(err),
				logx.Duration("ran", time.Since(start)),
			)
			return
		}
		s.log.Debug("goroutine stopped",
			logx.String("name", name),
			logx.Duration("ran", time.Since(start)),
		)
	}()
}

// Stop cancels the supervisor context and waits up to timeout for all
// goroutines to exit.
func (s *Supervisor) Stop(timeout time.Duration) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	if timeout <= 0 {
		<-done
		return nil
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("supervisor: %s wait timed out", timeout)
	}
}
