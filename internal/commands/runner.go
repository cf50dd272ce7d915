package commands

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/vpnshift/vpnshift/internal/log"
)

// RunnerConfig tunes one RestartableRunner.
type RunnerConfig struct {
	// Name identifies the supervised task in log messages.
	Name string
	// MaxRestarts caps restarts after failures. Zero means unlimited.
	MaxRestarts int
	// RestartBackoff is the initial delay before a restart (default: 1s).
	RestartBackoff time.Duration
	// MaxBackoff caps the exponential backoff growth (default: 30s).
	MaxBackoff time.Duration
}

// RestartableRunner supervises a long-running function: it restarts the
// function after failures with exponential backoff and turns panics into
// restarts instead of process crashes. A clean (nil) return ends the
// supervision.
type RestartableRunner struct {
	config  RunnerConfig
	runFunc func(ctx context.Context) error

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	lastErr  error
	restarts int
}

// NewRestartableRunner creates a runner for runFunc. The function must
// return when its context is cancelled; that return is treated as clean
// regardless of the error value.
func NewRestartableRunner(config RunnerConfig, runFunc func(ctx context.Context) error) *RestartableRunner {
	if config.RestartBackoff == 0 {
		config.RestartBackoff = time.Second
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 30 * time.Second
	}
	return &RestartableRunner{config: config, runFunc: runFunc}
}

// Start launches the supervision loop in a goroutine.
func (r *RestartableRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("%s is already running", r.config.Name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.runLoop(runCtx)

	return nil
}

// Stop cancels the supervised function and waits for the loop to exit.
// Returns an error when the loop does not come back within 30 seconds.
func (r *RestartableRunner) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out waiting for %s to stop", r.config.Name)
	}
}

// IsRunning reports whether the supervision loop is active.
func (r *RestartableRunner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// LastError returns the most recent failure of the supervised function.
func (r *RestartableRunner) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// RestartCount returns how many times the function was restarted.
func (r *RestartableRunner) RestartCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restarts
}

func (r *RestartableRunner) runLoop(ctx context.Context) {
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		close(r.done)
	}()

	backoff := r.config.RestartBackoff

	for {
		err := r.runWithRecovery(ctx)

		if ctx.Err() != nil {
			log.Debugf("%s stopped", r.config.Name)
			return
		}

		if err == nil {
			log.Infof("%s exited cleanly", r.config.Name)
			return
		}

		r.mu.Lock()
		r.lastErr = err
		r.restarts++
		restarts := r.restarts
		r.mu.Unlock()

		if r.config.MaxRestarts > 0 && restarts > r.config.MaxRestarts {
			log.Errorf("%s failed permanently after %d restarts: %v", r.config.Name, restarts-1, err)
			return
		}

		log.Errorf("%s failed: %v (restarting in %s)", r.config.Name, err, backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > r.config.MaxBackoff {
			backoff = r.config.MaxBackoff
		}
	}
}

func (r *RestartableRunner) runWithRecovery(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			log.Errorf("%s panicked: %v\n%s", r.config.Name, rec, debug.Stack())
		}
	}()
	return r.runFunc(ctx)
}
