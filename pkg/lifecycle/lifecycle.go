// Package lifecycle restarts a channel host whose receive loop ended with an error.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrGaveUp is returned by Supervise when the back-off stops the restarts.
var ErrGaveUp = errors.New("supervisor gave up restarting")

// Runner is a restartable background loop, e.g. a *plugin.Host.
type Runner interface {
	Start() error
	Dispose() error
	// Done is closed when the current run ends.
	Done() <-chan struct{}
	// Err is the error that ended the current run, nil for a clean stop.
	Err() error
}

// Notify is called before each restart with the error that ended the last
// run and the delay before the next Start.
type Notify func(err error, next time.Duration)

// Supervise starts r and restarts it, after a delay taken from b, every time
// a run fails or Start returns an error. It returns ctx.Err() once ctx is done,
// disposing the running runner, and nil when a run ends without error. When
// b returns backoff.Stop the last error is returned wrapped in ErrGaveUp.
//
// A run that stayed up longer than the delay before it resets b, so the
// back-off only accumulates across runs that fail quickly.
func Supervise(ctx context.Context, r Runner, b backoff.BackOff, notify Notify) error {
	b.Reset()
	var (
		timer *time.Timer
		delay time.Duration
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		began := time.Now()
		started, err := run(ctx, r)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}
		if started && time.Since(began) > delay {
			b.Reset()
		}
		delay = b.NextBackOff()
		if delay == backoff.Stop {
			return fmt.Errorf("%w: %w", ErrGaveUp, err)
		}
		if notify != nil {
			notify(err, delay)
		}
		if timer == nil {
			timer = time.NewTimer(delay)
		} else {
			timer.Reset(delay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// run performs one Start to Dispose cycle and returns why it ended.
func run(ctx context.Context, r Runner) (started bool, err error) {
	if err := r.Start(); err != nil {
		return false, fmt.Errorf("start: %w", err)
	}
	select {
	case <-ctx.Done():
		_ = r.Dispose()
		return true, ctx.Err()
	case <-r.Done():
	}
	// a clean end means someone else disposed r
	err = r.Err()
	_ = r.Dispose()
	return true, err
}
