/*
 * Copyright 2025 Polyglot Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/CoolandonRS/polyglot/pkg/shm"
)

// State is the lifecycle state of a Host.
type State int

const (
	Uninitialized State = iota
	Running
	Disposed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Running:
		return "Running"
	case Disposed:
		return "Disposed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Host owns the reading end of a channel. Once started it drains every
// message the writer finalizes and hands a Snapshot of it to each subscriber.
type Host struct {
	name       string
	config     *Config
	logger     *logger
	dispatcher *eventDispatcher
	metrics    *hostMetrics

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	run    *receiveRun
}

// receiveRun is one receive loop. err is written before done is closed.
type receiveRun struct {
	buf  *shm.Buffer
	pool *ants.Pool
	done chan struct{}
	err  error

	// dispatching is set while subscribers run on the loop.
	dispatching atomic.Bool
	releaseOnce sync.Once
	releaseErr  error
	released    chan struct{}
}

// release frees the pool and the buffer once the loop has exited.
func (r *receiveRun) release() error {
	r.releaseOnce.Do(func() {
		r.pool.Release()
		r.releaseErr = r.buf.Close()
		close(r.released)
	})
	return r.releaseErr
}

func (r *receiveRun) isReleased() bool {
	select {
	case <-r.released:
		return true
	default:
		return false
	}
}

func (r *receiveRun) exited() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// NewHost returns an Uninitialized host for the channel name. A nil config
// uses DefaultConfig.
func NewHost(name string, config *Config) (*Host, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	metrics, err := newHostMetrics(name, config.Registerer)
	if err != nil {
		return nil, fmt.Errorf("register host metrics: %w", err)
	}
	return &Host{
		name:       name,
		config:     config,
		logger:     newLogger("host "+name, config.LogOutput),
		dispatcher: newEventDispatcher(),
		metrics:    metrics,
	}, nil
}

// Name returns the channel name.
func (h *Host) Name() string { return h.name }

// State returns the lifecycle state.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Subscribe registers fn for every received snapshot and returns a function
// that removes it.
func (h *Host) Subscribe(fn Handler) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	return h.dispatcher.subscribe(fn)
}

// Start maps the shared buffer and starts the receive loop in the
// background. It requires an Uninitialized host; a Disposed host may be
// started again, which is how a caller restarts a failed loop.
func (h *Host) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == Running {
		return fmt.Errorf("%w: start while %v", ErrInvalidState, h.state)
	}
	if h.run != nil && !h.run.isReleased() {
		return fmt.Errorf("%w: previous receive loop still running", ErrInvalidState)
	}

	backend := h.config.Backend
	if backend == nil {
		var err error
		if backend, err = shm.PlatformBackend(); err != nil {
			return err
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	buf, err := shm.Open(ctx, shm.OpenOptions{
		Name:        h.name,
		Capacity:    h.config.ShareMemoryCapacity,
		Backend:     backend,
		PollBackOff: h.config.pollBackOff(),
		Meter:       h.config.Meter,
		Tracer:      h.config.Tracer,
	})
	if err != nil {
		cancel()
		return err
	}
	pool, err := ants.NewPool(1, ants.WithNonblocking(true), ants.WithLogger(h.logger))
	if err != nil {
		cancel()
		_ = buf.Close()
		return err
	}
	run := &receiveRun{buf: buf, pool: pool, done: make(chan struct{}), released: make(chan struct{})}
	if err := pool.Submit(func() { h.listen(ctx, run) }); err != nil {
		cancel()
		pool.Release()
		_ = buf.Close()
		return fmt.Errorf("start receive loop: %w", err)
	}

	h.cancel, h.run = cancel, run
	h.state = Running
	h.metrics.running.Set(1)
	h.logger.infof("started on %s backend, capacity %d", backend.Name(), buf.Capacity())
	return nil
}

// listen is the receive loop. It ends cleanly on cancellation; any other
// error, or a panicking subscriber, ends it for good.
func (h *Host) listen(ctx context.Context, run *receiveRun) {
	defer close(run.done)
	defer func() {
		if p := recover(); p != nil {
			run.err = fmt.Errorf("%w: %v", ErrLoopPanic, p)
		}
		run.dispatching.Store(false)
		h.metrics.running.Set(0)
		if run.err != nil {
			h.metrics.loopFailures.Inc()
			h.logger.errorf("receive loop failed: %v", run.err)
			return
		}
		h.logger.infof("receive loop stopped")
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		snap, err := run.buf.ReadClearRelease(ctx)
		if err != nil {
			if shm.IsCancelled(err) {
				return
			}
			run.err = err
			return
		}
		h.metrics.messagesReceived.Inc()
		h.metrics.bytesReceived.Add(float64(snap.Len()))
		h.logger.tracef("received %d bytes", snap.Len())
		run.dispatching.Store(true)
		h.dispatcher.dispatch(snap)
		run.dispatching.Store(false)
	}
}

// Done returns a channel closed when the current receive loop exits, or nil
// if the host was never started.
func (h *Host) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.run == nil {
		return nil
	}
	return h.run.done
}

// Err returns the error that ended the current receive loop, if it has ended
// with one.
func (h *Host) Err() error {
	h.mu.Lock()
	run := h.run
	h.mu.Unlock()
	if run == nil || !run.exited() {
		return nil
	}
	return run.err
}

// Dispose stops the receive loop, waits for it to exit and releases the
// shared buffer. It requires a Running host; disposing twice returns
// ErrDisposed.
//
// Called while a subscriber runs, e.g. from the subscriber itself, Dispose
// does not wait: the buffer is released once the subscriber returns.
func (h *Host) Dispose() error {
	h.mu.Lock()
	switch h.state {
	case Disposed:
		h.mu.Unlock()
		return ErrDisposed
	case Uninitialized:
		h.mu.Unlock()
		return fmt.Errorf("%w: dispose while %v", ErrInvalidState, h.state)
	}
	run := h.run
	h.cancel()
	h.state = Disposed
	h.metrics.running.Set(0)
	h.mu.Unlock()

	if run.dispatching.Load() {
		go h.releaseAfterExit(run)
		h.logger.infof("disposed while a subscriber runs")
		return nil
	}

	timer := time.NewTimer(h.config.PoolReleaseTimeout)
	defer timer.Stop()
	select {
	case <-run.done:
	case <-timer.C:
		h.logger.warnf("receive loop still running after %v", h.config.PoolReleaseTimeout)
		go h.releaseAfterExit(run)
		return fmt.Errorf("%w: receive loop did not exit within %v", ErrInvalidState, h.config.PoolReleaseTimeout)
	}
	if err := run.release(); err != nil {
		return fmt.Errorf("release shared buffer: %w", err)
	}
	h.logger.infof("disposed")
	return nil
}

func (h *Host) releaseAfterExit(run *receiveRun) {
	<-run.done
	if err := run.release(); err != nil {
		h.logger.errorf("release shared buffer: %v", err)
	}
}

// Alive reports whether the receive loop is running.
func (h *Host) Alive() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Running {
		return fmt.Errorf("%w: host is %v", ErrInvalidState, h.state)
	}
	if h.run.exited() {
		if h.run.err != nil {
			return h.run.err
		}
		return errors.New("receive loop exited")
	}
	return nil
}

// Ready reports whether the shared status byte decodes to a known state.
func (h *Host) Ready() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Running {
		return fmt.Errorf("%w: host is %v", ErrInvalidState, h.state)
	}
	_, err := h.run.buf.Status()
	return err
}

// Printf lets the host logger serve as the ants pool logger.
func (l *logger) Printf(format string, args ...interface{}) {
	l.warnf(format, args...)
}
