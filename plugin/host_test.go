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
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/suite"

	internalshm "github.com/CoolandonRS/polyglot/internal/shm"
	"github.com/CoolandonRS/polyglot/pkg/shm"
)

const (
	testCapacity = 16
	waitFor      = 2 * time.Second
	tick         = time.Millisecond
)

// countingBackend tracks how many regions the host holds open.
type countingBackend struct {
	shm.Backend
	open atomic.Int32
}

func (b *countingBackend) OpenOrCreate(ctx context.Context, name string, capacity int) (shm.Region, error) {
	r, err := b.Backend.OpenOrCreate(ctx, name, capacity)
	if err != nil {
		return nil, err
	}
	b.open.Add(1)
	return &countedRegion{Region: r, backend: b}, nil
}

type countedRegion struct {
	shm.Region
	backend *countingBackend
	once    sync.Once
}

func (r *countedRegion) Close() error {
	r.once.Do(func() { r.backend.open.Add(-1) })
	return r.Region.Close()
}

type HostTestSuite struct {
	suite.Suite
	ctx     context.Context
	name    string
	reg     *prometheus.Registry
	backend *countingBackend
	config  *Config
	host    *Host
	writer  *shm.Buffer
}

func (s *HostTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.name = strings.ReplaceAll(s.T().Name(), "/", "_")
	s.reg = prometheus.NewRegistry()

	s.config = DefaultConfig()
	s.config.ShareMemoryCapacity = testCapacity
	s.config.PollInterval = tick
	s.backend = &countingBackend{Backend: shm.HeapBackend()}
	s.config.Backend = s.backend
	s.config.LogOutput = io.Discard
	s.config.Registerer = s.reg
	s.config.PoolReleaseTimeout = time.Second

	var err error
	s.host, err = NewHost(s.name, s.config)
	s.Require().NoError(err)
	s.T().Cleanup(func() {
		if s.host.State() == Running {
			_ = s.host.Dispose()
		}
	})

	s.writer, err = shm.Open(s.ctx, shm.OpenOptions{
		Name:        s.name,
		Capacity:    testCapacity,
		Backend:     shm.HeapBackend(),
		PollBackOff: shm.ConstantPoll(tick),
	})
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = s.writer.Close() })
}

func (s *HostTestSuite) send(p string) {
	s.Require().NoError(s.writer.WriteAll(s.ctx, []byte(p)))
	s.Require().NoError(s.writer.Finalize(shm.Write))
}

// collect subscribes a handler that forwards every message as text.
func (s *HostTestSuite) collect() <-chan string {
	ch := make(chan string, 16)
	s.host.Subscribe(func(snap *shm.Snapshot) {
		text, err := snap.Text(0, nil)
		s.NoError(err)
		ch <- strings.TrimRight(text, "\x00")
	})
	return ch
}

func (s *HostTestSuite) receive(ch <-chan string) string {
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		s.FailNow("no message received")
		return ""
	}
}

func (s *HostTestSuite) waitDone() {
	select {
	case <-s.host.Done():
	case <-time.After(waitFor):
		s.FailNow("receive loop did not exit")
	}
}

func (s *HostTestSuite) metric(name string) float64 {
	families, err := s.reg.Gather()
	s.Require().NoError(err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		m := mf.GetMetric()[0]
		s.Equal(s.name, labelValue(m, "channel"))
		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			return m.GetCounter().GetValue()
		case dto.MetricType_GAUGE:
			return m.GetGauge().GetValue()
		}
	}
	s.FailNow("metric not registered", name)
	return 0
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func (s *HostTestSuite) TestStates() {
	s.Equal(Uninitialized, s.host.State())
	s.Equal(s.name, s.host.Name())
	s.Nil(s.host.Done())
	s.ErrorIs(s.host.Dispose(), ErrInvalidState)
	s.ErrorIs(s.host.Alive(), ErrInvalidState)

	s.Require().NoError(s.host.Start())
	s.Equal(Running, s.host.State())
	s.ErrorIs(s.host.Start(), ErrInvalidState)
	s.NoError(s.host.Alive())
	s.NoError(s.host.Ready())

	s.Require().NoError(s.host.Dispose())
	s.Equal(Disposed, s.host.State())
	s.NoError(s.host.Err(), "a disposed loop ends cleanly")
	s.ErrorIs(s.host.Dispose(), ErrDisposed)
	s.ErrorIs(s.host.Ready(), ErrInvalidState)
}

func (s *HostTestSuite) TestDeliversInOrder() {
	ch := s.collect()
	s.Require().NoError(s.host.Start())

	for _, msg := range []string{"first", "second", "third"} {
		s.send(msg)
	}
	s.Equal("first", s.receive(ch))
	s.Equal("second", s.receive(ch))
	s.Equal("third", s.receive(ch))

	s.Eventually(func() bool {
		st, err := s.writer.Status()
		return err == nil && st == shm.AwaitingWrite
	}, waitFor, tick, "the host releases the buffer after each message")
}

func (s *HostTestSuite) TestSubscribersRunInSubscriptionOrder() {
	var (
		mu    sync.Mutex
		order []int
	)
	done := make(chan struct{}, 1)
	for i := 1; i <= 3; i++ {
		i := i
		s.host.Subscribe(func(*shm.Snapshot) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if i == 3 {
				done <- struct{}{}
			}
		})
	}
	s.Equal(3, s.host.dispatcher.count())
	s.Require().NoError(s.host.Start())
	s.send("x")

	select {
	case <-done:
	case <-time.After(waitFor):
		s.FailNow("no message received")
	}
	mu.Lock()
	defer mu.Unlock()
	s.Equal([]int{1, 2, 3}, order)
}

func (s *HostTestSuite) TestUnsubscribe() {
	var calls int
	var mu sync.Mutex
	unsubscribe := s.host.Subscribe(func(*shm.Snapshot) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	ch := s.collect()
	s.Require().NoError(s.host.Start())

	s.send("one")
	s.Equal("one", s.receive(ch))
	unsubscribe()
	s.send("two")
	s.Equal("two", s.receive(ch))

	mu.Lock()
	defer mu.Unlock()
	s.Equal(1, calls)
	s.NotPanics(func() { s.host.Subscribe(nil)() })
}

func (s *HostTestSuite) TestMalformedStatusEndsLoopAndRestart() {
	ch := s.collect()
	s.Require().NoError(s.host.Start())

	region, err := shm.HeapBackend().OpenOrCreate(s.ctx, s.name, testCapacity)
	s.Require().NoError(err)
	defer region.Close()
	internalshm.StoreStatus(region.Bytes(), 0x7f)

	s.waitDone()
	s.ErrorIs(s.host.Err(), shm.ErrMalformedStatus)
	s.ErrorIs(s.host.Alive(), shm.ErrMalformedStatus)
	s.ErrorIs(s.host.Ready(), shm.ErrMalformedStatus)
	s.Equal(Running, s.host.State(), "a failed loop waits for Dispose")
	s.Equal(float64(1), s.metric("polyglot_host_loop_failures_total"))
	s.Equal(float64(0), s.metric("polyglot_host_running"))

	s.Require().NoError(s.host.Dispose())
	s.Require().NoError(s.writer.ForceReset())
	s.Require().NoError(s.host.Start())
	s.send("again")
	s.Equal("again", s.receive(ch))
	s.NoError(s.host.Alive())
}

func (s *HostTestSuite) TestSubscriberPanicEndsLoop() {
	s.host.Subscribe(func(*shm.Snapshot) { panic("boom") })
	s.Require().NoError(s.host.Start())
	s.send("x")

	s.waitDone()
	s.ErrorIs(s.host.Err(), ErrLoopPanic)
	s.Contains(s.host.Err().Error(), "boom")
}

func (s *HostTestSuite) TestMetrics() {
	ch := s.collect()
	s.Require().NoError(s.host.Start())
	s.Equal(float64(1), s.metric("polyglot_host_running"))

	s.send("a")
	s.send("bc")
	s.receive(ch)
	s.receive(ch)

	s.Equal(float64(2), s.metric("polyglot_host_messages_received_total"))
	s.Equal(float64(2*testCapacity), s.metric("polyglot_host_bytes_received_total"))

	s.Require().NoError(s.host.Dispose())
	s.Equal(float64(0), s.metric("polyglot_host_running"))
}

func (s *HostTestSuite) TestSharedRegistry() {
	other, err := NewHost(s.name, s.config)
	s.Require().NoError(err)
	s.Same(s.host.metrics.messagesReceived, other.metrics.messagesReceived)
}

func (s *HostTestSuite) TestDisposeWithBlockedSubscriber() {
	release := make(chan struct{})
	entered := make(chan struct{})
	s.host.Subscribe(func(*shm.Snapshot) {
		close(entered)
		<-release
	})
	s.Require().NoError(s.host.Start())
	s.send("x")
	<-entered

	s.NoError(s.host.Dispose())
	s.Equal(Disposed, s.host.State())
	s.ErrorIs(s.host.Alive(), ErrInvalidState)
	s.Equal(int32(1), s.backend.open.Load(), "the region stays mapped while the subscriber runs")
	s.ErrorIs(s.host.Start(), ErrInvalidState, "no restart before the old loop is gone")

	close(release)
	s.Eventually(func() bool { return s.backend.open.Load() == 0 }, waitFor, tick)
	s.Require().NoError(s.host.Start())
	s.Equal(int32(1), s.backend.open.Load())
}

func (s *HostTestSuite) TestDisposeFromSubscriber() {
	result := make(chan error, 1)
	var states []State
	s.host.Subscribe(func(*shm.Snapshot) {
		err := s.host.Dispose()
		states = append(states, s.host.State())
		s.ErrorIs(s.host.Alive(), ErrInvalidState)
		result <- err
	})
	s.Require().NoError(s.host.Start())
	s.send("bye")

	began := time.Now()
	select {
	case err := <-result:
		s.NoError(err)
	case <-time.After(waitFor):
		s.FailNow("dispose from a subscriber did not return")
	}
	s.Less(time.Since(began), s.config.PoolReleaseTimeout)
	s.waitDone()
	s.NoError(s.host.Err())
	s.Equal([]State{Disposed}, states)
	s.Eventually(func() bool { return s.backend.open.Load() == 0 }, waitFor, tick)
	s.ErrorIs(s.host.Dispose(), ErrDisposed)
}

func (s *HostTestSuite) TestNewHostValidatesConfig() {
	config := DefaultConfig()
	config.ShareMemoryCapacity = 1
	_, err := NewHost("bad", config)
	s.ErrorIs(err, ErrInvalidConfig)

	h, err := NewHost("defaults", nil)
	s.Require().NoError(err)
	s.Equal(Uninitialized, h.State())
}

func TestHostTestSuite(t *testing.T) {
	suite.Run(t, new(HostTestSuite))
}
