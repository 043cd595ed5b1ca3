// Package transport provides the writing end of a shared memory channel.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Workiva/go-datastructures/queue"

	"github.com/CoolandonRS/polyglot/pkg/shm"
)

// defaultQueueHint sizes the initial backing slice of the post queue.
const defaultQueueHint = 64

var (
	// ErrClosed is returned by Post and Start after Close.
	ErrClosed = errors.New("sender is closed")
	// ErrStarted is returned by Start on a sender already draining.
	ErrStarted = errors.New("sender already started")
)

// Transport delivers one message to the peer of a channel.
type Transport interface {
	Send(ctx context.Context, p []byte) error
}

var _ Transport = (*Sender)(nil)

// Option configures a Sender.
type Option func(*Sender)

// WithErrorHandler sets the function called when a posted message could not
// be sent. The message is dropped after it returns.
func WithErrorHandler(fn func(p []byte, err error)) Option {
	return func(s *Sender) { s.onError = fn }
}

// WithQueueHint sets the initial capacity of the post queue.
func WithQueueHint(n int64) Option {
	return func(s *Sender) { s.hint = n }
}

// Sender writes messages into a shared buffer, one at a time. Send blocks
// until the reader has released the previous message; Post queues the message
// for a background drain started by Start.
//
// The buffer stays owned by the caller: Close does not close it.
type Sender struct {
	buf     *shm.Buffer
	hint    int64
	onError func(p []byte, err error)

	// sendMu keeps a single message in flight.
	sendMu sync.Mutex
	queue  *queue.Queue

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
	unsent []byte
}

// NewSender returns a sender writing into buf.
func NewSender(buf *shm.Buffer, opts ...Option) *Sender {
	s := &Sender{
		buf:     buf,
		hint:    defaultQueueHint,
		onError: func([]byte, error) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = queue.New(s.hint)
	return s
}

// Send writes p as the next message and hands it to the reader. Payload
// bytes past len(p) are zeroed. A p longer than the buffer capacity fails
// with shm.ErrOutOfRange without claiming.
func (s *Sender) Send(ctx context.Context, p []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.buf.WriteAll(ctx, p); err != nil {
		return err
	}
	return s.buf.Finalize(shm.Write)
}

// Post queues a copy of p for the drain.
func (s *Sender) Post(p []byte) error {
	c := make([]byte, len(p))
	copy(c, p)
	if err := s.queue.Put(c); err != nil {
		if errors.Is(err, queue.ErrDisposed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Pending returns the number of posted messages not yet taken by the drain.
func (s *Sender) Pending() int {
	return int(s.queue.Len())
}

// Start runs the drain, which sends posted messages in order until Close.
func (s *Sender) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrClosed
	case s.done != nil:
		return ErrStarted
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.drain(ctx, s.done)
	return nil
}

func (s *Sender) drain(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		items, err := s.queue.Get(1)
		if err != nil {
			// disposed by Close
			return
		}
		for _, item := range items {
			p := item.([]byte)
			if err := s.Send(ctx, p); err != nil {
				if shm.IsCancelled(err) {
					s.unsent = p
					return
				}
				s.onError(p, fmt.Errorf("send posted message: %w", err))
			}
		}
	}
}

// Close stops the drain and returns the posted messages that were not sent,
// in posting order. A message the drain was waiting to send comes first.
func (s *Sender) Close() (pending [][]byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	rest := s.queue.Dispose()
	if s.done != nil {
		<-s.done
	}
	if s.unsent != nil {
		pending = append(pending, s.unsent)
		s.unsent = nil
	}
	for _, item := range rest {
		pending = append(pending, item.([]byte))
	}
	return pending, nil
}
