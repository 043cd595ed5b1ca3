package shm

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	internalshm "github.com/CoolandonRS/polyglot/internal/shm"
)

const (
	// DefaultCapacity is the payload size used when OpenOptions.Capacity is zero.
	DefaultCapacity = 256
	// MinCapacity is the smallest payload a buffer accepts.
	MinCapacity = internalshm.MinRegionSize - 1
	// DefaultPollInterval is the delay between two status checks while waiting for a claim.
	DefaultPollInterval = 100 * time.Millisecond
)

// OpenOptions defines options for creating or opening a shared buffer.
type OpenOptions struct {
	// Name identifies the segment; both ends of a channel must use the same name.
	Name string
	// Capacity is the payload size in bytes, the status byte excluded.
	Capacity int
	// Backend maps the segment. Nil selects PlatformBackend.
	Backend Backend
	// PollBackOff returns the pacing used while a claim waits. Nil polls
	// every DefaultPollInterval. A back-off that returns backoff.Stop makes
	// the claim fail with ErrClaimTimeout.
	PollBackOff func() backoff.BackOff
	Meter       metric.Meter
	Tracer      trace.Tracer
}

// ConstantPoll returns a PollBackOff that waits d between status checks.
func ConstantPoll(d time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff { return backoff.NewConstantBackOff(d) }
}

// Buffer runs the claim/finalize protocol over a shared region.
//
// Byte 0 of the region is the status byte, bytes 1..capacity are the payload.
// Only the instance holding the matching claim may move the status forward.
// A Buffer is not safe for concurrent use, except for Status which may be
// called while another goroutine waits in Claim.
type Buffer struct {
	name     string
	capacity int
	region   Region
	mem      []byte
	payload  []byte

	// claimed is the claim token: set by Claim, cleared by Finalize and ForceReset.
	claimed  bool
	disposed bool

	newBackOff func() backoff.BackOff
	tracer     trace.Tracer
	metrics    *bufferMetrics
}

// Open maps the segment described by opts and wraps it in a Buffer.
func Open(ctx context.Context, opts OpenOptions) (*Buffer, error) {
	capacity := opts.Capacity
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if capacity < MinCapacity {
		return nil, fmt.Errorf("%w: capacity %d is below the minimum of %d", ErrOutOfRange, capacity, MinCapacity)
	}
	backend := opts.Backend
	if backend == nil {
		var err error
		if backend, err = PlatformBackend(); err != nil {
			return nil, err
		}
	}
	region, err := backend.OpenOrCreate(ctx, opts.Name, capacity)
	if err != nil {
		return nil, err
	}
	mem := region.Bytes()
	if len(mem) != capacity+1 {
		_ = region.Close()
		return nil, fmt.Errorf("%w: %s mapped %d bytes, want %d", ErrBackendFailure, backend.Name(), len(mem), capacity+1)
	}
	newBackOff := opts.PollBackOff
	if newBackOff == nil {
		newBackOff = ConstantPoll(DefaultPollInterval)
	}
	return &Buffer{
		name:       opts.Name,
		capacity:   capacity,
		region:     region,
		mem:        mem,
		payload:    mem[1:],
		newBackOff: newBackOff,
		tracer:     tracerOrNoop(opts.Tracer),
		metrics:    newBufferMetrics(opts.Meter),
	}, nil
}

// Name returns the segment name.
func (b *Buffer) Name() string { return b.name }

// Capacity returns the payload size in bytes.
func (b *Buffer) Capacity() int { return b.capacity }

func (b *Buffer) checkOpen() error {
	if b.disposed {
		return ErrDisposed
	}
	return nil
}

// status decodes the status byte. It is read on every call since the peer
// may change it at any time.
func (b *Buffer) status() (Status, error) {
	return ParseStatus(internalshm.LoadStatus(b.mem))
}

// Status returns the current protocol state without changing it.
func (b *Buffer) Status() (Status, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	return b.status()
}

// IsClaimed reports whether this instance holds the claim for op. Holding
// the claim for the other operation is a state conflict. A token left over
// after the peer reset the segment is dropped.
func (b *Buffer) IsClaimed(op Operation) (bool, error) {
	if err := b.checkOpen(); err != nil {
		return false, err
	}
	if !op.valid() {
		return false, fmt.Errorf("%w: unknown %v", ErrStateConflict, op)
	}
	if !b.claimed {
		return false, nil
	}
	st, err := b.status()
	if err != nil {
		return false, err
	}
	switch st {
	case op.active():
		return true, nil
	case Reading, Writing:
		return false, fmt.Errorf("%w: %s claim requested while %v", ErrStateConflict, op, st)
	default:
		b.claimed = false
		return false, nil
	}
}

// Claim waits until the status allows op and takes the claim. It returns at
// once if this instance already holds the claim for op.
//
// The context is checked before every poll and while sleeping between polls.
// A cancelled wait returns an error matching ErrCancelled and leaves the
// status byte untouched.
func (b *Buffer) Claim(ctx context.Context, op Operation) error {
	held, err := b.IsClaimed(op)
	if err != nil || held {
		return err
	}
	bo := b.newBackOff()
	bo.Reset()
	var timer *time.Timer
	for {
		if err := ctx.Err(); err != nil {
			return &cancelledError{cause: err}
		}
		st, err := b.status()
		if err != nil {
			return err
		}
		if st == op.awaiting() && internalshm.CompareAndSwapStatus(b.mem, byte(st), byte(op.active())) {
			b.claimed = true
			b.metrics.claims.Add(ctx, 1, opAttr(op))
			return nil
		}
		d := bo.NextBackOff()
		if d == backoff.Stop {
			return fmt.Errorf("%w: %s claim still %v", ErrClaimTimeout, op, st)
		}
		if timer == nil {
			timer = time.NewTimer(d)
			defer timer.Stop()
		} else {
			timer.Reset(d)
		}
		select {
		case <-ctx.Done():
			return &cancelledError{cause: ctx.Err()}
		case <-timer.C:
		}
	}
}

// Finalize releases the claim for op and hands the turn to the peer:
// Reading becomes AwaitingWrite and Writing becomes AwaitingRead.
func (b *Buffer) Finalize(op Operation) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if !op.valid() {
		return fmt.Errorf("%w: unknown %v", ErrStateConflict, op)
	}
	if !b.claimed {
		return fmt.Errorf("%w: finalize %s without a claim", ErrStateConflict, op)
	}
	st, err := b.status()
	if err != nil {
		return err
	}
	switch st {
	case AwaitingRead, AwaitingWrite:
		return fmt.Errorf("%w: nothing to finalize while %v", ErrStateConflict, st)
	case op.active():
		if !internalshm.CompareAndSwapStatus(b.mem, byte(st), byte(op.released())) {
			return fmt.Errorf("%w: status changed while finalizing %s", ErrStateConflict, op)
		}
		b.claimed = false
		return nil
	default:
		return fmt.Errorf("%w: finalize %s while %v", ErrStateConflict, op, st)
	}
}

// Read claims read access and returns a copy of the payload. The claim is
// kept; call Finalize(Read) to release it.
func (b *Buffer) Read(ctx context.Context) ([]byte, error) {
	if err := b.Claim(ctx, Read); err != nil {
		return nil, err
	}
	out := make([]byte, len(b.payload))
	b.copyOut(out)
	b.metrics.bytesRead.Add(ctx, int64(len(out)))
	return out, nil
}

// WriteAll claims write access and replaces the payload with p, zero padding
// the rest of the capacity. A p longer than the capacity fails with
// ErrOutOfRange before anything is changed.
func (b *Buffer) WriteAll(ctx context.Context, p []byte) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if len(p) > b.capacity {
		return fmt.Errorf("%w: %d bytes into a %d byte payload", ErrOutOfRange, len(p), b.capacity)
	}
	if err := b.Claim(ctx, Write); err != nil {
		return err
	}
	b.copyIn(0, p)
	b.zero(len(p))
	b.metrics.bytesWritten.Add(ctx, int64(len(p)))
	return nil
}

// WriteAt claims write access and copies p into the payload at off. Bytes
// outside [off, off+len(p)) are left untouched. The range is checked before
// anything is changed.
func (b *Buffer) WriteAt(ctx context.Context, off int, p []byte) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if err := b.checkRange(off, len(p)); err != nil {
		return err
	}
	if err := b.Claim(ctx, Write); err != nil {
		return err
	}
	b.copyIn(off, p)
	b.metrics.bytesWritten.Add(ctx, int64(len(p)))
	return nil
}

// SetByte sets one payload byte. It never waits: the caller must already
// hold the write claim.
func (b *Buffer) SetByte(off int, v byte) error {
	held, err := b.IsClaimed(Write)
	if err != nil {
		return err
	}
	if !held {
		return fmt.Errorf("%w: set byte without a write claim", ErrStateConflict)
	}
	if err := b.checkRange(off, 1); err != nil {
		return err
	}
	b.copyIn(off, []byte{v})
	return nil
}

// Clear zeroes the payload. Only the reader clears: it requires an active
// read claim held by this instance.
func (b *Buffer) Clear() error {
	held, err := b.IsClaimed(Read)
	if err != nil {
		return err
	}
	if !held {
		return fmt.Errorf("%w: clear without a read claim", ErrStateConflict)
	}
	b.zero(0)
	return nil
}

// ForceReset zeroes the payload and the status without looking at claims,
// leaving the segment in AwaitingWrite.
//
// It is meant for recovery after a peer crashed or was cancelled while
// holding a claim. Calling it while the peer is mid-operation corrupts the
// channel.
func (b *Buffer) ForceReset() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	b.zero(0)
	internalshm.StoreStatus(b.mem, byte(AwaitingWrite))
	b.claimed = false
	b.metrics.resets.Add(context.Background(), 1)
	return nil
}

// ReadClearRelease claims read access, copies the payload into a Snapshot,
// clears the payload and finalizes the read so the writer may go again.
func (b *Buffer) ReadClearRelease(ctx context.Context) (snap *Snapshot, err error) {
	ctx, span := b.tracer.Start(ctx, "shm.ReadClearRelease", trace.WithAttributes(
		attribute.String("shm.name", b.name),
		attribute.Int("shm.capacity", b.capacity),
	))
	defer func() {
		if err != nil && !IsCancelled(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	data, err := b.Read(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.Clear(); err != nil {
		return nil, err
	}
	if err := b.Finalize(Read); err != nil {
		return nil, err
	}
	return &Snapshot{b: data}, nil
}

// Close releases the region. Every later call, Close included, returns ErrDisposed.
func (b *Buffer) Close() error {
	if b.disposed {
		return ErrDisposed
	}
	b.disposed = true
	b.claimed = false
	b.mem, b.payload = nil, nil
	return b.region.Close()
}

func (b *Buffer) checkRange(off, n int) error {
	if off < 0 || n < 0 || off > b.capacity-n {
		return fmt.Errorf("%w: offset %d length %d in a %d byte payload", ErrOutOfRange, off, n, b.capacity)
	}
	return nil
}

// The first HeadLen payload bytes share a word with the status byte, which
// the peer loads atomically while it polls; they go through the word helpers.

func (b *Buffer) copyOut(dst []byte) {
	head := internalshm.LoadHead(b.mem)
	copy(dst, head[:])
	copy(dst[internalshm.HeadLen:], b.payload[internalshm.HeadLen:])
}

func (b *Buffer) copyIn(off int, p []byte) {
	for i := off; i < internalshm.HeadLen && i < off+len(p); i++ {
		internalshm.StoreHeadByte(b.mem, i, p[i-off])
	}
	if start := max(off, internalshm.HeadLen); start < off+len(p) {
		copy(b.payload[start:], p[start-off:])
	}
}

func (b *Buffer) zero(from int) {
	for i := from; i < internalshm.HeadLen; i++ {
		internalshm.StoreHeadByte(b.mem, i, 0)
	}
	clear(b.payload[max(from, internalshm.HeadLen):])
}
