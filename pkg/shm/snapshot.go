package shm

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// TrueByte is the canonical encoding of a true boolean.
const TrueByte byte = 1

// Snapshot is an immutable, process-local copy of a payload taken under a
// read claim. Later changes to the shared region do not affect it.
//
// Multi-byte values are decoded little-endian.
type Snapshot struct {
	b []byte
}

// NewSnapshot returns a Snapshot holding a copy of b.
func NewSnapshot(b []byte) *Snapshot {
	c := make([]byte, len(b))
	copy(c, b)
	return &Snapshot{b: c}
}

// Len returns the number of bytes in the snapshot.
func (s *Snapshot) Len() int { return len(s.b) }

// Bytes returns a copy of the snapshot contents.
func (s *Snapshot) Bytes() []byte {
	c := make([]byte, len(s.b))
	copy(c, s.b)
	return c
}

func (s *Snapshot) span(i, n int) ([]byte, error) {
	if i < 0 || n < 0 || i > len(s.b)-n {
		return nil, fmt.Errorf("%w: %d bytes at %d in a %d byte snapshot", ErrOutOfRange, n, i, len(s.b))
	}
	return s.b[i : i+n], nil
}

// At returns the byte at i.
func (s *Snapshot) At(i int) (byte, error) {
	b, err := s.span(i, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Slice returns a copy of the n bytes starting at i.
func (s *Snapshot) Slice(i, n int) ([]byte, error) {
	b, err := s.span(i, n)
	if err != nil {
		return nil, err
	}
	c := make([]byte, n)
	copy(c, b)
	return c, nil
}

// Bool reports whether the byte at i is TrueByte.
func (s *Snapshot) Bool(i int) (bool, error) {
	v, err := s.At(i)
	return v == TrueByte, err
}

func (s *Snapshot) Uint16(i int) (uint16, error) {
	b, err := s.span(i, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (s *Snapshot) Uint32(i int) (uint32, error) {
	b, err := s.span(i, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (s *Snapshot) Uint64(i int) (uint64, error) {
	b, err := s.span(i, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (s *Snapshot) Int16(i int) (int16, error) {
	v, err := s.Uint16(i)
	return int16(v), err
}

func (s *Snapshot) Int32(i int) (int32, error) {
	v, err := s.Uint32(i)
	return int32(v), err
}

func (s *Snapshot) Int64(i int) (int64, error) {
	v, err := s.Uint64(i)
	return int64(v), err
}

func (s *Snapshot) Float32(i int) (float32, error) {
	v, err := s.Uint32(i)
	return math.Float32frombits(v), err
}

func (s *Snapshot) Float64(i int) (float64, error) {
	v, err := s.Uint64(i)
	return math.Float64frombits(v), err
}

// Char decodes the UTF-16LE code unit at i. Surrogate halves are returned as is.
func (s *Snapshot) Char(i int) (rune, error) {
	v, err := s.Uint16(i)
	return rune(v), err
}

// Text decodes the bytes from start to the end of the snapshot with enc.
// A nil enc means UTF-8. Zero padding after a short message is part of the
// decoded text.
func (s *Snapshot) Text(start int, enc encoding.Encoding) (string, error) {
	b, err := s.span(start, len(s.b)-start)
	if err != nil {
		return "", err
	}
	if enc == nil {
		enc = unicode.UTF8
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode text: %w", err)
	}
	return string(out), nil
}
