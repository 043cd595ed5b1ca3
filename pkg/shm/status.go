package shm

import "fmt"

// Status is the protocol state held in byte 0 of the region.
type Status byte

const (
	// AwaitingWrite is the initial state: nobody holds a claim and the writer may claim.
	AwaitingWrite Status = iota
	// Writing means the writer holds the claim.
	Writing
	// AwaitingRead means a message is ready and the reader may claim.
	AwaitingRead
	// Reading means the reader holds the claim.
	Reading
)

var statusNames = [...]string{"AwaitingWrite", "Writing", "AwaitingRead", "Reading"}

// ParseStatus decodes a status byte.
func ParseStatus(b byte) (Status, error) {
	if int(b) >= len(statusNames) {
		return 0, fmt.Errorf("%w: 0x%02x", ErrMalformedStatus, b)
	}
	return Status(b), nil
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", byte(s))
}

// Operation is the kind of access a claim grants.
type Operation int

const (
	Read Operation = iota
	Write
)

func (op Operation) String() string {
	switch op {
	case Read:
		return "read"
	case Write:
		return "write"
	}
	return fmt.Sprintf("Operation(%d)", int(op))
}

// awaiting returns the state op waits for before claiming.
func (op Operation) awaiting() Status {
	if op == Read {
		return AwaitingRead
	}
	return AwaitingWrite
}

// active returns the state held while op is claimed.
func (op Operation) active() Status {
	if op == Read {
		return Reading
	}
	return Writing
}

// released returns the state after op is finalized.
func (op Operation) released() Status {
	if op == Read {
		return AwaitingWrite
	}
	return AwaitingRead
}

func (op Operation) valid() bool {
	return op == Read || op == Write
}
