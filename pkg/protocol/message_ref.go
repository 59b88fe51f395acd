package protocol

import "fmt"

// MessageRef points at a position in a msg chain without the full identity
type MessageRef struct {
	Timestamp      int64
	SequenceNumber int
}

// NewMessageRef returns a validated ref
func NewMessageRef(timestamp int64, sequenceNumber int) (MessageRef, error) {
	if err := ValidateNotNegative("timestamp", timestamp); err != nil {
		return MessageRef{}, err
	}
	if err := ValidateNotNegative("sequenceNumber", int64(sequenceNumber)); err != nil {
		return MessageRef{}, err
	}
	return MessageRef{Timestamp: timestamp, SequenceNumber: sequenceNumber}, nil
}

// NewMessageRefStrict is NewMessageRef for contexts where the sequence number
// is mandatory. The Go signature already makes it mandatory, so the two only
// differ when parsing wire arrays (see MessageRefFromArray).
func NewMessageRefStrict(timestamp int64, sequenceNumber int) (MessageRef, error) {
	return NewMessageRef(timestamp, sequenceNumber)
}

// Compare orders refs by (Timestamp, SequenceNumber). It returns -1, 0 or +1.
func (r MessageRef) Compare(other MessageRef) int {
	switch {
	case r.Timestamp < other.Timestamp:
		return -1
	case r.Timestamp > other.Timestamp:
		return 1
	case r.SequenceNumber < other.SequenceNumber:
		return -1
	case r.SequenceNumber > other.SequenceNumber:
		return 1
	}
	return 0
}

func (r MessageRef) Less(other MessageRef) bool {
	return r.Compare(other) < 0
}

func (r MessageRef) LessOrEqual(other MessageRef) bool {
	return r.Compare(other) <= 0
}

func (r MessageRef) Equal(other MessageRef) bool {
	return r.Compare(other) == 0
}

// Clone returns a copy of r as a new pointer
func (r *MessageRef) Clone() *MessageRef {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// ToArray returns the wire form [timestamp, sequenceNumber]
func (r MessageRef) ToArray() []any {
	return []any{r.Timestamp, r.SequenceNumber}
}

// MessageRefFromArray parses [timestamp, sequenceNumber]. When strict is
// false a missing or null sequence number defaults to 0.
func MessageRefFromArray(arr []any, strict bool) (MessageRef, error) {
	minLen := 1
	if strict {
		minLen = 2
	}
	r := NewArrayReader("MessageRef", arr, minLen)
	timestamp := r.Int(0, "timestamp")
	var seq int64
	if strict || !r.IsNull(1) {
		seq = r.Int(1, "sequenceNumber")
	}
	if err := r.Err(); err != nil {
		return MessageRef{}, err
	}
	return NewMessageRef(timestamp, int(seq))
}

func (r MessageRef) String() string {
	return fmt.Sprintf("%d-%d", r.Timestamp, r.SequenceNumber)
}
