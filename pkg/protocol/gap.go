package protocol

import (
	"fmt"
	"sync"
)

// ChainStatus classifies an incoming message relative to its chain
type ChainStatus int

const (
	// ChainFirst is the first message seen on a chain; nothing can be said about earlier ones
	ChainFirst ChainStatus = iota
	// ChainInOrder follows the last seen message directly
	ChainInOrder
	// ChainGap has a previous ref newer than the last seen message
	ChainGap
	// ChainDuplicate is at or before the last seen position
	ChainDuplicate
)

func (s ChainStatus) String() string {
	switch s {
	case ChainFirst:
		return "first"
	case ChainInOrder:
		return "in-order"
	case ChainGap:
		return "gap"
	case ChainDuplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("ChainStatus(%d)", int(s))
	}
}

// Gap is a range of missed messages: everything after From up to and including To
type Gap struct {
	Chain ChainKey
	From  MessageRef
	To    MessageRef
}

func (g Gap) String() string {
	return fmt.Sprintf("gap on %s: (%s, %s]", g.Chain, g.From, g.To)
}

// GapDetector tracks the last received position of every chain and uses
// PrevMsgRef to spot missing messages. Gaps and duplicates are data-quality
// signals for the caller (e.g. to issue a resend range request).
type GapDetector struct {
	mu   sync.Mutex
	last map[ChainKey]MessageRef
}

// NewGapDetector returns an empty detector
func NewGapDetector() *GapDetector {
	return &GapDetector{last: make(map[ChainKey]MessageRef)}
}

// Observe records msg and classifies it. The returned gap is non-nil only for ChainGap.
func (d *GapDetector) Observe(msg *StreamMessage) (ChainStatus, *Gap) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := msg.MessageID.ChainKey()
	ref := msg.Ref()
	last, seen := d.last[key]
	if !seen {
		d.last[key] = ref
		return ChainFirst, nil
	}
	if ref.LessOrEqual(last) {
		return ChainDuplicate, nil
	}
	d.last[key] = ref
	if msg.PrevMsgRef == nil || msg.PrevMsgRef.LessOrEqual(last) {
		return ChainInOrder, nil
	}
	return ChainGap, &Gap{Chain: key, From: last, To: *msg.PrevMsgRef}
}

// Last returns the last recorded position of a chain
func (d *GapDetector) Last(key ChainKey) (MessageRef, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ref, ok := d.last[key]
	return ref, ok
}

// Forget drops the state of a chain
func (d *GapDetector) Forget(key ChainKey) {
	d.mu.Lock()
	delete(d.last, key)
	d.mu.Unlock()
}
