package protocol

import (
	"sync"

	"github.com/google/uuid"
)

// NewMsgChainID returns a random msg chain id
func NewMsgChainID() string {
	return uuid.NewString()
}

// MessageChain assigns ids and previous refs to the successive messages a
// publisher sends on one stream partition
type MessageChain struct {
	streamID        string
	streamPartition int
	publisherID     string
	msgChainID      string

	mu   sync.Mutex
	prev *MessageRef
}

// NewMessageChain starts an empty chain. An empty msgChainID gets a random one.
func NewMessageChain(streamID string, streamPartition int, publisherID, msgChainID string) (*MessageChain, error) {
	if err := ValidateNotEmpty("streamId", streamID); err != nil {
		return nil, err
	}
	if err := ValidateNotNegative("streamPartition", int64(streamPartition)); err != nil {
		return nil, err
	}
	if msgChainID == "" {
		msgChainID = NewMsgChainID()
	}
	return &MessageChain{
		streamID:        streamID,
		streamPartition: streamPartition,
		publisherID:     publisherID,
		msgChainID:      msgChainID,
	}, nil
}

// MsgChainID returns the chain id
func (c *MessageChain) MsgChainID() string {
	return c.msgChainID
}

// Next returns the id for a message published at timestamp and the ref of the
// message before it, and advances the chain past that id.
func (c *MessageChain) Next(timestamp int64) (MessageID, *MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, prev, err := c.peek(timestamp)
	if err != nil {
		return MessageID{}, nil, err
	}
	ref := id.Ref()
	c.prev = &ref
	return id, prev, nil
}

// Peek is Next without advancing the chain. The id is claimed only once it
// is passed to Commit, so a message that fails before being sent leaves no
// hole in the chain.
func (c *MessageChain) Peek(timestamp int64) (MessageID, *MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peek(timestamp)
}

// A timestamp that does not advance past the previous one is pinned to it and
// the sequence number is bumped instead, so refs stay strictly increasing.
func (c *MessageChain) peek(timestamp int64) (MessageID, *MessageRef, error) {
	seq := 0
	if c.prev != nil && timestamp <= c.prev.Timestamp {
		timestamp = c.prev.Timestamp
		seq = c.prev.SequenceNumber + 1
	}
	id, err := NewMessageID(c.streamID, c.streamPartition, timestamp, seq, c.publisherID, c.msgChainID)
	if err != nil {
		return MessageID{}, nil, err
	}
	var prev *MessageRef
	if c.prev != nil {
		p := *c.prev
		prev = &p
	}
	return id, prev, nil
}

// Commit advances the chain past id, which must belong to the chain and
// follow its current position.
func (c *MessageChain) Commit(id MessageID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id.StreamID != c.streamID || id.StreamPartition != c.streamPartition ||
		id.PublisherID != c.publisherID || id.MsgChainID != c.msgChainID {
		return validationErrorf("messageId", "message %s does not belong to chain %s", id, c.msgChainID)
	}
	ref := id.Ref()
	if c.prev != nil && !c.prev.Less(ref) {
		return validationErrorf("messageId", "ref %s does not follow %s", ref, *c.prev)
	}
	c.prev = &ref
	return nil
}

// NewMessage builds the next unencrypted, unsigned content message of the
// chain and advances the chain
func (c *MessageChain) NewMessage(timestamp int64, serializedContent string) (*StreamMessage, error) {
	return c.newMessage(c.Next, timestamp, serializedContent)
}

// PendingMessage is NewMessage without advancing the chain; see Peek
func (c *MessageChain) PendingMessage(timestamp int64, serializedContent string) (*StreamMessage, error) {
	return c.newMessage(c.Peek, timestamp, serializedContent)
}

func (c *MessageChain) newMessage(
	next func(int64) (MessageID, *MessageRef, error),
	timestamp int64,
	serializedContent string,
) (*StreamMessage, error) {
	if err := ValidateNotEmpty("serializedContent", serializedContent); err != nil {
		return nil, err
	}
	id, prev, err := next(timestamp)
	if err != nil {
		return nil, err
	}
	return NewStreamMessage(StreamMessageOptions{
		MessageID:         id,
		PrevMsgRef:        prev,
		MessageType:       MessageTypeMessage,
		ContentType:       ContentTypeJSON,
		SerializedContent: serializedContent,
	})
}
