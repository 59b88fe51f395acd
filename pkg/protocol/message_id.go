package protocol

import "fmt"

// MessageID identifies a published message and orders it within its chain.
// (Timestamp, SequenceNumber) increases strictly within one
// (StreamID, StreamPartition, PublisherID, MsgChainID) tuple.
type MessageID struct {
	StreamID        string
	StreamPartition int
	Timestamp       int64 // Unix timestamp (ms)
	SequenceNumber  int
	PublisherID     string
	MsgChainID      string
}

// NewMessageID validates and returns a message id
func NewMessageID(streamID string, streamPartition int, timestamp int64, sequenceNumber int, publisherID, msgChainID string) (MessageID, error) {
	id := MessageID{
		StreamID:        streamID,
		StreamPartition: streamPartition,
		Timestamp:       timestamp,
		SequenceNumber:  sequenceNumber,
		PublisherID:     publisherID,
		MsgChainID:      msgChainID,
	}
	if err := id.Validate(); err != nil {
		return MessageID{}, err
	}
	return id, nil
}

// Validate checks the id invariants
func (id MessageID) Validate() error {
	if err := ValidateNotEmpty("streamId", id.StreamID); err != nil {
		return err
	}
	if err := ValidateNotNegative("streamPartition", int64(id.StreamPartition)); err != nil {
		return err
	}
	if err := ValidateNotNegative("timestamp", id.Timestamp); err != nil {
		return err
	}
	return ValidateNotNegative("sequenceNumber", int64(id.SequenceNumber))
}

// Ref returns the position of this message in its chain
func (id MessageID) Ref() MessageRef {
	return MessageRef{Timestamp: id.Timestamp, SequenceNumber: id.SequenceNumber}
}

// ChainKey identifies the chain the message belongs to
func (id MessageID) ChainKey() ChainKey {
	return ChainKey{
		StreamID:        id.StreamID,
		StreamPartition: id.StreamPartition,
		PublisherID:     id.PublisherID,
		MsgChainID:      id.MsgChainID,
	}
}

// ToArray returns the wire form
// [streamId, streamPartition, timestamp, sequenceNumber, publisherId, msgChainId]
func (id MessageID) ToArray() []any {
	return []any{
		id.StreamID,
		id.StreamPartition,
		id.Timestamp,
		id.SequenceNumber,
		id.PublisherID,
		id.MsgChainID,
	}
}

// MessageIDFromArray parses the wire form produced by ToArray
func MessageIDFromArray(arr []any) (MessageID, error) {
	r := NewArrayReader("MessageID", arr, 6)
	streamID := r.String(0, "streamId")
	partition := r.Int(1, "streamPartition")
	timestamp := r.Int(2, "timestamp")
	seq := r.Int(3, "sequenceNumber")
	publisherID := r.NullableString(4, "publisherId")
	msgChainID := r.NullableString(5, "msgChainId")
	if err := r.Err(); err != nil {
		return MessageID{}, err
	}
	return NewMessageID(streamID, int(partition), timestamp, int(seq), publisherID, msgChainID)
}

func (id MessageID) String() string {
	return fmt.Sprintf("%s-%d-%d-%d-%s-%s",
		id.StreamID, id.StreamPartition, id.Timestamp, id.SequenceNumber, id.PublisherID, id.MsgChainID)
}

// ChainKey identifies one msg chain of one publisher on one stream partition
type ChainKey struct {
	StreamID        string
	StreamPartition int
	PublisherID     string
	MsgChainID      string
}

func (k ChainKey) String() string {
	return fmt.Sprintf("%s#%d/%s/%s", k.StreamID, k.StreamPartition, k.PublisherID, k.MsgChainID)
}
