package crypto

import (
	"bytes"
	"fmt"
)

// GroupKeySize is the length of an AES-256 group key
const GroupKeySize = 32

// GroupKey is the symmetric key shared by the subscribers of a stream
type GroupKey struct {
	ID   string
	Data []byte
}

// NewGroupKey generates a random group key
func NewGroupKey() (*GroupKey, error) {
	data, err := RandomBytes(GroupKeySize)
	if err != nil {
		return nil, err
	}
	return GroupKeyFromData(data)
}

// GroupKeyFromData wraps existing key material. The id is derived from the
// material so that a key announced in-band resolves to the same id.
func GroupKeyFromData(data []byte) (*GroupKey, error) {
	if len(data) != GroupKeySize {
		return nil, fmt.Errorf("%w: group key must be %d bytes, got %d", ErrInvalidKey, GroupKeySize, len(data))
	}
	return &GroupKey{ID: KeyDigest(data), Data: bytes.Clone(data)}, nil
}

// Validate checks the id and key length
func (k *GroupKey) Validate() error {
	if k == nil {
		return fmt.Errorf("%w: nil group key", ErrInvalidKey)
	}
	if k.ID == "" {
		return fmt.Errorf("%w: empty group key id", ErrInvalidKey)
	}
	if len(k.Data) != GroupKeySize {
		return fmt.Errorf("%w: group key %s must be %d bytes, got %d", ErrInvalidKey, k.ID, GroupKeySize, len(k.Data))
	}
	return nil
}

// Equal reports whether both keys have the same id and material
func (k *GroupKey) Equal(other *GroupKey) bool {
	if k == nil || other == nil {
		return k == other
	}
	return k.ID == other.ID && bytes.Equal(k.Data, other.Data)
}

func (k *GroupKey) String() string {
	return "GroupKey(" + k.ID + ")"
}
