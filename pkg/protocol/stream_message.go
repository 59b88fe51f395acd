package protocol

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// ErrEncryptedContent is returned when parsing content that is still encrypted
var ErrEncryptedContent = errors.New("content is encrypted")

// StreamMessage is the transmissible envelope of one published message
type StreamMessage struct {
	MessageID         MessageID
	PrevMsgRef        *MessageRef // Previous message in the same chain, nil for the first
	MessageType       MessageType
	ContentType       ContentType
	EncryptionType    EncryptionType
	GroupKeyID        string // Key used for EncryptionType AES/NewKeyAndAES (V32+)
	SerializedContent string
	SignatureType     SignatureType
	Signature         string // Empty until signed
}

// StreamMessageOptions holds the construction input of a StreamMessage.
// Zero enum values mean JSON content, no encryption and no signature.
type StreamMessageOptions struct {
	MessageID         MessageID
	PrevMsgRef        *MessageRef
	MessageType       MessageType
	ContentType       ContentType
	EncryptionType    EncryptionType
	GroupKeyID        string
	SerializedContent string
	SignatureType     SignatureType
	Signature         string
}

// NewStreamMessage validates opts and returns the envelope
func NewStreamMessage(opts StreamMessageOptions) (*StreamMessage, error) {
	msg := &StreamMessage{
		MessageID:         opts.MessageID,
		PrevMsgRef:        opts.PrevMsgRef.Clone(),
		MessageType:       opts.MessageType,
		ContentType:       opts.ContentType,
		EncryptionType:    opts.EncryptionType,
		GroupKeyID:        opts.GroupKeyID,
		SerializedContent: opts.SerializedContent,
		SignatureType:     opts.SignatureType,
		Signature:         opts.Signature,
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Validate checks every envelope invariant
func (m *StreamMessage) Validate() error {
	if err := m.MessageID.Validate(); err != nil {
		return err
	}
	if m.PrevMsgRef != nil {
		if _, err := NewMessageRef(m.PrevMsgRef.Timestamp, m.PrevMsgRef.SequenceNumber); err != nil {
			return err
		}
	}
	if !m.MessageType.IsValid() {
		return validationErrorf("messageType", "unknown message type %d", int(m.MessageType))
	}
	if !m.ContentType.IsValid() {
		return validationErrorf("contentType", "unknown content type %d", int(m.ContentType))
	}
	if !m.EncryptionType.IsValid() {
		return validationErrorf("encryptionType", "unknown encryption type %d", int(m.EncryptionType))
	}
	if !m.SignatureType.IsValid() {
		return validationErrorf("signatureType", "unknown signature type %d", int(m.SignatureType))
	}
	if m.SerializedContent == "" {
		return validationErrorf("serializedContent", "required for %s", m.MessageType)
	}
	if m.EncryptionType == EncryptionTypeAES || m.EncryptionType == EncryptionTypeNewKeyAndAES {
		if _, err := hex.DecodeString(m.SerializedContent); err != nil {
			return validationErrorf("serializedContent", "%s content must be hex encoded", m.EncryptionType)
		}
	}
	return m.validateSignature()
}

func (m *StreamMessage) validateSignature() error {
	if m.SignatureType == SignatureTypeNone {
		if m.Signature != "" {
			return validationErrorf("signature", "present but signatureType is NONE")
		}
		return nil
	}
	// A signature type without a signature is allowed only before signing
	if m.Signature == "" {
		return nil
	}
	sig := strings.TrimPrefix(m.Signature, "0x")
	if len(sig) != 130 {
		return validationErrorf("signature", "expected 65 bytes, got %d hex chars", len(sig))
	}
	if _, err := hex.DecodeString(sig); err != nil {
		return validationErrorf("signature", "not hex encoded")
	}
	return nil
}

// ValidateOutgoing checks that a message is ready to leave the publisher:
// a declared signature type must come with a signature.
func (m *StreamMessage) ValidateOutgoing() error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.SignatureType != SignatureTypeNone && m.Signature == "" {
		return validationErrorf("signature", "missing for signatureType %s", m.SignatureType)
	}
	return nil
}

// IsEncrypted reports whether the content has been transformed by encryption
func (m *StreamMessage) IsEncrypted() bool {
	return m.EncryptionType != EncryptionTypeNone
}

// IsSigned reports whether the message carries a signature
func (m *StreamMessage) IsSigned() bool {
	return m.SignatureType != SignatureTypeNone && m.Signature != ""
}

func (m *StreamMessage) StreamID() string {
	return m.MessageID.StreamID
}

func (m *StreamMessage) StreamPartition() int {
	return m.MessageID.StreamPartition
}

func (m *StreamMessage) PublisherID() string {
	return m.MessageID.PublisherID
}

func (m *StreamMessage) MsgChainID() string {
	return m.MessageID.MsgChainID
}

func (m *StreamMessage) Timestamp() int64 {
	return m.MessageID.Timestamp
}

// Ref returns the chain position of this message
func (m *StreamMessage) Ref() MessageRef {
	return m.MessageID.Ref()
}

// Equal compares every field
func (m *StreamMessage) Equal(other *StreamMessage) bool {
	if m == nil || other == nil {
		return m == other
	}
	if (m.PrevMsgRef == nil) != (other.PrevMsgRef == nil) {
		return false
	}
	if m.PrevMsgRef != nil && *m.PrevMsgRef != *other.PrevMsgRef {
		return false
	}
	return m.MessageID == other.MessageID &&
		m.MessageType == other.MessageType &&
		m.ContentType == other.ContentType &&
		m.EncryptionType == other.EncryptionType &&
		m.GroupKeyID == other.GroupKeyID &&
		m.SerializedContent == other.SerializedContent &&
		m.SignatureType == other.SignatureType &&
		m.Signature == other.Signature
}

// Clone returns a deep copy
func (m *StreamMessage) Clone() *StreamMessage {
	c := *m
	c.PrevMsgRef = m.PrevMsgRef.Clone()
	return &c
}

// ParseContent decodes JSON content into v
func (m *StreamMessage) ParseContent(v any) error {
	if m.IsEncrypted() {
		return ErrEncryptedContent
	}
	return json.Unmarshal([]byte(m.SerializedContent), v)
}

// PayloadToSign returns the canonical byte string covered by the signature
func (m *StreamMessage) PayloadToSign() []byte {
	var b strings.Builder
	id := m.MessageID
	b.WriteString(id.StreamID)
	b.WriteString(strconv.Itoa(id.StreamPartition))
	b.WriteString(strconv.FormatInt(id.Timestamp, 10))
	b.WriteString(strconv.Itoa(id.SequenceNumber))
	b.WriteString(strings.ToLower(id.PublisherID))
	b.WriteString(id.MsgChainID)
	if m.PrevMsgRef != nil {
		b.WriteString(strconv.FormatInt(m.PrevMsgRef.Timestamp, 10))
		b.WriteString(strconv.Itoa(m.PrevMsgRef.SequenceNumber))
	}
	b.WriteString(m.SerializedContent)
	return []byte(b.String())
}
