package protocol

import (
	"sync"
)

// StreamMessageClass names the envelope class in registry errors
const StreamMessageClass = "StreamMessage"

// StreamMessageRegistry serializes envelopes by message layer version
type StreamMessageRegistry = Registry[*StreamMessage]

// NewStreamMessageRegistry returns a frozen registry holding every
// supported message layer version
func NewStreamMessageRegistry() *StreamMessageRegistry {
	r := NewRegistry[*StreamMessage](StreamMessageClass)
	r.MustRegister(StreamMessageVersion30, 0, streamMessageV30{})
	r.MustRegister(StreamMessageVersion31, 0, streamMessageV31{})
	r.MustRegister(StreamMessageVersion32, 0, streamMessageV32{})
	if err := r.SetLatest(LatestStreamMessageVersion); err != nil {
		panic(err)
	}
	return r.Freeze()
}

var defaultStreamMessages = sync.OnceValue(NewStreamMessageRegistry)

// DefaultStreamMessageRegistry returns the process-wide registry, built on first use
func DefaultStreamMessageRegistry() *StreamMessageRegistry {
	return defaultStreamMessages()
}

func prevRefToArray(ref *MessageRef) any {
	if ref == nil {
		return nil
	}
	return ref.ToArray()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func unrepresentable(version int, field, reason string) error {
	return validationErrorf(field, "%s cannot be represented in version %d", reason, version)
}

func decodeIDAndPrevRef(r *ArrayReader) (MessageID, *MessageRef) {
	idArr := r.Array(1, "messageId")
	prevArr := r.NullableArray(2, "prevMsgRef")
	if r.Err() != nil {
		return MessageID{}, nil
	}
	id, err := MessageIDFromArray(idArr)
	r.Wrap(1, "messageId", err)
	if prevArr == nil {
		return id, nil
	}
	prev, err := MessageRefFromArray(prevArr, false)
	r.Wrap(2, "prevMsgRef", err)
	return id, &prev
}

// ===== VERSION 30 =====
// [30, messageId, prevMsgRef, messageType, serializedContent, signatureType, signature]

type streamMessageV30 struct{}

func (streamMessageV30) ToArray(m *StreamMessage) ([]any, error) {
	if err := m.ValidateOutgoing(); err != nil {
		return nil, err
	}
	if m.IsEncrypted() {
		return nil, unrepresentable(StreamMessageVersion30, "encryptionType", "encrypted content")
	}
	if m.GroupKeyID != "" {
		return nil, unrepresentable(StreamMessageVersion30, "groupKeyId", "group key id")
	}
	return []any{
		StreamMessageVersion30,
		m.MessageID.ToArray(),
		prevRefToArray(m.PrevMsgRef),
		int(m.MessageType),
		m.SerializedContent,
		int(m.SignatureType),
		nullable(m.Signature),
	}, nil
}

func (streamMessageV30) FromArray(arr []any) (*StreamMessage, error) {
	r := NewArrayReader(StreamMessageClass, arr, 7)
	id, prev := decodeIDAndPrevRef(r)
	messageType := r.Int(3, "messageType")
	content := r.String(4, "serializedContent")
	signatureType := r.Int(5, "signatureType")
	signature := r.NullableString(6, "signature")
	if err := r.Err(); err != nil {
		return nil, err
	}
	return NewStreamMessage(StreamMessageOptions{
		MessageID:         id,
		PrevMsgRef:        prev,
		MessageType:       MessageType(messageType),
		ContentType:       ContentTypeJSON,
		EncryptionType:    EncryptionTypeNone,
		SerializedContent: content,
		SignatureType:     SignatureType(signatureType),
		Signature:         signature,
	})
}

// ===== VERSION 31 =====
// [31, messageId, prevMsgRef, messageType, encryptionType, serializedContent, signatureType, signature]
//
// The group key id is implicit at this version: it is omitted on encode and
// decodes as empty. The signature does not cover it.

type streamMessageV31 struct{}

func (streamMessageV31) ToArray(m *StreamMessage) ([]any, error) {
	if err := m.ValidateOutgoing(); err != nil {
		return nil, err
	}
	return []any{
		StreamMessageVersion31,
		m.MessageID.ToArray(),
		prevRefToArray(m.PrevMsgRef),
		int(m.MessageType),
		int(m.EncryptionType),
		m.SerializedContent,
		int(m.SignatureType),
		nullable(m.Signature),
	}, nil
}

func (streamMessageV31) FromArray(arr []any) (*StreamMessage, error) {
	r := NewArrayReader(StreamMessageClass, arr, 8)
	id, prev := decodeIDAndPrevRef(r)
	messageType := r.Int(3, "messageType")
	encryptionType := r.Int(4, "encryptionType")
	content := r.String(5, "serializedContent")
	signatureType := r.Int(6, "signatureType")
	signature := r.NullableString(7, "signature")
	if err := r.Err(); err != nil {
		return nil, err
	}
	return NewStreamMessage(StreamMessageOptions{
		MessageID:         id,
		PrevMsgRef:        prev,
		MessageType:       MessageType(messageType),
		ContentType:       ContentTypeJSON,
		EncryptionType:    EncryptionType(encryptionType),
		SerializedContent: content,
		SignatureType:     SignatureType(signatureType),
		Signature:         signature,
	})
}

// ===== VERSION 32 =====
// [32, messageId, prevMsgRef, messageType, contentType, encryptionType, groupKeyId,
//  serializedContent, signatureType, signature]

type streamMessageV32 struct{}

func (streamMessageV32) ToArray(m *StreamMessage) ([]any, error) {
	if err := m.ValidateOutgoing(); err != nil {
		return nil, err
	}
	return []any{
		StreamMessageVersion32,
		m.MessageID.ToArray(),
		prevRefToArray(m.PrevMsgRef),
		int(m.MessageType),
		int(m.ContentType),
		int(m.EncryptionType),
		nullable(m.GroupKeyID),
		m.SerializedContent,
		int(m.SignatureType),
		nullable(m.Signature),
	}, nil
}

func (streamMessageV32) FromArray(arr []any) (*StreamMessage, error) {
	r := NewArrayReader(StreamMessageClass, arr, 10)
	id, prev := decodeIDAndPrevRef(r)
	messageType := r.Int(3, "messageType")
	contentType := r.Int(4, "contentType")
	encryptionType := r.Int(5, "encryptionType")
	groupKeyID := r.NullableString(6, "groupKeyId")
	content := r.String(7, "serializedContent")
	signatureType := r.Int(8, "signatureType")
	signature := r.NullableString(9, "signature")
	if err := r.Err(); err != nil {
		return nil, err
	}
	return NewStreamMessage(StreamMessageOptions{
		MessageID:         id,
		PrevMsgRef:        prev,
		MessageType:       MessageType(messageType),
		ContentType:       ContentType(contentType),
		EncryptionType:    EncryptionType(encryptionType),
		GroupKeyID:        groupKeyID,
		SerializedContent: content,
		SignatureType:     SignatureType(signatureType),
		Signature:         signature,
	})
}
