package protocol

import (
	"errors"
	"strings"
	"testing"
)

func newTestMessage(t *testing.T) *StreamMessage {
	t.Helper()
	msg, err := NewStreamMessage(StreamMessageOptions{
		MessageID:         MessageID{StreamID: "s1", Timestamp: 1000, PublisherID: "p1", MsgChainID: "c1"},
		MessageType:       MessageTypeMessage,
		ContentType:       ContentTypeJSON,
		SerializedContent: `{"a":1}`,
	})
	if err != nil {
		t.Fatalf("NewStreamMessage() error = %v", err)
	}
	return msg
}

func TestNewStreamMessageValidation(t *testing.T) {
	validID := MessageID{StreamID: "s1", Timestamp: 1000, PublisherID: "p1", MsgChainID: "c1"}
	signature := "0x" + strings.Repeat("ab", 65)

	tests := []struct {
		name      string
		opts      StreamMessageOptions
		wantField string
	}{
		{
			name: "valid",
			opts: StreamMessageOptions{MessageID: validID, MessageType: MessageTypeMessage, SerializedContent: "{}"},
		},
		{
			name: "valid signed",
			opts: StreamMessageOptions{
				MessageID: validID, MessageType: MessageTypeMessage, SerializedContent: "{}",
				SignatureType: SignatureTypeEth, Signature: signature,
			},
		},
		{
			name:      "empty stream id",
			opts:      StreamMessageOptions{MessageID: MessageID{Timestamp: 1}, MessageType: MessageTypeMessage, SerializedContent: "{}"},
			wantField: "streamId",
		},
		{
			name:      "negative partition",
			opts:      StreamMessageOptions{MessageID: MessageID{StreamID: "s1", StreamPartition: -1}, MessageType: MessageTypeMessage, SerializedContent: "{}"},
			wantField: "streamPartition",
		},
		{
			name:      "unknown message type",
			opts:      StreamMessageOptions{MessageID: validID, MessageType: 99, SerializedContent: "{}"},
			wantField: "messageType",
		},
		{
			name:      "unknown content type",
			opts:      StreamMessageOptions{MessageID: validID, MessageType: MessageTypeMessage, ContentType: 5, SerializedContent: "{}"},
			wantField: "contentType",
		},
		{
			name:      "unknown encryption type",
			opts:      StreamMessageOptions{MessageID: validID, MessageType: MessageTypeMessage, EncryptionType: 8, SerializedContent: "{}"},
			wantField: "encryptionType",
		},
		{
			name:      "unknown signature type",
			opts:      StreamMessageOptions{MessageID: validID, MessageType: MessageTypeMessage, SignatureType: 4, SerializedContent: "{}"},
			wantField: "signatureType",
		},
		{
			name:      "missing content",
			opts:      StreamMessageOptions{MessageID: validID, MessageType: MessageTypeGroupKeyRequest},
			wantField: "serializedContent",
		},
		{
			name:      "encrypted content not hex",
			opts:      StreamMessageOptions{MessageID: validID, MessageType: MessageTypeMessage, EncryptionType: EncryptionTypeAES, SerializedContent: "{}"},
			wantField: "serializedContent",
		},
		{
			name:      "signature without type",
			opts:      StreamMessageOptions{MessageID: validID, MessageType: MessageTypeMessage, SerializedContent: "{}", Signature: signature},
			wantField: "signature",
		},
		{
			name: "signature wrong length",
			opts: StreamMessageOptions{
				MessageID: validID, MessageType: MessageTypeMessage, SerializedContent: "{}",
				SignatureType: SignatureTypeEth, Signature: "0xabcd",
			},
			wantField: "signature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewStreamMessage(tt.opts)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("NewStreamMessage() error = %v", err)
				}
				if msg == nil {
					t.Fatal("NewStreamMessage() returned nil message")
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("NewStreamMessage() error = %v, want ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", verr.Field, tt.wantField)
			}
		})
	}
}

func TestStreamMessageProjections(t *testing.T) {
	msg := newTestMessage(t)

	if msg.StreamID() != "s1" || msg.StreamPartition() != 0 || msg.PublisherID() != "p1" || msg.MsgChainID() != "c1" {
		t.Errorf("projections do not match message id %+v", msg.MessageID)
	}
	if msg.IsEncrypted() {
		t.Error("IsEncrypted() = true for EncryptionTypeNone")
	}
	msg.EncryptionType = EncryptionTypeAES
	if !msg.IsEncrypted() {
		t.Error("IsEncrypted() = false for EncryptionTypeAES")
	}
}

func TestStreamMessageEqualAndClone(t *testing.T) {
	msg := newTestMessage(t)
	msg.PrevMsgRef = &MessageRef{Timestamp: 900, SequenceNumber: 0}

	clone := msg.Clone()
	if !msg.Equal(clone) {
		t.Fatal("Clone() is not Equal() to the original")
	}

	clone.PrevMsgRef.SequenceNumber = 1
	if msg.PrevMsgRef.SequenceNumber != 0 {
		t.Error("Clone() shares PrevMsgRef")
	}
	if msg.Equal(clone) {
		t.Error("Equal() ignores PrevMsgRef")
	}

	other := msg.Clone()
	other.PrevMsgRef = nil
	if msg.Equal(other) {
		t.Error("Equal() treats nil and non-nil PrevMsgRef as equal")
	}

	other = msg.Clone()
	other.SerializedContent = `{"a":2}`
	if msg.Equal(other) {
		t.Error("Equal() ignores content")
	}
}

func TestStreamMessageParseContent(t *testing.T) {
	msg := newTestMessage(t)

	var content map[string]int
	if err := msg.ParseContent(&content); err != nil {
		t.Fatalf("ParseContent() error = %v", err)
	}
	if content["a"] != 1 {
		t.Errorf("content = %v", content)
	}

	msg.EncryptionType = EncryptionTypeAES
	if err := msg.ParseContent(&content); !errors.Is(err, ErrEncryptedContent) {
		t.Errorf("ParseContent() error = %v, want ErrEncryptedContent", err)
	}
}

func TestValidateOutgoingRequiresSignature(t *testing.T) {
	msg := newTestMessage(t)
	msg.SignatureType = SignatureTypeEth

	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v (unsigned message is valid before signing)", err)
	}
	if err := msg.ValidateOutgoing(); !errors.Is(err, ErrValidation) {
		t.Errorf("ValidateOutgoing() error = %v, want ErrValidation", err)
	}
}

func TestPayloadToSign(t *testing.T) {
	msg := newTestMessage(t)
	msg.MessageID.PublisherID = "0xABCD"
	msg.PrevMsgRef = &MessageRef{Timestamp: 900, SequenceNumber: 1}

	want := `s10100000xabcdc19001{"a":1}`
	if got := string(msg.PayloadToSign()); got != want {
		t.Errorf("PayloadToSign() = %q, want %q", got, want)
	}
}
