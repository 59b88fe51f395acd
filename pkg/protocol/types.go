package protocol

import (
	"fmt"
	"time"
)

// Stream message layer versions
const (
	StreamMessageVersion30 = 30
	StreamMessageVersion31 = 31
	StreamMessageVersion32 = 32

	// LatestStreamMessageVersion is used when no explicit version is requested
	LatestStreamMessageVersion = StreamMessageVersion32
)

// MessageType identifies what an envelope carries
type MessageType int

// Message types
const (
	// Ordinary content
	MessageTypeMessage MessageType = 27

	// Group key exchange (carried in-band on the key exchange stream)
	MessageTypeGroupKeyRequest       MessageType = 28
	MessageTypeGroupKeyResponse      MessageType = 29
	MessageTypeGroupKeyAnnounce      MessageType = 30
	MessageTypeGroupKeyErrorResponse MessageType = 31
)

// ContentType describes the encoding of SerializedContent
type ContentType int

// Content types
const (
	ContentTypeJSON ContentType = 0
)

// EncryptionType describes how SerializedContent was transformed
type EncryptionType int

// Encryption types
const (
	EncryptionTypeNone         EncryptionType = 0
	EncryptionTypeRSA          EncryptionType = 1
	EncryptionTypeAES          EncryptionType = 2
	EncryptionTypeNewKeyAndAES EncryptionType = 3
)

// SignatureType identifies the signature algorithm
type SignatureType int

// Signature types
const (
	SignatureTypeNone      SignatureType = 0
	SignatureTypeEthLegacy SignatureType = 1
	SignatureTypeEth       SignatureType = 2
)

// IsValid reports whether t is a known message type
func (t MessageType) IsValid() bool {
	switch t {
	case MessageTypeMessage, MessageTypeGroupKeyRequest, MessageTypeGroupKeyResponse,
		MessageTypeGroupKeyAnnounce, MessageTypeGroupKeyErrorResponse:
		return true
	}
	return false
}

// IsGroupKeyExchange reports whether t belongs to the group key exchange
// sub-protocol. Such messages are never encrypted with a group key.
func (t MessageType) IsGroupKeyExchange() bool {
	switch t {
	case MessageTypeGroupKeyRequest, MessageTypeGroupKeyResponse,
		MessageTypeGroupKeyAnnounce, MessageTypeGroupKeyErrorResponse:
		return true
	}
	return false
}

func (t MessageType) String() string {
	switch t {
	case MessageTypeMessage:
		return "MESSAGE"
	case MessageTypeGroupKeyRequest:
		return "GROUP_KEY_REQUEST"
	case MessageTypeGroupKeyResponse:
		return "GROUP_KEY_RESPONSE"
	case MessageTypeGroupKeyAnnounce:
		return "GROUP_KEY_ANNOUNCE"
	case MessageTypeGroupKeyErrorResponse:
		return "GROUP_KEY_ERROR_RESPONSE"
	default:
		return fmt.Sprintf("MessageType(%d)", int(t))
	}
}

// IsValid reports whether t is a known content type
func (t ContentType) IsValid() bool {
	return t == ContentTypeJSON
}

func (t ContentType) String() string {
	if t == ContentTypeJSON {
		return "JSON"
	}
	return fmt.Sprintf("ContentType(%d)", int(t))
}

// IsValid reports whether t is a known encryption type
func (t EncryptionType) IsValid() bool {
	switch t {
	case EncryptionTypeNone, EncryptionTypeRSA, EncryptionTypeAES, EncryptionTypeNewKeyAndAES:
		return true
	}
	return false
}

func (t EncryptionType) String() string {
	switch t {
	case EncryptionTypeNone:
		return "NONE"
	case EncryptionTypeRSA:
		return "RSA"
	case EncryptionTypeAES:
		return "AES"
	case EncryptionTypeNewKeyAndAES:
		return "NEW_KEY_AND_AES"
	default:
		return fmt.Sprintf("EncryptionType(%d)", int(t))
	}
}

// IsValid reports whether t is a known signature type
func (t SignatureType) IsValid() bool {
	switch t {
	case SignatureTypeNone, SignatureTypeEthLegacy, SignatureTypeEth:
		return true
	}
	return false
}

func (t SignatureType) String() string {
	switch t {
	case SignatureTypeNone:
		return "NONE"
	case SignatureTypeEthLegacy:
		return "ETH_LEGACY"
	case SignatureTypeEth:
		return "ETH"
	default:
		return fmt.Sprintf("SignatureType(%d)", int(t))
	}
}

// ===== HELPER FUNCTIONS =====

// NowUnixMilli returns current time in Unix milliseconds
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
