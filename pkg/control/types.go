package control

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ZentaChain/zentalk-streams/pkg/protocol"
)

// Control layer versions
const (
	Version2 = 2

	LatestVersion = Version2
)

// Class names the control message class in registry errors
const Class = "ControlMessage"

// Type is the wire discriminant of a control message variant
type Type int

// Control message types
const (
	TypeBroadcastMessage        Type = 0
	TypeUnicastMessage          Type = 1
	TypeSubscribeResponse       Type = 2
	TypeUnsubscribeResponse     Type = 3
	TypeResendResponseResending Type = 4
	TypeResendResponseResent    Type = 5
	TypeResendResponseNoResend  Type = 6
	TypeErrorResponse           Type = 7
	TypePublishRequest          Type = 8
	TypeSubscribeRequest        Type = 9
	TypeUnsubscribeRequest      Type = 10
	TypeResendLastRequest       Type = 11
	TypeResendFromRequest       Type = 12
	TypeResendRangeRequest      Type = 13
)

func (t Type) String() string {
	switch t {
	case TypeBroadcastMessage:
		return "BroadcastMessage"
	case TypeUnicastMessage:
		return "UnicastMessage"
	case TypeSubscribeResponse:
		return "SubscribeResponse"
	case TypeUnsubscribeResponse:
		return "UnsubscribeResponse"
	case TypeResendResponseResending:
		return "ResendResponseResending"
	case TypeResendResponseResent:
		return "ResendResponseResent"
	case TypeResendResponseNoResend:
		return "ResendResponseNoResend"
	case TypeErrorResponse:
		return "ErrorResponse"
	case TypePublishRequest:
		return "PublishRequest"
	case TypeSubscribeRequest:
		return "SubscribeRequest"
	case TypeUnsubscribeRequest:
		return "UnsubscribeRequest"
	case TypeResendLastRequest:
		return "ResendLastRequest"
	case TypeResendFromRequest:
		return "ResendFromRequest"
	case TypeResendRangeRequest:
		return "ResendRangeRequest"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// IsRequest reports whether t is sent by a client to a node
func (t Type) IsRequest() bool {
	return t >= TypePublishRequest && t <= TypeResendRangeRequest
}

// IsResendTerminal reports whether t ends a resend exchange as seen by the requester
func (t Type) IsResendTerminal() bool {
	return t == TypeResendResponseResent || t == TypeResendResponseNoResend || t == TypeErrorResponse
}

// ErrorCode classifies an ErrorResponse
type ErrorCode string

// Error codes
const (
	ErrorCodeInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrorCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrorCodePermissionDenied   ErrorCode = "PERMISSION_DENIED"
	ErrorCodeUnsupportedVersion ErrorCode = "UNSUPPORTED_VERSION"
	ErrorCodeResendFailed       ErrorCode = "RESEND_FAILED"
	ErrorCodeUnknown            ErrorCode = "UNKNOWN"
)

// NewRequestID returns a random request id
func NewRequestID() string {
	return uuid.NewString()
}

func validateRequestID(requestID string) error {
	return protocol.ValidateNotEmpty("requestId", requestID)
}

func validateStreamRequest(requestID, streamID string, streamPartition int) error {
	if err := validateRequestID(requestID); err != nil {
		return err
	}
	if err := protocol.ValidateNotEmpty("streamId", streamID); err != nil {
		return err
	}
	return protocol.ValidateNotNegative("streamPartition", int64(streamPartition))
}
