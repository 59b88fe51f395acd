package control

import (
	"github.com/ZentaChain/zentalk-streams/pkg/protocol"
)

// Message is a control layer message. The set of variants is closed: only
// the types of this package implement it.
type Message interface {
	Type() Type
	Validate() error
	requestID() string
}

// RequestID returns the id correlating a request with its responses
func RequestID(m Message) string {
	return m.requestID()
}

// ===== STREAM MESSAGE CARRIERS =====

// BroadcastMessage delivers a published message to subscribers. Broadcasts
// are not answers to a request, so RequestID may be empty.
type BroadcastMessage struct {
	RequestID     string
	StreamMessage *protocol.StreamMessage
}

func NewBroadcastMessage(requestID string, msg *protocol.StreamMessage) (*BroadcastMessage, error) {
	m := &BroadcastMessage{RequestID: requestID, StreamMessage: msg}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *BroadcastMessage) Type() Type         { return TypeBroadcastMessage }
func (m *BroadcastMessage) requestID() string { return m.RequestID }

func (m *BroadcastMessage) Validate() error {
	return validateStreamMessage(m.StreamMessage)
}

// UnicastMessage delivers one resent message to the requester
type UnicastMessage struct {
	RequestID     string
	StreamMessage *protocol.StreamMessage
}

func NewUnicastMessage(requestID string, msg *protocol.StreamMessage) (*UnicastMessage, error) {
	m := &UnicastMessage{RequestID: requestID, StreamMessage: msg}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *UnicastMessage) Type() Type         { return TypeUnicastMessage }
func (m *UnicastMessage) requestID() string { return m.RequestID }

func (m *UnicastMessage) Validate() error {
	if err := validateRequestID(m.RequestID); err != nil {
		return err
	}
	return validateStreamMessage(m.StreamMessage)
}

// PublishRequest asks a node to publish a message
type PublishRequest struct {
	RequestID     string
	StreamMessage *protocol.StreamMessage
	SessionToken  string
}

func NewPublishRequest(requestID string, msg *protocol.StreamMessage, sessionToken string) (*PublishRequest, error) {
	m := &PublishRequest{RequestID: requestID, StreamMessage: msg, SessionToken: sessionToken}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PublishRequest) Type() Type         { return TypePublishRequest }
func (m *PublishRequest) requestID() string { return m.RequestID }

func (m *PublishRequest) Validate() error {
	if err := validateRequestID(m.RequestID); err != nil {
		return err
	}
	return validateStreamMessage(m.StreamMessage)
}

func validateStreamMessage(msg *protocol.StreamMessage) error {
	if msg == nil {
		return &protocol.ValidationError{Field: "streamMessage", Reason: "must not be nil"}
	}
	return msg.Validate()
}

// ===== STREAM PARTITION RESPONSES =====

// SubscribeResponse acknowledges a SubscribeRequest
type SubscribeResponse struct {
	RequestID       string
	StreamID        string
	StreamPartition int
}

func NewSubscribeResponse(requestID, streamID string, streamPartition int) (*SubscribeResponse, error) {
	m := &SubscribeResponse{RequestID: requestID, StreamID: streamID, StreamPartition: streamPartition}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *SubscribeResponse) Type() Type         { return TypeSubscribeResponse }
func (m *SubscribeResponse) requestID() string { return m.RequestID }
func (m *SubscribeResponse) Validate() error {
	return validateStreamRequest(m.RequestID, m.StreamID, m.StreamPartition)
}

// UnsubscribeResponse acknowledges an UnsubscribeRequest
type UnsubscribeResponse struct {
	RequestID       string
	StreamID        string
	StreamPartition int
}

func NewUnsubscribeResponse(requestID, streamID string, streamPartition int) (*UnsubscribeResponse, error) {
	m := &UnsubscribeResponse{RequestID: requestID, StreamID: streamID, StreamPartition: streamPartition}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *UnsubscribeResponse) Type() Type         { return TypeUnsubscribeResponse }
func (m *UnsubscribeResponse) requestID() string { return m.RequestID }
func (m *UnsubscribeResponse) Validate() error {
	return validateStreamRequest(m.RequestID, m.StreamID, m.StreamPartition)
}

// ResendResponseResending tells the requester that the resend is starting
type ResendResponseResending struct {
	RequestID       string
	StreamID        string
	StreamPartition int
}

func NewResendResponseResending(requestID, streamID string, streamPartition int) (*ResendResponseResending, error) {
	m := &ResendResponseResending{RequestID: requestID, StreamID: streamID, StreamPartition: streamPartition}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ResendResponseResending) Type() Type         { return TypeResendResponseResending }
func (m *ResendResponseResending) requestID() string { return m.RequestID }
func (m *ResendResponseResending) Validate() error {
	return validateStreamRequest(m.RequestID, m.StreamID, m.StreamPartition)
}

// ResendResponseResent tells the requester that every resent message
// (sent as UnicastMessage) has been delivered
type ResendResponseResent struct {
	RequestID       string
	StreamID        string
	StreamPartition int
}

func NewResendResponseResent(requestID, streamID string, streamPartition int) (*ResendResponseResent, error) {
	m := &ResendResponseResent{RequestID: requestID, StreamID: streamID, StreamPartition: streamPartition}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ResendResponseResent) Type() Type         { return TypeResendResponseResent }
func (m *ResendResponseResent) requestID() string { return m.RequestID }
func (m *ResendResponseResent) Validate() error {
	return validateStreamRequest(m.RequestID, m.StreamID, m.StreamPartition)
}

// ResendResponseNoResend tells the requester that there was nothing to resend
type ResendResponseNoResend struct {
	RequestID       string
	StreamID        string
	StreamPartition int
}

func NewResendResponseNoResend(requestID, streamID string, streamPartition int) (*ResendResponseNoResend, error) {
	m := &ResendResponseNoResend{RequestID: requestID, StreamID: streamID, StreamPartition: streamPartition}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ResendResponseNoResend) Type() Type         { return TypeResendResponseNoResend }
func (m *ResendResponseNoResend) requestID() string { return m.RequestID }
func (m *ResendResponseNoResend) Validate() error {
	return validateStreamRequest(m.RequestID, m.StreamID, m.StreamPartition)
}

// ErrorResponse reports a failed request
type ErrorResponse struct {
	RequestID    string
	ErrorMessage string
	ErrorCode    ErrorCode
}

func NewErrorResponse(requestID, errorMessage string, code ErrorCode) (*ErrorResponse, error) {
	m := &ErrorResponse{RequestID: requestID, ErrorMessage: errorMessage, ErrorCode: code}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ErrorResponse) Type() Type         { return TypeErrorResponse }
func (m *ErrorResponse) requestID() string { return m.RequestID }

func (m *ErrorResponse) Validate() error {
	if err := validateRequestID(m.RequestID); err != nil {
		return err
	}
	if err := protocol.ValidateNotEmpty("errorMessage", m.ErrorMessage); err != nil {
		return err
	}
	return protocol.ValidateNotEmpty("errorCode", string(m.ErrorCode))
}

// ===== REQUESTS =====

// SubscribeRequest subscribes the sender to a stream partition
type SubscribeRequest struct {
	RequestID       string
	StreamID        string
	StreamPartition int
	SessionToken    string
}

func NewSubscribeRequest(requestID, streamID string, streamPartition int, sessionToken string) (*SubscribeRequest, error) {
	m := &SubscribeRequest{RequestID: requestID, StreamID: streamID, StreamPartition: streamPartition, SessionToken: sessionToken}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *SubscribeRequest) Type() Type         { return TypeSubscribeRequest }
func (m *SubscribeRequest) requestID() string { return m.RequestID }
func (m *SubscribeRequest) Validate() error {
	return validateStreamRequest(m.RequestID, m.StreamID, m.StreamPartition)
}

// UnsubscribeRequest ends a subscription
type UnsubscribeRequest struct {
	RequestID       string
	StreamID        string
	StreamPartition int
}

func NewUnsubscribeRequest(requestID, streamID string, streamPartition int) (*UnsubscribeRequest, error) {
	m := &UnsubscribeRequest{RequestID: requestID, StreamID: streamID, StreamPartition: streamPartition}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *UnsubscribeRequest) Type() Type         { return TypeUnsubscribeRequest }
func (m *UnsubscribeRequest) requestID() string { return m.RequestID }
func (m *UnsubscribeRequest) Validate() error {
	return validateStreamRequest(m.RequestID, m.StreamID, m.StreamPartition)
}

// ResendLastRequest asks for the last NumberLast messages of a stream partition
type ResendLastRequest struct {
	RequestID       string
	StreamID        string
	StreamPartition int
	NumberLast      int
	SessionToken    string
}

func NewResendLastRequest(requestID, streamID string, streamPartition, numberLast int, sessionToken string) (*ResendLastRequest, error) {
	m := &ResendLastRequest{
		RequestID:       requestID,
		StreamID:        streamID,
		StreamPartition: streamPartition,
		NumberLast:      numberLast,
		SessionToken:    sessionToken,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ResendLastRequest) Type() Type         { return TypeResendLastRequest }
func (m *ResendLastRequest) requestID() string { return m.RequestID }

func (m *ResendLastRequest) Validate() error {
	if err := validateStreamRequest(m.RequestID, m.StreamID, m.StreamPartition); err != nil {
		return err
	}
	return protocol.ValidateNotNegative("numberLast", int64(m.NumberLast))
}

// ResendFromRequest asks for every message from FromMsgRef onwards,
// optionally restricted to one publisher
type ResendFromRequest struct {
	RequestID       string
	StreamID        string
	StreamPartition int
	FromMsgRef      protocol.MessageRef
	PublisherID     string
	SessionToken    string
}

func NewResendFromRequest(requestID, streamID string, streamPartition int, from protocol.MessageRef, publisherID, sessionToken string) (*ResendFromRequest, error) {
	m := &ResendFromRequest{
		RequestID:       requestID,
		StreamID:        streamID,
		StreamPartition: streamPartition,
		FromMsgRef:      from,
		PublisherID:     publisherID,
		SessionToken:    sessionToken,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ResendFromRequest) Type() Type         { return TypeResendFromRequest }
func (m *ResendFromRequest) requestID() string { return m.RequestID }

func (m *ResendFromRequest) Validate() error {
	if err := validateStreamRequest(m.RequestID, m.StreamID, m.StreamPartition); err != nil {
		return err
	}
	_, err := protocol.NewMessageRef(m.FromMsgRef.Timestamp, m.FromMsgRef.SequenceNumber)
	return err
}

// ResendRangeRequest asks for the messages between two refs (inclusive),
// optionally restricted to one publisher and msg chain
type ResendRangeRequest struct {
	RequestID       string
	StreamID        string
	StreamPartition int
	FromMsgRef      protocol.MessageRef
	ToMsgRef        protocol.MessageRef
	PublisherID     string
	MsgChainID      string
	SessionToken    string
}

func NewResendRangeRequest(requestID, streamID string, streamPartition int, from, to protocol.MessageRef, publisherID, msgChainID, sessionToken string) (*ResendRangeRequest, error) {
	m := &ResendRangeRequest{
		RequestID:       requestID,
		StreamID:        streamID,
		StreamPartition: streamPartition,
		FromMsgRef:      from,
		ToMsgRef:        to,
		PublisherID:     publisherID,
		MsgChainID:      msgChainID,
		SessionToken:    sessionToken,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ResendRangeRequest) Type() Type         { return TypeResendRangeRequest }
func (m *ResendRangeRequest) requestID() string { return m.RequestID }

func (m *ResendRangeRequest) Validate() error {
	if err := validateStreamRequest(m.RequestID, m.StreamID, m.StreamPartition); err != nil {
		return err
	}
	if _, err := protocol.NewMessageRef(m.FromMsgRef.Timestamp, m.FromMsgRef.SequenceNumber); err != nil {
		return err
	}
	if _, err := protocol.NewMessageRef(m.ToMsgRef.Timestamp, m.ToMsgRef.SequenceNumber); err != nil {
		return err
	}
	if m.ToMsgRef.Less(m.FromMsgRef) {
		return &protocol.ValidationError{
			Field:  "toMsgRef",
			Reason: "must not be before fromMsgRef " + m.FromMsgRef.String(),
		}
	}
	if m.MsgChainID != "" && m.PublisherID == "" {
		return &protocol.ValidationError{Field: "publisherId", Reason: "required when msgChainId is set"}
	}
	return nil
}

// ResendRangeForGap builds the request that refills a detected gap
func ResendRangeForGap(requestID string, gap protocol.Gap, sessionToken string) (*ResendRangeRequest, error) {
	from := gap.From
	from.SequenceNumber++
	return NewResendRangeRequest(requestID, gap.Chain.StreamID, gap.Chain.StreamPartition,
		from, gap.To, gap.Chain.PublisherID, gap.Chain.MsgChainID, sessionToken)
}
