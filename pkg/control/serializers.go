package control

import (
	"fmt"
	"sync"

	"github.com/ZentaChain/zentalk-streams/pkg/protocol"
)

// Registry serializes control messages by (version, type)
type Registry = protocol.Registry[Message]

// NewRegistry returns a frozen control layer registry. Stream messages nested
// in broadcast, unicast and publish messages are encoded with streamMessages
// at its latest version.
func NewRegistry(streamMessages *protocol.StreamMessageRegistry) *Registry {
	return NewRegistryWithStreamVersion(streamMessages, 0)
}

// NewRegistryWithStreamVersion is NewRegistry with nested stream messages
// encoded at streamVersion; 0 selects the latest.
func NewRegistryWithStreamVersion(streamMessages *protocol.StreamMessageRegistry, streamVersion int) *Registry {
	r := protocol.NewTypedRegistry[Message](Class, func(m Message) int { return int(m.Type()) })

	nested := nestedCodec{messages: streamMessages, version: streamVersion}
	r.MustRegister(Version2, int(TypeBroadcastMessage), broadcastV2{nested})
	r.MustRegister(Version2, int(TypeUnicastMessage), unicastV2{nested})
	r.MustRegister(Version2, int(TypePublishRequest), publishRequestV2{nested})
	r.MustRegister(Version2, int(TypeErrorResponse), errorResponseV2{})
	r.MustRegister(Version2, int(TypeSubscribeRequest), subscribeRequestV2{})
	r.MustRegister(Version2, int(TypeResendLastRequest), resendLastRequestV2{})
	r.MustRegister(Version2, int(TypeResendFromRequest), resendFromRequestV2{})
	r.MustRegister(Version2, int(TypeResendRangeRequest), resendRangeRequestV2{})

	for _, t := range []Type{
		TypeSubscribeResponse,
		TypeUnsubscribeResponse,
		TypeResendResponseResending,
		TypeResendResponseResent,
		TypeResendResponseNoResend,
		TypeUnsubscribeRequest,
	} {
		r.MustRegister(Version2, int(t), streamPartitionV2{msgType: t})
	}

	if err := r.SetLatest(LatestVersion); err != nil {
		panic(err)
	}
	return r.Freeze()
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	return NewRegistry(protocol.DefaultStreamMessageRegistry())
})

// DefaultRegistry returns the process-wide control registry, built on first use
func DefaultRegistry() *Registry {
	return defaultRegistry()
}

func header(msgType Type, requestID string) []any {
	return []any{Version2, int(msgType), requestID}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func wrongType(want Type, got Message) error {
	return fmt.Errorf("codec for %s cannot encode %T", want, got)
}

// nestedCodec encodes the stream message embedded in a control message
type nestedCodec struct {
	messages *protocol.StreamMessageRegistry
	version  int
}

func (c nestedCodec) encode(msg *protocol.StreamMessage) ([]any, error) {
	if msg == nil {
		return nil, &protocol.ValidationError{Field: "streamMessage", Reason: "must not be nil"}
	}
	return c.messages.Serialize(msg, c.version)
}

func (c nestedCodec) decode(r *protocol.ArrayReader, index int) *protocol.StreamMessage {
	arr := r.Array(index, "streamMessage")
	if r.Err() != nil {
		return nil
	}
	msg, err := c.messages.Deserialize(arr)
	r.Wrap(index, "streamMessage", err)
	return msg
}

// ===== [2, type, requestId, streamMessage] =====

type broadcastV2 struct{ nested nestedCodec }

func (c broadcastV2) ToArray(m Message) ([]any, error) {
	msg, ok := m.(*BroadcastMessage)
	if !ok {
		return nil, wrongType(TypeBroadcastMessage, m)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	nested, err := c.nested.encode(msg.StreamMessage)
	if err != nil {
		return nil, err
	}
	return append(header(TypeBroadcastMessage, msg.RequestID), nested), nil
}

func (c broadcastV2) FromArray(arr []any) (Message, error) {
	r := protocol.NewArrayReader(Class, arr, 4)
	requestID := r.NullableString(2, "requestId")
	msg := c.nested.decode(r, 3)
	if err := r.Err(); err != nil {
		return nil, err
	}
	return result(NewBroadcastMessage(requestID, msg))
}

type unicastV2 struct{ nested nestedCodec }

func (c unicastV2) ToArray(m Message) ([]any, error) {
	msg, ok := m.(*UnicastMessage)
	if !ok {
		return nil, wrongType(TypeUnicastMessage, m)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	nested, err := c.nested.encode(msg.StreamMessage)
	if err != nil {
		return nil, err
	}
	return append(header(TypeUnicastMessage, msg.RequestID), nested), nil
}

func (c unicastV2) FromArray(arr []any) (Message, error) {
	r := protocol.NewArrayReader(Class, arr, 4)
	requestID := r.String(2, "requestId")
	msg := c.nested.decode(r, 3)
	if err := r.Err(); err != nil {
		return nil, err
	}
	return result(NewUnicastMessage(requestID, msg))
}

// ===== [2, 8, requestId, streamMessage, sessionToken] =====

type publishRequestV2 struct{ nested nestedCodec }

func (c publishRequestV2) ToArray(m Message) ([]any, error) {
	msg, ok := m.(*PublishRequest)
	if !ok {
		return nil, wrongType(TypePublishRequest, m)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	nested, err := c.nested.encode(msg.StreamMessage)
	if err != nil {
		return nil, err
	}
	return append(header(TypePublishRequest, msg.RequestID), nested, nullable(msg.SessionToken)), nil
}

func (c publishRequestV2) FromArray(arr []any) (Message, error) {
	r := protocol.NewArrayReader(Class, arr, 5)
	requestID := r.String(2, "requestId")
	msg := c.nested.decode(r, 3)
	sessionToken := r.NullableString(4, "sessionToken")
	if err := r.Err(); err != nil {
		return nil, err
	}
	return result(NewPublishRequest(requestID, msg, sessionToken))
}

// ===== [2, 7, requestId, errorMessage, errorCode] =====

type errorResponseV2 struct{}

func (errorResponseV2) ToArray(m Message) ([]any, error) {
	msg, ok := m.(*ErrorResponse)
	if !ok {
		return nil, wrongType(TypeErrorResponse, m)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return append(header(TypeErrorResponse, msg.RequestID), msg.ErrorMessage, string(msg.ErrorCode)), nil
}

func (errorResponseV2) FromArray(arr []any) (Message, error) {
	r := protocol.NewArrayReader(Class, arr, 5)
	requestID := r.String(2, "requestId")
	errorMessage := r.String(3, "errorMessage")
	errorCode := r.String(4, "errorCode")
	if err := r.Err(); err != nil {
		return nil, err
	}
	return result(NewErrorResponse(requestID, errorMessage, ErrorCode(errorCode)))
}

// ===== [2, type, requestId, streamId, streamPartition] =====

type streamPartitionV2 struct {
	msgType Type
}

func (c streamPartitionV2) ToArray(m Message) ([]any, error) {
	if m.Type() != c.msgType {
		return nil, wrongType(c.msgType, m)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	var streamID string
	var partition int
	switch msg := m.(type) {
	case *SubscribeResponse:
		streamID, partition = msg.StreamID, msg.StreamPartition
	case *UnsubscribeResponse:
		streamID, partition = msg.StreamID, msg.StreamPartition
	case *ResendResponseResending:
		streamID, partition = msg.StreamID, msg.StreamPartition
	case *ResendResponseResent:
		streamID, partition = msg.StreamID, msg.StreamPartition
	case *ResendResponseNoResend:
		streamID, partition = msg.StreamID, msg.StreamPartition
	case *UnsubscribeRequest:
		streamID, partition = msg.StreamID, msg.StreamPartition
	default:
		return nil, wrongType(c.msgType, m)
	}
	return append(header(c.msgType, RequestID(m)), streamID, partition), nil
}

func (c streamPartitionV2) FromArray(arr []any) (Message, error) {
	r := protocol.NewArrayReader(Class, arr, 5)
	requestID := r.String(2, "requestId")
	streamID := r.String(3, "streamId")
	partition := int(r.Int(4, "streamPartition"))
	if err := r.Err(); err != nil {
		return nil, err
	}
	switch c.msgType {
	case TypeSubscribeResponse:
		return result(NewSubscribeResponse(requestID, streamID, partition))
	case TypeUnsubscribeResponse:
		return result(NewUnsubscribeResponse(requestID, streamID, partition))
	case TypeResendResponseResending:
		return result(NewResendResponseResending(requestID, streamID, partition))
	case TypeResendResponseResent:
		return result(NewResendResponseResent(requestID, streamID, partition))
	case TypeResendResponseNoResend:
		return result(NewResendResponseNoResend(requestID, streamID, partition))
	case TypeUnsubscribeRequest:
		return result(NewUnsubscribeRequest(requestID, streamID, partition))
	}
	return nil, fmt.Errorf("no stream partition codec for %s", c.msgType)
}

// ===== [2, 9, requestId, streamId, streamPartition, sessionToken] =====

type subscribeRequestV2 struct{}

func (subscribeRequestV2) ToArray(m Message) ([]any, error) {
	msg, ok := m.(*SubscribeRequest)
	if !ok {
		return nil, wrongType(TypeSubscribeRequest, m)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return append(header(TypeSubscribeRequest, msg.RequestID),
		msg.StreamID, msg.StreamPartition, nullable(msg.SessionToken)), nil
}

func (subscribeRequestV2) FromArray(arr []any) (Message, error) {
	r := protocol.NewArrayReader(Class, arr, 5)
	requestID := r.String(2, "requestId")
	streamID := r.String(3, "streamId")
	partition := int(r.Int(4, "streamPartition"))
	sessionToken := r.NullableString(5, "sessionToken")
	if err := r.Err(); err != nil {
		return nil, err
	}
	return result(NewSubscribeRequest(requestID, streamID, partition, sessionToken))
}

// ===== [2, 11, requestId, streamId, streamPartition, numberLast, sessionToken] =====

type resendLastRequestV2 struct{}

func (resendLastRequestV2) ToArray(m Message) ([]any, error) {
	msg, ok := m.(*ResendLastRequest)
	if !ok {
		return nil, wrongType(TypeResendLastRequest, m)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return append(header(TypeResendLastRequest, msg.RequestID),
		msg.StreamID, msg.StreamPartition, msg.NumberLast, nullable(msg.SessionToken)), nil
}

func (resendLastRequestV2) FromArray(arr []any) (Message, error) {
	r := protocol.NewArrayReader(Class, arr, 6)
	requestID := r.String(2, "requestId")
	streamID := r.String(3, "streamId")
	partition := int(r.Int(4, "streamPartition"))
	numberLast := int(r.Int(5, "numberLast"))
	sessionToken := r.NullableString(6, "sessionToken")
	if err := r.Err(); err != nil {
		return nil, err
	}
	return result(NewResendLastRequest(requestID, streamID, partition, numberLast, sessionToken))
}

// ===== [2, 12, requestId, streamId, streamPartition, fromMsgRef, publisherId, sessionToken] =====

type resendFromRequestV2 struct{}

func (resendFromRequestV2) ToArray(m Message) ([]any, error) {
	msg, ok := m.(*ResendFromRequest)
	if !ok {
		return nil, wrongType(TypeResendFromRequest, m)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return append(header(TypeResendFromRequest, msg.RequestID),
		msg.StreamID, msg.StreamPartition, msg.FromMsgRef.ToArray(),
		nullable(msg.PublisherID), nullable(msg.SessionToken)), nil
}

func (resendFromRequestV2) FromArray(arr []any) (Message, error) {
	r := protocol.NewArrayReader(Class, arr, 6)
	requestID := r.String(2, "requestId")
	streamID := r.String(3, "streamId")
	partition := int(r.Int(4, "streamPartition"))
	from := readRef(r, 5, "fromMsgRef")
	publisherID := r.NullableString(6, "publisherId")
	sessionToken := r.NullableString(7, "sessionToken")
	if err := r.Err(); err != nil {
		return nil, err
	}
	return result(NewResendFromRequest(requestID, streamID, partition, from, publisherID, sessionToken))
}

// ===== [2, 13, requestId, streamId, streamPartition, fromMsgRef, toMsgRef, publisherId, msgChainId, sessionToken] =====

type resendRangeRequestV2 struct{}

func (resendRangeRequestV2) ToArray(m Message) ([]any, error) {
	msg, ok := m.(*ResendRangeRequest)
	if !ok {
		return nil, wrongType(TypeResendRangeRequest, m)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return append(header(TypeResendRangeRequest, msg.RequestID),
		msg.StreamID, msg.StreamPartition, msg.FromMsgRef.ToArray(), msg.ToMsgRef.ToArray(),
		nullable(msg.PublisherID), nullable(msg.MsgChainID), nullable(msg.SessionToken)), nil
}

func (resendRangeRequestV2) FromArray(arr []any) (Message, error) {
	r := protocol.NewArrayReader(Class, arr, 7)
	requestID := r.String(2, "requestId")
	streamID := r.String(3, "streamId")
	partition := int(r.Int(4, "streamPartition"))
	from := readRef(r, 5, "fromMsgRef")
	to := readRef(r, 6, "toMsgRef")
	publisherID := r.NullableString(7, "publisherId")
	msgChainID := r.NullableString(8, "msgChainId")
	sessionToken := r.NullableString(9, "sessionToken")
	if err := r.Err(); err != nil {
		return nil, err
	}
	return result(NewResendRangeRequest(requestID, streamID, partition, from, to, publisherID, msgChainID, sessionToken))
}

func readRef(r *protocol.ArrayReader, index int, name string) protocol.MessageRef {
	arr := r.Array(index, name)
	if r.Err() != nil {
		return protocol.MessageRef{}
	}
	ref, err := protocol.MessageRefFromArray(arr, true)
	r.Wrap(index, name, err)
	return ref
}

// result drops the typed nil a failed constructor returns
func result[M Message](m M, err error) (Message, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}
