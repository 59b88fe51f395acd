// Package protocol implements the message layer of the ZenTalk streams protocol.
//
// The protocol package defines message identity, the stream message envelope,
// and the versioned serializer registry used by publishers, relay nodes,
// trackers and subscribers to exchange envelopes.
//
// # Protocol Overview
//
// Every published unit of data travels as a StreamMessage:
//   - MessageID identifies the message and orders it within its msg chain
//   - PrevMsgRef points at the previous message of the same chain (gap detection)
//   - MessageType separates content from group key exchange messages
//   - EncryptionType/GroupKeyID describe how the content was encrypted
//   - SignatureType/Signature authenticate the publisher
//
// # Message Identity
//
// A msg chain is the tuple (streamId, streamPartition, publisherId, msgChainId).
// Within a chain, (timestamp, sequenceNumber) is strictly increasing. MessageChain
// assigns these on the publisher side, GapDetector checks them on the receiver side.
//
// # Wire Format
//
// Messages are encoded as positional arrays. The first element is always the
// version number; for message classes with several variants (the control layer)
// the second element is the type discriminant:
//
//	[version, ...fields]                 stream messages
//	[version, type, ...fields]           control messages
//
// Field order is fixed per version. Stream message versions:
//
//	30: [30, msgId, prevRef, messageType, content, signatureType, signature]
//	31: [31, msgId, prevRef, messageType, encryptionType, content, signatureType, signature]
//	32: [32, msgId, prevRef, messageType, contentType, encryptionType, groupKeyId,
//	     content, signatureType, signature]
//
// where msgId is [streamId, streamPartition, timestamp, sequenceNumber, publisherId, msgChainId]
// and prevRef is [timestamp, sequenceNumber] or null.
//
// The array may be framed by the transport in any way; Registry.Marshal and
// Registry.Unmarshal provide JSON text framing.
//
// # Usage Example
//
//	registry := protocol.DefaultStreamMessageRegistry()
//
//	chain, _ := protocol.NewMessageChain("s1", 0, "p1", "")
//	msg, _ := chain.NewMessage(protocol.NowUnixMilli(), `{"a":1}`)
//
//	// Encode at version 31
//	arr, _ := registry.Serialize(msg, protocol.StreamMessageVersion31)
//
//	// Decode on the receiver
//	decoded, err := registry.Deserialize(arr)
//
// # Errors
//
// Construction failures return *ValidationError (errors.Is ErrValidation).
// Decoding an unknown version returns *UnsupportedVersionError and a short or
// ill-typed array returns *MalformedMessageError. The transport should drop
// such messages, never crash.
//
// # Compatibility
//
// A receiver that only knows version N rejects version N+1 arrays with
// ErrUnsupportedVersion instead of mis-parsing them. Registries are built once
// and frozen; registering after Freeze fails with ErrRegistryFrozen.
package protocol
