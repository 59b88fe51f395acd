package encryption

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-streams/pkg/crypto"
	"github.com/ZentaChain/zentalk-streams/pkg/metrics"
	"github.com/ZentaChain/zentalk-streams/pkg/protocol"
	"github.com/ZentaChain/zentalk-streams/pkg/storage"
	"github.com/ZentaChain/zentalk-streams/pkg/streams"
)

type fakeMetadata struct {
	streams map[string]*streams.Stream
	err     error
	calls   atomic.Int32

	// when set, lookups block until ctx is done and entered is signalled
	block   bool
	entered chan struct{}
}

func (f *fakeMetadata) Stream(ctx context.Context, streamID string) (*streams.Stream, error) {
	f.calls.Add(1)
	if f.block {
		close(f.entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	stream, ok := f.streams[streamID]
	if !ok {
		return nil, &streams.HTTPError{Status: 404, Method: "GET", URL: "/streams/" + streamID}
	}
	return stream, nil
}

type fakeKeys struct {
	mu      sync.Mutex
	current map[string]*crypto.GroupKey
	next    map[string]*crypto.GroupKey
}

func newFakeKeys() *fakeKeys {
	return &fakeKeys{current: map[string]*crypto.GroupKey{}, next: map[string]*crypto.GroupKey{}}
}

func (f *fakeKeys) HasAnyGroupKey(_ context.Context, streamID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current[streamID] != nil, nil
}

func (f *fakeKeys) UseGroupKey(_ context.Context, streamID string) (*crypto.GroupKey, *crypto.GroupKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current[streamID], f.next[streamID], nil
}

func (f *fakeKeys) set(t *testing.T, streamID string) *crypto.GroupKey {
	t.Helper()
	key, err := crypto.NewGroupKey()
	require.NoError(t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current[streamID] = key
	return key
}

func newMessage(t *testing.T, streamID string, msgType protocol.MessageType) *protocol.StreamMessage {
	t.Helper()
	msg, err := protocol.NewStreamMessage(protocol.StreamMessageOptions{
		MessageID:         protocol.MessageID{StreamID: streamID, Timestamp: 1000, PublisherID: "p1", MsgChainID: "c1"},
		MessageType:       msgType,
		SerializedContent: `{"a":1}`,
	})
	require.NoError(t, err)
	return msg
}

func testStreams() *fakeMetadata {
	return &fakeMetadata{streams: map[string]*streams.Stream{
		"secret": {ID: "secret", RequireEncryptedData: true},
		"open":   {ID: "open"},
	}}
}

func TestGateEncryptsRequiredStream(t *testing.T) {
	keys := newFakeKeys()
	key := keys.set(t, "secret")
	gate := NewGate(testStreams(), keys)

	msg := newMessage(t, "secret", protocol.MessageTypeMessage)
	out, err := gate.Encrypt(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, protocol.EncryptionTypeAES, out.EncryptionType)
	assert.Equal(t, key.ID, out.GroupKeyID)
	assert.NoError(t, out.Validate())

	// the caller's envelope is not touched
	assert.True(t, msg.Equal(newMessage(t, "secret", protocol.MessageTypeMessage)))

	_, err = crypto.DecryptStreamMessage(out, key)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out.SerializedContent)
}

func TestGateIdempotent(t *testing.T) {
	keys := newFakeKeys()
	keys.set(t, "secret")
	gate := NewGate(testStreams(), keys)

	first, err := gate.Encrypt(context.Background(), newMessage(t, "secret", protocol.MessageTypeMessage))
	require.NoError(t, err)
	require.True(t, first.IsEncrypted())
	snapshot := first.Clone()

	second, err := gate.Encrypt(context.Background(), first)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.True(t, snapshot.Equal(second))
}

func TestGateCountsDecisions(t *testing.T) {
	keys := newFakeKeys()
	keys.set(t, "secret")
	volume := metrics.NewVolume()
	gate := NewGate(testStreams(), keys, WithVolume(volume))

	for _, stream := range []string{"secret", "open", "open"} {
		_, err := gate.Encrypt(context.Background(), newMessage(t, stream, protocol.MessageTypeMessage))
		require.NoError(t, err)
	}

	report, err := volume.Report()
	require.NoError(t, err)
	assert.Equal(t, 1.0, report.Encrypted)
	assert.Equal(t, 2.0, report.Plaintext)
}

func TestGateExemptsKeyExchangeMessages(t *testing.T) {
	keys := newFakeKeys()
	keys.set(t, "secret")
	metadata := testStreams()
	gate := NewGate(metadata, keys)

	for _, msgType := range []protocol.MessageType{
		protocol.MessageTypeGroupKeyRequest,
		protocol.MessageTypeGroupKeyResponse,
		protocol.MessageTypeGroupKeyAnnounce,
		protocol.MessageTypeGroupKeyErrorResponse,
	} {
		t.Run(msgType.String(), func(t *testing.T) {
			msg := newMessage(t, "secret", msgType)
			out, err := gate.Encrypt(context.Background(), msg)
			require.NoError(t, err)
			assert.Same(t, msg, out)
			assert.Equal(t, protocol.EncryptionTypeNone, out.EncryptionType)
		})
	}
	assert.Zero(t, metadata.calls.Load())
}

func TestGatePolicy(t *testing.T) {
	tests := []struct {
		name          string
		streamID      string
		withKey       bool
		wantEncrypted bool
		wantErr       error
	}{
		{name: "optional stream without key", streamID: "open", wantEncrypted: false},
		{name: "optional stream with key", streamID: "open", withKey: true, wantEncrypted: true},
		{name: "required stream with key", streamID: "secret", withKey: true, wantEncrypted: true},
		{name: "required stream without key", streamID: "secret", wantErr: ErrEncryptionKeyMissing},
		{name: "unknown stream", streamID: "missing", withKey: true, wantEncrypted: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := newFakeKeys()
			if tt.withKey {
				keys.set(t, tt.streamID)
			}
			gate := NewGate(testStreams(), keys)

			msg := newMessage(t, tt.streamID, protocol.MessageTypeMessage)
			out, err := gate.Encrypt(context.Background(), msg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				var missing *EncryptionKeyMissingError
				require.True(t, errors.As(err, &missing))
				assert.Equal(t, tt.streamID, missing.StreamID)
				assert.Same(t, msg, out)
				assert.False(t, out.IsEncrypted())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantEncrypted, out.IsEncrypted())
		})
	}
}

func TestGateMetadataError(t *testing.T) {
	metadata := testStreams()
	metadata.err = errors.New("core api down")
	gate := NewGate(metadata, newFakeKeys())

	msg := newMessage(t, "secret", protocol.MessageTypeMessage)
	out, err := gate.Encrypt(context.Background(), msg)
	assert.ErrorContains(t, err, "core api down")
	assert.Same(t, msg, out)
}

func TestGateStopMidLookup(t *testing.T) {
	metadata := &fakeMetadata{block: true, entered: make(chan struct{})}
	keys := newFakeKeys()
	keys.set(t, "secret")
	gate := NewGate(metadata, keys)

	msg := newMessage(t, "secret", protocol.MessageTypeMessage)
	type result struct {
		msg *protocol.StreamMessage
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := gate.Encrypt(context.Background(), msg)
		done <- result{out, err}
	}()

	select {
	case <-metadata.entered:
	case <-time.After(time.Second):
		t.Fatal("lookup never started")
	}
	gate.Stop()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Same(t, msg, r.msg)
		assert.False(t, r.msg.IsEncrypted())
	case <-time.After(time.Second):
		t.Fatal("Stop did not release the pending lookup")
	}
	assert.False(t, gate.Running())

	// stopped gates pass messages through without lookups
	out, err := gate.Encrypt(context.Background(), newMessage(t, "secret", protocol.MessageTypeMessage))
	require.NoError(t, err)
	assert.False(t, out.IsEncrypted())
	assert.EqualValues(t, 1, metadata.calls.Load())

	gate.Stop()
	gate.Start()
	gate.Start()
	assert.True(t, gate.Running())
}

func TestGateCallerCancellation(t *testing.T) {
	metadata := &fakeMetadata{block: true, entered: make(chan struct{})}
	gate := NewGate(metadata, newFakeKeys())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-metadata.entered
		cancel()
	}()

	msg := newMessage(t, "secret", protocol.MessageTypeMessage)
	out, err := gate.Encrypt(ctx, msg)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Same(t, msg, out)
	assert.True(t, gate.Running())
}

func TestGateWithGroupKeyStore(t *testing.T) {
	store, err := storage.NewGroupKeyStore(filepath.Join(t.TempDir(), "keys.db"), nil)
	require.NoError(t, err)
	defer store.Close()

	exchange := NewPublisherKeyExchange(store, true, nil)
	gate := NewGate(testStreams(), exchange)
	ctx := context.Background()

	// the first key of a required stream is created on demand
	first, err := gate.Encrypt(ctx, newMessage(t, "secret", protocol.MessageTypeMessage))
	require.NoError(t, err)
	require.Equal(t, protocol.EncryptionTypeAES, first.EncryptionType)

	firstKey, err := store.GroupKey(ctx, "secret", first.GroupKeyID)
	require.NoError(t, err)

	rotated, err := exchange.RotateGroupKey(ctx, "secret")
	require.NoError(t, err)

	// the next message announces the rotated key under the old one
	announcing, err := gate.Encrypt(ctx, newMessage(t, "secret", protocol.MessageTypeMessage))
	require.NoError(t, err)
	require.Equal(t, protocol.EncryptionTypeNewKeyAndAES, announcing.EncryptionType)
	assert.Equal(t, firstKey.ID, announcing.GroupKeyID)

	announced, err := crypto.DecryptStreamMessage(announcing, firstKey)
	require.NoError(t, err)
	assert.True(t, announced.Equal(rotated))

	after, err := gate.Encrypt(ctx, newMessage(t, "secret", protocol.MessageTypeMessage))
	require.NoError(t, err)
	assert.Equal(t, rotated.ID, after.GroupKeyID)

	// optional streams stay in the clear until a key exists
	open, err := gate.Encrypt(ctx, newMessage(t, "open", protocol.MessageTypeMessage))
	require.NoError(t, err)
	assert.False(t, open.IsEncrypted())
}

func TestPublisherKeyExchangeWithoutCreate(t *testing.T) {
	store, err := storage.NewGroupKeyStore(filepath.Join(t.TempDir(), "keys.db"), nil)
	require.NoError(t, err)
	defer store.Close()

	gate := NewGate(testStreams(), NewPublisherKeyExchange(store, false, nil))
	_, err = gate.Encrypt(context.Background(), newMessage(t, "secret", protocol.MessageTypeMessage))
	assert.ErrorIs(t, err, ErrEncryptionKeyMissing)
}
