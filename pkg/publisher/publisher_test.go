package publisher

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-streams/pkg/crypto"
	"github.com/ZentaChain/zentalk-streams/pkg/encryption"
	"github.com/ZentaChain/zentalk-streams/pkg/protocol"
)

const testKey = "0000000000000000000000000000000000000000000000000000000000000001"

type keyEncrypter struct{ key *crypto.GroupKey }

func (e keyEncrypter) Encrypt(_ context.Context, msg *protocol.StreamMessage) (*protocol.StreamMessage, error) {
	out := msg.Clone()
	if err := crypto.EncryptStreamMessage(out, e.key, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// scriptedEncrypter fails the calls listed in failures and otherwise passes
// messages through. stopped is reported through Running.
type scriptedEncrypter struct {
	failures map[int]error
	calls    int
	stopped  bool
}

func (e *scriptedEncrypter) Encrypt(_ context.Context, msg *protocol.StreamMessage) (*protocol.StreamMessage, error) {
	e.calls++
	if err := e.failures[e.calls]; err != nil {
		return msg, err
	}
	return msg, nil
}

func (e *scriptedEncrypter) Running() bool { return !e.stopped }

func newPublisher(t *testing.T, cfg Config) *Publisher {
	t.Helper()
	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	cfg.Signer = signer
	if cfg.StreamID == "" {
		cfg.StreamID = "s1"
	}
	cfg.Now = func() time.Time { return time.UnixMilli(1000) }
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

func TestPublishSignedChain(t *testing.T) {
	p := newPublisher(t, Config{MsgChainID: "c1"})

	first, data, err := p.Publish(context.Background(), `{"a":1}`)
	require.NoError(t, err)
	second, _, err := p.Publish(context.Background(), `{"a":2}`)
	require.NoError(t, err)

	// the clock did not move, so the sequence number carries the order
	assert.Equal(t, protocol.MessageRef{Timestamp: 1000, SequenceNumber: 0}, first.Ref())
	assert.Equal(t, protocol.MessageRef{Timestamp: 1000, SequenceNumber: 1}, second.Ref())
	assert.Equal(t, first.Ref(), *second.PrevMsgRef)

	decoded, err := protocol.DefaultStreamMessageRegistry().Unmarshal(data)
	require.NoError(t, err)
	assert.True(t, first.Equal(decoded))
	assert.Equal(t, "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf", decoded.PublisherID())
	assert.NoError(t, crypto.VerifyStreamMessage(decoded))
}

func TestPublishEncrypted(t *testing.T) {
	key, err := crypto.NewGroupKey()
	require.NoError(t, err)
	p := newPublisher(t, Config{Encrypter: keyEncrypter{key}})

	msg, data, err := p.Publish(context.Background(), `{"secret":true}`)
	require.NoError(t, err)
	assert.True(t, msg.IsEncrypted())

	decoded, err := protocol.DefaultStreamMessageRegistry().Unmarshal(data)
	require.NoError(t, err)
	// the signature covers the ciphertext
	require.NoError(t, crypto.VerifyStreamMessage(decoded))
	_, err = crypto.DecryptStreamMessage(decoded, key)
	require.NoError(t, err)
	assert.Equal(t, `{"secret":true}`, decoded.SerializedContent)
}

func TestPublishEncryptedAtV31(t *testing.T) {
	key, err := crypto.NewGroupKey()
	require.NoError(t, err)
	p := newPublisher(t, Config{Version: protocol.StreamMessageVersion31, Encrypter: keyEncrypter{key}})

	msg, data, err := p.Publish(context.Background(), `{"a":1}`)
	require.NoError(t, err)
	assert.True(t, msg.IsEncrypted())
	assert.True(t, strings.HasPrefix(string(data), "[31,"), string(data))

	decoded, err := protocol.DefaultStreamMessageRegistry().Unmarshal(data)
	require.NoError(t, err)
	assert.Empty(t, decoded.GroupKeyID)
	require.NoError(t, crypto.VerifyStreamMessage(decoded))
	_, err = crypto.DecryptStreamMessage(decoded, key)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, decoded.SerializedContent)
}

func TestPublishErrors(t *testing.T) {
	key, err := crypto.NewGroupKey()
	require.NoError(t, err)

	t.Run("invalid json", func(t *testing.T) {
		_, _, err := newPublisher(t, Config{}).Publish(context.Background(), `{"a":`)
		assert.ErrorIs(t, err, protocol.ErrValidation)
	})

	t.Run("encrypted content at V30", func(t *testing.T) {
		p := newPublisher(t, Config{Version: protocol.StreamMessageVersion30, Encrypter: keyEncrypter{key}})
		_, _, err := p.Publish(context.Background(), `{"a":1}`)
		assert.ErrorIs(t, err, protocol.ErrValidation)
	})

	t.Run("missing signer", func(t *testing.T) {
		_, err := New(Config{StreamID: "s1"})
		assert.Error(t, err)
	})
}

func TestPublishLines(t *testing.T) {
	p := newPublisher(t, Config{Version: protocol.StreamMessageVersion31})

	var out bytes.Buffer
	n, err := p.PublishLines(context.Background(), strings.NewReader("{\"a\":1}\n\n{\"a\":2}\n"), &out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "[31,"), line)
	}

	n, err = p.PublishLines(context.Background(), strings.NewReader("{\"a\":3}\nnope\n"), &out)
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, protocol.ErrValidation)
}

func TestPublishFailureLeavesNoGap(t *testing.T) {
	keyMissing := errors.New("no group key")
	enc := &scriptedEncrypter{failures: map[int]error{2: keyMissing}}
	p := newPublisher(t, Config{MsgChainID: "c1", Encrypter: enc})

	first, _, err := p.Publish(context.Background(), `{"n":1}`)
	require.NoError(t, err)

	_, _, err = p.Publish(context.Background(), `{"n":2}`)
	assert.ErrorIs(t, err, keyMissing)

	third, _, err := p.Publish(context.Background(), `{"n":3}`)
	require.NoError(t, err)
	assert.Equal(t, protocol.MessageRef{Timestamp: 1000, SequenceNumber: 1}, third.Ref())
	require.NotNil(t, third.PrevMsgRef)
	assert.Equal(t, first.Ref(), *third.PrevMsgRef)

	detector := protocol.NewGapDetector()
	detector.Observe(first)
	status, gap := detector.Observe(third)
	assert.Equal(t, protocol.ChainInOrder, status)
	assert.Nil(t, gap)
}

func TestPublishSerializationFailureLeavesNoGap(t *testing.T) {
	key, err := crypto.NewGroupKey()
	require.NoError(t, err)
	p := newPublisher(t, Config{MsgChainID: "c1", Version: protocol.StreamMessageVersion30, Encrypter: keyEncrypter{key}})

	_, _, err = p.Publish(context.Background(), `{"a":1}`)
	require.ErrorIs(t, err, protocol.ErrValidation)

	// same chain id, unencrypted publisher picks up where the failed one left off
	p.encrypter = nil
	msg, _, err := p.Publish(context.Background(), `{"a":2}`)
	require.NoError(t, err)
	assert.Equal(t, protocol.MessageRef{Timestamp: 1000, SequenceNumber: 0}, msg.Ref())
	assert.Nil(t, msg.PrevMsgRef)
}

func TestPublishDropsWhenEncrypterStopped(t *testing.T) {
	enc := &scriptedEncrypter{stopped: true}
	p := newPublisher(t, Config{Encrypter: enc})

	msg, data, err := p.Publish(context.Background(), `{"a":1}`)
	assert.ErrorIs(t, err, ErrEncrypterStopped)
	assert.Nil(t, msg)
	assert.Nil(t, data)

	enc.stopped = false
	msg, _, err = p.Publish(context.Background(), `{"a":2}`)
	require.NoError(t, err)
	assert.Nil(t, msg.PrevMsgRef)
}

func TestPublishThroughStoppedGate(t *testing.T) {
	gate := encryption.NewGate(nil, nil)
	gate.Stop()
	p := newPublisher(t, Config{Encrypter: gate})

	_, _, err := p.Publish(context.Background(), `{"a":1}`)
	assert.ErrorIs(t, err, ErrEncrypterStopped)
}
