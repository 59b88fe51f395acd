// Package encryption decides, per outgoing stream message, whether its content
// must be encrypted and applies the stream's group key.
package encryption

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-streams/pkg/crypto"
	"github.com/ZentaChain/zentalk-streams/pkg/logging"
	"github.com/ZentaChain/zentalk-streams/pkg/metrics"
	"github.com/ZentaChain/zentalk-streams/pkg/protocol"
	"github.com/ZentaChain/zentalk-streams/pkg/streams"
)

// ErrEncryptionKeyMissing matches every *EncryptionKeyMissingError
var ErrEncryptionKeyMissing = errors.New("encryption key missing")

// EncryptionKeyMissingError reports that a stream needs encryption but no
// group key is available for it
type EncryptionKeyMissingError struct {
	StreamID string
}

func (e *EncryptionKeyMissingError) Error() string {
	return fmt.Sprintf("tried to use group key but no group key found for stream %s", e.StreamID)
}

func (e *EncryptionKeyMissingError) Is(target error) bool {
	return target == ErrEncryptionKeyMissing
}

// MetadataSource resolves stream metadata. A not-found answer must match
// streams.ErrStreamNotFound.
type MetadataSource interface {
	Stream(ctx context.Context, streamID string) (*streams.Stream, error)
}

// KeyExchange supplies the group keys of the streams being published to
type KeyExchange interface {
	HasAnyGroupKey(ctx context.Context, streamID string) (bool, error)
	UseGroupKey(ctx context.Context, streamID string) (current, next *crypto.GroupKey, err error)
}

// Gate encrypts outgoing messages according to stream policy. A new gate is
// running; Stop abandons in-flight lookups and turns Encrypt into a no-op
// until Start is called again.
type Gate struct {
	metadata MetadataSource
	keys     KeyExchange
	logger   *zap.Logger
	volume   *metrics.Volume

	mu     sync.Mutex
	run    context.Context
	cancel context.CancelFunc
}

// Option configures a Gate
type Option func(*Gate)

// WithLogger sets the gate's logger
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithVolume counts the gate's decisions in v
func WithVolume(v *metrics.Volume) Option {
	return func(g *Gate) {
		g.volume = v
	}
}

// NewGate returns a running gate
func NewGate(metadata MetadataSource, keys KeyExchange, opts ...Option) *Gate {
	g := &Gate{metadata: metadata, keys: keys}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.OrNop(g.logger).Named("encryption")
	g.run, g.cancel = context.WithCancel(context.Background())
	return g
}

// Start resumes a stopped gate. Starting a running gate does nothing.
func (g *Gate) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.run.Err() == nil {
		return
	}
	g.run, g.cancel = context.WithCancel(context.Background())
}

// Stop halts the gate, including encryptions waiting on a lookup.
// Stopping a stopped gate does nothing.
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancel()
}

// Running reports whether the gate is started
func (g *Gate) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.run.Err() == nil
}

func (g *Gate) runContext() context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.run
}

// Encrypt takes ownership of msg and returns the message to publish: msg
// itself when no encryption applies, or an encrypted copy. When the gate is
// stopped, before or during the call, msg is returned unchanged with a nil
// error. On error msg is returned unchanged along with the error.
func (g *Gate) Encrypt(ctx context.Context, msg *protocol.StreamMessage) (*protocol.StreamMessage, error) {
	out, err := g.encrypt(ctx, msg)
	if err == nil && g.volume != nil {
		g.volume.ObserveEncryption(out.IsEncrypted())
	}
	return out, err
}

func (g *Gate) encrypt(ctx context.Context, msg *protocol.StreamMessage) (*protocol.StreamMessage, error) {
	run := g.runContext()
	if run.Err() != nil {
		return msg, nil
	}

	if msg.IsEncrypted() {
		return msg, nil
	}

	// group key exchange messages carry the keys themselves
	if msg.MessageType.IsGroupKeyExchange() {
		return msg, nil
	}
	if msg.MessageType != protocol.MessageTypeMessage {
		return msg, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopWatch := context.AfterFunc(run, cancel)
	defer stopWatch()

	streamID := msg.StreamID()
	stopped := func() bool {
		if run.Err() != nil {
			g.logger.Debug("gate stopped during lookup, encryption abandoned", zap.String("stream", streamID))
			return true
		}
		return false
	}

	stream, err := g.metadata.Stream(ctx, streamID)
	if stopped() {
		return msg, nil
	}
	if errors.Is(err, streams.ErrStreamNotFound) {
		g.logger.Debug("stream metadata not found, not encrypting", zap.String("stream", streamID))
		return msg, nil
	}
	if err != nil {
		return msg, fmt.Errorf("resolve stream %s: %w", streamID, err)
	}

	if !stream.RequireEncryptedData {
		hasKey, err := g.keys.HasAnyGroupKey(ctx, streamID)
		if stopped() {
			return msg, nil
		}
		if err != nil {
			return msg, fmt.Errorf("check group keys of %s: %w", streamID, err)
		}
		if !hasKey {
			g.logger.Debug("no group key established, publishing unencrypted", zap.String("stream", streamID))
			return msg, nil
		}
	}

	current, next, err := g.keys.UseGroupKey(ctx, streamID)
	if stopped() {
		return msg, nil
	}
	if err != nil {
		return msg, fmt.Errorf("use group key of %s: %w", streamID, err)
	}
	if current == nil {
		return msg, &EncryptionKeyMissingError{StreamID: streamID}
	}

	encrypted := msg.Clone()
	if err := crypto.EncryptStreamMessage(encrypted, current, next); err != nil {
		return msg, err
	}
	return encrypted, nil
}
