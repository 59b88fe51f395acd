// Package publisher turns application content into signed, optionally
// encrypted, wire-ready stream messages of one message chain.
package publisher

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-streams/pkg/crypto"
	"github.com/ZentaChain/zentalk-streams/pkg/logging"
	"github.com/ZentaChain/zentalk-streams/pkg/metrics"
	"github.com/ZentaChain/zentalk-streams/pkg/protocol"
)

// ErrEncrypterStopped is returned when the encrypter was stopped while a
// message passed through it. The message is dropped.
var ErrEncrypterStopped = errors.New("encrypter stopped, message dropped")

// Encrypter applies the stream's encryption policy to an outgoing message
type Encrypter interface {
	Encrypt(ctx context.Context, msg *protocol.StreamMessage) (*protocol.StreamMessage, error)
}

// runningChecker is implemented by encrypters with a lifecycle. A stopped
// encrypter passes messages through untouched, so they must not be sent.
type runningChecker interface {
	Running() bool
}

// Config configures a Publisher
type Config struct {
	StreamID        string
	StreamPartition int
	MsgChainID      string // random when empty
	Version         int    // stream message version written; 0 selects the latest

	Signer         *crypto.Signer // required
	Encrypter      Encrypter      // nil publishes everything unencrypted
	StreamMessages *protocol.StreamMessageRegistry
	Volume         *metrics.Volume
	Logger         *zap.Logger
	Now            func() time.Time
}

// Publisher runs content through chain, encryption, signing and
// serialization, in that order.
type Publisher struct {
	mu        sync.Mutex // one message in flight per chain
	chain     *protocol.MessageChain
	signer    *crypto.Signer
	encrypter Encrypter
	registry  *protocol.StreamMessageRegistry
	version   int
	volume    *metrics.Volume
	logger    *zap.Logger
	now       func() time.Time
}

// New validates cfg and starts a message chain for the signer's address
func New(cfg Config) (*Publisher, error) {
	if cfg.Signer == nil {
		return nil, fmt.Errorf("signer not given")
	}
	chain, err := protocol.NewMessageChain(cfg.StreamID, cfg.StreamPartition, cfg.Signer.Address(), cfg.MsgChainID)
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		chain:     chain,
		signer:    cfg.Signer,
		encrypter: cfg.Encrypter,
		registry:  cfg.StreamMessages,
		version:   cfg.Version,
		volume:    cfg.Volume,
		logger:    logging.OrNop(cfg.Logger).Named("publisher"),
		now:       cfg.Now,
	}
	if p.registry == nil {
		p.registry = protocol.DefaultStreamMessageRegistry()
	}
	if p.version == 0 {
		p.version = p.registry.LatestVersion()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// MsgChainID returns the id of the chain messages are published on
func (p *Publisher) MsgChainID() string {
	return p.chain.MsgChainID()
}

// Publish builds the next message of the chain from JSON content and returns
// it together with its wire encoding. The chain only advances when the
// message is fully built, so a failed message leaves no gap.
func (p *Publisher) Publish(ctx context.Context, content string) (*protocol.StreamMessage, []byte, error) {
	if !json.Valid([]byte(content)) {
		return nil, nil, &protocol.ValidationError{Field: "serializedContent", Reason: "not valid JSON"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	msg, err := p.chain.PendingMessage(p.now().UnixMilli(), content)
	if err != nil {
		return nil, nil, err
	}

	if p.encrypter != nil {
		if msg, err = p.encrypter.Encrypt(ctx, msg); err != nil {
			return nil, nil, fmt.Errorf("encrypt: %w", err)
		}
		if rc, ok := p.encrypter.(runningChecker); ok && !rc.Running() {
			return nil, nil, ErrEncrypterStopped
		}
	}

	if err := p.signer.SignStreamMessage(msg); err != nil {
		return nil, nil, err
	}

	data, err := p.registry.Marshal(msg, p.version)
	if err != nil {
		return nil, nil, fmt.Errorf("serialize: %w", err)
	}
	if err := p.chain.Commit(msg.MessageID); err != nil {
		return nil, nil, err
	}
	if p.volume != nil {
		p.volume.ObserveEncoded(p.registry.Class(), p.version, len(data))
	}

	p.logger.Debug("Published",
		zap.String("stream", msg.StreamID()),
		zap.Int64("timestamp", msg.MessageID.Timestamp),
		zap.Int("sequenceNumber", msg.MessageID.SequenceNumber),
		zap.Bool("encrypted", msg.IsEncrypted()))
	return msg, data, nil
}

// PublishLines publishes every non-empty line of r as JSON content and writes
// the wire frames to w, one per line. It stops at the first error.
func (p *Publisher) PublishLines(ctx context.Context, r io.Reader, w io.Writer) (int, error) {
	scanner := bufio.NewScanner(r)
	bw := bufio.NewWriter(w)
	published := 0

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return published, err
		}
		line := scanner.Text()
		if line == "" {
			continue
		}

		_, data, err := p.Publish(ctx, line)
		if err != nil {
			return published, fmt.Errorf("message %d: %w", published+1, err)
		}
		bw.Write(data)
		bw.WriteByte('\n')
		if err := bw.Flush(); err != nil {
			return published, err
		}
		published++
	}
	return published, scanner.Err()
}
