package encryption

import (
	"context"

	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-streams/pkg/crypto"
	"github.com/ZentaChain/zentalk-streams/pkg/logging"
)

// KeyStore persists group keys per stream
type KeyStore interface {
	HasAnyGroupKey(ctx context.Context, streamID string) (bool, error)
	UseGroupKey(ctx context.Context, streamID string) (current, next *crypto.GroupKey, err error)
	Rotate(ctx context.Context, streamID string) (*crypto.GroupKey, error)
}

// PublisherKeyExchange is the publisher side of the key exchange: it hands
// out the keys of a KeyStore and, when configured to, creates the first key
// of a stream on demand
type PublisherKeyExchange struct {
	store         KeyStore
	createMissing bool
	logger        *zap.Logger
}

// NewPublisherKeyExchange wraps store. With createMissing, UseGroupKey on a
// stream without keys generates one instead of returning none.
func NewPublisherKeyExchange(store KeyStore, createMissing bool, logger *zap.Logger) *PublisherKeyExchange {
	return &PublisherKeyExchange{
		store:         store,
		createMissing: createMissing,
		logger:        logging.OrNop(logger).Named("keyexchange"),
	}
}

func (p *PublisherKeyExchange) HasAnyGroupKey(ctx context.Context, streamID string) (bool, error) {
	return p.store.HasAnyGroupKey(ctx, streamID)
}

func (p *PublisherKeyExchange) UseGroupKey(ctx context.Context, streamID string) (*crypto.GroupKey, *crypto.GroupKey, error) {
	current, next, err := p.store.UseGroupKey(ctx, streamID)
	if err != nil || current != nil || !p.createMissing {
		return current, next, err
	}

	key, err := p.store.Rotate(ctx, streamID)
	if err != nil {
		return nil, nil, err
	}
	p.logger.Info("created first group key", zap.String("stream", streamID), zap.String("key", key.ID))
	return p.store.UseGroupKey(ctx, streamID)
}

// RotateGroupKey queues a fresh key for streamID; the next published message
// announces it
func (p *PublisherKeyExchange) RotateGroupKey(ctx context.Context, streamID string) (*crypto.GroupKey, error) {
	return p.store.Rotate(ctx, streamID)
}
