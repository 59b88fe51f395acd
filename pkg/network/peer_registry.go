package network

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// PeerRegistry tracks known peers and the versions negotiated with each
type PeerRegistry struct {
	local  *PeerInfo
	logger *zap.Logger

	peers      map[string]*PeerInfo
	negotiated map[string]Versions
	mu         sync.RWMutex
}

// NewPeerRegistry creates a registry negotiating on behalf of local
func NewPeerRegistry(local *PeerInfo, logger *zap.Logger) *PeerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeerRegistry{
		local:      local,
		logger:     logger,
		peers:      make(map[string]*PeerInfo),
		negotiated: make(map[string]Versions),
	}
}

// Local returns the local peer
func (r *PeerRegistry) Local() *PeerInfo {
	return r.local
}

// AddPeer negotiates versions with info and records it. A peer without a
// common version is rejected and not recorded.
func (r *PeerRegistry) AddPeer(info *PeerInfo) (Versions, error) {
	versions, err := NegotiateVersions(r.local, info)
	if err != nil {
		r.logger.Warn("Rejecting peer",
			zap.Stringer("peer", info),
			zap.Error(err))
		return Versions{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[info.PeerID] = info
	r.negotiated[info.PeerID] = versions

	r.logger.Debug("Peer added",
		zap.Stringer("peer", info),
		zap.String("type", string(info.PeerType)),
		zap.Int("controlLayerVersion", versions.ControlLayer),
		zap.Int("messageLayerVersion", versions.MessageLayer))
	return versions, nil
}

// RemovePeer forgets a peer
func (r *PeerRegistry) RemovePeer(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, peerID)
	delete(r.negotiated, peerID)
}

// Peer returns the info of a known peer
func (r *PeerRegistry) Peer(peerID string) (*PeerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.peers[peerID]
	return info, ok
}

// Versions returns the versions negotiated with a known peer
func (r *PeerRegistry) Versions(peerID string) (Versions, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.negotiated[peerID]
	if !ok {
		return Versions{}, fmt.Errorf("%w: %s", ErrPeerNotFound, peerID)
	}
	return versions, nil
}

// Peers returns the known peers of the given type; an empty type returns all
func (r *PeerRegistry) Peers(peerType PeerType) []*PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]*PeerInfo, 0, len(r.peers))
	for _, info := range r.peers {
		if peerType == "" || info.PeerType == peerType {
			peers = append(peers, info)
		}
	}
	return peers
}

// Count returns the number of known peers
func (r *PeerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
