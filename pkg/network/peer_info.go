package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/multiformats/go-multiaddr"

	"github.com/ZentaChain/zentalk-streams/pkg/control"
	"github.com/ZentaChain/zentalk-streams/pkg/protocol"
)

var (
	ErrInvalidPeerInfo = errors.New("invalid peer info")
	ErrNoCommonVersion = errors.New("no common protocol version")
	ErrPeerNotFound    = errors.New("peer not found")
)

// PeerType tells trackers from nodes
type PeerType string

const (
	PeerTypeTracker PeerType = "tracker"
	PeerTypeNode    PeerType = "node"
	PeerTypeUnknown PeerType = "unknown"
)

func (t PeerType) valid() bool {
	switch t {
	case PeerTypeTracker, PeerTypeNode, PeerTypeUnknown:
		return true
	}
	return false
}

// Location is the optional geographic hint a peer advertises
type Location struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Country   string   `json:"country,omitempty"`
	City      string   `json:"city,omitempty"`
}

// PeerInfo describes a peer and the protocol versions it speaks
type PeerInfo struct {
	PeerID               string
	PeerType             PeerType
	ControlLayerVersions []int
	MessageLayerVersions []int
	PeerName             string
	Location             Location
	Addrs                []multiaddr.Multiaddr
}

// PeerOptions holds the optional parts of a PeerInfo. Nil version lists
// select the versions this build supports.
type PeerOptions struct {
	Name                 string
	Location             *Location
	ControlLayerVersions []int
	MessageLayerVersions []int
	Addrs                []string
}

// DefaultControlLayerVersions returns the control versions this build can decode
func DefaultControlLayerVersions() []int {
	return control.DefaultRegistry().SupportedVersions()
}

// DefaultMessageLayerVersions returns the stream message versions this build can decode
func DefaultMessageLayerVersions() []int {
	return protocol.DefaultStreamMessageRegistry().SupportedVersions()
}

// NewPeerInfo validates and builds a PeerInfo
func NewPeerInfo(peerID string, peerType PeerType, opts PeerOptions) (*PeerInfo, error) {
	if peerID == "" {
		return nil, fmt.Errorf("%w: peerId not given", ErrInvalidPeerInfo)
	}
	if !peerType.valid() {
		return nil, fmt.Errorf("%w: peerType %q not in peer types", ErrInvalidPeerInfo, peerType)
	}

	controlVersions := opts.ControlLayerVersions
	if controlVersions == nil {
		controlVersions = DefaultControlLayerVersions()
	}
	messageVersions := opts.MessageLayerVersions
	if messageVersions == nil {
		messageVersions = DefaultMessageLayerVersions()
	}
	if len(controlVersions) == 0 {
		return nil, fmt.Errorf("%w: controlLayerVersions not given", ErrInvalidPeerInfo)
	}
	if len(messageVersions) == 0 {
		return nil, fmt.Errorf("%w: messageLayerVersions not given", ErrInvalidPeerInfo)
	}

	addrs := make([]multiaddr.Multiaddr, 0, len(opts.Addrs))
	for _, s := range opts.Addrs {
		addr, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("%w: address %q: %v", ErrInvalidPeerInfo, s, err)
		}
		addrs = append(addrs, addr)
	}

	info := &PeerInfo{
		PeerID:               peerID,
		PeerType:             peerType,
		ControlLayerVersions: slices.Clone(controlVersions),
		MessageLayerVersions: slices.Clone(messageVersions),
		PeerName:             opts.Name,
		Addrs:                addrs,
	}
	if opts.Location != nil {
		info.Location = *opts.Location
	}
	return info, nil
}

// NewTracker builds the PeerInfo of a tracker
func NewTracker(peerID string, opts PeerOptions) (*PeerInfo, error) {
	return NewPeerInfo(peerID, PeerTypeTracker, opts)
}

// NewNode builds the PeerInfo of a node
func NewNode(peerID string, opts PeerOptions) (*PeerInfo, error) {
	return NewPeerInfo(peerID, PeerTypeNode, opts)
}

// NewUnknown builds the PeerInfo of a peer that has not introduced itself
func NewUnknown(peerID string) (*PeerInfo, error) {
	return NewPeerInfo(peerID, PeerTypeUnknown, PeerOptions{})
}

func (p *PeerInfo) IsTracker() bool {
	return p.PeerType == PeerTypeTracker
}

func (p *PeerInfo) IsNode() bool {
	return p.PeerType == PeerTypeNode
}

// String returns the peer name followed by a short id, e.g. "relay-1<0x7e5f45>"
func (p *PeerInfo) String() string {
	id := p.PeerID
	if len(id) > 8 {
		id = id[:8]
	}
	return p.PeerName + "<" + id + ">"
}

type peerInfoJSON struct {
	PeerID               string   `json:"peerId"`
	PeerType             PeerType `json:"peerType"`
	ControlLayerVersions []int    `json:"controlLayerVersions"`
	MessageLayerVersions []int    `json:"messageLayerVersions"`
	PeerName             *string  `json:"peerName"`
	Location             Location `json:"location"`
	Addrs                []string `json:"addrs,omitempty"`
}

// MarshalJSON encodes the handshake object representation
func (p *PeerInfo) MarshalJSON() ([]byte, error) {
	obj := peerInfoJSON{
		PeerID:               p.PeerID,
		PeerType:             p.PeerType,
		ControlLayerVersions: p.ControlLayerVersions,
		MessageLayerVersions: p.MessageLayerVersions,
		Location:             p.Location,
	}
	if p.PeerName != "" {
		obj.PeerName = &p.PeerName
	}
	for _, addr := range p.Addrs {
		obj.Addrs = append(obj.Addrs, addr.String())
	}
	return json.Marshal(obj)
}

// UnmarshalJSON decodes and validates the handshake object representation.
// Missing version lists fall back to the supported versions.
func (p *PeerInfo) UnmarshalJSON(data []byte) error {
	var obj peerInfoJSON
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPeerInfo, err)
	}
	opts := PeerOptions{
		Location:             &obj.Location,
		ControlLayerVersions: obj.ControlLayerVersions,
		MessageLayerVersions: obj.MessageLayerVersions,
		Addrs:                obj.Addrs,
	}
	if obj.PeerName != nil {
		opts.Name = *obj.PeerName
	}
	info, err := NewPeerInfo(obj.PeerID, obj.PeerType, opts)
	if err != nil {
		return err
	}
	*p = *info
	return nil
}

// Versions is the pair of layer versions two peers agreed on
type Versions struct {
	ControlLayer int
	MessageLayer int
}

// NegotiateVersions picks the highest control and message layer versions
// both peers support.
func NegotiateVersions(local, remote *PeerInfo) (Versions, error) {
	controlVersion, err := NegotiateVersion(ControlLayer, local.ControlLayerVersions, remote.ControlLayerVersions)
	if err != nil {
		return Versions{}, fmt.Errorf("negotiate with %s: %w", remote, err)
	}
	messageVersion, err := NegotiateVersion(MessageLayer, local.MessageLayerVersions, remote.MessageLayerVersions)
	if err != nil {
		return Versions{}, fmt.Errorf("negotiate with %s: %w", remote, err)
	}
	return Versions{ControlLayer: controlVersion, MessageLayer: messageVersion}, nil
}
