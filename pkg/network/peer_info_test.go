package network

import (
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestNewPeerInfo(t *testing.T) {
	tests := []struct {
		name     string
		peerID   string
		peerType PeerType
		opts     PeerOptions
		wantErr  bool
	}{
		{name: "node with defaults", peerID: "node-1", peerType: PeerTypeNode},
		{name: "tracker with addrs", peerID: "tracker-1", peerType: PeerTypeTracker,
			opts: PeerOptions{Addrs: []string{"/ip4/127.0.0.1/tcp/30300", "/dns4/tracker.example.com/tcp/443/wss"}}},
		{name: "missing id", peerID: "", peerType: PeerTypeNode, wantErr: true},
		{name: "bad type", peerID: "p", peerType: PeerType("broker"), wantErr: true},
		{name: "empty control versions", peerID: "p", peerType: PeerTypeNode,
			opts: PeerOptions{ControlLayerVersions: []int{}}, wantErr: true},
		{name: "bad address", peerID: "p", peerType: PeerTypeNode,
			opts: PeerOptions{Addrs: []string{"127.0.0.1:30300"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := NewPeerInfo(tt.peerID, tt.peerType, tt.opts)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPeerInfo) {
					t.Errorf("NewPeerInfo() error = %v, want ErrInvalidPeerInfo", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewPeerInfo() unexpected error: %v", err)
			}
			if len(info.Addrs) != len(tt.opts.Addrs) {
				t.Errorf("got %d addrs, want %d", len(info.Addrs), len(tt.opts.Addrs))
			}
			if tt.opts.ControlLayerVersions == nil && !slices.Equal(info.ControlLayerVersions, DefaultControlLayerVersions()) {
				t.Errorf("ControlLayerVersions = %v, want defaults", info.ControlLayerVersions)
			}
		})
	}
}

func TestPeerInfoString(t *testing.T) {
	info, err := NewNode("0x7e5f4552091a69125d5dfcb7b8c2659029395bdf", PeerOptions{Name: "relay-1"})
	if err != nil {
		t.Fatal(err)
	}
	if got := info.String(); got != "relay-1<0x7e5f45>" {
		t.Errorf("String() = %q", got)
	}
	if !info.IsNode() || info.IsTracker() {
		t.Errorf("node classified wrong")
	}
}

func TestPeerInfoJSON(t *testing.T) {
	info, err := NewTracker("tracker-1", PeerOptions{
		Name:                 "t1",
		ControlLayerVersions: []int{2},
		MessageLayerVersions: []int{31, 32},
		Addrs:                []string{"/ip4/10.0.0.1/tcp/30300"},
	})
	if err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(info)
	if err != nil {
		t.Fatal(err)
	}

	var decoded PeerInfo
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.PeerID != "tracker-1" || decoded.PeerName != "t1" || !decoded.IsTracker() {
		t.Errorf("decoded = %+v", decoded)
	}
	if !slices.Equal(decoded.MessageLayerVersions, []int{31, 32}) {
		t.Errorf("MessageLayerVersions = %v", decoded.MessageLayerVersions)
	}
	if len(decoded.Addrs) != 1 || decoded.Addrs[0].String() != "/ip4/10.0.0.1/tcp/30300" {
		t.Errorf("Addrs = %v", decoded.Addrs)
	}

	// version lists missing from the handshake fall back to the defaults
	var legacy PeerInfo
	if err := json.Unmarshal([]byte(`{"peerId":"n1","peerType":"node","controlLayerVersions":null}`), &legacy); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !slices.Equal(legacy.ControlLayerVersions, DefaultControlLayerVersions()) {
		t.Errorf("ControlLayerVersions = %v", legacy.ControlLayerVersions)
	}

	if err := json.Unmarshal([]byte(`{"peerId":"","peerType":"node"}`), &legacy); !errors.Is(err, ErrInvalidPeerInfo) {
		t.Errorf("expected ErrInvalidPeerInfo, got %v", err)
	}
}

func TestPeerRegistry(t *testing.T) {
	local, err := NewNode("local", PeerOptions{})
	if err != nil {
		t.Fatal(err)
	}
	registry := NewPeerRegistry(local, zaptest.NewLogger(t))

	older, _ := NewNode("older", PeerOptions{MessageLayerVersions: []int{30, 31}})
	tracker, _ := NewTracker("tracker", PeerOptions{})
	incompatible, _ := NewNode("future", PeerOptions{ControlLayerVersions: []int{3}})

	versions, err := registry.AddPeer(older)
	if err != nil {
		t.Fatalf("AddPeer() error = %v", err)
	}
	if versions != (Versions{ControlLayer: 2, MessageLayer: 31}) {
		t.Errorf("negotiated %+v", versions)
	}
	if _, err := registry.AddPeer(tracker); err != nil {
		t.Fatalf("AddPeer() error = %v", err)
	}
	if _, err := registry.AddPeer(incompatible); !errors.Is(err, ErrNoCommonVersion) {
		t.Errorf("AddPeer() error = %v, want ErrNoCommonVersion", err)
	}

	if registry.Count() != 2 {
		t.Errorf("Count() = %d, want 2", registry.Count())
	}
	if got := registry.Peers(PeerTypeTracker); len(got) != 1 || got[0].PeerID != "tracker" {
		t.Errorf("Peers(tracker) = %v", got)
	}
	if got, _ := registry.Versions("tracker"); got.MessageLayer != 32 {
		t.Errorf("tracker message layer = %d, want 32", got.MessageLayer)
	}

	registry.RemovePeer("older")
	if _, err := registry.Versions("older"); !errors.Is(err, ErrPeerNotFound) {
		t.Errorf("Versions() error = %v, want ErrPeerNotFound", err)
	}
	if _, ok := registry.Peer("older"); ok {
		t.Errorf("removed peer still present")
	}
}
