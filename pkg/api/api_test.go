package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-streams/pkg/encryption"
	"github.com/ZentaChain/zentalk-streams/pkg/metrics"
	"github.com/ZentaChain/zentalk-streams/pkg/network"
)

type fakeGate struct{ running bool }

func (g fakeGate) Running() bool { return g.running }

func newTestServer(t *testing.T, config *Config, gate RunningChecker) (*Server, *metrics.Volume) {
	t.Helper()

	local, err := network.NewNode("local-node", network.PeerOptions{Name: "local"})
	require.NoError(t, err)
	peers := network.NewPeerRegistry(local, nil)
	tracker, err := network.NewTracker("tracker-1", network.PeerOptions{MessageLayerVersions: []int{30, 31}})
	require.NoError(t, err)
	_, err = peers.AddPeer(tracker)
	require.NoError(t, err)

	volume := metrics.NewVolume()
	server, err := NewServer(Deps{Volume: volume, Peers: peers, Gate: gate}, config)
	require.NoError(t, err)
	t.Cleanup(func() { server.stopLimiter() })
	return server, volume
}

func do(server *Server, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		server, _ := newTestServer(t, nil, fakeGate{running: true})
		w := do(server, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp.Status)
		assert.True(t, resp.Checks.CodecsLoaded)
		require.NotNil(t, resp.Checks.PeersConnected)
		assert.True(t, *resp.Checks.PeersConnected)
	})

	t.Run("gate stopped", func(t *testing.T) {
		server, _ := newTestServer(t, nil, fakeGate{running: false})
		w := do(server, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), `"degraded"`)
	})

	t.Run("encryption gate lifecycle", func(t *testing.T) {
		gate := encryption.NewGate(nil, nil)
		server, _ := newTestServer(t, nil, gate)
		assert.Equal(t, http.StatusOK, do(server, http.MethodGet, "/health", "", nil).Code)

		gate.Stop()
		assert.Equal(t, http.StatusServiceUnavailable, do(server, http.MethodGet, "/health", "", nil).Code)

		gate.Start()
		assert.Equal(t, http.StatusOK, do(server, http.MethodGet, "/health", "", nil).Code)
	})
}

func TestTranslateEndpoint(t *testing.T) {
	server, volume := newTestServer(t, nil, nil)
	v32 := `[32,["s1",0,1000,0,"p1","c1"],null,27,0,0,null,"{\"a\":1}",0,null]`
	v30 := `[30,["s1",0,1000,0,"p1","c1"],null,27,"{\"a\":1}",0,null]`

	tests := []struct {
		name       string
		target     string
		body       string
		wantStatus int
		wantBody   string
		wantCode   string
	}{
		{"downgrade", "/api/v1/translate?version=30", v32, http.StatusOK, v30, ""},
		{"latest by default", "/api/v1/translate?class=stream", v30, http.StatusOK, v32, ""},
		{"control", "/api/v1/translate", `[2,10,"r1","s1",3]`, http.StatusOK, `[2,10,"r1","s1",3]`, ""},
		{"unknown target version", "/api/v1/translate?version=29", v32, http.StatusBadRequest, "", "UNSUPPORTED_VERSION"},
		{"unknown source version", "/api/v1/translate", `[33]`, http.StatusBadRequest, "", "UNSUPPORTED_VERSION"},
		{"bad class", "/api/v1/translate?class=foo", v32, http.StatusBadRequest, "", "INVALID_REQUEST"},
		{"bad version", "/api/v1/translate?version=x", v32, http.StatusBadRequest, "", "INVALID_REQUEST"},
		{"malformed", "/api/v1/translate", `[32,"x"]`, http.StatusBadRequest, "", "INVALID_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(server, http.MethodPost, tt.target, tt.body, nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
			if tt.wantCode != "" {
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, tt.wantCode, resp.Code)
			}
		})
	}

	report, err := volume.Report()
	require.NoError(t, err)
	assert.Equal(t, 3.0, report.MessagesEncoded)
}

func TestVolumeAndMetrics(t *testing.T) {
	server, volume := newTestServer(t, nil, nil)
	volume.ObserveEncoded("StreamMessage", 32, 10)
	volume.ObserveEncryption(true)

	w := do(server, http.MethodGet, "/api/v1/volume", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report metrics.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 1.0, report.MessagesEncoded)
	assert.Equal(t, 10.0, report.BytesEncoded)
	assert.Equal(t, 1.0, report.Encrypted)

	w = do(server, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `streams_messages_encoded_total{class="StreamMessage",version="32"} 1`)
}

func TestNodeInfoAndPeers(t *testing.T) {
	server, _ := newTestServer(t, nil, nil)

	w := do(server, http.MethodGet, "/api/v1/node/info", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"peerId":"local-node"`)
	assert.Contains(t, w.Body.String(), `"messageLayerVersions":[30,31,32]`)

	w = do(server, http.MethodGet, "/api/v1/network/peers?type=tracker", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var peers []struct {
		Peer                json.RawMessage `json:"peer"`
		MessageLayerVersion int             `json:"messageLayerVersion"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &peers))
	require.Len(t, peers, 1)
	assert.Equal(t, 31, peers[0].MessageLayerVersion)

	w = do(server, http.MethodGet, "/api/v1/network/peers?type=node", "", nil)
	assert.Equal(t, "[]", w.Body.String())
}

func TestAuthMiddleware(t *testing.T) {
	config := DefaultConfig()
	config.APIKeys = []string{"secret-key-1"}
	server, _ := newTestServer(t, config, nil)

	w := do(server, http.MethodGet, "/api/v1/volume", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(server, http.MethodGet, "/api/v1/volume", "", map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(server, http.MethodGet, "/api/v1/volume", "", map[string]string{"X-API-Key": "secret-key-1"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(server, http.MethodGet, "/api/v1/volume", "", map[string]string{"Authorization": "Bearer secret-key-1"})
	assert.Equal(t, http.StatusOK, w.Code)

	// health stays open
	w = do(server, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit(t *testing.T) {
	config := DefaultConfig()
	config.RateLimit = 2
	server, _ := newTestServer(t, config, nil)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(server, http.MethodGet, "/health", "", nil).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, do(server, http.MethodGet, "/health", "", nil).Code)
}

func TestCORSPreflight(t *testing.T) {
	server, _ := newTestServer(t, nil, nil)
	w := do(server, http.MethodOptions, "/api/v1/translate", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
