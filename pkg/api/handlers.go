package api

import (
	"errors"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-streams/pkg/control"
	"github.com/ZentaChain/zentalk-streams/pkg/network"
	"github.com/ZentaChain/zentalk-streams/pkg/protocol"
	"github.com/ZentaChain/zentalk-streams/pkg/relay"
)

// maxTranslateBody bounds the request body of /translate
const maxTranslateBody = 1 << 20

// HealthResponse is returned by /health
type HealthResponse struct {
	Status string       `json:"status"` // "healthy" or "degraded"
	Uptime string       `json:"uptime"`
	Checks HealthChecks `json:"checks"`
}

// HealthChecks are the individual health probes. Probes of components the
// server was not given are omitted.
type HealthChecks struct {
	CodecsLoaded   bool  `json:"codecsLoaded"`
	MemoryOK       bool  `json:"memoryOk"`
	GateRunning    *bool `json:"gateRunning,omitempty"`
	PeersConnected *bool `json:"peersConnected,omitempty"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	checks := HealthChecks{
		CodecsLoaded: len(s.streamMessages.SupportedVersions()) > 0,
		MemoryOK:     m.Alloc < 1024*1024*1024,
	}
	healthy := checks.CodecsLoaded && checks.MemoryOK

	if s.gate != nil {
		running := s.gate.Running()
		checks.GateRunning = &running
		healthy = healthy && running
	}
	if s.peers != nil {
		// a node without peers still serves local publishers
		connected := s.peers.Count() > 0
		checks.PeersConnected = &connected
	}

	resp := HealthResponse{
		Status: "healthy",
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
		Checks: checks,
	}
	status := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// handleVolume handles GET /api/v1/volume
func (s *Server) handleVolume(c *gin.Context) {
	report, err := s.volume.Report()
	if err != nil {
		s.logger.Error("Failed to gather metrics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to gather metrics"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// NodeInfoResponse is returned by /api/v1/node/info
type NodeInfoResponse struct {
	Peer                 *network.PeerInfo `json:"peer,omitempty"`
	ControlLayerVersions []int             `json:"controlLayerVersions"`
	MessageLayerVersions []int             `json:"messageLayerVersions"`
}

// handleNodeInfo handles GET /api/v1/node/info
func (s *Server) handleNodeInfo(c *gin.Context) {
	resp := NodeInfoResponse{
		ControlLayerVersions: network.DefaultControlLayerVersions(),
		MessageLayerVersions: s.streamMessages.SupportedVersions(),
	}
	if s.peers != nil {
		resp.Peer = s.peers.Local()
	}
	c.JSON(http.StatusOK, resp)
}

// PeerResponse is one entry of /api/v1/network/peers
type PeerResponse struct {
	Peer                *network.PeerInfo `json:"peer"`
	ControlLayerVersion int               `json:"controlLayerVersion"`
	MessageLayerVersion int               `json:"messageLayerVersion"`
}

// handlePeers handles GET /api/v1/network/peers?type=node|tracker
func (s *Server) handlePeers(c *gin.Context) {
	if s.peers == nil {
		c.JSON(http.StatusOK, []PeerResponse{})
		return
	}

	peers := s.peers.Peers(network.PeerType(c.Query("type")))
	resp := make([]PeerResponse, 0, len(peers))
	for _, peer := range peers {
		versions, err := s.peers.Versions(peer.PeerID)
		if err != nil {
			// removed concurrently
			continue
		}
		resp = append(resp, PeerResponse{
			Peer:                peer,
			ControlLayerVersion: versions.ControlLayer,
			MessageLayerVersion: versions.MessageLayer,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// handleTranslate handles POST /api/v1/translate?class=&version=
// The body is one JSON framed message; the response is the same message
// encoded at the requested stream message version (latest when omitted).
func (s *Server) handleTranslate(c *gin.Context) {
	class, err := relay.ParseClass(c.Query("class"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid class",
			Message: err.Error(),
			Code:    string(control.ErrorCodeInvalidRequest),
		})
		return
	}

	version := 0
	if v := c.Query("version"); v != "" {
		if version, err = strconv.Atoi(v); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid version",
				Message: "version must be a number",
				Code:    string(control.ErrorCodeInvalidRequest),
			})
			return
		}
	}

	translator, err := s.translator(version)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Unsupported version", err))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxTranslateBody))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: "Request body too large",
			Code:  string(control.ErrorCodeInvalidRequest),
		})
		return
	}

	out, _, err := translator.Translate(body, class)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Translation failed", err))
		return
	}
	c.Data(http.StatusOK, "application/json", out)
}

func (s *Server) translator(version int) (*relay.Translator, error) {
	s.translatorsMu.Lock()
	defer s.translatorsMu.Unlock()

	if t, ok := s.translators[version]; ok {
		return t, nil
	}
	t, err := relay.NewTranslator(relay.Options{
		StreamMessageVersion: version,
		StreamMessages:       s.streamMessages,
		Volume:               s.volume,
	})
	if err != nil {
		return nil, err
	}
	s.translators[version] = t
	return t, nil
}

func errorResponse(msg string, err error) ErrorResponse {
	code := control.ErrorCodeInvalidRequest
	if errors.Is(err, protocol.ErrUnsupportedVersion) {
		code = control.ErrorCodeUnsupportedVersion
	}
	return ErrorResponse{Error: msg, Message: err.Error(), Code: string(code)}
}
