// Package streams fetches stream metadata and permissions from the core REST
// API, caching successful answers.
package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-streams/pkg/logging"
)

const (
	// DefaultMaxAge is how long a fetched stream or permission stays cached
	DefaultMaxAge = 15 * time.Minute

	// DefaultCacheSize bounds each cache
	DefaultCacheSize = 10000
)

// Operation is a permission checked against the core API
type Operation string

const (
	OperationGet       Operation = "stream_get"
	OperationSubscribe Operation = "stream_subscribe"
	OperationPublish   Operation = "stream_publish"
)

// Stream is the metadata of a stream
type Stream struct {
	ID                   string `json:"id"`
	Name                 string `json:"name,omitempty"`
	Description          string `json:"description,omitempty"`
	Partitions           int    `json:"partitions"`
	RequireSignedData    bool   `json:"requireSignedData"`
	RequireEncryptedData bool   `json:"requireEncryptedData"`
}

// Permission is one entry of /permissions/me
type Permission struct {
	Operation Operation `json:"operation"`
	User      string    `json:"user,omitempty"`
}

type cacheKey struct {
	streamID     string
	sessionToken string
}

type permissionKey struct {
	cacheKey
	operation Operation
}

// Config configures a Fetcher
type Config struct {
	BaseURL      string
	SessionToken string
	MaxAge       time.Duration
	CacheSize    int
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// Fetcher reads stream metadata from the core API. Successful responses are
// cached for MaxAge; failures are not cached.
type Fetcher struct {
	apiURL       string
	sessionToken string
	client       *http.Client
	logger       *zap.Logger

	streams     *expirable.LRU[cacheKey, *Stream]
	permissions *expirable.LRU[permissionKey, struct{}]
}

// NewFetcher returns a fetcher for the API rooted at cfg.BaseURL
func NewFetcher(cfg Config) *Fetcher {
	if cfg.MaxAge == 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Fetcher{
		apiURL:       strings.TrimRight(cfg.BaseURL, "/") + "/api/v1",
		sessionToken: cfg.SessionToken,
		client:       cfg.HTTPClient,
		logger:       logging.OrNop(cfg.Logger).Named("streams"),
		streams:      expirable.NewLRU[cacheKey, *Stream](cfg.CacheSize, nil, cfg.MaxAge),
		permissions:  expirable.NewLRU[permissionKey, struct{}](cfg.CacheSize, nil, cfg.MaxAge),
	}
}

// Stream returns the metadata of streamID using the fetcher's own session token
func (f *Fetcher) Stream(ctx context.Context, streamID string) (*Stream, error) {
	return f.Fetch(ctx, streamID, f.sessionToken)
}

// Fetch returns the metadata of streamID as seen with sessionToken
func (f *Fetcher) Fetch(ctx context.Context, streamID, sessionToken string) (*Stream, error) {
	key := cacheKey{streamID: streamID, sessionToken: sessionToken}
	if stream, ok := f.streams.Get(key); ok {
		return stream, nil
	}

	var stream Stream
	if err := f.get(ctx, f.streamURL(streamID), sessionToken, &stream); err != nil {
		return nil, err
	}
	if stream.ID == "" {
		stream.ID = streamID
	}

	f.streams.Add(key, &stream)
	return &stream, nil
}

// CheckPermission returns nil if sessionToken grants operation on streamID,
// and an error matching ErrPermissionDenied otherwise
func (f *Fetcher) CheckPermission(ctx context.Context, streamID, sessionToken string, operation Operation) error {
	if streamID == "" {
		return fmt.Errorf("check permission: empty stream id")
	}
	key := permissionKey{cacheKey: cacheKey{streamID: streamID, sessionToken: sessionToken}, operation: operation}
	if _, ok := f.permissions.Get(key); ok {
		return nil
	}

	permURL := f.streamURL(streamID) + "/permissions/me"
	var permissions []Permission
	if err := f.get(ctx, permURL, sessionToken, &permissions); err != nil {
		return err
	}

	granted := slices.ContainsFunc(permissions, func(p Permission) bool { return p.Operation == operation })
	if !granted {
		f.logger.Debug("permission not granted",
			zap.String("stream", streamID),
			zap.String("operation", string(operation)),
			zap.Int("permissions", len(permissions)))
		return &HTTPError{Status: http.StatusForbidden, Method: http.MethodGet, URL: permURL}
	}

	f.permissions.Add(key, struct{}{})
	return nil
}

// Authenticate checks operation and returns the stream metadata
func (f *Fetcher) Authenticate(ctx context.Context, streamID, sessionToken string, operation Operation) (*Stream, error) {
	if err := f.CheckPermission(ctx, streamID, sessionToken, operation); err != nil {
		return nil, err
	}
	return f.Fetch(ctx, streamID, sessionToken)
}

// Invalidate drops every cached answer about streamID
func (f *Fetcher) Invalidate(streamID string) {
	for _, key := range f.streams.Keys() {
		if key.streamID == streamID {
			f.streams.Remove(key)
		}
	}
	for _, key := range f.permissions.Keys() {
		if key.streamID == streamID {
			f.permissions.Remove(key)
		}
	}
}

func (f *Fetcher) streamURL(streamID string) string {
	return f.apiURL + "/streams/" + url.PathEscape(streamID)
}

func (f *Fetcher) get(ctx context.Context, target, sessionToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if sessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+sessionToken)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Error("failed to communicate with core api", zap.String("url", target), zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		f.logger.Debug("core api request failed",
			zap.String("url", target),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return &HTTPError{Status: resp.StatusCode, Method: http.MethodGet, URL: target, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", target, err)
	}
	return nil
}
