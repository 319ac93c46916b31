package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/maxpert/sysfwd/cfg"
	"github.com/maxpert/sysfwd/forwarder"
)

const (
	methodSnapshotChanges = "IPS_GetSnapshotChanges"
	defaultSymconTimeout  = 10 * time.Second
	maxResponseBytes      = 64 << 20 // 64MB
)

func init() {
	Register(cfg.SourceSymcon, func(conf *cfg.Configuration) (Source, error) {
		sc := conf.Source.Symcon
		return NewSymconFetcher(SymconConfig{
			URL:      sc.URL,
			Username: sc.Username,
			Password: sc.Password,
			Timeout:  time.Duration(sc.TimeoutSeconds) * time.Second,
		})
	})
}

// SymconConfig holds configuration for SymconFetcher
type SymconConfig struct {
	URL      string        // JSON-RPC endpoint, e.g. http://127.0.0.1:3777/api/
	Username string        // Optional basic auth user
	Password string        // Optional basic auth password
	Timeout  time.Duration // Per-request timeout (default: 10s)
}

// SymconFetcher reads message snapshots from an IP-Symcon server over JSON-RPC
type SymconFetcher struct {
	config SymconConfig
	client *http.Client
	nextID atomic.Uint64
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      uint64 `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     uint64          `json:"id"`
}

// NewSymconFetcher creates a fetcher for the given endpoint
func NewSymconFetcher(config SymconConfig) (*SymconFetcher, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("symcon source requires url")
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultSymconTimeout
	}

	return &SymconFetcher{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

// Baseline returns the counter of the oldest message the server still holds
func (s *SymconFetcher) Baseline(ctx context.Context) (forwarder.Cursor, error) {
	payload, err := s.snapshotChanges(ctx, 0)
	if err != nil {
		return 0, err
	}

	var positions []struct {
		TimeStamp uint64 `json:"TimeStamp"`
	}
	if err := json.Unmarshal(payload, &positions); err != nil {
		return 0, fmt.Errorf("failed to parse initial snapshot: %w", err)
	}
	if len(positions) == 0 {
		return 0, fmt.Errorf("initial snapshot is empty: %w", forwarder.ErrNoSnapshot)
	}
	return forwarder.Cursor(positions[0].TimeStamp), nil
}

// FetchSince returns the message changes after cursor. The end cursor is the
// counter of the last change; an unparseable payload keeps cursor so the
// forwarder reports it as bad data.
func (s *SymconFetcher) FetchSince(ctx context.Context, cursor forwarder.Cursor) (*forwarder.Snapshot, error) {
	payload, err := s.snapshotChanges(ctx, uint64(cursor))
	if err != nil {
		return nil, err
	}

	end := cursor
	var positions []struct {
		TimeStamp uint64 `json:"TimeStamp"`
	}
	if err := json.Unmarshal(payload, &positions); err == nil && len(positions) > 0 {
		end = forwarder.Cursor(positions[len(positions)-1].TimeStamp)
	}

	return &forwarder.Snapshot{End: end, Payload: payload}, nil
}

// snapshotChanges calls IPS_GetSnapshotChanges. The server returns the
// changes as a JSON encoded string; a plain array is accepted too.
func (s *SymconFetcher) snapshotChanges(ctx context.Context, since uint64) ([]byte, error) {
	result, err := s.call(ctx, methodSnapshotChanges, since)
	if err != nil {
		return nil, err
	}

	result = bytes.TrimSpace(result)
	if len(result) > 0 && result[0] == '"' {
		var encoded string
		if err := json.Unmarshal(result, &encoded); err != nil {
			return nil, fmt.Errorf("failed to unquote snapshot: %w", err)
		}
		result = []byte(encoded)
	}

	if len(result) == 0 || bytes.Equal(result, []byte("null")) || bytes.Equal(result, []byte("false")) {
		return nil, forwarder.ErrNoSnapshot
	}
	return result, nil
}

func (s *SymconFetcher) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	id := s.nextID.Add(1)
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.Username != "" {
		req.SetBasicAuth(s.config.Username, s.config.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s failed: http status %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("%s failed: %w", method, rpcResp.Error)
	}
	return rpcResp.Result, nil
}

// Close releases idle connections
func (s *SymconFetcher) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// IsRPCError reports whether err came from the server rather than the transport
func IsRPCError(err error) bool {
	var rpcErr *rpcError
	return errors.As(err, &rpcErr)
}
