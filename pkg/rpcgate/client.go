package rpcgate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
)

// HTTPUpstream forwards allowed calls to a real chain instance's
// JSON-RPC HTTP endpoint, the production Upstream a gatekeeper serves
// in front of.
type HTTPUpstream struct {
	Client *http.Client
	URL    string
}

// Forward POSTs body to the upstream endpoint and returns its raw
// response.
func (u HTTPUpstream) Forward(ctx context.Context, body []byte) ([]byte, error) {
	client := u.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rpcgate: building upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpcgate: calling upstream: %w", err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// FileAuditSink appends JSON-lines audit entries to a file, one call per
// line, guarded by a mutex since the gatekeeper may record concurrently.
type FileAuditSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileAuditSink opens path for append-only audit logging, creating it
// if absent; existing content is kept.
func NewFileAuditSink(path string) (*FileAuditSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("rpcgate: opening audit log %s: %w", path, err)
	}
	return &FileAuditSink{file: f}, nil
}

// Append writes line followed by a newline.
func (s *FileAuditSink) Append(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.file.WriteString(line + "\n")
	return err
}

// Close closes the underlying file.
func (s *FileAuditSink) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	return s.file.Close()
}

// HTTPClient is a plain JSON-RPC 2.0 client against a chain endpoint
// (typically a gatekeeper-fronted or freshly-provisioned anvil
// instance), satisfying pkg/replay's RPCClient interface.
type HTTPClient struct {
	Client *http.Client
	URL    string
}

// Call issues one JSON-RPC request and returns its result field.
func (c HTTPClient) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	reqBody, err := json.Marshal(Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage("1"),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("rpcgate: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("rpcgate: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpcgate: calling %s: %w", c.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rpcgate: reading response: %w", err)
	}
	var parsed Response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("rpcgate: parsing response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("rpcgate: %s returned error %d: %s", method, parsed.Error.Code, parsed.Error.Message)
	}
	return parsed.Result, nil
}
