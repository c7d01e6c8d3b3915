// Package rpcgate implements the RPC gatekeeper: a whitelisting JSON-RPC
// 2.0 HTTP proxy in front of a local chain instance, used by the
// live-chain exploit verification path. Routing is built on chi, matching
// the teacher's dashboard (agents/dashboard) rather than bare
// net/http.ServeMux.
package rpcgate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// allowedPrefixes is the method allowlist: any method starting with one
// of these is forwarded, everything else is rejected.
var allowedPrefixes = []string{"eth_", "net_", "web3_"}

const (
	errMethodNotAllowed = -32601
	errUpstreamFailure  = -32603
)

// Request is a single JSON-RPC 2.0 request object.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a single JSON-RPC 2.0 response object.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Transaction is one recorded eth_sendRawTransaction/eth_sendTransaction
// call, kept in an ordered list that drives replay.
type Transaction struct {
	Sequence int             `json:"sequence"`
	Method   string          `json:"method"`
	Params   json.RawMessage `json:"params"`
	Hash     string          `json:"hash,omitempty"`
	Time     time.Time       `json:"time"`
}

// Upstream forwards an allowed JSON-RPC request to the real chain
// instance and returns its raw response body.
type Upstream interface {
	Forward(ctx context.Context, body []byte) ([]byte, error)
}

// AuditSink receives one JSON-lines audit entry per call.
type AuditSink interface {
	Append(line string) error
}

// Gatekeeper is the whitelisting proxy: stateful only in its transaction
// sequence counter and the slice of recorded transactions, both guarded
// by mu so concurrent requests can record atomically.
type Gatekeeper struct {
	Upstream Upstream
	Audit    AuditSink

	mu           sync.Mutex
	seq          int
	transactions []Transaction
}

// New constructs a Gatekeeper forwarding allowed calls to upstream and
// appending audit lines to audit.
func New(upstream Upstream, audit AuditSink) *Gatekeeper {
	return &Gatekeeper{Upstream: upstream, Audit: audit}
}

// Router builds the chi router exposing the gatekeeper's HTTP surface:
// the JSON-RPC POST endpoint plus health and audit-tail endpoints.
func (g *Gatekeeper) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/", g.handleRPC)
	r.Get("/healthz", g.handleHealth)
	r.Get("/audit/tail", g.handleAuditTail)
	return r
}

func (g *Gatekeeper) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (g *Gatekeeper) handleAuditTail(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(g.transactions)
}

func (g *Gatekeeper) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if trimmed[0] == '[' {
		var reqs []Request
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		responses := make([]Response, len(reqs))
		for i, req := range reqs {
			responses[i] = g.handleOne(r.Context(), req)
		}
		writeJSON(w, responses)
		return
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	writeJSON(w, g.handleOne(r.Context(), req))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (g *Gatekeeper) handleOne(ctx context.Context, req Request) Response {
	allowed := isAllowed(req.Method)
	g.recordAudit(req, allowed)

	if !allowed {
		return Response{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: errMethodNotAllowed, Message: "Method not allowed"}}
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return Response{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: errUpstreamFailure, Message: fmt.Sprintf("Upstream error: %v", err)}}
	}
	respBody, err := g.Upstream.Forward(ctx, reqBody)
	if err != nil {
		return Response{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: errUpstreamFailure, Message: fmt.Sprintf("Upstream error: %v", err)}}
	}

	var resp Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return Response{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: errUpstreamFailure, Message: fmt.Sprintf("Upstream error: %v", err)}}
	}

	if req.Method == "eth_sendRawTransaction" || req.Method == "eth_sendTransaction" {
		g.recordTransaction(req, resp)
	}
	return resp
}

func isAllowed(method string) bool {
	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(method, prefix) {
			return true
		}
	}
	return false
}

func (g *Gatekeeper) recordAudit(req Request, allowed bool) {
	if g.Audit == nil {
		return
	}
	entry := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"method":    req.Method,
		"allowed":   allowed,
		"id":        string(req.ID),
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_ = g.Audit.Append(string(line))
}

// recordTransaction appends a transaction-emitting call to the ordered
// list under mu, assigning the next sequence number atomically.
func (g *Gatekeeper) recordTransaction(req Request, resp Response) {
	hash := ""
	if resp.Error == nil && len(resp.Result) > 0 {
		var h string
		if json.Unmarshal(resp.Result, &h) == nil {
			hash = h
		}
	}

	g.mu.Lock()
	g.seq++
	tx := Transaction{
		Sequence: g.seq,
		Method:   req.Method,
		Params:   req.Params,
		Hash:     hash,
		Time:     time.Now().UTC(),
	}
	g.transactions = append(g.transactions, tx)
	g.mu.Unlock()

	if g.Audit != nil {
		line, err := json.Marshal(tx)
		if err == nil {
			_ = g.Audit.Append(string(line))
		}
	}
}

// Transactions returns a copy of the recorded transaction list, sorted by
// sequence (they are always appended in sequence order, so this is
// simply a defensive copy).
func (g *Gatekeeper) Transactions() []Transaction {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Transaction, len(g.transactions))
	copy(out, g.transactions)
	return out
}
