package rpcgate

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type fakeUpstream struct {
	response []byte
	err      error
}

func (f fakeUpstream) Forward(ctx context.Context, body []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

type memAudit struct {
	mu    sync.Mutex
	lines []string
}

func (m *memAudit) Append(line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, line)
	return nil
}

func TestAllowedMethodForwardsToUpstream(t *testing.T) {
	upstream := fakeUpstream{response: []byte(`{"jsonrpc":"2.0","id":1,"result":"0x1"}`)}
	audit := &memAudit{}
	gk := New(upstream, audit)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"eth_blockNumber"}`))
	rec := httptest.NewRecorder()
	gk.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	if resp.Error != nil {
		t.Fatalf("expected no error, got %+v", resp.Error)
	}
	if len(audit.lines) != 1 {
		t.Fatalf("expected 1 audit line, got %d", len(audit.lines))
	}
}

func TestDisallowedMethodRejected(t *testing.T) {
	gk := New(fakeUpstream{}, &memAudit{})
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"anvil_setBalance"}`))
	rec := httptest.NewRecorder()
	gk.Router().ServeHTTP(rec, req)

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	if resp.Error == nil || resp.Error.Code != errMethodNotAllowed {
		t.Fatalf("expected method-not-allowed error, got %+v", resp.Error)
	}
}

func TestGetRejectedWith405(t *testing.T) {
	gk := New(fakeUpstream{}, &memAudit{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	gk.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestMalformedBodyRejectedWith400(t *testing.T) {
	gk := New(fakeUpstream{}, &memAudit{})
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	gk.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestBatchRequestPreservesOrder(t *testing.T) {
	gk := New(fakeUpstream{response: []byte(`{"jsonrpc":"2.0","id":1,"result":"0x1"}`)}, &memAudit{})
	body := `[{"jsonrpc":"2.0","id":1,"method":"eth_blockNumber"},{"jsonrpc":"2.0","id":2,"method":"net_version"}]`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	gk.Router().ServeHTTP(rec, req)

	var responses []Response
	if err := json.Unmarshal(rec.Body.Bytes(), &responses); err != nil {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(responses))
	}
}

func TestTransactionRecordingAssignsMonotonicSequence(t *testing.T) {
	upstream := fakeUpstream{response: []byte(`{"jsonrpc":"2.0","id":1,"result":"0xdeadbeef"}`)}
	gk := New(upstream, &memAudit{})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`{"jsonrpc":"2.0","id":1,"method":"eth_sendRawTransaction","params":["0x00"]}`)))
		rec := httptest.NewRecorder()
		gk.Router().ServeHTTP(rec, req)
	}

	txs := gk.Transactions()
	if len(txs) != 3 {
		t.Fatalf("expected 3 recorded transactions, got %d", len(txs))
	}
	for i, tx := range txs {
		if tx.Sequence != i+1 {
			t.Fatalf("expected monotonic sequence, got %+v", txs)
		}
	}
}
