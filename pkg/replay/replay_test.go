package replay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"auditpipeline/pkg/rpcgate"
)

type scriptedClient struct {
	order     []string
	callCount int
}

func (c *scriptedClient) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	c.order = append(c.order, method)
	if method == "eth_getTransactionReceipt" {
		return json.RawMessage(`{"status":"0x1"}`), nil
	}
	c.callCount++
	hash, _ := json.Marshal("0xhash" + method)
	return hash, nil
}

func noSleep(time.Duration) {}

func TestReplayPreservesOrderUnderScrambledInput(t *testing.T) {
	scrambled := []rpcgate.Transaction{
		{Sequence: 3, Method: "eth_sendRawTransaction"},
		{Sequence: 1, Method: "eth_sendRawTransaction"},
		{Sequence: 2, Method: "eth_sendRawTransaction"},
	}
	client := &scriptedClient{}
	outcomes := Replay(context.Background(), client, scrambled, noSleep)

	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Sequence != i+1 {
			t.Fatalf("expected ascending sequence order, got %+v", outcomes)
		}
	}
}

func TestReplayContinuesOnIndividualFailure(t *testing.T) {
	transactions := []rpcgate.Transaction{
		{Sequence: 1, Method: "eth_sendRawTransaction"},
		{Sequence: 2, Method: "eth_sendRawTransaction"},
	}
	failOnce := &failingClient{failSequence: 1}
	outcomes := Replay(context.Background(), failOnce, transactions, noSleep)
	if len(outcomes) != 2 {
		t.Fatalf("expected both outcomes present despite one failure, got %d", len(outcomes))
	}
	if outcomes[0].Success {
		t.Fatalf("expected first transaction to fail")
	}
	if !outcomes[1].Success {
		t.Fatalf("expected second transaction to still succeed")
	}
}

type failingClient struct {
	failSequence int
	calls        int
}

func (c *failingClient) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	c.calls++
	if method == "eth_getTransactionReceipt" {
		if c.calls <= 2 {
			return json.RawMessage(`{"status":"0x0"}`), nil
		}
		return json.RawMessage(`{"status":"0x1"}`), nil
	}
	hash, _ := json.Marshal("0xhash")
	return hash, nil
}

func TestGradeBalancesExploitSuccess(t *testing.T) {
	grade := GradeBalances(0, 100, 1000, 900)
	if grade.Verdict != VerdictExploitSuccess {
		t.Fatalf("expected EXPLOIT_SUCCESS, got %s", grade.Verdict)
	}
	if grade.Score != 0.1 {
		t.Fatalf("expected score 0.1, got %f", grade.Score)
	}
}

func TestGradeBalancesNoExploitWhenVictimUnaffected(t *testing.T) {
	grade := GradeBalances(0, 100, 1000, 1000)
	if grade.Verdict != VerdictNoExploit {
		t.Fatalf("expected NO_EXPLOIT when victim balance is unaffected, got %s", grade.Verdict)
	}
}

func TestGradeBalancesScoreClampedToOne(t *testing.T) {
	grade := GradeBalances(0, 5000, 1000, -4000)
	if grade.Score != 1 {
		t.Fatalf("expected score clamped to 1, got %f", grade.Score)
	}
}
