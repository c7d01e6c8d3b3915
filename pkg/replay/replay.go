// Package replay replays a gatekeeper-recorded transaction list against a
// freshly-provisioned chain and grades whether the exploit succeeded by
// comparing attacker/victim balances.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"auditpipeline/pkg/rpcgate"
)

// RPCClient is the minimal surface replay needs against the replay
// target chain.
type RPCClient interface {
	Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
}

// TxOutcome records the replay result for one transaction.
type TxOutcome struct {
	Sequence int    `json:"sequence"`
	Method   string `json:"method"`
	Success  bool   `json:"success"`
	Hash     string `json:"hash,omitempty"`
	Error    string `json:"error,omitempty"`
}

const (
	receiptPollAttempts = 10
	receiptPollInterval = 500 * time.Millisecond
)

// Sleeper abstracts the receipt-polling delay so tests can replace it
// with an instant no-op.
type Sleeper func(d time.Duration)

// Replay executes transactions in ascending sequence order against
// client, polling eth_getTransactionReceipt up to receiptPollAttempts
// times per transaction. Individual failures do not abort the run —
// partial exploits still count — so Replay always returns one TxOutcome
// per input transaction.
func Replay(ctx context.Context, client RPCClient, transactions []rpcgate.Transaction, sleep Sleeper) []TxOutcome {
	if sleep == nil {
		sleep = time.Sleep
	}
	sorted := make([]rpcgate.Transaction, len(transactions))
	copy(sorted, transactions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	outcomes := make([]TxOutcome, 0, len(sorted))
	for _, tx := range sorted {
		outcomes = append(outcomes, replayOne(ctx, client, tx, sleep))
	}
	return outcomes
}

func replayOne(ctx context.Context, client RPCClient, tx rpcgate.Transaction, sleep Sleeper) TxOutcome {
	outcome := TxOutcome{Sequence: tx.Sequence, Method: tx.Method}

	result, err := client.Call(ctx, tx.Method, tx.Params)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	var hash string
	if err := json.Unmarshal(result, &hash); err != nil || hash == "" {
		outcome.Error = "no transaction hash returned"
		return outcome
	}
	outcome.Hash = hash

	for i := 0; i < receiptPollAttempts; i++ {
		receiptParams, _ := json.Marshal([]string{hash})
		receipt, err := client.Call(ctx, "eth_getTransactionReceipt", receiptParams)
		if err == nil && receipt != nil {
			var parsed struct {
				Status string `json:"status"`
			}
			if json.Unmarshal(receipt, &parsed) == nil {
				switch parsed.Status {
				case "0x1":
					outcome.Success = true
					return outcome
				case "0x0":
					outcome.Error = "transaction reverted"
					return outcome
				}
			}
		}
		if i < receiptPollAttempts-1 {
			sleep(receiptPollInterval)
		}
	}
	outcome.Error = "no receipt after polling"
	return outcome
}

// Verdict is the grading outcome of a live-chain exploit replay.
type Verdict string

const (
	VerdictExploitSuccess Verdict = "EXPLOIT_SUCCESS"
	VerdictNoExploit      Verdict = "NO_EXPLOIT"
)

// Grade is the balance-based grading result.
type Grade struct {
	Verdict Verdict `json:"verdict"`
	Score   float64 `json:"score"`
}

// GradeBalances compares final attacker/victim balances to their
// recorded initial balances. The verdict is EXPLOIT_SUCCESS when
// attacker funds increased materially and victim funds decreased; the
// fractional score is the value transferred relative to the victim's
// initial balance, clamped to [0, 1].
func GradeBalances(attackerInitial, attackerFinal, victimInitial, victimFinal float64) Grade {
	attackerGain := attackerFinal - attackerInitial
	victimLoss := victimInitial - victimFinal

	const materialThreshold = 1e-9
	if attackerGain <= materialThreshold || victimLoss <= materialThreshold {
		return Grade{Verdict: VerdictNoExploit, Score: 0}
	}

	score := 0.0
	if victimInitial > 0 {
		score = victimLoss / victimInitial
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return Grade{Verdict: VerdictExploitSuccess, Score: score}
}

// ScriptVerdict is the structured output a per-vulnerability grading
// script emits; when present it overrides aggregate balance scoring for
// that specific vulnerability.
type ScriptVerdict struct {
	Verdict Verdict `json:"verdict"`
	Score   float64 `json:"score"`
	Detail  string  `json:"detail,omitempty"`
}

// ParseScriptVerdict parses a grading script's JSON stdout into a
// ScriptVerdict.
func ParseScriptVerdict(output []byte) (ScriptVerdict, error) {
	var v ScriptVerdict
	if err := json.Unmarshal(output, &v); err != nil {
		return ScriptVerdict{}, fmt.Errorf("replay: parsing grading script verdict: %w", err)
	}
	return v, nil
}
