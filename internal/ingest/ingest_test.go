package ingest

import (
	"encoding/json"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/cmatc13/stathera/internal/matching"
	"github.com/cmatc13/stathera/pkg/logging"
)

type recordingExecutor struct {
	deposits    int
	withdrawals int
	spotSwaps   int
	perpSwaps   int
}

func (r *recordingExecutor) DispatchSpotSwap(matching.SwapMatch) <-chan error {
	r.spotSwaps++
	ch := make(chan error, 1)
	ch <- nil
	return ch
}

func (r *recordingExecutor) DispatchPerpSwap(matching.SwapMatch) <-chan error {
	r.perpSwaps++
	ch := make(chan error, 1)
	ch <- nil
	return ch
}

func (r *recordingExecutor) DispatchDeposit(DepositRequest) <-chan error {
	r.deposits++
	ch := make(chan error, 1)
	ch <- nil
	return ch
}

func (r *recordingExecutor) DispatchWithdrawal(WithdrawalRequest) <-chan error {
	r.withdrawals++
	ch := make(chan error, 1)
	ch <- nil
	return ch
}

func newTestIngestor(exec SwapExecutor) *Ingestor {
	return &Ingestor{exec: exec, log: logging.New(logging.DefaultConfig())}
}

func TestProcessMessageDepositRequest(t *testing.T) {
	exec := &recordingExecutor{}
	in := newTestIngestor(exec)

	payload, _ := json.Marshal(DepositRequest{NoteIndex: 1, Owner: []byte{0x02}, Token: 12345, Amount: 100})
	env, _ := json.Marshal(Envelope{Kind: KindDepositRequest, Payload: payload})

	in.processMessage(&kafka.Message{Value: env})

	if exec.deposits != 1 {
		t.Fatalf("expected 1 deposit dispatched, got %d", exec.deposits)
	}
}

func TestProcessMessageSpotMatchingResultAcceptedOnly(t *testing.T) {
	exec := &recordingExecutor{}
	in := newTestIngestor(exec)

	results := []matching.Result{{Kind: matching.KindAccepted, OrderID: 7}}
	payload, _ := json.Marshal(results)
	env, _ := json.Marshal(Envelope{Kind: KindSpotMatchingResult, Payload: payload})

	in.processMessage(&kafka.Message{Value: env})

	if exec.spotSwaps != 0 {
		t.Fatalf("expected no swaps dispatched for an accepted-only result, got %d", exec.spotSwaps)
	}
}

func TestProcessMessageUnknownKindIsIgnored(t *testing.T) {
	exec := &recordingExecutor{}
	in := newTestIngestor(exec)

	env, _ := json.Marshal(Envelope{Kind: "bogus", Payload: json.RawMessage(`{}`)})
	in.processMessage(&kafka.Message{Value: env})

	if exec.deposits+exec.withdrawals+exec.spotSwaps+exec.perpSwaps != 0 {
		t.Fatalf("expected no dispatch for unknown envelope kind")
	}
}
