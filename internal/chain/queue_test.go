package chain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zerohour-games/manhunt/internal/model"
)

const testOperatorKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

var testContract = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func newTestQueue(t *testing.T, backend *mockTxBackend) (*Queue, *mockTxRepo, context.CancelFunc) {
	t.Helper()
	w, err := NewWriter(testOperatorKey, 31337, testContract)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	repo := &mockTxRepo{}
	q := NewQueue(w, backend, repo)
	q.pollInterval = time.Millisecond
	q.receiptTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	t.Cleanup(func() {
		cancel()
		q.Wait()
	})
	return q, repo, cancel
}

func TestQueueConfirms(t *testing.T) {
	backend := &mockTxBackend{}
	q, repo, _ := newTestQueue(t, backend)

	sub, err := q.writer.RecordKill(7, RecordKillParams{Hunter: "0xa1", Target: "0xa2"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := q.Enqueue(context.Background(), sub); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if !repo.waitStatus(1, model.TxConfirmed) {
		row, _ := repo.row(1)
		t.Fatalf("never confirmed: %+v", row)
	}
	row, _ := repo.row(1)
	if row.TxHash == "" || row.Action != model.ActionRecordKill || row.GameID != 7 {
		t.Fatalf("unexpected row: %+v", row)
	}
	if backend.sentCount() != 1 {
		t.Fatalf("sent %d txs", backend.sentCount())
	}
}

func TestQueueFIFO(t *testing.T) {
	backend := &mockTxBackend{}
	q, repo, _ := newTestQueue(t, backend)
	ctx := context.Background()

	for _, action := range []func() (Submission, error){
		func() (Submission, error) { return q.writer.StartGame(1) },
		func() (Submission, error) {
			return q.writer.EliminatePlayer(1, EliminatePlayerParams{Player: "0xa1", Reason: model.ReasonZoneViolation})
		},
		func() (Submission, error) {
			return q.writer.EndGame(1, EndGameParams{Winner1: "0xa2", Winner2: "0xa3", Winner3: "0xa1", TopKiller: "0xa2"})
		},
	} {
		sub, err := action()
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if err := q.Enqueue(ctx, sub); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	for id := int64(1); id <= 3; id++ {
		if !repo.waitStatus(id, model.TxConfirmed) {
			row, _ := repo.row(id)
			t.Fatalf("row %d never confirmed: %+v", id, row)
		}
	}
	// Strictly increasing nonces prove serialized submission order.
	backend.mu.Lock()
	defer backend.mu.Unlock()
	for i, tx := range backend.sent {
		if tx.Nonce() != uint64(i) {
			t.Fatalf("tx %d has nonce %d", i, tx.Nonce())
		}
	}
}

func TestQueueNonceRetry(t *testing.T) {
	backend := &mockTxBackend{nonceFailures: 2}
	q, repo, _ := newTestQueue(t, backend)

	sub, _ := q.writer.StartGame(3)
	if err := q.Enqueue(context.Background(), sub); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !repo.waitStatus(1, model.TxConfirmed) {
		row, _ := repo.row(1)
		t.Fatalf("never confirmed after nonce races: %+v", row)
	}
	if backend.sentCount() != 1 {
		t.Fatalf("sent %d txs", backend.sentCount())
	}
}

func TestQueueNonceRetryExhausted(t *testing.T) {
	backend := &mockTxBackend{nonceFailures: maxNonceRetries + 2}
	q, repo, _ := newTestQueue(t, backend)

	sub, _ := q.writer.StartGame(3)
	q.Enqueue(context.Background(), sub)

	if !repo.waitStatus(1, model.TxFailed) {
		row, _ := repo.row(1)
		t.Fatalf("should have failed: %+v", row)
	}
	row, _ := repo.row(1)
	if !strings.Contains(row.LastError, "nonce too low") {
		t.Fatalf("unexpected error: %q", row.LastError)
	}
}

func TestQueueRevertMarksFailed(t *testing.T) {
	backend := &mockTxBackend{revert: true}
	q, repo, _ := newTestQueue(t, backend)

	sub, _ := q.writer.TriggerExpiry(9)
	q.Enqueue(context.Background(), sub)

	if !repo.waitStatus(1, model.TxFailed) {
		row, _ := repo.row(1)
		t.Fatalf("should have failed: %+v", row)
	}
	row, _ := repo.row(1)
	if row.LastError != "reverted by contract" {
		t.Fatalf("unexpected error: %q", row.LastError)
	}
}

func TestQueueEstimateFailureIsFinal(t *testing.T) {
	backend := &mockTxBackend{estimateErr: errors.New("execution reverted: game not active")}
	q, repo, _ := newTestQueue(t, backend)

	sub, _ := q.writer.StartGame(4)
	q.Enqueue(context.Background(), sub)

	if !repo.waitStatus(1, model.TxFailed) {
		t.Fatalf("should have failed")
	}
	if backend.sentCount() != 0 {
		t.Fatalf("nothing should be sent, got %d", backend.sentCount())
	}
}

func TestRecoverAlreadyApplied(t *testing.T) {
	backend := &mockTxBackend{}
	q, repo, _ := newTestQueue(t, backend)
	ctx := context.Background()

	repo.Insert(ctx, &model.OperatorTx{
		GameID: 5, Action: model.ActionRecordKill,
		Params: `{"hunter":"0xa1","target":"0xa2"}`,
		Status: model.TxPending, CreatedAt: 1,
	})

	err := q.Recover(ctx, func(context.Context, model.OperatorTx) (bool, error) {
		return true, nil
	})
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	row, _ := repo.row(1)
	if row.Status != model.TxConfirmed {
		t.Fatalf("should be confirmed without resubmission: %+v", row)
	}
	if backend.sentCount() != 0 {
		t.Fatalf("nothing should be sent, got %d", backend.sentCount())
	}
}

func TestRecoverResubmitsPending(t *testing.T) {
	backend := &mockTxBackend{}
	q, repo, _ := newTestQueue(t, backend)
	ctx := context.Background()

	repo.Insert(ctx, &model.OperatorTx{
		GameID: 5, Action: model.ActionEliminatePlayer,
		Params: `{"player":"0xa9","reason":"heartbeat_timeout"}`,
		Status: model.TxPending, CreatedAt: 1,
	})

	err := q.Recover(ctx, func(context.Context, model.OperatorTx) (bool, error) {
		return false, nil
	})
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !repo.waitStatus(1, model.TxConfirmed) {
		row, _ := repo.row(1)
		t.Fatalf("resubmission never confirmed: %+v", row)
	}
	if backend.sentCount() != 1 {
		t.Fatalf("sent %d txs", backend.sentCount())
	}
}
