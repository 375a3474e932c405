package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/zerohour-games/manhunt/internal/model"
	"github.com/zerohour-games/manhunt/internal/repository"
)

// mockTxRepo is an in-memory OperatorTxRepository.
type mockTxRepo struct {
	mu   sync.Mutex
	rows []model.OperatorTx
}

func (m *mockTxRepo) Insert(_ context.Context, tx *model.OperatorTx) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := *tx
	row.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, row)
	return row.ID, nil
}

func (m *mockTxRepo) Update(_ context.Context, id int64, status model.OperatorTxStatus, txHash, lastError string, confirmedAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == id {
			m.rows[i].Status = status
			m.rows[i].TxHash = txHash
			m.rows[i].LastError = lastError
			m.rows[i].ConfirmedAt = confirmedAt
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *mockTxRepo) Pending(_ context.Context) ([]model.OperatorTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.OperatorTx
	for _, r := range m.rows {
		if r.Status == model.TxPending || r.Status == model.TxSubmitted {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockTxRepo) row(id int64) (model.OperatorTx, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id {
			return r, true
		}
	}
	return model.OperatorTx{}, false
}

// waitStatus polls until the row reaches the wanted status or times out.
func (m *mockTxRepo) waitStatus(id int64, want model.OperatorTxStatus) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r, ok := m.row(id); ok && r.Status == want {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

// mockTxBackend simulates the node's tx path. nonceFailures counts down
// "nonce too low" rejections before accepting.
type mockTxBackend struct {
	mu            sync.Mutex
	nonce         uint64
	nonceFailures int
	sendErr       error
	estimateErr   error
	sent          []*types.Transaction
	revert        bool
}

func (m *mockTxBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nonce, nil
}

func (m *mockTxBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (m *mockTxBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if m.estimateErr != nil {
		return 0, m.estimateErr
	}
	return 100_000, nil
}

func (m *mockTxBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	if m.nonceFailures > 0 {
		m.nonceFailures--
		m.nonce++
		return errors.New("nonce too low")
	}
	m.sent = append(m.sent, tx)
	m.nonce++
	return nil
}

func (m *mockTxBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.sent {
		if tx.Hash() == hash {
			status := types.ReceiptStatusSuccessful
			if m.revert {
				status = types.ReceiptStatusFailed
			}
			return &types.Receipt{Status: status, BlockNumber: big.NewInt(10), TxHash: hash}, nil
		}
	}
	return nil, ethereum.NotFound
}

func (m *mockTxBackend) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// mockSyncRepo is an in-memory SyncRepository.
type mockSyncRepo struct {
	mu sync.Mutex
	kv map[string]string
}

func newMockSyncRepo() *mockSyncRepo { return &mockSyncRepo{kv: map[string]string{}} }

func (m *mockSyncRepo) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	if !ok {
		return "", repository.ErrNotFound
	}
	return v, nil
}

func (m *mockSyncRepo) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

// mockSub is a no-op ethereum.Subscription.
type mockSub struct {
	errCh chan error
}

func (s *mockSub) Unsubscribe()      {}
func (s *mockSub) Err() <-chan error { return s.errCh }

// mockLogBackend serves canned logs for backfill and subscriptions.
type mockLogBackend struct {
	mu      sync.Mutex
	head    uint64
	logs    []types.Log
	queries []ethereum.FilterQuery
	subCh   chan<- types.Log
}

func (m *mockLogBackend) BlockNumber(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.head, nil
}

func (m *mockLogBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)
	var out []types.Log
	for _, lg := range m.logs {
		if lg.BlockNumber >= q.FromBlock.Uint64() && lg.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (m *mockLogBackend) SubscribeFilterLogs(_ context.Context, _ ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subCh = ch
	return &mockSub{errCh: make(chan error)}, nil
}

// applied is the listener's ordered event record.
type appliedEvent struct {
	kind   string
	gameID uint64
	block  uint64
}

// mockHandler records every delivered event in order.
type mockHandler struct {
	mu     sync.Mutex
	events []appliedEvent
}

func (m *mockHandler) record(kind string, gameID, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, appliedEvent{kind: kind, gameID: gameID, block: block})
	return nil
}

func (m *mockHandler) HandleGameCreated(_ context.Context, ev GameCreatedEvent) error {
	return m.record("created", ev.GameID, ev.Block)
}
func (m *mockHandler) HandlePlayerRegistered(_ context.Context, ev PlayerRegisteredEvent) error {
	return m.record("registered", ev.GameID, ev.Block)
}
func (m *mockHandler) HandleGameStarted(_ context.Context, ev GameStartedEvent) error {
	return m.record("started", ev.GameID, ev.Block)
}
func (m *mockHandler) HandleKillRecorded(_ context.Context, ev KillRecordedEvent) error {
	return m.record("kill", ev.GameID, ev.Block)
}
func (m *mockHandler) HandlePlayerEliminated(_ context.Context, ev PlayerEliminatedEvent) error {
	return m.record("eliminated", ev.GameID, ev.Block)
}
func (m *mockHandler) HandleGameEnded(_ context.Context, ev GameEndedEvent) error {
	return m.record("ended", ev.GameID, ev.Block)
}
func (m *mockHandler) HandleGameCancelled(_ context.Context, ev GameCancelledEvent) error {
	return m.record("cancelled", ev.GameID, ev.Block)
}

func (m *mockHandler) applied() []appliedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]appliedEvent(nil), m.events...)
}
