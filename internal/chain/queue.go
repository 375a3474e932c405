package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"github.com/zerohour-games/manhunt/internal/model"
	"github.com/zerohour-games/manhunt/internal/repository"
)

const (
	queueDepth      = 256
	maxNonceRetries = 6
)

// ErrQueueFull is recorded on a row when the in-memory queue backs up.
var ErrQueueFull = errors.New("operator queue full")

type job struct {
	rowID int64
	sub   Submission
}

// Queue serializes all operator writes through one worker goroutine that
// owns the nonce. Entries are persisted before submission so a crash
// between enqueue and confirmation is recoverable.
type Queue struct {
	writer  *Writer
	backend txBackend
	txs     repository.OperatorTxRepository

	jobs chan job
	done chan struct{}

	// overridable in tests
	pollInterval   time.Duration
	receiptTimeout time.Duration
	nowFn          func() int64
}

func NewQueue(writer *Writer, backend txBackend, txs repository.OperatorTxRepository) *Queue {
	return &Queue{
		writer:         writer,
		backend:        backend,
		txs:            txs,
		jobs:           make(chan job, queueDepth),
		done:           make(chan struct{}),
		pollInterval:   2 * time.Second,
		receiptTimeout: 3 * time.Minute,
		nowFn:          func() int64 { return time.Now().Unix() },
	}
}

// Start launches the worker. It drains until ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	go func() {
		defer close(q.done)
		for {
			select {
			case <-ctx.Done():
				return
			case j := <-q.jobs:
				q.process(ctx, j)
			}
		}
	}()
}

// Wait blocks until the worker has stopped.
func (q *Queue) Wait() { <-q.done }

// Enqueue persists the submission and hands it to the worker without
// blocking the caller. A full queue fails the row instead of stalling
// the game tick.
func (q *Queue) Enqueue(ctx context.Context, sub Submission) error {
	params := "{}"
	if sub.Params != nil {
		raw, err := json.Marshal(sub.Params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		params = string(raw)
	}
	rowID, err := q.txs.Insert(ctx, &model.OperatorTx{
		GameID:    sub.GameID,
		Action:    sub.Action,
		Params:    params,
		Status:    model.TxPending,
		CreatedAt: q.nowFn(),
	})
	if err != nil {
		return fmt.Errorf("persist queue entry: %w", err)
	}

	select {
	case q.jobs <- job{rowID: rowID, sub: sub}:
		return nil
	default:
		q.txs.Update(ctx, rowID, model.TxFailed, "", ErrQueueFull.Error(), 0)
		return ErrQueueFull
	}
}

func isNonceError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") || strings.Contains(msg, "nonce expired")
}

// sleep is a ctx-aware pause used while the RPC endpoint is unavailable;
// the entry stays pending and nothing is lost.
func (q *Queue) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(q.pollInterval):
		return true
	}
}

func (q *Queue) process(ctx context.Context, j job) {
	lg := log.With().Int64("row", j.rowID).Uint64("gameId", j.sub.GameID).Str("action", j.sub.Action).Logger()

	nonceRetries := 0
	for {
		if ctx.Err() != nil {
			return
		}

		nonce, err := q.backend.PendingNonceAt(ctx, q.writer.From())
		if err != nil {
			lg.Warn().Err(err).Msg("Nonce fetch failed, retrying")
			if !q.sleep(ctx) {
				return
			}
			continue
		}
		gasPrice, err := q.backend.SuggestGasPrice(ctx)
		if err != nil {
			lg.Warn().Err(err).Msg("Gas price fetch failed, retrying")
			if !q.sleep(ctx) {
				return
			}
			continue
		}

		from := q.writer.From()
		gas, err := q.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  from,
			To:    &q.writer.contract,
			Data:  j.sub.Data,
			Value: j.sub.Value,
		})
		if err != nil {
			// Estimation failure means the call would revert; final.
			lg.Error().Err(err).Msg("Gas estimation failed, marking entry failed")
			q.txs.Update(ctx, j.rowID, model.TxFailed, "", err.Error(), 0)
			return
		}

		tx, err := q.writer.sign(nonce, gasPrice, gas+gas/5, j.sub.Data, j.sub.Value)
		if err != nil {
			q.txs.Update(ctx, j.rowID, model.TxFailed, "", err.Error(), 0)
			return
		}

		if err := q.backend.SendTransaction(ctx, tx); err != nil {
			if isNonceError(err) && nonceRetries < maxNonceRetries {
				nonceRetries++
				lg.Warn().Err(err).Int("retry", nonceRetries).Msg("Nonce race, refreshing")
				continue
			}
			lg.Error().Err(err).Msg("Submission failed")
			q.txs.Update(ctx, j.rowID, model.TxFailed, "", err.Error(), 0)
			return
		}

		hash := tx.Hash()
		q.txs.Update(ctx, j.rowID, model.TxSubmitted, hash.Hex(), "", 0)
		lg.Info().Str("txHash", hash.Hex()).Uint64("nonce", nonce).Msg("Submitted operator tx")

		receipt, err := q.waitMined(ctx, hash)
		if err != nil {
			lg.Error().Err(err).Str("txHash", hash.Hex()).Msg("Confirmation failed")
			q.txs.Update(ctx, j.rowID, model.TxFailed, hash.Hex(), err.Error(), 0)
			return
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			lg.Error().Str("txHash", hash.Hex()).Msg("Tx reverted by contract")
			q.txs.Update(ctx, j.rowID, model.TxFailed, hash.Hex(), "reverted by contract", 0)
			return
		}
		q.txs.Update(ctx, j.rowID, model.TxConfirmed, hash.Hex(), "", q.nowFn())
		lg.Info().Str("txHash", hash.Hex()).Uint64("block", receipt.BlockNumber.Uint64()).Msg("Confirmed operator tx")
		return
	}
}

func (q *Queue) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(q.receiptTimeout)
	for {
		r, err := q.backend.TransactionReceipt(ctx, hash)
		if err == nil && r != nil {
			return r, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no receipt within %s", q.receiptTimeout)
		}
		if !q.sleep(ctx) {
			return nil, ctx.Err()
		}
	}
}

// Recover reconciles unfinished rows after a restart. Submitted rows are
// checked for a receipt; pending rows are re-enqueued unless the applied
// callback reports the intended chain effect already happened.
func (q *Queue) Recover(ctx context.Context, applied func(context.Context, model.OperatorTx) (bool, error)) error {
	rows, err := q.txs.Pending(ctx)
	if err != nil {
		return fmt.Errorf("load pending rows: %w", err)
	}
	for _, row := range rows {
		lg := log.With().Int64("row", row.ID).Str("action", row.Action).Uint64("gameId", row.GameID).Logger()

		if row.Status == model.TxSubmitted && row.TxHash != "" {
			if r, err := q.backend.TransactionReceipt(ctx, common.HexToHash(row.TxHash)); err == nil && r != nil {
				status := model.TxConfirmed
				lastErr := ""
				if r.Status != types.ReceiptStatusSuccessful {
					status = model.TxFailed
					lastErr = "reverted by contract"
				}
				q.txs.Update(ctx, row.ID, status, row.TxHash, lastErr, q.nowFn())
				lg.Info().Str("status", string(status)).Msg("Reconciled submitted tx from receipt")
				continue
			}
		}

		done, err := applied(ctx, row)
		if err != nil {
			lg.Warn().Err(err).Msg("Could not verify chain state, re-enqueueing")
		}
		if done {
			q.txs.Update(ctx, row.ID, model.TxConfirmed, row.TxHash, "", q.nowFn())
			lg.Info().Msg("Intended effect already on chain, marking confirmed")
			continue
		}

		sub, err := q.writer.Rebuild(row)
		if err != nil {
			q.txs.Update(ctx, row.ID, model.TxFailed, row.TxHash, err.Error(), 0)
			lg.Error().Err(err).Msg("Could not rebuild submission")
			continue
		}
		select {
		case q.jobs <- job{rowID: row.ID, sub: sub}:
			lg.Info().Msg("Re-enqueued pending operator tx")
		default:
			q.txs.Update(ctx, row.ID, model.TxFailed, row.TxHash, ErrQueueFull.Error(), 0)
		}
	}
	return nil
}
