package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"github.com/zerohour-games/manhunt/internal/model"
	"github.com/zerohour-games/manhunt/internal/repository"
)

// backfillBatch caps the block span of one FilterLogs call; providers
// reject unbounded ranges.
const backfillBatch = 5000

// logBackend is the subscription slice of ethclient.Client.
type logBackend interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// EventHandler receives decoded contract events in chain order. Handlers
// must be idempotent: backfill overlap and provider replays deliver
// duplicates.
type EventHandler interface {
	HandleGameCreated(ctx context.Context, ev GameCreatedEvent) error
	HandlePlayerRegistered(ctx context.Context, ev PlayerRegisteredEvent) error
	HandleGameStarted(ctx context.Context, ev GameStartedEvent) error
	HandleKillRecorded(ctx context.Context, ev KillRecordedEvent) error
	HandlePlayerEliminated(ctx context.Context, ev PlayerEliminatedEvent) error
	HandleGameEnded(ctx context.Context, ev GameEndedEvent) error
	HandleGameCancelled(ctx context.Context, ev GameCancelledEvent) error
}

// ListenerOptions tune the subscription watchdog.
type ListenerOptions struct {
	CheckInterval   time.Duration // watchdog tick
	StaleAfter      time.Duration // no event/heartbeat for this long restarts the sub
	RestartCooldown time.Duration // pause before resubscribing
}

// Listener mirrors contract events into the store via the handler. One
// long-lived task: backfill from the persisted cursor, subscribe, watch
// for staleness, repeat.
type Listener struct {
	backend  logBackend
	contract common.Address
	sync     repository.SyncRepository
	handler  EventHandler
	opts     ListenerOptions
}

func NewListener(backend logBackend, contract common.Address, sync repository.SyncRepository, handler EventHandler, opts ListenerOptions) *Listener {
	if opts.CheckInterval == 0 {
		opts.CheckInterval = 30 * time.Second
	}
	if opts.StaleAfter == 0 {
		opts.StaleAfter = 2 * time.Minute
	}
	if opts.RestartCooldown == 0 {
		opts.RestartCooldown = 30 * time.Second
	}
	return &Listener{backend: backend, contract: contract, sync: sync, handler: handler, opts: opts}
}

func (l *Listener) cursor(ctx context.Context) (uint64, error) {
	v, err := l.sync.Get(ctx, model.SyncKeyLastBlock)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt block cursor %q: %w", v, err)
	}
	return n, nil
}

func (l *Listener) setCursor(ctx context.Context, block uint64) error {
	return l.sync.Set(ctx, model.SyncKeyLastBlock, strconv.FormatUint(block, 10))
}

// dispatch routes one decoded event to its handler.
func (l *Listener) dispatch(ctx context.Context, lg types.Log) error {
	ev, err := decodeLog(lg)
	if err != nil {
		return err
	}
	switch e := ev.(type) {
	case nil:
		return nil
	case GameCreatedEvent:
		return l.handler.HandleGameCreated(ctx, e)
	case PlayerRegisteredEvent:
		return l.handler.HandlePlayerRegistered(ctx, e)
	case GameStartedEvent:
		return l.handler.HandleGameStarted(ctx, e)
	case KillRecordedEvent:
		return l.handler.HandleKillRecorded(ctx, e)
	case PlayerEliminatedEvent:
		return l.handler.HandlePlayerEliminated(ctx, e)
	case GameEndedEvent:
		return l.handler.HandleGameEnded(ctx, e)
	case GameCancelledEvent:
		return l.handler.HandleGameCancelled(ctx, e)
	}
	return nil
}

// Backfill applies all contract events in [cursor+1, head] in
// (block, logIndex) order, advancing the cursor per completed block.
func (l *Listener) Backfill(ctx context.Context) error {
	from, err := l.cursor(ctx)
	if err != nil {
		return err
	}
	from++

	head, err := l.backend.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("head block: %w", err)
	}
	if from > head {
		return nil
	}
	log.Info().Uint64("from", from).Uint64("to", head).Msg("Backfilling chain events")

	for from <= head {
		to := from + backfillBatch - 1
		if to > head {
			to = head
		}
		logs, err := l.backend.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{l.contract},
		})
		if err != nil {
			return fmt.Errorf("filter logs [%d,%d]: %w", from, to, err)
		}
		sort.Slice(logs, func(i, j int) bool {
			if logs[i].BlockNumber != logs[j].BlockNumber {
				return logs[i].BlockNumber < logs[j].BlockNumber
			}
			return logs[i].Index < logs[j].Index
		})
		for _, lg := range logs {
			if err := l.dispatch(ctx, lg); err != nil {
				// Cursor stays behind the failed block; the next backfill
				// replays it against idempotent handlers.
				return fmt.Errorf("apply event at block %d: %w", lg.BlockNumber, err)
			}
		}
		if err := l.setCursor(ctx, to); err != nil {
			return err
		}
		from = to + 1
	}
	return nil
}

// Run is the listener task: backfill, subscribe, restart on staleness or
// error. Returns when ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := l.runOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Dur("cooldown", l.opts.RestartCooldown).Msg("Event listener stopped, restarting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.opts.RestartCooldown):
		}
	}
}

func (l *Listener) runOnce(ctx context.Context) error {
	if err := l.Backfill(ctx); err != nil {
		return err
	}

	ch := make(chan types.Log, 256)
	sub, err := l.backend.SubscribeFilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{l.contract},
	}, ch)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()
	log.Info().Str("contract", l.contract.Hex()).Msg("Subscribed to contract events")

	lastEvent := time.Now()
	watchdog := time.NewTicker(l.opts.CheckInterval)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return fmt.Errorf("subscription: %w", err)
		case lg := <-ch:
			lastEvent = time.Now()
			if lg.Removed {
				continue
			}
			if err := l.dispatch(ctx, lg); err != nil {
				log.Error().Err(err).Uint64("block", lg.BlockNumber).Msg("Event handler failed")
				continue
			}
			if err := l.setCursor(ctx, lg.BlockNumber); err != nil {
				log.Error().Err(err).Msg("Cursor update failed")
			}
		case <-watchdog.C:
			if time.Since(lastEvent) > l.opts.StaleAfter {
				return fmt.Errorf("no events for %s, subscription presumed stale", l.opts.StaleAfter)
			}
			// Cheap liveness probe; failure restarts the subscription.
			if _, err := l.backend.BlockNumber(ctx); err != nil {
				return fmt.Errorf("liveness probe: %w", err)
			}
			lastEvent = time.Now()
		}
	}
}
