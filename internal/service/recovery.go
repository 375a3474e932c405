package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/zerohour-games/manhunt/internal/chain"
	"github.com/zerohour-games/manhunt/internal/model"
	"github.com/zerohour-games/manhunt/internal/repository"
)

// zeroAddress is how the reader renders unset winner slots.
var zeroAddress = (common.Address{}).Hex()

// ErrContractMismatch means the store was built against a different
// contract deployment than the configured one.
var ErrContractMismatch = errors.New("store contract mismatch")

// Backfiller replays chain events missed while the process was down.
type Backfiller interface {
	Backfill(ctx context.Context) error
}

// Recover rebuilds in-memory state after a restart. The store plus a
// chain backfill is the source of truth; runners, registration timers
// and zone trackers are reconstructed from what they say.
func (s *GameService) Recover(ctx context.Context, backfiller Backfiller) error {
	if err := s.checkContract(ctx); err != nil {
		return err
	}
	if s.cfg.RebuildDB {
		log.Warn().Msg("REBUILD_DB set, dropping game data and replaying chain history")
		if err := s.repos.Games.ResetGameData(ctx); err != nil {
			return fmt.Errorf("reset game data: %w", err)
		}
		if err := s.repos.Sync.Set(ctx, model.SyncKeyLastBlock, "0"); err != nil {
			return fmt.Errorf("reset block cursor: %w", err)
		}
	}
	if err := backfiller.Backfill(ctx); err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	if s.cfg.RebuildDB {
		// Providers prune old logs; games whose creation predates the
		// retained range never come back through the backfill. Mirror
		// every assigned id straight from contract state as well.
		next, err := s.reader.NextGameID(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Next game id unavailable, relying on backfill alone")
		} else {
			for id := s.cfg.StartGameID; id < next; id++ {
				if err := s.HandleGameCreated(ctx, chain.GameCreatedEvent{GameID: id}); err != nil {
					log.Error().Err(err).Uint64("gameId", id).Msg("Failed to mirror game from chain")
				}
			}
		}
	}

	// Terminal games need nothing; only live phases carry timers,
	// runners or a pending chain transition.
	for _, phase := range []model.GamePhase{model.PhaseRegistration, model.PhaseActive} {
		games, err := s.repos.Games.InPhase(ctx, phase)
		if err != nil {
			return err
		}
		for i := range games {
			if err := s.recoverGame(ctx, &games[i]); err != nil {
				log.Error().Err(err).Uint64("gameId", games[i].ID).Msg("Game recovery failed")
			}
		}
	}
	return nil
}

// checkContract pins the store to one contract deployment. Cursors and
// game rows from two deployments must never mix; the address is recorded
// on first start and only a rebuild may change it.
func (s *GameService) checkContract(ctx context.Context) error {
	configured := common.HexToAddress(s.cfg.ContractAddress).Hex()
	stored, err := s.repos.Sync.Get(ctx, model.SyncKeyContractAddress)
	if errors.Is(err, repository.ErrNotFound) {
		return s.repos.Sync.Set(ctx, model.SyncKeyContractAddress, configured)
	}
	if err != nil {
		return err
	}
	if stored == configured {
		return nil
	}
	if s.cfg.RebuildDB {
		log.Warn().Str("stored", stored).Str("configured", configured).
			Msg("Contract changed, rebuild adopts the configured address")
		return s.repos.Sync.Set(ctx, model.SyncKeyContractAddress, configured)
	}
	return fmt.Errorf("%w: store has %s, configured %s (set REBUILD_DB=true to start over)",
		ErrContractMismatch, stored, configured)
}

func (s *GameService) recoverGame(ctx context.Context, g *model.Game) error {
	// Reconcile against the contract; the backfill can miss transitions
	// when the provider pruned old logs.
	state, err := s.reader.GameState(ctx, g.ID)
	if err != nil {
		log.Warn().Err(err).Uint64("gameId", g.ID).Msg("Chain state unavailable, recovering from store only")
	} else if state.Phase != g.Phase {
		log.Info().Uint64("gameId", g.ID).Str("stored", string(g.Phase)).Str("chain", string(state.Phase)).
			Msg("Reconciling phase from chain")
		upd := repository.GamePhaseUpdate{StartedAt: state.StartedAt, EndedAt: state.EndedAt}
		if state.Phase == model.PhaseEnded {
			upd.Winner1, upd.Winner2, upd.Winner3, upd.TopKiller = state.Winner1, state.Winner2, state.Winner3, state.TopKiller
			s.mirrorClaims(ctx, g.ID, state.Winner1, state.Winner2, state.Winner3, state.TopKiller)
		}
		if state.Phase == model.PhaseActive && g.Phase == model.PhaseRegistration {
			upd.SubPhase = model.SubPhaseCheckin
			upd.SubPhaseAt = state.StartedAt
		}
		if err := s.repos.Games.UpdatePhase(ctx, g.ID, state.Phase, upd); err != nil {
			return err
		}
		fresh, err := s.repos.Games.Find(ctx, g.ID)
		if err != nil {
			return err
		}
		g = fresh
	}

	switch g.Phase {
	case model.PhaseRegistration:
		s.scheduleRegistrationDeadline(g.ID, g.RegDeadline)
	case model.PhaseActive:
		return s.recoverActiveGame(ctx, g)
	}
	return nil
}

// mirrorClaims copies the on-chain claim flag for each prize recipient.
// There is no claim event to listen for; the flag only moves during
// reconciliation.
func (s *GameService) mirrorClaims(ctx context.Context, gameID uint64, addrs ...string) {
	seen := map[string]bool{}
	for _, addr := range addrs {
		if addr == "" || addr == zeroAddress || seen[addr] {
			continue
		}
		seen[addr] = true
		rec, err := s.reader.PlayerRecord(ctx, gameID, addr)
		if err != nil {
			log.Warn().Err(err).Uint64("gameId", gameID).Str("address", addr).Msg("Claim flag unavailable")
			continue
		}
		if !rec.HasClaimed {
			continue
		}
		if err := s.repos.Players.SetClaimed(ctx, gameID, addr); err != nil {
			log.Warn().Err(err).Uint64("gameId", gameID).Str("address", addr).Msg("Failed to mirror claim flag")
		}
	}
}

// recoverActiveGame restarts the runner of a game that was mid-flight
// when the process died.
func (s *GameService) recoverActiveGame(ctx context.Context, g *model.Game) error {
	// Target rows distinguish a game interrupted during the hunt from
	// one interrupted during check-in or pregame.
	targets, err := s.repos.Targets.List(ctx, g.ID)
	if err != nil {
		return err
	}
	restartHunt := g.SubPhase == model.SubPhaseGame && len(targets) == 0
	if restartHunt {
		// Died between the sub-phase write and the target assignment.
		// Restart the hunt transition from pregame.
		if err := s.repos.Games.UpdateSubPhase(ctx, g.ID, model.SubPhasePregame, g.SubPhaseAt); err != nil {
			return err
		}
		g.SubPhase = model.SubPhasePregame
	}

	s.startRunner(g.ID)
	r := s.runner(g.ID)
	if r == nil {
		return nil
	}

	now := s.nowFn()
	switch g.SubPhase {
	case model.SubPhasePregame:
		r.pregameEndsAt = g.SubPhaseAt + s.cfg.PregameDurationSeconds
		if restartHunt || r.pregameEndsAt < now {
			r.pregameEndsAt = now // let the next tick fire the transition
		}
	case model.SubPhaseGame:
		schedule, err := s.repos.Games.ZoneShrinks(ctx, g.ID)
		if err != nil {
			return err
		}
		r.zone = newZoneTracker(schedule, g.StartedAt)
		r.zone.advance(now)

		alive, err := s.repos.Players.AliveCount(ctx, g.ID)
		if err != nil {
			return err
		}
		r.heartbeatDisabled = alive <= s.cfg.HeartbeatDisableThreshold
	}

	log.Info().Uint64("gameId", g.ID).Str("subPhase", string(g.SubPhase)).Msg("Recovered active game")
	return nil
}

// AppliedOnChain reports whether a queued operator action already took
// effect on chain. The queue uses it after a restart to avoid
// resubmitting work that landed before the crash.
func (s *GameService) AppliedOnChain(ctx context.Context, row model.OperatorTx) (bool, error) {
	switch row.Action {
	case model.ActionStartGame:
		state, err := s.reader.GameState(ctx, row.GameID)
		if err != nil {
			return false, err
		}
		return state.Phase != model.PhaseRegistration, nil

	case model.ActionRecordKill:
		var p chain.RecordKillParams
		if err := json.Unmarshal([]byte(row.Params), &p); err != nil {
			return false, err
		}
		rec, err := s.reader.PlayerRecord(ctx, row.GameID, p.Target)
		if err != nil {
			return false, err
		}
		return !rec.IsAlive, nil

	case model.ActionEliminatePlayer:
		var p chain.EliminatePlayerParams
		if err := json.Unmarshal([]byte(row.Params), &p); err != nil {
			return false, err
		}
		rec, err := s.reader.PlayerRecord(ctx, row.GameID, p.Player)
		if err != nil {
			return false, err
		}
		return !rec.IsAlive, nil

	case model.ActionEndGame:
		state, err := s.reader.GameState(ctx, row.GameID)
		if err != nil {
			return false, err
		}
		return state.Phase == model.PhaseEnded, nil

	case model.ActionTriggerCancellation, model.ActionTriggerExpiry:
		state, err := s.reader.GameState(ctx, row.GameID)
		if err != nil {
			return false, err
		}
		return state.Phase == model.PhaseCancelled, nil
	}
	return false, errors.New("effect not verifiable for action " + row.Action)
}
