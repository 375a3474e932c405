package service

import (
	"context"
	"encoding/binary"
	"errors"
	"math/rand"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"

	"github.com/zerohour-games/manhunt/internal/chain"
	"github.com/zerohour-games/manhunt/internal/model"
	"github.com/zerohour-games/manhunt/internal/repository"
)

// targetSeed derives the deterministic-but-unpredictable permutation seed:
// the hash of the first block mined at or after the game's start, mixed
// with the game id. Nobody can compute it before the game starts; anybody
// can recompute it afterwards.
func (s *GameService) targetSeed(ctx context.Context, g *model.Game) int64 {
	var idBytes [8]byte
	binary.BigEndian.PutUint64(idBytes[:], g.ID)

	blockHash, err := s.reader.BlockHashAtOrAfter(ctx, g.StartedAt)
	var digest []byte
	if err != nil {
		log.Warn().Err(err).Uint64("gameId", g.ID).Msg("Block hash unavailable, using fallback seed")
		var tsBytes [8]byte
		binary.BigEndian.PutUint64(tsBytes[:], uint64(g.StartedAt))
		digest = crypto.Keccak256(idBytes[:], tsBytes[:])
	} else {
		digest = crypto.Keccak256(blockHash.Bytes(), idBytes[:])
	}
	return int64(binary.BigEndian.Uint64(digest[:8]))
}

// initTargets builds the initial hunter->target cycle over the alive set
// and persists it in one transaction. Each hunter privately learns only
// their own target.
func (s *GameService) initTargets(ctx context.Context, g *model.Game) error {
	alive, err := s.repos.Players.Alive(ctx, g.ID)
	if err != nil {
		return err
	}
	if len(alive) < 2 {
		return nil
	}

	perm := make([]model.Player, len(alive))
	copy(perm, alive)
	rng := rand.New(rand.NewSource(s.targetSeed(ctx, g)))
	rng.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })

	assignments := make([]model.TargetAssignment, len(perm))
	for i := range perm {
		assignments[i] = model.TargetAssignment{
			GameID: g.ID,
			Hunter: perm[i].Address,
			Target: perm[(i+1)%len(perm)].Address,
		}
	}
	if err := s.repos.Targets.SetAll(ctx, g.ID, assignments); err != nil {
		return err
	}
	log.Info().Uint64("gameId", g.ID).Int("players", len(perm)).Msg("Target cycle assigned")

	for i := range perm {
		s.broadcast.SendToPlayer(g.ID, perm[i].Address, model.ServerMessage{
			Kind: model.MsgGameStarted, GameID: g.ID,
			Data: model.GameStartedPayload{
				TargetNumber: perm[(i+1)%len(perm)].Number,
				StartedAt:    g.SubPhaseAt,
			},
		})
	}
	return nil
}

// applyElimination is the single path through which any player dies:
// combat kills, zone violations, heartbeat timeouts, and chain-event
// mirroring all converge here. It computes the cycle rewiring, applies
// everything in one store transaction, fans out the messages, and (for
// non-combat reasons) enqueues the on-chain elimination. Caller holds the
// game lock. Eliminating an already-dead player is a no-op.
// writeChain is false when the elimination mirrors a chain event that is
// already final.
func (s *GameService) applyElimination(ctx context.Context, gameID uint64, victim, by, reason string, kill *model.Kill, writeChain bool) error {
	victimRow, err := s.repos.Players.Find(ctx, gameID, victim)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if !victimRow.IsAlive {
		return nil
	}

	aliveBefore, err := s.repos.Players.AliveCount(ctx, gameID)
	if err != nil {
		return err
	}

	e := repository.Elimination{
		GameID: gameID,
		Victim: victim,
		By:     by,
		Reason: reason,
		At:     s.nowFn(),
		Kill:   kill,
	}

	hunter, err := s.repos.Targets.HunterOf(ctx, gameID, victim)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	victimTarget, terr := s.repos.Targets.TargetOf(ctx, gameID, victim)
	if terr != nil && !errors.Is(terr, repository.ErrNotFound) {
		return terr
	}

	var newTargetNumber uint32
	if hunter != "" {
		switch {
		case aliveBefore <= 2:
			// The survivor hunts nobody.
			e.RemoveHunterEdge = hunter
		case victimTarget == "" || victimTarget == hunter:
			e.RemoveHunterEdge = hunter
		default:
			e.NewHunter = hunter
			e.NewTarget = victimTarget
			newTargetNumber = s.numberOf(ctx, gameID, victimTarget)
		}
	}

	if err := s.repos.Eliminations.RecordElimination(ctx, e); err != nil {
		return err
	}

	log.Info().Uint64("gameId", gameID).Str("player", victim).Str("reason", reason).
		Int("aliveBefore", aliveBefore).Msg("Player eliminated")

	s.broadcast.Broadcast(gameID, model.ServerMessage{
		Kind: model.MsgPlayerEliminated, GameID: gameID,
		Data: model.PlayerEliminatedPayload{
			Number:   victimRow.Number,
			Reason:   reason,
			ByNumber: s.numberOf(ctx, gameID, by),
		},
	})
	if e.NewHunter != "" {
		kind := model.MsgHunterUpdated
		if kill != nil {
			kind = model.MsgTargetAssigned
		}
		s.broadcast.SendToPlayer(gameID, e.NewHunter, model.ServerMessage{
			Kind: kind, GameID: gameID,
			Data: model.TargetAssignedPayload{TargetNumber: newTargetNumber},
		})
	}
	if board, err := s.leaderboard(ctx, gameID); err == nil {
		s.broadcast.Broadcast(gameID, model.ServerMessage{
			Kind: model.MsgLeaderboardUpdate, GameID: gameID,
			Data: model.LeaderboardUpdatePayload{Leaderboard: board},
		})
	}

	// Combat kills reach the chain through recordKill; everything else
	// through eliminatePlayer.
	if writeChain && kill == nil {
		sub, err := s.writer.EliminatePlayer(gameID, chain.EliminatePlayerParams{Player: victim, Reason: reason})
		if err != nil {
			return err
		}
		if err := s.queue.Enqueue(ctx, sub); err != nil {
			log.Error().Err(err).Uint64("gameId", gameID).Str("player", victim).Msg("Elimination enqueue failed")
		}
	}
	return nil
}
