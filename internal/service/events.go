package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/zerohour-games/manhunt/internal/chain"
	"github.com/zerohour-games/manhunt/internal/model"
	"github.com/zerohour-games/manhunt/internal/repository"
)

// GameService implements chain.EventHandler. Chain events are the
// authority on phase transitions and registrations; the handlers mirror
// them into the store and are idempotent so backfill replays are safe.

func (s *GameService) HandleGameCreated(ctx context.Context, ev chain.GameCreatedEvent) error {
	mu := s.lock(ev.GameID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.repos.Games.Find(ctx, ev.GameID); err == nil {
		return nil // already mirrored
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	g, err := s.reader.GameConfig(ctx, ev.GameID)
	if err != nil {
		return err
	}
	state, err := s.reader.GameState(ctx, ev.GameID)
	if err != nil {
		return err
	}
	g.Phase = state.Phase
	g.PlayerCount = state.PlayerCount
	g.TotalWei = state.TotalWei
	if err := s.repos.Games.Insert(ctx, g); err != nil {
		return err
	}

	schedule, err := s.reader.ZoneShrinks(ctx, ev.GameID)
	if err != nil {
		return err
	}
	if err := s.repos.Games.InsertZoneShrinks(ctx, ev.GameID, schedule); err != nil {
		return err
	}

	log.Info().Uint64("gameId", ev.GameID).Str("title", g.Title).Str("creator", g.Creator).
		Msg("Game created on chain")
	if g.Phase == model.PhaseRegistration {
		s.scheduleRegistrationDeadline(ev.GameID, g.RegDeadline)
	}
	return nil
}

func (s *GameService) HandlePlayerRegistered(ctx context.Context, ev chain.PlayerRegisteredEvent) error {
	mu := s.lock(ev.GameID)
	mu.Lock()
	defer mu.Unlock()

	addr := ev.Player.Hex()
	err := s.repos.Players.Insert(ctx, &model.Player{
		GameID:  ev.GameID,
		Address: addr,
		Number:  ev.PlayerNumber,
		IsAlive: true,
	})
	if err != nil {
		return err
	}
	if err := s.repos.Games.UpdatePlayerCount(ctx, ev.GameID, ev.PlayerCount, ev.TotalWei.String()); err != nil {
		return err
	}

	log.Info().Uint64("gameId", ev.GameID).Str("player", addr).Uint32("number", ev.PlayerNumber).
		Uint32("count", ev.PlayerCount).Msg("Player registered")
	s.broadcast.Broadcast(ev.GameID, model.ServerMessage{
		Kind: model.MsgPlayerRegistered, GameID: ev.GameID,
		Data: model.PlayerRegisteredPayload{Number: ev.PlayerNumber, PlayerCount: ev.PlayerCount},
	})
	return nil
}

func (s *GameService) HandleGameStarted(ctx context.Context, ev chain.GameStartedEvent) error {
	mu := s.lock(ev.GameID)
	mu.Lock()
	defer mu.Unlock()

	g, err := s.repos.Games.Find(ctx, ev.GameID)
	if err != nil {
		return err
	}
	if g.Phase == model.PhaseActive {
		return nil
	}
	startedAt := int64(ev.Timestamp)
	err = s.repos.Games.UpdatePhase(ctx, ev.GameID, model.PhaseActive, repository.GamePhaseUpdate{
		StartedAt:  startedAt,
		SubPhase:   model.SubPhaseCheckin,
		SubPhaseAt: startedAt,
	})
	if err != nil {
		return err
	}
	s.cancelRegistrationTimer(ev.GameID)

	log.Info().Uint64("gameId", ev.GameID).Int64("startedAt", startedAt).Msg("Game started on chain, check-in open")
	s.broadcast.Broadcast(ev.GameID, model.ServerMessage{Kind: model.MsgCheckinStarted, GameID: ev.GameID})
	s.startRunner(ev.GameID)
	return nil
}

func (s *GameService) HandleKillRecorded(ctx context.Context, ev chain.KillRecordedEvent) error {
	mu := s.lock(ev.GameID)
	mu.Lock()
	defer mu.Unlock()

	hunter, target := ev.Hunter.Hex(), ev.Target.Hex()
	if err := s.repos.Kills.UpdateTxHash(ctx, ev.GameID, hunter, target, ev.TxHash.Hex()); err != nil {
		return err
	}

	// Normally the server originated this kill and the target is already
	// dead locally; mirror it only when the chain got there first.
	victim, err := s.repos.Players.Find(ctx, ev.GameID, target)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if !victim.IsAlive {
		return nil
	}
	log.Warn().Uint64("gameId", ev.GameID).Str("target", target).Msg("Mirroring chain kill not seen locally")
	return s.applyElimination(ctx, ev.GameID, target, hunter, model.ReasonKilled, nil, false)
}

func (s *GameService) HandlePlayerEliminated(ctx context.Context, ev chain.PlayerEliminatedEvent) error {
	mu := s.lock(ev.GameID)
	mu.Lock()
	defer mu.Unlock()

	addr := ev.Player.Hex()
	victim, err := s.repos.Players.Find(ctx, ev.GameID, addr)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if !victim.IsAlive {
		return nil
	}
	return s.applyElimination(ctx, ev.GameID, addr, "", ev.Reason, nil, false)
}

func (s *GameService) HandleGameEnded(ctx context.Context, ev chain.GameEndedEvent) error {
	mu := s.lock(ev.GameID)
	mu.Lock()
	defer mu.Unlock()

	g, err := s.repos.Games.Find(ctx, ev.GameID)
	if err != nil {
		return err
	}
	if g.Phase == model.PhaseEnded {
		return nil
	}
	w1, w2, w3, top := ev.Winner1.Hex(), ev.Winner2.Hex(), ev.Winner3.Hex(), ev.TopKiller.Hex()
	err = s.repos.Games.UpdatePhase(ctx, ev.GameID, model.PhaseEnded, repository.GamePhaseUpdate{
		EndedAt: s.nowFn(), Winner1: w1, Winner2: w2, Winner3: w3, TopKiller: top,
	})
	if err != nil {
		return err
	}
	s.cancelRegistrationTimer(ev.GameID)
	s.stopRunner(ev.GameID)
	s.clearLocations(ctx, ev.GameID)

	log.Info().Uint64("gameId", ev.GameID).Str("winner", w1).Msg("Game ended on chain")
	s.broadcast.Broadcast(ev.GameID, model.ServerMessage{
		Kind: model.MsgGameEnded, GameID: ev.GameID,
		Data: model.GameEndedPayload{
			Winner1Number:   s.numberOf(ctx, ev.GameID, w1),
			Winner2Number:   s.numberOf(ctx, ev.GameID, w2),
			Winner3Number:   s.numberOf(ctx, ev.GameID, w3),
			TopKillerNumber: s.numberOf(ctx, ev.GameID, top),
		},
	})
	return nil
}

func (s *GameService) HandleGameCancelled(ctx context.Context, ev chain.GameCancelledEvent) error {
	mu := s.lock(ev.GameID)
	mu.Lock()
	defer mu.Unlock()

	g, err := s.repos.Games.Find(ctx, ev.GameID)
	if err != nil {
		return err
	}
	if g.Phase == model.PhaseCancelled {
		return nil
	}
	err = s.repos.Games.UpdatePhase(ctx, ev.GameID, model.PhaseCancelled, repository.GamePhaseUpdate{
		EndedAt: s.nowFn(),
	})
	if err != nil {
		return err
	}
	s.cancelRegistrationTimer(ev.GameID)
	s.stopRunner(ev.GameID)
	s.clearLocations(ctx, ev.GameID)

	log.Info().Uint64("gameId", ev.GameID).Msg("Game cancelled on chain, stakes refundable")
	s.broadcast.Broadcast(ev.GameID, model.ServerMessage{
		Kind: model.MsgGameCancelled, GameID: ev.GameID,
		Data: model.GameCancelledPayload{Reason: "cancelled"},
	})
	return nil
}
