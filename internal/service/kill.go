package service

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/zerohour-games/manhunt/internal/chain"
	"github.com/zerohour-games/manhunt/internal/geo"
	"github.com/zerohour-games/manhunt/internal/model"
	"github.com/zerohour-games/manhunt/internal/qr"
	"github.com/zerohour-games/manhunt/internal/repository"
)

// SubmitKill runs the kill verification pipeline. On success the kill,
// the elimination, and the cycle rewiring land in one store transaction,
// and the on-chain recordKill is enqueued before the game lock releases.
func (s *GameService) SubmitKill(ctx context.Context, gameID uint64, hunter string, qrPayload string, lat, lng float64, bleNearby []string) (*model.Kill, error) {
	if err := geo.Validate(lat, lng); err != nil {
		return nil, ErrBadCoordinate
	}
	hunter = common.HexToAddress(hunter).Hex()

	mu := s.lock(gameID)
	mu.Lock()
	defer mu.Unlock()

	g, err := s.repos.Games.Find(ctx, gameID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if g.Phase != model.PhaseActive || g.SubPhase != model.SubPhaseGame {
		return nil, ErrGameNotActive
	}

	hunterRow, err := s.repos.Players.Find(ctx, gameID, hunter)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !hunterRow.IsAlive {
		return nil, ErrHunterNotAlive
	}

	qrGame, number, err := qr.Decode(qrPayload)
	if err != nil || qrGame != gameID {
		return nil, ErrInvalidQr
	}
	target, err := s.repos.Players.FindByNumber(ctx, gameID, number)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTargetNotFound
		}
		return nil, err
	}
	if !target.IsAlive {
		return nil, ErrTargetNotAlive
	}

	assigned, err := s.repos.Targets.TargetOf(ctx, gameID, hunter)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if assigned != target.Address {
		return nil, ErrNotYourTarget
	}

	targetPing, err := s.repos.Locations.Latest(ctx, gameID, target.Address)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoTargetPosition
	}
	if err != nil {
		return nil, err
	}
	dist := geo.Haversine(lat, lng, geo.FromFixed(targetPing.LatE6), geo.FromFixed(targetPing.LngE6))
	if dist > s.cfg.KillProximityMeters {
		return nil, ErrOutOfRange
	}

	if s.cfg.BLERequired && !bleContains(bleNearby, target.BluetoothID) {
		return nil, ErrBlePresenceMissing
	}

	now := s.nowFn()
	kill := &model.Kill{
		GameID:      gameID,
		Hunter:      hunter,
		Target:      target.Address,
		Timestamp:   now,
		HunterLatE6: geo.ToFixed(lat),
		HunterLngE6: geo.ToFixed(lng),
		TargetLatE6: targetPing.LatE6,
		TargetLngE6: targetPing.LngE6,
		DistanceM:   dist,
	}
	if err := s.applyElimination(ctx, gameID, target.Address, hunter, model.ReasonKilled, kill, true); err != nil {
		return nil, err
	}

	log.Info().Uint64("gameId", gameID).Str("hunter", hunter).Str("target", target.Address).
		Float64("distance", dist).Msg("Kill verified")
	s.broadcast.Broadcast(gameID, model.ServerMessage{
		Kind: model.MsgKillRecorded, GameID: gameID,
		Data: model.KillRecordedPayload{
			HunterNumber: hunterRow.Number,
			TargetNumber: target.Number,
			DistanceM:    dist,
		},
	})

	sub, err := s.writer.RecordKill(gameID, chain.RecordKillParams{Hunter: hunter, Target: target.Address})
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, sub); err != nil {
		log.Error().Err(err).Uint64("gameId", gameID).Msg("Kill enqueue failed")
	}

	alive, err := s.repos.Players.AliveCount(ctx, gameID)
	if err != nil {
		return kill, nil
	}
	if alive <= 1 {
		if err := s.endGame(ctx, g); err != nil {
			log.Error().Err(err).Uint64("gameId", gameID).Msg("Endgame after final kill failed")
		}
	}
	return kill, nil
}

// AttachPhoto stores an audit photo reference, optionally linked to a
// kill row.
func (s *GameService) AttachPhoto(ctx context.Context, gameID uint64, addr, uri string, killID int64) (int64, error) {
	addr = common.HexToAddress(addr).Hex()
	return s.repos.Photos.Insert(ctx, &model.GamePhoto{
		GameID:    gameID,
		Address:   addr,
		KillID:    killID,
		URI:       uri,
		Timestamp: s.nowFn(),
	})
}
