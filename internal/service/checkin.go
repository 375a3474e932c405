package service

import (
	"context"
	"errors"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/zerohour-games/manhunt/internal/geo"
	"github.com/zerohour-games/manhunt/internal/model"
	"github.com/zerohour-games/manhunt/internal/qr"
	"github.com/zerohour-games/manhunt/internal/repository"
)

// seedSlots is the number of players who may check in on GPS alone:
// everyone after them must scan the QR of someone already present. The
// viral rule keeps check-in moderator-free while proving co-presence.
func seedSlots(playerCount int) int {
	n := int(math.Ceil(float64(playerCount) * 0.05))
	if n < 1 {
		n = 1
	}
	return n
}

// checkinRequired is the checked-in count that opens pregame.
func (s *GameService) checkinRequired(g *model.Game) int {
	return g.MinRequiredForPrizes()
}

// Checkin marks a player present at the meeting point. qrPayload is
// required outside the seed-slot quota and must belong to an
// already-checked-in player nearby.
func (s *GameService) Checkin(ctx context.Context, gameID uint64, addr string, lat, lng float64, qrPayload, bluetoothID string) error {
	if err := geo.Validate(lat, lng); err != nil {
		return ErrBadCoordinate
	}
	addr = common.HexToAddress(addr).Hex()

	mu := s.lock(gameID)
	mu.Lock()
	defer mu.Unlock()

	g, err := s.repos.Games.Find(ctx, gameID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if g.Phase != model.PhaseActive || g.SubPhase != model.SubPhaseCheckin {
		return ErrPhaseMismatch
	}

	player, err := s.repos.Players.Find(ctx, gameID, addr)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if player.CheckedIn {
		return ErrAlreadyCheckedIn
	}

	checkedIn, err := s.repos.Players.CheckedInCount(ctx, gameID)
	if err != nil {
		return err
	}
	count, err := s.repos.Players.Count(ctx, gameID)
	if err != nil {
		return err
	}

	if checkedIn >= seedSlots(count) {
		// Past the seed quota: prove co-presence with a checked-in player.
		if qrPayload == "" {
			return ErrInvalidQr
		}
		qrGame, number, err := qr.Decode(qrPayload)
		if err != nil || qrGame != gameID {
			return ErrInvalidQr
		}
		referrer, err := s.repos.Players.FindByNumber(ctx, gameID, number)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrTargetNotFound
			}
			return err
		}
		if referrer.Address == addr {
			return ErrInvalidQr
		}
		if !referrer.CheckedIn {
			return ErrNotCheckedIn
		}
		dist, err := s.distanceTo(ctx, gameID, referrer.Address, lat, lng)
		if err != nil {
			return err
		}
		if dist > s.cfg.KillProximityMeters {
			return ErrOutOfRange
		}
	}

	if err := s.repos.Players.SetCheckedIn(ctx, gameID, addr, bluetoothID); err != nil {
		return err
	}
	if err := s.repos.Locations.Upsert(ctx, &model.LocationPing{
		GameID:    gameID,
		Address:   addr,
		LatE6:     geo.ToFixed(lat),
		LngE6:     geo.ToFixed(lng),
		Timestamp: s.nowFn(),
		InZone:    true,
	}); err != nil {
		return err
	}
	checkedIn++

	required := s.checkinRequired(g)
	log.Info().Uint64("gameId", gameID).Str("player", addr).Int("checkedIn", checkedIn).
		Int("required", required).Msg("Player checked in")
	s.broadcast.Broadcast(gameID, model.ServerMessage{
		Kind: model.MsgCheckinUpdate, GameID: gameID,
		Data: model.CheckinUpdatePayload{CheckedIn: checkedIn, Required: required},
	})

	if checkedIn >= required {
		r := s.runner(gameID)
		if r == nil {
			return nil
		}
		return s.enterPregame(ctx, g, r)
	}
	return nil
}
