package service

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/zerohour-games/manhunt/internal/geo"
	"github.com/zerohour-games/manhunt/internal/model"
	"github.com/zerohour-games/manhunt/internal/qr"
	"github.com/zerohour-games/manhunt/internal/repository"
)

// HeartbeatScan processes a proximity scan from scanner to the player
// encoded in the QR payload. A valid scan proves both players are present
// and refreshes both heartbeats.
func (s *GameService) HeartbeatScan(ctx context.Context, gameID uint64, scanner string, qrPayload string, lat, lng float64, bleNearby []string) error {
	if err := geo.Validate(lat, lng); err != nil {
		return ErrBadCoordinate
	}
	scanner = common.HexToAddress(scanner).Hex()

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
	if g.Phase != model.PhaseActive || g.SubPhase != model.SubPhaseGame {
		return ErrGameNotActive
	}

	scannerRow, err := s.repos.Players.Find(ctx, gameID, scanner)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if !scannerRow.IsAlive {
		return ErrHunterNotAlive
	}

	qrGame, number, err := qr.Decode(qrPayload)
	if err != nil || qrGame != gameID {
		return ErrInvalidQr
	}
	scanned, err := s.repos.Players.FindByNumber(ctx, gameID, number)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTargetNotFound
		}
		return err
	}
	if scanned.Address == scanner {
		return ErrInvalidQr
	}
	if !scanned.IsAlive {
		return ErrTargetNotAlive
	}

	dist, err := s.distanceTo(ctx, gameID, scanned.Address, lat, lng)
	if err != nil {
		return err
	}
	if dist > s.cfg.HeartbeatProximityMeters {
		return ErrOutOfRange
	}

	if s.cfg.BLERequired && !bleContains(bleNearby, scanned.BluetoothID) {
		return ErrBlePresenceMissing
	}

	now := s.nowFn()
	if err := s.repos.Players.UpdateLastHeartbeat(ctx, gameID, scanner, now); err != nil {
		return err
	}
	if err := s.repos.Players.UpdateLastHeartbeat(ctx, gameID, scanned.Address, now); err != nil {
		return err
	}
	if err := s.repos.Heartbeats.InsertScan(ctx, &model.HeartbeatScan{
		GameID:       gameID,
		Scanner:      scanner,
		Scanned:      scanned.Address,
		Timestamp:    now,
		ScannerLatE6: geo.ToFixed(lat),
		ScannerLngE6: geo.ToFixed(lng),
		DistanceM:    dist,
	}); err != nil {
		return err
	}

	log.Debug().Uint64("gameId", gameID).Str("scanner", scanner).Str("scanned", scanned.Address).
		Float64("distance", dist).Msg("Heartbeat scan accepted")
	s.broadcast.SendToPlayer(gameID, scanner, model.ServerMessage{
		Kind: model.MsgHeartbeatScanSuccess, GameID: gameID,
		Data: model.HeartbeatScanSuccessPayload{ScannedNumber: scanned.Number},
	})
	s.broadcast.SendToPlayer(gameID, scanned.Address, model.ServerMessage{
		Kind: model.MsgHeartbeatRefreshed, GameID: gameID,
		Data: model.HeartbeatRefreshedPayload{LastHeartbeatAt: now},
	})
	return nil
}

// distanceTo measures from a submitted position to a player's latest
// ping. Missing ping maps to NoTargetPosition.
func (s *GameService) distanceTo(ctx context.Context, gameID uint64, addr string, lat, lng float64) (float64, error) {
	ping, err := s.repos.Locations.Latest(ctx, gameID, addr)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, ErrNoTargetPosition
	}
	if err != nil {
		return 0, err
	}
	return geo.Haversine(lat, lng, geo.FromFixed(ping.LatE6), geo.FromFixed(ping.LngE6)), nil
}

func bleContains(nearby []string, id string) bool {
	if id == "" {
		return false
	}
	for _, n := range nearby {
		if strings.EqualFold(n, id) {
			return true
		}
	}
	return false
}

// sweepHeartbeats eliminates players whose heartbeat is strictly older
// than the interval. Enforcement auto-disables, one way, once the alive
// count reaches the threshold; scans keep working after that.
func (s *GameService) sweepHeartbeats(ctx context.Context, g *model.Game, r *runner, now int64) error {
	if r.heartbeatDisabled {
		return nil
	}
	alive, err := s.repos.Players.AliveCount(ctx, g.ID)
	if err != nil {
		return err
	}
	if alive <= s.cfg.HeartbeatDisableThreshold {
		r.heartbeatDisabled = true
		log.Info().Uint64("gameId", g.ID).Int("alive", alive).Msg("Heartbeat enforcement disabled for endgame")
		return nil
	}

	expired, err := s.repos.Players.HeartbeatExpired(ctx, g.ID, now, s.cfg.HeartbeatIntervalSeconds)
	if err != nil {
		return err
	}
	for _, p := range expired {
		if err := s.applyElimination(ctx, g.ID, p.Address, "", model.ReasonHeartbeatTimeout, nil, true); err != nil {
			return err
		}
	}
	return nil
}
