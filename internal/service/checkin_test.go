package service

import (
	"context"
	"errors"
	"testing"

	"github.com/zerohour-games/manhunt/internal/chain"
	"github.com/zerohour-games/manhunt/internal/model"
	"github.com/zerohour-games/manhunt/internal/qr"
)

func mustEncode(t *testing.T, gameID uint64, number uint32) string {
	t.Helper()
	payload, err := qr.Encode(gameID, number)
	if err != nil {
		t.Fatalf("encode qr: %v", err)
	}
	return payload
}

func TestCheckinSeedQuotaAndViralRule(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	const gameID = 1

	env.seedGame(t, gameID, 4)
	addrs := env.seedPlayers(t, gameID, 10)
	err := svc.HandleGameStarted(ctx, chain.GameStartedEvent{GameID: gameID, Timestamp: uint64(env.now.Load())})
	if err != nil {
		t.Fatalf("game started: %v", err)
	}

	// 10 players -> exactly one GPS-only seed slot.
	if err := svc.Checkin(ctx, gameID, addrs[0], centerLat, centerLng, "", "ble-1"); err != nil {
		t.Fatalf("seed checkin: %v", err)
	}
	if err := svc.Checkin(ctx, gameID, addrs[1], centerLat, centerLng, "", "ble-2"); !errors.Is(err, ErrInvalidQr) {
		t.Fatalf("second GPS-only checkin: got %v, want %v", err, ErrInvalidQr)
	}

	// A valid referral: QR of the checked-in player, scanned nearby.
	qr1 := mustEncode(t, gameID, 1)
	if err := svc.Checkin(ctx, gameID, addrs[1], metersNorth(centerLat, 50), centerLng, qr1, "ble-2"); err != nil {
		t.Fatalf("viral checkin: %v", err)
	}

	// Referring to a player who has not checked in is rejected.
	qr5 := mustEncode(t, gameID, 5)
	if err := svc.Checkin(ctx, gameID, addrs[2], centerLat, centerLng, qr5, "ble-3"); !errors.Is(err, ErrNotCheckedIn) {
		t.Fatalf("not-checked-in referrer: got %v, want %v", err, ErrNotCheckedIn)
	}

	// Referrals only count when physically near the referrer.
	if err := svc.Checkin(ctx, gameID, addrs[2], metersNorth(centerLat, 300), centerLng, qr1, "ble-3"); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("distant referral: got %v, want %v", err, ErrOutOfRange)
	}

	// A QR from another game never validates.
	foreign := mustEncode(t, 99, 1)
	if err := svc.Checkin(ctx, gameID, addrs[2], centerLat, centerLng, foreign, "ble-3"); !errors.Is(err, ErrInvalidQr) {
		t.Fatalf("foreign qr: got %v, want %v", err, ErrInvalidQr)
	}

	if err := svc.Checkin(ctx, gameID, addrs[0], centerLat, centerLng, "", "ble-1"); !errors.Is(err, ErrAlreadyCheckedIn) {
		t.Fatalf("duplicate checkin: got %v, want %v", err, ErrAlreadyCheckedIn)
	}

	if !env.bcast.sawKind(model.MsgCheckinUpdate) {
		t.Fatal("no checkin:update broadcast")
	}
}

func TestCheckinOpensPregameAtQuorum(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	const gameID = 1

	g := env.seedGame(t, gameID, 4)
	if want := 4; g.MinRequiredForPrizes() != want {
		t.Fatalf("required = %d, want %d", g.MinRequiredForPrizes(), want)
	}
	addrs := env.seedPlayers(t, gameID, 8)
	err := svc.HandleGameStarted(ctx, chain.GameStartedEvent{GameID: gameID, Timestamp: uint64(env.now.Load())})
	if err != nil {
		t.Fatalf("game started: %v", err)
	}

	if err := svc.Checkin(ctx, gameID, addrs[0], centerLat, centerLng, "", "b1"); err != nil {
		t.Fatalf("checkin 1: %v", err)
	}
	for i := 1; i < 4; i++ {
		payload := mustEncode(t, gameID, uint32(i)) // refer to the previous player
		if err := svc.Checkin(ctx, gameID, addrs[i], centerLat, centerLng, payload, "b"); err != nil {
			t.Fatalf("checkin %d: %v", i+1, err)
		}
	}

	g2, err := env.store.Games().Find(ctx, gameID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if g2.SubPhase != model.SubPhasePregame {
		t.Fatalf("sub-phase = %s, want pregame", g2.SubPhase)
	}
	if !env.bcast.sawKind(model.MsgPregameStarted) {
		t.Fatal("no pregame broadcast")
	}
}

func TestCheckinRejectedOutsideCheckinSubPhase(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	const gameID = 1

	env.seedGame(t, gameID, 2)
	addrs := env.seedPlayers(t, gameID, 2)

	// Still in REGISTRATION.
	if err := svc.Checkin(ctx, gameID, addrs[0], centerLat, centerLng, "", ""); !errors.Is(err, ErrPhaseMismatch) {
		t.Fatalf("registration checkin: got %v, want %v", err, ErrPhaseMismatch)
	}

	startHunt(t, svc, env, gameID, addrs)
	if err := svc.Checkin(ctx, gameID, addrs[0], centerLat, centerLng, "", ""); !errors.Is(err, ErrPhaseMismatch) {
		t.Fatalf("hunt checkin: got %v, want %v", err, ErrPhaseMismatch)
	}
}

func TestCheckinWindowClosesWithMinimumPlayers(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	const gameID = 1

	g := env.seedGame(t, gameID, 2)
	if g.MinRequiredForPrizes() <= int(g.MinPlayers) {
		t.Fatalf("prize quorum %d must exceed min players for this scenario", g.MinRequiredForPrizes())
	}
	addrs := env.seedPlayers(t, gameID, 6)
	err := svc.HandleGameStarted(ctx, chain.GameStartedEvent{GameID: gameID, Timestamp: uint64(env.now.Load())})
	if err != nil {
		t.Fatalf("game started: %v", err)
	}

	// Two of six show up: short of the prize quorum, enough to play.
	if err := svc.Checkin(ctx, gameID, addrs[0], centerLat, centerLng, "", "b1"); err != nil {
		t.Fatalf("checkin 1: %v", err)
	}
	if err := svc.Checkin(ctx, gameID, addrs[1], centerLat, centerLng, mustEncode(t, gameID, 1), "b2"); err != nil {
		t.Fatalf("checkin 2: %v", err)
	}

	// The window is still open, so the tick keeps waiting for quorum.
	if err := svc.Tick(ctx, gameID); err != nil {
		t.Fatalf("tick: %v", err)
	}
	g2, err := env.store.Games().Find(ctx, gameID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if g2.SubPhase != model.SubPhaseCheckin {
		t.Fatalf("sub-phase = %s before the window closed", g2.SubPhase)
	}

	env.advance(env.cfg.CheckinDurationSeconds)
	if err := svc.Tick(ctx, gameID); err != nil {
		t.Fatalf("tick: %v", err)
	}
	g2, err = env.store.Games().Find(ctx, gameID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if g2.SubPhase != model.SubPhasePregame {
		t.Fatalf("sub-phase = %s, want pregame after window close", g2.SubPhase)
	}
	if !env.bcast.sawKind(model.MsgPregameStarted) {
		t.Fatal("no pregame broadcast")
	}
}

func TestCheckinWindowHoldsBelowMinimumPlayers(t *testing.T) {
	svc, env := newTestService(t)
	ctx := context.Background()
	const gameID = 1

	env.seedGame(t, gameID, 2)
	addrs := env.seedPlayers(t, gameID, 6)
	err := svc.HandleGameStarted(ctx, chain.GameStartedEvent{GameID: gameID, Timestamp: uint64(env.now.Load())})
	if err != nil {
		t.Fatalf("game started: %v", err)
	}
	if err := svc.Checkin(ctx, gameID, addrs[0], centerLat, centerLng, "", "b1"); err != nil {
		t.Fatalf("checkin: %v", err)
	}

	// One player is not a game; the window closing changes nothing and
	// the expiry deadline stays in charge.
	env.advance(env.cfg.CheckinDurationSeconds)
	if err := svc.Tick(ctx, gameID); err != nil {
		t.Fatalf("tick: %v", err)
	}
	g, err := env.store.Games().Find(ctx, gameID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if g.SubPhase != model.SubPhaseCheckin {
		t.Fatalf("sub-phase = %s, want checkin to hold", g.SubPhase)
	}
	if env.queue.countAction(model.ActionTriggerExpiry) != 0 {
		t.Fatal("expiry triggered before its deadline")
	}
}
