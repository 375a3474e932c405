package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/zerohour-games/manhunt/internal/geo"
	"github.com/zerohour-games/manhunt/internal/model"
	"github.com/zerohour-games/manhunt/internal/repository"
)

// zoneWarnInterval spaces repeated zone:warning messages to a player who
// stays outside.
const zoneWarnInterval = 10

// zoneTracker holds one game's shrink cursor and per-player out-of-zone
// countdowns. Guarded by the game's mutex.
type zoneTracker struct {
	schedule  []model.ZoneShrink
	startedAt int64
	radius    uint32
	nextIdx   int

	outSince map[string]int64
	lastWarn map[string]int64
}

func newZoneTracker(schedule []model.ZoneShrink, startedAt int64) *zoneTracker {
	z := &zoneTracker{
		schedule:  schedule,
		startedAt: startedAt,
		outSince:  map[string]int64{},
		lastWarn:  map[string]int64{},
	}
	if len(schedule) > 0 {
		z.radius = schedule[0].RadiusMeters
		z.nextIdx = 1
	}
	return z
}

// advance moves the shrink cursor to the current elapsed time and returns
// the shrinks that fired.
func (z *zoneTracker) advance(now int64) []model.ZoneShrink {
	elapsed := now - z.startedAt
	var fired []model.ZoneShrink
	for z.nextIdx < len(z.schedule) && z.schedule[z.nextIdx].AtSecond <= elapsed {
		z.radius = z.schedule[z.nextIdx].RadiusMeters
		fired = append(fired, z.schedule[z.nextIdx])
		z.nextIdx++
	}
	return fired
}

// next returns the upcoming shrink, or nil when the schedule is done.
func (z *zoneTracker) next() *model.ZoneShrink {
	if z.nextIdx < len(z.schedule) {
		return &z.schedule[z.nextIdx]
	}
	return nil
}

// contains is boundary-inclusive: exactly on the radius is inside.
func (z *zoneTracker) contains(g *model.Game, lat, lng float64) bool {
	d := geo.Haversine(lat, lng, geo.FromFixed(g.CenterLatE6), geo.FromFixed(g.CenterLngE6))
	return d <= float64(z.radius)
}

// tickZone runs one zone pass: fire due shrinks, then check every alive
// player with a known position against the current radius. Players
// without a ping are left to heartbeat enforcement.
func (s *GameService) tickZone(ctx context.Context, g *model.Game, r *runner, now int64) error {
	z := r.zone
	if z == nil {
		return nil
	}

	for _, shrink := range z.advance(now) {
		payload := model.ZoneShrinkPayload{RadiusMeters: shrink.RadiusMeters}
		if next := z.next(); next != nil {
			payload.NextShrinkAt = g.StartedAt + next.AtSecond
			payload.NextShrinkRadius = next.RadiusMeters
		}
		log.Info().Uint64("gameId", g.ID).Uint32("radius", shrink.RadiusMeters).Msg("Zone shrunk")
		s.broadcast.Broadcast(g.ID, model.ServerMessage{Kind: model.MsgZoneShrink, GameID: g.ID, Data: payload})
	}

	alive, err := s.repos.Players.Alive(ctx, g.ID)
	if err != nil {
		return err
	}
	grace := s.cfg.ZoneGraceSeconds

	for _, p := range alive {
		ping, err := s.repos.Locations.Latest(ctx, g.ID, p.Address)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		in := z.contains(g, geo.FromFixed(ping.LatE6), geo.FromFixed(ping.LngE6))
		since, wasOut := z.outSince[p.Address]

		switch {
		case in && wasOut:
			delete(z.outSince, p.Address)
			delete(z.lastWarn, p.Address)
			s.broadcast.SendToPlayer(g.ID, p.Address, model.ServerMessage{Kind: model.MsgZoneOK, GameID: g.ID})
		case !in && !wasOut:
			z.outSince[p.Address] = now
			z.lastWarn[p.Address] = now
			s.broadcast.SendToPlayer(g.ID, p.Address, model.ServerMessage{
				Kind: model.MsgZoneWarning, GameID: g.ID,
				Data: model.ZoneWarningPayload{SecondsRemaining: grace},
			})
		case !in && now-since >= grace:
			delete(z.outSince, p.Address)
			delete(z.lastWarn, p.Address)
			if err := s.applyElimination(ctx, g.ID, p.Address, "", model.ReasonZoneViolation, nil, true); err != nil {
				return err
			}
		case !in && now-z.lastWarn[p.Address] >= zoneWarnInterval:
			z.lastWarn[p.Address] = now
			s.broadcast.SendToPlayer(g.ID, p.Address, model.ServerMessage{
				Kind: model.MsgZoneWarning, GameID: g.ID,
				Data: model.ZoneWarningPayload{SecondsRemaining: grace - (now - since)},
			})
		}
	}
	return nil
}
