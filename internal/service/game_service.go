package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/zerohour-games/manhunt/internal/chain"
	"github.com/zerohour-games/manhunt/internal/config"
	"github.com/zerohour-games/manhunt/internal/geo"
	"github.com/zerohour-games/manhunt/internal/model"
	"github.com/zerohour-games/manhunt/internal/repository"
)

// ChainReader is the slice of chain.Reader the engine consumes.
type ChainReader interface {
	GameConfig(ctx context.Context, gameID uint64) (*model.Game, error)
	GameState(ctx context.Context, gameID uint64) (*chain.GameState, error)
	ZoneShrinks(ctx context.Context, gameID uint64) ([]model.ZoneShrink, error)
	PlayerRecord(ctx context.Context, gameID uint64, addr string) (*chain.PlayerRecord, error)
	NextGameID(ctx context.Context) (uint64, error)
	BlockHashAtOrAfter(ctx context.Context, ts int64) (common.Hash, error)
}

// Enqueuer hands prepared submissions to the operator queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, sub chain.Submission) error
}

// Repos bundles the persistence interfaces the engine consumes.
type Repos struct {
	Games        repository.GameRepository
	Players      repository.PlayerRepository
	Targets      repository.TargetRepository
	Kills        repository.KillRepository
	Locations    repository.LocationRepository
	Heartbeats   repository.HeartbeatRepository
	Photos       repository.PhotoRepository
	Eliminations repository.EliminationRecorder
	Sync         repository.SyncRepository
}

// runner is the in-memory state of one ACTIVE game. All fields are
// guarded by the game's mutex.
type runner struct {
	cancel            context.CancelFunc
	zone              *zoneTracker
	heartbeatDisabled bool
	pregameEndsAt     int64
	expiryRequested   bool
}

// GameService is the engine. One instance serves all games; per-game
// mutexes serialize every mutation of one game's state.
type GameService struct {
	repos     Repos
	reader    ChainReader
	writer    *chain.Writer
	queue     Enqueuer
	broadcast Broadcaster
	cfg       *config.Config

	gameLocks sync.Map // gameID -> *sync.Mutex
	limiters  sync.Map // "gameID:addr" -> *rate.Limiter

	mu        sync.Mutex
	runners   map[uint64]*runner
	regTimers map[uint64]*time.Timer

	rootCtx context.Context

	// injectable clock for tests
	nowFn func() int64
}

func NewGameService(repos Repos, reader ChainReader, writer *chain.Writer, queue Enqueuer, broadcast Broadcaster, cfg *config.Config) *GameService {
	return &GameService{
		repos:     repos,
		reader:    reader,
		writer:    writer,
		queue:     queue,
		broadcast: broadcast,
		cfg:       cfg,
		runners:   map[uint64]*runner{},
		regTimers: map[uint64]*time.Timer{},
		rootCtx:   context.Background(),
		nowFn:     func() int64 { return time.Now().Unix() },
	}
}

// Start binds the service to its root context; runners and timers stop
// when it is cancelled.
func (s *GameService) Start(ctx context.Context) { s.rootCtx = ctx }

func (s *GameService) lock(gameID uint64) *sync.Mutex {
	m, _ := s.gameLocks.LoadOrStore(gameID, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// ---- runner lifecycle ----

// startRunner launches the 1 Hz tick goroutine for an ACTIVE game. No-op
// if one is already running.
func (s *GameService) startRunner(gameID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runners[gameID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(s.rootCtx)
	r := &runner{cancel: cancel}
	s.runners[gameID] = r

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Tick(ctx, gameID); err != nil {
					log.Error().Err(err).Uint64("gameId", gameID).Msg("Tick failed")
				}
			}
		}
	}()
	log.Info().Uint64("gameId", gameID).Msg("Started game runner")
}

func (s *GameService) runner(gameID uint64) *runner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runners[gameID]
}

func (s *GameService) stopRunner(gameID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runners[gameID]; ok {
		r.cancel()
		delete(s.runners, gameID)
		log.Info().Uint64("gameId", gameID).Msg("Stopped game runner")
	}
}

// ---- registration deadline timer ----

// scheduleRegistrationDeadline arms the one-shot timer that decides start
// vs. cancellation. A past deadline fires immediately.
func (s *GameService) scheduleRegistrationDeadline(gameID uint64, deadline int64) {
	wait := time.Duration(deadline-s.nowFn()) * time.Second
	if wait < 0 {
		wait = 0
	}
	s.mu.Lock()
	if t, ok := s.regTimers[gameID]; ok {
		t.Stop()
	}
	s.regTimers[gameID] = time.AfterFunc(wait, func() {
		if err := s.HandleRegistrationDeadline(s.rootCtx, gameID); err != nil {
			log.Error().Err(err).Uint64("gameId", gameID).Msg("Registration deadline handling failed")
		}
	})
	s.mu.Unlock()
	log.Info().Uint64("gameId", gameID).Int64("deadline", deadline).Msg("Scheduled registration deadline")
}

func (s *GameService) cancelRegistrationTimer(gameID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.regTimers[gameID]; ok {
		t.Stop()
		delete(s.regTimers, gameID)
	}
}

// HandleRegistrationDeadline starts the game if enough players registered,
// otherwise asks the contract to cancel and refund.
func (s *GameService) HandleRegistrationDeadline(ctx context.Context, gameID uint64) error {
	mu := s.lock(gameID)
	mu.Lock()
	defer mu.Unlock()

	g, err := s.repos.Games.Find(ctx, gameID)
	if err != nil {
		return err
	}
	if g.Phase != model.PhaseRegistration {
		return nil // chain already moved it
	}

	if g.PlayerCount >= g.MinPlayers {
		sub, err := s.writer.StartGame(gameID)
		if err != nil {
			return err
		}
		log.Info().Uint64("gameId", gameID).Uint32("players", g.PlayerCount).Msg("Registration closed, starting game")
		return s.queue.Enqueue(ctx, sub)
	}

	sub, err := s.writer.TriggerCancellation(gameID)
	if err != nil {
		return err
	}
	log.Info().Uint64("gameId", gameID).Uint32("players", g.PlayerCount).Uint32("min", g.MinPlayers).
		Msg("Too few players, cancelling game")
	return s.queue.Enqueue(ctx, sub)
}

// ---- tick ----

// Tick advances one game by one second: zone shrinks, zone sweep,
// heartbeat sweep, endgame check. Exported so tests can drive time.
func (s *GameService) Tick(ctx context.Context, gameID uint64) error {
	mu := s.lock(gameID)
	mu.Lock()
	defer mu.Unlock()

	g, err := s.repos.Games.Find(ctx, gameID)
	if err != nil {
		return err
	}
	if g.Phase != model.PhaseActive {
		s.stopRunner(gameID)
		return nil
	}
	r := s.runner(gameID)
	if r == nil {
		return nil
	}
	now := s.nowFn()

	switch g.SubPhase {
	case model.SubPhaseCheckin:
		// Once the window closes, stop holding out for the full prize
		// quorum and start with everyone who showed up, as long as the
		// game is still viable.
		if now >= g.SubPhaseAt+s.cfg.CheckinDurationSeconds {
			checkedIn, err := s.repos.Players.CheckedInCount(ctx, gameID)
			if err != nil {
				return err
			}
			if checkedIn >= int(g.MinPlayers) {
				log.Info().Uint64("gameId", gameID).Int("checkedIn", checkedIn).
					Msg("Check-in window closed, starting below prize quorum")
				return s.enterPregame(ctx, g, r)
			}
		}
		if now > g.ExpiryDeadline() && !r.expiryRequested {
			r.expiryRequested = true
			sub, err := s.writer.TriggerExpiry(gameID)
			if err != nil {
				return err
			}
			log.Info().Uint64("gameId", gameID).Msg("Check-in window expired, triggering expiry")
			return s.queue.Enqueue(ctx, sub)
		}
	case model.SubPhasePregame:
		if r.pregameEndsAt != 0 && now >= r.pregameEndsAt {
			return s.enterGameSubPhase(ctx, g, r)
		}
	case model.SubPhaseGame:
		if err := s.tickZone(ctx, g, r, now); err != nil {
			return err
		}
		if err := s.sweepHeartbeats(ctx, g, r, now); err != nil {
			return err
		}
		alive, err := s.repos.Players.AliveCount(ctx, gameID)
		if err != nil {
			return err
		}
		if alive <= 1 {
			return s.endGame(ctx, g)
		}
	}
	return nil
}

// enterPregame moves checkin -> pregame once enough players are present.
func (s *GameService) enterPregame(ctx context.Context, g *model.Game, r *runner) error {
	now := s.nowFn()
	if err := s.repos.Games.UpdateSubPhase(ctx, g.ID, model.SubPhasePregame, now); err != nil {
		return err
	}
	r.pregameEndsAt = now + s.cfg.PregameDurationSeconds
	log.Info().Uint64("gameId", g.ID).Int64("endsAt", r.pregameEndsAt).Msg("Entering pregame")
	s.broadcast.Broadcast(g.ID, model.ServerMessage{Kind: model.MsgPregameStarted, GameID: g.ID})
	return nil
}

// enterGameSubPhase arms the hunt: target cycle, heartbeat deadlines,
// zone tracking.
func (s *GameService) enterGameSubPhase(ctx context.Context, g *model.Game, r *runner) error {
	now := s.nowFn()
	if err := s.repos.Games.UpdateSubPhase(ctx, g.ID, model.SubPhaseGame, now); err != nil {
		return err
	}
	g.SubPhase = model.SubPhaseGame
	g.SubPhaseAt = now

	if err := s.initTargets(ctx, g); err != nil {
		return err
	}
	if err := s.repos.Players.InitHeartbeats(ctx, g.ID, now); err != nil {
		return err
	}
	schedule, err := s.repos.Games.ZoneShrinks(ctx, g.ID)
	if err != nil {
		return err
	}
	r.zone = newZoneTracker(schedule, g.StartedAt)
	r.zone.advance(now) // catch up past shrinks silently

	alive, err := s.repos.Players.AliveCount(ctx, g.ID)
	if err != nil {
		return err
	}
	r.heartbeatDisabled = alive <= s.cfg.HeartbeatDisableThreshold

	log.Info().Uint64("gameId", g.ID).Int("alive", alive).Msg("The hunt begins")
	s.broadcast.Broadcast(g.ID, model.ServerMessage{Kind: model.MsgGameStartedBroadcast, GameID: g.ID})
	return nil
}

// ---- endgame ----

// winners computes the final placement. First is the survivor, second and
// third the most recently eliminated, top killer by kills with the lowest
// player number breaking ties.
func (s *GameService) winners(ctx context.Context, gameID uint64) (w1, w2, w3, top string, err error) {
	alive, err := s.repos.Players.Alive(ctx, gameID)
	if err != nil {
		return "", "", "", "", err
	}
	dead, err := s.repos.Players.Eliminated(ctx, gameID)
	if err != nil {
		return "", "", "", "", err
	}

	placed := make([]string, 0, 3)
	for _, p := range alive {
		placed = append(placed, p.Address)
	}
	for _, p := range dead {
		if len(placed) == 3 {
			break
		}
		placed = append(placed, p.Address)
	}
	for len(placed) < 3 {
		placed = append(placed, "")
	}

	all, err := s.repos.Players.List(ctx, gameID)
	if err != nil {
		return "", "", "", "", err
	}
	var best *model.Player
	for i := range all {
		p := &all[i]
		if best == nil || p.Kills > best.Kills || (p.Kills == best.Kills && p.Number < best.Number) {
			best = p
		}
	}
	if best != nil {
		top = best.Address
	}
	return placed[0], placed[1], placed[2], top, nil
}

// endGame transitions to ENDED locally and enqueues the on-chain endGame.
// Caller holds the game lock.
func (s *GameService) endGame(ctx context.Context, g *model.Game) error {
	w1, w2, w3, top, err := s.winners(ctx, g.ID)
	if err != nil {
		return err
	}
	now := s.nowFn()
	err = s.repos.Games.UpdatePhase(ctx, g.ID, model.PhaseEnded, repository.GamePhaseUpdate{
		EndedAt: now, Winner1: w1, Winner2: w2, Winner3: w3, TopKiller: top,
	})
	if err != nil {
		return err
	}
	s.stopRunner(g.ID)
	s.clearLocations(ctx, g.ID)

	log.Info().Uint64("gameId", g.ID).Str("winner", w1).Str("topKiller", top).Msg("Game ended")
	s.broadcast.Broadcast(g.ID, model.ServerMessage{
		Kind: model.MsgGameEnded, GameID: g.ID,
		Data: model.GameEndedPayload{
			Winner1Number:   s.numberOf(ctx, g.ID, w1),
			Winner2Number:   s.numberOf(ctx, g.ID, w2),
			Winner3Number:   s.numberOf(ctx, g.ID, w3),
			TopKillerNumber: s.numberOf(ctx, g.ID, top),
		},
	})

	sub, err := s.writer.EndGame(g.ID, chain.EndGameParams{Winner1: w1, Winner2: w2, Winner3: w3, TopKiller: top})
	if err != nil {
		return err
	}
	return s.queue.Enqueue(ctx, sub)
}

// clearLocations drops every stored ping once a game is over. Position
// history must not outlive the game.
func (s *GameService) clearLocations(ctx context.Context, gameID uint64) {
	if err := s.repos.Locations.Prune(ctx, gameID, s.nowFn()+1); err != nil {
		log.Warn().Err(err).Uint64("gameId", gameID).Msg("Failed to clear location pings")
	}
}

// numberOf is a best-effort address -> player number lookup for messages.
func (s *GameService) numberOf(ctx context.Context, gameID uint64, addr string) uint32 {
	if addr == "" {
		return 0
	}
	p, err := s.repos.Players.Find(ctx, gameID, addr)
	if err != nil {
		return 0
	}
	return p.Number
}

// ---- player operations ----

// Location ingests a GPS ping. Pings are throttled per player; excess
// pings are dropped silently.
func (s *GameService) Location(ctx context.Context, gameID uint64, addr string, lat, lng float64) error {
	if err := geo.Validate(lat, lng); err != nil {
		return ErrBadCoordinate
	}
	addr = common.HexToAddress(addr).Hex()

	key := fmt.Sprintf("%d:%s", gameID, addr)
	lim, _ := s.limiters.LoadOrStore(key,
		rate.NewLimiter(rate.Every(time.Duration(s.cfg.GPSPingIntervalSeconds)*time.Second), 1))
	if !lim.(*rate.Limiter).Allow() {
		return nil
	}

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

	inZone := true
	if r := s.runner(gameID); r != nil && r.zone != nil && g.SubPhase == model.SubPhaseGame {
		inZone = r.zone.contains(g, lat, lng)
	}
	return s.repos.Locations.Upsert(ctx, &model.LocationPing{
		GameID:    gameID,
		Address:   addr,
		LatE6:     geo.ToFixed(lat),
		LngE6:     geo.ToFixed(lng),
		Timestamp: s.nowFn(),
		InZone:    inZone,
	})
}

// Status assembles the lifecycle snapshot clients receive on auth and on
// demand.
func (s *GameService) Status(ctx context.Context, gameID uint64) (*model.GameSnapshot, error) {
	g, err := s.repos.Games.Find(ctx, gameID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	count, err := s.repos.Players.Count(ctx, gameID)
	if err != nil {
		return nil, err
	}
	alive, err := s.repos.Players.AliveCount(ctx, gameID)
	if err != nil {
		return nil, err
	}
	checkedIn, err := s.repos.Players.CheckedInCount(ctx, gameID)
	if err != nil {
		return nil, err
	}
	board, err := s.leaderboard(ctx, gameID)
	if err != nil {
		return nil, err
	}

	snap := &model.GameSnapshot{
		GameID:         gameID,
		Phase:          g.Phase,
		SubPhase:       g.SubPhase,
		PlayerCount:    count,
		AliveCount:     alive,
		CheckedInCount: checkedIn,
		Leaderboard:    board,
	}
	if r := s.runner(gameID); r != nil {
		snap.HeartbeatDisabled = r.heartbeatDisabled
		if r.zone != nil {
			snap.RadiusMeters = float64(r.zone.radius)
			if next := r.zone.next(); next != nil {
				snap.NextShrinkAt = g.StartedAt + next.AtSecond
				snap.NextShrinkRadius = next.RadiusMeters
			}
		}
	}
	return snap, nil
}

// Player looks up a registered player, for transports that need the
// number behind an authenticated address.
func (s *GameService) Player(ctx context.Context, gameID uint64, addr string) (*model.Player, error) {
	p, err := s.repos.Players.Find(ctx, gameID, common.HexToAddress(addr).Hex())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *GameService) leaderboard(ctx context.Context, gameID uint64) ([]model.LeaderboardEntry, error) {
	players, err := s.repos.Players.List(ctx, gameID)
	if err != nil {
		return nil, err
	}
	board := make([]model.LeaderboardEntry, len(players))
	for i, p := range players {
		board[i] = model.LeaderboardEntry{
			Number:    p.Number,
			IsAlive:   p.IsAlive,
			Kills:     p.Kills,
			CheckedIn: p.CheckedIn,
		}
	}
	return board, nil
}
