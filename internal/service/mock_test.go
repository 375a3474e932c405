package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zerohour-games/manhunt/internal/chain"
	"github.com/zerohour-games/manhunt/internal/config"
	"github.com/zerohour-games/manhunt/internal/model"
	"github.com/zerohour-games/manhunt/internal/repository/sqlite"
)

const (
	testOperatorKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
	testContract    = "0x00000000000000000000000000000000000000aa"
)

// Test geography: games centered on Berlin. One degree of latitude is
// ~111.32 km, so metersNorth moves a point by a known distance.
const (
	centerLat = 52.520000
	centerLng = 13.405000
)

func metersNorth(lat float64, m float64) float64 {
	return lat + m/111320.0
}

// ---- chain reader mock ----

type mockReader struct {
	mu      sync.Mutex
	configs map[uint64]*model.Game
	states  map[uint64]*chain.GameState
	shrinks map[uint64][]model.ZoneShrink
	players map[string]*chain.PlayerRecord
	nextID  uint64
	hash    common.Hash
	hashErr error
}

func newMockReader() *mockReader {
	return &mockReader{
		configs: map[uint64]*model.Game{},
		states:  map[uint64]*chain.GameState{},
		shrinks: map[uint64][]model.ZoneShrink{},
		players: map[string]*chain.PlayerRecord{},
		hash:    common.HexToHash("0xfeedface00000000000000000000000000000000000000000000000000000001"),
	}
}

func playerKey(gameID uint64, addr string) string {
	return fmt.Sprintf("%d:%s", gameID, common.HexToAddress(addr).Hex())
}

func (m *mockReader) GameConfig(ctx context.Context, gameID uint64) (*model.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.configs[gameID]
	if !ok {
		return nil, fmt.Errorf("no config for game %d", gameID)
	}
	cp := *g
	return &cp, nil
}

func (m *mockReader) GameState(ctx context.Context, gameID uint64) (*chain.GameState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[gameID]
	if !ok {
		return nil, fmt.Errorf("no state for game %d", gameID)
	}
	cp := *st
	return &cp, nil
}

func (m *mockReader) setState(gameID uint64, st chain.GameState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[gameID] = &st
}

func (m *mockReader) ZoneShrinks(ctx context.Context, gameID uint64) ([]model.ZoneShrink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shrinks[gameID], nil
}

func (m *mockReader) PlayerRecord(ctx context.Context, gameID uint64, addr string) (*chain.PlayerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.players[playerKey(gameID, addr)]
	if !ok {
		return nil, fmt.Errorf("no player record for %s", addr)
	}
	cp := *rec
	return &cp, nil
}

func (m *mockReader) NextGameID(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextID, nil
}

func (m *mockReader) BlockHashAtOrAfter(ctx context.Context, ts int64) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hashErr != nil {
		return common.Hash{}, m.hashErr
	}
	return m.hash, nil
}

// ---- queue mock ----

type mockEnqueuer struct {
	mu   sync.Mutex
	subs []chain.Submission
	err  error
}

func (m *mockEnqueuer) Enqueue(ctx context.Context, sub chain.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.subs = append(m.subs, sub)
	return nil
}

func (m *mockEnqueuer) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.subs))
	for i, s := range m.subs {
		out[i] = s.Action
	}
	return out
}

func (m *mockEnqueuer) lastAction() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.subs) == 0 {
		return ""
	}
	return m.subs[len(m.subs)-1].Action
}

func (m *mockEnqueuer) countAction(action string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.subs {
		if s.Action == action {
			n++
		}
	}
	return n
}

// ---- broadcaster mock ----

type recordBroadcaster struct {
	mu     sync.Mutex
	all    []model.ServerMessage
	direct map[string][]model.ServerMessage
}

func newRecordBroadcaster() *recordBroadcaster {
	return &recordBroadcaster{direct: map[string][]model.ServerMessage{}}
}

func (b *recordBroadcaster) Broadcast(gameID uint64, msg model.ServerMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, msg)
}

func (b *recordBroadcaster) SendToPlayer(gameID uint64, address string, msg model.ServerMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.direct[address] = append(b.direct[address], msg)
}

func (b *recordBroadcaster) sawKind(kind model.MessageKind) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.all {
		if m.Kind == kind {
			return true
		}
	}
	return false
}

func (b *recordBroadcaster) directKinds(address string) []model.MessageKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.MessageKind, 0, len(b.direct[address]))
	for _, m := range b.direct[address] {
		out = append(out, m.Kind)
	}
	return out
}

func (b *recordBroadcaster) sawDirect(address string, kind model.MessageKind) bool {
	for _, k := range b.directKinds(address) {
		if k == kind {
			return true
		}
	}
	return false
}

// ---- harness ----

type testEnv struct {
	store  *sqlite.Store
	reader *mockReader
	queue  *mockEnqueuer
	bcast  *recordBroadcaster
	cfg    *config.Config
	now    atomic.Int64
}

func (e *testEnv) advance(seconds int64) int64 {
	return e.now.Add(seconds)
}

func testConfig() *config.Config {
	return &config.Config{
		ContractAddress:           testContract,
		KillProximityMeters:       100,
		ZoneGraceSeconds:          60,
		GPSPingIntervalSeconds:    5,
		BLERequired:               false,
		HeartbeatIntervalSeconds:  600,
		HeartbeatProximityMeters:  100,
		HeartbeatDisableThreshold: 4,
		CheckinDurationSeconds:    300,
		PregameDurationSeconds:    180,
	}
}

func newTestService(t *testing.T) (*GameService, *testEnv) {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	writer, err := chain.NewWriter(testOperatorKey, 8453, common.HexToAddress(testContract))
	if err != nil {
		t.Fatalf("writer: %v", err)
	}

	env := &testEnv{
		store:  store,
		reader: newMockReader(),
		queue:  &mockEnqueuer{},
		bcast:  newRecordBroadcaster(),
		cfg:    testConfig(),
	}
	env.now.Store(1_700_000_000)

	svc := NewGameService(Repos{
		Games:        store.Games(),
		Players:      store.Players(),
		Targets:      store.Targets(),
		Kills:        store.Kills(),
		Locations:    store.Locations(),
		Heartbeats:   store.Heartbeats(),
		Photos:       store.Photos(),
		Eliminations: store,
		Sync:         store.Sync(),
	}, env.reader, writer, env.queue, env.bcast, env.cfg)
	svc.nowFn = func() int64 { return env.now.Load() }

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	t.Cleanup(cancel)
	return svc, env
}

// ---- fixtures ----

func testAddr(i int) string {
	return common.HexToAddress(fmt.Sprintf("0x%040x", i+0x1000)).Hex()
}

// seedGame inserts a REGISTRATION game centered on Berlin with a
// three-step shrink schedule.
func (e *testEnv) seedGame(t *testing.T, id uint64, minPlayers uint32) *model.Game {
	t.Helper()
	g := &model.Game{
		ID:            id,
		Title:         "friday night hunt",
		Creator:       testAddr(0),
		EntryFeeWei:   "10000000000000000",
		BaseRewardWei: "0",
		BpsFirst:      5000,
		BpsSecond:     2500,
		BpsThird:      1000,
		BpsKills:      1000,
		BpsCreator:    500,
		CenterLatE6:   int64(centerLat * 1e6),
		CenterLngE6:   int64(centerLng * 1e6),
		MeetLatE6:     int64(centerLat * 1e6),
		MeetLngE6:     int64(centerLng * 1e6),
		RegDeadline:   e.now.Load() + 3600,
		GameDate:      e.now.Load() + 7200,
		MaxDuration:   14400,
		MinPlayers:    minPlayers,
		MaxPlayers:    50,
		Phase:         model.PhaseRegistration,
	}
	if err := e.store.Games().Insert(context.Background(), g); err != nil {
		t.Fatalf("seed game: %v", err)
	}
	schedule := []model.ZoneShrink{
		{GameID: id, Idx: 0, AtSecond: 0, RadiusMeters: 1000},
		{GameID: id, Idx: 1, AtSecond: 600, RadiusMeters: 500},
		{GameID: id, Idx: 2, AtSecond: 1200, RadiusMeters: 200},
	}
	if err := e.store.Games().InsertZoneShrinks(context.Background(), id, schedule); err != nil {
		t.Fatalf("seed shrinks: %v", err)
	}
	return g
}

// seedPlayers registers n alive players numbered 1..n.
func (e *testEnv) seedPlayers(t *testing.T, gameID uint64, n int) []string {
	t.Helper()
	addrs := make([]string, n)
	for i := 0; i < n; i++ {
		addrs[i] = testAddr(i + 1)
		err := e.store.Players().Insert(context.Background(), &model.Player{
			GameID:  gameID,
			Address: addrs[i],
			Number:  uint32(i + 1),
			IsAlive: true,
		})
		if err != nil {
			t.Fatalf("seed player %d: %v", i+1, err)
		}
	}
	if err := e.store.Games().UpdatePlayerCount(context.Background(), gameID, uint32(n), "0"); err != nil {
		t.Fatalf("player count: %v", err)
	}
	return addrs
}

func (e *testEnv) pingAt(t *testing.T, gameID uint64, addr string, lat, lng float64) {
	t.Helper()
	err := e.store.Locations().Upsert(context.Background(), &model.LocationPing{
		GameID:    gameID,
		Address:   addr,
		LatE6:     int64(lat * 1e6),
		LngE6:     int64(lng * 1e6),
		Timestamp: e.now.Load(),
		InZone:    true,
	})
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
}

// startHunt drives a seeded game all the way into the hunt sub-phase:
// chain start event, everyone checked in at the center, pregame elapsed.
func startHunt(t *testing.T, svc *GameService, env *testEnv, gameID uint64, addrs []string) {
	t.Helper()
	ctx := context.Background()

	err := svc.HandleGameStarted(ctx, chain.GameStartedEvent{GameID: gameID, Timestamp: uint64(env.now.Load())})
	if err != nil {
		t.Fatalf("game started: %v", err)
	}
	for _, a := range addrs {
		if err := env.store.Players().SetCheckedIn(ctx, gameID, a, "ble-"+a[2:6]); err != nil {
			t.Fatalf("check in %s: %v", a, err)
		}
		env.pingAt(t, gameID, a, centerLat, centerLng)
	}

	g, err := env.store.Games().Find(ctx, gameID)
	if err != nil {
		t.Fatalf("find game: %v", err)
	}
	r := svc.runner(gameID)
	if r == nil {
		t.Fatal("no runner after game start")
	}
	if err := svc.enterPregame(ctx, g, r); err != nil {
		t.Fatalf("enter pregame: %v", err)
	}
	env.advance(env.cfg.PregameDurationSeconds)
	if err := svc.Tick(ctx, gameID); err != nil {
		t.Fatalf("pregame tick: %v", err)
	}

	g, err = env.store.Games().Find(ctx, gameID)
	if err != nil {
		t.Fatalf("reload game: %v", err)
	}
	if g.SubPhase != model.SubPhaseGame {
		t.Fatalf("sub-phase = %s, want game", g.SubPhase)
	}
}

// targetOf resolves the hunter's current target address, or "".
func targetOf(t *testing.T, env *testEnv, gameID uint64, hunter string) string {
	t.Helper()
	target, err := env.store.Targets().TargetOf(context.Background(), gameID, hunter)
	if err != nil {
		return ""
	}
	return target
}
