package model

import "time"

// GamePhase is the top-level lifecycle phase. Phase transitions are
// authoritative on-chain; the server mirrors them and never regresses one.
type GamePhase string

const (
	PhaseRegistration GamePhase = "REGISTRATION"
	PhaseActive       GamePhase = "ACTIVE"
	PhaseEnded        GamePhase = "ENDED"
	PhaseCancelled    GamePhase = "CANCELLED"
)

// SubPhase is the server-owned refinement of the ACTIVE phase.
type SubPhase string

const (
	SubPhaseCheckin SubPhase = "checkin"
	SubPhasePregame SubPhase = "pregame"
	SubPhaseGame    SubPhase = "game"
)

// Elimination reasons recorded with a player's death.
const (
	ReasonKilled           = "killed"
	ReasonZoneViolation    = "zone_violation"
	ReasonHeartbeatTimeout = "heartbeat_timeout"
)

// Game mirrors an on-chain game plus server-side sub-phase state.
// Coordinates are contract integers (degrees x 1e6). Wei amounts are
// decimal strings to avoid lossy integer conversions.
type Game struct {
	ID            uint64    `json:"id"`
	Title         string    `json:"title"`
	Creator       string    `json:"creator"`
	EntryFeeWei   string    `json:"entry_fee_wei"`
	BaseRewardWei string    `json:"base_reward_wei"`
	BpsFirst      uint32    `json:"bps_first"`
	BpsSecond     uint32    `json:"bps_second"`
	BpsThird      uint32    `json:"bps_third"`
	BpsKills      uint32    `json:"bps_kills"`
	BpsCreator    uint32    `json:"bps_creator"`
	CenterLatE6   int64     `json:"center_lat_e6"`
	CenterLngE6   int64     `json:"center_lng_e6"`
	MeetLatE6     int64     `json:"meet_lat_e6"`
	MeetLngE6     int64     `json:"meet_lng_e6"`
	RegDeadline   int64     `json:"reg_deadline"`
	GameDate      int64     `json:"game_date"`
	MaxDuration   int64     `json:"max_duration"`
	MinPlayers    uint32    `json:"min_players"`
	MaxPlayers    uint32    `json:"max_players"`
	PlayerCount   uint32    `json:"player_count"`
	TotalWei      string    `json:"total_wei"`
	Phase         GamePhase `json:"phase"`
	SubPhase      SubPhase  `json:"sub_phase,omitempty"`
	SubPhaseAt    int64     `json:"sub_phase_at,omitempty"`
	StartedAt     int64     `json:"started_at,omitempty"`
	EndedAt       int64     `json:"ended_at,omitempty"`
	Winner1       string    `json:"winner1,omitempty"`
	Winner2       string    `json:"winner2,omitempty"`
	Winner3       string    `json:"winner3,omitempty"`
	TopKiller     string    `json:"top_killer,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ExpiryDeadline is the unix second after which anyone may expire the game
// on-chain.
func (g *Game) ExpiryDeadline() int64 {
	return g.GameDate + g.MaxDuration
}

// MinRequiredForPrizes is the smallest checked-in count that lets every
// non-zero prize slot be paid: one per non-zero placement split, plus one
// for the kills split when fewer than four slots are already required.
// Clamped to at least MinPlayers.
func (g *Game) MinRequiredForPrizes() int {
	n := 0
	for _, bps := range []uint32{g.BpsFirst, g.BpsSecond, g.BpsThird} {
		if bps > 0 {
			n++
		}
	}
	if g.BpsKills > 0 && n < 4 {
		n++
	}
	if n < int(g.MinPlayers) {
		n = int(g.MinPlayers)
	}
	return n
}

// ZoneShrink is one step of a game's shrink schedule. Schedules are strictly
// increasing in AtSecond, non-increasing in radius, and start at second 0.
type ZoneShrink struct {
	GameID       uint64 `json:"game_id"`
	Idx          int    `json:"idx"`
	AtSecond     int64  `json:"at_second"`
	RadiusMeters uint32 `json:"radius_meters"`
}

// Player mirrors an on-chain registration plus live game state.
type Player struct {
	GameID          uint64    `json:"game_id"`
	Address         string    `json:"address"`
	Number          uint32    `json:"number"`
	IsAlive         bool      `json:"is_alive"`
	Kills           uint32    `json:"kills"`
	CheckedIn       bool      `json:"checked_in"`
	BluetoothID     string    `json:"bluetooth_id,omitempty"`
	LastHeartbeatAt int64     `json:"last_heartbeat_at,omitempty"`
	EliminatedAt    int64     `json:"eliminated_at,omitempty"`
	EliminatedBy    string    `json:"eliminated_by,omitempty"`
	EliminatedFor   string    `json:"eliminated_for,omitempty"`
	HasClaimed      bool      `json:"has_claimed"`
	RegisteredAt    time.Time `json:"registered_at"`
}

// TargetAssignment is one edge of the hunter->target cycle. Unique per
// (game, hunter).
type TargetAssignment struct {
	GameID uint64 `json:"game_id"`
	Hunter string `json:"hunter"`
	Target string `json:"target"`
}

// Kill is the audit record of a verified kill.
type Kill struct {
	ID          int64   `json:"id"`
	GameID      uint64  `json:"game_id"`
	Hunter      string  `json:"hunter"`
	Target      string  `json:"target"`
	Timestamp   int64   `json:"timestamp"`
	HunterLatE6 int64   `json:"hunter_lat_e6"`
	HunterLngE6 int64   `json:"hunter_lng_e6"`
	TargetLatE6 int64   `json:"target_lat_e6"`
	TargetLngE6 int64   `json:"target_lng_e6"`
	DistanceM   float64 `json:"distance_m"`
	TxHash      string  `json:"tx_hash,omitempty"`
}

// LocationPing is the latest known position of a player in a game.
type LocationPing struct {
	GameID    uint64 `json:"game_id"`
	Address   string `json:"address"`
	LatE6     int64  `json:"lat_e6"`
	LngE6     int64  `json:"lng_e6"`
	Timestamp int64  `json:"timestamp"`
	InZone    bool   `json:"in_zone"`
}

// HeartbeatScan is the audit record of an accepted proximity scan.
type HeartbeatScan struct {
	ID           int64   `json:"id"`
	GameID       uint64  `json:"game_id"`
	Scanner      string  `json:"scanner"`
	Scanned      string  `json:"scanned"`
	Timestamp    int64   `json:"timestamp"`
	ScannerLatE6 int64   `json:"scanner_lat_e6"`
	ScannerLngE6 int64   `json:"scanner_lng_e6"`
	DistanceM    float64 `json:"distance_m"`
}

// OperatorTxStatus tracks a queue entry through its lifecycle.
type OperatorTxStatus string

const (
	TxPending   OperatorTxStatus = "pending"
	TxSubmitted OperatorTxStatus = "submitted"
	TxConfirmed OperatorTxStatus = "confirmed"
	TxFailed    OperatorTxStatus = "failed"
)

// Operator queue actions.
const (
	ActionCreateGame          = "createGame"
	ActionStartGame           = "startGame"
	ActionRecordKill          = "recordKill"
	ActionEliminatePlayer     = "eliminatePlayer"
	ActionEndGame             = "endGame"
	ActionTriggerCancellation = "triggerCancellation"
	ActionTriggerExpiry       = "triggerExpiry"
	ActionWithdrawCreator     = "withdrawCreatorFees"
	ActionWithdrawPlatform    = "withdrawPlatformFees"
	ActionFundWallet          = "fundWallet"
)

// OperatorTx is a persisted entry of the serialized on-chain write queue.
type OperatorTx struct {
	ID          int64            `json:"id"`
	GameID      uint64           `json:"game_id"`
	Action      string           `json:"action"`
	Params      string           `json:"params"` // JSON-encoded action arguments
	Status      OperatorTxStatus `json:"status"`
	TxHash      string           `json:"tx_hash,omitempty"`
	CreatedAt   int64            `json:"created_at"`
	ConfirmedAt int64            `json:"confirmed_at,omitempty"`
	LastError   string           `json:"last_error,omitempty"`
}

// GamePhoto is an audit photo attached to a game, optionally to a kill.
type GamePhoto struct {
	ID        int64  `json:"id"`
	GameID    uint64 `json:"game_id"`
	Address   string `json:"address"`
	KillID    int64  `json:"kill_id,omitempty"`
	URI       string `json:"uri"`
	Timestamp int64  `json:"timestamp"`
}

// Sync state keys used by the chain event listener.
const (
	SyncKeyLastBlock       = "lastProcessedBlock"
	SyncKeyContractAddress = "contractAddress"
)
