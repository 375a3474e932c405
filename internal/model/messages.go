package model

// MessageKind enumerates every server-to-client message. The set is closed:
// transports switch on these constants rather than sniffing payload shapes.
type MessageKind string

const (
	MsgAuthSuccess          MessageKind = "auth:success"
	MsgCheckinStarted       MessageKind = "game:checkin_started"
	MsgCheckinUpdate        MessageKind = "checkin:update"
	MsgPregameStarted       MessageKind = "game:pregame_started"
	MsgGameStartedBroadcast MessageKind = "game:started_broadcast"
	MsgGameStarted          MessageKind = "game:started"
	MsgKillRecorded         MessageKind = "kill:recorded"
	MsgPlayerEliminated     MessageKind = "player:eliminated"
	MsgTargetAssigned       MessageKind = "target:assigned"
	MsgHunterUpdated        MessageKind = "hunter:updated"
	MsgZoneShrink           MessageKind = "zone:shrink"
	MsgZoneWarning          MessageKind = "zone:warning"
	MsgZoneOK               MessageKind = "zone:ok"
	MsgLeaderboardUpdate    MessageKind = "leaderboard:update"
	MsgHeartbeatRefreshed   MessageKind = "heartbeat:refreshed"
	MsgHeartbeatScanSuccess MessageKind = "heartbeat:scan_success"
	MsgHeartbeatError       MessageKind = "heartbeat:error"
	MsgGameEnded            MessageKind = "game:ended"
	MsgGameCancelled        MessageKind = "game:cancelled"
	MsgPlayerRegistered     MessageKind = "player:registered"
	MsgStatus               MessageKind = "status:snapshot"
	MsgError                MessageKind = "error"
)

// ServerMessage is the envelope for all messages pushed to clients.
type ServerMessage struct {
	Kind   MessageKind `json:"type"`
	GameID uint64      `json:"gameId"`
	Data   any         `json:"data,omitempty"`
}

// LeaderboardEntry identifies players by number only; addresses are
// reserved for on-chain identity and auth.
type LeaderboardEntry struct {
	Number    uint32 `json:"number"`
	IsAlive   bool   `json:"isAlive"`
	Kills     uint32 `json:"kills"`
	CheckedIn bool   `json:"checkedIn"`
}

// GameSnapshot is the lifecycle read returned on auth and on demand.
type GameSnapshot struct {
	GameID            uint64             `json:"gameId"`
	Phase             GamePhase          `json:"phase"`
	SubPhase          SubPhase           `json:"subPhase,omitempty"`
	PlayerCount       int                `json:"playerCount"`
	AliveCount        int                `json:"aliveCount"`
	CheckedInCount    int                `json:"checkedInCount"`
	RadiusMeters      float64            `json:"radiusMeters,omitempty"`
	NextShrinkAt      int64              `json:"nextShrinkAt,omitempty"`
	NextShrinkRadius  uint32             `json:"nextShrinkRadius,omitempty"`
	HeartbeatDisabled bool               `json:"heartbeatDisabled"`
	Leaderboard       []LeaderboardEntry `json:"leaderboard"`
}

type AuthSuccessPayload struct {
	PlayerNumber uint32       `json:"playerNumber"`
	Snapshot     GameSnapshot `json:"snapshot"`
}

type CheckinUpdatePayload struct {
	CheckedIn int `json:"checkedIn"`
	Required  int `json:"required"`
}

// GameStartedPayload is per-player: each hunter learns only their own target.
type GameStartedPayload struct {
	TargetNumber uint32 `json:"targetNumber"`
	StartedAt    int64  `json:"startedAt"`
}

type KillRecordedPayload struct {
	HunterNumber uint32  `json:"hunterNumber"`
	TargetNumber uint32  `json:"targetNumber"`
	DistanceM    float64 `json:"distanceMeters"`
}

type PlayerEliminatedPayload struct {
	Number   uint32 `json:"number"`
	Reason   string `json:"reason"`
	ByNumber uint32 `json:"byNumber,omitempty"`
}

type TargetAssignedPayload struct {
	TargetNumber uint32 `json:"targetNumber"`
}

type ZoneShrinkPayload struct {
	RadiusMeters     uint32 `json:"radiusMeters"`
	NextShrinkAt     int64  `json:"nextShrinkAt,omitempty"`
	NextShrinkRadius uint32 `json:"nextShrinkRadius,omitempty"`
}

type ZoneWarningPayload struct {
	SecondsRemaining int64 `json:"secondsRemaining"`
}

type LeaderboardUpdatePayload struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

type HeartbeatRefreshedPayload struct {
	LastHeartbeatAt int64 `json:"lastHeartbeatAt"`
}

type HeartbeatScanSuccessPayload struct {
	ScannedNumber uint32 `json:"scannedNumber"`
}

type GameEndedPayload struct {
	Winner1Number   uint32 `json:"winner1Number,omitempty"`
	Winner2Number   uint32 `json:"winner2Number,omitempty"`
	Winner3Number   uint32 `json:"winner3Number,omitempty"`
	TopKillerNumber uint32 `json:"topKillerNumber,omitempty"`
}

type GameCancelledPayload struct {
	Reason string `json:"reason"`
}

type PlayerRegisteredPayload struct {
	Number      uint32 `json:"number"`
	PlayerCount uint32 `json:"playerCount"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client-to-server actions over the websocket transport.
const (
	ClientActionAuth          = "auth"
	ClientActionCheckin       = "checkin"
	ClientActionLocation      = "location"
	ClientActionHeartbeatScan = "heartbeat_scan"
	ClientActionSubmitKill    = "submit_kill"
	ClientActionStatus        = "status"
)

// ClientMessage is the envelope for messages sent by clients. Action
// selects which fields are meaningful.
type ClientMessage struct {
	Action      string   `json:"action"`
	GameID      uint64   `json:"gameId"`
	Address     string   `json:"address,omitempty"`
	Timestamp   int64    `json:"timestamp,omitempty"`
	Signature   string   `json:"signature,omitempty"`
	Lat         float64  `json:"lat,omitempty"`
	Lng         float64  `json:"lng,omitempty"`
	QRPayload   string   `json:"qrPayload,omitempty"`
	BluetoothID string   `json:"bluetoothId,omitempty"`
	BLENearby   []string `json:"bleNearby,omitempty"`
}
