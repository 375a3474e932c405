// Package repository defines the typed persistence contract consumed by
// the game services. Implementations live in subpackages.
package repository

import (
	"context"
	"errors"

	"github.com/zerohour-games/manhunt/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// GamePhaseUpdate carries the optional columns written alongside a phase
// transition. Zero values leave the column untouched.
type GamePhaseUpdate struct {
	StartedAt  int64
	EndedAt    int64
	SubPhase   model.SubPhase
	SubPhaseAt int64
	Winner1    string
	Winner2    string
	Winner3    string
	TopKiller  string
}

// GameRepository defines game and zone-shrink data operations.
type GameRepository interface {
	Insert(ctx context.Context, g *model.Game) error
	Find(ctx context.Context, id uint64) (*model.Game, error)
	UpdatePhase(ctx context.Context, id uint64, phase model.GamePhase, upd GamePhaseUpdate) error
	UpdateSubPhase(ctx context.Context, id uint64, sub model.SubPhase, startedAt int64) error
	InPhase(ctx context.Context, phase model.GamePhase) ([]model.Game, error)
	All(ctx context.Context) ([]model.Game, error)
	UpdatePlayerCount(ctx context.Context, id uint64, count uint32, totalWei string) error
	InsertZoneShrinks(ctx context.Context, id uint64, schedule []model.ZoneShrink) error
	ZoneShrinks(ctx context.Context, id uint64) ([]model.ZoneShrink, error)
	ResetGameData(ctx context.Context) error
}

// PlayerRepository defines player data operations, scoped by game.
type PlayerRepository interface {
	Insert(ctx context.Context, p *model.Player) error
	Find(ctx context.Context, gameID uint64, address string) (*model.Player, error)
	FindByNumber(ctx context.Context, gameID uint64, number uint32) (*model.Player, error)
	List(ctx context.Context, gameID uint64) ([]model.Player, error)
	Alive(ctx context.Context, gameID uint64) ([]model.Player, error)
	Count(ctx context.Context, gameID uint64) (int, error)
	AliveCount(ctx context.Context, gameID uint64) (int, error)
	CheckedInCount(ctx context.Context, gameID uint64) (int, error)
	SetCheckedIn(ctx context.Context, gameID uint64, address, bluetoothID string) error
	SetClaimed(ctx context.Context, gameID uint64, address string) error
	Eliminate(ctx context.Context, gameID uint64, address, by, reason string, at int64) error
	IncrementKills(ctx context.Context, gameID uint64, address string) error
	InitHeartbeats(ctx context.Context, gameID uint64, ts int64) error
	UpdateLastHeartbeat(ctx context.Context, gameID uint64, address string, ts int64) error
	HeartbeatExpired(ctx context.Context, gameID uint64, now, interval int64) ([]model.Player, error)
	// Eliminated returns dead players, most recent death first.
	Eliminated(ctx context.Context, gameID uint64) ([]model.Player, error)
}

// TargetRepository defines hunter->target edge operations, scoped by game.
type TargetRepository interface {
	Set(ctx context.Context, gameID uint64, hunter, target string) error
	SetAll(ctx context.Context, gameID uint64, assignments []model.TargetAssignment) error
	TargetOf(ctx context.Context, gameID uint64, hunter string) (string, error)
	HunterOf(ctx context.Context, gameID uint64, target string) (string, error)
	Remove(ctx context.Context, gameID uint64, hunter string) error
	List(ctx context.Context, gameID uint64) ([]model.TargetAssignment, error)
	RemoveAll(ctx context.Context, gameID uint64) error
}

// KillRepository defines kill audit records.
type KillRepository interface {
	Insert(ctx context.Context, k *model.Kill) (int64, error)
	UpdateTxHash(ctx context.Context, gameID uint64, hunter, target, txHash string) error
	List(ctx context.Context, gameID uint64) ([]model.Kill, error)
}

// LocationRepository keeps the latest ping per (game, player).
type LocationRepository interface {
	Upsert(ctx context.Context, p *model.LocationPing) error
	Latest(ctx context.Context, gameID uint64, address string) (*model.LocationPing, error)
	Prune(ctx context.Context, gameID uint64, before int64) error
}

// HeartbeatRepository stores accepted proximity scans.
type HeartbeatRepository interface {
	InsertScan(ctx context.Context, s *model.HeartbeatScan) error
}

// OperatorTxRepository persists the on-chain write queue.
type OperatorTxRepository interface {
	Insert(ctx context.Context, tx *model.OperatorTx) (int64, error)
	Update(ctx context.Context, id int64, status model.OperatorTxStatus, txHash, lastError string, confirmedAt int64) error
	Pending(ctx context.Context) ([]model.OperatorTx, error)
}

// PhotoRepository stores audit photos.
type PhotoRepository interface {
	Insert(ctx context.Context, p *model.GamePhoto) (int64, error)
	List(ctx context.Context, gameID uint64) ([]model.GamePhoto, error)
}

// SyncRepository is the listener's key-value cursor store.
type SyncRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Elimination is the atomic multi-row transition applied when a player
// dies: mark dead, optionally record the kill and credit the hunter, and
// rewire the target cycle.
type Elimination struct {
	GameID uint64
	Victim string
	By     string // empty for zone/heartbeat eliminations
	Reason string
	At     int64

	Kill *model.Kill // non-nil for combat eliminations

	// Cycle rewiring. The victim's outgoing edge is always removed.
	// When NewHunter is non-empty its edge is repointed at NewTarget;
	// RemoveHunterEdge drops the hunter's edge instead (last two alive).
	NewHunter        string
	NewTarget        string
	RemoveHunterEdge string
}

// EliminationRecorder applies an Elimination in a single transaction.
type EliminationRecorder interface {
	RecordElimination(ctx context.Context, e Elimination) error
}
