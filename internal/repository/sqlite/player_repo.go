package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zerohour-games/manhunt/internal/model"
	"github.com/zerohour-games/manhunt/internal/repository"
)

// PlayerRepo handles player rows.
type PlayerRepo struct {
	db *sql.DB
}

const playerColumns = `game_id, address, number, is_alive, kills, checked_in,
	bluetooth_id, last_heartbeat_at, eliminated_at, eliminated_by,
	eliminated_for, has_claimed, registered_at`

func scanPlayer(row interface{ Scan(...any) error }) (*model.Player, error) {
	var p model.Player
	err := row.Scan(&p.GameID, &p.Address, &p.Number, &p.IsAlive, &p.Kills, &p.CheckedIn,
		&p.BluetoothID, &p.LastHeartbeatAt, &p.EliminatedAt, &p.EliminatedBy,
		&p.EliminatedFor, &p.HasClaimed, &p.RegisteredAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Insert creates a player row from a registration event.
func (r *PlayerRepo) Insert(ctx context.Context, p *model.Player) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO players (game_id, address, number, is_alive, kills,
			checked_in, bluetooth_id, last_heartbeat_at, eliminated_at,
			eliminated_by, eliminated_for, has_claimed)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.GameID, p.Address, p.Number, p.IsAlive, p.Kills,
		p.CheckedIn, p.BluetoothID, p.LastHeartbeatAt, p.EliminatedAt,
		p.EliminatedBy, p.EliminatedFor, p.HasClaimed)
	if err != nil {
		return fmt.Errorf("insert player: %w", err)
	}
	return nil
}

// Find returns a player by address.
func (r *PlayerRepo) Find(ctx context.Context, gameID uint64, address string) (*model.Player, error) {
	p, err := scanPlayer(r.db.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE game_id = ? AND address = ?`,
		gameID, address))
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find player: %w", err)
	}
	return p, nil
}

// FindByNumber returns a player by their chain-assigned number.
func (r *PlayerRepo) FindByNumber(ctx context.Context, gameID uint64, number uint32) (*model.Player, error) {
	p, err := scanPlayer(r.db.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE game_id = ? AND number = ?`,
		gameID, number))
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find player by number: %w", err)
	}
	return p, nil
}

// List returns all players in leaderboard order: alive first, most kills
// first, then lowest number.
func (r *PlayerRepo) List(ctx context.Context, gameID uint64) ([]model.Player, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE game_id = ?
		 ORDER BY is_alive DESC, kills DESC, number ASC`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()
	return collectPlayers(rows)
}

// Alive returns alive players ordered by number.
func (r *PlayerRepo) Alive(ctx context.Context, gameID uint64) ([]model.Player, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE game_id = ? AND is_alive = 1 ORDER BY number`, gameID)
	if err != nil {
		return nil, fmt.Errorf("alive players: %w", err)
	}
	defer rows.Close()
	return collectPlayers(rows)
}

// Eliminated returns dead players, most recent death first; ties break on
// lowest number.
func (r *PlayerRepo) Eliminated(ctx context.Context, gameID uint64) ([]model.Player, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE game_id = ? AND is_alive = 0
		 ORDER BY eliminated_at DESC, number ASC`, gameID)
	if err != nil {
		return nil, fmt.Errorf("eliminated players: %w", err)
	}
	defer rows.Close()
	return collectPlayers(rows)
}

func collectPlayers(rows *sql.Rows) ([]model.Player, error) {
	var players []model.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

// Count returns the number of registered players.
func (r *PlayerRepo) Count(ctx context.Context, gameID uint64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM players WHERE game_id = ?`, gameID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("player count: %w", err)
	}
	return n, nil
}

// AliveCount returns the number of alive players.
func (r *PlayerRepo) AliveCount(ctx context.Context, gameID uint64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM players WHERE game_id = ? AND is_alive = 1`, gameID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("alive count: %w", err)
	}
	return n, nil
}

// CheckedInCount returns the number of checked-in players.
func (r *PlayerRepo) CheckedInCount(ctx context.Context, gameID uint64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM players WHERE game_id = ? AND checked_in = 1`, gameID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("checked-in count: %w", err)
	}
	return n, nil
}

// SetCheckedIn marks a player present and records their bluetooth id.
// Checked-in is monotone once true.
func (r *PlayerRepo) SetCheckedIn(ctx context.Context, gameID uint64, address, bluetoothID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE players SET checked_in = 1, bluetooth_id = ? WHERE game_id = ? AND address = ?`,
		bluetoothID, gameID, address)
	if err != nil {
		return fmt.Errorf("set checked in: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetClaimed mirrors the on-chain claim flag.
func (r *PlayerRepo) SetClaimed(ctx context.Context, gameID uint64, address string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE players SET has_claimed = 1 WHERE game_id = ? AND address = ?`,
		gameID, address)
	if err != nil {
		return fmt.Errorf("set claimed: %w", err)
	}
	return nil
}

// Eliminate marks a player dead. The guard on is_alive makes duplicate
// elimination events no-ops.
func (r *PlayerRepo) Eliminate(ctx context.Context, gameID uint64, address, by, reason string, at int64) error {
	return eliminatePlayer(ctx, r.db, gameID, address, by, reason, at)
}

func eliminatePlayer(ctx context.Context, ex execer, gameID uint64, address, by, reason string, at int64) error {
	_, err := ex.ExecContext(ctx,
		`UPDATE players SET is_alive = 0, eliminated_at = ?, eliminated_by = ?, eliminated_for = ?
		 WHERE game_id = ? AND address = ? AND is_alive = 1`,
		at, by, reason, gameID, address)
	if err != nil {
		return fmt.Errorf("eliminate player: %w", err)
	}
	return nil
}

// IncrementKills credits a hunter.
func (r *PlayerRepo) IncrementKills(ctx context.Context, gameID uint64, address string) error {
	return incrementKills(ctx, r.db, gameID, address)
}

func incrementKills(ctx context.Context, ex execer, gameID uint64, address string) error {
	_, err := ex.ExecContext(ctx,
		`UPDATE players SET kills = kills + 1 WHERE game_id = ? AND address = ?`,
		gameID, address)
	if err != nil {
		return fmt.Errorf("increment kills: %w", err)
	}
	return nil
}

// InitHeartbeats seeds every alive player's heartbeat deadline at the
// start of the game sub-phase.
func (r *PlayerRepo) InitHeartbeats(ctx context.Context, gameID uint64, ts int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE players SET last_heartbeat_at = ? WHERE game_id = ? AND is_alive = 1`,
		ts, gameID)
	if err != nil {
		return fmt.Errorf("init heartbeats: %w", err)
	}
	return nil
}

// UpdateLastHeartbeat refreshes a single player's heartbeat.
func (r *PlayerRepo) UpdateLastHeartbeat(ctx context.Context, gameID uint64, address string, ts int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE players SET last_heartbeat_at = ? WHERE game_id = ? AND address = ?`,
		ts, gameID, address)
	if err != nil {
		return fmt.Errorf("update last heartbeat: %w", err)
	}
	return nil
}

// HeartbeatExpired returns alive players whose heartbeat is strictly
// older than the interval.
func (r *PlayerRepo) HeartbeatExpired(ctx context.Context, gameID uint64, now, interval int64) ([]model.Player, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+playerColumns+` FROM players
		 WHERE game_id = ? AND is_alive = 1 AND last_heartbeat_at > 0 AND ? - last_heartbeat_at > ?
		 ORDER BY number`, gameID, now, interval)
	if err != nil {
		return nil, fmt.Errorf("heartbeat expired: %w", err)
	}
	defer rows.Close()
	return collectPlayers(rows)
}
