package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zerohour-games/manhunt/internal/model"
	"github.com/zerohour-games/manhunt/internal/repository"
)

// GameRepo handles games and zone_shrinks.
type GameRepo struct {
	db *sql.DB
}

const gameColumns = `id, title, creator, entry_fee_wei, base_reward_wei,
	bps_first, bps_second, bps_third, bps_kills, bps_creator,
	center_lat_e6, center_lng_e6, meet_lat_e6, meet_lng_e6,
	reg_deadline, game_date, max_duration, min_players, max_players,
	player_count, total_wei, phase, sub_phase, sub_phase_at,
	started_at, ended_at, winner1, winner2, winner3, top_killer, created_at`

func scanGame(row interface{ Scan(...any) error }) (*model.Game, error) {
	var g model.Game
	err := row.Scan(&g.ID, &g.Title, &g.Creator, &g.EntryFeeWei, &g.BaseRewardWei,
		&g.BpsFirst, &g.BpsSecond, &g.BpsThird, &g.BpsKills, &g.BpsCreator,
		&g.CenterLatE6, &g.CenterLngE6, &g.MeetLatE6, &g.MeetLngE6,
		&g.RegDeadline, &g.GameDate, &g.MaxDuration, &g.MinPlayers, &g.MaxPlayers,
		&g.PlayerCount, &g.TotalWei, &g.Phase, &g.SubPhase, &g.SubPhaseAt,
		&g.StartedAt, &g.EndedAt, &g.Winner1, &g.Winner2, &g.Winner3, &g.TopKiller, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Insert creates a game row. Games only come into existence from a
// confirmed chain event or a chain rebuild.
func (r *GameRepo) Insert(ctx context.Context, g *model.Game) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO games (id, title, creator, entry_fee_wei, base_reward_wei,
			bps_first, bps_second, bps_third, bps_kills, bps_creator,
			center_lat_e6, center_lng_e6, meet_lat_e6, meet_lng_e6,
			reg_deadline, game_date, max_duration, min_players, max_players,
			player_count, total_wei, phase, sub_phase, sub_phase_at,
			started_at, ended_at, winner1, winner2, winner3, top_killer)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		g.ID, g.Title, g.Creator, g.EntryFeeWei, g.BaseRewardWei,
		g.BpsFirst, g.BpsSecond, g.BpsThird, g.BpsKills, g.BpsCreator,
		g.CenterLatE6, g.CenterLngE6, g.MeetLatE6, g.MeetLngE6,
		g.RegDeadline, g.GameDate, g.MaxDuration, g.MinPlayers, g.MaxPlayers,
		g.PlayerCount, g.TotalWei, g.Phase, g.SubPhase, g.SubPhaseAt,
		g.StartedAt, g.EndedAt, g.Winner1, g.Winner2, g.Winner3, g.TopKiller)
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	return nil
}

// Find returns a game by id.
func (r *GameRepo) Find(ctx context.Context, id uint64) (*model.Game, error) {
	g, err := scanGame(r.db.QueryRowContext(ctx,
		`SELECT `+gameColumns+` FROM games WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find game: %w", err)
	}
	return g, nil
}

// UpdatePhase transitions a game's phase and writes the accompanying
// columns. Phase never regresses; callers enforce ordering.
func (r *GameRepo) UpdatePhase(ctx context.Context, id uint64, phase model.GamePhase, upd repository.GamePhaseUpdate) error {
	query := `UPDATE games SET phase = ?`
	args := []any{phase}
	if upd.StartedAt != 0 {
		query += `, started_at = ?`
		args = append(args, upd.StartedAt)
	}
	if upd.EndedAt != 0 {
		query += `, ended_at = ?`
		args = append(args, upd.EndedAt)
	}
	if phase == model.PhaseActive {
		query += `, sub_phase = ?, sub_phase_at = ?`
		args = append(args, upd.SubPhase, upd.SubPhaseAt)
	} else {
		// Sub-phase is only meaningful while ACTIVE.
		query += `, sub_phase = '', sub_phase_at = 0`
	}
	if upd.Winner1 != "" {
		query += `, winner1 = ?, winner2 = ?, winner3 = ?, top_killer = ?`
		args = append(args, upd.Winner1, upd.Winner2, upd.Winner3, upd.TopKiller)
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update game phase: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateSubPhase writes the advisory sub-phase within ACTIVE.
func (r *GameRepo) UpdateSubPhase(ctx context.Context, id uint64, sub model.SubPhase, startedAt int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE games SET sub_phase = ?, sub_phase_at = ? WHERE id = ?`,
		sub, startedAt, id)
	if err != nil {
		return fmt.Errorf("update sub phase: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// InPhase returns all games currently in the given phase.
func (r *GameRepo) InPhase(ctx context.Context, phase model.GamePhase) ([]model.Game, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+gameColumns+` FROM games WHERE phase = ? ORDER BY id`, phase)
	if err != nil {
		return nil, fmt.Errorf("games in phase: %w", err)
	}
	defer rows.Close()
	return collectGames(rows)
}

// All returns every game, newest first.
func (r *GameRepo) All(ctx context.Context) ([]model.Game, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+gameColumns+` FROM games ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("all games: %w", err)
	}
	defer rows.Close()
	return collectGames(rows)
}

func collectGames(rows *sql.Rows) ([]model.Game, error) {
	var games []model.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		games = append(games, *g)
	}
	return games, rows.Err()
}

// UpdatePlayerCount mirrors the registration counters from chain events.
func (r *GameRepo) UpdatePlayerCount(ctx context.Context, id uint64, count uint32, totalWei string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE games SET player_count = ?, total_wei = ? WHERE id = ?`,
		count, totalWei, id)
	if err != nil {
		return fmt.Errorf("update player count: %w", err)
	}
	return nil
}

// InsertZoneShrinks stores a game's full shrink schedule in one transaction.
func (r *GameRepo) InsertZoneShrinks(ctx context.Context, id uint64, schedule []model.ZoneShrink) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for i, s := range schedule {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO zone_shrinks (game_id, idx, at_second, radius_meters) VALUES (?,?,?,?)`,
			id, i, s.AtSecond, s.RadiusMeters); err != nil {
			return fmt.Errorf("insert zone shrink %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// ZoneShrinks returns a game's shrink schedule in order.
func (r *GameRepo) ZoneShrinks(ctx context.Context, id uint64) ([]model.ZoneShrink, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT game_id, idx, at_second, radius_meters FROM zone_shrinks WHERE game_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("zone shrinks: %w", err)
	}
	defer rows.Close()

	var schedule []model.ZoneShrink
	for rows.Next() {
		var s model.ZoneShrink
		if err := rows.Scan(&s.GameID, &s.Idx, &s.AtSecond, &s.RadiusMeters); err != nil {
			return nil, fmt.Errorf("scan zone shrink: %w", err)
		}
		schedule = append(schedule, s)
	}
	return schedule, rows.Err()
}

// ResetGameData wipes every game-derived table ahead of a full rebuild
// from chain. The operator tx log survives as an audit trail.
func (r *GameRepo) ResetGameData(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{
		"games", "zone_shrinks", "players", "target_assignments",
		"kills", "heartbeat_scans", "location_pings", "game_photos",
	} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return tx.Commit()
}
