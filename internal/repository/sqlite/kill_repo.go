package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zerohour-games/manhunt/internal/model"
)

// KillRepo stores the kill audit log.
type KillRepo struct {
	db *sql.DB
}

// Insert records a verified kill and returns its row id.
func (r *KillRepo) Insert(ctx context.Context, k *model.Kill) (int64, error) {
	return insertKill(ctx, r.db, k)
}

func insertKill(ctx context.Context, ex execer, k *model.Kill) (int64, error) {
	res, err := ex.ExecContext(ctx,
		`INSERT INTO kills (game_id, hunter, target, timestamp,
			hunter_lat_e6, hunter_lng_e6, target_lat_e6, target_lng_e6,
			distance_m, tx_hash)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		k.GameID, k.Hunter, k.Target, k.Timestamp,
		k.HunterLatE6, k.HunterLngE6, k.TargetLatE6, k.TargetLngE6,
		k.DistanceM, k.TxHash)
	if err != nil {
		return 0, fmt.Errorf("insert kill: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("kill id: %w", err)
	}
	return id, nil
}

// UpdateTxHash back-fills the confirmed chain tx onto the most recent
// matching kill row.
func (r *KillRepo) UpdateTxHash(ctx context.Context, gameID uint64, hunter, target, txHash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE kills SET tx_hash = ?
		 WHERE id = (SELECT id FROM kills
			WHERE game_id = ? AND hunter = ? AND target = ? AND tx_hash = ''
			ORDER BY timestamp DESC LIMIT 1)`,
		txHash, gameID, hunter, target)
	if err != nil {
		return fmt.Errorf("update kill tx hash: %w", err)
	}
	return nil
}

// List returns a game's kills in chronological order.
func (r *KillRepo) List(ctx context.Context, gameID uint64) ([]model.Kill, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, game_id, hunter, target, timestamp,
			hunter_lat_e6, hunter_lng_e6, target_lat_e6, target_lng_e6,
			distance_m, tx_hash
		 FROM kills WHERE game_id = ? ORDER BY timestamp, id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list kills: %w", err)
	}
	defer rows.Close()

	var kills []model.Kill
	for rows.Next() {
		var k model.Kill
		if err := rows.Scan(&k.ID, &k.GameID, &k.Hunter, &k.Target, &k.Timestamp,
			&k.HunterLatE6, &k.HunterLngE6, &k.TargetLatE6, &k.TargetLngE6,
			&k.DistanceM, &k.TxHash); err != nil {
			return nil, fmt.Errorf("scan kill: %w", err)
		}
		kills = append(kills, k)
	}
	return kills, rows.Err()
}
