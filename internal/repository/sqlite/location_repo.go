package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zerohour-games/manhunt/internal/model"
	"github.com/zerohour-games/manhunt/internal/repository"
)

// LocationRepo keeps only the latest ping per (game, player).
type LocationRepo struct {
	db *sql.DB
}

// Upsert replaces a player's latest position.
func (r *LocationRepo) Upsert(ctx context.Context, p *model.LocationPing) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO location_pings (game_id, address, lat_e6, lng_e6, timestamp, in_zone)
		 VALUES (?,?,?,?,?,?)
		 ON CONFLICT (game_id, address) DO UPDATE SET
			lat_e6 = excluded.lat_e6, lng_e6 = excluded.lng_e6,
			timestamp = excluded.timestamp, in_zone = excluded.in_zone`,
		p.GameID, p.Address, p.LatE6, p.LngE6, p.Timestamp, p.InZone)
	if err != nil {
		return fmt.Errorf("upsert location: %w", err)
	}
	return nil
}

// Latest returns a player's last known position.
func (r *LocationRepo) Latest(ctx context.Context, gameID uint64, address string) (*model.LocationPing, error) {
	var p model.LocationPing
	err := r.db.QueryRowContext(ctx,
		`SELECT game_id, address, lat_e6, lng_e6, timestamp, in_zone
		 FROM location_pings WHERE game_id = ? AND address = ?`,
		gameID, address).Scan(&p.GameID, &p.Address, &p.LatE6, &p.LngE6, &p.Timestamp, &p.InZone)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest location: %w", err)
	}
	return &p, nil
}

// Prune drops pings older than the cutoff, used after a game ends.
func (r *LocationRepo) Prune(ctx context.Context, gameID uint64, before int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM location_pings WHERE game_id = ? AND timestamp < ?`,
		gameID, before)
	if err != nil {
		return fmt.Errorf("prune locations: %w", err)
	}
	return nil
}
