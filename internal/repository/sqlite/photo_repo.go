package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zerohour-games/manhunt/internal/model"
)

// PhotoRepo stores audit photos.
type PhotoRepo struct {
	db *sql.DB
}

// Insert stores a photo reference and returns its id.
func (r *PhotoRepo) Insert(ctx context.Context, p *model.GamePhoto) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO game_photos (game_id, address, kill_id, uri, timestamp) VALUES (?,?,?,?,?)`,
		p.GameID, p.Address, p.KillID, p.URI, p.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("insert photo: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("photo id: %w", err)
	}
	return id, nil
}

// List returns a game's photos in upload order.
func (r *PhotoRepo) List(ctx context.Context, gameID uint64) ([]model.GamePhoto, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, game_id, address, kill_id, uri, timestamp
		 FROM game_photos WHERE game_id = ? ORDER BY id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	var photos []model.GamePhoto
	for rows.Next() {
		var p model.GamePhoto
		if err := rows.Scan(&p.ID, &p.GameID, &p.Address, &p.KillID, &p.URI, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}
