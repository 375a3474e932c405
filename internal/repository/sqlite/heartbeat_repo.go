package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zerohour-games/manhunt/internal/model"
)

// HeartbeatRepo stores accepted proximity scans for audit.
type HeartbeatRepo struct {
	db *sql.DB
}

// InsertScan records one accepted scan.
func (r *HeartbeatRepo) InsertScan(ctx context.Context, s *model.HeartbeatScan) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO heartbeat_scans (game_id, scanner, scanned, timestamp,
			scanner_lat_e6, scanner_lng_e6, distance_m)
		 VALUES (?,?,?,?,?,?,?)`,
		s.GameID, s.Scanner, s.Scanned, s.Timestamp,
		s.ScannerLatE6, s.ScannerLngE6, s.DistanceM)
	if err != nil {
		return fmt.Errorf("insert heartbeat scan: %w", err)
	}
	return nil
}
