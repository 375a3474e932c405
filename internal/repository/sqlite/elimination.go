package sqlite

import (
	"context"
	"fmt"

	"github.com/zerohour-games/manhunt/internal/repository"
)

// RecordElimination applies a player death and its cycle rewiring in a
// single transaction: mark the victim dead, optionally record the kill
// and credit the hunter, remove the victim's outgoing edge, and repoint
// (or drop) the hunter's edge. Either everything lands or nothing does.
func (s *Store) RecordElimination(ctx context.Context, e repository.Elimination) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := eliminatePlayer(ctx, tx, e.GameID, e.Victim, e.By, e.Reason, e.At); err != nil {
		return err
	}
	if e.Kill != nil {
		id, err := insertKill(ctx, tx, e.Kill)
		if err != nil {
			return err
		}
		e.Kill.ID = id
		if err := incrementKills(ctx, tx, e.GameID, e.Kill.Hunter); err != nil {
			return err
		}
	}
	if err := removeTarget(ctx, tx, e.GameID, e.Victim); err != nil {
		return err
	}
	if e.NewHunter != "" {
		if err := setTarget(ctx, tx, e.GameID, e.NewHunter, e.NewTarget); err != nil {
			return err
		}
	}
	if e.RemoveHunterEdge != "" {
		if err := removeTarget(ctx, tx, e.GameID, e.RemoveHunterEdge); err != nil {
			return err
		}
	}
	return tx.Commit()
}
