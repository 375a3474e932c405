package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zerohour-games/manhunt/internal/model"
	"github.com/zerohour-games/manhunt/internal/repository"
)

// TargetRepo handles the hunter->target edges of the kill cycle.
type TargetRepo struct {
	db *sql.DB
}

// Set upserts a single hunter's edge.
func (r *TargetRepo) Set(ctx context.Context, gameID uint64, hunter, target string) error {
	return setTarget(ctx, r.db, gameID, hunter, target)
}

func setTarget(ctx context.Context, ex execer, gameID uint64, hunter, target string) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO target_assignments (game_id, hunter, target) VALUES (?,?,?)
		 ON CONFLICT (game_id, hunter) DO UPDATE SET target = excluded.target`,
		gameID, hunter, target)
	if err != nil {
		return fmt.Errorf("set target: %w", err)
	}
	return nil
}

// SetAll replaces a game's whole cycle in one transaction.
func (r *TargetRepo) SetAll(ctx context.Context, gameID uint64, assignments []model.TargetAssignment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM target_assignments WHERE game_id = ?`, gameID); err != nil {
		return fmt.Errorf("clear targets: %w", err)
	}
	for _, a := range assignments {
		if err := setTarget(ctx, tx, gameID, a.Hunter, a.Target); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// TargetOf returns the hunter's current target.
func (r *TargetRepo) TargetOf(ctx context.Context, gameID uint64, hunter string) (string, error) {
	var target string
	err := r.db.QueryRowContext(ctx,
		`SELECT target FROM target_assignments WHERE game_id = ? AND hunter = ?`,
		gameID, hunter).Scan(&target)
	if err == sql.ErrNoRows {
		return "", repository.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("target of: %w", err)
	}
	return target, nil
}

// HunterOf returns the player currently hunting target.
func (r *TargetRepo) HunterOf(ctx context.Context, gameID uint64, target string) (string, error) {
	var hunter string
	err := r.db.QueryRowContext(ctx,
		`SELECT hunter FROM target_assignments WHERE game_id = ? AND target = ?`,
		gameID, target).Scan(&hunter)
	if err == sql.ErrNoRows {
		return "", repository.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("hunter of: %w", err)
	}
	return hunter, nil
}

// Remove deletes a hunter's edge.
func (r *TargetRepo) Remove(ctx context.Context, gameID uint64, hunter string) error {
	return removeTarget(ctx, r.db, gameID, hunter)
}

func removeTarget(ctx context.Context, ex execer, gameID uint64, hunter string) error {
	_, err := ex.ExecContext(ctx,
		`DELETE FROM target_assignments WHERE game_id = ? AND hunter = ?`,
		gameID, hunter)
	if err != nil {
		return fmt.Errorf("remove target: %w", err)
	}
	return nil
}

// List returns all edges of a game's cycle.
func (r *TargetRepo) List(ctx context.Context, gameID uint64) ([]model.TargetAssignment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT game_id, hunter, target FROM target_assignments WHERE game_id = ?`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var assignments []model.TargetAssignment
	for rows.Next() {
		var a model.TargetAssignment
		if err := rows.Scan(&a.GameID, &a.Hunter, &a.Target); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// RemoveAll clears a game's cycle.
func (r *TargetRepo) RemoveAll(ctx context.Context, gameID uint64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM target_assignments WHERE game_id = ?`, gameID)
	if err != nil {
		return fmt.Errorf("remove all targets: %w", err)
	}
	return nil
}
