package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zerohour-games/manhunt/internal/model"
)

// OperatorRepo persists the on-chain write queue so pending work survives
// a restart.
type OperatorRepo struct {
	db *sql.DB
}

// Insert persists a queued action before submission and returns its id.
func (r *OperatorRepo) Insert(ctx context.Context, tx *model.OperatorTx) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO operator_txs (game_id, action, params, status, tx_hash, created_at, confirmed_at, last_error)
		 VALUES (?,?,?,?,?,?,?,?)`,
		tx.GameID, tx.Action, tx.Params, tx.Status, tx.TxHash, tx.CreatedAt, tx.ConfirmedAt, tx.LastError)
	if err != nil {
		return 0, fmt.Errorf("insert operator tx: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("operator tx id: %w", err)
	}
	return id, nil
}

// Update advances a queue entry's status.
func (r *OperatorRepo) Update(ctx context.Context, id int64, status model.OperatorTxStatus, txHash, lastError string, confirmedAt int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE operator_txs SET status = ?, tx_hash = ?, last_error = ?, confirmed_at = ? WHERE id = ?`,
		status, txHash, lastError, confirmedAt, id)
	if err != nil {
		return fmt.Errorf("update operator tx: %w", err)
	}
	return nil
}

// Pending returns unfinished entries in submission order, for startup
// reconciliation.
func (r *OperatorRepo) Pending(ctx context.Context) ([]model.OperatorTx, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, game_id, action, params, status, tx_hash, created_at, confirmed_at, last_error
		 FROM operator_txs WHERE status IN ('pending', 'submitted') ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("pending operator txs: %w", err)
	}
	defer rows.Close()

	var txs []model.OperatorTx
	for rows.Next() {
		var t model.OperatorTx
		if err := rows.Scan(&t.ID, &t.GameID, &t.Action, &t.Params, &t.Status,
			&t.TxHash, &t.CreatedAt, &t.ConfirmedAt, &t.LastError); err != nil {
			return nil, fmt.Errorf("scan operator tx: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
