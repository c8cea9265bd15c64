package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const tradeColumns = `id, initiator_id, recipient_id, initiator_item_id, recipient_item_id, balance_amount, payer_id, status, deposit_ref, release_ref, created_at, updated_at`

func scanTrade(row pgx.Row) (*Trade, error) {
	var t Trade
	err := row.Scan(&t.ID, &t.InitiatorID, &t.RecipientID, &t.InitiatorItemID, &t.RecipientItemID, &t.BalanceAmount, &t.PayerID, &t.Status, &t.DepositRef, &t.ReleaseRef, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertTrade creates a new trade proposal.
func (r *PostgresRepository) InsertTrade(ctx context.Context, trade Trade) (*Trade, error) {
	const q = `
INSERT INTO trades (id, initiator_id, recipient_id, initiator_item_id, recipient_item_id, balance_amount, payer_id, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + tradeColumns + `;
`
	inserted, err := scanTrade(r.pool.QueryRow(ctx, q,
		trade.ID,
		trade.InitiatorID,
		trade.RecipientID,
		trade.InitiatorItemID,
		trade.RecipientItemID,
		trade.BalanceAmount,
		trade.PayerID,
		trade.Status,
	))
	if err != nil {
		return nil, fmt.Errorf("insert trade: %w", err)
	}
	return inserted, nil
}

// GetTradeByID returns the trade by identifier.
func (r *PostgresRepository) GetTradeByID(ctx context.Context, id string) (*Trade, error) {
	const q = `SELECT ` + tradeColumns + ` FROM trades WHERE id = $1 LIMIT 1;`
	trade, err := scanTrade(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get trade by id: %w", err)
	}
	return trade, nil
}

// GetTradeByDepositRef returns the trade whose deposit settled with the
// given transaction hash.
func (r *PostgresRepository) GetTradeByDepositRef(ctx context.Context, depositRef string) (*Trade, error) {
	const q = `SELECT ` + tradeColumns + ` FROM trades WHERE deposit_ref = $1 LIMIT 1;`
	trade, err := scanTrade(r.pool.QueryRow(ctx, q, depositRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get trade by deposit ref: %w", err)
	}
	return trade, nil
}

// ListTradesByParty returns trades where the user is initiator or recipient,
// newest first.
func (r *PostgresRepository) ListTradesByParty(ctx context.Context, userID string, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT ` + tradeColumns + `
FROM trades
WHERE initiator_id = $1 OR recipient_id = $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list trades by party: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, *trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return trades, nil
}

// UpdateTradeStatus advances a trade from the expected status to the next
// one. The expected status guards against concurrent writers; a mismatch
// returns ErrStaleStatus.
func (r *PostgresRepository) UpdateTradeStatus(ctx context.Context, tradeID, expected, next string) error {
	const q = `UPDATE trades SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2;`
	ct, err := r.pool.Exec(ctx, q, tradeID, expected, next)
	if err != nil {
		return fmt.Errorf("update trade status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("update trade status %s: %w", tradeID, ErrStaleStatus)
	}
	return nil
}

// SetTradeDeposited records the deposit settlement reference together with
// the status advance, under the same compare-and-swap guard.
func (r *PostgresRepository) SetTradeDeposited(ctx context.Context, tradeID, expected, next, depositRef string) error {
	const q = `
UPDATE trades
SET status = $3, deposit_ref = $4, updated_at = NOW()
WHERE id = $1 AND status = $2;
`
	ct, err := r.pool.Exec(ctx, q, tradeID, expected, next, depositRef)
	if err != nil {
		return fmt.Errorf("set trade deposited: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("set trade deposited %s: %w", tradeID, ErrStaleStatus)
	}
	return nil
}

// CompleteTrade advances the trade to its terminal status, records the
// release reference and retires both items, all in one transaction.
func (r *PostgresRepository) CompleteTrade(ctx context.Context, tradeID, expected, next, releaseRef, itemID1, itemID2 string) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		const tradeQ = `
UPDATE trades
SET status = $3, release_ref = $4, updated_at = NOW()
WHERE id = $1 AND status = $2;
`
		ct, err := tx.Exec(ctx, tradeQ, tradeID, expected, next, releaseRef)
		if err != nil {
			return fmt.Errorf("complete trade: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("complete trade %s: %w", tradeID, ErrStaleStatus)
		}

		const itemQ = `UPDATE items SET is_available = FALSE, updated_at = NOW() WHERE id = ANY($1);`
		if _, err := tx.Exec(ctx, itemQ, []string{itemID1, itemID2}); err != nil {
			return fmt.Errorf("retire traded items: %w", err)
		}
		return nil
	})
}
