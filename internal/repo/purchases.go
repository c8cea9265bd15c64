package repo

import (
	"context"
	"fmt"
)

// InsertPurchase records a direct purchase settlement.
func (r *PostgresRepository) InsertPurchase(ctx context.Context, purchase Purchase) (*Purchase, error) {
	const q = `
INSERT INTO purchases (id, buyer_id, seller_id, item_id, amount, tx_hash)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at;
`
	err := r.pool.QueryRow(ctx, q,
		purchase.ID,
		purchase.BuyerID,
		purchase.SellerID,
		purchase.ItemID,
		purchase.Amount,
		purchase.TxHash,
	).Scan(&purchase.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert purchase: %w", err)
	}
	return &purchase, nil
}
