package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const itemColumns = `id, owner_id, name, description, value, image_ref, category, is_available, created_at, updated_at`

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.OwnerID, &it.Name, &it.Description, &it.Value, &it.ImageRef, &it.Category, &it.IsAvailable, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// InsertItem creates a new item listing.
func (r *PostgresRepository) InsertItem(ctx context.Context, item Item) (*Item, error) {
	const q = `
INSERT INTO items (id, owner_id, name, description, value, image_ref, category)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + itemColumns + `;
`
	inserted, err := scanItem(r.pool.QueryRow(ctx, q,
		item.ID,
		item.OwnerID,
		item.Name,
		item.Description,
		item.Value,
		item.ImageRef,
		item.Category,
	))
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	return inserted, nil
}

// GetItemByID returns the item by identifier.
func (r *PostgresRepository) GetItemByID(ctx context.Context, id string) (*Item, error) {
	const q = `SELECT ` + itemColumns + ` FROM items WHERE id = $1 LIMIT 1;`
	item, err := scanItem(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get item by id: %w", err)
	}
	return item, nil
}

// ListAvailableItems returns available items excluding the given owner,
// newest first.
func (r *PostgresRepository) ListAvailableItems(ctx context.Context, excludeOwnerID string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT ` + itemColumns + `
FROM items
WHERE is_available AND owner_id <> $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, excludeOwnerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list available items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// ListItemsByOwner returns the items listed by a user.
func (r *PostgresRepository) ListItemsByOwner(ctx context.Context, ownerID string, onlyAvailable bool) ([]Item, error) {
	const q = `
SELECT ` + itemColumns + `
FROM items
WHERE owner_id = $1 AND (NOT $2 OR is_available)
ORDER BY created_at DESC;
`
	rows, err := r.pool.Query(ctx, q, ownerID, onlyAvailable)
	if err != nil {
		return nil, fmt.Errorf("list items by owner: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// MarkItemUnavailable flips the availability flag; used on direct purchase.
func (r *PostgresRepository) MarkItemUnavailable(ctx context.Context, itemID string) error {
	const q = `UPDATE items SET is_available = FALSE, updated_at = NOW() WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, itemID)
	if err != nil {
		return fmt.Errorf("mark item unavailable: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("item not found: %s", itemID)
	}
	return nil
}

func collectItems(rows pgx.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}
