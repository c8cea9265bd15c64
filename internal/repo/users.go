package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const userColumns = `id, wa_id, wa_jid, display_name, wallet_address, password_hash, encrypted_key, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.WAID, &u.WAJID, &u.DisplayName, &u.WalletAddress, &u.PasswordHash, &u.EncryptedKey, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertUserByWA stores or refreshes the user row keyed by WhatsApp ID.
// Registration columns are never overwritten here.
func (r *PostgresRepository) UpsertUserByWA(ctx context.Context, profile UserProfile) (*User, error) {
	const q = `
INSERT INTO users (wa_id, wa_jid, display_name, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (wa_id) DO UPDATE SET
    wa_jid = COALESCE(EXCLUDED.wa_jid, users.wa_jid),
    display_name = COALESCE(users.display_name, EXCLUDED.display_name),
    updated_at = NOW()
RETURNING ` + userColumns + `;
`
	user, err := scanUser(r.pool.QueryRow(ctx, q, profile.WAID, profile.WAJID, profile.DisplayName))
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

// GetUserByID returns the user by internal identifier.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1;`
	user, err := scanUser(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return user, nil
}

// GetUserByWAID returns the user by WhatsApp identity.
func (r *PostgresRepository) GetUserByWAID(ctx context.Context, waID string) (*User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE wa_id = $1 LIMIT 1;`
	user, err := scanUser(r.pool.QueryRow(ctx, q, waID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by wa id: %w", err)
	}
	return user, nil
}

// CompleteRegistration fills in the display name, wallet and credential
// columns produced by the registration flow.
func (r *PostgresRepository) CompleteRegistration(ctx context.Context, userID, displayName, walletAddress, passwordHash, encryptedKey string) (*User, error) {
	const q = `
UPDATE users
SET display_name = $2, wallet_address = $3, password_hash = $4, encrypted_key = $5, updated_at = NOW()
WHERE id = $1
RETURNING ` + userColumns + `;
`
	user, err := scanUser(r.pool.QueryRow(ctx, q, userID, displayName, walletAddress, passwordHash, encryptedKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("complete registration: user not found: %s", userID)
		}
		return nil, fmt.Errorf("complete registration: %w", err)
	}
	return user, nil
}
