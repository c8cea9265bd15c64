package repo

import (
	"context"
	"errors"
	"io/fs"
)

// ErrStaleStatus is returned when a compare-and-swap status update finds the
// trade no longer in the expected status.
var ErrStaleStatus = errors.New("trade status changed concurrently")

// Repository defines the interface for data persistence. Finders return
// (nil, nil) when the entity does not exist.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Users
	UpsertUserByWA(ctx context.Context, profile UserProfile) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByWAID(ctx context.Context, waID string) (*User, error)
	CompleteRegistration(ctx context.Context, userID, displayName, walletAddress, passwordHash, encryptedKey string) (*User, error)

	// Items
	InsertItem(ctx context.Context, item Item) (*Item, error)
	GetItemByID(ctx context.Context, id string) (*Item, error)
	ListAvailableItems(ctx context.Context, excludeOwnerID string, limit int) ([]Item, error)
	ListItemsByOwner(ctx context.Context, ownerID string, onlyAvailable bool) ([]Item, error)
	MarkItemUnavailable(ctx context.Context, itemID string) error

	// Trades
	InsertTrade(ctx context.Context, trade Trade) (*Trade, error)
	GetTradeByID(ctx context.Context, id string) (*Trade, error)
	GetTradeByDepositRef(ctx context.Context, depositRef string) (*Trade, error)
	ListTradesByParty(ctx context.Context, userID string, limit int) ([]Trade, error)
	UpdateTradeStatus(ctx context.Context, tradeID, expected, next string) error
	SetTradeDeposited(ctx context.Context, tradeID, expected, next, depositRef string) error
	CompleteTrade(ctx context.Context, tradeID, expected, next, releaseRef, itemID1, itemID2 string) error

	// Purchases
	InsertPurchase(ctx context.Context, purchase Purchase) (*Purchase, error)
}
