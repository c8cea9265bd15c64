package repo

import "time"

// User represents the users table row. A row is created on the first
// inbound message from an identity; registration fills in the wallet and
// credential columns later.
type User struct {
	ID            string
	WAID          string
	WAJID         *string
	DisplayName   *string
	WalletAddress *string
	PasswordHash  *string
	EncryptedKey  *string
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Registered reports whether the user completed registration and can act
// on items and trades.
func (u *User) Registered() bool {
	return u != nil && u.WalletAddress != nil && u.PasswordHash != nil && u.EncryptedKey != nil
}

// UserProfile carries data used to upsert a user on first contact.
type UserProfile struct {
	WAID        string
	WAJID       *string
	DisplayName *string
}

// Item represents a barterable item listed by a user. Value is denominated
// in bamekap.
type Item struct {
	ID          string
	OwnerID     string
	Name        string
	Description string
	Value       int64
	ImageRef    *string
	Category    string
	IsAvailable bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Trade represents a row in the trades table. Rows are never deleted and
// serve as the audit trail of the barter.
type Trade struct {
	ID              string
	InitiatorID     string
	RecipientID     string
	InitiatorItemID string
	RecipientItemID string
	BalanceAmount   int64
	PayerID         string
	Status          string
	DepositRef      *string
	ReleaseRef      *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PayeeID returns the party on the receiving side of the balance payment.
func (t *Trade) PayeeID() string {
	if t.PayerID == t.InitiatorID {
		return t.RecipientID
	}
	return t.InitiatorID
}

// IsParty reports whether userID is one of the two trade parties.
func (t *Trade) IsParty(userID string) bool {
	return userID == t.InitiatorID || userID == t.RecipientID
}

// Purchase records a direct item purchase settled on the ledger.
type Purchase struct {
	ID        string
	BuyerID   string
	SellerID  string
	ItemID    string
	Amount    int64
	TxHash    string
	CreatedAt time.Time
}
