package trade

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"testing"

	"trocswap-bot/internal/ledger"
	"trocswap-bot/internal/repo"
	"trocswap-bot/internal/vault"
)

type fakeRepo struct {
	users  map[string]*repo.User
	items  map[string]*repo.Item
	trades map[string]*repo.Trade
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:  map[string]*repo.User{},
		items:  map[string]*repo.Item{},
		trades: map[string]*repo.Trade{},
	}
}

func (f *fakeRepo) Close()                            {}
func (f *fakeRepo) Ping(context.Context) error        { return nil }
func (f *fakeRepo) RunMigrations(context.Context, fs.FS) error { return nil }

func (f *fakeRepo) UpsertUserByWA(_ context.Context, profile repo.UserProfile) (*repo.User, error) {
	for _, u := range f.users {
		if u.WAID == profile.WAID {
			return u, nil
		}
	}
	u := &repo.User{ID: "u-" + profile.WAID, WAID: profile.WAID, DisplayName: profile.DisplayName, IsActive: true}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeRepo) GetUserByID(_ context.Context, id string) (*repo.User, error) {
	return f.users[id], nil
}

func (f *fakeRepo) GetUserByWAID(_ context.Context, waID string) (*repo.User, error) {
	for _, u := range f.users {
		if u.WAID == waID {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) CompleteRegistration(_ context.Context, userID, displayName, walletAddress, passwordHash, encryptedKey string) (*repo.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, fmt.Errorf("user not found: %s", userID)
	}
	u.DisplayName = &displayName
	u.WalletAddress = &walletAddress
	u.PasswordHash = &passwordHash
	u.EncryptedKey = &encryptedKey
	return u, nil
}

func (f *fakeRepo) InsertItem(_ context.Context, item repo.Item) (*repo.Item, error) {
	stored := item
	f.items[item.ID] = &stored
	return &stored, nil
}

func (f *fakeRepo) GetItemByID(_ context.Context, id string) (*repo.Item, error) {
	return f.items[id], nil
}

func (f *fakeRepo) ListAvailableItems(_ context.Context, excludeOwnerID string, _ int) ([]repo.Item, error) {
	var items []repo.Item
	for _, it := range f.items {
		if it.IsAvailable && it.OwnerID != excludeOwnerID {
			items = append(items, *it)
		}
	}
	return items, nil
}

func (f *fakeRepo) ListItemsByOwner(_ context.Context, ownerID string, onlyAvailable bool) ([]repo.Item, error) {
	var items []repo.Item
	for _, it := range f.items {
		if it.OwnerID == ownerID && (!onlyAvailable || it.IsAvailable) {
			items = append(items, *it)
		}
	}
	return items, nil
}

func (f *fakeRepo) MarkItemUnavailable(_ context.Context, itemID string) error {
	it, ok := f.items[itemID]
	if !ok {
		return fmt.Errorf("item not found: %s", itemID)
	}
	it.IsAvailable = false
	return nil
}

func (f *fakeRepo) InsertTrade(_ context.Context, trade repo.Trade) (*repo.Trade, error) {
	stored := trade
	f.trades[trade.ID] = &stored
	return &stored, nil
}

func (f *fakeRepo) GetTradeByID(_ context.Context, id string) (*repo.Trade, error) {
	t, ok := f.trades[id]
	if !ok {
		return nil, nil
	}
	copied := *t
	return &copied, nil
}

func (f *fakeRepo) GetTradeByDepositRef(_ context.Context, ref string) (*repo.Trade, error) {
	for _, t := range f.trades {
		if t.DepositRef != nil && *t.DepositRef == ref {
			copied := *t
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ListTradesByParty(_ context.Context, userID string, _ int) ([]repo.Trade, error) {
	var trades []repo.Trade
	for _, t := range f.trades {
		if t.IsParty(userID) {
			trades = append(trades, *t)
		}
	}
	return trades, nil
}

func (f *fakeRepo) UpdateTradeStatus(_ context.Context, tradeID, expected, next string) error {
	t, ok := f.trades[tradeID]
	if !ok || t.Status != expected {
		return repo.ErrStaleStatus
	}
	t.Status = next
	return nil
}

func (f *fakeRepo) SetTradeDeposited(_ context.Context, tradeID, expected, next, depositRef string) error {
	t, ok := f.trades[tradeID]
	if !ok || t.Status != expected {
		return repo.ErrStaleStatus
	}
	t.Status = next
	t.DepositRef = &depositRef
	return nil
}

func (f *fakeRepo) CompleteTrade(_ context.Context, tradeID, expected, next, releaseRef, itemID1, itemID2 string) error {
	t, ok := f.trades[tradeID]
	if !ok || t.Status != expected {
		return repo.ErrStaleStatus
	}
	t.Status = next
	t.ReleaseRef = &releaseRef
	f.items[itemID1].IsAvailable = false
	f.items[itemID2].IsAvailable = false
	return nil
}

func (f *fakeRepo) InsertPurchase(_ context.Context, purchase repo.Purchase) (*repo.Purchase, error) {
	return &purchase, nil
}

type fakeGateway struct {
	depositRef   string
	depositErr   error
	releaseRef   string
	releaseErr   error
	depositCalls int
	releaseCalls int
}

func (g *fakeGateway) DepositToEscrow(_ context.Context, _, _ string, _ int64) (string, error) {
	g.depositCalls++
	return g.depositRef, g.depositErr
}

func (g *fakeGateway) ReleaseFromEscrow(_ context.Context, _, _ string) (string, error) {
	g.releaseCalls++
	return g.releaseRef, g.releaseErr
}

type fixture struct {
	repo    *fakeRepo
	gateway *fakeGateway
	manager *Manager
	vault   *vault.Vault
}

const testPassword = "motdepasse"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:    newFakeRepo(),
		gateway: &fakeGateway{},
		vault:   vault.New(4),
	}
	f.manager = NewManager(f.repo, f.gateway, f.vault, nil, slog.Default())
	return f
}

func (f *fixture) addUser(t *testing.T, id string) *repo.User {
	t.Helper()
	hash, err := f.vault.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	envelope, err := f.vault.EncryptSecret("aa"+id, testPassword)
	if err != nil {
		t.Fatalf("encrypt secret: %v", err)
	}
	name := "User " + id
	wallet := "0x0000000000000000000000000000000000000001"
	u := &repo.User{
		ID:            id,
		WAID:          id + "@wa",
		DisplayName:   &name,
		WalletAddress: &wallet,
		PasswordHash:  &hash,
		EncryptedKey:  &envelope,
		IsActive:      true,
	}
	f.repo.users[id] = u
	return u
}

func (f *fixture) addItem(id, ownerID string, value int64) *repo.Item {
	it := &repo.Item{ID: id, OwnerID: ownerID, Name: "Item " + id, Value: value, IsAvailable: true, Category: "default"}
	f.repo.items[id] = it
	return it
}

func (f *fixture) addTrade(id, status string, balance int64) *repo.Trade {
	t := &repo.Trade{
		ID:              id,
		InitiatorID:     "u1",
		RecipientID:     "u2",
		InitiatorItemID: "i1",
		RecipientItemID: "i2",
		BalanceAmount:   balance,
		PayerID:         "u2",
		Status:          status,
	}
	f.repo.trades[id] = t
	return t
}

func TestProposeComputesBalanceAndPayer(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1")
	f.addUser(t, "u2")
	f.addItem("i1", "u1", 5000)
	f.addItem("i2", "u2", 3500)

	trade, err := f.manager.Propose(context.Background(), "u1", "u2", "i1", "i2")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if trade.Status != string(StatusPendingAcceptance) {
		t.Fatalf("expected pending_acceptance, got %s", trade.Status)
	}
	if trade.BalanceAmount != 1500 {
		t.Fatalf("expected balance 1500, got %d", trade.BalanceAmount)
	}
	// u2 receives the more valuable item, so u2 pays the difference.
	if trade.PayerID != "u2" {
		t.Fatalf("expected payer u2, got %s", trade.PayerID)
	}
	if f.gateway.depositCalls != 0 || f.gateway.releaseCalls != 0 {
		t.Fatal("propose must not touch the escrow")
	}
}

func TestProposeEqualValuesDefaultsPayerToInitiator(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1")
	f.addUser(t, "u2")
	f.addItem("i1", "u1", 4000)
	f.addItem("i2", "u2", 4000)

	trade, err := f.manager.Propose(context.Background(), "u1", "u2", "i1", "i2")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if trade.BalanceAmount != 0 {
		t.Fatalf("expected zero balance, got %d", trade.BalanceAmount)
	}
	if trade.PayerID != "u1" {
		t.Fatalf("expected nominal payer u1, got %s", trade.PayerID)
	}
}

func TestProposeRejectsSameOwner(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1")
	f.addUser(t, "u2")
	f.addItem("i1", "u1", 5000)
	f.addItem("i2", "u1", 3500)

	_, err := f.manager.Propose(context.Background(), "u1", "u2", "i1", "i2")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestProposeRejectsUnavailableItem(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1")
	f.addUser(t, "u2")
	f.addItem("i1", "u1", 5000)
	f.addItem("i2", "u2", 3500).IsAvailable = false

	_, err := f.manager.Propose(context.Background(), "u1", "u2", "i1", "i2")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAcceptOnlyByRecipient(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1")
	f.addUser(t, "u2")
	f.addTrade("t1", string(StatusPendingAcceptance), 1500)

	if _, err := f.manager.Accept(context.Background(), "t1", "u1"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected authorization error, got %v", err)
	}

	trade, err := f.manager.Accept(context.Background(), "t1", "u2")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if trade.Status != string(StatusAwaitingDeposit) {
		t.Fatalf("expected awaiting_deposit, got %s", trade.Status)
	}
}

func TestDepositRejectsNonPayer(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1")
	f.addUser(t, "u2")
	f.addTrade("t1", string(StatusAwaitingDeposit), 1500)
	f.gateway.depositRef = "0xabc"

	_, err := f.manager.ExecuteStep(context.Background(), "t1", "u1", testPassword)
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if f.repo.trades["t1"].Status != string(StatusAwaitingDeposit) {
		t.Fatal("status must not change on authorization failure")
	}
	if f.gateway.depositCalls != 0 {
		t.Fatal("gateway must not be called on authorization failure")
	}
}

func TestDepositAdvancesAndRecordsRef(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1")
	f.addUser(t, "u2")
	f.addTrade("t1", string(StatusAwaitingDeposit), 1500)
	f.gateway.depositRef = "0xabc"

	res, err := f.manager.ExecuteStep(context.Background(), "t1", "u2", testPassword)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != StatusInEscrow || res.SettlementRef != "0xabc" {
		t.Fatalf("unexpected result: %+v", res)
	}
	stored := f.repo.trades["t1"]
	if stored.Status != string(StatusInEscrow) || stored.DepositRef == nil || *stored.DepositRef != "0xabc" {
		t.Fatalf("unexpected stored trade: %+v", stored)
	}
}

func TestDepositWrongPassword(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1")
	f.addUser(t, "u2")
	f.addTrade("t1", string(StatusAwaitingDeposit), 1500)

	_, err := f.manager.ExecuteStep(context.Background(), "t1", "u2", "wrong")
	if !errors.Is(err, ErrIncorrectCredential) {
		t.Fatalf("expected incorrect-credential error, got %v", err)
	}
	if f.repo.trades["t1"].Status != string(StatusAwaitingDeposit) {
		t.Fatal("status must not change on credential failure")
	}
}

func TestDepositGatewayFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1")
	f.addUser(t, "u2")
	f.addTrade("t1", string(StatusAwaitingDeposit), 1500)
	f.gateway.depositErr = errors.New("insufficient balance")

	_, err := f.manager.ExecuteStep(context.Background(), "t1", "u2", testPassword)
	if err == nil {
		t.Fatal("expected error")
	}
	stored := f.repo.trades["t1"]
	if stored.Status != string(StatusAwaitingDeposit) || stored.DepositRef != nil {
		t.Fatalf("state changed despite gateway failure: %+v", stored)
	}
}

func TestZeroBalanceDepositSkipsGateway(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1")
	f.addUser(t, "u2")
	f.addTrade("t1", string(StatusAwaitingDeposit), 0)

	res, err := f.manager.ExecuteStep(context.Background(), "t1", "u2", testPassword)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != StatusAwaitingConfirmation {
		t.Fatalf("expected awaiting_confirmation, got %s", res.Status)
	}
	if f.gateway.depositCalls != 0 {
		t.Fatal("gateway must not be called for a zero balance")
	}
}

func TestReleaseRejectsPayer(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1")
	f.addUser(t, "u2")
	f.addItem("i1", "u1", 5000)
	f.addItem("i2", "u2", 3500)
	f.addTrade("t1", string(StatusAwaitingConfirmation), 1500)

	_, err := f.manager.ExecuteStep(context.Background(), "t1", "u2", testPassword)
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestReleaseCompletesAndRetiresItems(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1")
	f.addUser(t, "u2")
	f.addItem("i1", "u1", 5000)
	f.addItem("i2", "u2", 3500)
	f.addTrade("t1", string(StatusAwaitingConfirmation), 1500)
	f.gateway.releaseRef = "0xdef"

	res, err := f.manager.ExecuteStep(context.Background(), "t1", "u1", testPassword)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != StatusCompleted || res.SettlementRef != "0xdef" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if f.repo.items["i1"].IsAvailable || f.repo.items["i2"].IsAvailable {
		t.Fatal("expected both items retired")
	}
	stored := f.repo.trades["t1"]
	if stored.ReleaseRef == nil || *stored.ReleaseRef != "0xdef" {
		t.Fatalf("missing release ref: %+v", stored)
	}
}

func TestReleaseFailureLeavesItemsAvailable(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1")
	f.addUser(t, "u2")
	f.addItem("i1", "u1", 5000)
	f.addItem("i2", "u2", 3500)
	f.addTrade("t1", string(StatusAwaitingConfirmation), 1500)
	f.gateway.releaseErr = errors.New("network error")

	_, err := f.manager.ExecuteStep(context.Background(), "t1", "u1", testPassword)
	if err == nil {
		t.Fatal("expected error")
	}
	if f.repo.trades["t1"].Status != string(StatusAwaitingConfirmation) {
		t.Fatal("status must not change on gateway failure")
	}
	if !f.repo.items["i1"].IsAvailable || !f.repo.items["i2"].IsAvailable {
		t.Fatal("items must stay available on gateway failure")
	}
}

func TestExecuteStepInvalidStates(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1")
	f.addUser(t, "u2")

	for _, status := range []Status{StatusPendingAcceptance, StatusInEscrow, StatusCompleted, StatusCancelled} {
		f.addTrade("t-"+string(status), string(status), 1500)
		_, err := f.manager.ExecuteStep(context.Background(), "t-"+string(status), "u2", testPassword)
		if !errors.Is(err, ErrInvalidState) {
			t.Fatalf("status %s: expected invalid-state error, got %v", status, err)
		}
	}
}

func TestExecuteStepUnknownTrade(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.ExecuteStep(context.Background(), "missing", "u1", testPassword)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestCancelRules(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1")
	f.addUser(t, "u2")
	f.addTrade("t1", string(StatusAwaitingDeposit), 1500)

	if err := f.manager.Cancel(context.Background(), "t1", "outsider"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if err := f.manager.Cancel(context.Background(), "t1", "u1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if f.repo.trades["t1"].Status != string(StatusCancelled) {
		t.Fatal("expected cancelled status")
	}

	f.addTrade("t2", string(StatusInEscrow), 1500)
	if err := f.manager.Cancel(context.Background(), "t2", "u1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid-state error once escrowed, got %v", err)
	}
}

func TestHandleDepositConfirmation(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1")
	f.addUser(t, "u2")
	trade := f.addTrade("t1", string(StatusInEscrow), 1500)
	ref := "0xabc"
	trade.DepositRef = &ref

	event := ledger.ConfirmationEvent{TxHash: "0xabc", Confirmations: 3}
	if err := f.manager.HandleDepositConfirmation(context.Background(), event); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if f.repo.trades["t1"].Status != string(StatusAwaitingConfirmation) {
		t.Fatalf("expected awaiting_confirmation, got %s", f.repo.trades["t1"].Status)
	}

	// Replay is a no-op.
	if err := f.manager.HandleDepositConfirmation(context.Background(), event); err != nil {
		t.Fatalf("replayed confirm: %v", err)
	}

	// Unknown hashes are reported back so the watcher redelivers; the
	// confirmation may simply have outrun the deposit reference write.
	err := f.manager.HandleDepositConfirmation(context.Background(), ledger.ConfirmationEvent{TxHash: "0xnope"})
	if !errors.Is(err, ledger.ErrUnknownConfirmation) {
		t.Fatalf("expected ErrUnknownConfirmation for unknown hash, got %v", err)
	}
}
