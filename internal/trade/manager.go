package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"trocswap-bot/internal/ledger"
	"trocswap-bot/internal/metrics"
	"trocswap-bot/internal/repo"
	"trocswap-bot/internal/vault"

	"github.com/google/uuid"
)

// Gateway settles escrow deposits and releases on the ledger. Both
// operations are idempotent per trade identifier, so re-invoking a step
// after a reported failure cannot double-spend.
type Gateway interface {
	DepositToEscrow(ctx context.Context, tradeID, payerKeyHex string, amount int64) (string, error)
	ReleaseFromEscrow(ctx context.Context, tradeID, recipientAddress string) (string, error)
}

// SecretVault unlocks custodial signing secrets.
type SecretVault interface {
	VerifyPassword(plaintext, hash string) bool
	DecryptSecret(envelope, password string) (string, error)
}

// StepResult reports the outcome of an executed trade step.
type StepResult struct {
	Status        Status
	SettlementRef string
}

// Manager owns the trade state machine. Authorization is always decided
// against the trade's stored party fields, never against session state.
type Manager struct {
	repo    repo.Repository
	gateway Gateway
	vault   SecretVault
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewManager wires the lifecycle manager.
func NewManager(repository repo.Repository, gateway Gateway, secretVault SecretVault, metricRegistry *metrics.Metrics, logger *slog.Logger) *Manager {
	return &Manager{
		repo:    repository,
		gateway: gateway,
		vault:   secretVault,
		metrics: metricRegistry,
		logger:  logger.With("component", "trade"),
	}
}

// Propose validates both items and creates a trade in pending_acceptance.
// The balance is the absolute value difference; the payer is the party
// whose own item is worth less (they receive the more valuable one). The
// escrow is not touched.
func (m *Manager) Propose(ctx context.Context, initiatorID, recipientID, initiatorItemID, recipientItemID string) (*repo.Trade, error) {
	if initiatorID == recipientID {
		return nil, fmt.Errorf("cannot trade with yourself: %w", ErrValidation)
	}

	initiatorItem, err := m.repo.GetItemByID(ctx, initiatorItemID)
	if err != nil {
		return nil, err
	}
	recipientItem, err := m.repo.GetItemByID(ctx, recipientItemID)
	if err != nil {
		return nil, err
	}
	if initiatorItem == nil || recipientItem == nil {
		return nil, fmt.Errorf("item: %w", ErrNotFound)
	}
	if !initiatorItem.IsAvailable || !recipientItem.IsAvailable {
		return nil, fmt.Errorf("item no longer available: %w", ErrValidation)
	}
	if initiatorItem.OwnerID == recipientItem.OwnerID {
		return nil, fmt.Errorf("items share an owner: %w", ErrValidation)
	}
	if initiatorItem.OwnerID != initiatorID || recipientItem.OwnerID != recipientID {
		return nil, fmt.Errorf("item ownership does not match trade parties: %w", ErrValidation)
	}

	balance := initiatorItem.Value - recipientItem.Value
	payerID := initiatorID
	if balance > 0 {
		// The recipient receives the more valuable item and tops up.
		payerID = recipientID
	} else {
		balance = -balance
	}

	created, err := m.repo.InsertTrade(ctx, repo.Trade{
		ID:              uuid.NewString(),
		InitiatorID:     initiatorID,
		RecipientID:     recipientID,
		InitiatorItemID: initiatorItemID,
		RecipientItemID: recipientItemID,
		BalanceAmount:   balance,
		PayerID:         payerID,
		Status:          string(StatusPendingAcceptance),
	})
	if err != nil {
		return nil, err
	}

	m.recordTransition(StatusPendingAcceptance)
	m.logger.Info("trade proposed", "trade_id", created.ID, "balance", balance, "payer_id", payerID)
	return created, nil
}

// Accept moves a proposal to awaiting_deposit. Only the recipient of the
// proposal may accept it.
func (m *Manager) Accept(ctx context.Context, tradeID, actingUserID string) (*repo.Trade, error) {
	trade, err := m.loadTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if actingUserID != trade.RecipientID {
		return nil, fmt.Errorf("only the trade recipient may accept: %w", ErrNotAuthorized)
	}
	if Status(trade.Status) != StatusPendingAcceptance {
		return nil, m.invalidState(trade)
	}

	if err := m.repo.UpdateTradeStatus(ctx, trade.ID, string(StatusPendingAcceptance), string(StatusAwaitingDeposit)); err != nil {
		return nil, err
	}
	m.recordTransition(StatusAwaitingDeposit)
	trade.Status = string(StatusAwaitingDeposit)
	return trade, nil
}

// Cancel abandons a trade that has not yet reached escrow. Either party may
// cancel.
func (m *Manager) Cancel(ctx context.Context, tradeID, actingUserID string) error {
	trade, err := m.loadTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	if !trade.IsParty(actingUserID) {
		return fmt.Errorf("only a trade party may cancel: %w", ErrNotAuthorized)
	}
	status := Status(trade.Status)
	if !status.Cancellable() {
		return m.invalidState(trade)
	}

	if err := m.repo.UpdateTradeStatus(ctx, trade.ID, trade.Status, string(StatusCancelled)); err != nil {
		return err
	}
	m.recordTransition(StatusCancelled)
	m.logger.Info("trade cancelled", "trade_id", trade.ID, "by", actingUserID)
	return nil
}

// ExecuteStep is the single entry point for both escrow phases, branching
// on the current status. Every branch either fully commits or fully no-ops.
func (m *Manager) ExecuteStep(ctx context.Context, tradeID, actingUserID, password string) (*StepResult, error) {
	trade, err := m.loadTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}

	switch Status(trade.Status) {
	case StatusAwaitingDeposit:
		return m.deposit(ctx, trade, actingUserID, password)
	case StatusAwaitingConfirmation:
		return m.release(ctx, trade, actingUserID, password)
	default:
		return nil, m.invalidState(trade)
	}
}

func (m *Manager) deposit(ctx context.Context, trade *repo.Trade, actingUserID, password string) (*StepResult, error) {
	if actingUserID != trade.PayerID {
		return nil, fmt.Errorf("only the designated payer may deposit: %w", ErrNotAuthorized)
	}

	payer, err := m.repo.GetUserByID(ctx, actingUserID)
	if err != nil {
		return nil, err
	}
	if payer == nil || !payer.Registered() {
		return nil, fmt.Errorf("payer: %w", ErrNotFound)
	}

	keyHex, err := m.vault.DecryptSecret(*payer.EncryptedKey, password)
	if err != nil {
		if errors.Is(err, vault.ErrNotDecryptable) {
			return nil, ErrIncorrectCredential
		}
		return nil, err
	}

	// A zero balance has nothing to escrow; the trade skips straight to
	// the confirmation phase.
	if trade.BalanceAmount == 0 {
		if err := m.repo.UpdateTradeStatus(ctx, trade.ID, trade.Status, string(StatusAwaitingConfirmation)); err != nil {
			return nil, err
		}
		m.recordTransition(StatusAwaitingConfirmation)
		return &StepResult{Status: StatusAwaitingConfirmation}, nil
	}

	ref, err := m.gateway.DepositToEscrow(ctx, trade.ID, keyHex, trade.BalanceAmount)
	if err != nil {
		// No state change: the step stays re-executable.
		return nil, fmt.Errorf("escrow deposit: %w", err)
	}

	if err := m.repo.SetTradeDeposited(ctx, trade.ID, trade.Status, string(StatusInEscrow), ref); err != nil {
		return nil, err
	}
	m.recordTransition(StatusInEscrow)
	m.logger.Info("escrow deposit settled", "trade_id", trade.ID, "ref", ref)
	return &StepResult{Status: StatusInEscrow, SettlementRef: ref}, nil
}

func (m *Manager) release(ctx context.Context, trade *repo.Trade, actingUserID, password string) (*StepResult, error) {
	if actingUserID != trade.PayeeID() {
		return nil, fmt.Errorf("only the balance recipient may confirm receipt: %w", ErrNotAuthorized)
	}

	payee, err := m.repo.GetUserByID(ctx, actingUserID)
	if err != nil {
		return nil, err
	}
	if payee == nil || !payee.Registered() {
		return nil, fmt.Errorf("payee: %w", ErrNotFound)
	}
	if !m.vault.VerifyPassword(password, *payee.PasswordHash) {
		return nil, ErrIncorrectCredential
	}

	ref := ""
	if trade.BalanceAmount > 0 {
		ref, err = m.gateway.ReleaseFromEscrow(ctx, trade.ID, *payee.WalletAddress)
		if err != nil {
			// No state change: items stay available, status untouched.
			return nil, fmt.Errorf("escrow release: %w", err)
		}
	}

	if err := m.repo.CompleteTrade(ctx, trade.ID, trade.Status, string(StatusCompleted), ref, trade.InitiatorItemID, trade.RecipientItemID); err != nil {
		return nil, err
	}
	m.recordTransition(StatusCompleted)
	m.logger.Info("trade completed", "trade_id", trade.ID, "ref", ref)
	return &StepResult{Status: StatusCompleted, SettlementRef: ref}, nil
}

// HandleDepositConfirmation advances a trade once the chain watcher reports
// the deposit transaction final. Replays for already-advanced trades are
// no-ops; a hash matching no trade is reported back so the watcher
// redelivers after the deposit reference has been persisted.
func (m *Manager) HandleDepositConfirmation(ctx context.Context, event ledger.ConfirmationEvent) error {
	trade, err := m.repo.GetTradeByDepositRef(ctx, event.TxHash)
	if err != nil {
		return err
	}
	if trade == nil {
		return fmt.Errorf("deposit %s: %w", event.TxHash, ledger.ErrUnknownConfirmation)
	}
	if Status(trade.Status) != StatusInEscrow {
		return nil
	}

	err = m.repo.UpdateTradeStatus(ctx, trade.ID, string(StatusInEscrow), string(StatusAwaitingConfirmation))
	if errors.Is(err, repo.ErrStaleStatus) {
		return nil
	}
	if err != nil {
		return err
	}
	m.recordTransition(StatusAwaitingConfirmation)
	m.logger.Info("deposit confirmed on chain", "trade_id", trade.ID, "tx", event.TxHash)
	return nil
}

func (m *Manager) loadTrade(ctx context.Context, tradeID string) (*repo.Trade, error) {
	trade, err := m.repo.GetTradeByID(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade == nil {
		return nil, fmt.Errorf("trade %s: %w", tradeID, ErrNotFound)
	}
	return trade, nil
}

func (m *Manager) invalidState(trade *repo.Trade) error {
	return fmt.Errorf("trade %s is %s: %w", trade.ID, trade.Status, ErrInvalidState)
}

func (m *Manager) recordTransition(next Status) {
	if m.metrics != nil {
		m.metrics.TradeTransitions.WithLabelValues(string(next)).Inc()
	}
}
