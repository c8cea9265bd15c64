package convo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"trocswap-bot/internal/ledger"
	"trocswap-bot/internal/metrics"
	"trocswap-bot/internal/repo"
	"trocswap-bot/internal/session"
	"trocswap-bot/internal/trade"
)

// Kind classifies an inbound event.
type Kind string

const (
	KindText              Kind = "text"
	KindImage             Kind = "image"
	KindParticipantChange Kind = "participant-change"
)

// Inbound is a channel-agnostic inbound message event.
type Inbound struct {
	Sender      string
	ProfileName string
	Kind        Kind
	Text        string
	ImageRef    string
	Timestamp   time.Time
}

// Messenger delivers outbound replies. Delivery failures are logged, never
// retried here.
type Messenger interface {
	SendText(ctx context.Context, to, text string) error
}

// Ledger is the subset of the settlement gateway the flows use directly.
type Ledger interface {
	CreateWallet() (*ledger.Wallet, error)
	Balance(ctx context.Context, address string) (int64, error)
	Transfer(ctx context.Context, fromKeyHex, toAddress string, amount int64) (string, error)
}

// Credentials is the vault surface the flows use.
type Credentials interface {
	HashPassword(plaintext string) (string, error)
	VerifyPassword(plaintext, hash string) bool
	EncryptSecret(secret, password string) (string, error)
	DecryptSecret(envelope, password string) (string, error)
}

const (
	menuText = "🏪 *TrocSwap Marketplace*\n\nChoisissez une option :\n- *s'inscrire* — créer votre compte\n- *vendre* — proposer un article\n- *produits* — voir les articles\n- *mes échanges* — gérer vos trocs\n\nEnvoyez *menu* à tout moment pour revenir ici."
	helpText = "🤔 Commande non reconnue. Tapez \"menu\" pour voir les options."
	oopsText = "❌ Une erreur s'est produite. Tapez \"menu\" pour recommencer."
)

// Engine routes inbound messages to the conversation flows. It owns every
// session mutation; flow handlers work on the session the router passes in.
type Engine struct {
	repo      repo.Repository
	sessions  session.Store
	trades    *trade.Manager
	ledger    Ledger
	creds     Credentials
	messenger Messenger
	metrics   *metrics.Metrics
	logger    *slog.Logger
	locks     *senderLocks
}

// New wires the conversation engine.
func New(repository repo.Repository, sessions session.Store, trades *trade.Manager, gateway Ledger, creds Credentials, messenger Messenger, metricRegistry *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		repo:      repository,
		sessions:  sessions,
		trades:    trades,
		ledger:    gateway,
		creds:     creds,
		messenger: messenger,
		metrics:   metricRegistry,
		logger:    logger.With("component", "convo"),
		locks:     newSenderLocks(),
	}
}

// Route processes one inbound event to completion. Events from the same
// sender are serialized; the session is persisted on every branch so a
// redelivered message re-enters the same step instead of corrupting it.
func (e *Engine) Route(ctx context.Context, msg Inbound) {
	if msg.Kind == KindParticipantChange {
		// Group events never touch sessions.
		return
	}

	unlock := e.locks.acquire(msg.Sender)
	defer unlock()

	if e.metrics != nil {
		e.metrics.WAIncomingMessages.WithLabelValues(string(msg.Kind)).Inc()
	}

	user, err := e.repo.UpsertUserByWA(ctx, repo.UserProfile{
		WAID:        msg.Sender,
		DisplayName: optional(msg.ProfileName),
	})
	if err != nil {
		e.logger.Error("failed loading user", "sender", msg.Sender, "error", err)
		e.countError("route")
		e.reply(ctx, msg.Sender, oopsText)
		return
	}

	sess, err := e.sessions.Get(ctx, msg.Sender)
	if err != nil {
		e.logger.Error("failed loading session", "sender", msg.Sender, "error", err)
		e.countError("route")
		e.reply(ctx, msg.Sender, oopsText)
		return
	}

	if err := e.dispatch(ctx, msg, user, sess); err != nil {
		// The originating error stays server-side; the sender gets one
		// uniform recovery message and a clean slate.
		e.logger.Error("flow handler failed", "sender", msg.Sender, "step", sess.Step.String(), "error", err)
		e.countError(string(sess.Step.Flow))
		sess.Reset()
		e.reply(ctx, msg.Sender, oopsText)
	}

	if err := e.sessions.Put(ctx, msg.Sender, sess); err != nil {
		e.logger.Error("failed persisting session", "sender", msg.Sender, "error", err)
		e.countError("session")
	}
}

func (e *Engine) dispatch(ctx context.Context, msg Inbound, user *repo.User, sess *session.Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in flow handler: %v", r)
		}
	}()

	text := strings.TrimSpace(msg.Text)
	lower := strings.ToLower(text)

	// The global reset only touches session state, never identity.
	if lower == "menu" {
		sess.Reset()
		e.reply(ctx, msg.Sender, menuText)
		return nil
	}

	// Unregistered senders are pulled into registration no matter what
	// they typed or where their session points.
	if !user.Registered() {
		if sess.Step.Flow != session.FlowRegistration {
			sess.Reset()
		}
		return e.handleRegistration(ctx, msg, user, sess)
	}

	if !sess.Step.IsRoot() {
		switch sess.Step.Flow {
		case session.FlowRegistration:
			return e.handleRegistration(ctx, msg, user, sess)
		case session.FlowListing:
			return e.handleListing(ctx, msg, user, sess)
		case session.FlowPurchase:
			return e.handlePurchase(ctx, msg, user, sess)
		case session.FlowTrade:
			return e.handleTrade(ctx, msg, user, sess)
		}
		return fmt.Errorf("unroutable step %q", sess.Step.String())
	}

	switch mapTextToCommand(lower) {
	case "register":
		return e.handleRegistration(ctx, msg, user, sess)
	case "sell":
		return e.handleListing(ctx, msg, user, sess)
	case "browse":
		return e.startBrowse(ctx, msg, user, sess)
	case "my-trades":
		return e.startMyTrades(ctx, msg, user, sess)
	default:
		// Unrecognized text never mutates the session.
		e.reply(ctx, msg.Sender, helpText)
		return nil
	}
}

// GroupJoin welcomes participants added to a group. Handled outside the
// session machinery entirely.
func (e *Engine) GroupJoin(ctx context.Context, groupID string, names []string) {
	for _, name := range names {
		if name == "" {
			name = "au nouveau membre"
		}
		e.reply(ctx, groupID, fmt.Sprintf("👋 Bienvenue à %s dans la communauté TrocSwap !", name))
	}
}

func mapTextToCommand(text string) string {
	switch text {
	case "s'inscrire", "inscription", "register":
		return "register"
	case "vendre", "vendre un article", "sell":
		return "sell"
	case "produits", "articles", "voir les articles", "browse":
		return "browse"
	case "mes échanges", "mes echanges", "my trades":
		return "my-trades"
	}
	return "unknown"
}

func (e *Engine) reply(ctx context.Context, to, text string) {
	if err := e.messenger.SendText(ctx, to, text); err != nil {
		e.logger.Warn("failed sending reply", "to", to, "error", err)
		e.countError("messenger")
	}
}

// notifyUser sends a courtesy message to another participant; failures are
// non-fatal for the acting sender's flow.
func (e *Engine) notifyUser(ctx context.Context, userID, text string) {
	other, err := e.repo.GetUserByID(ctx, userID)
	if err != nil || other == nil {
		e.logger.Warn("failed loading counterparty for notification", "user_id", userID, "error", err)
		return
	}
	e.reply(ctx, other.WAID, text)
}

func (e *Engine) countError(component string) {
	if e.metrics != nil {
		e.metrics.Errors.WithLabelValues("convo_" + component).Inc()
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
