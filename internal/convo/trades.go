package convo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"trocswap-bot/internal/repo"
	"trocswap-bot/internal/session"
	"trocswap-bot/internal/trade"
)

const (
	stageTradeSelection = "awaiting-selection"
	stageTradeAction    = "awaiting-action"
	stageTradePassword  = "awaiting-password"
)

const tradeListLimit = 10

func (e *Engine) startMyTrades(ctx context.Context, msg Inbound, user *repo.User, sess *session.Session) error {
	trades, err := e.repo.ListTradesByParty(ctx, user.ID, tradeListLimit)
	if err != nil {
		return fmt.Errorf("list trades: %w", err)
	}
	if len(trades) == 0 {
		e.reply(ctx, msg.Sender, formatTradeList(nil, user.ID))
		return nil
	}

	ids := make([]string, len(trades))
	for i, t := range trades {
		ids[i] = t.ID
	}
	sess.Data["trades"] = strings.Join(ids, ",")
	sess.Enter(session.At(session.FlowTrade, stageTradeSelection))
	e.reply(ctx, msg.Sender, formatTradeList(trades, user.ID))
	return nil
}

func (e *Engine) handleTrade(ctx context.Context, msg Inbound, user *repo.User, sess *session.Session) error {
	switch sess.Step.Stage {
	case stageTradeSelection:
		return e.pickTrade(ctx, msg, user, sess)
	case stageTradeAction:
		return e.pickTradeAction(ctx, msg, user, sess)
	case stageTradePassword:
		return e.runTradeStep(ctx, msg, user, sess)
	}
	return fmt.Errorf("unknown trade stage %q", sess.Step.Stage)
}

func (e *Engine) pickTrade(ctx context.Context, msg Inbound, user *repo.User, sess *session.Session) error {
	ids := strings.Split(sess.Data["trades"], ",")
	idx, ok := parseChoice(msg.Text, len(ids))
	if !ok {
		e.reply(ctx, msg.Sender, "⚠️ Répondez avec le numéro d'un échange de la liste, ou tapez \"menu\".")
		return nil
	}

	t, err := e.repo.GetTradeByID(ctx, ids[idx])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}
	if t == nil {
		sess.Reset()
		e.reply(ctx, msg.Sender, "😕 Cet échange est introuvable.")
		return nil
	}

	initiatorItem, err := e.repo.GetItemByID(ctx, t.InitiatorItemID)
	if err != nil {
		return fmt.Errorf("get initiator item: %w", err)
	}
	recipientItem, err := e.repo.GetItemByID(ctx, t.RecipientItemID)
	if err != nil {
		return fmt.Errorf("get recipient item: %w", err)
	}

	if len(tradeActions(t, user.ID)) == 0 {
		sess.Reset()
		e.reply(ctx, msg.Sender, formatTradeDetail(t, user.ID, initiatorItem, recipientItem))
		return nil
	}

	sess.Data["trade_id"] = t.ID
	sess.Enter(session.At(session.FlowTrade, stageTradeAction))
	e.reply(ctx, msg.Sender, formatTradeDetail(t, user.ID, initiatorItem, recipientItem))
	return nil
}

func (e *Engine) pickTradeAction(ctx context.Context, msg Inbound, user *repo.User, sess *session.Session) error {
	t, err := e.repo.GetTradeByID(ctx, sess.Data["trade_id"])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}
	if t == nil {
		sess.Reset()
		e.reply(ctx, msg.Sender, "😕 Cet échange est introuvable.")
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(msg.Text)) {
	case "a":
		if trade.Status(t.Status) == trade.StatusPendingAcceptance {
			return e.acceptTrade(ctx, msg, user, sess, t.ID)
		}
		// Deposit and confirmation both settle on the ledger and need the
		// sender's password first.
		sess.Enter(session.At(session.FlowTrade, stageTradePassword))
		e.reply(ctx, msg.Sender, "🔑 Entrez votre mot de passe pour confirmer.")
		return nil

	case "b":
		return e.cancelTrade(ctx, msg, user, sess, t.ID)
	}

	e.reply(ctx, msg.Sender, "⚠️ Répondez avec *A* ou *B*, ou tapez \"menu\".")
	return nil
}

func (e *Engine) acceptTrade(ctx context.Context, msg Inbound, user *repo.User, sess *session.Session, tradeID string) error {
	accepted, err := e.trades.Accept(ctx, tradeID, user.ID)
	if err != nil {
		return e.explainTradeError(ctx, msg, sess, err)
	}

	sess.Reset()
	reply := "🤝 Échange accepté !"
	if accepted.BalanceAmount > 0 {
		if accepted.PayerID == user.ID {
			reply += fmt.Sprintf("\nVous devez maintenant déposer le solde de %d bamekaps (voir \"mes échanges\").", accepted.BalanceAmount)
		} else {
			reply += fmt.Sprintf("\nVotre partenaire doit déposer un solde de %d bamekaps.", accepted.BalanceAmount)
		}
	} else {
		reply += "\nLe payeur peut maintenant poursuivre via \"mes échanges\"."
	}
	e.reply(ctx, msg.Sender, reply)

	other := accepted.InitiatorID
	if other == user.ID {
		other = accepted.RecipientID
	}
	e.notifyUser(ctx, other, fmt.Sprintf("🤝 Votre proposition d'échange #%s a été acceptée !", shortID(accepted.ID)))
	return nil
}

func (e *Engine) cancelTrade(ctx context.Context, msg Inbound, user *repo.User, sess *session.Session, tradeID string) error {
	if err := e.trades.Cancel(ctx, tradeID, user.ID); err != nil {
		return e.explainTradeError(ctx, msg, sess, err)
	}
	sess.Reset()
	e.reply(ctx, msg.Sender, "🚫 Échange annulé.")
	return nil
}

func (e *Engine) runTradeStep(ctx context.Context, msg Inbound, user *repo.User, sess *session.Session) error {
	tradeID := sess.Data["trade_id"]
	result, err := e.trades.ExecuteStep(ctx, tradeID, user.ID, msg.Text)
	if err != nil {
		if errors.Is(err, trade.ErrIncorrectCredential) {
			e.reply(ctx, msg.Sender, "❌ Mot de passe incorrect. Réessayez, ou tapez \"menu\" pour annuler.")
			return nil
		}
		return e.explainTradeError(ctx, msg, sess, err)
	}

	sess.Reset()
	switch result.Status {
	case trade.StatusInEscrow:
		e.reply(ctx, msg.Sender, fmt.Sprintf("🔒 Solde déposé sous séquestre.\nTransaction : %s\nVous serez notifié dès confirmation.", result.SettlementRef))
	case trade.StatusAwaitingConfirmation:
		e.reply(ctx, msg.Sender, "✅ Dépôt enregistré. L'échange attend la confirmation de réception.")
	case trade.StatusCompleted:
		reply := "🎉 Échange terminé ! Les deux articles sont désormais échangés."
		if result.SettlementRef != "" {
			reply += fmt.Sprintf("\nTransaction : %s", result.SettlementRef)
		}
		e.reply(ctx, msg.Sender, reply)
		e.notifyTradeCompleted(ctx, user.ID, tradeID)
	default:
		e.reply(ctx, msg.Sender, fmt.Sprintf("✅ Échange mis à jour : %s", result.Status.Describe()))
	}
	return nil
}

func (e *Engine) notifyTradeCompleted(ctx context.Context, actingUserID, tradeID string) {
	t, err := e.repo.GetTradeByID(ctx, tradeID)
	if err != nil || t == nil {
		return
	}
	other := t.InitiatorID
	if other == actingUserID {
		other = t.RecipientID
	}
	e.notifyUser(ctx, other, fmt.Sprintf("🎉 L'échange #%s est terminé ! Les articles ont été échangés.", shortID(t.ID)))
}

// explainTradeError turns the manager's sentinel errors into user-facing
// replies; anything unexpected propagates to the router's recovery path.
func (e *Engine) explainTradeError(ctx context.Context, msg Inbound, sess *session.Session, err error) error {
	switch {
	case errors.Is(err, trade.ErrNotAuthorized):
		sess.Reset()
		e.reply(ctx, msg.Sender, "🚫 Vous n'êtes pas autorisé à effectuer cette action sur cet échange.")
		return nil
	case errors.Is(err, trade.ErrInvalidState):
		sess.Reset()
		e.reply(ctx, msg.Sender, "⚠️ Cet échange a changé d'état entre-temps. Tapez \"mes échanges\" pour voir son statut actuel.")
		return nil
	case errors.Is(err, trade.ErrNotFound):
		sess.Reset()
		e.reply(ctx, msg.Sender, "😕 Cet échange est introuvable.")
		return nil
	}
	return err
}
