package convo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"trocswap-bot/internal/repo"
	"trocswap-bot/internal/session"
	"trocswap-bot/internal/trade"
	"trocswap-bot/internal/vault"
)

const (
	stageBuyChoice    = "awaiting-choice"
	stageBuyAction    = "awaiting-action"
	stageBuyOfferItem = "awaiting-offer-item"
	stageBuyPassword  = "awaiting-password"
)

const catalogLimit = 10

func (e *Engine) startBrowse(ctx context.Context, msg Inbound, user *repo.User, sess *session.Session) error {
	items, err := e.repo.ListAvailableItems(ctx, user.ID, catalogLimit)
	if err != nil {
		return fmt.Errorf("list available items: %w", err)
	}
	if len(items) == 0 {
		e.reply(ctx, msg.Sender, formatCatalog(nil))
		return nil
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	sess.Data["items"] = strings.Join(ids, ",")
	sess.Enter(session.At(session.FlowPurchase, stageBuyChoice))
	e.reply(ctx, msg.Sender, formatCatalog(items))
	return nil
}

func (e *Engine) handlePurchase(ctx context.Context, msg Inbound, user *repo.User, sess *session.Session) error {
	switch sess.Step.Stage {
	case stageBuyChoice:
		return e.pickCatalogItem(ctx, msg, sess)
	case stageBuyAction:
		return e.pickItemAction(ctx, msg, user, sess)
	case stageBuyOfferItem:
		return e.proposeTrade(ctx, msg, user, sess)
	case stageBuyPassword:
		return e.completePurchase(ctx, msg, user, sess)
	}
	return fmt.Errorf("unknown purchase stage %q", sess.Step.Stage)
}

func (e *Engine) pickCatalogItem(ctx context.Context, msg Inbound, sess *session.Session) error {
	ids := strings.Split(sess.Data["items"], ",")
	idx, ok := parseChoice(msg.Text, len(ids))
	if !ok {
		e.reply(ctx, msg.Sender, "⚠️ Répondez avec le numéro d'un article de la liste, ou tapez \"menu\".")
		return nil
	}

	item, err := e.repo.GetItemByID(ctx, ids[idx])
	if err != nil {
		return fmt.Errorf("get item: %w", err)
	}
	if item == nil || !item.IsAvailable {
		sess.Reset()
		e.reply(ctx, msg.Sender, "😕 Cet article n'est plus disponible. Tapez \"produits\" pour voir le catalogue.")
		return nil
	}

	owner, err := e.repo.GetUserByID(ctx, item.OwnerID)
	if err != nil {
		return fmt.Errorf("get item owner: %w", err)
	}
	ownerName := "inconnu"
	if owner != nil && owner.DisplayName != nil {
		ownerName = *owner.DisplayName
	}

	sess.Data["item_id"] = item.ID
	sess.Enter(session.At(session.FlowPurchase, stageBuyAction))
	e.reply(ctx, msg.Sender, formatItemDetail(item, ownerName))
	return nil
}

func (e *Engine) pickItemAction(ctx context.Context, msg Inbound, user *repo.User, sess *session.Session) error {
	switch strings.ToLower(strings.TrimSpace(msg.Text)) {
	case "a":
		sess.Enter(session.At(session.FlowPurchase, stageBuyPassword))
		e.reply(ctx, msg.Sender, "🔑 Entrez votre mot de passe pour confirmer l'achat.")
		return nil

	case "b":
		own, err := e.repo.ListItemsByOwner(ctx, user.ID, true)
		if err != nil {
			return fmt.Errorf("list own items: %w", err)
		}
		if len(own) == 0 {
			sess.Reset()
			e.reply(ctx, msg.Sender, "😕 Vous n'avez aucun article à proposer. Tapez \"vendre\" pour en ajouter un.")
			return nil
		}
		ids := make([]string, len(own))
		for i, item := range own {
			ids[i] = item.ID
		}
		sess.Data["own_items"] = strings.Join(ids, ",")
		sess.Enter(session.At(session.FlowPurchase, stageBuyOfferItem))
		e.reply(ctx, msg.Sender, formatOwnItems(own))
		return nil

	case "c":
		sess.Reset()
		e.reply(ctx, msg.Sender, menuText)
		return nil
	}

	e.reply(ctx, msg.Sender, "⚠️ Répondez avec *A*, *B* ou *C*.")
	return nil
}

func (e *Engine) proposeTrade(ctx context.Context, msg Inbound, user *repo.User, sess *session.Session) error {
	ids := strings.Split(sess.Data["own_items"], ",")
	idx, ok := parseChoice(msg.Text, len(ids))
	if !ok {
		e.reply(ctx, msg.Sender, "⚠️ Répondez avec le numéro d'un de vos articles.")
		return nil
	}

	wanted, err := e.repo.GetItemByID(ctx, sess.Data["item_id"])
	if err != nil {
		return fmt.Errorf("get wanted item: %w", err)
	}
	if wanted == nil || !wanted.IsAvailable {
		sess.Reset()
		e.reply(ctx, msg.Sender, "😕 Cet article n'est plus disponible.")
		return nil
	}

	proposed, err := e.trades.Propose(ctx, user.ID, wanted.OwnerID, ids[idx], wanted.ID)
	if err != nil {
		if errors.Is(err, trade.ErrValidation) {
			sess.Reset()
			e.reply(ctx, msg.Sender, "⚠️ Cette proposition n'est pas possible. Tapez \"produits\" pour recommencer.")
			return nil
		}
		return fmt.Errorf("propose trade: %w", err)
	}

	sess.Reset()
	summary := fmt.Sprintf("✅ Proposition d'échange envoyée ! (#%s)", shortID(proposed.ID))
	if proposed.BalanceAmount > 0 {
		side := "Vous recevrez"
		if proposed.PayerID == user.ID {
			side = "Vous devrez verser"
		}
		summary += fmt.Sprintf("\n%s un solde de %d bamekaps.", side, proposed.BalanceAmount)
	}
	e.reply(ctx, msg.Sender, summary)
	e.notifyUser(ctx, wanted.OwnerID, fmt.Sprintf("🔁 Nouvelle proposition de troc pour *%s* ! Tapez \"mes échanges\" pour la consulter.", wanted.Name))
	return nil
}

func (e *Engine) completePurchase(ctx context.Context, msg Inbound, user *repo.User, sess *session.Session) error {
	item, err := e.repo.GetItemByID(ctx, sess.Data["item_id"])
	if err != nil {
		return fmt.Errorf("get item: %w", err)
	}
	if item == nil || !item.IsAvailable {
		sess.Reset()
		e.reply(ctx, msg.Sender, "😕 Cet article n'est plus disponible.")
		return nil
	}

	keyHex, err := e.creds.DecryptSecret(*user.EncryptedKey, msg.Text)
	if err != nil {
		if errors.Is(err, vault.ErrNotDecryptable) {
			// Wrong password keeps the sender on the same stage for a retry.
			e.reply(ctx, msg.Sender, "❌ Mot de passe incorrect. Réessayez, ou tapez \"menu\" pour annuler.")
			return nil
		}
		return fmt.Errorf("decrypt wallet key: %w", err)
	}

	balance, err := e.ledger.Balance(ctx, *user.WalletAddress)
	if err != nil {
		return fmt.Errorf("check balance: %w", err)
	}
	if balance < item.Value {
		sess.Reset()
		e.reply(ctx, msg.Sender, fmt.Sprintf("💸 Solde insuffisant : il vous faut %d bamekaps, vous en avez %d.", item.Value, balance))
		return nil
	}

	seller, err := e.repo.GetUserByID(ctx, item.OwnerID)
	if err != nil {
		return fmt.Errorf("get seller: %w", err)
	}
	if seller == nil || seller.WalletAddress == nil {
		return fmt.Errorf("seller %s has no wallet", item.OwnerID)
	}

	txHash, err := e.ledger.Transfer(ctx, keyHex, *seller.WalletAddress, item.Value)
	if err != nil {
		return fmt.Errorf("transfer payment: %w", err)
	}

	if _, err := e.repo.InsertPurchase(ctx, repo.Purchase{
		ID:       uuid.NewString(),
		BuyerID:  user.ID,
		SellerID: seller.ID,
		ItemID:   item.ID,
		Amount:   item.Value,
		TxHash:   txHash,
	}); err != nil {
		return fmt.Errorf("record purchase: %w", err)
	}
	if err := e.repo.MarkItemUnavailable(ctx, item.ID); err != nil {
		return fmt.Errorf("retire item: %w", err)
	}

	e.logger.Info("purchase completed", "item_id", item.ID, "buyer_id", user.ID, "tx", txHash)
	sess.Reset()
	e.reply(ctx, msg.Sender, fmt.Sprintf("🎉 Achat confirmé ! *%s* est à vous.\nTransaction : %s", item.Name, txHash))
	e.notifyUser(ctx, seller.ID, fmt.Sprintf("💰 *%s* vient d'être vendu pour %d bamekaps !\nTransaction : %s", item.Name, item.Value, txHash))
	return nil
}
