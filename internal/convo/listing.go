package convo

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"trocswap-bot/internal/repo"
	"trocswap-bot/internal/session"
)

const (
	stageListName  = "awaiting-name"
	stageListValue = "awaiting-value"
	stageListImage = "awaiting-image"
)

func (e *Engine) handleListing(ctx context.Context, msg Inbound, user *repo.User, sess *session.Session) error {
	if sess.Step.Flow != session.FlowListing {
		sess.Enter(session.At(session.FlowListing, stageListName))
		e.reply(ctx, msg.Sender, "🛒 *Nouvel article*\n\nQuel est le nom de l'article que vous souhaitez proposer ?")
		return nil
	}

	switch sess.Step.Stage {
	case stageListName:
		name := strings.TrimSpace(msg.Text)
		if name == "" {
			e.reply(ctx, msg.Sender, "Veuillez entrer un nom d'article valide.")
			return nil
		}
		sess.Data["name"] = name
		sess.Enter(session.At(session.FlowListing, stageListValue))
		e.reply(ctx, msg.Sender, "Quelle est sa valeur estimée en bamekaps ?")
		return nil

	case stageListValue:
		value, err := parseValue(msg.Text)
		if err != nil {
			// Invalid input keeps the sender on the same stage.
			e.reply(ctx, msg.Sender, "⚠️ Veuillez entrer une valeur numérique positive (ex: 500).")
			return nil
		}
		sess.Data["value"] = fmt.Sprintf("%d", value)
		sess.Enter(session.At(session.FlowListing, stageListImage))
		e.reply(ctx, msg.Sender, "📷 Envoyez maintenant une photo de l'article.")
		return nil

	case stageListImage:
		if msg.Kind != KindImage {
			e.reply(ctx, msg.Sender, "⚠️ J'attends une photo de l'article. Envoyez une image, ou tapez \"menu\" pour annuler.")
			return nil
		}
		return e.completeListing(ctx, msg, user, sess)
	}

	return fmt.Errorf("unknown listing stage %q", sess.Step.Stage)
}

func (e *Engine) completeListing(ctx context.Context, msg Inbound, user *repo.User, sess *session.Session) error {
	value, err := parseValue(sess.Data["value"])
	if err != nil {
		return fmt.Errorf("corrupt listing session value %q: %w", sess.Data["value"], err)
	}

	item := repo.Item{
		ID:          uuid.NewString(),
		OwnerID:     user.ID,
		Name:        sess.Data["name"],
		Value:       value,
		ImageRef:    optional(msg.ImageRef),
		IsAvailable: true,
	}
	stored, err := e.repo.InsertItem(ctx, item)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}

	e.logger.Info("item listed", "item_id", stored.ID, "owner_id", user.ID, "value", stored.Value)
	sess.Reset()
	e.reply(ctx, msg.Sender, fmt.Sprintf("✅ *%s* est maintenant en vente pour %d bamekaps !\n\nTapez \"menu\" pour continuer.", stored.Name, stored.Value))
	return nil
}
