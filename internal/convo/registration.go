package convo

import (
	"context"
	"fmt"
	"strings"

	"trocswap-bot/internal/repo"
	"trocswap-bot/internal/session"
)

const (
	stageRegName     = "awaiting-name"
	stageRegPassword = "awaiting-password"
)

const minPasswordLength = 8

func (e *Engine) handleRegistration(ctx context.Context, msg Inbound, user *repo.User, sess *session.Session) error {
	if user.Registered() {
		sess.Reset()
		e.reply(ctx, msg.Sender, "✅ Vous êtes déjà inscrit ! Tapez \"menu\" pour voir les options.")
		return nil
	}

	if sess.Step.Flow != session.FlowRegistration {
		sess.Enter(session.At(session.FlowRegistration, stageRegName))
		e.reply(ctx, msg.Sender, "📝 *Inscription TrocSwap*\n\nQuel est votre nom ?")
		return nil
	}

	switch sess.Step.Stage {
	case stageRegName:
		name := strings.TrimSpace(msg.Text)
		if name == "" {
			e.reply(ctx, msg.Sender, "Veuillez entrer un nom valide.")
			return nil
		}
		sess.Data["name"] = name
		sess.Enter(session.At(session.FlowRegistration, stageRegPassword))
		e.reply(ctx, msg.Sender, fmt.Sprintf("Enchanté, %s ! Choisissez un mot de passe (8 caractères minimum). Il protège votre portefeuille, ne le partagez jamais.", name))
		return nil

	case stageRegPassword:
		password := msg.Text
		if len(password) < minPasswordLength {
			e.reply(ctx, msg.Sender, "⚠️ Le mot de passe doit contenir au moins 8 caractères. Réessayez.")
			return nil
		}
		return e.completeRegistration(ctx, msg, user, sess, password)
	}

	return fmt.Errorf("unknown registration stage %q", sess.Step.Stage)
}

func (e *Engine) completeRegistration(ctx context.Context, msg Inbound, user *repo.User, sess *session.Session, password string) error {
	name := sess.Data["name"]

	wallet, err := e.ledger.CreateWallet()
	if err != nil {
		return fmt.Errorf("create wallet: %w", err)
	}

	hash, err := e.creds.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	envelope, err := e.creds.EncryptSecret(wallet.PrivateKeyHex, password)
	if err != nil {
		return fmt.Errorf("encrypt wallet key: %w", err)
	}

	if _, err := e.repo.CompleteRegistration(ctx, user.ID, name, wallet.Address, hash, envelope); err != nil {
		return fmt.Errorf("complete registration: %w", err)
	}

	e.logger.Info("user registered", "user_id", user.ID, "wallet", wallet.Address)
	sess.Reset()
	e.reply(ctx, msg.Sender, fmt.Sprintf("🎉 Bienvenue %s ! Votre compte est créé.\n\nVotre portefeuille : %s\n\n%s", name, wallet.Address, menuText))
	return nil
}
