package convo

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"trocswap-bot/internal/repo"
	"trocswap-bot/internal/trade"
)

var valueRegex = regexp.MustCompile(`\d+(?:[.,]?\d+)?`)

func parseValue(text string) (int64, error) {
	if text == "" {
		return 0, fmt.Errorf("empty value")
	}
	text = strings.ToLower(strings.TrimSpace(text))
	matches := valueRegex.FindAllString(text, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("no numeric value")
	}

	value := matches[0]
	// Separators are thousands markers only when followed by exactly
	// three digits; "1.5" is a decimal typo, not 15.
	if i := strings.LastIndexAny(value, ".,"); i >= 0 && len(value)-i-1 != 3 {
		return 0, fmt.Errorf("fractional value %q", value)
	}
	value = strings.ReplaceAll(value, ".", "")
	value = strings.ReplaceAll(value, ",", "")

	num, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, err
	}
	if strings.Contains(text, "k") && num < 1000 {
		num *= 1000
	}
	if num <= 0 {
		return 0, fmt.Errorf("value must be positive")
	}
	return num, nil
}

func formatCatalog(items []repo.Item) string {
	if len(items) == 0 {
		return "Aucun article disponible pour le moment. Revenez plus tard !"
	}

	var builder strings.Builder
	builder.WriteString("🛍️ *Articles disponibles :*\n")
	for i, item := range items {
		builder.WriteString(fmt.Sprintf("\n*%d.* %s — %d bamekaps", i+1, item.Name, item.Value))
		if item.Category != "" {
			builder.WriteString(fmt.Sprintf(" [%s]", item.Category))
		}
	}
	builder.WriteString("\n\nRépondez avec le numéro de l'article qui vous intéresse.")
	return builder.String()
}

func formatItemDetail(item *repo.Item, ownerName string) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("📦 *%s*\n", item.Name))
	if item.Description != "" {
		builder.WriteString(item.Description)
		builder.WriteString("\n")
	}
	builder.WriteString(fmt.Sprintf("Valeur : %d bamekaps\n", item.Value))
	builder.WriteString(fmt.Sprintf("Vendeur : %s\n", ownerName))
	builder.WriteString("\n*A.* Acheter\n*B.* Proposer un échange\n*C.* Retour au menu")
	return builder.String()
}

func formatOwnItems(items []repo.Item) string {
	var builder strings.Builder
	builder.WriteString("🔁 Quel article proposez-vous en échange ?\n")
	for i, item := range items {
		builder.WriteString(fmt.Sprintf("\n*%d.* %s — %d bamekaps", i+1, item.Name, item.Value))
	}
	builder.WriteString("\n\nRépondez avec le numéro de votre article.")
	return builder.String()
}

func formatTradeList(trades []repo.Trade, userID string) string {
	if len(trades) == 0 {
		return "Vous n'avez aucun échange en cours. Tapez \"produits\" pour découvrir les articles."
	}

	var builder strings.Builder
	builder.WriteString("🔁 *Vos échanges :*\n")
	for i, t := range trades {
		role := "initiateur"
		if t.RecipientID == userID {
			role = "destinataire"
		}
		builder.WriteString(fmt.Sprintf("\n*%d.* #%s — %s (%s)", i+1, shortID(t.ID), trade.Status(t.Status).Describe(), role))
	}
	builder.WriteString("\n\nRépondez avec le numéro de l'échange pour voir les actions possibles.")
	return builder.String()
}

func formatTradeDetail(t *repo.Trade, userID string, initiatorItem, recipientItem *repo.Item) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("🔁 *Échange #%s*\n", shortID(t.ID)))
	if initiatorItem != nil && recipientItem != nil {
		builder.WriteString(fmt.Sprintf("%s ⇄ %s\n", initiatorItem.Name, recipientItem.Name))
	}
	builder.WriteString(fmt.Sprintf("Statut : %s\n", trade.Status(t.Status).Describe()))
	if t.BalanceAmount > 0 {
		direction := "à recevoir"
		if t.PayerID == userID {
			direction = "à payer"
		}
		builder.WriteString(fmt.Sprintf("Solde : %d bamekaps (%s)\n", t.BalanceAmount, direction))
	}

	actions := tradeActions(t, userID)
	if len(actions) == 0 {
		builder.WriteString("\nAucune action n'est possible pour le moment.")
	} else {
		builder.WriteString("\n")
		builder.WriteString(strings.Join(actions, "\n"))
	}
	return builder.String()
}

// tradeActions lists what this user may do given the trade status. Mirrors
// the authorization rules enforced by the trade manager; the manager remains
// the source of truth.
func tradeActions(t *repo.Trade, userID string) []string {
	var actions []string
	switch trade.Status(t.Status) {
	case trade.StatusPendingAcceptance:
		if t.RecipientID == userID {
			actions = append(actions, "*A.* Accepter")
		}
		actions = append(actions, "*B.* Annuler")
	case trade.StatusAwaitingDeposit:
		if t.PayerID == userID {
			actions = append(actions, "*A.* Déposer le solde")
		}
		actions = append(actions, "*B.* Annuler")
	case trade.StatusAwaitingConfirmation:
		if t.PayeeID() == userID {
			actions = append(actions, "*A.* Confirmer la réception")
		}
	}
	return actions
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func parseChoice(text string, max int) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 1 || n > max {
		return 0, false
	}
	return n - 1, true
}
