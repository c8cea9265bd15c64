package trade

// Status is the trade lifecycle state. Transitions are monotonic: a trade
// only ever moves forward through the ordered states or into cancelled, and
// every advancing write is guarded by a compare-and-swap on the previous
// status.
type Status string

const (
	StatusPendingAcceptance    Status = "pending_acceptance"
	StatusAwaitingDeposit      Status = "awaiting_deposit"
	StatusInEscrow             Status = "in_escrow"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusCompleted            Status = "completed"
	StatusCancelled            Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Cancellable reports whether either party may still abandon the trade.
// Once funds are in escrow, cancellation would require a refund path, which
// does not exist; the trade must run to completion.
func (s Status) Cancellable() bool {
	return s == StatusPendingAcceptance || s == StatusAwaitingDeposit
}

// Describe returns a short user-facing label per status.
func (s Status) Describe() string {
	switch s {
	case StatusPendingAcceptance:
		return "en attente d'acceptation"
	case StatusAwaitingDeposit:
		return "en attente du dépôt"
	case StatusInEscrow:
		return "fonds sous séquestre"
	case StatusAwaitingConfirmation:
		return "en attente de confirmation de réception"
	case StatusCompleted:
		return "terminé"
	case StatusCancelled:
		return "annulé"
	}
	return string(s)
}
