package ledger

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"trocswap-bot/internal/metrics"
)

// ConfirmationEvent is posted by the external chain watcher when a deposit
// transaction reaches finality.
type ConfirmationEvent struct {
	TxHash        string    `json:"tx_hash"`
	BlockNumber   uint64    `json:"block_number"`
	Confirmations uint64    `json:"confirmations"`
	ReceivedAt    time.Time `json:"-"`
}

// ConfirmationProcessor handles confirmed deposit transactions.
type ConfirmationProcessor interface {
	HandleDepositConfirmation(ctx context.Context, event ConfirmationEvent) error
}

// WebhookHandler validates chain-watcher callbacks and forwards confirmed
// deposits to the processor.
type WebhookHandler struct {
	logger      *slog.Logger
	metrics     *metrics.Metrics
	usernameMD5 string
	passwordMD5 string
	processor   ConfirmationProcessor
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(logger *slog.Logger, metrics *metrics.Metrics, usernameMD5, passwordMD5 string, processor ConfirmationProcessor) *WebhookHandler {
	return &WebhookHandler{
		logger:      logger.With("component", "ledger_webhook"),
		metrics:     metrics,
		usernameMD5: strings.ToLower(usernameMD5),
		passwordMD5: strings.ToLower(passwordMD5),
		processor:   processor,
	}
}

// ServeHTTP satisfies http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.validateAuth(r); err != nil {
		h.countError("ledger_webhook_auth")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.countError("ledger_webhook")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var event ConfirmationEvent
	if err := json.Unmarshal(body, &event); err != nil || event.TxHash == "" {
		h.countError("ledger_webhook")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	event.ReceivedAt = time.Now()

	if h.processor != nil {
		if err := h.processor.HandleDepositConfirmation(r.Context(), event); err != nil {
			// An unknown hash means the deposit reference has not been
			// persisted yet; a non-2xx makes the watcher redeliver.
			if errors.Is(err, ErrUnknownConfirmation) {
				h.logger.Warn("confirmation for unknown settlement", "tx", event.TxHash)
				h.countError("ledger_webhook_unknown")
				http.Error(w, "unknown transaction", http.StatusNotFound)
				return
			}
			h.logger.Error("failed processing confirmation", "error", err, "tx", event.TxHash)
			h.countError("ledger_webhook_process")
			http.Error(w, "failed to process", http.StatusInternalServerError)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *WebhookHandler) countError(component string) {
	if h.metrics != nil {
		h.metrics.Errors.WithLabelValues(component).Inc()
	}
}

func (h *WebhookHandler) validateAuth(r *http.Request) error {
	username, password, ok := r.BasicAuth()
	if !ok {
		return fmt.Errorf("missing basic auth")
	}
	if md5Hex(username) != h.usernameMD5 {
		return fmt.Errorf("invalid username hash")
	}
	if md5Hex(password) != h.passwordMD5 {
		return fmt.Errorf("invalid password hash")
	}
	return nil
}

func md5Hex(val string) string {
	sum := md5.Sum([]byte(val))
	return strings.ToLower(hex.EncodeToString(sum[:]))
}
