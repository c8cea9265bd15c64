package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"trocswap-bot/internal/metrics"
)

type recordingProcessor struct {
	events []ConfirmationEvent
	err    error
}

func (p *recordingProcessor) HandleDepositConfirmation(_ context.Context, event ConfirmationEvent) error {
	p.events = append(p.events, event)
	return p.err
}

func newWebhook(processor ConfirmationProcessor) *WebhookHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWebhookHandler(logger, metrics.Registry("test"), md5Hex("watcher"), md5Hex("secret"), processor)
}

func TestWebhookRejectsBadAuth(t *testing.T) {
	processor := &recordingProcessor{}
	handler := newWebhook(processor)

	req := httptest.NewRequest(http.MethodPost, "/webhook/ledger", strings.NewReader(`{"tx_hash":"0xabc"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without auth, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhook/ledger", strings.NewReader(`{"tx_hash":"0xabc"}`))
	req.SetBasicAuth("watcher", "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong password, got %d", rec.Code)
	}

	if len(processor.events) != 0 {
		t.Fatal("processor must not run for unauthorized requests")
	}
}

func TestWebhookRejectsBadPayload(t *testing.T) {
	processor := &recordingProcessor{}
	handler := newWebhook(processor)

	req := httptest.NewRequest(http.MethodPost, "/webhook/ledger", strings.NewReader(`{"tx_hash":""}`))
	req.SetBasicAuth("watcher", "secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty tx hash, got %d", rec.Code)
	}
	if len(processor.events) != 0 {
		t.Fatal("processor must not run for invalid payloads")
	}
}

func TestWebhookForwardsConfirmation(t *testing.T) {
	processor := &recordingProcessor{}
	handler := newWebhook(processor)

	body := `{"tx_hash":"0xabc","block_number":120,"confirmations":6}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/ledger", strings.NewReader(body))
	req.SetBasicAuth("watcher", "secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(processor.events) != 1 {
		t.Fatalf("expected one forwarded event, got %d", len(processor.events))
	}
	event := processor.events[0]
	if event.TxHash != "0xabc" || event.BlockNumber != 120 || event.Confirmations != 6 {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.ReceivedAt.IsZero() {
		t.Fatal("expected receive timestamp to be set")
	}
}

func TestWebhookUnknownConfirmationGets404(t *testing.T) {
	processor := &recordingProcessor{err: fmt.Errorf("deposit 0xdef: %w", ErrUnknownConfirmation)}
	// Metrics are optional; the handler must tolerate running without them.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewWebhookHandler(logger, nil, md5Hex("watcher"), md5Hex("secret"), processor)

	req := httptest.NewRequest(http.MethodPost, "/webhook/ledger", strings.NewReader(`{"tx_hash":"0xdef"}`))
	req.SetBasicAuth("watcher", "secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown settlement, got %d", rec.Code)
	}
	if len(processor.events) != 1 {
		t.Fatalf("expected the event to reach the processor, got %d", len(processor.events))
	}
}

func TestWebhookRejectsNonPost(t *testing.T) {
	handler := newWebhook(&recordingProcessor{})

	req := httptest.NewRequest(http.MethodGet, "/webhook/ledger", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
