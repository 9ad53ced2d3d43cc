package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/operator-relay/pkg/logger"
)

// SecretTokenHeader carries the webhook secret set at registration.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// UpdateSubmitter accepts updates for background processing.
type UpdateSubmitter interface {
	Submit(ctx context.Context, u tgbotapi.Update)
}

// WebhookHandler receives Telegram updates pushed to the webhook.
type WebhookHandler struct {
	secret    string
	submitter UpdateSubmitter
	logger    *logger.Logger
}

// NewWebhookHandler creates a new webhook handler. An empty secret rejects
// every request.
func NewWebhookHandler(secret string, submitter UpdateSubmitter, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret:    secret,
		submitter: submitter,
		logger:    log,
	}
}

// Receive handles POST /telegram/webhook
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	got := r.Header.Get(SecretTokenHeader)
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		writeError(w, r, http.StatusUnauthorized, "invalid secret token")
		return
	}

	var u tgbotapi.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&u); err != nil {
		h.logger.Warn("failed to decode webhook update", zap.Error(err))
		writeError(w, r, http.StatusBadRequest, "invalid update body")
		return
	}

	h.submitter.Submit(r.Context(), u)
	w.WriteHeader(http.StatusOK)
}
