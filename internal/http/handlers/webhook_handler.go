// Webhook HTTP handler.
//
// This file receives provider delivery-status callbacks:
//   - POST /webhooks/messaging
//
// Requests are authenticated with an HMAC-SHA256 signature over
// "timestamp.body" carried in X-Webhook-Signature and X-Webhook-Timestamp.
// The raw body must be read before JSON binding so the exact bytes the
// provider signed are what gets verified.
//
// Unknown provider message IDs are still acknowledged with 200 so the
// provider stops retrying callbacks for messages we no longer track.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/caseflow/go-messaging-backend/internal/http/middleware"
	"github.com/caseflow/go-messaging-backend/internal/services"
	"github.com/caseflow/go-messaging-backend/internal/webhook"
)

// maxWebhookBody caps the callback body read into memory.
const maxWebhookBody = 1 << 20

// CallbackApplier applies a provider delivery-status callback to the queue.
type CallbackApplier interface {
	ApplyStatus(ctx context.Context, providerMessageID, status, detail string) error
}

// WebhookDeps carries the webhook handler's validation settings and the
// service that applies accepted callbacks.
type WebhookDeps struct {
	Secret        string
	RequireSecret bool
	MaxAge        time.Duration
	Callbacks     CallbackApplier
}

// webhookEvent is the JSON body of a provider callback.
type webhookEvent struct {
	ProviderMessageID string `json:"provider_message_id"`
	Status            string `json:"status"`
	Detail            string `json:"detail,omitempty"`
}

// WebhookResponse acknowledges a processed callback.
type WebhookResponse struct {
	Received bool `json:"received"`
}

// Webhook godoc
// @ID          messagingWebhook
// @Summary     Receive a provider delivery-status callback
// @Description Validates the HMAC signature and applies the status update to
// @Description the matching queue item. Unknown message IDs are acknowledged.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
// @Param       X-Webhook-Signature  header  string  true  "hex HMAC-SHA256 of timestamp.body"
// @Param       X-Webhook-Timestamp  header  string  true  "Unix timestamp (seconds or milliseconds)"
// @Success     200  {object}  handlers.WebhookResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Malformed request"
// @Failure     401  {object}  handlers.ErrorResponse  "Signature rejected"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /webhooks/messaging [post]
func (h *Handlers) Webhook(c *gin.Context) {
	ctx := c.Request.Context()
	lg := middleware.LoggerFrom(c)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}

	res := webhook.Validate(webhook.Input{
		Body:          body,
		Signature:     c.GetHeader(webhook.SignatureHeader),
		Timestamp:     c.GetHeader(webhook.TimestampHeader),
		Secret:        h.webhook.Secret,
		RequireSecret: h.webhook.RequireSecret,
		MaxAge:        h.webhook.MaxAge,
	})
	if !res.OK {
		lg.Warn().Str("code", res.Code).Msg("webhook rejected")
		fail(c, res.Status, res.Code, res.Message)
		return
	}

	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(ev.ProviderMessageID) == "" || strings.TrimSpace(ev.Status) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "provider_message_id and status required")
		return
	}

	if err := h.webhook.Callbacks.ApplyStatus(ctx, ev.ProviderMessageID, ev.Status, ev.Detail); err != nil {
		if errors.Is(err, services.ErrUnknownCallback) {
			// Acknowledge so the provider stops retrying.
			lg.Info().Str("provider_message_id", ev.ProviderMessageID).Msg("callback for unknown message")
			ok(c, http.StatusOK, WebhookResponse{Received: true})
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	ok(c, http.StatusOK, WebhookResponse{Received: true})
}
