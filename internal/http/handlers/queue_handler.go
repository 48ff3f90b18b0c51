// Queue HTTP handlers.
//
// This file exposes REST endpoints for the outbound message queue:
//   - POST /queue          (enqueue a message for delivery)
//   - GET  /queue          (list queue items with status counts)
//   - GET  /queue/{id}     (inspect one item: timeline + correlated logs)
//   - POST /queue/actions  (operator bulk actions: process, retry,
//     reprocess, cancel, clear_dead)
//
// Handlers are transport-thin: they validate and normalize inputs, delegate
// to application services, and map sentinel errors to stable HTTP codes.
// Enqueue idempotency lives in the service layer keyed by the request's
// idempotency_key field; a replay returns the original row with 200 instead
// of 201.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/caseflow/go-messaging-backend/internal/domain"
	"github.com/caseflow/go-messaging-backend/internal/services"
	"github.com/caseflow/go-messaging-backend/internal/utils"
)

//
// Service interfaces
//

// Enqueuer defines the enqueue operation consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type Enqueuer interface {
	// Enqueue persists a message for asynchronous delivery. A repeated
	// idempotency key returns the original result with Deduplicated set.
	Enqueue(ctx context.Context, phone, payload, idempotencyKey string) (*services.EnqueueResult, error)
}

// QueueAdmin defines the operator control operations over the queue.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type QueueAdmin interface {
	// List returns a page of queue items plus aggregate status counts.
	List(ctx context.Context, status *domain.QueueStatus, offset, limit int) (*services.QueueListing, error)
	// Detail returns one item with its delivery timeline and logs.
	Detail(ctx context.Context, id string) (*services.QueueItemDetail, error)
	// Bulk executes one operator action against the given targets.
	Bulk(ctx context.Context, action services.BulkAction, ids []string) (services.BulkOutcome, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for the queue and inbound webhooks. It
// depends on abstract service interfaces to keep transport concerns separate
// from business logic.
type Handlers struct {
	enqueueSvc Enqueuer
	adminSvc   QueueAdmin
	webhook    WebhookDeps
}

// New constructs a Handlers instance bound to the given services.
func New(enqueueSvc Enqueuer, adminSvc QueueAdmin, webhook WebhookDeps) *Handlers {
	return &Handlers{enqueueSvc: enqueueSvc, adminSvc: adminSvc, webhook: webhook}
}

//
// DTOs
//

// EnqueueRequest is the JSON payload for queueing an outbound message.
type EnqueueRequest struct {
	// Phone is the destination number in digits-only form.
	Phone string `json:"phone" binding:"required,min=1" example:"5511999990000"`
	// Payload is the provider message body, stored verbatim.
	Payload string `json:"payload" binding:"required,min=1" example:"{\"type\":\"text\",\"text\":\"Your appointment is tomorrow\"}"`
	// IdempotencyKey deduplicates retried submissions when present.
	IdempotencyKey string `json:"idempotency_key,omitempty" example:"7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab"`
}

// EnqueueResponse is the JSON envelope for an accepted message.
type EnqueueResponse struct {
	ID                string `json:"id"`
	InternalMessageID string `json:"internal_message_id"`
	Deduplicated      bool   `json:"deduplicated"`
}

// BulkActionRequest is the JSON payload for operator bulk actions.
type BulkActionRequest struct {
	// Action is one of: process, retry, reprocess, cancel, clear_dead.
	Action string `json:"action" binding:"required" example:"retry"`
	// IDs selects the target rows; required for retry, reprocess and cancel.
	IDs []string `json:"ids,omitempty"`
}

//
// Helpers
//

// clampQueuePagination parses offset/limit query parameters with defaults and
// caps suitable for the operator dashboard.
func clampQueuePagination(c *gin.Context) (offset, limit int) {
	const (
		defaultLimit = 25
		maxLimit     = 200
	)
	offset = utils.ClampOffset(utils.AtoiDefault(c.Query("offset"), 0))
	limit = utils.ClampLimit(utils.AtoiDefault(c.Query("limit"), defaultLimit), defaultLimit, maxLimit)
	return
}

//
// Handlers
//

// Enqueue godoc
// @ID          enqueueMessage
// @Summary     Queue a message for delivery
// @Description Persists a message and triggers a best-effort dispatch pass.
// @Description A repeated idempotency_key replays the original result with 200.
// @Tags        Queue
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.EnqueueRequest  true  "Message to queue"
// @Success     201  {object}  handlers.EnqueueResponse  "Message accepted"
// @Success     200  {object}  handlers.EnqueueResponse  "Idempotent replay"
// @Failure     400  {object}  handlers.ErrorResponse    "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse    "Internal error"
// @Router      /queue [post]
func (h *Handlers) Enqueue(c *gin.Context) {
	ctx := c.Request.Context()

	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "phone and payload required")
		return
	}

	res, err := h.enqueueSvc.Enqueue(ctx, strings.TrimSpace(req.Phone), req.Payload, strings.TrimSpace(req.IdempotencyKey))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyPhone), errors.Is(err, services.ErrInvalidPhone):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "phone must contain digits only")
		case errors.Is(err, services.ErrEmptyPayload):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "payload required")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeEnqueueFailed, err.Error())
		}
		return
	}

	status := http.StatusCreated
	if res.Deduplicated {
		status = http.StatusOK
		c.Header("Idempotency-Replayed", "true")
	}
	ok(c, status, EnqueueResponse{
		ID:                res.QueueItemID,
		InternalMessageID: res.InternalMessageID,
		Deduplicated:      res.Deduplicated,
	})
}

// ListQueue godoc
// @ID          listQueue
// @Summary     List queue items
// @Description Returns a page of queue items (newest first) with aggregate
// @Description per-status counts for the operator dashboard.
// @Tags        Queue
// @Produce     json
// @Param       status  query  string  false  "Filter by status"  Enums(pending, sending, sent, retrying, dead, canceled)
// @Param       offset  query  int     false  "Rows to skip"      minimum(0) default(0)
// @Param       limit   query  int     false  "Page size"         minimum(1) maximum(200) default(25)
// @Success     200  {object}  services.QueueListing
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /queue [get]
func (h *Handlers) ListQueue(c *gin.Context) {
	ctx := c.Request.Context()

	var status *domain.QueueStatus
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		s := domain.QueueStatus(strings.ToLower(raw))
		if !s.Valid() {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown status "+raw)
			return
		}
		status = &s
	}

	offset, limit := clampQueuePagination(c)

	listing, err := h.adminSvc.List(ctx, status, offset, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, listing)
}

// GetQueueItem godoc
// @ID          getQueueItem
// @Summary     Inspect a queue item
// @Description Returns one item with its derived delivery timeline and the
// @Description correlated message log entries.
// @Tags        Queue
// @Produce     json
// @Param       id  path  string  true  "Queue item ID (UUID)"  format(uuid)
// @Success     200  {object}  services.QueueItemDetail
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /queue/{id} [get]
func (h *Handlers) GetQueueItem(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	detail, err := h.adminSvc.Detail(ctx, id)
	if err != nil {
		if errors.Is(err, services.ErrQueueItemNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "queue item not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, detail)
}

// BulkAction godoc
// @ID          queueBulkAction
// @Summary     Run an operator action against the queue
// @Description process runs a dispatch batch; retry and reprocess reset the
// @Description selected rows to pending; cancel withdraws pending/retrying
// @Description rows; clear_dead purges the dead letters.
// @Tags        Queue
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.BulkActionRequest  true  "Action to run"
// @Success     200  {object}  services.BulkOutcome
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /queue/actions [post]
func (h *Handlers) BulkAction(c *gin.Context) {
	ctx := c.Request.Context()

	var req BulkActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "action required")
		return
	}

	action := services.BulkAction(strings.ToLower(strings.TrimSpace(req.Action)))
	outcome, err := h.adminSvc.Bulk(ctx, action, req.IDs)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUnknownAction):
			fail(c, http.StatusBadRequest, ErrCodeUnknownAction, "unknown action "+req.Action)
		case errors.Is(err, services.ErrNoTargets):
			fail(c, http.StatusBadRequest, ErrCodeNoTargets, "ids required for action "+req.Action)
		default:
			fail(c, http.StatusInternalServerError, ErrCodeActionFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, outcome)
}
