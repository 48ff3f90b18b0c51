// Package services – CallbackService
//
// This file applies inbound provider callbacks to the queue. Callbacks carry
// the provider message ID assigned on a successful send; delivery-status
// updates are recorded on the matching row's log and, for failures, on its
// error field. Callbacks never re-enter the worker state machine: a sent row
// stays sent even when the provider later reports a downstream failure.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/caseflow/go-messaging-backend/internal/repo"
)

// CallbackService correlates provider callbacks with queue rows.
type CallbackService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// NewCallbackService constructs a CallbackService.
func NewCallbackService(db *gorm.DB) *CallbackService {
	return &CallbackService{DB: db}
}

// ApplyStatus records a delivery-status callback for the message the
// transport identified by providerMessageID. Unknown IDs return
// ErrUnknownCallback; the endpoint still acknowledges those so the provider
// stops retrying them.
func (s *CallbackService) ApplyStatus(ctx context.Context, providerMessageID, status, detail string) error {
	item, err := repo.GetByProviderMessageID(ctx, s.DB, providerMessageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUnknownCallback
		}
		return err
	}

	level := "info"
	if status == "failed" {
		level = "warn"
		msg := "provider reported delivery failure"
		if detail != "" {
			msg = detail
		}
		if err := repo.SetCallbackError(ctx, s.DB, item.ID, msg, time.Now().UTC()); err != nil {
			return err
		}
	}

	return repo.AppendLog(ctx, s.DB, item.InternalMessageID, level, "callback",
		"provider status "+status+eventDetailSuffix(detail))
}

func eventDetailSuffix(detail string) string {
	if detail == "" {
		return ""
	}
	return ": " + detail
}
