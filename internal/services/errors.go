// Package services implements the business logic of the outbound message
// queue: idempotent enqueueing, batch dispatch with retry/backoff, operator
// recovery actions, and provider callback handling.
//
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers. Mapping to
// HTTP statuses happens at the handler layer.
package services

import "errors"

var (
	// ErrQueueItemNotFound indicates that the requested queue row does not exist.
	ErrQueueItemNotFound = errors.New("queue item not found")

	// ErrEmptyPhone is returned when an enqueue request carries no destination.
	ErrEmptyPhone = errors.New("phone is empty")

	// ErrInvalidPhone is returned when the destination contains anything but digits.
	ErrInvalidPhone = errors.New("phone must contain digits only")

	// ErrEmptyPayload is returned when an enqueue request carries no content.
	ErrEmptyPayload = errors.New("payload is empty")

	// ErrUnknownAction is returned when a bulk request names an action outside
	// the closed action set.
	ErrUnknownAction = errors.New("unknown bulk action")

	// ErrNoTargets is returned when a bulk action that needs explicit targets
	// is invoked with an empty id list.
	ErrNoTargets = errors.New("no target ids supplied")

	// ErrUnknownCallback indicates a provider callback referenced a message
	// this queue never sent.
	ErrUnknownCallback = errors.New("callback references unknown provider message id")
)
