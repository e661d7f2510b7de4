package domain

import "errors"

var (
	// ErrEmptyEventType is returned when an event is logged without a type.
	ErrEmptyEventType = errors.New("event type cannot be empty")

	// ErrUninitialized is returned when the tracker is used before Initialize.
	ErrUninitialized = errors.New("tracker is not initialized")

	// ErrStoreBusy marks a transient resource-exhaustion failure in the
	// durable store. Callers treat the operation as deferred and retry on the
	// next trigger; it must never be escalated.
	ErrStoreBusy = errors.New("event store temporarily unavailable")
)
