// Package services defines the business logic for ingestion: the sync
// engine reconciling gateway data into the store, and the webhook intake
// that feeds single events through the same path. This file centralizes
// common service-level error values so that they can be consistently
// returned by service methods and checked by callers.
//
// Only configuration-class errors below abort an operation outright; fetch
// and upsert failures during a sync run are accumulated into the SyncReport
// instead of being raised.
package services

import "errors"

// Configuration errors. These indicate the caller wired the service wrong
// and are returned before any I/O happens.
var (
	// ErrMissingInstance is returned when an operation is invoked without
	// an integration instance id.
	ErrMissingInstance = errors.New("integration instance id is required")

	// ErrMissingAccount is returned when the service was constructed
	// without an owning account id.
	ErrMissingAccount = errors.New("account id is required")

	// ErrMissingGateway is returned when the service was constructed
	// without a gateway client.
	ErrMissingGateway = errors.New("gateway client is required")
)

// Intake errors.
var (
	// ErrMissingMessageID is returned when a webhook event's payload lacks
	// the gateway message id needed for idempotent processing.
	ErrMissingMessageID = errors.New("event payload has no message id")
)
