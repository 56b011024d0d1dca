package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrInvalidArgument = errors.New("invalid argument")

	// Subscription lifecycle errors
	ErrDuplicateActiveSubscription = errors.New("user already has a live subscription for this course")
	ErrCapacityExceeded            = errors.New("course has no free seats")
	ErrInvalidTransition           = errors.New("state transition not allowed")
	ErrAlreadyCancelled            = errors.New("subscription is already cancelled")

	// Payment lifecycle errors
	ErrAlreadyPaid      = errors.New("subscription already has a successful payment")
	ErrAlreadyFinalized = errors.New("payment is already finalized")

	// Gateway errors. Unavailable is transient and retryable; Rejected is a
	// definitive refusal from the provider.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment gateway rejected the request")
	ErrInvalidSignature   = errors.New("webhook signature verification failed")

	// Notifier errors
	ErrDeliveryFailed = errors.New("notification delivery failed")

	// Infra-level errors surfaced by repositories
	ErrOperationFailed    = errors.New("storage operation failed")
	ErrInvalidExecContext = errors.New("invalid query execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)
