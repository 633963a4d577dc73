package billing

import "errors"

var (
	// ErrSignatureInvalid rejects a delivery whose signature does not match (401).
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	// ErrMalformedEvent marks a body that is not a valid event envelope. Acknowledged.
	ErrMalformedEvent = errors.New("malformed webhook event")
	// ErrMissingUserIdentity marks a completed checkout without metadata.user_id. Acknowledged.
	ErrMissingUserIdentity = errors.New("event carries no user identity")
	// ErrPersistence wraps store failures during reconciliation. Acknowledged, kept for replay.
	ErrPersistence = errors.New("billing persistence failure")
	// ErrConfiguration means a required secret or credential is missing (500).
	ErrConfiguration = errors.New("billing not configured")

	ErrNotFound    = errors.New("billing record not found")
	ErrUnknownPlan = errors.New("unknown plan")
	ErrStaleEvent  = errors.New("event older than last applied event")
)
