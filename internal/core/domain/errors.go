package domain

import "errors"

var (
	// ErrTransient marks failures worth retrying: timeouts, rate limits, 5xx.
	ErrTransient = errors.New("transient failure")

	// ErrPermanent marks failures that will not go away on retry.
	ErrPermanent = errors.New("permanent failure")

	// ErrRetryExhausted is returned when every retry attempt failed transiently.
	ErrRetryExhausted = errors.New("retry exhausted")

	// ErrPartialFetch is returned when a fetch stopped early after yielding some items.
	ErrPartialFetch = errors.New("partial fetch")

	// ErrAnalysisUnavailable is returned when every analysis provider failed.
	ErrAnalysisUnavailable = errors.New("analysis unavailable")

	// ErrAuthExpired is returned when the upstream rejects the session.
	ErrAuthExpired = errors.New("session expired")
)
