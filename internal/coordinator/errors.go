package coordinator

import "errors"

var (
	// ErrThresholdUnavailable means fewer than k workers were ready at
	// round start. Fatal to the round, retryable once workers recover.
	ErrThresholdUnavailable = errors.New("threshold unavailable")
	// ErrThresholdNotMet means a round started but too few valid
	// responses arrived. Retryable with a different worker subset.
	ErrThresholdNotMet = errors.New("threshold not met")
	// ErrVerificationFailed means the combined transcript does not
	// satisfy the verification equation. Reported, never retried.
	ErrVerificationFailed = errors.New("verification failed")
	// ErrSessionNotFound covers unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired covers sessions past their deadline.
	ErrSessionExpired = errors.New("session expired")
	// ErrNotBlind rejects blind operations on a plain session.
	ErrNotBlind = errors.New("session has no witness commitment")
)
