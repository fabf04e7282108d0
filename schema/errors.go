package schema

import "errors"

var (
	// ErrInvalidBelt indicates a malformed input event.
	ErrInvalidBelt = errors.New("invalid belt")
	// ErrInvalidBlit indicates a malformed display update.
	ErrInvalidBlit = errors.New("invalid blit")
	// ErrInvalidTask indicates a malformed session task.
	ErrInvalidTask = errors.New("invalid task")
	// ErrSessionNotFound indicates a requested session is not known locally.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionStale indicates a session lost its view stream and could not resubscribe.
	ErrSessionStale = errors.New("session is stale")
	// ErrChannelClosed indicates the remote channel was closed.
	ErrChannelClosed = errors.New("channel closed")
	// ErrPokeRejected indicates the remote agent nacked a request.
	ErrPokeRejected = errors.New("poke rejected")
	// ErrSubscriptionRejected indicates the remote agent refused a subscription.
	ErrSubscriptionRejected = errors.New("subscription rejected")
	// ErrInvalidSessionName indicates a malformed session name.
	ErrInvalidSessionName = errors.New("invalid session name")
	// ErrUnauthorized indicates the remote rejected our credentials.
	ErrUnauthorized = errors.New("unauthorized")
)
