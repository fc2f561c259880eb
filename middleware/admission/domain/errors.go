package domain

import "errors"

// Taxonomia de erros do gateway. A camada HTTP traduz cada um para status + envelope JSON.
var (
	ErrConfigurationMissing    = errors.New("configuration missing")
	ErrMethodNotAllowed        = errors.New("method not allowed")
	ErrMalformedRequest        = errors.New("malformed request")
	ErrPayloadTooLarge         = errors.New("payload too large")
	ErrLimitExceeded           = errors.New("rate limit exceeded")
	ErrBlocked                 = errors.New("ip address is blocked")
	ErrUnauthenticated         = errors.New("authentication required")
	ErrUnverified              = errors.New("verified account required")
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	ErrThreatDetected          = errors.New("malicious input detected")
	ErrSessionInvalid          = errors.New("session invalid")
	ErrSessionNotFound         = errors.New("session not found")
	ErrChallengeRequired       = errors.New("step-up verification required")
	ErrInternal                = errors.New("internal error")
	ErrOverloaded              = errors.New("server overloaded")
	ErrUpstreamUnavailable     = errors.New("upstream unavailable")
)

func IsLimitExceeded(err error) bool { return errors.Is(err, ErrLimitExceeded) }
func IsBlockedError(err error) bool { return errors.Is(err, ErrBlocked) }
func IsUnauthenticated(err error) bool { return errors.Is(err, ErrUnauthenticated) }
func IsThreatDetected(err error) bool { return errors.Is(err, ErrThreatDetected) }
func IsSessionNotFound(err error) bool { return errors.Is(err, ErrSessionNotFound) }
