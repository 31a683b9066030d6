package hub

import (
	"errors"
	"fmt"
)

// Error taxonomy. Protocol, permission, rate-limit and not-found errors leave
// the connection open; auth errors force a close.
var (
	ErrMalformedFrame    = fmt.Errorf("malformed frame")
	ErrUnknownFrameType  = fmt.Errorf("unknown frame type")
	ErrAlreadyAuthed     = fmt.Errorf("connection already authenticated")
	ErrNotAuthenticated  = fmt.Errorf("authentication required")
	ErrInvalidToken      = fmt.Errorf("invalid or expired token")
	ErrNotMember         = fmt.Errorf("not an approved member of this community")
	ErrMissingCommunity  = fmt.Errorf("community does not exist")
	ErrCommunityNotFound = fmt.Errorf("community not found")
	ErrMessageNotFound   = fmt.Errorf("message not found")
	ErrNotInCommunity    = fmt.Errorf("connection is not scoped to a community")
	ErrChatDisabled      = fmt.Errorf("chat is disabled for this community")
	ErrRoleNotAllowed    = fmt.Errorf("role may not send in this chat mode")
	ErrEmptyMessage      = fmt.Errorf("message content must not be empty")
	ErrMessageTooLong    = fmt.Errorf("message content too long")
	ErrSlowmodeActive    = fmt.Errorf("slowmode delay not elapsed")
	ErrEmptyChannel      = fmt.Errorf("channel name must not be empty")
)

// Wire error codes matching the taxonomy.
const (
	CodeProtocolError  = "protocol_error"
	CodeAuthError      = "auth_error"
	CodePermissionErr  = "permission_error"
	CodeRateLimitError = "rate_limit_error"
	CodeNotFound       = "not_found"
	CodeInternalError  = "internal_error"
)

// RateLimitError carries the remaining slowmode wait in whole seconds,
// rounded up.
type RateLimitError struct {
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v: retry in %ds", ErrSlowmodeActive, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrSlowmodeActive }

// errorCode maps an error to its wire code.
func errorCode(err error) string {
	var rl *RateLimitError
	switch {
	case errors.As(err, &rl):
		return CodeRateLimitError
	case errors.Is(err, ErrMalformedFrame),
		errors.Is(err, ErrUnknownFrameType),
		errors.Is(err, ErrAlreadyAuthed),
		errors.Is(err, ErrEmptyChannel),
		errors.Is(err, ErrEmptyMessage),
		errors.Is(err, ErrMessageTooLong):
		return CodeProtocolError
	case errors.Is(err, ErrNotAuthenticated),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrNotMember),
		errors.Is(err, ErrMissingCommunity):
		return CodeAuthError
	case errors.Is(err, ErrCommunityNotFound),
		errors.Is(err, ErrMessageNotFound):
		return CodeNotFound
	case errors.Is(err, ErrChatDisabled),
		errors.Is(err, ErrRoleNotAllowed),
		errors.Is(err, ErrNotInCommunity):
		return CodePermissionErr
	default:
		return CodeInternalError
	}
}

// closesConnection reports whether an error must force-close the connection.
func closesConnection(err error) bool {
	return errorCode(err) == CodeAuthError
}
