package errors

import "errors"

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedModel indicates that a model id has no precise tokenizer
	ErrUnsupportedModel = errors.New("unsupported model")

	// ErrDecodeUnsupported indicates that the tokenizer cannot map ids back to text
	ErrDecodeUnsupported = errors.New("decode not supported")

	// ErrProviderFailure indicates that the tokenizer failed internally
	ErrProviderFailure = errors.New("tokenizer provider failure")

	// ErrClipboardUnavailable indicates that no clipboard is reachable on this host
	ErrClipboardUnavailable = errors.New("clipboard unavailable")

	// ErrClosed indicates an operation on a closed session
	ErrClosed = errors.New("session closed")

	// ErrRateLimited indicates a client exceeded its request budget
	ErrRateLimited = errors.New("rate limit exceeded")
)
