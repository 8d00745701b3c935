package app

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidID rejects malformed identifiers before any storage access.
	ErrInvalidID = errors.New("invalid id")

	ErrEntryNotFound    = errors.New("entry not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrChatNotFound     = errors.New("chat not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrImageNotFound    = errors.New("image not found")
	ErrQuoteNotFound    = errors.New("quote not found")

	// ErrForbidden means the record exists but belongs to someone else.
	ErrForbidden         = errors.New("forbidden")
	ErrMessageCapReached = errors.New("daily message limit reached")
	ErrDocumentLimit     = errors.New("document limit reached for this entry")
	// ErrUpstream wraps failures of the model, Placid, quotes or scripture APIs.
	ErrUpstream = errors.New("upstream service unavailable")
)
