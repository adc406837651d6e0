package folio

import "errors"

// Client errors.
var (
	ErrNoSource      = errors.New("folio: no document source configured")
	ErrClientClosed  = errors.New("folio: client is closed")
	ErrEmptyDocument = errors.New("folio: document has no pages")
	ErrInvalidScale  = errors.New("folio: scale must be a positive number")
)
