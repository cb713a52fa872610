package domain

import "errors"

// Typed failures surfaced to callers of the service layer. Handlers map
// these onto HTTP status codes; everything else is treated as a storage
// fault and reported as a generic internal error.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrOutOfStock         = errors.New("no copies available")
	ErrInvalidDuration    = errors.New("loan duration out of range")
	ErrAlreadyReturned    = errors.New("record already returned")
	ErrDuplicateHold      = errors.New("user already holds this book")
	ErrHasOpenBorrows     = errors.New("open borrow records exist")
	ErrISBNExists         = errors.New("isbn already exists")
	ErrUsernameExists     = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrQuantityTooLow     = errors.New("quantity below borrowed count")
	ErrSelfDelete         = errors.New("cannot delete own account")
)
