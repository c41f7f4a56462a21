package exchange

import "errors"

var (
	// ErrMarketNotFound is returned when an operation references an unknown market id
	ErrMarketNotFound = errors.New("market not found")
	// ErrInvalidOrder is returned for orders rejected before they reach the book
	ErrInvalidOrder = errors.New("invalid order")
	// ErrAlreadyResolved is returned for any mutation of a resolved market
	ErrAlreadyResolved = errors.New("market already resolved")
	// ErrInvalidOutcome is returned when a resolution outcome is not 0 or 1
	ErrInvalidOutcome = errors.New("outcome must be 0 or 1")
	// ErrInvalidMarket is returned when a market cannot be created from the request
	ErrInvalidMarket = errors.New("invalid market")
)
