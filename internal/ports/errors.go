package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Exchange Specific Errors
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInvalidAPIKeys       = errors.New("invalid API keys or permissions")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrPositionNotFound     = errors.New("position not found on the exchange")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")
	ErrSymbolNotFound       = errors.New("symbol not listed on the exchange")
	ErrNoChangeNeeded       = errors.New("exchange setting already in requested state")

	// ErrExchangeOverloaded is the only retryable exchange condition (-1008).
	ErrExchangeOverloaded = errors.New("exchange is overloaded")
	// ErrExchangeRejected marks every other API-level rejection.
	ErrExchangeRejected = errors.New("exchange rejected the request")

	// Lifecycle Errors
	ErrQuantityTooLow  = errors.New("order quantity below exchange minimum")
	ErrCloseTimeout    = errors.New("position not flat within wait budget")
	ErrUnknownAction   = errors.New("unknown signal action")
	ErrUnknownProfile  = errors.New("unknown profile")
	ErrStaleGeneration = errors.New("position generation superseded")
	ErrAlreadyRealized = errors.New("exit already realized for this generation")
	ErrNoOpenEntry     = errors.New("no open entry to realize")

	// Database Specific Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
)
