package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound             = errors.New("entity not found")
	ErrAlreadyExists        = errors.New("entity already exists")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrValidation           = errors.New("payload validation failed")
	ErrSignature            = errors.New("signature verification failed")
	ErrAlreadyProcessed     = errors.New("transaction already processed")
	ErrAmountMismatch       = errors.New("callback amount does not match transaction")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrNotRefundable        = errors.New("transaction is not refundable")
	ErrBindingExpired       = errors.New("card binding session expired")

	// Storage-layer errors
	ErrOperationFailed    = errors.New("storage operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid transaction execution context")
)

// GatewayError is the normalized shape every provider failure is reduced to
// before it crosses the adapter boundary. Raw provider payloads are logged at
// the call site, never carried on the error itself.
type GatewayError struct {
	Gateway    string
	Code       string
	Details    string
	HTTPStatus int
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: code=%s status=%d: %s", e.Gateway, e.Code, e.HTTPStatus, e.Details)
}

// IsAuth reports whether the provider rejected our credentials, which is the
// trigger for the client's single forced token refresh.
func (e *GatewayError) IsAuth() bool {
	return e.HTTPStatus == 401 || e.HTTPStatus == 403
}

// AsGatewayError unwraps err down to a *GatewayError if one is in the chain.
func AsGatewayError(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
