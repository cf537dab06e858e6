// Package ledger defines the contract between the relay and the downstream
// enterprise system of record. The relay pushes every delivered shipment to a
// SyncAdapter; retryable failures are retried with bounded backoff, fatal
// failures mark the transaction FAILED for manual reconciliation.
package ledger

import (
	"fmt"

	"github.com/blueships/sync/src/payload"
)

// SyncAdapter is implemented by ledger integrations. Push must be safe to
// call again for the same transaction id after a retryable error.
type SyncAdapter interface {
	Push(txID string, record *payload.ShipmentRecord) error
}

// RetryableError signals a transient downstream failure. The relay retries
// these up to its configured attempt count.
type RetryableError struct {
	Cause error
}

// Error implements the error interface
func (e RetryableError) Error() string {
	return fmt.Sprintf("ledger sync (retryable): %v", e.Cause)
}

// FatalError signals a permanent downstream failure. The relay does not retry
// and marks the transaction FAILED.
type FatalError struct {
	Cause error
}

// Error implements the error interface
func (e FatalError) Error() string {
	return fmt.Sprintf("ledger sync (fatal): %v", e.Cause)
}

// IsRetryable checks whether an error is a RetryableError.
func IsRetryable(err error) bool {
	_, ok := err.(RetryableError)
	return ok
}
