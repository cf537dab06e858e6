package bridge

import (
	"github.com/blueships/sync/src/state"
	"github.com/blueships/sync/src/trust"
)

// Store is the interface for transaction and party persistence. Transactions
// are never deleted, only marked terminal, so implementations must retain
// every transaction for audit.
type Store interface {
	// GetTransaction retrieves a transaction by id. Implementations return
	// copies; callers never share memory with the store.
	GetTransaction(txID string) (*state.Transaction, error)

	// PutTransaction inserts or updates a transaction.
	PutTransaction(tx *state.Transaction) error

	// TransactionIDs lists the ids of all stored transactions.
	TransactionIDs() []string

	// PutParty persists a registered party.
	PutParty(party trust.Party) error

	// Parties returns all persisted parties.
	Parties() ([]trust.Party, error)

	// StorePath returns the filesystem path of the store, or "" for
	// in-memory stores.
	StorePath() string

	// Close closes the underlying database, if any.
	Close() error
}
