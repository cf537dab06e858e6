package ledger

import (
	"sync"

	"github.com/blueships/sync/src/payload"
)

// InmemAdapter is a SyncAdapter that records pushes in memory. It is used in
// tests and in standalone mode, where no ledger backend is configured. Push
// results can be scripted to simulate downstream failures.
type InmemAdapter struct {
	sync.Mutex

	pushed  map[string]*payload.ShipmentRecord
	calls   map[string]int
	scripts map[string][]error
}

// NewInmemAdapter creates an empty InmemAdapter.
func NewInmemAdapter() *InmemAdapter {
	return &InmemAdapter{
		pushed:  make(map[string]*payload.ShipmentRecord),
		calls:   make(map[string]int),
		scripts: make(map[string][]error),
	}
}

// Script sets the sequence of results for a transaction id. Calls beyond the
// end of the sequence succeed.
func (a *InmemAdapter) Script(txID string, results ...error) {
	a.Lock()
	defer a.Unlock()

	a.scripts[txID] = results
}

// Push implements SyncAdapter.
func (a *InmemAdapter) Push(txID string, record *payload.ShipmentRecord) error {
	a.Lock()
	defer a.Unlock()

	call := a.calls[txID]
	a.calls[txID] = call + 1

	if script := a.scripts[txID]; call < len(script) {
		if err := script[call]; err != nil {
			return err
		}
	}

	a.pushed[txID] = record

	return nil
}

// Calls returns the number of Push calls recorded for a transaction id.
func (a *InmemAdapter) Calls(txID string) int {
	a.Lock()
	defer a.Unlock()

	return a.calls[txID]
}

// Pushed returns the record pushed for a transaction id, or nil.
func (a *InmemAdapter) Pushed(txID string) *payload.ShipmentRecord {
	a.Lock()
	defer a.Unlock()

	return a.pushed[txID]
}
