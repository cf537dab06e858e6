package bridge

import (
	"sort"
	"sync"

	cm "github.com/blueships/sync/src/common"
	"github.com/blueships/sync/src/state"
	"github.com/blueships/sync/src/trust"
)

// InmemStore implements the Store interface with plain maps. Unlike a cache,
// it holds every transaction for the lifetime of the process; transactions
// are retained for audit even after reaching a terminal state.
type InmemStore struct {
	sync.RWMutex

	transactions map[string]*state.Transaction
	parties      map[string]trust.Party
}

// NewInmemStore creates an empty InmemStore.
func NewInmemStore() *InmemStore {
	return &InmemStore{
		transactions: make(map[string]*state.Transaction),
		parties:      make(map[string]trust.Party),
	}
}

// GetTransaction implements the Store interface.
func (s *InmemStore) GetTransaction(txID string) (*state.Transaction, error) {
	s.RLock()
	defer s.RUnlock()

	tx, ok := s.transactions[txID]
	if !ok {
		return nil, cm.NewStoreErr("transaction", cm.KeyNotFound, txID)
	}

	return tx.Copy(), nil
}

// PutTransaction implements the Store interface.
func (s *InmemStore) PutTransaction(tx *state.Transaction) error {
	s.Lock()
	defer s.Unlock()

	s.transactions[tx.ID] = tx.Copy()

	return nil
}

// TransactionIDs implements the Store interface.
func (s *InmemStore) TransactionIDs() []string {
	s.RLock()
	defer s.RUnlock()

	ids := make([]string, 0, len(s.transactions))
	for id := range s.transactions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// PutParty implements the Store interface.
func (s *InmemStore) PutParty(party trust.Party) error {
	s.Lock()
	defer s.Unlock()

	s.parties[party.ID] = party

	return nil
}

// Parties implements the Store interface.
func (s *InmemStore) Parties() ([]trust.Party, error) {
	s.RLock()
	defer s.RUnlock()

	res := make([]trust.Party, 0, len(s.parties))
	for _, p := range s.parties {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })

	return res, nil
}

// StorePath implements the Store interface.
func (s *InmemStore) StorePath() string {
	return ""
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}
