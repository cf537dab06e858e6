package bridge

import (
	"bytes"
	"fmt"
	"os"

	cm "github.com/blueships/sync/src/common"
	"github.com/blueships/sync/src/state"
	"github.com/blueships/sync/src/trust"
	"github.com/dgraph-io/badger"
	"github.com/ugorji/go/codec"
)

const (
	transactionPrefix = "tx"
	partyPrefix       = "party"
)

// BadgerStore implements the Store interface with a Badger database behind a
// write-through InmemStore. Reads are served from memory; every write lands
// in both.
type BadgerStore struct {
	inmemStore *InmemStore
	db         *badger.DB
	path       string
}

// NewBadgerStore creates a BadgerStore with a new database.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = false
	opts.Logger = nil
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{
		inmemStore: NewInmemStore(),
		db:         handle,
		path:       path,
	}

	return store, nil
}

// LoadBadgerStore creates a BadgerStore from an existing database and loads
// all persisted transactions and parties into the in-memory layer.
func LoadBadgerStore(path string) (*BadgerStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	store, err := NewBadgerStore(path)
	if err != nil {
		return nil, err
	}

	if err := store.bootstrap(); err != nil {
		store.Close()
		return nil, err
	}

	return store, nil
}

// LoadOrCreateBadgerStore tries to load an existing database and falls back
// to creating a new one.
func LoadOrCreateBadgerStore(path string) (*BadgerStore, error) {
	store, err := LoadBadgerStore(path)

	if err != nil {
		store, err = NewBadgerStore(path)

		if err != nil {
			return nil, err
		}
	}

	return store, nil
}

//==============================================================================
//Keys

func transactionKey(txID string) []byte {
	return []byte(fmt.Sprintf("%s_%s", transactionPrefix, txID))
}

func partyKey(partyID string) []byte {
	return []byte(fmt.Sprintf("%s_%s", partyPrefix, partyID))
}

//==============================================================================
//Marshalling

func marshalItem(item interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(buf, jh)

	if err := enc.Encode(item); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func unmarshalItem(data []byte, item interface{}) error {
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(bytes.NewBuffer(data), jh)

	return dec.Decode(item)
}

//==============================================================================
//Store interface

// GetTransaction implements the Store interface. Reads come from the
// in-memory layer, which holds everything the database holds.
func (s *BadgerStore) GetTransaction(txID string) (*state.Transaction, error) {
	return s.inmemStore.GetTransaction(txID)
}

// PutTransaction implements the Store interface.
func (s *BadgerStore) PutTransaction(tx *state.Transaction) error {
	if err := s.inmemStore.PutTransaction(tx); err != nil {
		return err
	}
	return s.dbSetTransaction(tx)
}

// TransactionIDs implements the Store interface.
func (s *BadgerStore) TransactionIDs() []string {
	return s.inmemStore.TransactionIDs()
}

// PutParty implements the Store interface.
func (s *BadgerStore) PutParty(party trust.Party) error {
	if err := s.inmemStore.PutParty(party); err != nil {
		return err
	}
	return s.dbSetParty(party)
}

// Parties implements the Store interface.
func (s *BadgerStore) Parties() ([]trust.Party, error) {
	return s.inmemStore.Parties()
}

// StorePath implements the Store interface.
func (s *BadgerStore) StorePath() string {
	return s.path
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

//==============================================================================
//DB Methods

func (s *BadgerStore) dbSetTransaction(tx *state.Transaction) error {
	val, err := marshalItem(tx)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(transactionKey(tx.ID), val)
	})
}

func (s *BadgerStore) dbSetParty(party trust.Party) error {
	val, err := marshalItem(party)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(partyKey(party.ID), val)
	})
}

func (s *BadgerStore) dbGetTransaction(txID string) (*state.Transaction, error) {
	var txBytes []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(transactionKey(txID))
		if err != nil {
			return err
		}
		txBytes, err = item.ValueCopy(nil)
		return err
	})

	if err != nil {
		if isDBKeyNotFound(err) {
			return nil, cm.NewStoreErr("transaction", cm.KeyNotFound, txID)
		}
		return nil, err
	}

	tx := new(state.Transaction)
	if err := unmarshalItem(txBytes, tx); err != nil {
		return nil, err
	}

	return tx, nil
}

// bootstrap replays the whole database into the in-memory layer.
func (s *BadgerStore) bootstrap() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		txPrefix := []byte(transactionPrefix + "_")
		for it.Seek(txPrefix); it.ValidForPrefix(txPrefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}

			tx := new(state.Transaction)
			if err := unmarshalItem(val, tx); err != nil {
				return err
			}

			if err := s.inmemStore.PutTransaction(tx); err != nil {
				return err
			}
		}

		pPrefix := []byte(partyPrefix + "_")
		for it.Seek(pPrefix); it.ValidForPrefix(pPrefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}

			party := new(trust.Party)
			if err := unmarshalItem(val, party); err != nil {
				return err
			}

			if err := s.inmemStore.PutParty(*party); err != nil {
				return err
			}
		}

		return nil
	})
}

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}
