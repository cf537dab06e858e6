// Package trust implements the registry of parties and their public keys.
//
// Every party involved in a handshake (shipper, carrier, receiver) must be
// registered before the relay accepts anything from it. Keys are immutable
// once registered; rotation is modeled by appending a new key to the party's
// key history, so that records signed under an old key remain verifiable.
package trust

import (
	"crypto/ecdsa"
	"fmt"
	"sync"
	"time"

	"github.com/blueships/sync/src/common"
	"github.com/blueships/sync/src/crypto/keys"
)

// Role is the function a party plays in the handshake.
type Role string

// Allowed roles.
const (
	RoleShipper  Role = "shipper"
	RoleCarrier  Role = "carrier"
	RoleReceiver Role = "receiver"
)

// ParseRole converts a string to a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleShipper, RoleCarrier, RoleReceiver:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role: %q", s)
}

// PartyKey is one entry in a party's key history. ID is derived from the
// public key bytes and is the identifier carried inside signatures.
type PartyKey struct {
	ID        uint32    `json:"id"`
	PubKeyHex string    `json:"pub_key_hex"`
	AddedAt   time.Time `json:"added_at"`
}

// Party is a registered participant. Keys is append-only; the last entry is
// the current key.
type Party struct {
	ID           string     `json:"id"`
	Role         Role       `json:"role"`
	Keys         []PartyKey `json:"keys"`
	RegisteredAt time.Time  `json:"registered_at"`
}

// NewParty creates a Party with a single key parsed from its hex form.
func NewParty(id string, role Role, pubKeyHex string) (*Party, error) {
	key, err := newPartyKey(pubKeyHex)
	if err != nil {
		return nil, err
	}

	return &Party{
		ID:           id,
		Role:         role,
		Keys:         []PartyKey{key},
		RegisteredAt: time.Now().UTC(),
	}, nil
}

func newPartyKey(pubKeyHex string) (PartyKey, error) {
	pub, err := keys.ParsePublicKeyHex(pubKeyHex)
	if err != nil || pub == nil || pub.X == nil {
		return PartyKey{}, fmt.Errorf("invalid public key %q", pubKeyHex)
	}

	return PartyKey{
		ID:        keys.PublicKeyID(pub),
		PubKeyHex: pubKeyHex,
		AddedAt:   time.Now().UTC(),
	}, nil
}

// CurrentKey returns the party's latest key.
func (p *Party) CurrentKey() PartyKey {
	return p.Keys[len(p.Keys)-1]
}

// Key returns the party's key with the given id, searching the whole history.
func (p *Party) Key(keyID uint32) (PartyKey, bool) {
	for _, k := range p.Keys {
		if k.ID == keyID {
			return k, true
		}
	}
	return PartyKey{}, false
}

// Store holds the registered parties. It is read-mostly: once a party is
// registered, lookups proceed concurrently under a read lock.
type Store struct {
	sync.RWMutex
	parties map[string]*Party
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		parties: make(map[string]*Party),
	}
}

// Register adds a new party. Registering an id twice is an error; key
// rotation goes through AddKey.
func (s *Store) Register(party *Party) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.parties[party.ID]; ok {
		return common.NewStoreErr("party", common.KeyAlreadyExists, party.ID)
	}

	s.parties[party.ID] = party

	return nil
}

// AddKey appends a new key to a party's history. Existing keys are never
// overwritten.
func (s *Store) AddKey(partyID string, pubKeyHex string) error {
	s.Lock()
	defer s.Unlock()

	party, ok := s.parties[partyID]
	if !ok {
		return common.NewStoreErr("party", common.KeyNotFound, partyID)
	}

	key, err := newPartyKey(pubKeyHex)
	if err != nil {
		return err
	}

	party.Keys = append(party.Keys, key)

	return nil
}

// Get returns a copy of the registered party.
func (s *Store) Get(partyID string) (Party, error) {
	s.RLock()
	defer s.RUnlock()

	party, ok := s.parties[partyID]
	if !ok {
		return Party{}, common.NewStoreErr("party", common.KeyNotFound, partyID)
	}

	res := *party
	res.Keys = append([]PartyKey(nil), party.Keys...)

	return res, nil
}

// Lookup returns the party's current public key.
func (s *Store) Lookup(partyID string) (*ecdsa.PublicKey, error) {
	s.RLock()
	defer s.RUnlock()

	party, ok := s.parties[partyID]
	if !ok {
		return nil, common.NewStoreErr("party", common.KeyNotFound, partyID)
	}

	return keys.ParsePublicKeyHex(party.CurrentKey().PubKeyHex)
}

// LookupKey returns the party's public key with the given key id, searching
// the full key history so that rotated-out keys stay verifiable.
func (s *Store) LookupKey(partyID string, keyID uint32) (*ecdsa.PublicKey, error) {
	s.RLock()
	defer s.RUnlock()

	party, ok := s.parties[partyID]
	if !ok {
		return nil, common.NewStoreErr("party", common.KeyNotFound, partyID)
	}

	key, ok := party.Key(keyID)
	if !ok {
		return nil, common.NewStoreErr("party key", common.KeyNotFound, fmt.Sprintf("%s/%d", partyID, keyID))
	}

	return keys.ParsePublicKeyHex(key.PubKeyHex)
}

// Parties returns a copy of all registered parties.
func (s *Store) Parties() []Party {
	s.RLock()
	defer s.RUnlock()

	res := make([]Party, 0, len(s.parties))
	for _, p := range s.parties {
		cp := *p
		cp.Keys = append([]PartyKey(nil), p.Keys...)
		res = append(res, cp)
	}

	return res
}
