// Package signing binds record hashing to the trust store's keys. It is the
// system's sole authenticity mechanism: a record is admitted into the state
// machine only after VerifyRecord passes, and verification is re-applied at
// every party boundary because each hop can be a different physical device.
package signing

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/blueships/sync/src/crypto/keys"
	"github.com/blueships/sync/src/payload"
	"github.com/blueships/sync/src/trust"
)

// SignatureError is an authenticity failure. It always rejects the record and
// is never retried.
type SignatureError struct {
	PartyID string
	Reason  string
}

// Error implements the error interface
func (e SignatureError) Error() string {
	return fmt.Sprintf("signature: %s: %s", e.PartyID, e.Reason)
}

// IsSignature checks whether an error is a SignatureError.
func IsSignature(err error) bool {
	_, ok := err.(SignatureError)
	return ok
}

// Signer signs outgoing records with a party's private key. Derived key forms
// are cached after first use.
type Signer struct {
	Key *ecdsa.PrivateKey

	keyID  uint32
	pubHex string
}

// NewSigner creates a Signer around a private key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		Key: key,
	}
}

// KeyID returns the identifier of the signing key, as carried inside
// signatures.
func (s *Signer) KeyID() uint32 {
	if s.keyID == 0 {
		s.keyID = keys.PublicKeyID(&s.Key.PublicKey)
	}
	return s.keyID
}

// PublicKeyHex returns the signer's public key in hex form, as registered
// with the trust store.
func (s *Signer) PublicKeyHex() string {
	if len(s.pubHex) == 0 {
		s.pubHex = keys.PublicKeyHex(&s.Key.PublicKey)
	}
	return s.pubHex
}

// SignRecord computes the detached signature over the canonical encoding of
// the record body and sets it on the record.
func (s *Signer) SignRecord(record *payload.ShipmentRecord) error {
	hash, err := record.RecordBody.Hash()
	if err != nil {
		return err
	}

	r, sigS, err := keys.Sign(s.Key, hash)
	if err != nil {
		return err
	}

	record.Signature = payload.Signature{
		KeyID: s.KeyID(),
		Algo:  payload.SigAlgo,
		Sig:   keys.EncodeSignature(r, sigS),
	}

	return nil
}

// Verifier verifies record signatures against the trust store.
type Verifier struct {
	trust *trust.Store
}

// NewVerifier creates a Verifier backed by a trust store.
func NewVerifier(trustStore *trust.Store) *Verifier {
	return &Verifier{
		trust: trustStore,
	}
}

// VerifyRecord checks that the record's signature was produced by the
// declared party, resolving the signature's key id through the party's full
// key history. Any failure, including an unregistered party or key, is a
// SignatureError.
func (v *Verifier) VerifyRecord(record *payload.ShipmentRecord, partyID string) error {
	if record.Signature.Algo != payload.SigAlgo {
		return SignatureError{PartyID: partyID, Reason: fmt.Sprintf("unsupported algorithm %q", record.Signature.Algo)}
	}

	pub, err := v.trust.LookupKey(partyID, record.Signature.KeyID)
	if err != nil {
		return SignatureError{PartyID: partyID, Reason: "signing key not registered"}
	}

	r, s, err := keys.DecodeSignature(record.Signature.Sig)
	if err != nil {
		return SignatureError{PartyID: partyID, Reason: "malformed signature"}
	}

	hash, err := record.RecordBody.Hash()
	if err != nil {
		return err
	}

	if !keys.Verify(pub, hash, r, s) {
		return SignatureError{PartyID: partyID, Reason: "signature does not verify"}
	}

	return nil
}
