// Package keys implements the public key cryptography used throughout Blue
// Ships Sync.
//
// Every registered party (shipper, carrier, or receiver) owns a cryptographic
// key-pair. The private key never leaves the party's device; the public key is
// registered with the trust store so that the relay and the receiving side can
// verify signed shipment records.
//
// Keys are ECDSA over the secp256k1 curve, signing SHA256 digests of the
// canonical record encoding.
package keys
