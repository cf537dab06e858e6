package payload

import (
	"bytes"

	"github.com/blueships/sync/src/crypto"
	"github.com/ugorji/go/codec"
)

// TransitType is the mode of transport declared on the shipping document.
type TransitType string

// Allowed transit types.
const (
	TransitTruck TransitType = "truck"
	TransitShip  TransitType = "ship"
	TransitRail  TransitType = "rail"
	TransitAir   TransitType = "air"
)

// SigAlgo is the algorithm tag carried inside signatures. It is the only
// scheme currently produced or accepted.
const SigAlgo = "ECDSA-SECP256K1-SHA256"

// LineItem is a single entry of the packing slip.
type LineItem struct {
	SKU         string  `json:"sku"`
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	Weight      float64 `json:"weight"`
}

// PackingSlip is the manifest of the shipment. TotalWeight is declared by the
// producer and checked against the sum of item weights at decode time.
type PackingSlip struct {
	Items       []LineItem `json:"items"`
	TotalWeight float64    `json:"total_weight"`
}

// BatchDetails carries traceability information. Dates use the 2006-01-02
// layout.
type BatchDetails struct {
	BatchID         string `json:"batch_id"`
	ManufactureDate string `json:"manufacture_date"`
	ExpiryDate      string `json:"expiry_date"`
}

// CommercialInvoice carries the commercial terms of the shipment.
type CommercialInvoice struct {
	Number     string  `json:"number"`
	TotalValue float64 `json:"total_value"`
	Currency   string  `json:"currency"`
}

// RecordBody contains all the signed fields of a shipment record. The Status
// and Timestamp fields are advisory display values; the authoritative status
// of a shipment lives on the relay's Transaction, so that the shipper's
// signature stays valid across hops without re-signing.
type RecordBody struct {
	TransactionID     string            `json:"transaction_id"`
	Status            string            `json:"status"`
	Timestamp         string            `json:"timestamp"`
	Location          string            `json:"location"`
	PackingSlip       PackingSlip       `json:"packing_slip"`
	BOLNumber         string            `json:"bol_number"`
	BatchDetails      BatchDetails      `json:"batch_details"`
	CommercialInvoice CommercialInvoice `json:"commercial_invoice"`
	PalletCount       int               `json:"pallet_count"`
	TransitType       TransitType       `json:"transit_type"`
	ShipperID         string            `json:"shipper_erp_id"`
	ReceiverID        string            `json:"receiver_erp_id"`
	CarrierID         string            `json:"carrier_erp_id"`
}

// Signature is the detached signature of a RecordBody. KeyID identifies which
// of the signer's registered keys was used, so that records signed under a
// rotated-out key remain verifiable.
type Signature struct {
	KeyID uint32 `json:"key_id"`
	Algo  string `json:"algo"`
	Sig   string `json:"sig"`
}

// ShipmentRecord is the signed artifact that travels from shipper to receiver.
// The signature covers the canonical encoding of the embedded RecordBody only.
type ShipmentRecord struct {
	RecordBody
	Signature Signature `json:"digital_signature"`
}

// Marshal returns the canonical encoding of the RecordBody. Two equal bodies
// always produce identical bytes; this is what the signature is computed over.
func (b *RecordBody) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(buf, jh)

	if err := enc.Encode(b); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal converts a canonical encoding back to a RecordBody.
func (b *RecordBody) Unmarshal(data []byte) error {
	buf := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(buf, jh)

	if err := dec.Decode(b); err != nil {
		return err
	}

	return nil
}

// Hash returns the SHA256 hash of the canonical encoding of the RecordBody.
// This is the digest that gets signed.
func (b *RecordBody) Hash() ([]byte, error) {
	hashBytes, err := b.Marshal()
	if err != nil {
		return nil, err
	}
	return crypto.SHA256(hashBytes), nil
}

// Marshal returns the wire encoding of the full record, signature included.
func (r *ShipmentRecord) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(buf, jh)

	if err := enc.Encode(r); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
