package payload

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

/*
Legacy producers emitted variant field names for the same concepts:
"total_weight_kg" instead of "total_weight", and a nested
"bill_of_lading":{"number":...} instead of "bol_number". The decoder accepts
both spellings and normalizes to the canonical names; the encoder only ever
emits canonical names.
*/

type legacyBillOfLading struct {
	Number string `json:"number"`
}

type legacyEnvelope struct {
	BillOfLading  legacyBillOfLading `json:"bill_of_lading"`
	TotalWeightKG float64            `json:"total_weight_kg"`
	PackingSlip   struct {
		TotalWeightKG float64 `json:"total_weight_kg"`
	} `json:"packing_slip"`
}

// Decode parses the wire encoding of a ShipmentRecord, maps legacy field
// names to their canonical equivalents, and performs full structural
// validation. Any violation yields a ValidationError naming the offending
// field.
func Decode(data []byte) (*ShipmentRecord, error) {
	record := new(ShipmentRecord)

	jh := new(codec.JsonHandle)
	jh.Canonical = true

	dec := codec.NewDecoder(bytes.NewBuffer(data), jh)
	if err := dec.Decode(record); err != nil {
		return nil, NewValidationError("payload", "malformed encoding")
	}

	legacy := new(legacyEnvelope)
	dec = codec.NewDecoder(bytes.NewBuffer(data), jh)
	if err := dec.Decode(legacy); err == nil {
		if record.BOLNumber == "" && legacy.BillOfLading.Number != "" {
			record.BOLNumber = legacy.BillOfLading.Number
		}
		if record.PackingSlip.TotalWeight == 0 && legacy.PackingSlip.TotalWeightKG != 0 {
			record.PackingSlip.TotalWeight = legacy.PackingSlip.TotalWeightKG
		}
	}

	if err := record.RecordBody.Validate(); err != nil {
		return nil, err
	}

	return record, nil
}

// Encode returns the wire encoding of a ShipmentRecord after validating it.
func Encode(record *ShipmentRecord) ([]byte, error) {
	if err := record.RecordBody.Validate(); err != nil {
		return nil, err
	}
	return record.Marshal()
}
