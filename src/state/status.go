package state

// Status captures the lifecycle state of a shipment transaction: Created,
// Claimed, InTransit, Delivered, Confirmed, Rejected or Failed.
type Status uint32

const (
	// Created is the initial state, entered when the relay accepts a validly
	// signed record from a shipper.
	Created Status = iota

	// Claimed means a carrier has taken custody of the transaction.
	Claimed

	// InTransit means the carrier confirmed physical pickup.
	InTransit

	// Delivered means the receiver-side transport produced bytes that
	// re-verified against the original shipper key.
	Delivered

	// Confirmed means the downstream ledger sync acknowledged the delivery.
	// Terminal.
	Confirmed

	// Rejected means validation or signature verification failed before the
	// shipment left the ground. Terminal.
	Rejected

	// Failed means the ledger sync exhausted its retries after delivery.
	// Terminal.
	Failed
)

// String returns the string representation of a Status
func (s Status) String() string {
	switch s {
	case Created:
		return "CREATED"
	case Claimed:
		return "CLAIMED"
	case InTransit:
		return "IN_TRANSIT"
	case Delivered:
		return "DELIVERED"
	case Confirmed:
		return "CONFIRMED"
	case Rejected:
		return "REJECTED"
	case Failed:
		return "FAILED"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case Confirmed, Rejected, Failed:
		return true
	}
	return false
}
