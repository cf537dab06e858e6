// Package state implements the transaction lifecycle state machine. A
// Transaction advances CREATED -> CLAIMED -> IN_TRANSIT -> DELIVERED ->
// CONFIRMED, with REJECTED reachable from CREATED or CLAIMED and FAILED
// reachable from IN_TRANSIT or DELIVERED. Out-of-order or duplicate events
// are rejected without mutating the transaction; this is what prevents a
// replayed delivery from resurrecting or double-confirming a shipment.
package state

import (
	"fmt"
	"time"

	"github.com/blueships/sync/src/payload"
)

// IllegalTransitionError reports an event that is not legal from the
// transaction's current state.
type IllegalTransitionError struct {
	TxID  string
	From  Status
	Event string
}

// Error implements the error interface
func (e IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: transaction %s cannot %s from %s", e.TxID, e.Event, e.From)
}

// IsIllegalTransition checks whether an error is an IllegalTransitionError.
func IsIllegalTransition(err error) bool {
	_, ok := err.(IllegalTransitionError)
	return ok
}

// AuditEntry records one state transition. The audit trail is append-only and
// never mutated in place.
type AuditEntry struct {
	Actor  string    `json:"actor"`
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Transaction is the unit of work tracked by the relay. The embedded Record
// is immutable after creation; the authoritative status lives here, not
// inside the signed payload.
type Transaction struct {
	ID               string                  `json:"id"`
	Status           Status                  `json:"status"`
	CarrierID        string                  `json:"carrier_id,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
	LastTransitionAt time.Time               `json:"last_transition_at"`
	Record           *payload.ShipmentRecord `json:"record"`
	Audit            []AuditEntry            `json:"audit"`
}

// NewTransaction creates a Transaction in the Created state from a verified
// record.
func NewTransaction(record *payload.ShipmentRecord) *Transaction {
	now := time.Now().UTC()

	return &Transaction{
		ID:               record.TransactionID,
		Status:           Created,
		CreatedAt:        now,
		LastTransitionAt: now,
		Record:           record,
		Audit: []AuditEntry{
			{Actor: record.ShipperID, From: Created, To: Created, At: now, Reason: "submitted"},
		},
	}
}

// transition applies a state change and appends the corresponding audit
// entry. Callers are responsible for guard checks.
func (t *Transaction) transition(to Status, actor, reason string) {
	now := time.Now().UTC()

	t.Audit = append(t.Audit, AuditEntry{
		Actor:  actor,
		From:   t.Status,
		To:     to,
		At:     now,
		Reason: reason,
	})

	t.Status = to
	t.LastTransitionAt = now
}

// Claim moves Created -> Claimed and records the claiming carrier.
func (t *Transaction) Claim(carrierID string) error {
	if t.Status != Created {
		return IllegalTransitionError{TxID: t.ID, From: t.Status, Event: "claim"}
	}

	t.CarrierID = carrierID
	t.transition(Claimed, carrierID, "carrier claimed")

	return nil
}

// MarkInTransit moves Claimed -> InTransit. Only the claiming carrier may
// confirm pickup.
func (t *Transaction) MarkInTransit(carrierID string) error {
	if t.Status != Claimed || t.CarrierID != carrierID {
		return IllegalTransitionError{TxID: t.ID, From: t.Status, Event: "mark in-transit"}
	}

	t.transition(InTransit, carrierID, "physical pickup confirmed")

	return nil
}

// MarkDelivered moves InTransit -> Delivered. The caller must have
// re-verified the received bytes against the original shipper key first.
func (t *Transaction) MarkDelivered(actor string) error {
	if t.Status != InTransit {
		return IllegalTransitionError{TxID: t.ID, From: t.Status, Event: "deliver"}
	}

	t.transition(Delivered, actor, "received and re-verified")

	return nil
}

// Confirm moves Delivered -> Confirmed after the ledger sync acknowledged.
func (t *Transaction) Confirm(actor string) error {
	if t.Status != Delivered {
		return IllegalTransitionError{TxID: t.ID, From: t.Status, Event: "confirm"}
	}

	t.transition(Confirmed, actor, "ledger sync acknowledged")

	return nil
}

// Fail moves InTransit or Delivered -> Failed.
func (t *Transaction) Fail(actor, reason string) error {
	if t.Status != InTransit && t.Status != Delivered {
		return IllegalTransitionError{TxID: t.ID, From: t.Status, Event: "fail"}
	}

	t.transition(Failed, actor, reason)

	return nil
}

// Reject moves Created or Claimed -> Rejected.
func (t *Transaction) Reject(actor, reason string) error {
	if t.Status != Created && t.Status != Claimed {
		return IllegalTransitionError{TxID: t.ID, From: t.Status, Event: "reject"}
	}

	t.transition(Rejected, actor, reason)

	return nil
}

// Copy returns a deep copy of the transaction, so that readers never observe
// a transaction being mutated.
func (t *Transaction) Copy() *Transaction {
	cp := *t
	cp.Audit = append([]AuditEntry(nil), t.Audit...)

	if t.Record != nil {
		record := *t.Record
		record.PackingSlip.Items = append([]payload.LineItem(nil), t.Record.PackingSlip.Items...)
		cp.Record = &record
	}

	return &cp
}
