package bridge

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	cm "github.com/blueships/sync/src/common"
	"github.com/blueships/sync/src/crypto/keys"
	"github.com/blueships/sync/src/ledger"
	"github.com/blueships/sync/src/payload"
	"github.com/blueships/sync/src/signing"
	"github.com/blueships/sync/src/state"
	"github.com/blueships/sync/src/transport"
	"github.com/blueships/sync/src/trust"
)

const (
	testShipperID  = "SYTELINE-OH-001"
	testCarrierID  = "CARRIER-TRK-042"
	testReceiverID = "SAP-OH-009"
)

var errBroker = errors.New("broker unreachable")

type fixture struct {
	bridge  *Bridge
	adapter *ledger.InmemAdapter
	shipper *signing.Signer
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithAdapter(t, ledger.NewInmemAdapter())
}

func newFixtureWithAdapter(t *testing.T, adapter ledger.SyncAdapter) *fixture {
	t.Helper()

	trustStore := trust.NewStore()

	opts := DefaultOptions()
	opts.LedgerBackoff = time.Millisecond
	opts.LockTimeout = 100 * time.Millisecond

	b := NewBridge(NewInmemStore(), trustStore, adapter, opts, cm.NewTestEntry(t, "bridge"))

	shipperKey, _ := keys.GenerateECDSAKey()
	carrierKey, _ := keys.GenerateECDSAKey()
	receiverKey, _ := keys.GenerateECDSAKey()

	register := func(id string, role trust.Role, hex string) {
		party, err := trust.NewParty(id, role, hex)
		if err != nil {
			t.Fatal(err)
		}
		if err := b.RegisterParty(party); err != nil {
			t.Fatal(err)
		}
	}

	register(testShipperID, trust.RoleShipper, keys.PublicKeyHex(&shipperKey.PublicKey))
	register(testCarrierID, trust.RoleCarrier, keys.PublicKeyHex(&carrierKey.PublicKey))
	register(testReceiverID, trust.RoleReceiver, keys.PublicKeyHex(&receiverKey.PublicKey))

	f := &fixture{
		bridge:  b,
		shipper: signing.NewSigner(shipperKey),
	}
	if inmem, ok := adapter.(*ledger.InmemAdapter); ok {
		f.adapter = inmem
	}

	return f
}

func (f *fixture) signedRecord(t *testing.T, txID string) *payload.ShipmentRecord {
	t.Helper()

	record := &payload.ShipmentRecord{
		RecordBody: payload.RecordBody{
			TransactionID: txID,
			Status:        "CREATED",
			Timestamp:     "2023-08-20T14:00:00Z",
			Location:      "Westerville, OH",
			PackingSlip: payload.PackingSlip{
				Items: []payload.LineItem{
					{SKU: "A1001", Description: "Blue Widget", Quantity: 25, Weight: 0.5},
				},
				TotalWeight: 12.5,
			},
			BOLNumber: "BOL-998877",
			BatchDetails: payload.BatchDetails{
				BatchID:         "BATCH-2308-01",
				ManufactureDate: "2023-08-15",
				ExpiryDate:      "2025-08-14",
			},
			CommercialInvoice: payload.CommercialInvoice{
				Number:     "INV-556677",
				TotalValue: 18500,
				Currency:   "USD",
			},
			PalletCount: 4,
			TransitType: payload.TransitTruck,
			ShipperID:   testShipperID,
			ReceiverID:  testReceiverID,
		},
	}

	if err := f.shipper.SignRecord(record); err != nil {
		t.Fatal(err)
	}

	return record
}

func (f *fixture) encoded(t *testing.T, txID string) []byte {
	t.Helper()

	raw, err := payload.Encode(f.signedRecord(t, txID))
	if err != nil {
		t.Fatal(err)
	}

	return raw
}

// deliverable walks a fresh transaction to IN_TRANSIT and returns its wire
// encoding for the delivery leg.
func (f *fixture) deliverable(t *testing.T, txID string) []byte {
	t.Helper()

	raw := f.encoded(t, txID)

	if _, err := f.bridge.Submit(raw); err != nil {
		t.Fatal(err)
	}
	if _, err := f.bridge.Claim(txID, testCarrierID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.bridge.MarkInTransit(txID, testCarrierID); err != nil {
		t.Fatal(err)
	}

	return raw
}

func TestHappyPath(t *testing.T) {
	f := newFixture(t)

	raw := f.deliverable(t, "TX-2001")

	tx, err := f.bridge.Deliver("TX-2001", raw)
	if err != nil {
		t.Fatal(err)
	}
	if tx.Status != state.Delivered {
		t.Fatalf("expected DELIVERED, got %s", tx.Status)
	}

	f.bridge.WaitLedgerSync()

	tx, err = f.bridge.GetStatus("TX-2001")
	if err != nil {
		t.Fatal(err)
	}
	if tx.Status != state.Confirmed {
		t.Fatalf("expected CONFIRMED, got %s", tx.Status)
	}

	if f.adapter.Calls("TX-2001") != 1 {
		t.Fatalf("expected 1 ledger push, got %d", f.adapter.Calls("TX-2001"))
	}
	if f.adapter.Pushed("TX-2001") == nil {
		t.Fatal("ledger adapter did not receive the record")
	}

	confirmations := 0
	for _, entry := range tx.Audit {
		if entry.From == state.Delivered && entry.To == state.Confirmed {
			confirmations++
		}
	}
	if confirmations != 1 {
		t.Fatalf("expected exactly one DELIVERED->CONFIRMED audit entry, got %d", confirmations)
	}
}

func TestResubmitIdempotent(t *testing.T) {
	f := newFixture(t)

	raw := f.encoded(t, "TX-2002")

	id1, err := f.bridge.Submit(raw)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := f.bridge.Submit(raw)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("resubmission returned a different id: %s vs %s", id1, id2)
	}

	tx, _ := f.bridge.GetStatus(id1)
	if len(tx.Audit) != 1 {
		t.Fatalf("resubmission must not grow the audit trail, got %d entries", len(tx.Audit))
	}
}

func TestConflictingResubmitRejected(t *testing.T) {
	f := newFixture(t)

	if _, err := f.bridge.Submit(f.encoded(t, "TX-2003")); err != nil {
		t.Fatal(err)
	}

	conflicting := f.signedRecord(t, "TX-2003")
	conflicting.PalletCount = 9
	if err := f.shipper.SignRecord(conflicting); err != nil {
		t.Fatal(err)
	}
	raw, _ := payload.Encode(conflicting)

	_, err := f.bridge.Submit(raw)
	if !cm.IsStore(err, cm.KeyAlreadyExists) {
		t.Fatalf("expected KeyAlreadyExists, got %v", err)
	}
}

func TestSubmitUnregisteredShipper(t *testing.T) {
	f := newFixture(t)

	rogueKey, _ := keys.GenerateECDSAKey()
	rogue := signing.NewSigner(rogueKey)

	record := f.signedRecord(t, "TX-2004")
	if err := rogue.SignRecord(record); err != nil {
		t.Fatal(err)
	}
	raw, _ := payload.Encode(record)

	_, err := f.bridge.Submit(raw)
	if !signing.IsSignature(err) {
		t.Fatalf("expected SignatureError, got %v", err)
	}

	if _, err := f.bridge.GetStatus("TX-2004"); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("rejected submission must not be stored, got %v", err)
	}
}

func TestDoubleClaim(t *testing.T) {
	f := newFixture(t)

	otherKey, _ := keys.GenerateECDSAKey()
	other, err := trust.NewParty("CARRIER-TRK-099", trust.RoleCarrier, keys.PublicKeyHex(&otherKey.PublicKey))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.bridge.RegisterParty(other); err != nil {
		t.Fatal(err)
	}

	if _, err := f.bridge.Submit(f.encoded(t, "TX-2005")); err != nil {
		t.Fatal(err)
	}

	if _, err := f.bridge.Claim("TX-2005", testCarrierID); err != nil {
		t.Fatal(err)
	}

	// same carrier again: idempotent
	tx, err := f.bridge.Claim("TX-2005", testCarrierID)
	if err != nil {
		t.Fatal(err)
	}
	if tx.Status != state.Claimed {
		t.Fatalf("expected CLAIMED, got %s", tx.Status)
	}

	// different carrier: illegal, first claimant stays
	_, err = f.bridge.Claim("TX-2005", "CARRIER-TRK-099")
	if !state.IsIllegalTransition(err) {
		t.Fatalf("expected IllegalTransitionError, got %v", err)
	}

	tx, _ = f.bridge.GetStatus("TX-2005")
	if tx.CarrierID != testCarrierID {
		t.Fatalf("carrier must remain %s, got %s", testCarrierID, tx.CarrierID)
	}
}

func TestClaimByNonCarrier(t *testing.T) {
	f := newFixture(t)

	if _, err := f.bridge.Submit(f.encoded(t, "TX-2006")); err != nil {
		t.Fatal(err)
	}

	_, err := f.bridge.Claim("TX-2006", testShipperID)
	if !payload.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	_, err = f.bridge.Claim("TX-2006", "NOBODY")
	if !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("expected KeyNotFound, got %v", err)
	}
}

func TestPickupByWrongCarrier(t *testing.T) {
	f := newFixture(t)

	if _, err := f.bridge.Submit(f.encoded(t, "TX-2007")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.bridge.Claim("TX-2007", testCarrierID); err != nil {
		t.Fatal(err)
	}

	_, err := f.bridge.MarkInTransit("TX-2007", "CARRIER-TRK-099")
	if !state.IsIllegalTransition(err) {
		t.Fatalf("expected IllegalTransitionError, got %v", err)
	}
}

func TestDeliverTamperedRecord(t *testing.T) {
	f := newFixture(t)

	f.deliverable(t, "TX-2008")

	tampered := f.signedRecord(t, "TX-2008")
	tampered.CommercialInvoice.TotalValue = 1
	raw, _ := payload.Encode(tampered)

	_, err := f.bridge.Deliver("TX-2008", raw)
	if !signing.IsSignature(err) {
		t.Fatalf("expected SignatureError, got %v", err)
	}

	tx, _ := f.bridge.GetStatus("TX-2008")
	if tx.Status != state.InTransit {
		t.Fatalf("failed delivery must leave the transaction IN_TRANSIT, got %s", tx.Status)
	}
	if f.adapter.Calls("TX-2008") != 0 {
		t.Fatalf("ledger must not be touched on a rejected delivery")
	}
}

func TestDoubleDeliver(t *testing.T) {
	f := newFixture(t)

	raw := f.deliverable(t, "TX-2009")

	if _, err := f.bridge.Deliver("TX-2009", raw); err != nil {
		t.Fatal(err)
	}
	f.bridge.WaitLedgerSync()

	// the proximity leg retries; the replay must not re-trigger the sync
	tx, err := f.bridge.Deliver("TX-2009", raw)
	if err != nil {
		t.Fatal(err)
	}
	if tx.Status != state.Confirmed {
		t.Fatalf("expected CONFIRMED, got %s", tx.Status)
	}

	f.bridge.WaitLedgerSync()
	if f.adapter.Calls("TX-2009") != 1 {
		t.Fatalf("expected 1 ledger push, got %d", f.adapter.Calls("TX-2009"))
	}
}

func TestDeliverMismatchedID(t *testing.T) {
	f := newFixture(t)

	f.deliverable(t, "TX-2010")

	_, err := f.bridge.Deliver("TX-2010", f.encoded(t, "TX-OTHER"))
	if !payload.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestLedgerRetryThenConfirm(t *testing.T) {
	f := newFixture(t)

	f.adapter.Script("TX-2011",
		ledger.RetryableError{Cause: errBroker},
		ledger.RetryableError{Cause: errBroker},
	)

	raw := f.deliverable(t, "TX-2011")
	if _, err := f.bridge.Deliver("TX-2011", raw); err != nil {
		t.Fatal(err)
	}

	f.bridge.WaitLedgerSync()

	tx, _ := f.bridge.GetStatus("TX-2011")
	if tx.Status != state.Confirmed {
		t.Fatalf("expected CONFIRMED after retries, got %s", tx.Status)
	}
	if f.adapter.Calls("TX-2011") != 3 {
		t.Fatalf("expected 3 ledger pushes, got %d", f.adapter.Calls("TX-2011"))
	}

	confirmations := 0
	for _, entry := range tx.Audit {
		if entry.From == state.Delivered && entry.To == state.Confirmed {
			confirmations++
		}
	}
	if confirmations != 1 {
		t.Fatalf("expected exactly one DELIVERED->CONFIRMED audit entry, got %d", confirmations)
	}
}

func TestLedgerRetriesExhausted(t *testing.T) {
	f := newFixture(t)

	f.adapter.Script("TX-2012",
		ledger.RetryableError{Cause: errBroker},
		ledger.RetryableError{Cause: errBroker},
		ledger.RetryableError{Cause: errBroker},
		ledger.RetryableError{Cause: errBroker},
	)

	raw := f.deliverable(t, "TX-2012")
	if _, err := f.bridge.Deliver("TX-2012", raw); err != nil {
		t.Fatal(err)
	}

	f.bridge.WaitLedgerSync()

	tx, _ := f.bridge.GetStatus("TX-2012")
	if tx.Status != state.Failed {
		t.Fatalf("expected FAILED after exhausted retries, got %s", tx.Status)
	}
	if f.adapter.Calls("TX-2012") != 4 {
		t.Fatalf("expected 4 ledger pushes, got %d", f.adapter.Calls("TX-2012"))
	}

	last := tx.Audit[len(tx.Audit)-1]
	if !strings.Contains(last.Reason, "ledger sync failed") {
		t.Fatalf("failure reason not recorded: %q", last.Reason)
	}
}

func TestLedgerFatalError(t *testing.T) {
	f := newFixture(t)

	f.adapter.Script("TX-2013", ledger.FatalError{Cause: errBroker})

	raw := f.deliverable(t, "TX-2013")
	if _, err := f.bridge.Deliver("TX-2013", raw); err != nil {
		t.Fatal(err)
	}

	f.bridge.WaitLedgerSync()

	tx, _ := f.bridge.GetStatus("TX-2013")
	if tx.Status != state.Failed {
		t.Fatalf("expected FAILED, got %s", tx.Status)
	}
	if f.adapter.Calls("TX-2013") != 1 {
		t.Fatalf("fatal errors must not be retried, got %d pushes", f.adapter.Calls("TX-2013"))
	}
}

func TestOversizePayloadRejected(t *testing.T) {
	f := newFixture(t)

	big := make([]byte, transport.DefaultCapacity+1)

	if _, err := f.bridge.Submit(big); !transport.IsCapacity(err) {
		t.Fatalf("expected CapacityError on submit, got %v", err)
	}

	f.deliverable(t, "TX-2014")
	if _, err := f.bridge.Deliver("TX-2014", big); !transport.IsCapacity(err) {
		t.Fatalf("expected CapacityError on deliver, got %v", err)
	}

	tx, _ := f.bridge.GetStatus("TX-2014")
	if tx.Status != state.InTransit {
		t.Fatalf("oversize delivery must not advance the transaction, got %s", tx.Status)
	}
}

func TestUnknownTransaction(t *testing.T) {
	f := newFixture(t)

	if _, err := f.bridge.GetStatus("TX-NONE"); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("expected KeyNotFound, got %v", err)
	}
	if _, err := f.bridge.MarkInTransit("TX-NONE", testCarrierID); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("expected KeyNotFound, got %v", err)
	}
}

// gateAdapter blocks every Push until the gate is closed.
type gateAdapter struct {
	sync.Mutex

	gate  chan struct{}
	calls int
}

func (a *gateAdapter) Push(txID string, record *payload.ShipmentRecord) error {
	a.Lock()
	a.calls++
	a.Unlock()

	<-a.gate

	return nil
}

func TestDeliverNotBlockedBySaturatedLedger(t *testing.T) {
	adapter := &gateAdapter{gate: make(chan struct{})}
	f := newFixtureWithAdapter(t, adapter)

	// one more delivery than there are concurrent ledger-sync slots
	n := WGLIMIT + 1
	ids := make([]string, n)

	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("TX-5%03d", i)
		raw := f.deliverable(t, ids[i])

		done := make(chan error, 1)
		go func(txID string, raw []byte) {
			_, err := f.bridge.Deliver(txID, raw)
			done <- err
		}(ids[i], raw)

		select {
		case err := <-done:
			if err != nil {
				t.Fatal(err)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("Deliver %s blocked on the saturated ledger", ids[i])
		}
	}

	// the extra transaction must not have been stranded: its lock is free
	// and it is sitting at DELIVERED waiting for a sync slot
	last, err := f.bridge.GetStatus(ids[n-1])
	if err != nil {
		t.Fatal(err)
	}
	if last.Status != state.Delivered {
		t.Fatalf("expected DELIVERED while syncs are gated, got %s", last.Status)
	}

	close(adapter.gate)
	f.bridge.WaitLedgerSync()

	for _, txID := range ids {
		tx, err := f.bridge.GetStatus(txID)
		if err != nil {
			t.Fatal(err)
		}
		if tx.Status != state.Confirmed {
			t.Fatalf("expected %s CONFIRMED after the gate opened, got %s", txID, tx.Status)
		}
	}

	adapter.Lock()
	defer adapter.Unlock()
	if adapter.calls != n {
		t.Fatalf("expected %d ledger pushes, got %d", n, adapter.calls)
	}
}

func TestBusyLock(t *testing.T) {
	f := newFixture(t)

	if _, err := f.bridge.Submit(f.encoded(t, "TX-2015")); err != nil {
		t.Fatal(err)
	}

	release, err := f.bridge.acquire("TX-2015")
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.bridge.Claim("TX-2015", testCarrierID)
	if !IsBusy(err) {
		t.Fatalf("expected BusyError, got %v", err)
	}

	release()

	if _, err := f.bridge.Claim("TX-2015", testCarrierID); err != nil {
		t.Fatal(err)
	}
}
