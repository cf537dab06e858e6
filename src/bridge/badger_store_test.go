package bridge

import (
	"path/filepath"
	"reflect"
	"testing"

	cm "github.com/blueships/sync/src/common"
	"github.com/blueships/sync/src/crypto/keys"
	"github.com/blueships/sync/src/payload"
	"github.com/blueships/sync/src/state"
	"github.com/blueships/sync/src/trust"
)

func testTransaction(t *testing.T, txID string) *state.Transaction {
	t.Helper()

	record := &payload.ShipmentRecord{
		RecordBody: payload.RecordBody{
			TransactionID: txID,
			Status:        "CREATED",
			Timestamp:     "2023-08-20T14:00:00Z",
			Location:      "Westerville, OH",
			PackingSlip: payload.PackingSlip{
				Items:       []payload.LineItem{{SKU: "A1001", Description: "Blue Widget", Quantity: 2, Weight: 1.5}},
				TotalWeight: 3.0,
			},
			BOLNumber: "BOL-112233",
			BatchDetails: payload.BatchDetails{
				BatchID:         "B-1",
				ManufactureDate: "2023-08-15",
				ExpiryDate:      "2025-08-14",
			},
			CommercialInvoice: payload.CommercialInvoice{Number: "INV-1", TotalValue: 100, Currency: "USD"},
			PalletCount:       1,
			TransitType:       payload.TransitTruck,
			ShipperID:         testShipperID,
			ReceiverID:        testReceiverID,
		},
		Signature: payload.Signature{KeyID: 7, Algo: payload.SigAlgo, Sig: "1|2"},
	}

	return state.NewTransaction(record)
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "badger")

	store, err := NewBadgerStore(path)
	if err != nil {
		t.Fatal(err)
	}

	tx := testTransaction(t, "TX-3001")
	if err := store.PutTransaction(tx); err != nil {
		t.Fatal(err)
	}

	got, err := store.dbGetTransaction("TX-3001")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != tx.ID || got.Status != tx.Status {
		t.Fatalf("db copy does not match: %+v", got)
	}

	if _, err := store.dbGetTransaction("TX-NONE"); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("expected KeyNotFound, got %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestBadgerStoreBootstrap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "badger")

	store, err := NewBadgerStore(path)
	if err != nil {
		t.Fatal(err)
	}

	tx := testTransaction(t, "TX-3002")
	if err := tx.Claim(testCarrierID); err != nil {
		t.Fatal(err)
	}
	if err := store.PutTransaction(tx); err != nil {
		t.Fatal(err)
	}

	key, _ := keys.GenerateECDSAKey()
	party, err := trust.NewParty(testShipperID, trust.RoleShipper, keys.PublicKeyHex(&key.PublicKey))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.PutParty(*party); err != nil {
		t.Fatal(err)
	}

	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := LoadBadgerStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reloaded.Close()

	got, err := reloaded.GetTransaction("TX-3002")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != state.Claimed || got.CarrierID != testCarrierID {
		t.Fatalf("reloaded transaction does not match: %+v", got)
	}
	if !reflect.DeepEqual(got.Record.PackingSlip, tx.Record.PackingSlip) {
		t.Fatalf("reloaded record does not match:\n got %+v\nwant %+v", got.Record.PackingSlip, tx.Record.PackingSlip)
	}

	parties, err := reloaded.Parties()
	if err != nil {
		t.Fatal(err)
	}
	if len(parties) != 1 || parties[0].ID != testShipperID {
		t.Fatalf("reloaded parties do not match: %+v", parties)
	}
}

func TestLoadOrCreateBadgerStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "badger")

	// no database yet: create
	store, err := LoadOrCreateBadgerStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.PutTransaction(testTransaction(t, "TX-3003")); err != nil {
		t.Fatal(err)
	}
	store.Close()

	// second time: load
	store, err = LoadOrCreateBadgerStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if ids := store.TransactionIDs(); len(ids) != 1 || ids[0] != "TX-3003" {
		t.Fatalf("expected [TX-3003], got %v", ids)
	}
}
