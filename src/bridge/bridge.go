// Package bridge implements the relay at the center of the handshake. The
// Bridge is the only component that mutates a Transaction: it accepts signed
// records from shippers, hands them to carriers, re-verifies them on
// delivery, and drives the downstream ledger sync.
package bridge

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	cm "github.com/blueships/sync/src/common"
	"github.com/blueships/sync/src/ledger"
	"github.com/blueships/sync/src/payload"
	"github.com/blueships/sync/src/signing"
	"github.com/blueships/sync/src/state"
	"github.com/blueships/sync/src/transport"
	"github.com/blueships/sync/src/trust"
	"github.com/sirupsen/logrus"
)

// WGLIMIT is the maximum number of ledger-sync pushes running concurrently.
const WGLIMIT = 20

// BusyError is returned when a mutating call times out waiting for the
// transaction's lock. The underlying state is never left partially mutated;
// the caller should retry.
type BusyError struct {
	TxID string
}

// Error implements the error interface
func (e BusyError) Error() string {
	return fmt.Sprintf("transaction %s busy, retry", e.TxID)
}

// IsBusy checks whether an error is a BusyError.
func IsBusy(err error) bool {
	_, ok := err.(BusyError)
	return ok
}

// Options groups the tunables of a Bridge.
type Options struct {
	// MaxPayload is the transport size ceiling enforced on submit and
	// deliver.
	MaxPayload int

	// LockTimeout bounds how long a mutating call waits for a busy
	// transaction before returning a BusyError.
	LockTimeout time.Duration

	// LedgerAttempts is the maximum number of Push calls per delivery,
	// including the first one.
	LedgerAttempts int

	// LedgerBackoff is the base delay between ledger retries; it grows
	// linearly with the attempt number.
	LedgerBackoff time.Duration
}

// DefaultOptions returns the default Bridge tunables.
func DefaultOptions() Options {
	return Options{
		MaxPayload:     transport.DefaultCapacity,
		LockTimeout:    time.Second,
		LedgerAttempts: 4,
		LedgerBackoff:  100 * time.Millisecond,
	}
}

// Bridge is the store-and-forward relay. All mutating operations on a given
// transaction are serialized behind a per-transaction lock; operations on
// different transactions proceed concurrently.
type Bridge struct {
	store    Store
	trust    *trust.Store
	verifier *signing.Verifier
	adapter  ledger.SyncAdapter
	opts     Options
	logger   *logrus.Entry

	lockMu sync.Mutex
	locks  map[string]chan struct{}

	wg  sync.WaitGroup
	sem chan struct{}
}

// NewBridge creates a Bridge.
func NewBridge(store Store, trustStore *trust.Store, adapter ledger.SyncAdapter, opts Options, logger *logrus.Entry) *Bridge {
	return &Bridge{
		store:    store,
		trust:    trustStore,
		verifier: signing.NewVerifier(trustStore),
		adapter:  adapter,
		opts:     opts,
		logger:   logger,
		locks:    make(map[string]chan struct{}),
		sem:      make(chan struct{}, WGLIMIT),
	}
}

//==============================================================================
//Party registration

// RegisterParty registers a party with the trust store and persists it.
func (b *Bridge) RegisterParty(party *trust.Party) error {
	if err := b.trust.Register(party); err != nil {
		return err
	}

	return b.store.PutParty(*party)
}

// AddPartyKey appends a new key to a party's history and persists the
// updated party. Records signed under older keys remain verifiable.
func (b *Bridge) AddPartyKey(partyID, pubKeyHex string) error {
	if err := b.trust.AddKey(partyID, pubKeyHex); err != nil {
		return err
	}

	party, err := b.trust.Get(partyID)
	if err != nil {
		return err
	}

	return b.store.PutParty(party)
}

// Parties returns the registered parties.
func (b *Bridge) Parties() []trust.Party {
	return b.trust.Parties()
}

//==============================================================================
//Relay operations

// Submit accepts the wire encoding of a signed record from a shipper,
// validates and verifies it, and stores it as a CREATED transaction. It
// returns the transaction id. Resubmitting the identical record is
// idempotent.
func (b *Bridge) Submit(encoded []byte) (string, error) {
	if err := transport.CheckCapacity(len(encoded), b.opts.MaxPayload); err != nil {
		return "", err
	}

	record, err := payload.Decode(encoded)
	if err != nil {
		return "", err
	}

	txID := record.TransactionID

	if err := b.verifier.VerifyRecord(record, record.ShipperID); err != nil {
		b.logger.WithFields(logrus.Fields{
			"tx_id":   txID,
			"shipper": record.ShipperID,
		}).WithError(err).Warn("Rejected submission: signature failure")
		return "", err
	}

	release, err := b.acquire(txID)
	if err != nil {
		return "", err
	}
	defer release()

	if existing, err := b.store.GetTransaction(txID); err == nil {
		existingHash, _ := existing.Record.RecordBody.Hash()
		newHash, _ := record.RecordBody.Hash()
		if bytes.Equal(existingHash, newHash) {
			return txID, nil
		}
		return "", cm.NewStoreErr("transaction", cm.KeyAlreadyExists, txID)
	}

	tx := state.NewTransaction(record)
	if err := b.store.PutTransaction(tx); err != nil {
		return "", err
	}

	b.logger.WithFields(logrus.Fields{
		"tx_id":   txID,
		"shipper": record.ShipperID,
		"bol":     record.BOLNumber,
	}).Info("Stored new transaction")

	return txID, nil
}

// Claim assigns a CREATED transaction to a carrier. The carrier must be
// registered with the carrier role. A duplicate claim by the same carrier is
// idempotent; a claim by a different carrier is an illegal transition and
// leaves the original claimant in place.
func (b *Bridge) Claim(txID, carrierID string) (*state.Transaction, error) {
	party, err := b.trust.Get(carrierID)
	if err != nil {
		return nil, err
	}
	if party.Role != trust.RoleCarrier {
		return nil, payload.NewValidationError("carrier_erp_id", "party is not a registered carrier")
	}

	release, err := b.acquire(txID)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := b.store.GetTransaction(txID)
	if err != nil {
		return nil, err
	}

	// duplicate claim by the same carrier
	if tx.Status != state.Created && tx.CarrierID == carrierID {
		return tx, nil
	}

	if err := tx.Claim(carrierID); err != nil {
		return tx, err
	}

	if err := b.store.PutTransaction(tx); err != nil {
		return nil, err
	}

	b.logger.WithFields(logrus.Fields{
		"tx_id":   txID,
		"carrier": carrierID,
	}).Info("Transaction claimed")

	return tx, nil
}

// MarkInTransit records the carrier's physical pickup. Only the claiming
// carrier may confirm pickup; a duplicate call by the same carrier is
// idempotent.
func (b *Bridge) MarkInTransit(txID, carrierID string) (*state.Transaction, error) {
	release, err := b.acquire(txID)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := b.store.GetTransaction(txID)
	if err != nil {
		return nil, err
	}

	if tx.Status == state.InTransit && tx.CarrierID == carrierID {
		return tx, nil
	}

	if err := tx.MarkInTransit(carrierID); err != nil {
		return tx, err
	}

	if err := b.store.PutTransaction(tx); err != nil {
		return nil, err
	}

	b.logger.WithFields(logrus.Fields{
		"tx_id":   txID,
		"carrier": carrierID,
	}).Info("Transaction in transit")

	return tx, nil
}

// Deliver accepts the bytes produced by the receiver-side transport. The
// record is re-decoded and re-verified against the original shipper's key;
// the carrier's relayed copy is never trusted. On success the transaction
// moves to DELIVERED and the ledger sync is scheduled asynchronously, so a
// slow downstream ledger never blocks the handshake path. A duplicate
// delivery for an already-delivered transaction returns the current state
// without re-triggering the ledger sync.
func (b *Bridge) Deliver(txID string, encoded []byte) (*state.Transaction, error) {
	if err := transport.CheckCapacity(len(encoded), b.opts.MaxPayload); err != nil {
		return nil, err
	}

	release, err := b.acquire(txID)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := b.store.GetTransaction(txID)
	if err != nil {
		return nil, err
	}

	// the proximity leg may retry on transient I/O failure; replays of a
	// completed delivery are answered from stored state
	switch tx.Status {
	case state.Delivered, state.Confirmed, state.Failed:
		return tx, nil
	}

	record, err := payload.Decode(encoded)
	if err != nil {
		return tx, err
	}

	if record.TransactionID != txID {
		return tx, payload.NewValidationError("transaction_id", "does not match the delivery endpoint")
	}

	if err := b.verifier.VerifyRecord(record, tx.Record.ShipperID); err != nil {
		b.logger.WithFields(logrus.Fields{
			"tx_id":   txID,
			"shipper": tx.Record.ShipperID,
		}).WithError(err).Warn("Rejected delivery: signature failure")
		return tx, err
	}

	if err := tx.MarkDelivered(tx.Record.ReceiverID); err != nil {
		return tx, err
	}

	if err := b.store.PutTransaction(tx); err != nil {
		return nil, err
	}

	b.logger.WithField("tx_id", txID).Info("Transaction delivered")

	b.goFunc(func() { b.ledgerSync(txID) })

	return tx, nil
}

// GetStatus returns the authoritative view of a transaction. Reads never
// block on a pending write beyond the store's own read lock.
func (b *Bridge) GetStatus(txID string) (*state.Transaction, error) {
	return b.store.GetTransaction(txID)
}

// TransactionIDs lists all known transaction ids.
func (b *Bridge) TransactionIDs() []string {
	return b.store.TransactionIDs()
}

// WaitLedgerSync blocks until all in-flight ledger syncs have completed.
func (b *Bridge) WaitLedgerSync() {
	b.wg.Wait()
}

//==============================================================================
//Ledger sync

// ledgerSync pushes a delivered transaction to the ledger adapter, retrying
// retryable failures with linear backoff, then commits the CONFIRMED or
// FAILED transition. The per-transaction lock is held only around the final
// transition, not around the Push calls.
func (b *Bridge) ledgerSync(txID string) {
	tx, err := b.store.GetTransaction(txID)
	if err != nil {
		b.logger.WithField("tx_id", txID).WithError(err).Error("Ledger sync: reading transaction")
		return
	}

	var pushErr error
	for attempt := 1; attempt <= b.opts.LedgerAttempts; attempt++ {
		pushErr = b.adapter.Push(txID, tx.Record)
		if pushErr == nil {
			break
		}

		if !ledger.IsRetryable(pushErr) {
			b.logger.WithField("tx_id", txID).WithError(pushErr).Error("Ledger sync: fatal error")
			break
		}

		b.logger.WithFields(logrus.Fields{
			"tx_id":   txID,
			"attempt": attempt,
		}).WithError(pushErr).Warn("Ledger sync: retryable error")

		if attempt < b.opts.LedgerAttempts {
			time.Sleep(time.Duration(attempt) * b.opts.LedgerBackoff)
		}
	}

	b.acquireBlocking(txID)
	defer b.release(txID)

	tx, err = b.store.GetTransaction(txID)
	if err != nil {
		b.logger.WithField("tx_id", txID).WithError(err).Error("Ledger sync: reading transaction")
		return
	}

	if tx.Status != state.Delivered {
		// already settled by a previous sync
		return
	}

	if pushErr == nil {
		if err := tx.Confirm("bridge"); err != nil {
			b.logger.WithField("tx_id", txID).WithError(err).Error("Ledger sync: confirming")
			return
		}
		b.logger.WithField("tx_id", txID).Info("Transaction confirmed")
	} else {
		reason := fmt.Sprintf("ledger sync failed after %d attempts: %v", b.opts.LedgerAttempts, pushErr)
		if err := tx.Fail("bridge", reason); err != nil {
			b.logger.WithField("tx_id", txID).WithError(err).Error("Ledger sync: failing")
			return
		}
		// surfaced for manual reconciliation, never silently swallowed
		b.logger.WithField("tx_id", txID).Error(reason)
	}

	if err := b.store.PutTransaction(tx); err != nil {
		b.logger.WithField("tx_id", txID).WithError(err).Error("Ledger sync: persisting")
	}
}

//==============================================================================
//Per-transaction locking

func (b *Bridge) lockChan(txID string) chan struct{} {
	b.lockMu.Lock()
	defer b.lockMu.Unlock()

	ch, ok := b.locks[txID]
	if !ok {
		ch = make(chan struct{}, 1)
		b.locks[txID] = ch
	}

	return ch
}

// acquire takes the transaction's lock, waiting at most LockTimeout. The
// returned function releases the lock.
func (b *Bridge) acquire(txID string) (func(), error) {
	ch := b.lockChan(txID)

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-time.After(b.opts.LockTimeout):
		return nil, BusyError{TxID: txID}
	}
}

// acquireBlocking takes the transaction's lock without a timeout. It is only
// used by the internal ledger-sync goroutine.
func (b *Bridge) acquireBlocking(txID string) {
	b.lockChan(txID) <- struct{}{}
}

func (b *Bridge) release(txID string) {
	<-b.lockChan(txID)
}

// goFunc runs f on its own goroutine, tracked by the waitgroup. At most
// WGLIMIT functions run at once; excess ones queue on the semaphore, which is
// only ever acquired on the new goroutine, never on the caller's stack.
func (b *Bridge) goFunc(f func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		b.sem <- struct{}{}
		defer func() { <-b.sem }()

		f()
	}()
}
