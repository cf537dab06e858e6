// Package dummy provides demo implementations of the three parties. They
// don't talk to a real ERP or a real proximity device; the Shipper fabricates
// orders, the Carrier relays through an in-memory channel standing in for the
// tap, and the Receiver delivers what it reads. They are used by the e2e test
// and the demo mode of the CLI.
package dummy

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/blueships/sync/src/bridge"
	"github.com/blueships/sync/src/payload"
	"github.com/blueships/sync/src/signing"
	"github.com/blueships/sync/src/state"
	"github.com/blueships/sync/src/transport"
	"github.com/sirupsen/logrus"
)

// submitRetries bounds how often a dummy client retries a busy relay.
const submitRetries = 3

// Shipper fabricates signed shipment records the way an ERP export would.
type Shipper struct {
	ID     string
	signer *signing.Signer
	bridge *bridge.Bridge
	logger *logrus.Entry

	seq int
}

// NewShipper creates a demo shipper around a signing key.
func NewShipper(id string, key *ecdsa.PrivateKey, b *bridge.Bridge, logger *logrus.Entry) *Shipper {
	return &Shipper{
		ID:     id,
		signer: signing.NewSigner(key),
		bridge: b,
		logger: logger,
	}
}

// NewOrder fabricates the next mock order, signed and ready to submit.
func (s *Shipper) NewOrder(receiverID string) (*payload.ShipmentRecord, error) {
	s.seq++

	record := &payload.ShipmentRecord{
		RecordBody: payload.RecordBody{
			TransactionID: fmt.Sprintf("TX-%s-%04d", s.ID, s.seq),
			Status:        state.Created.String(),
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
			Location:      "Westerville, OH",
			PackingSlip: payload.PackingSlip{
				Items: []payload.LineItem{
					{SKU: "A1001", Description: "Blue Widget", Quantity: 25, Weight: 0.5},
					{SKU: "B2002", Description: "Red Widget", Quantity: 15, Weight: 0.7},
				},
				TotalWeight: 25*0.5 + 15*0.7,
			},
			BOLNumber: fmt.Sprintf("BOL-%06d", 998877+s.seq),
			BatchDetails: payload.BatchDetails{
				BatchID:         fmt.Sprintf("BATCH-2308-%02d", s.seq),
				ManufactureDate: "2023-08-15",
				ExpiryDate:      "2025-08-14",
			},
			CommercialInvoice: payload.CommercialInvoice{
				Number:     fmt.Sprintf("INV-%06d", 556677+s.seq),
				TotalValue: 18500,
				Currency:   "USD",
			},
			PalletCount: 4,
			TransitType: payload.TransitTruck,
			ShipperID:   s.ID,
			ReceiverID:  receiverID,
		},
	}

	if err := s.signer.SignRecord(record); err != nil {
		return nil, err
	}

	return record, nil
}

// Submit encodes and submits a record, retrying with a fixed delay when the
// relay reports the transaction busy.
func (s *Shipper) Submit(record *payload.ShipmentRecord) (string, error) {
	raw, err := payload.Encode(record)
	if err != nil {
		return "", err
	}

	var txID string
	for attempt := 0; attempt < submitRetries; attempt++ {
		txID, err = s.bridge.Submit(raw)
		if !bridge.IsBusy(err) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		return "", err
	}

	s.logger.WithField("tx_id", txID).Info("Order submitted")

	return txID, nil
}

// Carrier claims transactions and relays the shipper's record over the
// proximity channel at the dock.
type Carrier struct {
	ID     string
	bridge *bridge.Bridge
	logger *logrus.Entry
}

// NewCarrier creates a demo carrier.
func NewCarrier(id string, b *bridge.Bridge, logger *logrus.Entry) *Carrier {
	return &Carrier{
		ID:     id,
		bridge: b,
		logger: logger,
	}
}

// Pickup claims the transaction, confirms physical pickup, and loads the
// record onto the carrier's channel for the delivery tap.
func (c *Carrier) Pickup(txID string, channel transport.Channel) error {
	if _, err := c.bridge.Claim(txID, c.ID); err != nil {
		return err
	}

	tx, err := c.bridge.GetStatus(txID)
	if err != nil {
		return err
	}

	raw, err := payload.Encode(tx.Record)
	if err != nil {
		return err
	}

	if err := channel.Write(raw); err != nil {
		return err
	}

	if _, err := c.bridge.MarkInTransit(txID, c.ID); err != nil {
		return err
	}

	c.logger.WithField("tx_id", txID).Info("Shipment picked up")

	return nil
}

// Receiver reads records off the proximity channel and delivers them.
type Receiver struct {
	ID     string
	bridge *bridge.Bridge
	logger *logrus.Entry
}

// NewReceiver creates a demo receiver.
func NewReceiver(id string, b *bridge.Bridge, logger *logrus.Entry) *Receiver {
	return &Receiver{
		ID:     id,
		bridge: b,
		logger: logger,
	}
}

// ReceiveOne reads the next frame off the channel and runs the delivery leg.
// The frame is decoded only to learn the transaction id; the relay re-decodes
// and re-verifies the raw bytes itself.
func (r *Receiver) ReceiveOne(channel transport.Channel) (*state.Transaction, error) {
	raw, err := channel.Read()
	if err != nil {
		return nil, err
	}

	record, err := payload.Decode(raw)
	if err != nil {
		return nil, err
	}

	tx, err := r.bridge.Deliver(record.TransactionID, raw)
	if err != nil {
		return tx, err
	}

	r.logger.WithField("tx_id", tx.ID).Info("Shipment delivered")

	return tx, nil
}
