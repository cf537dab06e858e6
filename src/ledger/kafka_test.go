package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/blueships/sync/src/common"
	"github.com/blueships/sync/src/crypto"
	"github.com/blueships/sync/src/crypto/keys"
	"github.com/blueships/sync/src/payload"
	kafka "github.com/segmentio/kafka-go"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func testRecord(txID string) *payload.ShipmentRecord {
	return &payload.ShipmentRecord{
		RecordBody: payload.RecordBody{
			TransactionID: txID,
			ShipperID:     "SYTELINE-OH-001",
			ReceiverID:    "SAP-OH-009",
		},
	}
}

func TestKafkaPushKeyedByTransaction(t *testing.T) {
	writer := &recordingWriter{}
	adapter := &KafkaAdapter{
		writer:  writer,
		timeout: time.Second,
		logger:  common.NewTestEntry(t, "ledger"),
	}

	if err := adapter.Push("TX-4001", testRecord("TX-4001")); err != nil {
		t.Fatal(err)
	}

	if len(writer.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(writer.msgs))
	}
	if string(writer.msgs[0].Key) != "TX-4001" {
		t.Fatalf("expected message keyed by tx id, got %q", writer.msgs[0].Key)
	}
	if len(writer.msgs[0].Headers) != 0 {
		t.Fatalf("expected no attestation headers without a relay key, got %d", len(writer.msgs[0].Headers))
	}
}

func TestKafkaPushAttestsWithRelayKey(t *testing.T) {
	relayKey, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}

	writer := &recordingWriter{}
	adapter := &KafkaAdapter{
		writer:  writer,
		key:     relayKey,
		timeout: time.Second,
		logger:  common.NewTestEntry(t, "ledger"),
	}

	if err := adapter.Push("TX-4004", testRecord("TX-4004")); err != nil {
		t.Fatal(err)
	}
	if len(writer.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(writer.msgs))
	}

	msg := writer.msgs[0]
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}

	wantID := fmt.Sprintf("%d", keys.PublicKeyID(&relayKey.PublicKey))
	if headers[HeaderRelayKeyID] != wantID {
		t.Fatalf("expected relay key id %s, got %q", wantID, headers[HeaderRelayKeyID])
	}

	r, s, err := keys.DecodeSignature(headers[HeaderRelaySig])
	if err != nil {
		t.Fatal(err)
	}
	if !keys.Verify(&relayKey.PublicKey, crypto.SHA256(msg.Value), r, s) {
		t.Fatalf("attestation signature does not verify over the message value")
	}
}

func TestKafkaPushBrokerErrorIsRetryable(t *testing.T) {
	writer := &recordingWriter{err: errors.New("broker down")}
	adapter := &KafkaAdapter{
		writer:  writer,
		timeout: time.Second,
		logger:  common.NewTestEntry(t, "ledger"),
	}

	err := adapter.Push("TX-4002", testRecord("TX-4002"))
	if !IsRetryable(err) {
		t.Fatalf("expected RetryableError, got %v", err)
	}
}

func TestInmemAdapterScripting(t *testing.T) {
	adapter := NewInmemAdapter()
	adapter.Script("TX-4003", RetryableError{Cause: errors.New("x")}, nil)

	if err := adapter.Push("TX-4003", testRecord("TX-4003")); !IsRetryable(err) {
		t.Fatalf("expected RetryableError, got %v", err)
	}
	if err := adapter.Push("TX-4003", testRecord("TX-4003")); err != nil {
		t.Fatal(err)
	}
	if adapter.Calls("TX-4003") != 2 {
		t.Fatalf("expected 2 calls, got %d", adapter.Calls("TX-4003"))
	}
	if adapter.Pushed("TX-4003") == nil {
		t.Fatalf("record should have been pushed")
	}
}
