package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/blueships/sync/src/crypto"
	"github.com/blueships/sync/src/crypto/keys"
	"github.com/blueships/sync/src/payload"
	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Header keys of the relay attestation carried on every ledger message.
const (
	HeaderRelayKeyID = "relay-key-id"
	HeaderRelaySig   = "relay-sig"
)

// messageWriter is the part of kafka.Writer used by the adapter. It is an
// interface so tests can substitute the writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaAdapter is a SyncAdapter that publishes delivered shipments to a
// ledger topic. The enterprise system of record consumes the topic on its own
// schedule; publishing the message is this system's definition of "ledger
// sync succeeded".
type KafkaAdapter struct {
	writer  messageWriter
	key     *ecdsa.PrivateKey
	timeout time.Duration
	logger  *logrus.Entry
}

// NewKafkaAdapter creates a KafkaAdapter publishing to topic on the given
// brokers. Messages are keyed by transaction id so that all events of one
// shipment land in the same partition. When key is non-nil, every message
// carries headers with the relay's key id and its signature over the message
// value, so the consumer can authenticate which relay published it.
func NewKafkaAdapter(brokers []string, topic string, timeout time.Duration, key *ecdsa.PrivateKey, logger *logrus.Entry) *KafkaAdapter {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}

	return &KafkaAdapter{
		writer:  writer,
		key:     key,
		timeout: timeout,
		logger:  logger,
	}
}

// Push implements SyncAdapter. Encoding and signing failures are fatal;
// broker failures are retryable.
func (a *KafkaAdapter) Push(txID string, record *payload.ShipmentRecord) error {
	value, err := record.Marshal()
	if err != nil {
		return FatalError{Cause: err}
	}

	msg := kafka.Message{
		Key:   []byte(txID),
		Value: value,
	}

	if a.key != nil {
		r, s, err := keys.Sign(a.key, crypto.SHA256(value))
		if err != nil {
			return FatalError{Cause: err}
		}

		msg.Headers = []kafka.Header{
			{Key: HeaderRelayKeyID, Value: []byte(fmt.Sprintf("%d", keys.PublicKeyID(&a.key.PublicKey)))},
			{Key: HeaderRelaySig, Value: []byte(keys.EncodeSignature(r, s))},
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.writer.WriteMessages(ctx, msg); err != nil {
		a.logger.WithField("tx_id", txID).WithError(err).Error("Publishing to ledger topic")
		return RetryableError{Cause: err}
	}

	a.logger.WithField("tx_id", txID).Debug("Published to ledger topic")

	return nil
}
