// Package events publishes payment outcomes to Kafka so fulfillment and notification services can
// react without polling the payments tables.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"bitbucket.org/parqueoasis/payments/models"
	"github.com/IBM/sarama"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const maxConnectTries = 5

type PaymentEvent struct {
	Type       string               `json:"type"`
	OrderRef   string               `json:"order_ref"`
	UserID     int                  `json:"user_id"`
	Amount     int64                `json:"amount"`
	Status     models.PaymentStatus `json:"status"`
	Source     models.SignalSource  `json:"source"`
	FailReason string               `json:"fail_reason,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// EventType maps a payment status to the event name, e.g. COMPLETED -> payment.completed.
func EventType(status models.PaymentStatus) string {
	return "payment." + strings.ToLower(string(status))
}

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Connect builds a sync producer that waits for all in-sync replicas, retrying while the brokers come up.
func Connect(brokers []string) (sarama.SyncProducer, error) {
	conf := sarama.NewConfig()
	conf.Producer.Return.Successes = true
	conf.Producer.RequiredAcks = sarama.WaitForAll
	conf.Producer.Idempotent = true
	conf.Net.MaxOpenRequests = 1
	conf.Version = sarama.V2_1_0_0

	var (
		producer sarama.SyncProducer
		err      error
	)
	for i := 1; i <= maxConnectTries; i++ {
		producer, err = sarama.NewSyncProducer(brokers, conf)
		if err == nil {
			return producer, nil
		}
		log.WithFields(log.Fields{
			"attempt": i,
			"error":   err,
		}).Warn("kafka: waiting for brokers")
		time.Sleep(2 * time.Second)
	}
	return nil, errors.Wrap(err, "failed to start kafka producer")
}

// Publish keys messages by orderRef so every event of one payment lands on the same partition.
func (p *KafkaPublisher) Publish(ctx context.Context, payment models.Payment, source models.SignalSource) error {
	event := PaymentEvent{
		Type:       EventType(payment.Status),
		OrderRef:   payment.OrderRef,
		UserID:     payment.UserID,
		Amount:     payment.Amount,
		Status:     payment.Status,
		Source:     source,
		OccurredAt: time.Now().UTC(),
	}
	if payment.FailReason != nil {
		event.FailReason = *payment.FailReason
	}

	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal payment event")
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(payment.OrderRef),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return errors.Wrapf(err, "failed to send %s", event.Type)
	}

	log.WithFields(log.Fields{
		"order_ref": payment.OrderRef,
		"type":      event.Type,
		"partition": partition,
		"offset":    offset,
	}).Info("published payment event")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
