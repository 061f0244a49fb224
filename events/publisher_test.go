package events

import (
	"context"
	"encoding/json"
	"testing"

	"bitbucket.org/parqueoasis/payments/models"
	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType(t *testing.T) {
	assert.Equal(t, "payment.completed", EventType(models.PaymentCompleted))
	assert.Equal(t, "payment.failed", EventType(models.PaymentFailed))
	assert.Equal(t, "payment.canceled", EventType(models.PaymentCanceled))
}

func TestPublish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, "payments", msg.Topic)

		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "R1", string(key))

		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var event PaymentEvent
		require.NoError(t, json.Unmarshal(value, &event))
		assert.Equal(t, "payment.failed", event.Type)
		assert.Equal(t, "amount mismatch", event.FailReason)
		assert.Equal(t, models.SourceWebhook, event.Source)
		return nil
	})

	reason := "amount mismatch"
	publisher := NewKafkaPublisher(producer, "payments")
	err := publisher.Publish(context.Background(), models.Payment{
		OrderRef:   "R1",
		UserID:     7,
		Amount:     10000,
		Status:     models.PaymentFailed,
		FailReason: &reason,
	}, models.SourceWebhook)
	require.NoError(t, err)
	require.NoError(t, publisher.Close())
}

func TestPublishError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := NewKafkaPublisher(producer, "payments").Publish(context.Background(), models.Payment{
		OrderRef: "R1",
		Status:   models.PaymentCompleted,
	}, models.SourceSync)
	assert.Error(t, err)
	producer.Close()
}
