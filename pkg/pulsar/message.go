package pulsar

import (
	"strconv"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/google/uuid"

	"github.com/potatman/EventHorizon-sub000/pkg/message"
)

const (
	messageIDPropertyName       = "message-id"
	messageSequencePropertyName = "sequence"
)

func newProducerMessage(msg *message.Message) *pulsar.ProducerMessage {
	return &pulsar.ProducerMessage{
		Payload: msg.Payload,
		Key:     msg.Key,
		Properties: map[string]string{
			messageIDPropertyName:       msg.ID.String(),
			messageSequencePropertyName: strconv.FormatInt(msg.Sequence, 10),
		},
	}
}

// newConsumerMessage keeps the pulsar message id as the acknowledgement handle. Messages of foreign producers
// get an id derived from the broker message id and the publish time as the sequence.
func newConsumerMessage(msg pulsar.Message) *message.ConsumerMessage {
	properties := msg.Properties()

	id, err := uuid.Parse(properties[messageIDPropertyName])
	if err != nil {
		id = uuid.NewSHA1(uuid.NameSpaceOID, msg.ID().Serialize())
	}

	sequence, err := strconv.ParseInt(properties[messageSequencePropertyName], 10, 64)
	if err != nil {
		sequence = msg.PublishTime().UnixNano()
	}

	return &message.ConsumerMessage{
		Message: message.Message{
			ID:       id,
			Topic:    message.Topic(msg.Topic()),
			Key:      msg.Key(),
			Sequence: sequence,
			Payload:  msg.Payload(),
		},
		PublishTime: msg.PublishTime(),
		Handle:      msg.ID(),
	}
}

func messageHandle(msg *message.ConsumerMessage) (pulsar.MessageID, bool) {
	id, ok := msg.Handle.(pulsar.MessageID)
	return id, ok
}

func handleKey(id pulsar.MessageID) string {
	return string(id.Serialize())
}
