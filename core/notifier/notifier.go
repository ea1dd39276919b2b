// Package notifier publishes change notifications for written rows to Kafka.
package notifier

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/gardenbase/core"
	"github.com/relabs-tech/gardenbase/core/logger"
)

// DefaultTopic is the topic used if none is configured
const DefaultTopic = "gardenbase_changes"

// Notification is the message published for every successful write
type Notification struct {
	Table     string          `json:"table"`
	Operation core.Operation  `json:"operation"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Writer is the subset of *kafka.Writer used by KafkaNotifier
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier implements core.Notifier. Messages are keyed by table, so that
// all changes of a table land in the same partition in order.
type KafkaNotifier struct {
	writer Writer
	now    func() time.Time
}

// NewKafkaNotifier returns a notifier publishing to topic on the comma separated brokers
func NewKafkaNotifier(brokers, topic string) *KafkaNotifier {
	if topic == "" {
		topic = DefaultTopic
	}
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	logger.Default().Infoln("kafka notifications on topic", topic, "brokers", addrs)
	return NewKafkaNotifierWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	})
}

// NewKafkaNotifierWithWriter returns a notifier publishing through writer
func NewKafkaNotifierWithWriter(writer Writer) *KafkaNotifier {
	return &KafkaNotifier{writer: writer, now: time.Now}
}

// Notify implements core.Notifier
func (n *KafkaNotifier) Notify(ctx context.Context, table string, operation core.Operation, payload []byte) error {
	value, err := json.Marshal(Notification{
		Table:     table,
		Operation: operation,
		RequestID: logger.RequestIDFromContext(ctx),
		Payload:   payload,
		CreatedAt: n.now().UTC(),
	})
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, kafka.Message{Key: []byte(table), Value: value})
}

// Close flushes and closes the underlying writer
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
