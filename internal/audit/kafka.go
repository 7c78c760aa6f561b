package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// MessageWriter часть kafka.Writer, которая нужна приемнику.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink публикует события в топик; ключ сообщения — гильдия, чтобы сохранить порядок внутри нее.
type KafkaSink struct {
	w MessageWriter
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

// NewKafkaSinkWithWriter для тестов и нестандартных транспортов.
func NewKafkaSinkWithWriter(w MessageWriter) *KafkaSink {
	return &KafkaSink{w: w}
}

func (k *KafkaSink) WriteBatch(ctx context.Context, events []AuditEvent) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		body, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("audit: encode event %s: %w", e.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(e.GuildID),
			Value:   body,
			Time:    e.Timestamp,
			Headers: []kafka.Header{{Key: "action", Value: []byte(e.Action)}},
		})
	}
	if err := k.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("audit: kafka write: %w", err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.w.Close()
}
