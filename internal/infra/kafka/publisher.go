// Package kafka publishes delivery events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	kgo "github.com/segmentio/kafka-go"

	"reminderq/internal/config"
	"reminderq/internal/ports"
)

var _ ports.Publisher = (*Publisher)(nil)

type Publisher struct {
	writer  *kgo.Writer
	timeout time.Duration
}

func NewPublisher(cfg config.Kafka) (*Publisher, error) {
	brokers := compact(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("KAFKA_TOPIC is required")
	}
	w := &kgo.Writer{
		Addr:         kgo.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kgo.Hash{},
		RequiredAcks: kgo.RequireOne,
	}
	return &Publisher{writer: w, timeout: 3 * time.Second}, nil
}

func (p *Publisher) Close() error { return p.writer.Close() }

// Publish keys messages by task id so one task's events stay ordered.
func (p *Publisher) Publish(ctx context.Context, ev ports.DeliveryEvent) error {
	msg, err := message(ev)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.writer.WriteMessages(cctx, msg)
}

func message(ev ports.DeliveryEvent) (kgo.Message, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return kgo.Message{}, err
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	return kgo.Message{
		Key:   []byte(ev.TaskID),
		Value: b,
		Time:  at,
		Headers: []kgo.Header{
			{Key: "status", Value: []byte(ev.Status)},
		},
	}, nil
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
