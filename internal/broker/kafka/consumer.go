package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/ShopTrack/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// ErrMalformed marks a message that can never be processed. Such messages
// are committed and skipped instead of stopping the consumer.
var ErrMalformed = errors.New("malformed message")

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r messageReader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return &Consumer{
		r: kafka.NewReader(cfg),
	}
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}
		if err := handler(msg.Key, msg.Value); err != nil {
			if !errors.Is(err, ErrMalformed) {
				// Важно: commit делаем только при успехе, иначе потеряем сообщение.
				return err
			}
			slog.Warn("skip malformed message", "topic", msg.Topic, "offset", msg.Offset, "error", err.Error())
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}

// OrderChangedHandler decodes order.changed messages for fn.
func OrderChangedHandler(ctx context.Context, fn func(ctx context.Context, m messages.OrderChanged) error) func(key, value []byte) error {
	return func(key, value []byte) error {
		var m messages.OrderChanged
		if err := json.Unmarshal(value, &m); err != nil {
			return errors.Wrapf(ErrMalformed, "decode order changed: %s", err.Error())
		}
		if m.Order.ID == "" {
			m.Order.ID = string(key)
		}
		if m.Order.ID == "" || m.Action == "" {
			return errors.Wrap(ErrMalformed, "order changed without order id or action")
		}
		return fn(ctx, m)
	}
}
