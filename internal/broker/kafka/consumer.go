package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/ReconBox/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer читает delivery.reconciled и отдаёт обработчику уже
// разобранное сообщение.
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

// Consume крутит цикл fetch -> decode -> handler -> commit. Битый JSON
// коммитим и пропускаем, иначе одно ядовитое сообщение застопорит всю
// группу. Ошибка обработчика останавливает цикл без коммита,
// сообщение будет перечитано.
func (c *Consumer) Consume(ctx context.Context, handler func(msg messages.DeliveryReconciled) error) error {
	for {
		raw, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}
		var m messages.DeliveryReconciled
		if err := json.Unmarshal(raw.Value, &m); err != nil {
			slog.Warn("skip malformed delivery.reconciled", "key", string(raw.Key), "error", err)
			if err := c.r.CommitMessages(ctx, raw); err != nil {
				return errors.Wrap(err, "commit message")
			}
			continue
		}
		if err := handler(m); err != nil {
			return err
		}
		if err := c.r.CommitMessages(ctx, raw); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}
