package rewards

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	model "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/segmentio/kafka-go"
)

type PurchaseReader struct {
	reader *kafka.Reader
}

func NewPurchaseReader(brokers []string, topic string, groupID string) (reader *PurchaseReader, err error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("env REWARDS_KAFKA_BROKERS is not set")
	}
	kafkaconfig := kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	}
	return &PurchaseReader{kafka.NewReader(kafkaconfig)}, nil
}

// без коммита: смещение фиксирует Commit после обработки
func (k *PurchaseReader) Fetch(ctx context.Context) (kafka.Message, error) {
	return k.reader.FetchMessage(ctx)
}

func (k *PurchaseReader) Commit(ctx context.Context, msgs ...kafka.Message) error {
	return k.reader.CommitMessages(ctx, msgs...)
}

func (k *PurchaseReader) Close() error {
	return k.reader.Close()
}

// {"eventId","accountId","amount","reason"}
func ParsePurchase(body []byte) (ev model.PurchaseEvent, err error) {
	if err = json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("purchase event: %v: %w", err, model.ErrInvalidInput)
	}
	ev.EventID = strings.TrimSpace(ev.EventID)
	ev.AccountID = strings.TrimSpace(ev.AccountID)
	if ev.EventID == "" || ev.AccountID == "" {
		return ev, fmt.Errorf("purchase event without eventId/accountId: %w", model.ErrInvalidInput)
	}
	return ev, nil
}
