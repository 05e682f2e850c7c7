package rewards

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	model "github.com/glkeru/loyalty/rewards/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	RedeemQueue  = "coupon_redeems"
	ConfirmQueue = "coupon_confirms"
)

// Запрос погашения купона
type RedeemRequest struct {
	RequestID string `json:"requestId"`
	Code      string `json:"code"`
	AccountID string `json:"accountId"` // пусто - погашение сотрудником
}

type RedeemConfirm struct {
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"` // Kind ошибки
}

type RabbitConsumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	Msg   <-chan amqp.Delivery
	chout *amqp.Channel
}

func NewRabbitConsumer(url string, prefetch int) (rabbit *RabbitConsumer, err error) {
	if url == "" {
		return nil, fmt.Errorf("env REWARDS_RABBIT_URL is not set")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	// канал для входящих
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err = ch.QueueDeclare(RedeemQueue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	if err = ch.Qos(prefetch, 0, false); err != nil {
		conn.Close()
		return nil, err
	}

	// канал для исходящих
	chout, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err = chout.QueueDeclare(ConfirmQueue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}

	// подтверждение вручную, после ответа
	msg, err := ch.Consume(
		RedeemQueue, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &RabbitConsumer{conn, ch, msg, chout}, nil
}

func (r *RabbitConsumer) Close() {
	r.chout.Close()
	r.ch.Close()
	r.conn.Close()
}

func ParseRedeem(body []byte) (req RedeemRequest, err error) {
	if err = json.Unmarshal(body, &req); err != nil {
		return req, fmt.Errorf("redeem request: %v: %w", err, model.ErrInvalidInput)
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.RequestID == "" || req.Code == "" {
		return req, fmt.Errorf("redeem request without requestId/code: %w", model.ErrInvalidInput)
	}
	return req, nil
}

func NewConfirm(requestID string, err error) RedeemConfirm {
	return RedeemConfirm{
		RequestID: requestID,
		Success:   err == nil,
		Error:     model.Kind(err),
	}
}

// ответ о погашении
func (r *RabbitConsumer) Processed(ctx context.Context, requestID string, result error) error {
	msg, err := json.Marshal(NewConfirm(requestID, result))
	if err != nil {
		return err
	}
	return r.chout.PublishWithContext(ctx,
		"",           // exchange
		ConfirmQueue, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			CorrelationId: requestID,
			Body:          msg,
		})
}
