package service

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"deadman_server/server/common/log"
)

type OutboundMessage struct {
	UserID           string `json:"user_id"`
	NotificationType string `json:"notification_type"`
	Method           string `json:"method"`
	Recipient        string `json:"recipient"`
	Subject          string `json:"subject"`
	Body             string `json:"body"`
}

// Channel is the outbound notification abstraction. LogChannel is the
// default stand-in for a real provider; AMQPChannel hands the rendered
// message to a downstream mailer.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg OutboundMessage) error
}

type LogChannel struct{}

func (LogChannel) Name() string { return "log" }

func (LogChannel) Send(_ context.Context, msg OutboundMessage) error {
	log.Infof("event=notify channel=log type=%s method=%s recipient=%s subject=%q", msg.NotificationType, msg.Method, msg.Recipient, msg.Subject)
	return nil
}

const notifyExchange = "notify.events"

type AMQPChannel struct {
	channel *amqp.Channel
}

func NewAMQPChannel(conn *amqp.Connection) (*AMQPChannel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(notifyExchange, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}
	return &AMQPChannel{channel: ch}, nil
}

func (c *AMQPChannel) Name() string { return "amqp" }

func (c *AMQPChannel) Send(ctx context.Context, msg OutboundMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	routingKey := msg.Method + "." + msg.NotificationType
	return c.channel.PublishWithContext(ctx, notifyExchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	})
}

func (c *AMQPChannel) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
}
