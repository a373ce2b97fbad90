// Package amqpmail implements the authcore Mailer on top of RabbitMQ.
// Mail is not sent directly; each call publishes a persistent JSON job to a
// durable queue and a separate worker fleet renders and delivers the message.
package amqpmail

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/arielzev/authcore"
)

// DefaultQueue is the queue mail jobs are published to when no override is
// given.
const DefaultQueue = "authcore.mail"

// Job is the wire format of a single outbound mail job. Workers dispatch on
// Kind: "two_factor_code" jobs carry Code, "token_link" jobs carry TokenType
// and Token.
type Job struct {
	Kind      string `json:"kind"`
	Email     string `json:"email"`
	Locale    string `json:"locale,omitempty"`
	Code      string `json:"code,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Token     string `json:"token,omitempty"`
}

// Publisher publishes mail jobs over a shared AMQP connection. It is safe for
// concurrent use; the underlying channel is serialized with a mutex because
// amqp091 channels are not concurrency safe.
type Publisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// Dial connects to the broker, declares the mail queue and returns a ready
// Publisher. The queue is durable so jobs survive broker restarts.
func Dial(url, queue string) (*Publisher, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqpmail: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqpmail: channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqpmail: queue declare: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

// Close releases the channel and connection. The Publisher must not be used
// after Close returns.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}

// SendTwoFactorCode publishes a two-factor code job.
func (p *Publisher) SendTwoFactorCode(ctx context.Context, email, locale, code string) error {
	return p.publish(ctx, Job{
		Kind:   "two_factor_code",
		Email:  email,
		Locale: locale,
		Code:   code,
	})
}

// SendTokenLink publishes a token link job (invite, verification, reset,
// email change).
func (p *Publisher) SendTokenLink(ctx context.Context, email, locale string, tokenType authcore.TokenType, rawToken string) error {
	return p.publish(ctx, Job{
		Kind:      "token_link",
		Email:     email,
		Locale:    locale,
		TokenType: string(tokenType),
		Token:     rawToken,
	})
}

func (p *Publisher) publish(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("amqpmail: marshal job: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return fmt.Errorf("amqpmail: publisher closed")
	}
	err = p.ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("amqpmail: publish: %w", err)
	}
	return nil
}

var _ authcore.Mailer = (*Publisher)(nil)
