package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// RedisBus publishes envelopes on a Redis pub/sub channel. Publishes go
// through a circuit breaker; while it is open Publish fails fast with
// gobreaker.ErrOpenState.
type RedisBus struct {
	client  *redis.Client
	channel string
	breaker *gobreaker.CircuitBreaker
	log     logrus.FieldLogger
}

func NewRedisBus(client *redis.Client, channel string, log logrus.FieldLogger) *RedisBus {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-bus",
		MaxRequests: 1,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})

	return &RedisBus{
		client:  client,
		channel: channel,
		breaker: breaker,
		log:     log,
	}
}

func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal bus message: %w", err)
	}

	_, err = b.breaker.Execute(func() (interface{}, error) {
		return nil, b.client.Publish(ctx, b.channel, data).Err()
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", b.channel, err)
	}

	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, h Handler) error {
	pubsub := b.client.Subscribe(ctx, b.channel)

	// Wait for the subscription confirmation so nothing published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe to %s: %w", b.channel, err)
	}

	go func() {
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				msg, err := DecodeMessage([]byte(raw.Payload))
				if err != nil {
					b.log.WithError(err).Warn("dropping undecodable bus message")
					continue
				}
				h(msg)
			}
		}
	}()

	return nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode bus message: %w", err)
	}
	if msg.Origin == "" {
		return Message{}, fmt.Errorf("decode bus message: missing origin")
	}
	return msg, nil
}
