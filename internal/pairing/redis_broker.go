package pairing

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	redis "github.com/redis/go-redis/v9"

	"elkhaled/pos/internal/domain"
)

const DefaultRelayChannel = "pos:pairing"

// RedisBroker lets several relay instances behind a load balancer share
// one channel.
type RedisBroker struct {
	client  *redis.Client
	channel string
}

func NewRedisBroker(client *redis.Client, channel string) *RedisBroker {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisBroker{client: client, channel: channel}
}

func (b *RedisBroker) Publish(ctx context.Context, msg domain.PairingMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan domain.PairingMessage, func(), error) {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan domain.PairingMessage, 64)
	stop := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-stop:
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg domain.PairingMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					log.Printf("[relay] WARN: dropping malformed message: %v", err)
					continue
				}
				select {
				case out <- msg:
				case <-stop:
					return
				}
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(stop)
			_ = sub.Close()
			<-finished
		})
	}, nil
}
