package backplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel shared by gateway instances.
const DefaultChannel = "groupchat:fanout"

// Message is a frame addressed to a room on every instance.
// An empty Room addresses every connected client.
type Message struct {
	Origin string          `json:"origin"`
	Room   string          `json:"room"`
	Except string          `json:"except,omitempty"`
	Frame  json.RawMessage `json:"frame"`
}

// Backplane relays room frames between gateway instances.
type Backplane interface {
	Publish(ctx context.Context, msg Message) error
	Start(ctx context.Context, deliver func(Message)) error
	Close() error
}

// Redis relays frames over a Redis pub/sub channel.
type Redis struct {
	rdb     *redis.Client
	channel string
	origin  string

	mu     sync.Mutex
	pubsub *redis.PubSub
}

// NewRedis builds a Redis backplane. origin identifies this instance so its own frames are skipped.
func NewRedis(rdb *redis.Client, channel, origin string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{rdb: rdb, channel: channel, origin: origin}
}

// Origin returns the instance id stamped on published frames.
func (r *Redis) Origin() string {
	return r.origin
}

func (r *Redis) Publish(ctx context.Context, msg Message) error {
	msg.Origin = r.origin
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, r.channel, body).Err(); err != nil {
		return fmt.Errorf("backplane publish: %w", err)
	}
	return nil
}

// Start subscribes and returns once the subscription is confirmed.
// Frames from other instances are passed to deliver until ctx ends or Close is called.
func (r *Redis) Start(ctx context.Context, deliver func(Message)) error {
	r.mu.Lock()
	if r.pubsub != nil {
		r.mu.Unlock()
		return errors.New("backplane already started")
	}
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	r.pubsub = pubsub
	r.mu.Unlock()

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("backplane subscribe: %w", err)
	}

	ch := pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					log.Printf("backplane: dropping malformed frame: %v", err)
					continue
				}
				if msg.Origin == r.origin {
					continue
				}
				deliver(msg)
			}
		}
	}()
	return nil
}

func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub == nil {
		return nil
	}
	err := r.pubsub.Close()
	r.pubsub = nil
	return err
}
