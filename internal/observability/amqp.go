package observability

import (
	"context"
	"sync"
)

// Publisher sends JSON events to the event bus.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

var (
	publisherMu      sync.RWMutex
	defaultPublisher Publisher
)

// SetPublisher installs the bus used by PublishEvent. nil disables publishing.
func SetPublisher(publisher Publisher) {
	publisherMu.Lock()
	defaultPublisher = publisher
	publisherMu.Unlock()
}

// PublishEvent sends event on the installed bus. A cancelled ctx is not counted as a broker failure.
func PublishEvent(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	publisherMu.RLock()
	publisher := defaultPublisher
	publisherMu.RUnlock()
	if publisher == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := publisher.Publish(ctx, routingKey, event, headers); err != nil {
		IncAMQPPublishError(routingKey)
		return err
	}
	return nil
}
