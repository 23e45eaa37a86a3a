package main

import (
	"context"
	"fmt"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/storefront-checkout/pkg/outbox/registry"
)

// topicSender keeps one publisher per topic for the life of the relay so
// batching goroutines are not recreated per message.
type topicSender struct {
	client topicClient

	mu         sync.Mutex
	publishers map[string]*gcppubsub.Publisher
}

func newTopicSender(client topicClient) *topicSender {
	return &topicSender{client: client, publishers: make(map[string]*gcppubsub.Publisher)}
}

func (s *topicSender) Send(ctx context.Context, topic string, msg *gcppubsub.Message) error {
	pub := s.publisher(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", topic))
	}
	_, err := pub.Publish(ctx, msg).Get(ctx)
	return err
}

func (s *topicSender) publisher(topic string) *gcppubsub.Publisher {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pub, ok := s.publishers[topic]; ok {
		return pub
	}
	pub := s.client.Publisher(topic)
	if pub != nil {
		s.publishers[topic] = pub
	}
	return pub
}

// Stop flushes pending messages on every cached publisher.
func (s *topicSender) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic, pub := range s.publishers {
		pub.Stop()
		delete(s.publishers, topic)
	}
}
