package ports

import "github.com/swapmesh-network/swapmesh-daemon/internal/core/domain"

// BroadcastTopic is the topic every node listens on for market-wide messages.
const BroadcastTopic = "broadcast"

// Subscription is a stream of messages for one topic.
type Subscription interface {
	// Messages returns the channel incoming messages are delivered on. The
	// channel is closed when the subscription is closed.
	Messages() <-chan domain.SignedMessage
	// Close cancels the subscription.
	Close()
}

// MessageBroker is the pub-sub transport connecting trading nodes and
// commitment services. Topics are canonical node addresses, plus the
// broadcast topic. Delivery is at-least-once, unordered, best-effort; send
// results report acceptance by the broker, not delivery.
type MessageBroker interface {
	// SendTo delivers a message to one topic.
	SendTo(topic string, msg domain.SignedMessage) bool
	// Broadcast delivers a message to all nodes.
	Broadcast(msg domain.SignedMessage) bool
	// Subscribe starts listening on a topic.
	Subscribe(topic string) Subscription
}
