// Package inproc implements the message broker port as an in-process pub-sub
// hub. It is the transport used by tests and by single-process deployments
// where the commitment service and the trading nodes share one daemon.
package inproc

import (
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/thanhpk/randstr"

	"github.com/swapmesh-network/swapmesh-daemon/internal/core/domain"
	"github.com/swapmesh-network/swapmesh-daemon/internal/core/ports"
)

const subscriptionBufferSize = 64

type subscription struct {
	id    string
	topic string
	ch    chan domain.SignedMessage

	broker    *broker
	closeOnce sync.Once
}

func (s *subscription) Messages() <-chan domain.SignedMessage { return s.ch }

func (s *subscription) Close() {
	s.closeOnce.Do(func() { s.broker.unsubscribe(s) })
}

type broker struct {
	lock sync.RWMutex
	// subs maps topic to subscription id to subscription.
	subs map[string]map[string]*subscription
}

// NewService returns an in-process message broker.
func NewService() ports.MessageBroker {
	return &broker{subs: make(map[string]map[string]*subscription)}
}

func (b *broker) SendTo(topic string, msg domain.SignedMessage) bool {
	return b.publish(topic, msg)
}

func (b *broker) Broadcast(msg domain.SignedMessage) bool {
	return b.publish(ports.BroadcastTopic, msg)
}

func (b *broker) Subscribe(topic string) ports.Subscription {
	sub := &subscription{
		id:     randstr.Hex(8),
		topic:  topic,
		ch:     make(chan domain.SignedMessage, subscriptionBufferSize),
		broker: b,
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	if _, ok := b.subs[topic]; !ok {
		b.subs[topic] = make(map[string]*subscription)
	}
	b.subs[topic][sub.id] = sub
	return sub
}

// publish delivers the message to every subscriber of the topic without
// blocking. A subscriber whose buffer is full misses the message, matching
// the best-effort delivery contract of the port. The returned flag reports
// whether at least one subscriber received the message.
func (b *broker) publish(topic string, msg domain.SignedMessage) bool {
	b.lock.RLock()
	defer b.lock.RUnlock()

	delivered := false
	for _, sub := range b.subs[topic] {
		select {
		case sub.ch <- msg:
			delivered = true
		default:
			log.Debugf(
				"dropping %s message for slow subscriber on topic %s",
				msg.Type(), topic,
			)
		}
	}
	return delivered
}

// unsubscribe removes the subscription and closes its channel. Closing under
// the write lock excludes concurrent publishes, which hold the read lock.
func (b *broker) unsubscribe(sub *subscription) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if topicSubs, ok := b.subs[sub.topic]; ok {
		delete(topicSubs, sub.id)
		if len(topicSubs) == 0 {
			delete(b.subs, sub.topic)
		}
	}
	close(sub.ch)
}
