// Package ws implements the message broker port as a client of an external
// websocket pub-sub endpoint. Frames are JSON envelopes carrying the topic,
// the wire type of the message and its payload.
package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/thanhpk/randstr"

	"github.com/swapmesh-network/swapmesh-daemon/internal/core/domain"
	"github.com/swapmesh-network/swapmesh-daemon/internal/core/ports"
)

const (
	subscriptionBufferSize = 64
	writeTimeout           = 10 * time.Second
)

// envelope is the frame format exchanged with the broker endpoint. Subscribe
// and unsubscribe frames carry only the topic.
type envelope struct {
	Action  string          `json:"action,omitempty"`
	Topic   string          `json:"topic"`
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
)

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
	conn *websocket.Conn

	writeLock sync.Mutex
	lock      sync.RWMutex
	subs      map[string]map[string]*subscription
}

// NewService dials the broker endpoint and starts the read loop. The
// connection is closed when Shutdown is called.
func NewService(endpoint string) (ports.MessageBroker, error) {
	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		return nil, err
	}

	b := &broker{
		conn: conn,
		subs: make(map[string]map[string]*subscription),
	}
	go b.readLoop()
	return b, nil
}

func (b *broker) SendTo(topic string, msg domain.SignedMessage) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.WithError(err).Errorf("failed to encode %s message", msg.Type())
		return false
	}
	return b.write(envelope{Topic: topic, Type: msg.Type(), Payload: payload})
}

func (b *broker) Broadcast(msg domain.SignedMessage) bool {
	return b.SendTo(ports.BroadcastTopic, msg)
}

func (b *broker) Subscribe(topic string) ports.Subscription {
	sub := &subscription{
		id:     randstr.Hex(8),
		topic:  topic,
		ch:     make(chan domain.SignedMessage, subscriptionBufferSize),
		broker: b,
	}

	b.lock.Lock()
	topicSubs, ok := b.subs[topic]
	if !ok {
		topicSubs = make(map[string]*subscription)
		b.subs[topic] = topicSubs
	}
	topicSubs[sub.id] = sub
	first := len(topicSubs) == 1
	b.lock.Unlock()

	if first {
		b.write(envelope{Action: actionSubscribe, Topic: topic})
	}
	return sub
}

// Shutdown closes the connection, which terminates the read loop and closes
// all subscription channels.
func (b *broker) Shutdown() error {
	return b.conn.Close()
}

func (b *broker) write(env envelope) bool {
	b.writeLock.Lock()
	defer b.writeLock.Unlock()

	if err := b.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return false
	}
	if err := b.conn.WriteJSON(env); err != nil {
		log.WithError(err).Warn("websocket write failed")
		return false
	}
	return true
}

func (b *broker) readLoop() {
	defer b.closeAll()

	for {
		var env envelope
		if err := b.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
			) {
				log.WithError(err).Warn("websocket connection dropped")
			}
			return
		}

		msg, err := domain.EmptyMessageOfType(env.Type)
		if err != nil {
			log.WithError(err).Debug("dropping frame of unknown message type")
			continue
		}
		if err := json.Unmarshal(env.Payload, msg); err != nil {
			log.WithError(err).Debugf("dropping malformed %s frame", env.Type)
			continue
		}
		b.dispatch(env.Topic, msg)
	}
}

func (b *broker) dispatch(topic string, msg domain.SignedMessage) {
	b.lock.RLock()
	defer b.lock.RUnlock()

	for _, sub := range b.subs[topic] {
		select {
		case sub.ch <- msg:
		default:
			log.Debugf(
				"dropping %s message for slow subscriber on topic %s",
				msg.Type(), topic,
			)
		}
	}
}

func (b *broker) unsubscribe(sub *subscription) {
	b.lock.Lock()
	last := false
	if topicSubs, ok := b.subs[sub.topic]; ok {
		if _, ok := topicSubs[sub.id]; ok {
			delete(topicSubs, sub.id)
			// the read loop may have torn everything down already
			close(sub.ch)
		}
		if len(topicSubs) == 0 {
			delete(b.subs, sub.topic)
			last = true
		}
	}
	b.lock.Unlock()

	if last {
		b.write(envelope{Action: actionUnsubscribe, Topic: sub.topic})
	}
}

func (b *broker) closeAll() {
	b.lock.Lock()
	defer b.lock.Unlock()

	for topic, topicSubs := range b.subs {
		for id, sub := range topicSubs {
			close(sub.ch)
			delete(topicSubs, id)
		}
		delete(b.subs, topic)
	}
}
