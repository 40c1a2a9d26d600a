// Package bridge fans realtime engagement events out to observers across
// instances. Publishing never blocks the caller.
package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/recrutai/engage-server-go/internal/observability"
	redisclient "github.com/recrutai/engage-server-go/internal/redis"
)

const (
	publishBuffer  = 512
	observerBuffer = 100
	publishTimeout = 2 * time.Second
)

// Outbound event types pushed to observers.
const (
	EventConnectionEstablished = "connection_established"
	EventSessionStatus         = "session_status"
	EventQRCode                = "qr_code"
	EventNewMessage            = "new_message"
	EventMessageSent           = "message_sent"
	EventError                 = "error"
)

// Topic kinds.
const (
	TopicSession   = "session"
	TopicTenant    = "tenant"
	TopicCandidate = "candidato"
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func NewEvent(eventType string, data any) Event {
	raw, ok := data.(json.RawMessage)
	if !ok {
		raw, _ = json.Marshal(data)
	}
	return Event{Type: eventType, Data: raw}
}

// Transport carries serialized events between instances.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe delivers payloads published on channel until ctx is done.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

type Observer struct {
	ID     string
	Events chan Event
	Done   chan struct{}

	mu     sync.Mutex
	topics map[string]bool
}

func (o *Observer) Topics() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	topics := make([]string, 0, len(o.topics))
	for t := range o.topics {
		topics = append(topics, t)
	}
	return topics
}

type outgoing struct {
	topics []string
	event  Event
}

type topicState struct {
	observers map[*Observer]bool
	cancel    context.CancelFunc
}

type Bridge struct {
	transport Transport
	out       chan outgoing

	mu     sync.RWMutex
	topics map[string]*topicState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(transport Transport) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		transport: transport,
		out:       make(chan outgoing, publishBuffer),
		topics:    make(map[string]*topicState),
		ctx:       ctx,
		cancel:    cancel,
	}
	b.wg.Add(1)
	go b.publishLoop()
	return b
}

// Emit queues event for every topic. A full buffer drops the event.
func (b *Bridge) Emit(event Event, topics ...string) {
	if len(topics) == 0 {
		return
	}
	select {
	case b.out <- outgoing{topics: topics, event: event}:
	default:
		observability.BridgeDropped.Inc()
		log.Warn().Str("type", event.Type).Strs("topics", topics).Msg("bridge buffer full, dropping event")
	}
}

// EmitSession publishes to the session topic and, when known, its tenant.
func (b *Bridge) EmitSession(sessionID, tenantID string, event Event) {
	topics := []string{redisclient.Topic(TopicSession, sessionID)}
	if tenantID != "" {
		topics = append(topics, redisclient.Topic(TopicTenant, tenantID))
	}
	b.Emit(event, topics...)
}

func (b *Bridge) publishLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case msg := <-b.out:
			data, err := json.Marshal(msg.event)
			if err != nil {
				log.Error().Err(err).Str("type", msg.event.Type).Msg("failed to marshal event")
				continue
			}
			for _, topic := range msg.topics {
				ctx, cancel := context.WithTimeout(b.ctx, publishTimeout)
				if err := b.transport.Publish(ctx, redisclient.EventChannel(topic), data); err != nil {
					log.Warn().Err(err).Str("topic", topic).Msg("failed to publish event")
				}
				cancel()
			}
		}
	}
}

func (b *Bridge) NewObserver(id string) *Observer {
	return &Observer{
		ID:     id,
		Events: make(chan Event, observerBuffer),
		Done:   make(chan struct{}),
		topics: make(map[string]bool),
	}
}

// Subscribe attaches o to topic, opening the upstream subscription for the
// first observer of that topic. The upstream round trip runs without b.mu so
// broadcasts on other topics keep flowing.
func (b *Bridge) Subscribe(o *Observer, topic string) error {
	o.mu.Lock()
	already := o.topics[topic]
	o.topics[topic] = true
	o.mu.Unlock()
	if already {
		return nil
	}

	if b.attach(o, topic) {
		return nil
	}

	ctx, cancel := context.WithCancel(b.ctx)
	ch, err := b.transport.Subscribe(ctx, redisclient.EventChannel(topic))
	if err != nil {
		cancel()
		o.mu.Lock()
		delete(o.topics, topic)
		o.mu.Unlock()
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ctx.Err(); err != nil {
		cancel()
		o.mu.Lock()
		delete(o.topics, topic)
		o.mu.Unlock()
		return err
	}
	state, ok := b.topics[topic]
	if ok {
		// another observer opened the topic meanwhile
		cancel()
	} else {
		state = &topicState{observers: make(map[*Observer]bool), cancel: cancel}
		b.topics[topic] = state
		b.wg.Add(1)
		go b.relay(topic, ch)
	}
	state.observers[o] = true

	log.Debug().
		Str("observerId", o.ID).
		Str("topic", topic).
		Int("observerCount", len(state.observers)).
		Msg("observer subscribed")
	return nil
}

// attach adds o to an already open topic.
func (b *Bridge) attach(o *Observer, topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.topics[topic]
	if !ok {
		return false
	}
	state.observers[o] = true
	log.Debug().
		Str("observerId", o.ID).
		Str("topic", topic).
		Int("observerCount", len(state.observers)).
		Msg("observer subscribed")
	return true
}

// Unsubscribe detaches o from every topic and closes its Done channel.
func (b *Bridge) Unsubscribe(o *Observer) {
	o.mu.Lock()
	topics := o.topics
	o.topics = make(map[string]bool)
	o.mu.Unlock()

	b.mu.Lock()
	for topic := range topics {
		state, ok := b.topics[topic]
		if !ok {
			continue
		}
		delete(state.observers, o)
		if len(state.observers) == 0 {
			state.cancel()
			delete(b.topics, topic)
		}
	}
	b.mu.Unlock()

	select {
	case <-o.Done:
	default:
		close(o.Done)
	}
}

func (b *Bridge) relay(topic string, ch <-chan []byte) {
	defer b.wg.Done()

	for payload := range ch {
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("failed to unmarshal event")
			continue
		}
		b.broadcast(topic, event)
	}
}

func (b *Bridge) broadcast(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	state, ok := b.topics[topic]
	if !ok {
		return
	}
	for o := range state.observers {
		select {
		case o.Events <- event:
		default:
			log.Warn().
				Str("observerId", o.ID).
				Str("topic", topic).
				Msg("observer buffer full, dropping event")
		}
	}
}

func (b *Bridge) ObserverCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if state, ok := b.topics[topic]; ok {
		return len(state.observers)
	}
	return 0
}

// Close stops publishing and releases every subscription.
func (b *Bridge) Close() {
	b.cancel()

	b.mu.Lock()
	for _, state := range b.topics {
		state.cancel()
		for o := range state.observers {
			select {
			case <-o.Done:
			default:
				close(o.Done)
			}
		}
	}
	b.topics = make(map[string]*topicState)
	b.mu.Unlock()

	b.wg.Wait()
}
