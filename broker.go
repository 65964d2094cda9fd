package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mgrantham/solarexportctl/config"
)

// brokerEvent is pushed onto the session's event channel by paho's
// callbacks (which run on paho's own goroutines) and consumed exclusively
// by Run's main loop, preserving a single-writer over application state.
type brokerEvent struct {
	kind          brokerEventKind
	disconnectErr error
	topic         string
	payload       []byte
}

type brokerEventKind int

const (
	eventConnectSuccess brokerEventKind = iota
	eventDisconnect
	eventMessage
)

// TopicHandler is invoked on the main loop goroutine for messages received
// on the exact topic it was registered for.
type TopicHandler func(payload []byte)

// Broker is the subset of BrokerSession that MetaSurface and Agent depend
// on, so both can be exercised in tests against a fake.
type Broker interface {
	Publish(topic, payload string, qos byte, retain bool) mqtt.Token
	Subscribe(topic string, qos byte, handler TopicHandler)
	Unsubscribe(topic string)
	UnsubscribeMany(topics []string)
	UnsubscribeAll()
}

// BrokerSession owns the paho client, subscription bookkeeping, and the
// single-goroutine event loop that drives connect/reconnect/dispatch.
type BrokerSession struct {
	cfg    config.BrokerConfig
	client mqtt.Client
	events chan brokerEvent

	mu       sync.Mutex
	subs     map[string]struct{}
	handlers map[string]TopicHandler

	OnConnectSuccess func()
	OnConnectError   func(reasonCode byte)
	OnDisconnect     func(err error)

	newClient func(opts *mqtt.ClientOptions) mqtt.Client
}

// NewBrokerSession builds a session for cfg. willTopic/willPayload are
// installed as the last-will before every connect attempt.
func NewBrokerSession(cfg config.BrokerConfig, willTopic, willPayload string) *BrokerSession {
	s := &BrokerSession{
		cfg:       cfg,
		events:    make(chan brokerEvent, 32),
		subs:      make(map[string]struct{}),
		handlers:  make(map[string]TopicHandler),
		newClient: mqtt.NewClient,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetKeepAlive(time.Duration(cfg.Keepalive) * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetryInterval(0)
	opts.SetConnectTimeout(10 * time.Second)

	if cfg.Auth != nil {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetWill(willTopic, willPayload, 0, true)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		s.events <- brokerEvent{kind: eventConnectSuccess}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.events <- brokerEvent{kind: eventDisconnect, disconnectErr: err}
	})

	s.client = s.newClient(opts)
	return s
}

// Subscribe registers handler for topic (duplicate subscribe is a no-op)
// and issues the broker subscription.
func (s *BrokerSession) Subscribe(topic string, qos byte, handler TopicHandler) {
	s.mu.Lock()
	if _, ok := s.subs[topic]; ok {
		s.mu.Unlock()
		return
	}
	s.subs[topic] = struct{}{}
	s.handlers[topic] = handler
	s.mu.Unlock()

	token := s.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		s.events <- brokerEvent{kind: eventMessage, topic: msg.Topic(), payload: msg.Payload()}
	})
	if token.Wait() && token.Error() != nil {
		log.Printf("broker: failed to subscribe to %q: %v", topic, token.Error())
	}
}

// Unsubscribe removes topic (unsubscribe of a non-member is a no-op).
func (s *BrokerSession) Unsubscribe(topic string) {
	s.mu.Lock()
	if _, ok := s.subs[topic]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.subs, topic)
	delete(s.handlers, topic)
	s.mu.Unlock()

	token := s.client.Unsubscribe(topic)
	if token.Wait() && token.Error() != nil {
		log.Printf("broker: failed to unsubscribe from %q: %v", topic, token.Error())
	}
}

// UnsubscribeMany unsubscribes every topic in topics.
func (s *BrokerSession) UnsubscribeMany(topics []string) {
	if len(topics) == 0 {
		return
	}
	for _, topic := range topics {
		s.Unsubscribe(topic)
	}
}

// UnsubscribeAll unsubscribes every currently-subscribed topic.
func (s *BrokerSession) UnsubscribeAll() {
	s.mu.Lock()
	topics := make([]string, 0, len(s.subs))
	for topic := range s.subs {
		topics = append(topics, topic)
	}
	s.mu.Unlock()
	s.UnsubscribeMany(topics)
}

// Publish publishes payload to topic; the returned token is advisory only.
func (s *BrokerSession) Publish(topic, payload string, qos byte, retain bool) mqtt.Token {
	return s.client.Publish(topic, qos, retain, payload)
}

// resetBookkeeping clears SubscriptionSet bookkeeping; called on
// connect-success and on disconnect.
func (s *BrokerSession) resetBookkeeping() {
	s.mu.Lock()
	s.subs = make(map[string]struct{})
	s.handlers = make(map[string]TopicHandler)
	s.mu.Unlock()
}

// Run drives the session: connects, then loops handling broker events and
// draining scheduler due actions, reconnecting with backoff on disconnect.
// It returns when ctx is cancelled.
func (s *BrokerSession) Run(ctx context.Context, scheduler *Scheduler) {
	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}

		log.Println("broker: connecting...")
		token := s.client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("broker: connect failed: %v", err)
			if s.OnConnectError != nil {
				s.OnConnectError(0)
			}
			if !s.backoff(ctx, &attempt) {
				return
			}
			continue
		}

		if !s.pumpUntilDisconnect(ctx, scheduler, &attempt) {
			return
		}
	}
}

// pumpUntilDisconnect processes events and drains the scheduler until a
// disconnect event arrives or ctx is cancelled. Returns false if ctx was
// cancelled (caller should stop), true if it should reconnect.
func (s *BrokerSession) pumpUntilDisconnect(ctx context.Context, scheduler *Scheduler, attempt *int) bool {
	poll := time.NewTicker(1 * time.Second)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.client.IsConnected() {
				s.client.Disconnect(250)
			}
			return false

		case ev := <-s.events:
			switch ev.kind {
			case eventConnectSuccess:
				*attempt = 0
				s.resetBookkeeping()
				if s.OnConnectSuccess != nil {
					s.OnConnectSuccess()
				}

			case eventDisconnect:
				log.Printf("broker: disconnected: %v", ev.disconnectErr)
				s.resetBookkeeping()
				scheduler.Clear()
				if s.OnDisconnect != nil {
					s.OnDisconnect(ev.disconnectErr)
				}
				if !s.backoff(ctx, attempt) {
					return false
				}
				return true

			case eventMessage:
				s.mu.Lock()
				handler := s.handlers[ev.topic]
				s.mu.Unlock()
				if handler != nil {
					handler(ev.payload)
				}
			}

		case <-poll.C:
			for _, action := range scheduler.DrainDue() {
				runScheduledAction(action)
			}
		}
	}
}

// backoffDelay returns min(2*attempt, 60) seconds.
func backoffDelay(attempt int) time.Duration {
	delay := time.Duration(attempt) * 2 * time.Second
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	return delay
}

// backoff sleeps backoffDelay(attempt) before the next reconnect attempt,
// incrementing attempt. Returns false if ctx is cancelled mid-sleep.
func (s *BrokerSession) backoff(ctx context.Context, attempt *int) bool {
	*attempt++
	delay := backoffDelay(*attempt)
	log.Printf("broker: [%d] reconnecting in %s...", *attempt, delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// runScheduledAction executes a due scheduler action, catching and logging
// any panic so a single bad action cannot abort the loop.
func runScheduledAction(action func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("broker: scheduled action failed: %v", r)
		}
	}()
	action()
}
