// Package transport implements the asynchronous MQTT client that connects
// the core to the desk-unit fleet.
//
// Publish is non-blocking: messages are enqueued and delivered by one
// background worker, with batching for non-critical traffic and a bounded
// offline queue while the broker is unreachable. Inbound messages flow
// through a second worker so handlers observe broker order. Callers never
// block on the broker.
package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/consultease/consultease/pkg/config"
	cerrors "github.com/consultease/consultease/pkg/errors"
	"github.com/consultease/consultease/pkg/logger"
)

const (
	// connectTimeout bounds the initial broker handshake.
	connectTimeout = 10 * time.Second
	// publishWaitTimeout bounds one broker acknowledgment wait.
	publishWaitTimeout = 5 * time.Second
	// maxReconnectInterval caps paho's reconnect backoff.
	maxReconnectInterval = 60 * time.Second
	// keepAlive is delegated to paho; no manual probes are synthesized.
	keepAlive = 30 * time.Second
	// disconnectQuiesce is how long Disconnect lets in-flight work settle.
	disconnectQuiesce = 250 * time.Millisecond
	// publishQueueDepth is the channel buffer between callers and the
	// publish worker.
	publishQueueDepth = 256
	// maxPublishRetries caps delivery attempts per message.
	maxPublishRetries = 3
	// retryInitialInterval seeds the publish retry backoff.
	retryInitialInterval = 500 * time.Millisecond
)

// Message is one outbound MQTT publication.
type Message struct {
	// Topic is the full destination topic.
	Topic string
	// Payload is the encoded body.
	Payload []byte
	// QoS is the MQTT quality-of-service level.
	QoS byte
	// Retain marks the message as broker-retained.
	Retain bool
	// Critical bypasses batching. Presence updates and consultation
	// responses are critical; notifications are not.
	Critical bool

	// retries counts delivery attempts while the message sits in the
	// offline queue.
	retries int
}

// Publisher is the outbound surface the rest of the core depends on.
type Publisher interface {
	// Publish enqueues msg for asynchronous delivery. It returns an error
	// only when the transport has been stopped or the internal queue is
	// saturated; delivery itself is best-effort at-least-once.
	Publish(msg Message) error
}

// Handler consumes one inbound message.
type Handler func(topic string, payload []byte)

// Subscription declares one broker subscription, re-applied on every
// reconnect.
type Subscription struct {
	// Pattern is the topic filter, possibly with wildcards.
	Pattern string
	// QoS is the requested quality-of-service level.
	QoS byte
}

// pahoClient is the slice of mqtt.Client the transport uses; a fake
// stands in for it in tests.
type pahoClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	IsConnected() bool
}

// inbound is one received message handed from paho to the inbound worker.
type inbound struct {
	topic   string
	payload []byte
}

// Transport is the MQTT client. Create with New, then Start.
type Transport struct {
	cfg     config.MQTTConfig
	subs    []Subscription
	handler Handler
	metrics *Metrics

	// newClient builds the paho client; tests swap it for a fake factory.
	newClient func(opts *mqtt.ClientOptions) pahoClient

	mu           sync.Mutex
	client       pahoClient
	started      bool
	stopped      bool
	lastActivity time.Time

	offline *offlineQueue

	publishCh chan Message
	inboundCh chan inbound
	flushCh   chan struct{}
	stopCh    chan struct{}
	doneWg    sync.WaitGroup
}

var _ Publisher = (*Transport)(nil)

// New creates a transport for the given broker configuration. The handler
// receives every inbound message, in broker order, from a single goroutine.
func New(cfg config.MQTTConfig, subs []Subscription, handler Handler, metrics *Metrics) *Transport {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Transport{
		cfg:     cfg,
		subs:    subs,
		handler: handler,
		metrics: metrics,
		newClient: func(opts *mqtt.ClientOptions) pahoClient {
			return mqtt.NewClient(opts)
		},
		offline:   newOfflineQueue(cfg.OfflineQueueSize),
		publishCh: make(chan Message, publishQueueDepth),
		inboundCh: make(chan inbound, publishQueueDepth),
		flushCh:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start connects to the broker and launches the worker goroutines. The
// initial connect failure is not fatal: paho keeps retrying in the
// background and messages accumulate in the offline queue meanwhile.
func (t *Transport) Start() error {
	t.mu.Lock()
	if t.started || t.stopped {
		t.mu.Unlock()
		return cerrors.NewFatalError("transport already started or stopped", nil)
	}
	t.started = true

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", t.cfg.BrokerHost, t.cfg.BrokerPort))
	opts.SetClientID("consultease-core-" + uuid.NewString()[:8])
	if !t.cfg.Anonymous() {
		opts.SetUsername(t.cfg.Username)
		opts.SetPassword(t.cfg.Password)
	} else {
		logger.Warn("connecting to MQTT broker without credentials")
	}
	opts.SetKeepAlive(keepAlive)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(maxReconnectInterval)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(retryInitialInterval)
	opts.SetOrderMatters(true)
	opts.SetOnConnectHandler(t.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warnw("MQTT connection lost", "error", err)
	})

	t.client = t.newClient(opts)
	client := t.client
	t.mu.Unlock()

	token := client.Connect()
	if token.WaitTimeout(connectTimeout) && token.Error() != nil {
		logger.Warnw("initial MQTT connect failed; retrying in background",
			"broker", t.cfg.BrokerHost, "error", token.Error())
	}

	t.doneWg.Add(2)
	go t.publishLoop()
	go t.inboundLoop()
	return nil
}

// onConnect re-applies subscriptions and drains the offline queue. Paho
// invokes it on the first connect and on every reconnect.
func (t *Transport) onConnect(_ mqtt.Client) {
	logger.Infow("MQTT connected", "broker", t.cfg.BrokerHost, "port", t.cfg.BrokerPort)
	t.metrics.Reconnects.Inc()
	t.touch()

	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return
	}

	for _, sub := range t.subs {
		pattern := sub.Pattern
		token := client.Subscribe(pattern, sub.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			t.receive(msg.Topic(), msg.Payload())
		})
		if token.WaitTimeout(connectTimeout) && token.Error() != nil {
			logger.Errorw("MQTT subscribe failed", "pattern", pattern, "error", token.Error())
		}
	}

	// Nudge the publish worker so queued offline messages drain in order.
	select {
	case t.flushCh <- struct{}{}:
	default:
	}
}

// receive hands one inbound message to the ordered handler worker.
func (t *Transport) receive(topic string, payload []byte) {
	t.touch()
	t.metrics.Received.Inc()
	select {
	case t.inboundCh <- inbound{topic: topic, payload: append([]byte(nil), payload...)}:
	case <-t.stopCh:
	}
}

// Publish enqueues msg for asynchronous delivery.
func (t *Transport) Publish(msg Message) error {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if stopped {
		return cerrors.NewFatalError("transport is stopped", nil)
	}

	select {
	case t.publishCh <- msg:
		return nil
	default:
		t.metrics.Dropped.Inc()
		return cerrors.NewTransientError("publish queue is full", nil)
	}
}

// Connected reports whether the broker link is currently up.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client != nil && t.client.IsConnected()
}

// LastActivity returns the time of the most recent broker traffic.
func (t *Transport) LastActivity() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastActivity
}

func (t *Transport) touch() {
	t.mu.Lock()
	t.lastActivity = time.Now()
	t.mu.Unlock()
}

// Stop shuts the transport down: workers exit, the client disconnects,
// and the handle is cleared so no residual references remain.
func (t *Transport) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	started := t.started
	t.mu.Unlock()

	close(t.stopCh)
	if started {
		t.doneWg.Wait()
	}

	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()

	if client != nil {
		client.Disconnect(uint(disconnectQuiesce.Milliseconds()))
	}
	logger.Info("MQTT transport stopped")
}

// publishLoop services the publish queue: batches non-critical messages,
// sends critical ones immediately, and spills to the offline queue while
// the broker is unreachable.
func (t *Transport) publishLoop() {
	defer t.doneWg.Done()

	batch := make([]Message, 0, t.cfg.BatchSize)
	timer := time.NewTimer(t.cfg.BatchTimeout())
	if !timer.Stop() {
		<-timer.C
	}
	timerArmed := false

	flushBatch := func() {
		if timerArmed {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timerArmed = false
		}
		if len(batch) == 0 {
			return
		}
		t.metrics.Batched.Add(float64(len(batch)))
		for _, m := range batch {
			t.deliver(m)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-t.stopCh:
			flushBatch()
			return
		case <-timer.C:
			timerArmed = false
			flushBatch()
		case <-t.flushCh:
			t.drainOffline()
		case msg := <-t.publishCh:
			if msg.Critical {
				t.deliver(msg)
				continue
			}
			batch = append(batch, msg)
			if len(batch) >= t.cfg.BatchSize {
				flushBatch()
				continue
			}
			if !timerArmed {
				timer.Reset(t.cfg.BatchTimeout())
				timerArmed = true
			}
		}
	}
}

// inboundLoop delivers received messages to the handler one at a time so
// the router observes broker order.
func (t *Transport) inboundLoop() {
	defer t.doneWg.Done()
	for {
		select {
		case <-t.stopCh:
			return
		case in := <-t.inboundCh:
			if t.handler != nil {
				t.handler(in.topic, in.payload)
			}
		}
	}
}

// deliver attempts one message with bounded retries, spilling to the
// offline queue when the broker is unreachable or retries are exhausted.
func (t *Transport) deliver(msg Message) {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()

	if client == nil || !client.IsConnected() {
		t.enqueueOffline(msg)
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = maxReconnectInterval

	var lastErr error
	for attempt := 0; attempt < maxPublishRetries; attempt++ {
		if attempt > 0 {
			t.metrics.Retries.Inc()
			select {
			case <-time.After(bo.NextBackOff()):
			case <-t.stopCh:
				return
			}
		}
		token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
		if !token.WaitTimeout(publishWaitTimeout) {
			lastErr = cerrors.NewTransientError("publish acknowledgment timed out", nil)
			continue
		}
		if err := token.Error(); err != nil {
			lastErr = err
			continue
		}
		t.metrics.Published.Inc()
		t.touch()
		return
	}

	logger.Warnw("publish failed; queueing offline", "topic", msg.Topic, "error", lastErr)
	t.enqueueOffline(msg)
}

// enqueueOffline stores msg for redelivery, respecting the per-message
// retry cap and evicting the oldest entry when the queue is full.
func (t *Transport) enqueueOffline(msg Message) {
	msg.retries++
	if msg.retries > maxPublishRetries {
		t.metrics.Dropped.Inc()
		logger.Warnw("dropping message after retry cap", "topic", msg.Topic)
		return
	}
	if evicted, ok := t.offline.Push(msg); ok {
		t.metrics.Dropped.Inc()
		logger.Warnw("offline queue full; evicted oldest", "topic", evicted.Topic)
	}
}

// drainOffline replays queued messages in order after a reconnect.
func (t *Transport) drainOffline() {
	for {
		msg, ok := t.offline.Pop()
		if !ok {
			return
		}
		t.deliver(msg)
	}
}

// OfflineDepth returns how many messages wait in the offline queue.
func (t *Transport) OfflineDepth() int {
	return t.offline.Len()
}
