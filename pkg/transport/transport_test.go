package transport

import (
	"fmt"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultease/consultease/pkg/config"
)

// fakeToken completes immediately with a canned error.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{err: err, done: done}
}

func (*fakeToken) Wait() bool                     { return true }
func (*fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}        { return t.done }
func (t *fakeToken) Error() error                 { return t.err }

// fakeClient records publishes and subscriptions in place of a broker.
type fakeClient struct {
	mu         sync.Mutex
	connected  bool
	publishErr error
	published  []Message
	subscribed []string
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return newFakeToken(nil)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return newFakeToken(c.publishErr)
	}
	c.published = append(c.published, Message{
		Topic:   topic,
		QoS:     qos,
		Retain:  retained,
		Payload: payload.([]byte),
	})
	return newFakeToken(nil)
}

func (c *fakeClient) Subscribe(topic string, _ byte, _ mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	c.subscribed = append(c.subscribed, topic)
	c.mu.Unlock()
	return newFakeToken(nil)
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) publishedTopics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]string, len(c.published))
	for i, m := range c.published {
		topics[i] = m.Topic
	}
	return topics
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		BrokerHost:       "localhost",
		BrokerPort:       1883,
		BatchSize:        3,
		BatchTimeoutMs:   20,
		OfflineQueueSize: 5,
	}
}

func startTransport(t *testing.T, cfg config.MQTTConfig, subs []Subscription, handler Handler) (*Transport, *fakeClient) {
	t.Helper()
	client := &fakeClient{}
	tr := New(cfg, subs, handler, nil)
	tr.newClient = func(*mqtt.ClientOptions) pahoClient { return client }
	require.NoError(t, tr.Start())
	t.Cleanup(tr.Stop)
	return tr, client
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPublishCriticalBypassesBatch(t *testing.T) {
	t.Parallel()

	tr, client := startTransport(t, testConfig(), nil, nil)

	require.NoError(t, tr.Publish(Message{Topic: "consultease/faculty/1/requests", Payload: []byte("x"), Critical: true}))

	waitFor(t, func() bool { return len(client.publishedTopics()) == 1 })
}

func TestBatchFlushesAtSize(t *testing.T) {
	t.Parallel()

	tr, client := startTransport(t, testConfig(), nil, nil)

	for i := range 3 {
		require.NoError(t, tr.Publish(Message{
			Topic:   fmt.Sprintf("consultease/system/notifications/%d", i),
			Payload: []byte("n"),
		}))
	}

	waitFor(t, func() bool { return len(client.publishedTopics()) == 3 })
}

func TestBatchFlushesOnTimeout(t *testing.T) {
	t.Parallel()

	tr, client := startTransport(t, testConfig(), nil, nil)

	require.NoError(t, tr.Publish(Message{Topic: "consultease/system/notifications", Payload: []byte("n")}))

	waitFor(t, func() bool { return len(client.publishedTopics()) == 1 })
}

func TestOfflineQueueHoldsWhileDisconnected(t *testing.T) {
	t.Parallel()

	tr, client := startTransport(t, testConfig(), nil, nil)
	client.mu.Lock()
	client.connected = false
	client.mu.Unlock()

	require.NoError(t, tr.Publish(Message{Topic: "t/1", Payload: []byte("x"), Critical: true}))
	waitFor(t, func() bool { return tr.OfflineDepth() == 1 })
	assert.Empty(t, client.publishedTopics())

	// Reconnect drains the queue in order.
	client.mu.Lock()
	client.connected = true
	client.mu.Unlock()
	tr.onConnect(nil)

	waitFor(t, func() bool { return len(client.publishedTopics()) == 1 })
	assert.Equal(t, 0, tr.OfflineDepth())
}

func TestOfflineQueueEvictsOldestAtCapacity(t *testing.T) {
	t.Parallel()

	q := newOfflineQueue(2)
	q.Push(Message{Topic: "a"})
	q.Push(Message{Topic: "b"})

	evicted, ok := q.Push(Message{Topic: "c"})
	require.True(t, ok)
	assert.Equal(t, "a", evicted.Topic)

	first, _ := q.Pop()
	second, _ := q.Pop()
	assert.Equal(t, "b", first.Topic)
	assert.Equal(t, "c", second.Topic)
	_, more := q.Pop()
	assert.False(t, more)
}

func TestOnConnectReappliesSubscriptions(t *testing.T) {
	t.Parallel()

	subs := []Subscription{
		{Pattern: "consultease/faculty/+/status", QoS: 1},
		{Pattern: "consultease/faculty/+/responses", QoS: 1},
	}
	tr, client := startTransport(t, testConfig(), subs, nil)

	tr.onConnect(nil)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Contains(t, client.subscribed, "consultease/faculty/+/status")
	assert.Contains(t, client.subscribed, "consultease/faculty/+/responses")
}

func TestInboundMessagesArriveInOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var got []string
	handler := func(topic string, _ []byte) {
		mu.Lock()
		got = append(got, topic)
		mu.Unlock()
	}
	tr, _ := startTransport(t, testConfig(), nil, handler)

	for i := range 10 {
		tr.receive(fmt.Sprintf("consultease/faculty/%d/status", i), []byte("{}"))
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 10
	})
	mu.Lock()
	defer mu.Unlock()
	for i, topic := range got {
		assert.Equal(t, fmt.Sprintf("consultease/faculty/%d/status", i), topic)
	}
}

func TestStopClearsClientHandle(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	tr := New(testConfig(), nil, nil, nil)
	tr.newClient = func(*mqtt.ClientOptions) pahoClient { return client }
	require.NoError(t, tr.Start())

	tr.Stop()

	assert.False(t, tr.Connected())
	assert.False(t, client.IsConnected())
	assert.Error(t, tr.Publish(Message{Topic: "t"}))

	// Stop is idempotent.
	assert.NotPanics(t, tr.Stop)
}
