package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/furnistore/internal/domain"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"go.uber.org/zap/zaptest"
	"gotest.tools/v3/assert"
)

type mockReader struct {
	msgs   []kafkaGo.Message
	err    error
	closed bool
}

func (m *mockReader) ReadMessage(ctx context.Context) (kafkaGo.Message, error) {
	if m.err != nil {
		return kafkaGo.Message{}, m.err
	}
	if len(m.msgs) == 0 {
		<-ctx.Done()
		return kafkaGo.Message{}, ctx.Err()
	}
	msg := m.msgs[0]
	m.msgs = m.msgs[1:]
	return msg, nil
}

func (m *mockReader) Close() error {
	m.closed = true
	return nil
}

type recordingEvictor struct {
	mu        sync.Mutex
	forgotten []string
}

func (r *recordingEvictor) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgotten = append(r.forgotten, sessionID)
}

func (r *recordingEvictor) sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.forgotten...)
}

func completedMessage(t *testing.T, checkoutID, sessionID string) kafkaGo.Message {
	t.Helper()
	payload, err := json.Marshal(domain.CheckoutCompletedPayload{
		CheckoutID:  checkoutID,
		SessionID:   sessionID,
		Provider:    domain.ProviderStripe,
		Items:       []domain.CartLineItem{},
		TotalAmount: decimal.RequireFromString("45.00"),
		Currency:    "USD",
		CompletedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return kafkaGo.Message{
		Key:     []byte(checkoutID),
		Value:   payload,
		Headers: []kafkaGo.Header{{Key: "event_type", Value: []byte(domain.EventTypeCheckoutCompleted)}},
	}
}

func TestProcessMessage_EvictsSession(t *testing.T) {
	reader := &mockReader{msgs: []kafkaGo.Message{completedMessage(t, "c-1", "s-1")}}
	evictor := &recordingEvictor{}
	c := newConsumer(reader, evictor, zaptest.NewLogger(t))

	c.processMessage(context.Background())

	assert.DeepEqual(t, []string{"s-1"}, evictor.sessions())
}

func TestProcessMessage_SkipsOtherEventTypes(t *testing.T) {
	msg := completedMessage(t, "c-1", "s-1")
	msg.Headers = []kafkaGo.Header{{Key: "event_type", Value: []byte("CheckoutAbandoned")}}
	evictor := &recordingEvictor{}
	c := newConsumer(&mockReader{msgs: []kafkaGo.Message{msg}}, evictor, zaptest.NewLogger(t))

	c.processMessage(context.Background())

	assert.Equal(t, 0, len(evictor.sessions()))
}

func TestProcessMessage_IgnoresBadPayloads(t *testing.T) {
	evictor := &recordingEvictor{}
	reader := &mockReader{msgs: []kafkaGo.Message{
		{Value: []byte("{not json")},
		{Value: []byte(`{"checkout_id":"c-2"}`)},
	}}
	c := newConsumer(reader, evictor, zaptest.NewLogger(t))

	c.processMessage(context.Background())
	c.processMessage(context.Background())

	assert.Equal(t, 0, len(evictor.sessions()))
}

func TestProcessMessage_ReadErrorIsLogged(t *testing.T) {
	evictor := &recordingEvictor{}
	c := newConsumer(&mockReader{err: errors.New("broker down")}, evictor, zaptest.NewLogger(t))

	c.processMessage(context.Background())

	assert.Equal(t, 0, len(evictor.sessions()))
}

func TestRun_StopsOnCancelAndClosesReader(t *testing.T) {
	reader := &mockReader{msgs: []kafkaGo.Message{completedMessage(t, "c-1", "s-1")}}
	evictor := &recordingEvictor{}
	c := newConsumer(reader, evictor, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(evictor.sessions()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Assert(t, reader.closed)
}

func TestConsumer_Kafka(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping kafka integration test in short mode")
	}
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	})
	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)

	const topic = "checkout-completed-test"
	conn, err := kafkaGo.DialLeader(ctx, "tcp", brokers[0], topic, 0)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	evictor := &recordingEvictor{}
	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     "storefront-test",
		StartOffset: kafkaGo.FirstOffset,
	})
	c := newConsumer(reader, evictor, zaptest.NewLogger(t))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.Run(runCtx)

	writer := &kafkaGo.Writer{Addr: kafkaGo.TCP(brokers...), Topic: topic, AllowAutoTopicCreation: true}
	defer writer.Close()
	require.NoError(t, writer.WriteMessages(ctx, completedMessage(t, "c-9", "s-9")))

	require.Eventually(t, func() bool { return len(evictor.sessions()) == 1 }, 30*time.Second, 200*time.Millisecond)
	assert.DeepEqual(t, []string{"s-9"}, evictor.sessions())
}
