package handlerset

import (
	"context"
	"testing"

	"github.com/opsdash/realtime/common"
	"github.com/opsdash/realtime/handlers"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
)

// mockAcknowledger records how a delivery was settled.
type mockAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (a *mockAcknowledger) Ack(_ uint64, _ bool) error {
	a.acked = true
	return nil
}

func (a *mockAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

func (a *mockAcknowledger) Reject(_ uint64, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

// stubHandler returns a canned error for every delivery.
type stubHandler struct {
	err    error
	called int
}

func (h *stubHandler) HandleMessage(_ context.Context, _ string, _ amqp.Delivery) error {
	h.called++
	return h.err
}

func newHandlerSet(handlerFor map[string]handlers.MessageHandler) *HandlerSet {
	return &HandlerSet{
		handlerFor: handlerFor,
		log:        logrus.WithField("test", "handlerset"),
	}
}

func TestDispatchAcksHandledMessages(t *testing.T) {
	assert := assert.New(t)
	handler := &stubHandler{}
	handlerSet := newHandlerSet(map[string]handlers.MessageHandler{"events.ok": handler})
	acknowledger := &mockAcknowledger{}

	handlerSet.dispatch(context.Background(), amqp.Delivery{
		Acknowledger: acknowledger,
		RoutingKey:   "events.ok",
	})

	assert.Equal(1, handler.called)
	assert.True(acknowledger.acked)
	assert.False(acknowledger.nacked)
}

func TestDispatchDropsUnroutableMessages(t *testing.T) {
	assert := assert.New(t)
	handlerSet := newHandlerSet(map[string]handlers.MessageHandler{})
	acknowledger := &mockAcknowledger{}

	handlerSet.dispatch(context.Background(), amqp.Delivery{
		Acknowledger: acknowledger,
		RoutingKey:   "events.unknown",
	})

	assert.True(acknowledger.acked, "a message with no handler is dropped, not requeued")
	assert.False(acknowledger.nacked)
}

func TestDispatchDropsUnprocessableMessages(t *testing.T) {
	assert := assert.New(t)
	handler := &stubHandler{err: common.NewValidationError("the body is malformed")}
	handlerSet := newHandlerSet(map[string]handlers.MessageHandler{"events.bad": handler})
	acknowledger := &mockAcknowledger{}

	handlerSet.dispatch(context.Background(), amqp.Delivery{
		Acknowledger: acknowledger,
		RoutingKey:   "events.bad",
	})

	assert.True(acknowledger.acked, "an unprocessable message is dropped, not requeued")
	assert.False(acknowledger.nacked)
}

func TestDispatchRequeuesTransientFailuresOnce(t *testing.T) {
	assert := assert.New(t)
	handler := &stubHandler{err: errors.New("the database is unreachable")}
	handlerSet := newHandlerSet(map[string]handlers.MessageHandler{"events.flaky": handler})

	// The first failure requeues the delivery.
	first := &mockAcknowledger{}
	handlerSet.dispatch(context.Background(), amqp.Delivery{
		Acknowledger: first,
		RoutingKey:   "events.flaky",
	})
	assert.True(first.nacked)
	assert.True(first.requeue)
	assert.False(first.acked)

	// The second failure drops it.
	second := &mockAcknowledger{}
	handlerSet.dispatch(context.Background(), amqp.Delivery{
		Acknowledger: second,
		RoutingKey:   "events.flaky",
		Redelivered:  true,
	})
	assert.True(second.acked, "a message that failed twice is dropped")
	assert.False(second.nacked)
}
