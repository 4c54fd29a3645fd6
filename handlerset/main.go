// Package handlerset owns the AMQP consumer that feeds incoming domain
// events to their message handlers.
package handlerset

import (
	"context"

	"github.com/opsdash/realtime/common"
	"github.com/opsdash/realtime/feed"
	"github.com/opsdash/realtime/handlers"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// HandlerSet represents a set of AMQP message handlers sharing one durable
// queue. Each handler is bound by its routing key.
type HandlerSet struct {
	settings   *feed.AMQPSettings
	queueName  string
	connection *amqp.Connection
	channel    *amqp.Channel
	handlerFor map[string]handlers.MessageHandler
	log        *logrus.Entry
}

// New creates a new handler set.
func New(
	settings *feed.AMQPSettings,
	queueName string,
	handlerFor map[string]handlers.MessageHandler,
	log *logrus.Entry,
) (*HandlerSet, error) {
	wrapMsg := "unable to create the message handler set"

	// Connect to the AMQP broker.
	connection, err := amqp.Dial(settings.URI)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	// Build and return the handler set.
	handlerSet := HandlerSet{
		settings:   settings,
		queueName:  queueName,
		connection: connection,
		handlerFor: handlerFor,
		log:        log,
	}
	return &handlerSet, nil
}

// declareTopology declares the exchange and the durable queue, binding the
// queue once per handled routing key.
func (hs *HandlerSet) declareTopology() error {
	channel, err := hs.connection.Channel()
	if err != nil {
		return err
	}
	hs.channel = channel

	err = channel.ExchangeDeclare(hs.settings.ExchangeName, hs.settings.ExchangeType, true, false, false, false, nil)
	if err != nil {
		return err
	}

	queue, err := channel.QueueDeclare(hs.queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	for routingKey := range hs.handlerFor {
		err = channel.QueueBind(queue.Name, routingKey, hs.settings.ExchangeName, false, nil)
		if err != nil {
			return err
		}
	}

	return nil
}

// Listen consumes deliveries until the context is cancelled or the delivery
// channel closes. Each delivery is dispatched to the handler bound to its
// routing key and acknowledged according to the handler's outcome: handled
// and permanently unhandleable messages are acked, transiently failed
// messages are requeued once.
func (hs *HandlerSet) Listen(ctx context.Context) error {
	wrapMsg := "unable to listen for incoming events"

	if err := hs.declareTopology(); err != nil {
		return errors.Wrap(err, wrapMsg)
	}

	deliveries, err := hs.channel.Consume(hs.queueName, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.Errorf("%s: the delivery channel closed", wrapMsg)
			}
			hs.dispatch(ctx, delivery)
		}
	}
}

// dispatch routes one delivery to its handler and settles it.
func (hs *HandlerSet) dispatch(ctx context.Context, delivery amqp.Delivery) {
	log := hs.log.WithField("routingKey", delivery.RoutingKey)

	handler, ok := hs.handlerFor[delivery.RoutingKey]
	if !ok {
		log.Warn("dropping a message with no registered handler")
		hs.settle(delivery.Ack(false))
		return
	}

	err := handler.HandleMessage(ctx, delivery.RoutingKey, delivery)
	if err == nil {
		hs.settle(delivery.Ack(false))
		return
	}

	// A malformed message will never succeed, so it is dropped. Anything
	// else is treated as transient and requeued, but only once: a message
	// that fails twice is dropped to keep a poisoned delivery from cycling
	// forever.
	var validationErr common.ValidationError
	if errors.As(err, &validationErr) {
		log.WithError(err).Warn("dropping an unprocessable message")
		hs.settle(delivery.Ack(false))
		return
	}
	if delivery.Redelivered {
		log.WithError(err).Error("dropping a message that failed twice")
		hs.settle(delivery.Ack(false))
		return
	}
	log.WithError(err).Warn("requeueing a message after a transient failure")
	hs.settle(delivery.Nack(false, true))
}

// settle logs a failed ack/nack; there is nothing else to do with one.
func (hs *HandlerSet) settle(err error) {
	if err != nil {
		hs.log.WithError(err).Warn("unable to settle a delivery")
	}
}

// Close closes a message handler set.
func (hs *HandlerSet) Close() {
	if hs.channel != nil {
		_ = hs.channel.Close()
	}
	_ = hs.connection.Close()
}
