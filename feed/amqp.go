package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opsdash/realtime/common"
	"github.com/opsdash/realtime/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// AMQPSettings represents the settings that we require in order to connect to the AMQP exchange.
type AMQPSettings struct {
	URI          string
	ExchangeName string
	ExchangeType string
}

// AMQPClient implements the change-feed boundary over an AMQP topic
// exchange. Each subscription gets its own exclusive queue bound to the
// table's routing keys, with one delivery goroutine per queue.
type AMQPClient struct {
	settings   *AMQPSettings
	connection *amqp.Connection
	log        *logrus.Entry
}

// NewAMQPClient connects to the AMQP broker and returns a change-feed client
// backed by the configured exchange.
func NewAMQPClient(settings *AMQPSettings, log *logrus.Entry) (*AMQPClient, error) {
	wrapMsg := "unable to connect to the AMQP broker"

	connection, err := amqp.Dial(settings.URI)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	return &AMQPClient{
		settings:   settings,
		connection: connection,
		log:        log,
	}, nil
}

// amqpChannel is the Channel implementation returned by AMQPClient. The
// broker channel is opened by a background goroutine while Unsubscribe may
// arrive at any time, so the handoff between the two goes through attach and
// cancel under the mutex.
type amqpChannel struct {
	name        string
	confirmed   chan error
	consumerTag string

	mu          sync.Mutex
	amqpChannel *amqp.Channel
	cancelled   bool
}

// Name returns the logical channel name.
func (c *amqpChannel) Name() string {
	return c.name
}

// Confirmed yields nil once the consumer is running.
func (c *amqpChannel) Confirmed() <-chan error {
	return c.confirmed
}

// attach records the broker channel the open goroutine obtained. It reports
// false if the subscription was already cancelled, in which case the open
// goroutine owns the broker channel's cleanup.
func (c *amqpChannel) attach(amqpChan *amqp.Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return false
	}
	c.amqpChannel = amqpChan
	return true
}

// cancel marks the subscription as torn down and takes ownership of the
// attached broker channel, if the open goroutine got that far. The caller
// settles whatever channel is returned; a nil result means the open goroutine
// will observe the cancellation and clean up after itself.
func (c *amqpChannel) cancel() *amqp.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return nil
	}
	c.cancelled = true
	amqpChan := c.amqpChannel
	c.amqpChannel = nil
	return amqpChan
}

// Subscribe opens a queue for the table's change events and begins delivering
// them to the callback. Queue setup happens asynchronously; the returned
// channel confirms via Confirmed once the consumer is running.
func (c *AMQPClient) Subscribe(table string, filter *Filter, onEvent EventFunc) (Channel, error) {
	if c.connection.IsClosed() {
		return nil, common.NewConnectionError("the AMQP connection is closed")
	}

	channel := &amqpChannel{
		name:        ChannelName(table, filter),
		confirmed:   make(chan error, 1),
		consumerTag: uuid.NewString(),
	}

	// Declare the topology and start consuming in the background; the caller
	// observes the outcome through the confirmation channel.
	go c.openChannel(channel, table, filter, onEvent)

	return channel, nil
}

// openChannel declares the queue topology for a subscription, starts the
// consumer, and reports the outcome on the confirmation channel.
func (c *AMQPClient) openChannel(channel *amqpChannel, table string, filter *Filter, onEvent EventFunc) {
	wrapMsg := fmt.Sprintf("unable to open the channel for `%s`", channel.name)

	fail := func(err error) {
		channel.confirmed <- common.NewConnectionError("%s", errors.Wrap(err, wrapMsg).Error())
	}

	// Open a dedicated AMQP channel for this subscription. If the
	// subscription was torn down while the channel was being opened, the
	// teardown had nothing to settle, so the cleanup happens here.
	amqpChan, err := c.connection.Channel()
	if err != nil {
		fail(err)
		return
	}
	if !channel.attach(amqpChan) {
		_ = amqpChan.Close()
		channel.confirmed <- common.NewConnectionError(
			"the channel for `%s` was torn down before it became live", channel.name)
		return
	}

	// Declare the exchange. The declaration is idempotent.
	err = amqpChan.ExchangeDeclare(c.settings.ExchangeName, c.settings.ExchangeType, true, false, false, false, nil)
	if err != nil {
		fail(err)
		return
	}

	// Declare an exclusive queue for this subscription and bind it to the
	// table's routing keys. The queue name carries the consumer tag because
	// several subscriptions to the same logical channel may coexist across
	// scopes.
	queueName := fmt.Sprintf("%s.%s", channel.name, channel.consumerTag)
	queue, err := amqpChan.QueueDeclare(queueName, false, true, true, false, nil)
	if err != nil {
		fail(err)
		return
	}
	err = amqpChan.QueueBind(queue.Name, fmt.Sprintf("%s.#", table), c.settings.ExchangeName, false, nil)
	if err != nil {
		fail(err)
		return
	}

	// Start the consumer.
	deliveries, err := amqpChan.Consume(queue.Name, channel.consumerTag, true, true, false, false, nil)
	if err != nil {
		fail(err)
		return
	}

	// The channel is live.
	channel.confirmed <- nil

	for delivery := range deliveries {
		event, err := c.decodeEvent(table, delivery)
		if err != nil {
			c.log.WithError(err).Warnf("discarding an undecodable event on `%s`", channel.name)
			continue
		}
		if !matchesFilter(event, filter) {
			continue
		}
		onEvent(*event)
	}
}

// decodeEvent converts an AMQP delivery to a change event.
func (c *AMQPClient) decodeEvent(table string, delivery amqp.Delivery) (*model.ChangeEvent, error) {
	var event model.ChangeEvent
	err := json.Unmarshal(delivery.Body, &event)
	if err != nil {
		return nil, errors.Wrap(err, "unable to decode the event body")
	}
	if !event.Kind.Valid() {
		return nil, errors.Errorf("unrecognized event type `%s`", event.Kind)
	}
	if event.Topic == "" {
		event.Topic = table
	}
	event.ReceivedAt = time.Now()
	return &event, nil
}

// matchesFilter applies a subscription filter to an event on the client side.
// The new record is consulted for inserts and updates, the old record for
// deletes. An event whose record can't be examined is dropped rather than
// delivered to a filtered subscription it might not belong to.
func matchesFilter(event *model.ChangeEvent, filter *Filter) bool {
	if filter == nil {
		return true
	}

	record := event.NewRecord
	if event.Kind == model.EventDelete {
		record = event.OldRecord
	}
	if len(record) == 0 {
		return false
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(record, &fields); err != nil {
		return false
	}
	value, ok := fields[filter.Column]
	if !ok {
		return false
	}

	return fmt.Sprintf("%v", value) == filter.Value
}

// Unsubscribe cancels the subscription's consumer and closes its AMQP
// channel, ending delivery. Unsubscribing a channel whose setup is still in
// flight marks it cancelled; the open goroutine then closes the broker
// channel itself, so no consumer survives the teardown either way.
func (c *AMQPClient) Unsubscribe(channel Channel) error {
	wrapMsg := "unable to tear down the channel"

	ch, ok := channel.(*amqpChannel)
	if !ok {
		return errors.Errorf("%s: the channel was not opened by this client", wrapMsg)
	}

	amqpChan := ch.cancel()
	if amqpChan == nil {
		return nil
	}

	// Cancelling the consumer closes the delivery channel, which ends the
	// delivery goroutine. If the open goroutine is still declaring topology
	// on this channel, closing it fails that setup instead.
	err := amqpChan.Cancel(ch.consumerTag, false)
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	err = amqpChan.Close()
	if err != nil && err != amqp.ErrClosed {
		return errors.Wrap(err, wrapMsg)
	}

	return nil
}

// Ping reports whether the connection to the broker is still usable.
func (c *AMQPClient) Ping(_ context.Context) error {
	if c.connection.IsClosed() {
		return common.NewConnectionError("the AMQP connection is closed")
	}
	return nil
}

// Close closes the underlying AMQP connection.
func (c *AMQPClient) Close() error {
	return c.connection.Close()
}
