package handlers

import (
	"context"
	"encoding/json"

	"github.com/opsdash/realtime/common"
	"github.com/opsdash/realtime/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// announcementRequest is a deserialized administrator broadcast.
type announcementRequest struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Priority string `json:"priority"`
}

// Broadcast handles administrator announcements, fanning them out to every
// active user through the inbox service.
type Broadcast struct {
	inbox Inbox
	log   *logrus.Entry
}

// NewBroadcast returns a new broadcast event handler.
func NewBroadcast(inboxService Inbox, log *logrus.Entry) *Broadcast {
	return &Broadcast{inbox: inboxService, log: log}
}

// HandleMessage handles a single AMQP delivery carrying an announcement. A
// partial fan-out failure is logged but the delivery is considered handled:
// the successful insertions are committed, and redelivering the message
// would duplicate them.
func (h *Broadcast) HandleMessage(ctx context.Context, routingKey string, delivery amqp.Delivery) error {
	var request announcementRequest
	err := json.Unmarshal(delivery.Body, &request)
	if err != nil {
		return common.NewValidationError("unable to parse the message body: %s", err.Error())
	}
	if request.Title == "" {
		return common.NewValidationError("the announcement has no title")
	}

	priority := model.Priority(request.Priority)
	if request.Priority == "" {
		priority = model.PriorityMedium
	}

	created, err := h.inbox.CreateBroadcast(ctx, request.Title, request.Message, priority)
	var partial common.PartialBatchError
	if errors.As(err, &partial) {
		h.log.WithError(partial).Warnf(
			"announcement delivered to %d user(s), failed for %d", len(created), len(partial.Failed))
		return nil
	}
	return err
}
