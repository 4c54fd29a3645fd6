// Package handlers turns events published by external systems into inbox
// notifications. Only the notification-producing surface of those systems is
// in scope here: the approval workflow's own step-transition logic lives
// elsewhere and simply publishes the messages these handlers consume.
package handlers

import (
	"context"

	"github.com/opsdash/realtime/inbox"
	"github.com/opsdash/realtime/model"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// The routing keys handled by this service.
const (
	KeyApprovalRequested = "workflow.approval.requested"
	KeyWorkflowApproved  = "workflow.approved"
	KeyWorkflowRejected  = "workflow.rejected"
	KeyProjectUpdated    = "project.updated"
	KeyAnnouncement      = "system.announcement"
)

// MessageHandler describes the interface used to handle AMQP messages.
type MessageHandler interface {
	HandleMessage(ctx context.Context, routingKey string, delivery amqp.Delivery) error
}

// Inbox is the slice of the inbox service the handlers need. *inbox.Service
// satisfies it.
type Inbox interface {
	CreateFromEvent(ctx context.Context, recipientID string, draft inbox.Draft) (*model.Notification, error)
	CreateBroadcast(ctx context.Context, title, message string, priority model.Priority) ([]*model.Notification, error)
}

// InitMessageHandlers returns a map from routing key to message handler.
func InitMessageHandlers(inboxService Inbox, log *logrus.Entry) map[string]MessageHandler {
	workflow := NewWorkflow(inboxService, log)
	return map[string]MessageHandler{
		KeyApprovalRequested: workflow,
		KeyWorkflowApproved:  workflow,
		KeyWorkflowRejected:  workflow,
		KeyProjectUpdated:    NewProject(inboxService, log),
		KeyAnnouncement:      NewBroadcast(inboxService, log),
	}
}
