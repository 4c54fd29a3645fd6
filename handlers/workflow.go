package handlers

import (
	"context"
	"encoding/json"

	"github.com/opsdash/realtime/common"
	"github.com/opsdash/realtime/inbox"
	"github.com/opsdash/realtime/model"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// workflowStepRequest is a deserialized approval-step event from the
// approval workflow.
type workflowStepRequest struct {
	InstanceID  string `json:"instanceId"`
	EntityType  string `json:"entityType"`
	EntityName  string `json:"entityName"`
	ApproverID  string `json:"approverId"`
	RequestedBy string `json:"requestedBy"`
	CurrentStep int    `json:"currentStep"`
	TotalSteps  int    `json:"totalSteps"`
	Timestamp   string `json:"timestamp"`
}

// workflowOutcomeRequest is a deserialized approval-outcome event: a chain
// that was fully approved or rejected at some step.
type workflowOutcomeRequest struct {
	InstanceID  string `json:"instanceId"`
	EntityType  string `json:"entityType"`
	EntityName  string `json:"entityName"`
	RequestedBy string `json:"requestedBy"`
	Reason      string `json:"reason"`
	Timestamp   string `json:"timestamp"`
}

// Workflow handles the approval workflow's notification-producing events.
type Workflow struct {
	inbox Inbox
	log   *logrus.Entry
}

// NewWorkflow returns a new workflow event handler.
func NewWorkflow(inboxService Inbox, log *logrus.Entry) *Workflow {
	return &Workflow{inbox: inboxService, log: log}
}

// HandleMessage handles a single AMQP delivery from the approval workflow.
func (h *Workflow) HandleMessage(ctx context.Context, routingKey string, delivery amqp.Delivery) error {
	switch routingKey {
	case KeyApprovalRequested:
		return h.handleApprovalRequested(ctx, delivery)
	case KeyWorkflowApproved, KeyWorkflowRejected:
		return h.handleOutcome(ctx, routingKey, delivery)
	}
	return common.NewValidationError("unexpected routing key `%s`", routingKey)
}

// handleApprovalRequested notifies the approver whose step the chain just
// reached.
func (h *Workflow) handleApprovalRequested(ctx context.Context, delivery amqp.Delivery) error {
	var request workflowStepRequest
	err := json.Unmarshal(delivery.Body, &request)
	if err != nil {
		return common.NewValidationError("unable to parse the message body: %s", err.Error())
	}
	if request.ApproverID == "" {
		return common.NewValidationError("the approval request names no approver")
	}
	if err = h.checkTimestamp(request.Timestamp); err != nil {
		return err
	}

	draft := inbox.WorkflowApprovalRequested(model.WorkflowStep{
		InstanceID:  request.InstanceID,
		EntityType:  request.EntityType,
		EntityName:  request.EntityName,
		ApproverID:  request.ApproverID,
		RequestedBy: request.RequestedBy,
		CurrentStep: request.CurrentStep,
		TotalSteps:  request.TotalSteps,
	})
	_, err = h.inbox.CreateFromEvent(ctx, request.ApproverID, draft)
	return err
}

// handleOutcome notifies the requester that their chain was approved or
// rejected.
func (h *Workflow) handleOutcome(ctx context.Context, routingKey string, delivery amqp.Delivery) error {
	var request workflowOutcomeRequest
	err := json.Unmarshal(delivery.Body, &request)
	if err != nil {
		return common.NewValidationError("unable to parse the message body: %s", err.Error())
	}
	if request.RequestedBy == "" {
		return common.NewValidationError("the workflow outcome names no requester")
	}
	if err = h.checkTimestamp(request.Timestamp); err != nil {
		return err
	}

	instance := model.WorkflowInstance{
		InstanceID:  request.InstanceID,
		EntityType:  request.EntityType,
		EntityName:  request.EntityName,
		RequestedBy: request.RequestedBy,
	}

	var draft inbox.Draft
	if routingKey == KeyWorkflowApproved {
		draft = inbox.WorkflowApproved(instance)
	} else {
		draft = inbox.WorkflowRejected(instance, request.Reason)
	}
	_, err = h.inbox.CreateFromEvent(ctx, request.RequestedBy, draft)
	return err
}

// checkTimestamp validates the event timestamp. A message with a timestamp
// we can't parse will never become parseable, so the failure is terminal.
func (h *Workflow) checkTimestamp(timestamp string) error {
	if timestamp == "" {
		return nil
	}
	emitted, err := common.ParseTimestamp(timestamp)
	if err != nil {
		return common.NewValidationError("unable to parse the event timestamp: %s", err.Error())
	}
	h.log.Debugf("handling a workflow event emitted at %s", common.FormatTimestamp(emitted))
	return nil
}
