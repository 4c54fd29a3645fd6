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

// projectUpdateRequest is a deserialized project-change event.
type projectUpdateRequest struct {
	ProjectID   string   `json:"projectId"`
	ProjectName string   `json:"projectName"`
	Field       string   `json:"field"`
	OldValue    string   `json:"oldValue"`
	NewValue    string   `json:"newValue"`
	ChangedBy   string   `json:"changedBy"`
	MemberIDs   []string `json:"memberIds"`
}

// Project handles project-change events, notifying every project member of
// the change.
type Project struct {
	inbox Inbox
	log   *logrus.Entry
}

// NewProject returns a new project event handler.
func NewProject(inboxService Inbox, log *logrus.Entry) *Project {
	return &Project{inbox: inboxService, log: log}
}

// HandleMessage handles a single AMQP delivery describing a project change.
// Members who can't be notified don't block the rest; their failures are
// logged and the delivery is considered handled.
func (h *Project) HandleMessage(ctx context.Context, routingKey string, delivery amqp.Delivery) error {
	var request projectUpdateRequest
	err := json.Unmarshal(delivery.Body, &request)
	if err != nil {
		return common.NewValidationError("unable to parse the message body: %s", err.Error())
	}
	if len(request.MemberIDs) == 0 {
		return common.NewValidationError("the project update names no members to notify")
	}

	for _, memberID := range request.MemberIDs {
		draft := inbox.ProjectUpdated(model.ProjectChange{
			ProjectID:   request.ProjectID,
			ProjectName: request.ProjectName,
			Field:       request.Field,
			OldValue:    request.OldValue,
			NewValue:    request.NewValue,
			ChangedBy:   request.ChangedBy,
			MemberID:    memberID,
		})
		if _, err = h.inbox.CreateFromEvent(ctx, memberID, draft); err != nil {
			h.log.WithError(err).Warnf("unable to notify member `%s` of the project update", memberID)
		}
	}

	return nil
}
