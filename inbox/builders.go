package inbox

import (
	"fmt"

	"github.com/opsdash/realtime/model"
)

// Draft is a notification shaped from a domain event but not yet addressed
// or persisted. Builders are pure: the same event always produces the same
// draft, so they can be unit-tested without any I/O.
type Draft struct {
	Type          model.NotificationType
	Title         string
	Message       string
	Priority      model.Priority
	RelatedEntity *model.RelatedEntity
}

// WorkflowApprovalRequested shapes the notification sent to an approver when
// a multi-step approval reaches their step of the chain.
func WorkflowApprovalRequested(step model.WorkflowStep) Draft {
	return Draft{
		Type:     model.TypeWorkflow,
		Title:    "Approval Required",
		Priority: model.PriorityHigh,
		Message: fmt.Sprintf(
			"%s `%s` requested by %s is awaiting your approval (step %d of %d)",
			step.EntityType, step.EntityName, step.RequestedBy, step.CurrentStep, step.TotalSteps,
		),
		RelatedEntity: &model.RelatedEntity{
			EntityType: step.EntityType,
			EntityID:   step.InstanceID,
			Metadata: map[string]interface{}{
				"currentStep": step.CurrentStep,
				"totalSteps":  step.TotalSteps,
			},
		},
	}
}

// WorkflowApproved shapes the notification sent to a requester when the
// final step of their approval chain completes.
func WorkflowApproved(instance model.WorkflowInstance) Draft {
	return Draft{
		Type:     model.TypeSuccess,
		Title:    "Request Approved",
		Priority: model.PriorityMedium,
		Message: fmt.Sprintf(
			"%s `%s` has been approved", instance.EntityType, instance.EntityName,
		),
		RelatedEntity: &model.RelatedEntity{
			EntityType: instance.EntityType,
			EntityID:   instance.InstanceID,
		},
	}
}

// WorkflowRejected shapes the notification sent to a requester when any step
// of their approval chain rejects the request.
func WorkflowRejected(instance model.WorkflowInstance, reason string) Draft {
	message := fmt.Sprintf("%s `%s` has been rejected", instance.EntityType, instance.EntityName)
	if reason != "" {
		message = fmt.Sprintf("%s: %s", message, reason)
	}
	return Draft{
		Type:     model.TypeError,
		Title:    "Request Rejected",
		Priority: model.PriorityHigh,
		Message:  message,
		RelatedEntity: &model.RelatedEntity{
			EntityType: instance.EntityType,
			EntityID:   instance.InstanceID,
		},
	}
}

// ProjectUpdated shapes the notification sent to a project member when the
// project's progress, budget, or status changes.
func ProjectUpdated(change model.ProjectChange) Draft {
	return Draft{
		Type:     model.TypeInfo,
		Title:    "Project Updated",
		Priority: model.PriorityMedium,
		Message: fmt.Sprintf(
			"%s changed %s on `%s` from %s to %s",
			change.ChangedBy, change.Field, change.ProjectName, change.OldValue, change.NewValue,
		),
		RelatedEntity: &model.RelatedEntity{
			EntityType: "project",
			EntityID:   change.ProjectID,
			Metadata: map[string]interface{}{
				"field": change.Field,
			},
		},
	}
}

// SystemAnnouncement shapes an administrator broadcast. The priority is the
// caller's choice; the service validates it when the draft is persisted.
func SystemAnnouncement(title, message string, priority model.Priority) Draft {
	return Draft{
		Type:     model.TypeAnnouncement,
		Title:    title,
		Message:  message,
		Priority: priority,
	}
}
