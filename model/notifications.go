package model

import "time"

// NotificationType identifies the category of a notification.
type NotificationType string

// The notification types recognized by the inbox.
const (
	TypeInfo         NotificationType = "info"
	TypeSuccess      NotificationType = "success"
	TypeWarning      NotificationType = "warning"
	TypeError        NotificationType = "error"
	TypeWorkflow     NotificationType = "workflow"
	TypeAnnouncement NotificationType = "announcement"
	TypeProject      NotificationType = "project"
	TypeInventory    NotificationType = "inventory"
)

// Valid returns true if the notification type is one of the recognized types.
func (t NotificationType) Valid() bool {
	switch t {
	case TypeInfo, TypeSuccess, TypeWarning, TypeError, TypeWorkflow, TypeAnnouncement, TypeProject, TypeInventory:
		return true
	}
	return false
}

// Priority indicates how urgently a notification should be surfaced.
type Priority string

// The notification priorities, in increasing order of urgency.
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid returns true if the priority is one of the recognized priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// RelatedEntity points a notification at the business entity that produced it.
type RelatedEntity struct {
	EntityType string                 `json:"entityType"`
	EntityID   string                 `json:"entityId"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Notification represents a single entry in a user's notification inbox. A
// notification is immutable once recorded except for the read transition:
// IsRead may go from false to true exactly once, setting ReadAt as it does.
type Notification struct {
	ID            string           `json:"id"`
	RecipientID   string           `json:"recipientId"`
	Type          NotificationType `json:"type"`
	Title         string           `json:"title"`
	Message       string           `json:"message"`
	Priority      Priority         `json:"priority"`
	IsRead        bool             `json:"isRead"`
	ReadAt        *time.Time       `json:"readAt,omitempty"`
	RelatedEntity *RelatedEntity   `json:"relatedEntity,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}
