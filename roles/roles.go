// Package roles maps dashboard user roles to the change-feed topics their
// dashboards care about. The mapping is pure, static data; it never performs
// I/O and never fails.
package roles

// Role identifies a dashboard user role.
type Role string

// The dashboard roles.
const (
	Admin            Role = "admin"
	Manager          Role = "manager"
	Employee         Role = "employee"
	ProcurementStaff Role = "procurement_staff"
	MaintenanceStaff Role = "maintenance_staff"
	DocumentAnalyst  Role = "document_analyst"
)

// The change-feed topics, one per backing table.
const (
	TopicProjects       = "projects"
	TopicPurchaseOrders = "purchase_orders"
	TopicInventory      = "inventory_items"
	TopicMaintenance    = "maintenance_assets"
	TopicDocuments      = "documents"
	TopicWorkflow       = "workflow_instances"
	TopicNotifications  = "notifications"
)

// allTopics is the full topic set, granted to administrators. The
// notifications topic is deliberately absent: every dashboard subscribes to
// its own recipient-filtered notifications feed separately, so including it
// here would produce an unfiltered firehose.
var allTopics = []string{
	TopicProjects,
	TopicPurchaseOrders,
	TopicInventory,
	TopicMaintenance,
	TopicDocuments,
	TopicWorkflow,
}

// topicsByRole is the fixed role-to-topic table.
var topicsByRole = map[Role][]string{
	Admin:            allTopics,
	Manager:          {TopicProjects, TopicPurchaseOrders, TopicWorkflow},
	Employee:         {TopicInventory},
	ProcurementStaff: {TopicPurchaseOrders},
	MaintenanceStaff: {TopicMaintenance},
	DocumentAnalyst:  {TopicDocuments},
}

// TopicsForRole returns the set of topics that dashboards for the given role
// subscribe to. The second return value is false for an unmapped role, in
// which case the topic set is empty: an unknown role degrades to a dashboard
// without real-time updates rather than an error.
func TopicsForRole(role Role) ([]string, bool) {
	topics, ok := topicsByRole[role]
	if !ok {
		return nil, false
	}

	// Return a copy so that callers can't mutate the shared table.
	result := make([]string, len(topics))
	copy(result, topics)
	return result, true
}
