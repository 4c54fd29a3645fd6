package model

// WorkflowStep describes a single pending step of a linear approval chain.
// The chain is strictly linear: CurrentStep advances from 1 to TotalSteps,
// one approver at a time. Branching or parallel approval is an extension
// point, not part of the current contract.
type WorkflowStep struct {
	InstanceID  string `json:"instanceId"`
	EntityType  string `json:"entityType"`
	EntityName  string `json:"entityName"`
	ApproverID  string `json:"approverId"`
	RequestedBy string `json:"requestedBy"`
	CurrentStep int    `json:"currentStep"`
	TotalSteps  int    `json:"totalSteps"`
}

// WorkflowInstance describes a completed or terminated approval chain.
type WorkflowInstance struct {
	InstanceID  string `json:"instanceId"`
	EntityType  string `json:"entityType"`
	EntityName  string `json:"entityName"`
	RequestedBy string `json:"requestedBy"`
}

// ProjectChange describes a tracked change to a project that project members
// should be notified about.
type ProjectChange struct {
	ProjectID   string `json:"projectId"`
	ProjectName string `json:"projectName"`
	Field       string `json:"field"`
	OldValue    string `json:"oldValue"`
	NewValue    string `json:"newValue"`
	ChangedBy   string `json:"changedBy"`
	MemberID    string `json:"memberId"`
}
