package core

// ServiceStatus is the lifecycle state of a ServiceRequest.
type ServiceStatus string

const (
	StatusPending  ServiceStatus = "Pending"
	StatusAccepted ServiceStatus = "Accepted"
	// StatusInProgress is part of the status vocabulary but no operation
	// writes it, and no transition starts from it.
	StatusInProgress ServiceStatus = "InProgress"
	StatusCompleted  ServiceStatus = "Completed"
	StatusFailed     ServiceStatus = "Failed"
	StatusDisputed   ServiceStatus = "Disputed"
)

// IsTerminal reports whether no further transition is allowed.
func (s ServiceStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusDisputed
}

// CanTransition encodes the request state machine:
//
//	Pending  --accept-->  Accepted
//	Accepted --success--> Completed
//	Pending|Accepted --failure--> Failed
//	Pending|Accepted --dispute--> Disputed
func (s ServiceStatus) CanTransition(to ServiceStatus) bool {
	switch to {
	case StatusAccepted:
		return s == StatusPending
	case StatusCompleted:
		return s == StatusAccepted
	case StatusFailed, StatusDisputed:
		return s == StatusPending || s == StatusAccepted
	}
	return false
}

// ServiceRequest is a bilateral service contract between two agents. Payment
// is settled only when the request completes successfully.
type ServiceRequest struct {
	ID             string        `json:"id"`
	RequesterAgent string        `json:"requester_agent"`
	ProviderAgent  string        `json:"provider_agent"`
	ServiceType    string        `json:"service_type"`
	Parameters     string        `json:"parameters"`
	Payment        Amount        `json:"payment"`
	Status         ServiceStatus `json:"status"`
	CreatedAt      uint64        `json:"created_at"`
	CompletedAt    *uint64       `json:"completed_at,omitempty"`
	// Origin is the chain the request was opened on.
	Origin string `json:"origin,omitempty"`
	// ProviderChain is set on the origin when the provider lives on another
	// chain. Payment then leaves the requester here and is credited there.
	ProviderChain string `json:"provider_chain,omitempty"`
}
