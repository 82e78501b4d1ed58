package core

// Reputation bounds and adjustments.
const (
	InitialReputation uint64 = 100
	MaxReputation     uint64 = 1000
	MinReputation     uint64 = 0

	ReputationReward  uint64 = 1
	ReputationPenalty uint64 = 5
)

// Agent is an account on the ledger. Agents are never deleted; IsActive is a
// soft flag.
type Agent struct {
	ID                string        `json:"id"`
	Owner             string        `json:"owner"`
	Name              string        `json:"name"`
	Description       string        `json:"description"`
	Strategy          AgentStrategy `json:"strategy"`
	Balance           Amount        `json:"balance"`
	Reputation        uint64        `json:"reputation"`
	ServicesCompleted uint64        `json:"services_completed"`
	ServicesFailed    uint64        `json:"services_failed"`
	CreatedAt         uint64        `json:"created_at"`
	LastActive        uint64        `json:"last_active"`
	IsActive          bool          `json:"is_active"`
}

// RaiseReputation adds delta, clamped at MaxReputation.
func (a *Agent) RaiseReputation(delta uint64) {
	if delta >= MaxReputation || a.Reputation >= MaxReputation-delta {
		a.Reputation = MaxReputation
		return
	}
	a.Reputation += delta
}

// LowerReputation subtracts delta, saturating at MinReputation.
func (a *Agent) LowerReputation(delta uint64) {
	if a.Reputation <= MinReputation+delta {
		a.Reputation = MinReputation
		return
	}
	a.Reputation -= delta
}

// SuccessRate is the completed share of finished services in percent.
func (a Agent) SuccessRate() float64 {
	total := a.ServicesCompleted + a.ServicesFailed
	if total == 0 {
		return 0
	}
	return float64(a.ServicesCompleted) / float64(total) * 100
}
