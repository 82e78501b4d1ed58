package marketplace

import (
	"fmt"

	"github.com/NethermindEth/agentchain/core"
)

// Operation is a signed, caller-submitted request. Exactly one field is set;
// on the wire it is an object keyed by the operation name:
//
//	{"TransferTokens": {"to_agent": "agent_b", "amount": "10"}}
type Operation struct {
	CreateAgent         *CreateAgent        `json:"CreateAgent,omitempty"`
	TransferTokens      *TransferTokens     `json:"TransferTokens,omitempty"`
	RequestService      *RequestService     `json:"RequestService,omitempty"`
	AcceptService       *AcceptService      `json:"AcceptService,omitempty"`
	CompleteService     *CompleteService    `json:"CompleteService,omitempty"`
	UpdateStrategy      *UpdateStrategy     `json:"UpdateStrategy,omitempty"`
	DeactivateAgent     *DeactivateAgent    `json:"DeactivateAgent,omitempty"`
	UpdateMarketListing *core.MarketListing `json:"UpdateMarketListing,omitempty"`
	OpenDispute         *OpenDispute        `json:"OpenDispute,omitempty"`
}

type CreateAgent struct {
	Name           string             `json:"name"`
	Description    string             `json:"description"`
	Strategy       core.AgentStrategy `json:"strategy"`
	InitialBalance core.Amount        `json:"initial_balance"`
}

type TransferTokens struct {
	ToAgent string      `json:"to_agent"`
	Amount  core.Amount `json:"amount"`
}

// RequestService opens a request against a provider. ProviderChain names the
// ledger the provider lives on; empty means this ledger.
type RequestService struct {
	ProviderAgent string      `json:"provider_agent"`
	ServiceType   string      `json:"service_type"`
	Parameters    string      `json:"parameters"`
	Payment       core.Amount `json:"payment"`
	ProviderChain string      `json:"provider_chain,omitempty"`
}

type AcceptService struct {
	RequestID string `json:"request_id"`
}

type CompleteService struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
}

type UpdateStrategy struct {
	AgentID     string             `json:"agent_id"`
	NewStrategy core.AgentStrategy `json:"new_strategy"`
}

type DeactivateAgent struct {
	AgentID string `json:"agent_id"`
}

type OpenDispute struct {
	RequestID string `json:"request_id"`
}

// Name returns the operation name, or "" if the union is malformed.
func (op Operation) Name() string {
	names := op.set()
	if len(names) != 1 {
		return ""
	}
	return names[0]
}

func (op Operation) set() []string {
	var names []string
	if op.CreateAgent != nil {
		names = append(names, "CreateAgent")
	}
	if op.TransferTokens != nil {
		names = append(names, "TransferTokens")
	}
	if op.RequestService != nil {
		names = append(names, "RequestService")
	}
	if op.AcceptService != nil {
		names = append(names, "AcceptService")
	}
	if op.CompleteService != nil {
		names = append(names, "CompleteService")
	}
	if op.UpdateStrategy != nil {
		names = append(names, "UpdateStrategy")
	}
	if op.DeactivateAgent != nil {
		names = append(names, "DeactivateAgent")
	}
	if op.UpdateMarketListing != nil {
		names = append(names, "UpdateMarketListing")
	}
	if op.OpenDispute != nil {
		names = append(names, "OpenDispute")
	}
	return names
}

// Validate checks the shape of the operation. State-dependent checks are
// left to the dispatcher.
func (op Operation) Validate() error {
	names := op.set()
	if len(names) != 1 {
		return fmt.Errorf("%w: expected exactly one operation, got %d", core.ErrInvalidOperation, len(names))
	}

	switch {
	case op.CreateAgent != nil:
		if op.CreateAgent.Name == "" {
			return fmt.Errorf("%w: agent name is required", core.ErrInvalidOperation)
		}
		return op.CreateAgent.Strategy.Validate()
	case op.TransferTokens != nil:
		return requireID("to_agent", op.TransferTokens.ToAgent)
	case op.RequestService != nil:
		if op.RequestService.ServiceType == "" {
			return fmt.Errorf("%w: service_type is required", core.ErrInvalidOperation)
		}
		return requireID("provider_agent", op.RequestService.ProviderAgent)
	case op.AcceptService != nil:
		return requireID("request_id", op.AcceptService.RequestID)
	case op.CompleteService != nil:
		return requireID("request_id", op.CompleteService.RequestID)
	case op.UpdateStrategy != nil:
		if err := requireID("agent_id", op.UpdateStrategy.AgentID); err != nil {
			return err
		}
		return op.UpdateStrategy.NewStrategy.Validate()
	case op.DeactivateAgent != nil:
		return requireID("agent_id", op.DeactivateAgent.AgentID)
	case op.UpdateMarketListing != nil:
		return op.UpdateMarketListing.Validate()
	case op.OpenDispute != nil:
		return requireID("request_id", op.OpenDispute.RequestID)
	}
	return nil
}

func requireID(field, id string) error {
	if !core.ValidID(id) {
		return fmt.Errorf("%w: %s %q", core.ErrInvalidOperation, field, id)
	}
	return nil
}
