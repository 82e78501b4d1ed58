// Package query is the read projection of the ledger: it formats engine
// state for the ABCI Query endpoint and the HTTP API.
package query

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/NethermindEth/agentchain/core"
	"github.com/NethermindEth/agentchain/ledger"
	"github.com/NethermindEth/agentchain/storage"
)

// DefaultTransactionLimit applies when a caller does not bound a listing.
const DefaultTransactionLimit = 100

type AgentInfo struct {
	ID                string             `json:"id"`
	Owner             string             `json:"owner"`
	Name              string             `json:"name"`
	Description       string             `json:"description"`
	StrategyType      string             `json:"strategy_type"`
	Strategy          core.AgentStrategy `json:"strategy"`
	Balance           string             `json:"balance"`
	Reputation        uint64             `json:"reputation"`
	ServicesCompleted uint64             `json:"services_completed"`
	ServicesFailed    uint64             `json:"services_failed"`
	SuccessRate       float64            `json:"success_rate"`
	CreatedAt         uint64             `json:"created_at"`
	LastActive        uint64             `json:"last_active"`
	IsActive          bool               `json:"is_active"`
}

type ServiceRequestInfo struct {
	ID             string  `json:"id"`
	RequesterAgent string  `json:"requester_agent"`
	ProviderAgent  string  `json:"provider_agent"`
	ServiceType    string  `json:"service_type"`
	Parameters     string  `json:"parameters"`
	Payment        string  `json:"payment"`
	Status         string  `json:"status"`
	CreatedAt      uint64  `json:"created_at"`
	CompletedAt    *uint64 `json:"completed_at,omitempty"`
	Origin         string  `json:"origin,omitempty"`
	ProviderChain  string  `json:"provider_chain,omitempty"`
}

type TransactionInfo struct {
	ID              string `json:"id"`
	FromAgent       string `json:"from_agent"`
	ToAgent         string `json:"to_agent"`
	Amount          string `json:"amount"`
	TransactionType string `json:"transaction_type"`
	Timestamp       uint64 `json:"timestamp"`
}

type MarketplaceStats struct {
	TotalAgents       uint64  `json:"total_agents"`
	ActiveAgents      uint64  `json:"active_agents"`
	TotalTransactions uint64  `json:"total_transactions"`
	TotalVolume       string  `json:"total_volume"`
	AverageReputation float64 `json:"average_reputation"`
}

func NewAgentInfo(a core.Agent) AgentInfo {
	return AgentInfo{
		ID:                a.ID,
		Owner:             a.Owner,
		Name:              a.Name,
		Description:       a.Description,
		StrategyType:      a.Strategy.Type(),
		Strategy:          a.Strategy,
		Balance:           a.Balance.String(),
		Reputation:        a.Reputation,
		ServicesCompleted: a.ServicesCompleted,
		ServicesFailed:    a.ServicesFailed,
		SuccessRate:       a.SuccessRate(),
		CreatedAt:         a.CreatedAt,
		LastActive:        a.LastActive,
		IsActive:          a.IsActive,
	}
}

func NewServiceRequestInfo(r core.ServiceRequest) ServiceRequestInfo {
	return ServiceRequestInfo{
		ID:             r.ID,
		RequesterAgent: r.RequesterAgent,
		ProviderAgent:  r.ProviderAgent,
		ServiceType:    r.ServiceType,
		Parameters:     r.Parameters,
		Payment:        r.Payment.String(),
		Status:         string(r.Status),
		CreatedAt:      r.CreatedAt,
		CompletedAt:    r.CompletedAt,
		Origin:         r.Origin,
		ProviderChain:  r.ProviderChain,
	}
}

func NewTransactionInfo(tx core.Transaction) TransactionInfo {
	return TransactionInfo{
		ID:              tx.ID,
		FromAgent:       tx.FromAgent,
		ToAgent:         tx.ToAgent,
		Amount:          tx.Amount.String(),
		TransactionType: string(tx.TransactionType),
		Timestamp:       tx.Timestamp,
	}
}

// Service answers read queries against a ledger.
type Service struct {
	ledger *ledger.Ledger
}

func NewService(l *ledger.Ledger) *Service {
	return &Service{ledger: l}
}

func (s *Service) Agent(id string) (AgentInfo, error) {
	agent, err := s.ledger.GetAgent(id)
	if err != nil {
		return AgentInfo{}, err
	}
	return NewAgentInfo(agent), nil
}

func (s *Service) agents(keep func(core.Agent) bool) ([]AgentInfo, error) {
	out := []AgentInfo{}
	err := s.ledger.Agents(func(a core.Agent) error {
		if keep(a) {
			out = append(out, NewAgentInfo(a))
		}
		return nil
	})
	return out, err
}

func (s *Service) Agents() ([]AgentInfo, error) {
	return s.agents(func(core.Agent) bool { return true })
}

func (s *Service) ActiveAgents() ([]AgentInfo, error) {
	return s.agents(func(a core.Agent) bool { return a.IsActive })
}

// AgentsByStrategy filters by variant name, e.g. "Oracle".
func (s *Service) AgentsByStrategy(strategyType string) ([]AgentInfo, error) {
	if !core.IsStrategyType(strategyType) {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidStrategy, strategyType)
	}
	return s.agents(func(a core.Agent) bool { return a.Strategy.Type() == strategyType })
}

func (s *Service) ServiceRequest(id string) (ServiceRequestInfo, error) {
	req, err := s.ledger.GetServiceRequest(id)
	if err != nil {
		return ServiceRequestInfo{}, err
	}
	return NewServiceRequestInfo(req), nil
}

func (s *Service) PendingRequests() ([]ServiceRequestInfo, error) {
	out := []ServiceRequestInfo{}
	err := s.ledger.ServiceRequests(func(r core.ServiceRequest) error {
		if r.Status == core.StatusPending {
			out = append(out, NewServiceRequestInfo(r))
		}
		return nil
	})
	return out, err
}

// Transactions returns up to limit transactions in the order they were
// recorded. A non-positive limit means DefaultTransactionLimit.
func (s *Service) Transactions(limit int) ([]TransactionInfo, error) {
	if limit <= 0 {
		limit = DefaultTransactionLimit
	}
	out := []TransactionInfo{}
	err := s.ledger.Transactions(func(tx core.Transaction) error {
		out = append(out, NewTransactionInfo(tx))
		if len(out) >= limit {
			return storage.ErrStopIteration
		}
		return nil
	})
	return out, err
}

// Stats reports the aggregate counters plus the figures derived from the
// agent set. AverageReputation divides by total_agents.
func (s *Service) Stats() (MarketplaceStats, error) {
	counters, err := s.ledger.Counters()
	if err != nil {
		return MarketplaceStats{}, err
	}
	stats := MarketplaceStats{
		TotalAgents:       counters.TotalAgents,
		TotalTransactions: counters.TotalTransactions,
		TotalVolume:       counters.TotalVolume.String(),
	}
	var reputation uint64
	err = s.ledger.Agents(func(a core.Agent) error {
		if a.IsActive {
			stats.ActiveAgents++
		}
		reputation += a.Reputation
		return nil
	})
	if err != nil {
		return MarketplaceStats{}, err
	}
	if counters.TotalAgents > 0 {
		stats.AverageReputation = float64(reputation) / float64(counters.TotalAgents)
	}
	return stats, nil
}

func (s *Service) MarketListings() ([]core.MarketListing, error) {
	out := []core.MarketListing{}
	err := s.ledger.MarketListings(func(l core.MarketListing) error {
		out = append(out, l)
		return nil
	})
	return out, err
}

// Params are the arguments of a routed query, sent as JSON in the query data.
type Params struct {
	ID       string `json:"id,omitempty"`
	Strategy string `json:"strategy,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// Paths served by Route.
const (
	PathAgent           = "/agent"
	PathAgents          = "/agents"
	PathActiveAgents    = "/agents/active"
	PathAgentsStrategy  = "/agents/strategy"
	PathRequest         = "/request"
	PathPendingRequests = "/requests/pending"
	PathTransactions    = "/transactions"
	PathStats           = "/stats"
	PathListings        = "/listings"
)

// ErrUnknownPath is returned by Route for paths it does not serve.
var ErrUnknownPath = fmt.Errorf("%w: unknown query path", core.ErrInvalidOperation)

// Route answers the query at path and returns it JSON-encoded.
func (s *Service) Route(path string, data []byte) ([]byte, error) {
	var p Params
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: query params: %v", core.ErrInvalidOperation, err)
		}
	}

	var (
		result interface{}
		err    error
	)
	switch strings.TrimSuffix(path, "/") {
	case PathAgent:
		result, err = s.Agent(p.ID)
	case PathAgents:
		result, err = s.Agents()
	case PathActiveAgents:
		result, err = s.ActiveAgents()
	case PathAgentsStrategy:
		result, err = s.AgentsByStrategy(p.Strategy)
	case PathRequest:
		result, err = s.ServiceRequest(p.ID)
	case PathPendingRequests:
		result, err = s.PendingRequests()
	case PathTransactions:
		result, err = s.Transactions(p.Limit)
	case PathStats:
		result, err = s.Stats()
	case PathListings:
		result, err = s.MarketListings()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPath, path)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}
