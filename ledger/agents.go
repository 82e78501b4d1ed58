package ledger

import (
	"errors"
	"fmt"

	"github.com/NethermindEth/agentchain/core"
	"github.com/NethermindEth/agentchain/storage"
)

// CreateAgent inserts a fresh agent with the initial reputation and counts it
// in total_agents. The id must not be in use.
func (l *Ledger) CreateAgent(id, owner, name, description string, strategy core.AgentStrategy, initialBalance core.Amount) error {
	if !core.ValidID(id) {
		return fmt.Errorf("%w: bad agent id %q", core.ErrInvalidOperation, id)
	}
	if err := strategy.Validate(); err != nil {
		return err
	}

	return l.update(func(s *session) error {
		if _, err := s.agent(id); err == nil {
			return fmt.Errorf("%w: %s", core.ErrAgentAlreadyExists, id)
		} else if !errors.Is(err, core.ErrAgentNotFound) {
			return err
		}

		now := l.Now()
		agent := core.Agent{
			ID:          id,
			Owner:       owner,
			Name:        name,
			Description: description,
			Strategy:    strategy,
			Balance:     initialBalance,
			Reputation:  core.InitialReputation,
			CreatedAt:   now,
			LastActive:  now,
			IsActive:    true,
		}
		if err := s.putAgent(agent); err != nil {
			return err
		}
		if _, err := s.increment(keyTotalAgents); err != nil {
			return err
		}
		l.logger.Debug("Agent created", "id", id, "owner", owner, "balance", initialBalance)
		return nil
	})
}

// GetAgent returns the agent or an AgentNotFound error.
func (l *Ledger) GetAgent(id string) (core.Agent, error) {
	var agent core.Agent
	err := l.view(func(s *session) error {
		var err error
		agent, err = s.agent(id)
		return err
	})
	return agent, err
}

// HasAgent reports whether id is taken.
func (l *Ledger) HasAgent(id string) (bool, error) {
	data, err := l.store.Get(agentKey(id))
	if err != nil {
		return false, err
	}
	return data != nil, nil
}

// UpdateStrategy replaces the agent's strategy descriptor.
func (l *Ledger) UpdateStrategy(agentID string, strategy core.AgentStrategy) error {
	if err := strategy.Validate(); err != nil {
		return err
	}
	return l.update(func(s *session) error {
		agent, err := s.agent(agentID)
		if err != nil {
			return err
		}
		agent.Strategy = strategy
		agent.LastActive = l.Now()
		return s.putAgent(agent)
	})
}

// DeactivateAgent clears the active flag. The record and its balance stay.
func (l *Ledger) DeactivateAgent(agentID string) error {
	return l.update(func(s *session) error {
		agent, err := s.agent(agentID)
		if err != nil {
			return err
		}
		agent.IsActive = false
		agent.LastActive = l.Now()
		return s.putAgent(agent)
	})
}

// RecordActivity bumps the agent's last_active timestamp.
func (l *Ledger) RecordActivity(agentID string) error {
	return l.update(func(s *session) error {
		agent, err := s.agent(agentID)
		if err != nil {
			return err
		}
		agent.LastActive = l.Now()
		return s.putAgent(agent)
	})
}

// Agents visits every agent in id order.
func (l *Ledger) Agents(fn func(core.Agent) error) error {
	return iterateObjects(l.store, agentPrefix, fn)
}

// iterateObjects decodes every JSON value under prefix into a T.
func iterateObjects[T any](s storage.Store, prefix string, fn func(T) error) error {
	return s.Iterate(prefix, func(key string, value []byte) error {
		var obj T
		if err := core.DecodeJSON(value, &obj); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return fn(obj)
	})
}
