// Package marketplace turns signed operations and cross-ledger messages into
// accounting engine calls.
package marketplace

import (
	"errors"
	"fmt"

	"github.com/cometbft/cometbft/libs/log"

	"github.com/NethermindEth/agentchain/core"
	"github.com/NethermindEth/agentchain/ledger"
)

// maxIDProbes bounds the search for a free secondary agent id.
const maxIDProbes = 1024

// Result is the outcome of a successful operation.
type Result struct {
	Confirmation string
	Outbound     []Outbound
}

// Dispatcher executes operations on behalf of an authenticated caller.
type Dispatcher struct {
	ledger *ledger.Ledger
	logger log.Logger
}

func NewDispatcher(l *ledger.Ledger, logger log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Dispatcher{ledger: l, logger: logger.With("module", "dispatcher")}
}

// Execute runs op as identity. All engine calls made for one operation are
// applied together or not at all.
func (d *Dispatcher) Execute(identity string, op Operation) (Result, error) {
	if identity == "" {
		return Result{}, core.ErrMissingSigner
	}
	if err := op.Validate(); err != nil {
		return Result{}, err
	}

	var res Result
	err := d.ledger.Batch(func(l *ledger.Ledger) error {
		var err error
		res, err = d.execute(l, identity, op)
		return err
	})
	if err != nil {
		d.logger.Debug("Operation rejected", "op", op.Name(), "caller", identity, "err", err)
		return Result{}, err
	}
	d.logger.Info("Operation applied", "op", op.Name(), "caller", identity, "result", res.Confirmation)
	return res, nil
}

func (d *Dispatcher) execute(l *ledger.Ledger, identity string, op Operation) (Result, error) {
	switch {
	case op.CreateAgent != nil:
		return d.createAgent(l, identity, op.CreateAgent)
	case op.TransferTokens != nil:
		return d.transferTokens(l, identity, op.TransferTokens)
	case op.RequestService != nil:
		return d.requestService(l, identity, op.RequestService)
	case op.AcceptService != nil:
		return d.acceptService(l, identity, op.AcceptService)
	case op.CompleteService != nil:
		return d.completeService(l, identity, op.CompleteService)
	case op.UpdateStrategy != nil:
		return d.updateStrategy(l, identity, op.UpdateStrategy)
	case op.DeactivateAgent != nil:
		return d.deactivateAgent(l, identity, op.DeactivateAgent)
	case op.UpdateMarketListing != nil:
		return d.updateMarketListing(l, identity, *op.UpdateMarketListing)
	case op.OpenDispute != nil:
		return d.openDispute(l, identity, op.OpenDispute)
	}
	return Result{}, core.ErrInvalidOperation
}

func confirm(format string, args ...interface{}) Result {
	return Result{Confirmation: fmt.Sprintf(format, args...)}
}

// requireOwner loads agentID and checks that identity owns it.
func requireOwner(l *ledger.Ledger, agentID, identity string) (core.Agent, error) {
	agent, err := l.GetAgent(agentID)
	if err != nil {
		return core.Agent{}, err
	}
	if agent.Owner != identity {
		return core.Agent{}, fmt.Errorf("%w: %s is not owned by the caller", core.ErrUnauthorized, agentID)
	}
	return agent, nil
}

// newAgentID picks the caller agent id if it is free, otherwise the first
// free secondary id at or after the current microsecond.
func newAgentID(l *ledger.Ledger, identity string) (string, error) {
	primary := core.CallerAgentID(identity)
	taken, err := l.HasAgent(primary)
	if err != nil || !taken {
		return primary, err
	}
	micros := l.NowMicros()
	for i := int64(0); i < maxIDProbes; i++ {
		id := core.SecondaryAgentID(identity, micros+i)
		taken, err := l.HasAgent(id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no free id for %s", core.ErrAgentAlreadyExists, identity)
}

func (d *Dispatcher) createAgent(l *ledger.Ledger, identity string, op *CreateAgent) (Result, error) {
	id, err := newAgentID(l, identity)
	if err != nil {
		return Result{}, err
	}
	if err := l.CreateAgent(id, identity, op.Name, op.Description, op.Strategy, op.InitialBalance); err != nil {
		return Result{}, err
	}
	return confirm("Agent created with ID: %s", id), nil
}

func (d *Dispatcher) transferTokens(l *ledger.Ledger, identity string, op *TransferTokens) (Result, error) {
	from := core.CallerAgentID(identity)
	if _, err := requireOwner(l, from, identity); err != nil {
		return Result{}, err
	}
	txID, err := l.TransferTokens(from, op.ToAgent, op.Amount, core.TxTransfer)
	if err != nil {
		return Result{}, err
	}
	return confirm("Transferred %s tokens from %s to %s (%s)", op.Amount, from, op.ToAgent, txID), nil
}

func (d *Dispatcher) requestService(l *ledger.Ledger, identity string, op *RequestService) (Result, error) {
	requester := core.CallerAgentID(identity)
	if _, err := requireOwner(l, requester, identity); err != nil {
		return Result{}, err
	}
	reqID, err := l.CreateRemoteServiceRequest(requester, op.ProviderAgent, op.ProviderChain, op.ServiceType, op.Parameters, op.Payment)
	if err != nil {
		return Result{}, err
	}
	req, err := l.GetServiceRequest(reqID)
	if err != nil {
		return Result{}, err
	}

	destination := op.ProviderChain
	if destination == "" {
		destination = l.ChainID()
	}
	res := confirm("Service request created: %s", reqID)
	res.Outbound = append(res.Outbound, Outbound{
		Destination: destination,
		Message: Message{ServiceRequest: &ServiceRequestMessage{
			RequestID:      reqID,
			Origin:         l.ChainID(),
			RequesterAgent: requester,
			ProviderAgent:  op.ProviderAgent,
			ServiceType:    op.ServiceType,
			Parameters:     op.Parameters,
			Payment:        op.Payment,
			CreatedAt:      req.CreatedAt,
		}},
	})
	return res, nil
}

// requestForProvider loads the request and checks that the caller owns its
// provider agent.
func requestForProvider(l *ledger.Ledger, requestID, identity string) (core.ServiceRequest, error) {
	req, err := l.GetServiceRequest(requestID)
	if err != nil {
		return req, err
	}
	if _, err := requireOwner(l, req.ProviderAgent, identity); err != nil {
		return req, err
	}
	return req, nil
}

func (d *Dispatcher) acceptService(l *ledger.Ledger, identity string, op *AcceptService) (Result, error) {
	if _, err := requestForProvider(l, op.RequestID, identity); err != nil {
		return Result{}, err
	}
	if err := l.AcceptService(op.RequestID); err != nil {
		return Result{}, err
	}
	return confirm("Service request %s accepted", op.RequestID), nil
}

func (d *Dispatcher) completeService(l *ledger.Ledger, identity string, op *CompleteService) (Result, error) {
	req, err := requestForProvider(l, op.RequestID, identity)
	if err != nil {
		return Result{}, err
	}
	if err := l.CompleteService(op.RequestID, op.Success); err != nil {
		return Result{}, err
	}

	outcome := "failed"
	if op.Success {
		outcome = "completed"
	}
	res := confirm("Service %s marked as %s", op.RequestID, outcome)
	if req.Origin != "" && req.Origin != l.ChainID() {
		// Payment for a mirrored request settles where the requester lives.
		res.Outbound = append(res.Outbound, Outbound{
			Destination: req.Origin,
			Message: Message{ServiceResponse: &ServiceResponseMessage{
				RequestID: op.RequestID,
				Success:   op.Success,
			}},
		})
	}
	return res, nil
}

func (d *Dispatcher) updateStrategy(l *ledger.Ledger, identity string, op *UpdateStrategy) (Result, error) {
	if _, err := requireOwner(l, op.AgentID, identity); err != nil {
		return Result{}, err
	}
	if err := l.UpdateStrategy(op.AgentID, op.NewStrategy); err != nil {
		return Result{}, err
	}
	return confirm("Strategy updated for agent %s", op.AgentID), nil
}

func (d *Dispatcher) deactivateAgent(l *ledger.Ledger, identity string, op *DeactivateAgent) (Result, error) {
	if _, err := requireOwner(l, op.AgentID, identity); err != nil {
		return Result{}, err
	}
	if err := l.DeactivateAgent(op.AgentID); err != nil {
		return Result{}, err
	}
	return confirm("Agent %s deactivated", op.AgentID), nil
}

func (d *Dispatcher) updateMarketListing(l *ledger.Ledger, identity string, listing core.MarketListing) (Result, error) {
	if _, err := requireOwner(l, listing.AgentID, identity); err != nil {
		return Result{}, err
	}
	if err := l.UpdateMarketListing(listing); err != nil {
		return Result{}, err
	}
	return confirm("Market listing updated for %s", listing.Key()), nil
}

func (d *Dispatcher) openDispute(l *ledger.Ledger, identity string, op *OpenDispute) (Result, error) {
	req, err := l.GetServiceRequest(op.RequestID)
	if err != nil {
		return Result{}, err
	}
	_, errRequester := requireOwner(l, req.RequesterAgent, identity)
	_, errProvider := requireOwner(l, req.ProviderAgent, identity)
	if errRequester != nil && errProvider != nil {
		if errors.Is(errRequester, core.ErrUnauthorized) || errors.Is(errProvider, core.ErrUnauthorized) {
			return Result{}, fmt.Errorf("%w: caller is not a party to %s", core.ErrUnauthorized, op.RequestID)
		}
		return Result{}, errRequester
	}
	if err := l.OpenDispute(op.RequestID); err != nil {
		return Result{}, err
	}
	return confirm("Dispute opened for %s", op.RequestID), nil
}
