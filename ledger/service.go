package ledger

import (
	"errors"
	"fmt"

	"github.com/NethermindEth/agentchain/core"
)

// CreateServiceRequest opens a Pending request. Payment is not reserved and
// not checked against the requester's balance until completion.
func (l *Ledger) CreateServiceRequest(requester, provider, serviceType, parameters string, payment core.Amount) (string, error) {
	var id string
	err := l.update(func(s *session) error {
		seq, err := s.increment(keyRequestSeq)
		if err != nil {
			return err
		}
		id = core.RequestID(l.chainID, seq)
		req := core.ServiceRequest{
			ID:             id,
			RequesterAgent: requester,
			ProviderAgent:  provider,
			ServiceType:    serviceType,
			Parameters:     parameters,
			Payment:        payment,
			Status:         core.StatusPending,
			CreatedAt:      l.Now(),
			Origin:         l.chainID,
		}
		return s.putRequest(req)
	})
	if err != nil {
		return "", err
	}
	l.logger.Debug("Service request opened", "id", id, "requester", requester, "provider", provider, "payment", payment)
	return id, nil
}

// CreateRemoteServiceRequest opens a Pending request whose provider is
// registered on providerChain. The provider is not looked up locally.
func (l *Ledger) CreateRemoteServiceRequest(requester, provider, providerChain, serviceType, parameters string, payment core.Amount) (string, error) {
	if providerChain == "" || providerChain == l.chainID {
		return l.CreateServiceRequest(requester, provider, serviceType, parameters, payment)
	}
	var id string
	err := l.update(func(s *session) error {
		seq, err := s.increment(keyRequestSeq)
		if err != nil {
			return err
		}
		id = core.RequestID(l.chainID, seq)
		return s.putRequest(core.ServiceRequest{
			ID:             id,
			RequesterAgent: requester,
			ProviderAgent:  provider,
			ServiceType:    serviceType,
			Parameters:     parameters,
			Payment:        payment,
			Status:         core.StatusPending,
			CreatedAt:      l.Now(),
			Origin:         l.chainID,
			ProviderChain:  providerChain,
		})
	})
	if err != nil {
		return "", err
	}
	l.logger.Debug("Remote service request opened", "id", id, "requester", requester, "provider", provider, "provider_chain", providerChain)
	return id, nil
}

// MirrorServiceRequest stores a request opened on another ledger under its
// original id. It reports false, and writes nothing, when the id is already
// known locally.
func (l *Ledger) MirrorServiceRequest(req core.ServiceRequest) (bool, error) {
	if !core.ValidID(req.ID) {
		return false, fmt.Errorf("%w: bad request id %q", core.ErrInvalidMessage, req.ID)
	}
	created := false
	err := l.update(func(s *session) error {
		if _, err := s.request(req.ID); err == nil {
			return nil
		} else if !errors.Is(err, core.ErrRequestNotFound) {
			return err
		}
		req.Status = core.StatusPending
		req.CompletedAt = nil
		req.ProviderChain = ""
		created = true
		return s.putRequest(req)
	})
	return created, err
}

// GetServiceRequest returns the request or a RequestNotFound error.
func (l *Ledger) GetServiceRequest(id string) (core.ServiceRequest, error) {
	var req core.ServiceRequest
	err := l.view(func(s *session) error {
		var err error
		req, err = s.request(id)
		return err
	})
	return req, err
}

// AcceptService moves a Pending request to Accepted.
func (l *Ledger) AcceptService(requestID string) error {
	return l.update(func(s *session) error {
		req, err := s.request(requestID)
		if err != nil {
			return err
		}
		if req.Status.IsTerminal() {
			return core.NewAlreadyCompleted(requestID)
		}
		if !req.Status.CanTransition(core.StatusAccepted) {
			return core.NewInvalidTransition(requestID, req.Status, core.StatusAccepted)
		}
		req.Status = core.StatusAccepted
		return s.putRequest(req)
	})
}

// CompleteService settles a request. On success the payment moves from
// requester to provider inside the same unit, so an underfunded requester
// leaves the request untouched. A terminal request is rejected, which makes
// duplicate delivery harmless.
//
// Requests mirrored from another ledger settle payment on their origin; here
// only the status and the provider's record change. On the origin of a
// request whose provider is remote, success only debits the requester and
// the provider's ledger is credited by a follow-up message.
func (l *Ledger) CompleteService(requestID string, success bool) error {
	return l.update(func(s *session) error {
		req, err := s.request(requestID)
		if err != nil {
			return err
		}
		if req.Status.IsTerminal() {
			return core.NewAlreadyCompleted(requestID)
		}

		target := core.StatusFailed
		if success {
			target = core.StatusCompleted
		}
		if !req.Status.CanTransition(target) {
			return core.NewInvalidTransition(requestID, req.Status, target)
		}

		remote := l.isRemoteProvider(req)
		if success && !l.isMirror(req) {
			if remote {
				_, err = s.debit(req.RequesterAgent, req.ProviderAgent, req.Payment, core.TxServicePayment)
			} else {
				_, err = s.transfer(req.RequesterAgent, req.ProviderAgent, req.Payment, core.TxServicePayment)
			}
			if err != nil {
				return err
			}
		}

		if !remote {
			// Loaded after the transfer so the credited balance is kept.
			provider, err := s.agent(req.ProviderAgent)
			if err != nil {
				return err
			}
			if success {
				provider.ServicesCompleted++
				provider.RaiseReputation(core.ReputationReward)
			} else {
				provider.ServicesFailed++
				provider.LowerReputation(core.ReputationPenalty)
			}
			if err := s.putAgent(provider); err != nil {
				return err
			}
		}

		now := l.Now()
		req.Status = target
		req.CompletedAt = &now
		if err := s.putRequest(req); err != nil {
			return err
		}
		l.logger.Debug("Service request settled", "id", requestID, "status", target, "provider", req.ProviderAgent, "remote", remote)
		return nil
	})
}

// OpenDispute marks a non-terminal request Disputed. No tokens move.
func (l *Ledger) OpenDispute(requestID string) error {
	return l.update(func(s *session) error {
		req, err := s.request(requestID)
		if err != nil {
			return err
		}
		if req.Status.IsTerminal() {
			return core.NewAlreadyCompleted(requestID)
		}
		if !req.Status.CanTransition(core.StatusDisputed) {
			return core.NewInvalidTransition(requestID, req.Status, core.StatusDisputed)
		}
		req.Status = core.StatusDisputed
		return s.putRequest(req)
	})
}

// ServiceRequests visits every request in id order.
func (l *Ledger) ServiceRequests(fn func(core.ServiceRequest) error) error {
	return iterateObjects(l.store, requestPrefix, fn)
}

func (l *Ledger) isMirror(req core.ServiceRequest) bool {
	return req.Origin != "" && req.Origin != l.chainID
}

// IsRemoteProvider reports whether req was opened here for a provider on
// another ledger.
func (l *Ledger) IsRemoteProvider(req core.ServiceRequest) bool {
	return l.isRemoteProvider(req)
}

func (l *Ledger) isRemoteProvider(req core.ServiceRequest) bool {
	return req.ProviderChain != "" && req.ProviderChain != l.chainID
}
