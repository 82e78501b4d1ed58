package marketplace

import (
	"fmt"

	"github.com/cometbft/cometbft/libs/log"

	"github.com/NethermindEth/agentchain/core"
	"github.com/NethermindEth/agentchain/ledger"
)

// InboxNamespace keys the delivered-envelope marks.
const InboxNamespace = "inbox"

// MessageHandler applies inbound cross-ledger messages. The consensus layer
// only lets trusted relayers submit them.
type MessageHandler struct {
	ledger *ledger.Ledger
	logger log.Logger
}

func NewMessageHandler(l *ledger.Ledger, logger log.Logger) *MessageHandler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &MessageHandler{ledger: l, logger: logger.With("module", "messages")}
}

// Handle applies env exactly once and returns the messages it produces for
// other ledgers. A redelivered envelope fails with ErrDuplicateTx and changes
// nothing; a failed one leaves no mark, so the transport may deliver it again.
func (h *MessageHandler) Handle(env Envelope) ([]Outbound, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	var out []Outbound
	err := h.ledger.Batch(func(l *ledger.Ledger) error {
		if err := l.Claim(InboxNamespace, env.ID); err != nil {
			return err
		}
		var err error
		out, err = h.apply(l, env)
		return err
	})
	if err != nil {
		h.logger.Error("Message rejected", "id", env.ID, "kind", env.Message.Kind(), "source", env.Source, "err", err)
		return nil, err
	}
	h.logger.Info("Message applied", "id", env.ID, "kind", env.Message.Kind(), "source", env.Source, "outbound", len(out))
	return out, nil
}

func (h *MessageHandler) apply(l *ledger.Ledger, env Envelope) ([]Outbound, error) {
	msg := env.Message
	switch {
	case msg.ServiceRequest != nil:
		return nil, h.serviceRequest(l, msg.ServiceRequest)
	case msg.ServiceResponse != nil:
		return h.serviceResponse(l, msg.ServiceResponse)
	case msg.TokenTransfer != nil:
		return nil, h.tokenTransfer(l, env.Source, msg.TokenTransfer)
	}
	return nil, core.ErrInvalidMessage
}

func (h *MessageHandler) tokenTransfer(l *ledger.Ledger, source string, t *TokenTransferMessage) error {
	typ := core.TxTransfer
	if t.RequestID != "" {
		typ = core.TxServicePayment
	}
	if !t.Debited {
		_, err := l.TransferTokens(t.FromAgent, t.ToAgent, t.Amount, typ)
		return err
	}
	if source == l.ChainID() {
		return fmt.Errorf("%w: debited transfer from own ledger", core.ErrInvalidMessage)
	}
	_, err := l.CreditRemoteTransfer(t.FromAgent, t.ToAgent, t.Amount, typ)
	return err
}

// serviceRequest marks the provider as active and, for requests opened on
// another ledger, keeps a local mirror of the request.
func (h *MessageHandler) serviceRequest(l *ledger.Ledger, m *ServiceRequestMessage) error {
	if err := l.RecordActivity(m.ProviderAgent); err != nil {
		return err
	}
	if m.Origin == l.ChainID() {
		return nil
	}
	_, err := l.MirrorServiceRequest(core.ServiceRequest{
		ID:             m.RequestID,
		RequesterAgent: m.RequesterAgent,
		ProviderAgent:  m.ProviderAgent,
		ServiceType:    m.ServiceType,
		Parameters:     m.Parameters,
		Payment:        m.Payment,
		CreatedAt:      m.CreatedAt,
		Origin:         m.Origin,
	})
	return err
}

// serviceResponse settles a request on its origin ledger. A response to a
// request still Pending here implies the provider accepted it remotely. When
// the provider lives elsewhere, the payment debited here is forwarded to its
// ledger as a Debited transfer.
func (h *MessageHandler) serviceResponse(l *ledger.Ledger, m *ServiceResponseMessage) ([]Outbound, error) {
	req, err := l.GetServiceRequest(m.RequestID)
	if err != nil {
		return nil, err
	}
	if m.Success && req.Status == core.StatusPending {
		if err := l.AcceptService(m.RequestID); err != nil {
			return nil, err
		}
	}
	if err := l.CompleteService(m.RequestID, m.Success); err != nil {
		return nil, err
	}
	if !m.Success || !l.IsRemoteProvider(req) {
		return nil, nil
	}
	return []Outbound{{
		Destination: req.ProviderChain,
		Message: Message{TokenTransfer: &TokenTransferMessage{
			FromAgent: req.RequesterAgent,
			ToAgent:   req.ProviderAgent,
			Amount:    req.Payment,
			Debited:   true,
			RequestID: req.ID,
		}},
	}}, nil
}
