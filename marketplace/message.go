package marketplace

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/NethermindEth/agentchain/core"
)

// Message is a cross-ledger notification. Exactly one field is set.
type Message struct {
	ServiceRequest  *ServiceRequestMessage  `json:"ServiceRequest,omitempty"`
	ServiceResponse *ServiceResponseMessage `json:"ServiceResponse,omitempty"`
	TokenTransfer   *TokenTransferMessage   `json:"TokenTransfer,omitempty"`
}

// ServiceRequestMessage tells the provider's ledger about a new request.
type ServiceRequestMessage struct {
	RequestID      string      `json:"request_id"`
	Origin         string      `json:"origin"`
	RequesterAgent string      `json:"requester_agent"`
	ProviderAgent  string      `json:"provider_agent"`
	ServiceType    string      `json:"service_type"`
	Parameters     string      `json:"parameters"`
	Payment        core.Amount `json:"payment"`
	CreatedAt      uint64      `json:"created_at"`
}

// ServiceResponseMessage reports the provider's outcome to the origin ledger.
type ServiceResponseMessage struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Data      string `json:"data,omitempty"`
}

// TokenTransferMessage moves tokens on the destination ledger. When Debited
// is set, FromAgent was already charged on the source ledger and only ToAgent
// is credited.
type TokenTransferMessage struct {
	FromAgent string      `json:"from_agent"`
	ToAgent   string      `json:"to_agent"`
	Amount    core.Amount `json:"amount"`
	Debited   bool        `json:"debited,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

func (m Message) Kind() string {
	switch {
	case m.ServiceRequest != nil:
		return "ServiceRequest"
	case m.ServiceResponse != nil:
		return "ServiceResponse"
	case m.TokenTransfer != nil:
		return "TokenTransfer"
	}
	return ""
}

func (m Message) Validate() error {
	set := 0
	for _, present := range []bool{m.ServiceRequest != nil, m.ServiceResponse != nil, m.TokenTransfer != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: expected exactly one message kind, got %d", core.ErrInvalidMessage, set)
	}

	switch {
	case m.ServiceRequest != nil:
		r := m.ServiceRequest
		if !core.ValidID(r.RequestID) || !core.ValidID(r.ProviderAgent) || r.Origin == "" {
			return fmt.Errorf("%w: service request needs request_id, provider_agent and origin", core.ErrInvalidMessage)
		}
	case m.ServiceResponse != nil:
		if !core.ValidID(m.ServiceResponse.RequestID) {
			return fmt.Errorf("%w: service response needs request_id", core.ErrInvalidMessage)
		}
	case m.TokenTransfer != nil:
		if !core.ValidID(m.TokenTransfer.FromAgent) || !core.ValidID(m.TokenTransfer.ToAgent) {
			return fmt.Errorf("%w: token transfer needs from_agent and to_agent", core.ErrInvalidMessage)
		}
	}
	return nil
}

// Outbound is a message produced by an operation, addressed to a ledger.
type Outbound struct {
	Destination string  `json:"destination"`
	Message     Message `json:"message"`
}

// Envelope is a message in transit between ledgers. The ID is derived from
// where the message was produced, so every replica of the source ledger
// emits the same ID and the destination can drop duplicates.
type Envelope struct {
	ID          string  `json:"id"`
	Source      string  `json:"source"`
	Destination string  `json:"destination"`
	Height      int64   `json:"height"`
	Message     Message `json:"message"`
}

var envelopeNamespace = uuid.MustParse("6f1c3c2e-8d7a-4b59-9a0e-2a4d2b7c9e11")

// NewEnvelope stamps msg with the ID for the index-th message emitted by
// source at height.
func NewEnvelope(source string, height int64, index int, out Outbound) Envelope {
	name := fmt.Sprintf("%s/%d/%d", source, height, index)
	return Envelope{
		ID:          uuid.NewSHA1(envelopeNamespace, []byte(name)).String(),
		Source:      source,
		Destination: out.Destination,
		Height:      height,
		Message:     out.Message,
	}
}

func (e Envelope) Validate() error {
	if _, err := uuid.Parse(e.ID); err != nil {
		return fmt.Errorf("%w: envelope id %q", core.ErrInvalidMessage, e.ID)
	}
	if e.Source == "" || e.Destination == "" {
		return fmt.Errorf("%w: envelope needs source and destination", core.ErrInvalidMessage)
	}
	return e.Message.Validate()
}
