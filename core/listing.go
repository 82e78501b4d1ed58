package core

import "fmt"

// MarketListing advertises a service an agent offers. Listings are keyed by
// (AgentID, ServiceType) and replaced wholesale on update.
type MarketListing struct {
	AgentID               string  `json:"agent_id"`
	ServiceType           string  `json:"service_type"`
	Price                 Amount  `json:"price"`
	Capacity              uint32  `json:"capacity"`
	AverageCompletionTime uint64  `json:"average_completion_time"`
	SuccessRate           float64 `json:"success_rate"`
}

// Key is the listing's storage identity.
func (l MarketListing) Key() string {
	return ListingKey(l.AgentID, l.ServiceType)
}

// Validate rejects listings that cannot be keyed or whose rate is out of range.
func (l MarketListing) Validate() error {
	if l.AgentID == "" || l.ServiceType == "" {
		return fmt.Errorf("%w: listing needs agent_id and service_type", ErrInvalidOperation)
	}
	if l.SuccessRate < 0 || l.SuccessRate > 100 {
		return fmt.Errorf("%w: success_rate %.2f outside [0, 100]", ErrInvalidOperation, l.SuccessRate)
	}
	return nil
}
