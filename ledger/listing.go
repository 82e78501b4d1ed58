package ledger

import (
	"github.com/NethermindEth/agentchain/core"
	"github.com/NethermindEth/agentchain/storage"
)

// UpdateMarketListing upserts the listing keyed by (agent_id, service_type).
// The last write wins; nothing is merged.
func (l *Ledger) UpdateMarketListing(listing core.MarketListing) error {
	if err := listing.Validate(); err != nil {
		return err
	}
	return l.update(func(s *session) error {
		return storage.PutObject(s.store, listingKey(listing.Key()), listing)
	})
}

// GetMarketListing reports false when no listing exists for the pair.
func (l *Ledger) GetMarketListing(agentID, serviceType string) (core.MarketListing, bool, error) {
	var listing core.MarketListing
	found, err := storage.GetObject(l.store, listingKey(core.ListingKey(agentID, serviceType)), &listing)
	return listing, found, err
}

// MarketListings visits every listing in key order.
func (l *Ledger) MarketListings(fn func(core.MarketListing) error) error {
	return iterateObjects(l.store, listingPrefix, fn)
}

// Counters is the aggregate accounting of the ledger.
type Counters struct {
	TotalAgents       uint64      `json:"total_agents"`
	TotalTransactions uint64      `json:"total_transactions"`
	TotalVolume       core.Amount `json:"total_volume"`
}

func (l *Ledger) Counters() (Counters, error) {
	var c Counters
	err := l.view(func(s *session) error {
		var err error
		if c.TotalAgents, err = storage.GetUint64(s.store, keyTotalAgents); err != nil {
			return err
		}
		if c.TotalTransactions, err = storage.GetUint64(s.store, keyTotalTransactions); err != nil {
			return err
		}
		c.TotalVolume, err = s.totalVolume()
		return err
	})
	return c, err
}
