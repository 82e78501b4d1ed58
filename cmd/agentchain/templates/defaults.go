package templates

import "github.com/NethermindEth/agentchain/core"

// DefaultTemplates returns a map of default template names to their definitions
func DefaultTemplates() map[string]*AgentTemplate {
	return map[string]*AgentTemplate{
		"cautious_trader": {
			Name:           "Cautious Trader",
			Description:    "Low-risk trading agent that only acts on a clear margin.",
			Strategy:       core.NewTradingStrategy(2, core.NewAmount(50)),
			InitialBalance: core.NewAmount(1000),
		},
		"aggressive_trader": {
			Name:           "Aggressive Trader",
			Description:    "High-risk trading agent chasing thin margins.",
			Strategy:       core.NewTradingStrategy(9, core.NewAmount(1)),
			InitialBalance: core.NewAmount(1000),
		},
		"price_oracle": {
			Name:           "Price Oracle",
			Description:    "Publishes price feeds to other agents for a fee.",
			Strategy:       core.NewOracleStrategy([]string{"coingecko", "binance"}, 60),
			InitialBalance: core.NewAmount(100),
		},
		"delegate": {
			Name:           "Governance Delegate",
			Description:    "Votes on behalf of delegators.",
			Strategy:       core.NewGovernanceStrategy(core.NewAmount(500), true),
			InitialBalance: core.NewAmount(500),
		},
		"market_maker": {
			Name:           "Market Maker",
			Description:    "Quotes both sides of the book at a fixed spread.",
			Strategy:       core.NewMarketMakerStrategy(30, core.NewAmount(10000)),
			InitialBalance: core.NewAmount(10000),
		},
	}
}

// CreateDefaultTemplates writes the defaults when the registry is empty.
func (r *TemplateRegistry) CreateDefaultTemplates() error {
	templates, err := r.ListTemplates()
	if err != nil {
		return err
	}
	if len(templates) > 0 {
		return nil
	}
	for name, template := range DefaultTemplates() {
		if err := r.SaveTemplate(name, template); err != nil {
			return err
		}
	}
	return nil
}
