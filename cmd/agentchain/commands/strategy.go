package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NethermindEth/agentchain/config"
	"github.com/NethermindEth/agentchain/core"
)

// strategyFlags collects the parameters of every strategy variant; only the
// ones matching Type are read.
type strategyFlags struct {
	Type        string
	RiskLevel   uint8
	MinProfit   string
	Sources     string
	Frequency   uint64
	VotingPower string
	Delegation  bool
	SpreadBps   uint16
	Depth       string
}

func (f *strategyFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.Type, "strategy", "", "Strategy type (Trading, Oracle, Governance, MarketMaker)")
	fs.Uint8Var(&f.RiskLevel, "risk-level", 5, "Trading: risk level")
	fs.StringVar(&f.MinProfit, "min-profit", "0", "Trading: minimum profit")
	fs.StringVar(&f.Sources, "sources", "", "Oracle: comma separated data sources")
	fs.Uint64Var(&f.Frequency, "frequency", 60, "Oracle: update frequency in seconds")
	fs.StringVar(&f.VotingPower, "voting-power", "0", "Governance: voting power")
	fs.BoolVar(&f.Delegation, "delegation", false, "Governance: accept delegation")
	fs.Uint16Var(&f.SpreadBps, "spread-bps", 10, "MarketMaker: spread in basis points")
	fs.StringVar(&f.Depth, "depth", "0", "MarketMaker: liquidity depth")
}

func (f *strategyFlags) build() (core.AgentStrategy, error) {
	amount := func(name, v string) (core.Amount, error) {
		a, err := core.ParseAmount(v)
		if err != nil {
			return core.Amount{}, fmt.Errorf("invalid --%s: %w", name, err)
		}
		return a, nil
	}

	var s core.AgentStrategy
	switch f.Type {
	case core.StrategyTrading:
		minProfit, err := amount("min-profit", f.MinProfit)
		if err != nil {
			return s, err
		}
		s = core.NewTradingStrategy(f.RiskLevel, minProfit)
	case core.StrategyOracle:
		s = core.NewOracleStrategy(config.SplitList(f.Sources), f.Frequency)
	case core.StrategyGovernance:
		power, err := amount("voting-power", f.VotingPower)
		if err != nil {
			return s, err
		}
		s = core.NewGovernanceStrategy(power, f.Delegation)
	case core.StrategyMarketMaker:
		depth, err := amount("depth", f.Depth)
		if err != nil {
			return s, err
		}
		s = core.NewMarketMakerStrategy(f.SpreadBps, depth)
	case "":
		return s, fmt.Errorf("--strategy is required")
	default:
		return s, fmt.Errorf("%w: unknown strategy %q", core.ErrInvalidStrategy, f.Type)
	}
	return s, s.Validate()
}
