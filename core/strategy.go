package core

import (
	"fmt"
	"strings"
)

// Strategy type names as rendered by the read projection.
const (
	StrategyTrading     = "Trading"
	StrategyOracle      = "Oracle"
	StrategyGovernance  = "Governance"
	StrategyMarketMaker = "MarketMaker"
)

type TradingStrategy struct {
	RiskLevel uint8  `json:"risk_level"`
	MinProfit Amount `json:"min_profit"`
}

type OracleStrategy struct {
	DataSources     []string `json:"data_sources"`
	UpdateFrequency uint64   `json:"update_frequency"`
}

type GovernanceStrategy struct {
	VotingPower       Amount `json:"voting_power"`
	DelegationEnabled bool   `json:"delegation_enabled"`
}

type MarketMakerStrategy struct {
	SpreadBps      uint16 `json:"spread_bps"`
	LiquidityDepth Amount `json:"liquidity_depth"`
}

// AgentStrategy is a tagged union: exactly one variant is set. It is
// descriptive metadata and is never executed by the ledger. On the wire it is
// an object with a single key naming the variant, e.g.
//
//	{"Trading": {"risk_level": 3, "min_profit": "10"}}
type AgentStrategy struct {
	Trading     *TradingStrategy     `json:"Trading,omitempty"`
	Oracle      *OracleStrategy      `json:"Oracle,omitempty"`
	Governance  *GovernanceStrategy  `json:"Governance,omitempty"`
	MarketMaker *MarketMakerStrategy `json:"MarketMaker,omitempty"`
}

func NewTradingStrategy(riskLevel uint8, minProfit Amount) AgentStrategy {
	return AgentStrategy{Trading: &TradingStrategy{RiskLevel: riskLevel, MinProfit: minProfit}}
}

func NewOracleStrategy(sources []string, updateFrequency uint64) AgentStrategy {
	return AgentStrategy{Oracle: &OracleStrategy{DataSources: sources, UpdateFrequency: updateFrequency}}
}

func NewGovernanceStrategy(votingPower Amount, delegation bool) AgentStrategy {
	return AgentStrategy{Governance: &GovernanceStrategy{VotingPower: votingPower, DelegationEnabled: delegation}}
}

func NewMarketMakerStrategy(spreadBps uint16, depth Amount) AgentStrategy {
	return AgentStrategy{MarketMaker: &MarketMakerStrategy{SpreadBps: spreadBps, LiquidityDepth: depth}}
}

// Type returns the variant name, or "" when the value is not a valid union.
func (s AgentStrategy) Type() string {
	if s.Validate() != nil {
		return ""
	}
	switch {
	case s.Trading != nil:
		return StrategyTrading
	case s.Oracle != nil:
		return StrategyOracle
	case s.Governance != nil:
		return StrategyGovernance
	default:
		return StrategyMarketMaker
	}
}

// Validate checks that exactly one variant is present.
func (s AgentStrategy) Validate() error {
	set := 0
	if s.Trading != nil {
		set++
	}
	if s.Oracle != nil {
		set++
		for i, src := range s.Oracle.DataSources {
			if strings.TrimSpace(src) == "" {
				return fmt.Errorf("%w: oracle data source %d is empty", ErrInvalidStrategy, i)
			}
		}
	}
	if s.Governance != nil {
		set++
	}
	if s.MarketMaker != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: expected exactly one variant, got %d", ErrInvalidStrategy, set)
	}
	return nil
}

// IsStrategyType reports whether name is one of the known variant names.
func IsStrategyType(name string) bool {
	switch name {
	case StrategyTrading, StrategyOracle, StrategyGovernance, StrategyMarketMaker:
		return true
	}
	return false
}
