package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NethermindEth/agentchain/core"
)

func TestRegistryDefaults(t *testing.T) {
	r, err := NewTemplateRegistry(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.CreateDefaultTemplates())

	names, err := r.ListTemplates()
	require.NoError(t, err)
	assert.Len(t, names, len(DefaultTemplates()))
	assert.Equal(t, "aggressive_trader", names[0])

	oracle, err := r.GetTemplate("price_oracle")
	require.NoError(t, err)
	assert.Equal(t, core.StrategyOracle, oracle.Strategy.Type())
	assert.Equal(t, "100", oracle.InitialBalance.String())
}

func TestRegistryKeepsCustomTemplates(t *testing.T) {
	r, err := NewTemplateRegistry(t.TempDir())
	require.NoError(t, err)

	custom := &AgentTemplate{Name: "Mine", Strategy: core.NewTradingStrategy(5, core.NewAmount(3))}
	require.NoError(t, r.SaveTemplate("mine", custom))
	require.NoError(t, r.CreateDefaultTemplates())

	names, err := r.ListTemplates()
	require.NoError(t, err)
	assert.Equal(t, []string{"mine"}, names)

	assert.Error(t, r.SaveTemplate("bad", &AgentTemplate{Name: "Bad"}))
	_, err = r.GetTemplate("missing")
	assert.Error(t, err)
}
