package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unset clears key for the duration of the test.
func unset(t *testing.T, key string) {
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AGENTCHAIN_CHAIN_ID", "beta")
	t.Setenv("AGENTCHAIN_HOME", "/tmp/agentchain")
	t.Setenv("AGENTCHAIN_API_PORT", "4000")
	t.Setenv("AGENTCHAIN_RELAYERS", " abc, ,DEF ")
	t.Setenv("AGENTCHAIN_ARCHIVE", "true")
	t.Setenv("EIGENDA_AUTH_PK", "0x01")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "beta", c.ChainID)
	assert.Equal(t, 4000, c.APIPort)
	assert.Equal(t, 26657, c.RPCPort)
	assert.Equal(t, []string{"abc", "DEF"}, c.Relayers)
	assert.True(t, c.Archive)
	assert.Equal(t, filepath.Join("/tmp/agentchain", "beta", "genesis"), c.NodeDir())
	assert.NoError(t, c.Validate())
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("AGENTCHAIN_RPC_PORT", "http")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("AGENTCHAIN_RPC_PORT", "")
	t.Setenv("AGENTCHAIN_ARCHIVE", "maybe")
	_, err = Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := Default()
	assert.NoError(t, c.Validate())

	c.ChainID = "a.b"
	assert.Error(t, c.Validate())

	c = Default()
	c.Archive = true
	assert.Error(t, c.Validate())
}

func TestLoadEnvFile(t *testing.T) {
	unset(t, "AGENTCHAIN_NATS_URL")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("AGENTCHAIN_NATS_URL=nats://relay:4222\n"), 0o600))

	LoadEnv(path)
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "nats://relay:4222", c.NATSURL)
}
