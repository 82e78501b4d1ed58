// Package config reads node settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/NethermindEth/agentchain/archive"
)

type Config struct {
	ChainID string
	NodeID  string
	Home    string

	P2PPort int
	RPCPort int
	APIPort int
	// Peers is a comma separated list of id@host:port persistent peers.
	Peers string

	NATSURL string
	// RelayKey signs the message txs this node's relay submits.
	RelayKey string
	// Relayers are trusted to submit message txs in addition to the
	// relayers of the genesis app state.
	Relayers []string

	Archive        bool
	EigenDAHost    string
	EigenDAPort    string
	EigenDAAuthKey string
}

// LoadEnv loads .env style files into the environment without overriding
// variables already set. With no files it reads ./.env.
func LoadEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		log.Println("Warning: .env file not found")
	}
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		ChainID:     "mainnet",
		NodeID:      "genesis",
		Home:        filepath.Join(home, ".agentchain"),
		P2PPort:     26656,
		RPCPort:     26657,
		APIPort:     3000,
		NATSURL:     "nats://localhost:4222",
		EigenDAHost: archive.DefaultHost,
		EigenDAPort: archive.DefaultPort,
	}
}

// Load applies environment overrides to Default.
func Load() (Config, error) {
	c := Default()
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str("AGENTCHAIN_CHAIN_ID", &c.ChainID)
	str("AGENTCHAIN_NODE_ID", &c.NodeID)
	str("AGENTCHAIN_HOME", &c.Home)
	str("AGENTCHAIN_PEERS", &c.Peers)
	str("AGENTCHAIN_NATS_URL", &c.NATSURL)
	str("AGENTCHAIN_RELAY_KEY", &c.RelayKey)
	str("EIGENDA_HOST", &c.EigenDAHost)
	str("EIGENDA_PORT", &c.EigenDAPort)
	str("EIGENDA_AUTH_PK", &c.EigenDAAuthKey)

	for key, dst := range map[string]*int{
		"AGENTCHAIN_P2P_PORT": &c.P2PPort,
		"AGENTCHAIN_RPC_PORT": &c.RPCPort,
		"AGENTCHAIN_API_PORT": &c.APIPort,
	} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid %s %q", key, v)
		}
		*dst = port
	}

	if v := os.Getenv("AGENTCHAIN_RELAYERS"); v != "" {
		c.Relayers = SplitList(v)
	}
	if v := os.Getenv("AGENTCHAIN_ARCHIVE"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid AGENTCHAIN_ARCHIVE %q", v)
		}
		c.Archive = enabled
	}
	return c, nil
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	if c.ChainID == "" || strings.ContainsAny(c.ChainID, ". *>") {
		return fmt.Errorf("invalid chain id %q", c.ChainID)
	}
	if c.Archive && c.EigenDAAuthKey == "" {
		return fmt.Errorf("archive enabled but EIGENDA_AUTH_PK is not set")
	}
	return nil
}

// NodeDir is where the node keeps its CometBFT config and data.
func (c Config) NodeDir() string {
	return filepath.Join(c.Home, c.ChainID, c.NodeID)
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
