// Package node wraps a CometBFT node around the marketplace application and
// prepares its home directory on first start.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cfg "github.com/cometbft/cometbft/config"
	tmlog "github.com/cometbft/cometbft/libs/log"
	"github.com/cometbft/cometbft/node"
	"github.com/cometbft/cometbft/p2p"
	"github.com/cometbft/cometbft/privval"
	"github.com/cometbft/cometbft/proxy"
	"github.com/cometbft/cometbft/types"

	"github.com/NethermindEth/agentchain/consensus/abci"
	"github.com/NethermindEth/agentchain/crypto"
)

// Settings are the knobs the CLI exposes on top of the CometBFT defaults.
type Settings struct {
	RootDir string
	ChainID string
	Moniker string
	P2PPort int
	RPCPort int
	// Peers is a comma separated id@host:port list.
	Peers string
}

type Node struct {
	cometCfg *cfg.Config
	node     *node.Node
	chainID  string
	logger   tmlog.Logger
}

// CometConfig builds the CometBFT config for s.
func CometConfig(s Settings) *cfg.Config {
	config := cfg.DefaultConfig()
	config.SetRoot(s.RootDir)
	config.Moniker = s.Moniker
	config.RPC.ListenAddress = fmt.Sprintf("tcp://0.0.0.0:%d", s.RPCPort)
	config.Consensus.TimeoutCommit = time.Second

	config.P2P.ListenAddress = fmt.Sprintf("tcp://0.0.0.0:%d", s.P2PPort)
	config.P2P.ExternalAddress = fmt.Sprintf("tcp://127.0.0.1:%d", s.P2PPort)
	config.P2P.PersistentPeers = s.Peers
	config.P2P.AllowDuplicateIP = true
	config.P2P.AddrBookStrict = false
	config.P2P.HandshakeTimeout = 20 * time.Second
	config.P2P.DialTimeout = 3 * time.Second
	config.P2P.FlushThrottleTimeout = 10 * time.Millisecond
	config.P2P.MaxNumInboundPeers = 40
	config.P2P.MaxNumOutboundPeers = 10
	config.P2P.PexReactor = true
	return config
}

func fileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}

// RelayKeyFile is where the node keeps the key its relay signs message txs
// with.
func RelayKeyFile(config *cfg.Config) string {
	return filepath.Join(config.RootDir, "config", "relay_key.txt")
}

// LoadOrGenRelayKey returns the hex private key stored at path, creating it
// on first use.
func LoadOrGenRelayKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key := strings.TrimSpace(string(data))
		if _, err := crypto.PublicKeyHex(key); err != nil {
			return "", fmt.Errorf("bad relay key in %s: %w", path, err)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read relay key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("failed to create key directory: %w", err)
	}
	priv, _ := crypto.GenerateKey()
	if err := os.WriteFile(path, []byte(priv+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to write relay key: %w", err)
	}
	return priv, nil
}

// InitFiles creates the validator key, node key and a single validator
// genesis for chainID whose app state trusts relayers. Existing files are
// left alone.
func InitFiles(config *cfg.Config, chainID string, relayers ...string) error {
	cfg.EnsureRoot(config.RootDir)
	if err := os.MkdirAll(config.DBDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	privVal := privval.LoadOrGenFilePV(config.PrivValidatorKeyFile(), config.PrivValidatorStateFile())
	if _, err := p2p.LoadOrGenNodeKey(config.NodeKeyFile()); err != nil {
		return fmt.Errorf("failed to generate node key: %w", err)
	}

	genesisFile := config.GenesisFile()
	if fileExists(genesisFile) {
		return nil
	}
	pubKey, err := privVal.GetPubKey()
	if err != nil {
		return fmt.Errorf("failed to get validator public key: %w", err)
	}
	if relayers == nil {
		relayers = []string{}
	}
	appState, err := json.Marshal(abci.GenesisState{Relayers: relayers})
	if err != nil {
		return fmt.Errorf("failed to encode app state: %w", err)
	}
	genDoc := types.GenesisDoc{
		ChainID:         chainID,
		GenesisTime:     time.Now(),
		ConsensusParams: types.DefaultConsensusParams(),
		AppState:        appState,
		Validators: []types.GenesisValidator{{
			Address: pubKey.Address(),
			PubKey:  pubKey,
			Power:   10,
			Name:    "genesis",
		}},
	}
	if err := genDoc.ValidateAndComplete(); err != nil {
		return fmt.Errorf("invalid genesis doc: %w", err)
	}
	return genDoc.SaveAs(genesisFile)
}

// NewNode creates the CometBFT node running app in process.
func NewNode(config *cfg.Config, app abcitypes.Application, logger tmlog.Logger) (*Node, error) {
	genDoc, err := types.GenesisDocFromFile(config.GenesisFile())
	if err != nil {
		return nil, fmt.Errorf("failed to read genesis: %w", err)
	}
	logger.Info("Loaded genesis", "chain_id", genDoc.ChainID, "validators", len(genDoc.Validators))

	nodeKey, err := p2p.LoadOrGenNodeKey(config.NodeKeyFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load node key: %w", err)
	}
	privValidator := privval.LoadOrGenFilePV(
		config.PrivValidatorKeyFile(),
		config.PrivValidatorStateFile(),
	)

	n, err := node.NewNode(
		config,
		privValidator,
		nodeKey,
		proxy.NewLocalClientCreator(app),
		func() (*types.GenesisDoc, error) { return genDoc, nil },
		node.DefaultDBProvider,
		node.DefaultMetricsProvider(config.Instrumentation),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create node: %w", err)
	}
	return &Node{
		cometCfg: config,
		node:     n,
		chainID:  genDoc.ChainID,
		logger:   logger,
	}, nil
}

func (n *Node) Start(ctx context.Context) error {
	if err := n.node.Start(); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}
	n.logger.Info("Node started", "chain_id", n.chainID, "node_id", n.node.NodeInfo().ID())
	return nil
}

func (n *Node) Stop(ctx context.Context) error {
	if !n.node.IsRunning() {
		return nil
	}
	if err := n.node.Stop(); err != nil {
		return err
	}
	n.node.Wait()
	return nil
}

func (n *Node) NodeInfo() p2p.NodeInfo {
	return n.node.NodeInfo()
}

func (n *Node) Config() *cfg.Config {
	return n.cometCfg
}
