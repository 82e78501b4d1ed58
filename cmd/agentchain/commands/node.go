package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tmlog "github.com/cometbft/cometbft/libs/log"
	"github.com/spf13/cobra"

	"github.com/NethermindEth/agentchain/api"
	"github.com/NethermindEth/agentchain/api/handlers"
	"github.com/NethermindEth/agentchain/archive"
	"github.com/NethermindEth/agentchain/client"
	"github.com/NethermindEth/agentchain/cmd/node"
	"github.com/NethermindEth/agentchain/config"
	"github.com/NethermindEth/agentchain/consensus/abci"
	"github.com/NethermindEth/agentchain/crypto"
	"github.com/NethermindEth/agentchain/messaging"
	"github.com/NethermindEth/agentchain/storage"
)

var (
	nodeEnvFile  string
	nodeLogLevel string
)

// NodeCmd runs a validator node with its API, relay and archiver.
var NodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run a marketplace node",
	Long: `Run a CometBFT node hosting the agent marketplace ledger. Settings come from
AGENTCHAIN_* environment variables (optionally loaded from --env) and are
overridden by flags.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := nodeConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := newLogger(nodeLogLevel)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runNode(ctx, conf, logger)
	},
}

func init() {
	fs := NodeCmd.Flags()
	fs.StringVar(&nodeEnvFile, "env", "", "Env file to load (default: ./.env if present)")
	fs.StringVar(&nodeLogLevel, "log-level", "info", "Log level (debug, info, error, none)")
	fs.String("chain", "", "Chain ID")
	fs.String("node-id", "", "Node ID")
	fs.String("home", "", "Home directory")
	fs.Int("p2p-port", 0, "CometBFT P2P port")
	fs.Int("rpc-port", 0, "CometBFT RPC port")
	fs.Int("api-port", 0, "API server port")
	fs.String("peers", "", "Persistent peers, id@host:port comma separated")
	fs.String("nats", "", "NATS URL, \"off\" disables cross-chain relay")
	fs.String("relay-key", "", "Hex private key signing relayed message txs")
	fs.String("relayers", "", "Comma separated relay identities trusted for message txs")
	fs.Bool("archive", false, "Archive committed history to EigenDA")
}

// nodeConfig merges env settings with the flags the user set.
func nodeConfig(cmd *cobra.Command) (config.Config, error) {
	if nodeEnvFile != "" {
		config.LoadEnv(nodeEnvFile)
	} else {
		config.LoadEnv()
	}
	conf, err := config.Load()
	if err != nil {
		return conf, err
	}

	fs := cmd.Flags()
	strs := map[string]*string{
		"chain":     &conf.ChainID,
		"node-id":   &conf.NodeID,
		"home":      &conf.Home,
		"peers":     &conf.Peers,
		"nats":      &conf.NATSURL,
		"relay-key": &conf.RelayKey,
	}
	for name, dst := range strs {
		if fs.Changed(name) {
			*dst, _ = fs.GetString(name)
		}
	}
	ints := map[string]*int{
		"p2p-port": &conf.P2PPort,
		"rpc-port": &conf.RPCPort,
		"api-port": &conf.APIPort,
	}
	for name, dst := range ints {
		if fs.Changed(name) {
			*dst, _ = fs.GetInt(name)
		}
	}
	if fs.Changed("relayers") {
		v, _ := fs.GetString("relayers")
		conf.Relayers = config.SplitList(v)
	}
	if fs.Changed("archive") {
		conf.Archive, _ = fs.GetBool("archive")
	}
	if conf.NATSURL == "off" {
		conf.NATSURL = ""
	}
	return conf, conf.Validate()
}

func newLogger(level string) (tmlog.Logger, error) {
	logger := tmlog.NewTMLogger(tmlog.NewSyncWriter(os.Stdout))
	option, err := tmlog.AllowLevel(level)
	if err != nil {
		return nil, err
	}
	return tmlog.NewFilter(logger, option), nil
}

// runNode starts every component and blocks until ctx is done.
func runNode(ctx context.Context, conf config.Config, logger tmlog.Logger) error {
	cometCfg := node.CometConfig(node.Settings{
		RootDir: conf.NodeDir(),
		ChainID: conf.ChainID,
		Moniker: conf.NodeID,
		P2PPort: conf.P2PPort,
		RPCPort: conf.RPCPort,
		Peers:   conf.Peers,
	})
	if conf.RelayKey == "" {
		key, err := node.LoadOrGenRelayKey(node.RelayKeyFile(cometCfg))
		if err != nil {
			return err
		}
		conf.RelayKey = key
	}
	relayID, err := crypto.PublicKeyHex(conf.RelayKey)
	if err != nil {
		return fmt.Errorf("relay key: %w", err)
	}
	genesisRelayers := []string{relayID}
	for _, id := range conf.Relayers {
		if _, err := crypto.NormalizeIdentity(id); err != nil {
			return fmt.Errorf("relayer %q: %w", id, err)
		}
		genesisRelayers = append(genesisRelayers, id)
	}
	if err := node.InitFiles(cometCfg, conf.ChainID, genesisRelayers...); err != nil {
		return err
	}

	store, err := storage.GetDBStorage(conf.NodeDir(), conf.ChainID, logger)
	if err != nil {
		return err
	}
	defer storage.CloseAll()

	rpc, err := client.NewRPC(fmt.Sprintf("tcp://127.0.0.1:%d", conf.RPCPort))
	if err != nil {
		return err
	}

	hub := handlers.NewHub(logger)
	go hub.Run()
	defer hub.Stop()

	app, err := abci.NewApplication(conf.ChainID, store,
		abci.WithLogger(logger),
		abci.WithTrustedRelayers(conf.Relayers...),
		abci.WithCommitListener(hub),
	)
	if err != nil {
		return err
	}

	if conf.NATSURL != "" {
		broker, err := messaging.NewBroker(conf.NATSURL, logger)
		if err != nil {
			return err
		}
		defer broker.Close()
		relay := messaging.NewRelay(conf.ChainID, broker, rpc,
			messaging.WithRelayKey(conf.RelayKey),
			messaging.WithRelayLogger(logger),
		)
		app.AddCommitListener(relay)
		if err := relay.Start(); err != nil {
			return err
		}
		defer relay.Stop()
	} else {
		logger.Info("Cross-chain relay disabled")
	}

	if conf.Archive {
		archiver, closeArchive, err := newArchiver(conf, logger)
		if err != nil {
			return err
		}
		defer closeArchive()
		app.AddCommitListener(archiver)
		archiver.Start()
		defer archiver.Stop()
	}

	n, err := node.NewNode(cometCfg, app, logger)
	if err != nil {
		return err
	}
	if err := n.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := n.Stop(context.Background()); err != nil {
			logger.Error("Failed to stop node", "err", err)
		}
	}()

	server := api.NewServer(conf.APIPort, handlers.New(conf.ChainID, store, app, rpc, hub, logger), logger)
	server.Start()
	logger.Info("Node running", "chain", conf.ChainID, "node", conf.NodeID,
		"p2p", conf.P2PPort, "rpc", conf.RPCPort, "api", conf.APIPort)

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newArchiver opens the archive record store next to the node data and
// connects to the EigenDA disperser.
func newArchiver(conf config.Config, logger tmlog.Logger) (*archive.Archiver, func(), error) {
	blobs, err := archive.NewEigenDA(conf.EigenDAHost, conf.EigenDAPort, conf.EigenDAAuthKey)
	if err != nil {
		return nil, nil, err
	}
	records, err := storage.NewDBStorage(
		filepath.Join(conf.NodeDir(), "archive"),
		storage.DefaultConfig(conf.NodeDir()),
		logger,
	)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := records.Close(); err != nil {
			logger.Error("Failed to close archive store", "err", err)
		}
	}
	return archive.New(conf.ChainID, blobs, records, archive.WithLogger(logger)), closeFn, nil
}
