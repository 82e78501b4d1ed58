// Package abci runs the marketplace ledger as a CometBFT application.
package abci

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	types "github.com/cometbft/cometbft/abci/types"
	"github.com/cometbft/cometbft/crypto/tmhash"
	"github.com/cometbft/cometbft/libs/log"
	tmproto "github.com/cometbft/cometbft/proto/tendermint/types"

	"github.com/NethermindEth/agentchain/core"
	"github.com/NethermindEth/agentchain/crypto"
	"github.com/NethermindEth/agentchain/ledger"
	"github.com/NethermindEth/agentchain/marketplace"
	"github.com/NethermindEth/agentchain/query"
	"github.com/NethermindEth/agentchain/storage"
)

// Application-level keys. They are written with each block but are not
// part of the app hash.
const (
	keyHeight   = "app:height"
	keyAppHash  = "app:hash"
	keyRelayers = "app:relayers"

	processedNamespace = "processed"
	outboxPrefix       = "outbox:"
)

// CommittedBlock describes a block after its state reached the store.
type CommittedBlock struct {
	Height  int64
	Time    time.Time
	AppHash []byte
	// Changes are the ledger writes of the block, sorted by key.
	Changes []storage.KV
	Outbox  []marketplace.Envelope
}

// GenesisState is the app_state of the genesis document.
type GenesisState struct {
	// Relayers are the identities allowed to submit message txs.
	Relayers []string `json:"relayers"`
}

// CommitListener is notified after every Commit. Implementations must not
// block; consensus waits for them.
type CommitListener interface {
	BlockCommitted(block CommittedBlock)
}

type Application struct {
	types.BaseApplication

	chainID string
	store   storage.Store
	logger  log.Logger

	mu         sync.RWMutex
	height     int64
	appHash    []byte
	validators []types.ValidatorUpdate
	relayers   map[string]bool
	listeners  []CommitListener

	// Current block.
	block     *storage.Cache
	blockTime time.Time
	outbox    []marketplace.Envelope
}

type Option func(*Application)

func WithLogger(logger log.Logger) Option {
	return func(app *Application) { app.logger = logger }
}

// WithTrustedRelayers adds relay identities allowed to submit message txs,
// on top of those listed in the genesis app state. With no relayers at all,
// every message tx is refused.
func WithTrustedRelayers(identities ...string) Option {
	return func(app *Application) {
		for _, id := range identities {
			app.relayers[strings.ToLower(id)] = true
		}
	}
}

func WithCommitListener(l CommitListener) Option {
	return func(app *Application) { app.listeners = append(app.listeners, l) }
}

// NewApplication restores the last committed height and app hash from store.
func NewApplication(chainID string, store storage.Store, opts ...Option) (*Application, error) {
	app := &Application{
		chainID:  chainID,
		store:    store,
		logger:   log.NewNopLogger(),
		relayers: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(app)
	}
	app.logger = app.logger.With("module", "abci", "chain", chainID)

	height, err := storage.GetUint64(store, keyHeight)
	if err != nil {
		return nil, fmt.Errorf("failed to load height: %w", err)
	}
	hash, err := store.Get(keyAppHash)
	if err != nil {
		return nil, fmt.Errorf("failed to load app hash: %w", err)
	}
	var genesisRelayers []string
	if _, err := storage.GetObject(store, keyRelayers, &genesisRelayers); err != nil {
		return nil, fmt.Errorf("failed to load relayers: %w", err)
	}
	for _, id := range genesisRelayers {
		app.relayers[id] = true
	}
	app.height = int64(height)
	app.appHash = hash
	app.block = storage.NewCache(store)
	return app, nil
}

// AddCommitListener registers l for subsequent commits.
func (app *Application) AddCommitListener(l CommitListener) {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.listeners = append(app.listeners, l)
}

func (app *Application) Info(req types.RequestInfo) types.ResponseInfo {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return types.ResponseInfo{
		Data:             "agentchain marketplace ledger",
		Version:          "1.0.0",
		AppVersion:       1,
		LastBlockHeight:  app.height,
		LastBlockAppHash: app.appHash,
	}
}

func (app *Application) InitChain(req types.RequestInitChain) types.ResponseInitChain {
	app.mu.Lock()
	defer app.mu.Unlock()

	app.validators = req.Validators
	if len(app.validators) == 0 {
		app.logger.Info("No validators in InitChain, using genesis validator set")
	}
	relayers, err := parseGenesis(req.AppStateBytes)
	if err != nil {
		panic(fmt.Errorf("invalid genesis app state: %w", err))
	}
	if err := storage.PutObject(app.store, keyRelayers, relayers); err != nil {
		panic(fmt.Errorf("failed to store genesis relayers: %w", err))
	}
	for _, id := range relayers {
		app.relayers[id] = true
	}
	app.logger.Info("InitChain", "validators", len(app.validators), "relayers", len(relayers), "genesis_chain", req.ChainId)

	return types.ResponseInitChain{
		Validators: app.validators,
		ConsensusParams: &tmproto.ConsensusParams{
			Block: &tmproto.BlockParams{
				MaxBytes: 22020096, // 21MB
				MaxGas:   -1,
			},
			Evidence: &tmproto.EvidenceParams{
				MaxAgeNumBlocks: 100000,
				MaxAgeDuration:  172800000000000, // 48 hours
				MaxBytes:        1048576,         // 1MB
			},
			Validator: &tmproto.ValidatorParams{
				PubKeyTypes: []string{"ed25519"},
			},
			Version: &tmproto.VersionParams{
				App: 1,
			},
		},
	}
}

// parseGenesis returns the normalized relayer identities of the app state.
// An empty app state trusts no relayer.
func parseGenesis(appState []byte) ([]string, error) {
	if len(bytes.TrimSpace(appState)) == 0 {
		return []string{}, nil
	}
	var state GenesisState
	if err := json.Unmarshal(appState, &state); err != nil {
		return nil, err
	}
	relayers := make([]string, 0, len(state.Relayers))
	for _, id := range state.Relayers {
		norm, err := crypto.NormalizeIdentity(id)
		if err != nil {
			return nil, fmt.Errorf("relayer %q: %w", id, err)
		}
		relayers = append(relayers, norm)
	}
	return relayers, nil
}

// trusts reports whether identity may submit message txs. The relayer set is
// only written by NewApplication and InitChain, before any tx is seen.
func (app *Application) trusts(identity string) bool {
	return identity != "" && app.relayers[identity]
}

// Query serves the read projection from committed state.
func (app *Application) Query(req types.RequestQuery) types.ResponseQuery {
	app.mu.RLock()
	height := app.height
	app.mu.RUnlock()

	svc := query.NewService(ledger.New(app.store, app.chainID))
	value, err := svc.Route(req.Path, req.Data)
	if err != nil {
		return types.ResponseQuery{
			Code:      core.ErrorCode(err),
			Codespace: core.Codespace,
			Log:       err.Error(),
			Info:      core.ErrorKind(err),
			Height:    height,
		}
	}
	return types.ResponseQuery{Code: core.CodeOK, Value: value, Height: height}
}

// CheckTx validates a tx without executing it.
func (app *Application) CheckTx(req types.RequestCheckTx) types.ResponseCheckTx {
	tx, err := app.decode(req.Tx)
	if err == nil {
		err = app.checkNotProcessed(req.Tx, tx)
	}
	if err != nil {
		return types.ResponseCheckTx{Code: core.ErrorCode(err), Codespace: core.Codespace, Log: err.Error()}
	}
	return types.ResponseCheckTx{Code: core.CodeOK, GasWanted: 1, Info: txKind(tx)}
}

func txKind(tx marketplace.Tx) string {
	if tx.Kind == marketplace.KindOperation {
		return tx.Operation.Name()
	}
	return tx.Envelope.Message.Kind()
}

func (app *Application) decode(raw []byte) (marketplace.Tx, error) {
	tx, err := marketplace.DecodeTx(raw)
	if err != nil {
		return tx, err
	}
	if err := tx.Verify(); err != nil {
		return tx, err
	}
	if tx.Kind != marketplace.KindMessage {
		return tx, nil
	}
	if tx.Envelope.Destination != app.chainID {
		return tx, fmt.Errorf("%w: envelope addressed to %q", core.ErrInvalidMessage, tx.Envelope.Destination)
	}
	if !app.trusts(tx.Identity()) {
		return tx, fmt.Errorf("%w: message tx from untrusted relay %q", core.ErrUnauthorized, tx.Signer)
	}
	return tx, nil
}

// checkNotProcessed rejects txs already committed, and message txs whose
// envelope was delivered under another tx.
func (app *Application) checkNotProcessed(raw []byte, tx marketplace.Tx) error {
	keys := []string{processedKey(raw)}
	if tx.Kind == marketplace.KindMessage {
		keys = append(keys, marketplace.InboxNamespace+":"+tx.Envelope.ID)
	}
	for _, key := range keys {
		seen, err := app.store.Get(key)
		if err != nil {
			return err
		}
		if seen != nil {
			return core.ErrDuplicateTx
		}
	}
	return nil
}

func txHash(raw []byte) string {
	return fmt.Sprintf("%X", tmhash.Sum(raw))
}

func processedKey(raw []byte) string {
	return processedNamespace + ":" + txHash(raw)
}

func (app *Application) BeginBlock(req types.RequestBeginBlock) types.ResponseBeginBlock {
	app.mu.Lock()
	defer app.mu.Unlock()

	app.block = storage.NewCache(app.store)
	app.blockTime = req.Header.Time
	app.outbox = nil
	return types.ResponseBeginBlock{}
}

// DeliverTx executes one tx in its own staging cache over the block cache;
// a failed tx leaves the block untouched.
func (app *Application) DeliverTx(req types.RequestDeliverTx) types.ResponseDeliverTx {
	app.mu.Lock()
	defer app.mu.Unlock()

	tx, err := app.decode(req.Tx)
	if err != nil {
		return app.deliverError(err)
	}

	txCache := storage.NewCache(app.block)
	blockTime := app.blockTime
	l := ledger.New(txCache, app.chainID,
		ledger.WithClock(func() time.Time { return blockTime }),
		ledger.WithLogger(app.logger))

	if err := l.Claim(processedNamespace, txHash(req.Tx)); err != nil {
		return app.deliverError(err)
	}

	var (
		events []types.Event
		info   string
	)
	switch tx.Kind {
	case marketplace.KindOperation:
		var res marketplace.Result
		res, err = marketplace.NewDispatcher(l, app.logger).Execute(tx.Identity(), *tx.Operation)
		if err == nil {
			info = res.Confirmation
			err = app.queueOutbound(txCache, res.Outbound)
			events = append(events, types.Event{
				Type: "operation",
				Attributes: []types.EventAttribute{
					{Key: "name", Value: tx.Operation.Name(), Index: true},
					{Key: "caller", Value: tx.Identity(), Index: true},
				},
			})
		}
	case marketplace.KindMessage:
		var outbound []marketplace.Outbound
		outbound, err = marketplace.NewMessageHandler(l, app.logger).Handle(*tx.Envelope)
		if err == nil {
			info = fmt.Sprintf("Message %s applied", tx.Envelope.ID)
			err = app.queueOutbound(txCache, outbound)
			events = append(events, types.Event{
				Type: "message",
				Attributes: []types.EventAttribute{
					{Key: "kind", Value: tx.Envelope.Message.Kind(), Index: true},
					{Key: "source", Value: tx.Envelope.Source, Index: true},
				},
			})
		}
	}
	if err != nil {
		txCache.Discard()
		return app.deliverError(err)
	}
	if err := txCache.Write(); err != nil {
		return app.deliverError(err)
	}
	return types.ResponseDeliverTx{Code: core.CodeOK, Log: info, Info: info, Events: events}
}

// queueOutbound stamps each outbound message with its block position and
// records it with the tx's writes.
func (app *Application) queueOutbound(txCache *storage.Cache, outbound []marketplace.Outbound) error {
	height := app.height + 1
	queued := make([]marketplace.Envelope, 0, len(outbound))
	for i, out := range outbound {
		env := marketplace.NewEnvelope(app.chainID, height, len(app.outbox)+i, out)
		key := fmt.Sprintf("%s%020d:%06d", outboxPrefix, height, len(app.outbox)+i)
		if err := storage.PutObject(txCache, key, env); err != nil {
			return err
		}
		queued = append(queued, env)
	}
	app.outbox = append(app.outbox, queued...)
	return nil
}

func (app *Application) deliverError(err error) types.ResponseDeliverTx {
	code := core.ErrorCode(err)
	if code == core.CodeInternal {
		app.logger.Error("DeliverTx failed", "err", err)
	}
	return types.ResponseDeliverTx{
		Code:      code,
		Codespace: core.Codespace,
		Log:       err.Error(),
		Info:      core.ErrorKind(err),
	}
}

func (app *Application) EndBlock(req types.RequestEndBlock) types.ResponseEndBlock {
	return types.ResponseEndBlock{}
}

// Commit flushes the block to the store and advances the app hash.
func (app *Application) Commit() types.ResponseCommit {
	app.mu.Lock()

	changes := app.block.Dirty()
	height := app.height + 1
	hash := computeAppHash(app.appHash, changes)

	if err := app.block.Write(); err != nil {
		// The block is agreed on; continuing would fork this node's state.
		app.mu.Unlock()
		panic(fmt.Errorf("failed to commit block %d: %w", height, err))
	}
	// The height and hash mark the block as applied, so they land last.
	marker := storage.NewCache(app.store)
	if err := storage.PutUint64(marker, keyHeight, uint64(height)); err != nil {
		app.mu.Unlock()
		panic(fmt.Errorf("failed to stage height: %w", err))
	}
	if err := marker.Put(keyAppHash, hash); err != nil {
		app.mu.Unlock()
		panic(fmt.Errorf("failed to stage app hash: %w", err))
	}
	if err := marker.Write(); err != nil {
		app.mu.Unlock()
		panic(fmt.Errorf("failed to record block %d: %w", height, err))
	}

	app.height = height
	app.appHash = hash
	committed := CommittedBlock{
		Height:  height,
		Time:    app.blockTime,
		AppHash: hash,
		Changes: changes,
		Outbox:  app.outbox,
	}
	app.outbox = nil
	app.block = storage.NewCache(app.store)
	listeners := append([]CommitListener(nil), app.listeners...)
	app.mu.Unlock()

	app.logger.Info("Committed block", "height", height, "changes", len(changes), "outbox", len(committed.Outbox), "app_hash", fmt.Sprintf("%X", hash))
	for _, l := range listeners {
		l.BlockCommitted(committed)
	}
	return types.ResponseCommit{Data: hash}
}

// computeAppHash chains the previous hash with every write of the block.
func computeAppHash(prev []byte, changes []storage.KV) []byte {
	h := sha256.New()
	h.Write(prev)
	var n [8]byte
	for _, kv := range changes {
		binary.BigEndian.PutUint64(n[:], uint64(len(kv.Key)))
		h.Write(n[:])
		h.Write([]byte(kv.Key))
		if kv.Value == nil {
			h.Write([]byte{0})
			continue
		}
		h.Write([]byte{1})
		binary.BigEndian.PutUint64(n[:], uint64(len(kv.Value)))
		h.Write(n[:])
		h.Write(kv.Value)
	}
	return h.Sum(nil)
}

// PrepareProposal drops txs that would fail CheckTx and keeps the block
// within MaxTxBytes.
func (app *Application) PrepareProposal(req types.RequestPrepareProposal) types.ResponsePrepareProposal {
	var (
		txs  [][]byte
		size int64
	)
	for _, raw := range req.Txs {
		if _, err := app.decode(raw); err != nil {
			app.logger.Debug("Dropping invalid tx from proposal", "tx", txHash(raw), "err", err)
			continue
		}
		if req.MaxTxBytes > 0 && size+int64(len(raw)) > req.MaxTxBytes {
			break
		}
		size += int64(len(raw))
		txs = append(txs, raw)
	}
	return types.ResponsePrepareProposal{Txs: txs}
}

// ProcessProposal rejects blocks carrying malformed or unsigned txs.
func (app *Application) ProcessProposal(req types.RequestProcessProposal) types.ResponseProcessProposal {
	for _, raw := range req.Txs {
		if _, err := app.decode(raw); err != nil {
			app.logger.Info("Rejecting proposal", "height", req.Height, "tx", txHash(raw), "err", err)
			return types.ResponseProcessProposal{Status: types.ResponseProcessProposal_REJECT}
		}
	}
	return types.ResponseProcessProposal{Status: types.ResponseProcessProposal_ACCEPT}
}

// Height is the last committed height.
func (app *Application) Height() int64 {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.height
}

// AppHash is the last committed app hash.
func (app *Application) AppHash() []byte {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return append([]byte(nil), app.appHash...)
}

// IsOutboxKey reports whether a committed change is an outbox record.
func IsOutboxKey(key string) bool {
	return strings.HasPrefix(key, outboxPrefix)
}

var _ types.Application = (*Application)(nil)
