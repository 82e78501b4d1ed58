// Package ledger is the accounting engine of the marketplace. It owns the
// agents, service requests, transactions and market listings of one chain and
// is the only writer of that state.
//
// Every exported mutation runs as one atomic unit: reads and writes go
// through a storage.Cache staged over the ledger's store, and the staged
// writes reach the store only after every precondition passed. A failed call
// leaves no trace.
package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cometbft/cometbft/libs/log"

	"github.com/NethermindEth/agentchain/core"
	"github.com/NethermindEth/agentchain/storage"
)

// Storage key layout. Transactions are keyed by a zero-padded sequence so
// that prefix iteration returns them in append order.
const (
	agentPrefix   = "agent:"
	requestPrefix = "request:"
	txPrefix      = "tx:"
	listingPrefix = "listing:"

	keyTotalAgents       = "counter:total_agents"
	keyTotalTransactions = "counter:total_transactions"
	keyTotalVolume       = "counter:total_volume"
	keyRequestSeq        = "seq:requests"
)

// Prefixes exposes the key prefixes for consumers that follow committed
// writes, such as the event stream and the archive.
var Prefixes = struct {
	Agent, Request, Transaction, Listing string
}{agentPrefix, requestPrefix, txPrefix, listingPrefix}

func agentKey(id string) string   { return agentPrefix + id }
func requestKey(id string) string { return requestPrefix + id }
func listingKey(k string) string  { return listingPrefix + k }
func txKey(seq uint64) string     { return fmt.Sprintf("%s%020d", txPrefix, seq) }

// Ledger is the accounting engine over a single chain's store.
type Ledger struct {
	store   storage.Store
	chainID string
	clock   func() time.Time
	logger  log.Logger
}

type Option func(*Ledger)

// WithClock sets the time source. Replicated nodes pass the block time so
// that every replica records identical timestamps.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

func WithLogger(logger log.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New returns a ledger over store for chainID.
func New(store storage.Store, chainID string, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		chainID: chainID,
		clock:   time.Now,
		logger:  log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("module", "ledger", "chain", chainID)
	return l
}

func (l *Ledger) ChainID() string { return l.chainID }

// Now is the ledger clock in unix seconds.
func (l *Ledger) Now() uint64 {
	return uint64(l.clock().Unix())
}

// NowMicros is the ledger clock in unix microseconds.
func (l *Ledger) NowMicros() int64 {
	return l.clock().UnixMicro()
}

// Batch runs fn against a ledger whose writes are staged; they are applied
// only if fn returns nil. Operations composed inside fn are therefore
// all-or-nothing as a group.
func (l *Ledger) Batch(fn func(*Ledger) error) error {
	cache := storage.NewCache(l.store)
	child := &Ledger{store: cache, chainID: l.chainID, clock: l.clock, logger: l.logger}
	if err := fn(child); err != nil {
		cache.Discard()
		return err
	}
	return cache.Write()
}

// update runs fn in a staged session and commits it on success.
func (l *Ledger) update(fn func(s *session) error) error {
	cache := storage.NewCache(l.store)
	if err := fn(&session{store: cache, ledger: l}); err != nil {
		cache.Discard()
		return err
	}
	return cache.Write()
}

// view runs fn directly against the store.
func (l *Ledger) view(fn func(s *session) error) error {
	return fn(&session{store: l.store, ledger: l})
}

// Claim records id under namespace (stored as "<namespace>:<id>") and fails
// with ErrDuplicateTx if it was already recorded. Claiming inside the same
// Batch as the effect makes a unit of work idempotent.
func (l *Ledger) Claim(namespace, id string) error {
	return l.update(func(s *session) error {
		key := namespace + ":" + id
		data, err := s.store.Get(key)
		if err != nil {
			return err
		}
		if data != nil {
			return fmt.Errorf("%w: %s %s", core.ErrDuplicateTx, namespace, id)
		}
		return s.store.Put(key, []byte{1})
	})
}

// session is the typed view over one unit of work.
type session struct {
	store  storage.Store
	ledger *Ledger
}

func (s *session) agent(id string) (core.Agent, error) {
	var agent core.Agent
	found, err := storage.GetObject(s.store, agentKey(id), &agent)
	if err != nil {
		return core.Agent{}, err
	}
	if !found {
		return core.Agent{}, core.NewAgentNotFound(id)
	}
	return agent, nil
}

func (s *session) putAgent(agent core.Agent) error {
	return storage.PutObject(s.store, agentKey(agent.ID), agent)
}

func (s *session) request(id string) (core.ServiceRequest, error) {
	var req core.ServiceRequest
	found, err := storage.GetObject(s.store, requestKey(id), &req)
	if err != nil {
		return core.ServiceRequest{}, err
	}
	if !found {
		return core.ServiceRequest{}, core.NewRequestNotFound(id)
	}
	return req, nil
}

func (s *session) putRequest(req core.ServiceRequest) error {
	return storage.PutObject(s.store, requestKey(req.ID), req)
}

func (s *session) increment(key string) (uint64, error) {
	n, err := storage.GetUint64(s.store, key)
	if err != nil {
		return 0, err
	}
	n++
	if err := storage.PutUint64(s.store, key, n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *session) totalVolume() (core.Amount, error) {
	var vol core.Amount
	if _, err := storage.GetObject(s.store, keyTotalVolume, &vol); err != nil {
		return core.Amount{}, err
	}
	return vol, nil
}

// parseTxSeq recovers the sequence from a transaction id of the form tx_<n>.
func parseTxSeq(id string) (uint64, bool) {
	rest, ok := strings.CutPrefix(id, "tx_")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
