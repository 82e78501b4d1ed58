package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/nats-io/nats.go"

	"github.com/NethermindEth/agentchain/client"
	"github.com/NethermindEth/agentchain/consensus/abci"
	"github.com/NethermindEth/agentchain/core"
	"github.com/NethermindEth/agentchain/marketplace"
)

const (
	defaultSubmitTimeout    = 10 * time.Second
	defaultRetryInterval    = 2 * time.Second
	defaultDeliveryAttempts = 8
	maxRedeliveryBackoff    = time.Minute
)

// Relay moves envelopes between chains. Outbound, it publishes the outbox of
// every committed block to the destination chain's inbox subject. Inbound,
// it turns envelopes arriving on its own inbox into message txs.
//
// Every replica of a chain publishes the same envelopes; destinations drop
// the copies by envelope id. An inbound envelope the node refuses for a
// transient reason is submitted again with backoff.
type Relay struct {
	chainID   string
	broker    *Broker
	submitter client.Submitter
	logger    log.Logger

	relayKey         string
	submitTimeout    time.Duration
	retryInterval    time.Duration
	deliveryAttempts int

	mu      sync.Mutex
	pending []marketplace.Envelope
	wake    chan struct{}

	sub  *nats.Subscription
	quit chan struct{}
	done chan struct{}
}

type RelayOption func(*Relay)

// WithRelayKey signs inbound message txs with the given ed25519 key so the
// chain can check them against its trusted relayers.
func WithRelayKey(privateKeyHex string) RelayOption {
	return func(r *Relay) { r.relayKey = privateKeyHex }
}

func WithRelayLogger(logger log.Logger) RelayOption {
	return func(r *Relay) { r.logger = logger }
}

func WithSubmitTimeout(d time.Duration) RelayOption {
	return func(r *Relay) { r.submitTimeout = d }
}

// WithRetryInterval sets the pause after a failed publish and the first
// pause before an inbound envelope is submitted again.
func WithRetryInterval(d time.Duration) RelayOption {
	return func(r *Relay) { r.retryInterval = d }
}

// WithDeliveryAttempts bounds how often an inbound envelope is submitted
// before it is dropped.
func WithDeliveryAttempts(n int) RelayOption {
	return func(r *Relay) { r.deliveryAttempts = n }
}

func NewRelay(chainID string, broker *Broker, submitter client.Submitter, opts ...RelayOption) *Relay {
	r := &Relay{
		chainID:          chainID,
		broker:           broker,
		submitter:        submitter,
		logger:           log.NewNopLogger(),
		submitTimeout:    defaultSubmitTimeout,
		retryInterval:    defaultRetryInterval,
		deliveryAttempts: defaultDeliveryAttempts,
		wake:             make(chan struct{}, 1),
		quit:             make(chan struct{}),
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("module", "relay", "chain", chainID)
	return r
}

// Start subscribes to the chain's inbox and starts the publisher.
func (r *Relay) Start() error {
	sub, err := r.broker.QueueSubscribe(InboxSubject(r.chainID), "relay."+r.chainID, r.receive)
	if err != nil {
		return fmt.Errorf("failed to subscribe to inbox: %w", err)
	}
	r.sub = sub
	go r.publishLoop()
	r.logger.Info("Relay started", "inbox", InboxSubject(r.chainID))
	return nil
}

// Stop unsubscribes and waits for the publisher to exit. Envelopes not yet
// published are dropped.
func (r *Relay) Stop() {
	if r.sub == nil {
		return
	}
	close(r.quit)
	<-r.done
	if err := r.sub.Unsubscribe(); err != nil {
		r.logger.Error("Failed to unsubscribe", "err", err)
	}
}

// BlockCommitted queues the block's outbox for publishing. It never blocks.
func (r *Relay) BlockCommitted(block abci.CommittedBlock) {
	if len(block.Outbox) == 0 {
		return
	}
	r.mu.Lock()
	r.pending = append(r.pending, block.Outbox...)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Pending is the number of envelopes waiting to be published.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Relay) publishLoop() {
	defer close(r.done)
	for {
		select {
		case <-r.quit:
			return
		case <-r.wake:
		}
		for !r.publishPending() {
			select {
			case <-r.quit:
				return
			case <-time.After(r.retryInterval):
			}
		}
	}
}

// publishPending publishes queued envelopes in order and reports whether the
// queue was drained. On failure the unsent tail stays queued.
func (r *Relay) publishPending() bool {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	for i, env := range batch {
		if err := r.publish(env); err != nil {
			r.logger.Error("Failed to publish envelope", "id", env.ID, "destination", env.Destination, "err", err)
			r.mu.Lock()
			r.pending = append(batch[i:len(batch):len(batch)], r.pending...)
			r.mu.Unlock()
			return false
		}
	}
	if len(batch) > 0 {
		if err := r.broker.Flush(); err != nil {
			r.logger.Error("Failed to flush NATS connection", "err", err)
		}
	}
	return true
}

func (r *Relay) publish(env marketplace.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := r.broker.Publish(InboxSubject(env.Destination), data); err != nil {
		return err
	}
	r.logger.Info("Envelope published", "id", env.ID, "kind", env.Message.Kind(), "destination", env.Destination)
	return nil
}

func (r *Relay) receive(msg *nats.Msg) {
	var env marketplace.Envelope
	if err := core.DecodeJSON(msg.Data, &env); err != nil {
		r.logger.Error("Dropping malformed envelope", "subject", msg.Subject, "err", err)
		return
	}
	if env.Destination != r.chainID {
		r.logger.Error("Dropping misaddressed envelope", "id", env.ID, "destination", env.Destination)
		return
	}
	r.deliverOrRetry(env, 1)
}

// deliverOrRetry submits env and, on a transient failure, schedules the next
// attempt with doubling backoff.
func (r *Relay) deliverOrRetry(env marketplace.Envelope, attempt int) {
	err := r.Deliver(env)
	if err == nil {
		return
	}
	if errors.Is(err, core.ErrDuplicateTx) {
		r.logger.Debug("Envelope already delivered", "id", env.ID)
		return
	}
	if permanent(err) || attempt >= r.deliveryAttempts {
		r.logger.Error("Dropping envelope", "id", env.ID, "source", env.Source, "attempts", attempt, "err", err)
		return
	}
	wait := r.redeliveryBackoff(attempt)
	r.logger.Error("Failed to deliver envelope, will retry", "id", env.ID, "source", env.Source, "attempt", attempt, "in", wait, "err", err)
	time.AfterFunc(wait, func() {
		select {
		case <-r.quit:
			return
		default:
		}
		r.deliverOrRetry(env, attempt+1)
	})
}

func (r *Relay) redeliveryBackoff(attempt int) time.Duration {
	wait := r.retryInterval
	for i := 1; i < attempt && wait < maxRedeliveryBackoff; i++ {
		wait *= 2
	}
	if wait > maxRedeliveryBackoff {
		wait = maxRedeliveryBackoff
	}
	return wait
}

// permanent reports rejections that no later attempt can fix.
func permanent(err error) bool {
	for _, target := range []error{core.ErrInvalidMessage, core.ErrInvalidSignature, core.ErrMissingSigner, core.ErrUnauthorized} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Deliver submits env to the local chain as a message tx.
func (r *Relay) Deliver(env marketplace.Envelope) error {
	tx := marketplace.NewMessageTx(env)
	if r.relayKey != "" {
		if err := tx.Sign(r.relayKey); err != nil {
			return err
		}
	}
	raw, err := marketplace.EncodeTx(tx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.submitTimeout)
	defer cancel()
	res, err := r.submitter.Submit(ctx, raw)
	if err != nil {
		return err
	}
	r.logger.Info("Envelope submitted", "id", env.ID, "kind", env.Message.Kind(), "source", env.Source, "tx", res.Hash)
	return nil
}
