package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NethermindEth/agentchain/client"
	"github.com/NethermindEth/agentchain/consensus/abci"
	"github.com/NethermindEth/agentchain/core"
	"github.com/NethermindEth/agentchain/crypto"
	"github.com/NethermindEth/agentchain/marketplace"
)

func runServer(t *testing.T) string {
	t.Helper()
	s, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go s.Start()
	require.True(t, s.ReadyForConnections(5*time.Second), "nats server not ready")
	t.Cleanup(s.Shutdown)
	return s.ClientURL()
}

func newBroker(t *testing.T, url string) *Broker {
	t.Helper()
	b, err := NewBroker(url, nil)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

type fakeSubmitter struct {
	txs chan []byte
	err error

	mu sync.Mutex
	// failures is how many submissions fail with a transport error first.
	failures int
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{txs: make(chan []byte, 16)}
}

func (f *fakeSubmitter) Submit(_ context.Context, tx []byte) (client.Result, error) {
	f.txs <- tx
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return client.Result{}, errors.New("connection refused")
	}
	return client.Result{Hash: "CAFE"}, f.err
}

func (f *fakeSubmitter) next(t *testing.T) marketplace.Tx {
	t.Helper()
	select {
	case raw := <-f.txs:
		tx, err := marketplace.DecodeTx(raw)
		require.NoError(t, err)
		return tx
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a submitted tx")
	}
	return marketplace.Tx{}
}

func transferTo(destination string) marketplace.Outbound {
	return marketplace.Outbound{
		Destination: destination,
		Message: marketplace.Message{TokenTransfer: &marketplace.TokenTransferMessage{
			FromAgent: "agent_a", ToAgent: "agent_b", Amount: core.NewAmount(7),
		}},
	}
}

func TestBrokerPublishSubscribe(t *testing.T) {
	url := runServer(t)
	b := newBroker(t, url)

	got := make(chan []byte, 1)
	_, err := b.Subscribe("agentchain.test", func(m *nats.Msg) { got <- m.Data })
	require.NoError(t, err)
	require.NoError(t, b.Flush())

	require.NoError(t, b.Publish("agentchain.test", []byte("hello")))
	select {
	case data := <-got:
		assert.Equal(t, "hello", string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
	assert.Equal(t, "agentchain.beta.inbox", InboxSubject("beta"))
}

func TestRelayCarriesOutboxToDestination(t *testing.T) {
	url := runServer(t)
	relayPriv, relayPub := crypto.GenerateKey()

	beta := newFakeSubmitter()
	betaBroker := newBroker(t, url)
	betaRelay := NewRelay("beta", betaBroker, beta, WithRelayKey(relayPriv))
	require.NoError(t, betaRelay.Start())
	t.Cleanup(betaRelay.Stop)
	require.NoError(t, betaBroker.Flush())

	alphaRelay := NewRelay("alpha", newBroker(t, url), newFakeSubmitter())
	require.NoError(t, alphaRelay.Start())
	t.Cleanup(alphaRelay.Stop)

	env := marketplace.NewEnvelope("alpha", 5, 0, transferTo("beta"))
	alphaRelay.BlockCommitted(abci.CommittedBlock{Height: 5, Outbox: []marketplace.Envelope{env}})

	tx := beta.next(t)
	assert.Equal(t, marketplace.KindMessage, tx.Kind)
	require.NotNil(t, tx.Envelope)
	assert.Equal(t, env.ID, tx.Envelope.ID)
	assert.Equal(t, "alpha", tx.Envelope.Source)
	require.NoError(t, tx.Verify())
	assert.Equal(t, relayPub, tx.Identity())

	assert.Eventually(t, func() bool { return alphaRelay.Pending() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestRelayDropsBadEnvelopes(t *testing.T) {
	url := runServer(t)
	sub := newFakeSubmitter()
	b := newBroker(t, url)
	relay := NewRelay("beta", b, sub)
	require.NoError(t, relay.Start())
	t.Cleanup(relay.Stop)
	require.NoError(t, b.Flush())

	misaddressed, err := json.Marshal(marketplace.NewEnvelope("alpha", 1, 0, transferTo("gamma")))
	require.NoError(t, err)
	good, err := json.Marshal(marketplace.NewEnvelope("alpha", 1, 1, transferTo("beta")))
	require.NoError(t, err)

	require.NoError(t, b.Publish(InboxSubject("beta"), []byte(`{"id":`)))
	require.NoError(t, b.Publish(InboxSubject("beta"), misaddressed))
	require.NoError(t, b.Publish(InboxSubject("beta"), good))

	tx := sub.next(t)
	assert.Equal(t, "beta", tx.Envelope.Destination)
	assert.Empty(t, tx.Signer)
	select {
	case <-sub.txs:
		t.Fatal("unexpected extra submission")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDeliverReportsDuplicates(t *testing.T) {
	sub := newFakeSubmitter()
	sub.err = &client.TxError{Result: client.Result{Code: core.CodeDuplicateTx}}
	relay := NewRelay("beta", nil, sub)

	err := relay.Deliver(marketplace.NewEnvelope("alpha", 1, 0, transferTo("beta")))
	assert.ErrorIs(t, err, core.ErrDuplicateTx)

	relay.BlockCommitted(abci.CommittedBlock{Height: 2})
	assert.Equal(t, 0, relay.Pending())
	relay.Stop()
}

func TestRelayRetriesFailedDelivery(t *testing.T) {
	url := runServer(t)
	relayPriv, _ := crypto.GenerateKey()
	sub := newFakeSubmitter()
	sub.failures = 1
	b := newBroker(t, url)
	relay := NewRelay("beta", b, sub, WithRelayKey(relayPriv), WithRetryInterval(20*time.Millisecond))
	require.NoError(t, relay.Start())
	t.Cleanup(relay.Stop)
	require.NoError(t, b.Flush())

	env := marketplace.NewEnvelope("alpha", 3, 0, transferTo("beta"))
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, b.Publish(InboxSubject("beta"), data))

	first := sub.next(t)
	second := sub.next(t)
	assert.Equal(t, env.ID, first.Envelope.ID)
	assert.Equal(t, env.ID, second.Envelope.ID)
	select {
	case <-sub.txs:
		t.Fatal("delivered envelope was submitted again")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRelayGivesUpOnPermanentRejection(t *testing.T) {
	sub := newFakeSubmitter()
	sub.err = &client.TxError{Result: client.Result{Code: core.CodeUnauthorized}}
	relay := NewRelay("beta", nil, sub, WithRetryInterval(time.Millisecond))

	relay.deliverOrRetry(marketplace.NewEnvelope("alpha", 1, 0, transferTo("beta")), 1)
	sub.next(t)
	select {
	case <-sub.txs:
		t.Fatal("rejected envelope was submitted again")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRelayStopsAfterMaxAttempts(t *testing.T) {
	sub := newFakeSubmitter()
	sub.failures = 10
	relay := NewRelay("beta", nil, sub, WithRetryInterval(time.Millisecond), WithDeliveryAttempts(3))

	relay.deliverOrRetry(marketplace.NewEnvelope("alpha", 1, 0, transferTo("beta")), 1)
	for i := 0; i < 3; i++ {
		sub.next(t)
	}
	select {
	case <-sub.txs:
		t.Fatal("envelope submitted past the attempt limit")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedeliveryBackoff(t *testing.T) {
	relay := NewRelay("beta", nil, nil, WithRetryInterval(time.Second))
	assert.Equal(t, time.Second, relay.redeliveryBackoff(1))
	assert.Equal(t, 4*time.Second, relay.redeliveryBackoff(3))
	assert.Equal(t, time.Minute, relay.redeliveryBackoff(20))
}
