package marketplace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NethermindEth/agentchain/core"
	"github.com/NethermindEth/agentchain/crypto"
	"github.com/NethermindEth/agentchain/ledger"
	"github.com/NethermindEth/agentchain/storage"
)

const chainID = "main"

var blockTime = time.Unix(1700000000, 123456000)

func newTestLedger(t *testing.T, chain string) *ledger.Ledger {
	t.Helper()
	db, err := storage.NewDBStorage("", storage.InMemoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return ledger.New(db, chain, ledger.WithClock(func() time.Time { return blockTime }))
}

type caller struct {
	priv, identity string
}

func newCaller() caller {
	priv, pub := crypto.GenerateKey()
	return caller{priv: priv, identity: pub}
}

func (c caller) agentID() string { return core.CallerAgentID(c.identity) }

func createAgentOp(name string, balance uint64) Operation {
	return Operation{CreateAgent: &CreateAgent{
		Name:           name,
		Description:    name + " agent",
		Strategy:       core.NewTradingStrategy(2, core.NewAmount(1)),
		InitialBalance: core.NewAmount(balance),
	}}
}

func mustExecute(t *testing.T, d *Dispatcher, c caller, op Operation) Result {
	t.Helper()
	res, err := d.Execute(c.identity, op)
	require.NoError(t, err)
	return res
}

func TestDispatcherServiceFlow(t *testing.T) {
	l := newTestLedger(t, chainID)
	d := NewDispatcher(l, nil)
	alice, bob := newCaller(), newCaller()

	res := mustExecute(t, d, alice, createAgentOp("alice", 1000))
	assert.Equal(t, "Agent created with ID: "+alice.agentID(), res.Confirmation)
	mustExecute(t, d, bob, createAgentOp("bob", 0))

	res = mustExecute(t, d, alice, Operation{RequestService: &RequestService{
		ProviderAgent: bob.agentID(),
		ServiceType:   "analysis",
		Parameters:    `{"depth":2}`,
		Payment:       core.NewAmount(200),
	}})
	reqID := core.RequestID(chainID, 1)
	assert.Equal(t, "Service request created: "+reqID, res.Confirmation)
	require.Len(t, res.Outbound, 1)
	out := res.Outbound[0]
	assert.Equal(t, chainID, out.Destination)
	require.NotNil(t, out.Message.ServiceRequest)
	assert.Equal(t, reqID, out.Message.ServiceRequest.RequestID)
	assert.Equal(t, alice.agentID(), out.Message.ServiceRequest.RequesterAgent)

	// Only the provider's owner may accept or complete.
	_, err := d.Execute(alice.identity, Operation{AcceptService: &AcceptService{RequestID: reqID}})
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	mustExecute(t, d, bob, Operation{AcceptService: &AcceptService{RequestID: reqID}})
	res = mustExecute(t, d, bob, Operation{CompleteService: &CompleteService{RequestID: reqID, Success: true}})
	assert.Equal(t, "Service "+reqID+" marked as completed", res.Confirmation)
	assert.Empty(t, res.Outbound)

	a, err := l.GetAgent(alice.agentID())
	require.NoError(t, err)
	b, err := l.GetAgent(bob.agentID())
	require.NoError(t, err)
	assert.Equal(t, "800", a.Balance.String())
	assert.Equal(t, "200", b.Balance.String())
	assert.Equal(t, uint64(101), b.Reputation)

	_, err = d.Execute(bob.identity, Operation{CompleteService: &CompleteService{RequestID: reqID, Success: true}})
	assert.ErrorIs(t, err, core.ErrAlreadyCompleted)
}

func TestDispatcherRequiresSigner(t *testing.T) {
	d := NewDispatcher(newTestLedger(t, chainID), nil)
	_, err := d.Execute("", createAgentOp("x", 1))
	assert.ErrorIs(t, err, core.ErrMissingSigner)

	_, err = d.Execute("someone", Operation{})
	assert.ErrorIs(t, err, core.ErrInvalidOperation)
}

func TestDispatcherCreateAgentIDs(t *testing.T) {
	l := newTestLedger(t, chainID)
	d := NewDispatcher(l, nil)
	alice := newCaller()

	mustExecute(t, d, alice, createAgentOp("first", 1))
	second := mustExecute(t, d, alice, createAgentOp("second", 1))
	third := mustExecute(t, d, alice, createAgentOp("third", 1))

	micros := blockTime.UnixMicro()
	assert.Equal(t, "Agent created with ID: "+core.SecondaryAgentID(alice.identity, micros), second.Confirmation)
	assert.Equal(t, "Agent created with ID: "+core.SecondaryAgentID(alice.identity, micros+1), third.Confirmation)

	counters, err := l.Counters()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), counters.TotalAgents)
}

func TestDispatcherTransfer(t *testing.T) {
	l := newTestLedger(t, chainID)
	d := NewDispatcher(l, nil)
	alice, bob := newCaller(), newCaller()
	mustExecute(t, d, alice, createAgentOp("alice", 100))
	mustExecute(t, d, bob, createAgentOp("bob", 0))

	res := mustExecute(t, d, alice, Operation{TransferTokens: &TransferTokens{ToAgent: bob.agentID(), Amount: core.NewAmount(40)}})
	assert.Contains(t, res.Confirmation, "tx_1")

	_, err := d.Execute(alice.identity, Operation{TransferTokens: &TransferTokens{ToAgent: "agent_ghost", Amount: core.NewAmount(1)}})
	assert.ErrorIs(t, err, core.ErrAgentNotFound)

	_, err = d.Execute(alice.identity, Operation{TransferTokens: &TransferTokens{ToAgent: bob.agentID(), Amount: core.NewAmount(61)}})
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)

	stranger := newCaller()
	_, err = d.Execute(stranger.identity, Operation{TransferTokens: &TransferTokens{ToAgent: bob.agentID(), Amount: core.NewAmount(1)}})
	assert.ErrorIs(t, err, core.ErrAgentNotFound)

	a, err := l.GetAgent(alice.agentID())
	require.NoError(t, err)
	assert.Equal(t, "60", a.Balance.String())
}

func TestDispatcherOwnership(t *testing.T) {
	l := newTestLedger(t, chainID)
	d := NewDispatcher(l, nil)
	alice, mallory := newCaller(), newCaller()
	mustExecute(t, d, alice, createAgentOp("alice", 10))
	mustExecute(t, d, mallory, createAgentOp("mallory", 10))

	oracle := core.NewOracleStrategy([]string{"feed"}, 10)
	_, err := d.Execute(mallory.identity, Operation{UpdateStrategy: &UpdateStrategy{AgentID: alice.agentID(), NewStrategy: oracle}})
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	_, err = d.Execute(mallory.identity, Operation{DeactivateAgent: &DeactivateAgent{AgentID: alice.agentID()}})
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	_, err = d.Execute(mallory.identity, Operation{UpdateMarketListing: &core.MarketListing{AgentID: alice.agentID(), ServiceType: "x"}})
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	agent, err := l.GetAgent(alice.agentID())
	require.NoError(t, err)
	assert.True(t, agent.IsActive)
	assert.Equal(t, core.StrategyTrading, agent.Strategy.Type())

	res := mustExecute(t, d, alice, Operation{UpdateStrategy: &UpdateStrategy{AgentID: alice.agentID(), NewStrategy: oracle}})
	assert.Equal(t, "Strategy updated for agent "+alice.agentID(), res.Confirmation)
	mustExecute(t, d, alice, Operation{UpdateMarketListing: &core.MarketListing{
		AgentID: alice.agentID(), ServiceType: "x", Price: core.NewAmount(5), Capacity: 2, SuccessRate: 100,
	}})
	mustExecute(t, d, alice, Operation{DeactivateAgent: &DeactivateAgent{AgentID: alice.agentID()}})

	agent, err = l.GetAgent(alice.agentID())
	require.NoError(t, err)
	assert.False(t, agent.IsActive)
	assert.Equal(t, core.StrategyOracle, agent.Strategy.Type())

	_, found, err := l.GetMarketListing(alice.agentID(), "x")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestDispatcherDispute(t *testing.T) {
	l := newTestLedger(t, chainID)
	d := NewDispatcher(l, nil)
	alice, bob, carol := newCaller(), newCaller(), newCaller()
	mustExecute(t, d, alice, createAgentOp("alice", 10))
	mustExecute(t, d, bob, createAgentOp("bob", 0))
	mustExecute(t, d, carol, createAgentOp("carol", 0))

	mustExecute(t, d, alice, Operation{RequestService: &RequestService{ProviderAgent: bob.agentID(), ServiceType: "x", Payment: core.NewAmount(1)}})
	reqID := core.RequestID(chainID, 1)

	_, err := d.Execute(carol.identity, Operation{OpenDispute: &OpenDispute{RequestID: reqID}})
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	mustExecute(t, d, alice, Operation{OpenDispute: &OpenDispute{RequestID: reqID}})
	req, err := l.GetServiceRequest(reqID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusDisputed, req.Status)
}

func TestMessageHandler(t *testing.T) {
	l := newTestLedger(t, chainID)
	d := NewDispatcher(l, nil)
	h := NewMessageHandler(l, nil)
	handle := func(env Envelope) error {
		_, err := h.Handle(env)
		return err
	}
	alice, bob := newCaller(), newCaller()
	mustExecute(t, d, alice, createAgentOp("alice", 500))
	mustExecute(t, d, bob, createAgentOp("bob", 0))

	t.Run("token transfer once", func(t *testing.T) {
		env := NewEnvelope("other", 7, 0, Outbound{Destination: chainID, Message: Message{TokenTransfer: &TokenTransferMessage{
			FromAgent: alice.agentID(), ToAgent: bob.agentID(), Amount: core.NewAmount(50),
		}}})
		require.NoError(t, handle(env))
		assert.ErrorIs(t, handle(env), core.ErrDuplicateTx)

		b, err := l.GetAgent(bob.agentID())
		require.NoError(t, err)
		assert.Equal(t, "50", b.Balance.String())
	})

	t.Run("failed message can be redelivered", func(t *testing.T) {
		env := NewEnvelope("other", 8, 0, Outbound{Destination: chainID, Message: Message{TokenTransfer: &TokenTransferMessage{
			FromAgent: bob.agentID(), ToAgent: alice.agentID(), Amount: core.NewAmount(51),
		}}})
		assert.ErrorIs(t, handle(env), core.ErrInsufficientBalance)
		assert.ErrorIs(t, handle(env), core.ErrInsufficientBalance)
	})

	t.Run("service request from another ledger is mirrored", func(t *testing.T) {
		env := NewEnvelope("other", 9, 0, Outbound{Destination: chainID, Message: Message{ServiceRequest: &ServiceRequestMessage{
			RequestID:      "req_other_1",
			Origin:         "other",
			RequesterAgent: "agent_remote",
			ProviderAgent:  bob.agentID(),
			ServiceType:    "x",
			Payment:        core.NewAmount(9),
		}}})
		require.NoError(t, handle(env))

		req, err := l.GetServiceRequest("req_other_1")
		require.NoError(t, err)
		assert.Equal(t, core.StatusPending, req.Status)
		assert.Equal(t, "other", req.Origin)

		mustExecute(t, d, bob, Operation{AcceptService: &AcceptService{RequestID: "req_other_1"}})
		res := mustExecute(t, d, bob, Operation{CompleteService: &CompleteService{RequestID: "req_other_1", Success: true}})
		require.Len(t, res.Outbound, 1)
		assert.Equal(t, "other", res.Outbound[0].Destination)
		require.NotNil(t, res.Outbound[0].Message.ServiceResponse)
		assert.True(t, res.Outbound[0].Message.ServiceResponse.Success)
	})

	t.Run("service request for missing provider fails", func(t *testing.T) {
		env := NewEnvelope("other", 10, 0, Outbound{Destination: chainID, Message: Message{ServiceRequest: &ServiceRequestMessage{
			RequestID: "req_other_2", Origin: "other", ProviderAgent: "agent_ghost", ServiceType: "x",
		}}})
		assert.ErrorIs(t, handle(env), core.ErrAgentNotFound)
		_, err := l.GetServiceRequest("req_other_2")
		assert.ErrorIs(t, err, core.ErrRequestNotFound)
	})

	t.Run("service response settles pending request", func(t *testing.T) {
		mustExecute(t, d, alice, Operation{RequestService: &RequestService{
			ProviderAgent: bob.agentID(), ServiceType: "x", Payment: core.NewAmount(100), ProviderChain: "other",
		}})
		reqID := core.RequestID(chainID, 1)
		env := NewEnvelope("other", 11, 0, Outbound{Destination: chainID, Message: Message{ServiceResponse: &ServiceResponseMessage{
			RequestID: reqID, Success: true,
		}}})
		out, err := h.Handle(env)
		require.NoError(t, err)

		req, err := l.GetServiceRequest(reqID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusCompleted, req.Status)
		assert.Equal(t, "other", req.ProviderChain)

		a, err := l.GetAgent(alice.agentID())
		require.NoError(t, err)
		assert.Equal(t, "350", a.Balance.String())

		// The provider is addressed on "other", so nothing is credited here.
		b, err := l.GetAgent(bob.agentID())
		require.NoError(t, err)
		assert.Equal(t, "50", b.Balance.String())

		require.Len(t, out, 1)
		assert.Equal(t, "other", out[0].Destination)
		assert.Equal(t, &TokenTransferMessage{
			FromAgent: alice.agentID(),
			ToAgent:   bob.agentID(),
			Amount:    core.NewAmount(100),
			Debited:   true,
			RequestID: reqID,
		}, out[0].Message.TokenTransfer)

		again := NewEnvelope("other", 12, 0, Outbound{Destination: env.Destination, Message: env.Message})
		assert.ErrorIs(t, handle(again), core.ErrAlreadyCompleted)
	})

	t.Run("malformed envelope", func(t *testing.T) {
		assert.ErrorIs(t, handle(Envelope{ID: "nope"}), core.ErrInvalidMessage)
	})
}

func TestEnvelopeIDsAreDeterministic(t *testing.T) {
	out := Outbound{Destination: "b", Message: Message{ServiceResponse: &ServiceResponseMessage{RequestID: "req_a_1"}}}
	a := NewEnvelope("a", 5, 2, out)
	b := NewEnvelope("a", 5, 2, out)
	c := NewEnvelope("a", 5, 3, out)
	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
	require.NoError(t, a.Validate())
}

func TestTxSignVerify(t *testing.T) {
	alice := newCaller()
	tx := NewOperationTx(createAgentOp("alice", 10), 1)

	assert.ErrorIs(t, tx.Verify(), core.ErrMissingSigner)

	require.NoError(t, tx.Sign(alice.priv))
	assert.Equal(t, alice.identity, tx.Identity())
	require.NoError(t, tx.Verify())

	data, err := EncodeTx(tx)
	require.NoError(t, err)
	decoded, err := DecodeTx(data)
	require.NoError(t, err)
	require.NoError(t, decoded.Verify())

	decoded.Operation.CreateAgent.InitialBalance = core.NewAmount(1000000)
	assert.ErrorIs(t, decoded.Verify(), core.ErrInvalidSignature)

	_, err = DecodeTx([]byte(`{"kind":"operation","bogus":1}`))
	assert.ErrorIs(t, err, core.ErrInvalidOperation)

	unknown := Tx{Kind: "vote"}
	assert.ErrorIs(t, unknown.Verify(), core.ErrInvalidOperation)
}

func TestMessageTx(t *testing.T) {
	env := NewEnvelope("a", 1, 0, Outbound{Destination: "b", Message: Message{TokenTransfer: &TokenTransferMessage{
		FromAgent: "agent_x", ToAgent: "agent_y", Amount: core.NewAmount(1),
	}}})
	tx := NewMessageTx(env)
	assert.ErrorIs(t, tx.Verify(), core.ErrMissingSigner)

	relay := newCaller()
	require.NoError(t, tx.Sign(relay.priv))
	require.NoError(t, tx.Verify())

	tx.Envelope.Message.TokenTransfer.Amount = core.NewAmount(2)
	assert.ErrorIs(t, tx.Verify(), core.ErrInvalidSignature)
}

func TestDebitedTokenTransfer(t *testing.T) {
	l := newTestLedger(t, chainID)
	d := NewDispatcher(l, nil)
	h := NewMessageHandler(l, nil)
	bob := newCaller()
	mustExecute(t, d, bob, createAgentOp("bob", 0))

	credit := Message{TokenTransfer: &TokenTransferMessage{
		FromAgent: "agent_remote", ToAgent: bob.agentID(), Amount: core.NewAmount(40), Debited: true, RequestID: "req_other_1",
	}}

	t.Run("own ledger cannot credit itself", func(t *testing.T) {
		_, err := h.Handle(NewEnvelope(chainID, 1, 0, Outbound{Destination: chainID, Message: credit}))
		assert.ErrorIs(t, err, core.ErrInvalidMessage)
	})

	t.Run("credits only the recipient", func(t *testing.T) {
		out, err := h.Handle(NewEnvelope("other", 1, 0, Outbound{Destination: chainID, Message: credit}))
		require.NoError(t, err)
		assert.Empty(t, out)

		b, err := l.GetAgent(bob.agentID())
		require.NoError(t, err)
		assert.Equal(t, "40", b.Balance.String())

		var txs []core.Transaction
		require.NoError(t, l.Transactions(func(tx core.Transaction) error {
			txs = append(txs, tx)
			return nil
		}))
		require.Len(t, txs, 1)
		assert.Equal(t, core.TxServicePayment, txs[0].TransactionType)
		assert.Equal(t, "agent_remote", txs[0].FromAgent)
	})

	t.Run("unknown recipient", func(t *testing.T) {
		ghost := Message{TokenTransfer: &TokenTransferMessage{
			FromAgent: "agent_remote", ToAgent: "agent_ghost", Amount: core.NewAmount(1), Debited: true,
		}}
		_, err := h.Handle(NewEnvelope("other", 2, 0, Outbound{Destination: chainID, Message: ghost}))
		assert.ErrorIs(t, err, core.ErrAgentNotFound)
	})
}

// ledgerNet delivers outbound messages between in-process ledgers, giving
// each envelope a fresh source height.
type ledgerNet struct {
	handlers map[string]*MessageHandler
	height   int64
}

func (n *ledgerNet) envelope(source string, out Outbound) Envelope {
	n.height++
	return NewEnvelope(source, n.height, 0, out)
}

func (n *ledgerNet) deliver(t *testing.T, env Envelope) ([]Outbound, error) {
	t.Helper()
	h, ok := n.handlers[env.Destination]
	require.True(t, ok, "no ledger %s", env.Destination)
	return h.Handle(env)
}

func (n *ledgerNet) relay(t *testing.T, source string, out Outbound) []Outbound {
	t.Helper()
	next, err := n.deliver(t, n.envelope(source, out))
	require.NoError(t, err)
	return next
}

func TestCrossLedgerServiceLifecycle(t *testing.T) {
	la, lb := newTestLedger(t, "a"), newTestLedger(t, "b")
	da, db := NewDispatcher(la, nil), NewDispatcher(lb, nil)
	net := &ledgerNet{handlers: map[string]*MessageHandler{"a": NewMessageHandler(la, nil), "b": NewMessageHandler(lb, nil)}}
	alice, bob := newCaller(), newCaller()
	mustExecute(t, da, alice, createAgentOp("alice", 500))
	mustExecute(t, db, bob, createAgentOp("bob", 0))

	request := func(payment uint64) string {
		res := mustExecute(t, da, alice, Operation{RequestService: &RequestService{
			ProviderAgent: bob.agentID(), ServiceType: "analysis", Payment: core.NewAmount(payment), ProviderChain: "b",
		}})
		require.Len(t, res.Outbound, 1)
		require.Equal(t, "b", res.Outbound[0].Destination)
		assert.Empty(t, net.relay(t, "a", res.Outbound[0]))
		return res.Outbound[0].Message.ServiceRequest.RequestID
	}

	t.Run("success pays the provider on its ledger", func(t *testing.T) {
		reqID := request(100)
		mirror, err := lb.GetServiceRequest(reqID)
		require.NoError(t, err)
		assert.Equal(t, "a", mirror.Origin)

		mustExecute(t, db, bob, Operation{AcceptService: &AcceptService{RequestID: reqID}})
		res := mustExecute(t, db, bob, Operation{CompleteService: &CompleteService{RequestID: reqID, Success: true}})
		require.Len(t, res.Outbound, 1)

		payment := net.relay(t, "b", res.Outbound[0])
		require.Len(t, payment, 1)
		assert.Equal(t, "b", payment[0].Destination)
		credit := net.envelope("a", payment[0])
		next, err := net.deliver(t, credit)
		require.NoError(t, err)
		assert.Empty(t, next)

		a, err := la.GetAgent(alice.agentID())
		require.NoError(t, err)
		assert.Equal(t, "400", a.Balance.String())

		b, err := lb.GetAgent(bob.agentID())
		require.NoError(t, err)
		assert.Equal(t, "100", b.Balance.String())
		assert.Equal(t, uint64(1), b.ServicesCompleted)

		origin, err := la.GetServiceRequest(reqID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusCompleted, origin.Status)

		// Redelivering the credit changes nothing.
		_, err = net.deliver(t, credit)
		assert.ErrorIs(t, err, core.ErrDuplicateTx)
		b, err = lb.GetAgent(bob.agentID())
		require.NoError(t, err)
		assert.Equal(t, "100", b.Balance.String())
	})

	t.Run("failure moves no tokens", func(t *testing.T) {
		reqID := request(50)
		res := mustExecute(t, db, bob, Operation{CompleteService: &CompleteService{RequestID: reqID, Success: false}})
		require.Len(t, res.Outbound, 1)
		assert.Empty(t, net.relay(t, "b", res.Outbound[0]))

		origin, err := la.GetServiceRequest(reqID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusFailed, origin.Status)

		a, err := la.GetAgent(alice.agentID())
		require.NoError(t, err)
		assert.Equal(t, "400", a.Balance.String())
		b, err := lb.GetAgent(bob.agentID())
		require.NoError(t, err)
		assert.Equal(t, uint64(1), b.ServicesFailed)
	})

	t.Run("underfunded requester leaves the request open", func(t *testing.T) {
		reqID := request(1000)
		mustExecute(t, db, bob, Operation{AcceptService: &AcceptService{RequestID: reqID}})
		res := mustExecute(t, db, bob, Operation{CompleteService: &CompleteService{RequestID: reqID, Success: true}})
		_, err := net.deliver(t, net.envelope("b", res.Outbound[0]))
		assert.ErrorIs(t, err, core.ErrInsufficientBalance)

		origin, err := la.GetServiceRequest(reqID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusPending, origin.Status)
	})
}
