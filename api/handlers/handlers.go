package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/gin-gonic/gin"

	"github.com/NethermindEth/agentchain/client"
	"github.com/NethermindEth/agentchain/core"
	"github.com/NethermindEth/agentchain/ledger"
	"github.com/NethermindEth/agentchain/marketplace"
	"github.com/NethermindEth/agentchain/query"
	"github.com/NethermindEth/agentchain/storage"
)

const (
	maxTxBytes    = 1 << 20
	submitTimeout = 15 * time.Second
)

// ChainState reports the last committed block.
type ChainState interface {
	Height() int64
	AppHash() []byte
}

// Handler serves the HTTP API of one chain. Reads come from committed
// state; writes are submitted to the node as signed txs.
type Handler struct {
	chainID   string
	query     *query.Service
	state     ChainState
	submitter client.Submitter
	hub       *Hub
	logger    log.Logger
	metrics   metricsSource
}

// metricsSource is implemented by stores that count their operations.
type metricsSource interface {
	Metrics() storage.DBMetrics
}

func New(chainID string, store storage.Store, state ChainState, submitter client.Submitter, hub *Hub, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	h := &Handler{
		chainID:   chainID,
		query:     query.NewService(ledger.New(store, chainID)),
		state:     state,
		submitter: submitter,
		hub:       hub,
		logger:    logger.With("module", "api"),
	}
	if m, ok := store.(metricsSource); ok {
		h.metrics = m
	}
	return h
}

// statusFor maps a ledger error code to an HTTP status.
func statusFor(code uint32) int {
	switch code {
	case core.CodeAgentNotFound, core.CodeRequestNotFound:
		return http.StatusNotFound
	case core.CodeUnauthorized, core.CodeMissingSigner, core.CodeInvalidSignature:
		return http.StatusUnauthorized
	case core.CodeAgentAlreadyExists, core.CodeAlreadyCompleted, core.CodeInvalidTransition,
		core.CodeInsufficientBalance, core.CodeDuplicateTx:
		return http.StatusConflict
	case core.CodeInternal:
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

func (h *Handler) fail(c *gin.Context, err error) {
	var txErr *client.TxError
	if errors.As(err, &txErr) {
		c.JSON(statusFor(txErr.Code), gin.H{"error": txErr.Log, "kind": txErr.Kind(), "hash": txErr.Hash})
		return
	}
	code := core.ErrorCode(err)
	if code == core.CodeInternal {
		h.logger.Error("Request failed", "path", c.FullPath(), "err", err)
	}
	c.JSON(statusFor(code), gin.H{"error": err.Error(), "kind": core.ErrorKind(err)})
}

func (h *Handler) respond(c *gin.Context, v interface{}, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// GetChainStatus returns the chain id, the last committed block and, when the
// store counts them, its operation counters.
func (h *Handler) GetChainStatus(c *gin.Context) {
	status := gin.H{
		"chain_id": h.chainID,
		"height":   h.state.Height(),
		"app_hash": fmt.Sprintf("%X", h.state.AppHash()),
	}
	if h.metrics != nil {
		status["storage"] = h.metrics.Metrics()
	}
	c.JSON(http.StatusOK, status)
}

// GetAgents lists agents, optionally only active ones (?active=true) or
// those of one strategy (?strategy=Oracle).
func (h *Handler) GetAgents(c *gin.Context) {
	if strategy := c.Query("strategy"); strategy != "" {
		agents, err := h.query.AgentsByStrategy(strategy)
		h.respond(c, agents, err)
		return
	}
	if c.Query("active") == "true" {
		agents, err := h.query.ActiveAgents()
		h.respond(c, agents, err)
		return
	}
	agents, err := h.query.Agents()
	h.respond(c, agents, err)
}

func (h *Handler) GetAgent(c *gin.Context) {
	agent, err := h.query.Agent(c.Param("id"))
	h.respond(c, agent, err)
}

func (h *Handler) GetServiceRequest(c *gin.Context) {
	req, err := h.query.ServiceRequest(c.Param("id"))
	h.respond(c, req, err)
}

func (h *Handler) GetPendingRequests(c *gin.Context) {
	reqs, err := h.query.PendingRequests()
	h.respond(c, reqs, err)
}

func (h *Handler) GetTransactions(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.fail(c, fmt.Errorf("%w: invalid limit %q", core.ErrInvalidOperation, raw))
			return
		}
		limit = n
	}
	txs, err := h.query.Transactions(limit)
	h.respond(c, txs, err)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.query.Stats()
	h.respond(c, stats, err)
}

func (h *Handler) GetMarketListings(c *gin.Context) {
	listings, err := h.query.MarketListings()
	h.respond(c, listings, err)
}

// SubmitTransaction forwards a signed tx to the node. The tx is checked
// locally first so malformed or unsigned txs never reach the mempool.
func (h *Handler) SubmitTransaction(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxTxBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read transaction", "kind": "InvalidOperation"})
		return
	}
	tx, err := marketplace.DecodeTx(raw)
	if err == nil {
		err = tx.Verify()
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), submitTimeout)
	defer cancel()
	res, err := h.submitter.Submit(ctx, raw)
	if err != nil {
		var txErr *client.TxError
		if !errors.As(err, &txErr) {
			h.logger.Error("Failed to submit transaction", "err", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "kind": "Internal"})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Transaction submitted successfully", "hash": res.Hash})
}

// HandleWebSocket upgrades the connection and streams ledger events until
// the client goes away.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	h.hub.Serve(c.Writer, c.Request)
}
