// Package client submits marketplace transactions to a CometBFT node.
package client

import (
	"context"
	"fmt"

	rpchttp "github.com/cometbft/cometbft/rpc/client/http"

	"github.com/NethermindEth/agentchain/core"
)

// Result is the node's CheckTx verdict on a submitted tx.
type Result struct {
	Hash      string `json:"hash"`
	Code      uint32 `json:"code"`
	Codespace string `json:"codespace,omitempty"`
	Log       string `json:"log,omitempty"`
}

// TxError reports a tx the node refused. It matches the ledger sentinel for
// its code under errors.Is, so callers can test errors.Is(err, core.ErrDuplicateTx).
type TxError struct {
	Result
}

func (e *TxError) Error() string {
	return fmt.Sprintf("tx rejected (%s/%d): %s", e.Codespace, e.Code, e.Log)
}

// Kind names the error class of the rejection.
func (e *TxError) Kind() string {
	return core.CodeKind(e.Code)
}

func (e *TxError) Is(target error) bool {
	if e.Code == core.CodeOK || e.Code == core.CodeInternal {
		return false
	}
	return core.ErrorCode(target) == e.Code
}

// Submitter hands raw txs to the chain.
type Submitter interface {
	Submit(ctx context.Context, tx []byte) (Result, error)
}

// RPC submits through a node's RPC endpoint with broadcast_tx_sync.
type RPC struct {
	client *rpchttp.HTTP
}

// NewRPC connects to a node RPC address such as tcp://127.0.0.1:26657.
func NewRPC(remote string) (*RPC, error) {
	c, err := rpchttp.New(remote, "/websocket")
	if err != nil {
		return nil, fmt.Errorf("failed to create rpc client for %s: %w", remote, err)
	}
	return &RPC{client: c}, nil
}

func (r *RPC) Submit(ctx context.Context, tx []byte) (Result, error) {
	res, err := r.client.BroadcastTxSync(ctx, tx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to broadcast tx: %w", err)
	}
	out := Result{
		Hash:      res.Hash.String(),
		Code:      res.Code,
		Codespace: res.Codespace,
		Log:       res.Log,
	}
	if res.Code != core.CodeOK {
		return out, &TxError{Result: out}
	}
	return out, nil
}
