package archive

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Layr-Labs/eigenda/encoding/utils/codec"
	"github.com/cometbft/cometbft/libs/log"

	"github.com/NethermindEth/agentchain/consensus/abci"
	"github.com/NethermindEth/agentchain/core"
	"github.com/NethermindEth/agentchain/ledger"
	"github.com/NethermindEth/agentchain/storage"
)

const recordPrefix = "archive:"

// Batch is the archived form of one block's ledger history.
type Batch struct {
	ChainID      string                `json:"chain_id"`
	Height       int64                 `json:"height"`
	Time         time.Time             `json:"time"`
	AppHash      string                `json:"app_hash"`
	Transactions []core.Transaction    `json:"transactions"`
	Requests     []core.ServiceRequest `json:"requests"`
}

// Record tracks the dispersal of one block.
type Record struct {
	Height    int64  `json:"height"`
	RequestID string `json:"request_id,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// EncodeBatch serializes b for dispersal. Every 31 bytes get a zero prefix
// so each 32-byte symbol is a valid bn254 field element.
func EncodeBatch(b Batch) ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}
	return codec.ConvertByPaddingEmptyByte(data), nil
}

// DecodeBatch reverses EncodeBatch. Trailing zero padding added by the
// disperser is ignored.
func DecodeBatch(blob []byte) (Batch, error) {
	data := bytes.TrimRight(codec.RemoveEmptyByteFromPaddedBytes(blob), "\x00")
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return Batch{}, fmt.Errorf("failed to unmarshal batch: %w", err)
	}
	return b, nil
}

// Archiver disperses each committed block's transactions and request
// updates, off the consensus path.
type Archiver struct {
	chainID string
	blobs   BlobStore
	records storage.Store
	logger  log.Logger

	attempts     int
	backoff      time.Duration
	pollInterval time.Duration
	maxWait      time.Duration

	queue chan Batch
	quit  chan struct{}
	done  chan struct{}
}

type Option func(*Archiver)

func WithLogger(logger log.Logger) Option {
	return func(a *Archiver) { a.logger = logger }
}

// WithRetry sets how often a dispersal is attempted and the initial pause
// between attempts, which doubles after each failure.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(a *Archiver) {
		a.attempts = attempts
		a.backoff = backoff
	}
}

// WithPolling sets how often and for how long a dispersal's status is polled.
func WithPolling(interval, maxWait time.Duration) Option {
	return func(a *Archiver) {
		a.pollInterval = interval
		a.maxWait = maxWait
	}
}

func WithQueueSize(n int) Option {
	return func(a *Archiver) { a.queue = make(chan Batch, n) }
}

// New returns an archiver that disperses to blobs and keeps its records in
// records.
func New(chainID string, blobs BlobStore, records storage.Store, opts ...Option) *Archiver {
	a := &Archiver{
		chainID:      chainID,
		blobs:        blobs,
		records:      records,
		logger:       log.NewNopLogger(),
		attempts:     3,
		backoff:      2 * time.Second,
		pollInterval: 5 * time.Second,
		maxWait:      30 * time.Minute,
		queue:        make(chan Batch, 256),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("module", "archive", "chain", chainID)
	return a
}

func (a *Archiver) Start() {
	go a.run()
}

// Stop waits for the block in flight, if any. Queued blocks are dropped.
func (a *Archiver) Stop() {
	close(a.quit)
	<-a.done
}

// BlockCommitted queues the block's ledger history. Blocks without
// transactions or request updates are skipped; when the queue is full the
// block is dropped and logged.
func (a *Archiver) BlockCommitted(block abci.CommittedBlock) {
	batch, ok := a.batch(block)
	if !ok {
		return
	}
	select {
	case a.queue <- batch:
	default:
		a.logger.Error("Archive queue full, dropping block", "height", block.Height)
	}
}

func (a *Archiver) batch(block abci.CommittedBlock) (Batch, bool) {
	b := Batch{
		ChainID: a.chainID,
		Height:  block.Height,
		Time:    block.Time,
		AppHash: fmt.Sprintf("%X", block.AppHash),
	}
	for _, kv := range block.Changes {
		if kv.Value == nil {
			continue
		}
		switch {
		case strings.HasPrefix(kv.Key, ledger.Prefixes.Transaction):
			var tx core.Transaction
			if err := json.Unmarshal(kv.Value, &tx); err != nil {
				a.logger.Error("Skipping undecodable transaction", "key", kv.Key, "err", err)
				continue
			}
			b.Transactions = append(b.Transactions, tx)
		case strings.HasPrefix(kv.Key, ledger.Prefixes.Request):
			var req core.ServiceRequest
			if err := json.Unmarshal(kv.Value, &req); err != nil {
				a.logger.Error("Skipping undecodable request", "key", kv.Key, "err", err)
				continue
			}
			b.Requests = append(b.Requests, req)
		}
	}
	return b, len(b.Transactions)+len(b.Requests) > 0
}

func (a *Archiver) run() {
	defer close(a.done)
	for {
		select {
		case <-a.quit:
			return
		case b := <-a.queue:
			rec := a.archive(b)
			if err := storage.PutObject(a.records, recordKey(b.Height), rec); err != nil {
				a.logger.Error("Failed to store archive record", "height", b.Height, "err", err)
			}
		}
	}
}

func (a *Archiver) archive(b Batch) Record {
	rec := Record{Height: b.Height}
	data, err := EncodeBatch(b)
	if err != nil {
		rec.Status, rec.Error = StatusFailed, err.Error()
		return rec
	}

	var requestID []byte
	err = a.retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		id, err := a.blobs.Disperse(ctx, data)
		requestID = id
		return err
	})
	if err != nil {
		a.logger.Error("Failed to disperse block", "height", b.Height, "err", err)
		rec.Status, rec.Error = StatusFailed, err.Error()
		return rec
	}
	rec.RequestID = hex.EncodeToString(requestID)

	rec.Status, err = a.waitForStatus(requestID)
	if err != nil {
		a.logger.Error("Blob dispersed but status tracking failed", "height", b.Height, "request", rec.RequestID, "err", err)
		rec.Error = err.Error()
		return rec
	}
	a.logger.Info("Block archived", "height", b.Height, "request", rec.RequestID, "status", rec.Status,
		"transactions", len(b.Transactions), "requests", len(b.Requests))
	return rec
}

// retry runs f up to a.attempts times with exponential backoff.
func (a *Archiver) retry(f func() error) error {
	sleep := a.backoff
	var err error
	for i := 0; i < a.attempts; i++ {
		if err = f(); err == nil {
			return nil
		}
		if i == a.attempts-1 {
			break
		}
		a.logger.Info("Dispersal attempt failed", "attempt", i+1, "retry_in", sleep, "err", err)
		select {
		case <-a.quit:
			return fmt.Errorf("archiver stopped: %w", err)
		case <-time.After(sleep):
		}
		sleep *= 2
	}
	return err
}

// waitForStatus polls until the blob is confirmed, finalized or failed.
func (a *Archiver) waitForStatus(requestID []byte) (string, error) {
	deadline := time.NewTimer(a.maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.quit:
			return "", fmt.Errorf("archiver stopped")
		case <-deadline.C:
			return "TIMEOUT", fmt.Errorf("timed out waiting for blob to finalize")
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			status, err := a.blobs.Status(ctx, requestID)
			cancel()
			if err != nil {
				return "ERROR", err
			}
			switch status {
			case StatusConfirmed, StatusFinalized:
				return status, nil
			case StatusFailed:
				return status, fmt.Errorf("blob dispersal failed with status: %s", status)
			}
			a.logger.Debug("Blob pending", "request", hex.EncodeToString(requestID), "status", status)
		}
	}
}

func recordKey(height int64) string {
	return fmt.Sprintf("%s%020d", recordPrefix, height)
}

// Record returns the archive record of the block at height.
func (a *Archiver) Record(height int64) (Record, bool, error) {
	var rec Record
	found, err := storage.GetObject(a.records, recordKey(height), &rec)
	return rec, found, err
}

// Records visits every record in height order.
func (a *Archiver) Records(fn func(Record) error) error {
	return a.records.Iterate(recordPrefix, func(_ string, value []byte) error {
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		return fn(rec)
	})
}
