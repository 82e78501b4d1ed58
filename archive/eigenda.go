// Package archive disperses committed ledger history to EigenDA.
package archive

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/Layr-Labs/eigenda/api/clients"
	"github.com/Layr-Labs/eigenda/core/auth"
)

const (
	DefaultHost    = "disperser-holesky.eigenda.xyz"
	DefaultPort    = "443"
	requestTimeout = 30 * time.Second
)

// Blob statuses reported by the disperser that end polling.
const (
	StatusConfirmed = "CONFIRMED"
	StatusFinalized = "FINALIZED"
	StatusFailed    = "FAILED"
)

// BlobStore is the part of a data availability layer the archiver uses.
type BlobStore interface {
	// Disperse submits data and returns the request id to poll with.
	Disperse(ctx context.Context, data []byte) ([]byte, error)
	// Status reports the dispersal status, e.g. "PROCESSING" or "CONFIRMED".
	Status(ctx context.Context, requestID []byte) (string, error)
}

// EigenDA disperses blobs through an EigenDA disperser.
type EigenDA struct {
	client clients.DisperserClient
}

// ParseAuthKey normalizes a hex secp256k1 key: an optional 0x prefix is
// dropped and short keys are left-padded.
func ParseAuthKey(key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "0x")
	if len(key) > 64 {
		return "", fmt.Errorf("invalid EigenDA auth key length: got %d, expected 64 hex characters", len(key))
	}
	key = strings.Repeat("0", 64-len(key)) + key
	if _, err := hex.DecodeString(key); err != nil {
		return "", fmt.Errorf("invalid EigenDA auth key: %w", err)
	}
	return key, nil
}

// NewEigenDA connects to the disperser at host:port, authenticating blob
// requests with authKey.
func NewEigenDA(host, port, authKey string) (*EigenDA, error) {
	key, err := ParseAuthKey(authKey)
	if err != nil {
		return nil, err
	}
	signer := auth.NewLocalBlobRequestSigner("0x" + key)
	config := &clients.Config{
		Hostname:          host,
		Port:              port,
		Timeout:           requestTimeout,
		UseSecureGrpcFlag: true,
	}
	client, err := clients.NewDisperserClient(config, signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create disperser client: %w", err)
	}
	return &EigenDA{client: client}, nil
}

func (e *EigenDA) Disperse(ctx context.Context, data []byte) ([]byte, error) {
	// No custom quorums: disperse to the default ones.
	_, requestID, err := e.client.DisperseBlob(ctx, data, []uint8{})
	if err != nil {
		return nil, fmt.Errorf("error dispersing blob: %w", err)
	}
	return requestID, nil
}

func (e *EigenDA) Status(ctx context.Context, requestID []byte) (string, error) {
	reply, err := e.client.GetBlobStatus(ctx, requestID)
	if err != nil {
		return "", fmt.Errorf("error getting blob status: %w", err)
	}
	return reply.Status.String(), nil
}
