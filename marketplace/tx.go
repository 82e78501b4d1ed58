package marketplace

import (
	"encoding/json"
	"fmt"

	"github.com/NethermindEth/agentchain/core"
	"github.com/NethermindEth/agentchain/crypto"
)

type TxKind string

const (
	KindOperation TxKind = "operation"
	KindMessage   TxKind = "message"
)

// Tx is what clients and relays submit to the chain. Operation txs must be
// signed; the signer's hex public key is the caller identity. Message txs
// carry an Envelope and are signed by the relay that delivered them.
type Tx struct {
	Kind      TxKind     `json:"kind"`
	Signer    string     `json:"signer,omitempty"`
	Nonce     uint64     `json:"nonce,omitempty"`
	Operation *Operation `json:"operation,omitempty"`
	Envelope  *Envelope  `json:"envelope,omitempty"`
	Signature string     `json:"signature,omitempty"`
}

func NewOperationTx(op Operation, nonce uint64) Tx {
	return Tx{Kind: KindOperation, Nonce: nonce, Operation: &op}
}

func NewMessageTx(env Envelope) Tx {
	return Tx{Kind: KindMessage, Envelope: &env}
}

// SignBytes is the canonical encoding covered by the signature: the tx JSON
// with the signature left empty.
func (tx Tx) SignBytes() ([]byte, error) {
	tx.Signature = ""
	return json.Marshal(tx)
}

// Sign sets the signer from privateKeyHex and signs the tx.
func (tx *Tx) Sign(privateKeyHex string) error {
	signer, err := crypto.PublicKeyHex(privateKeyHex)
	if err != nil {
		return err
	}
	tx.Signer = signer
	msg, err := tx.SignBytes()
	if err != nil {
		return err
	}
	tx.Signature, err = crypto.SignMessage(privateKeyHex, msg)
	return err
}

// Verify checks the envelope shape and, when a signer is present, the
// signature. Operation txs without a signer fail with ErrMissingSigner.
func (tx Tx) Verify() error {
	switch tx.Kind {
	case KindOperation:
		if tx.Operation == nil || tx.Envelope != nil {
			return fmt.Errorf("%w: operation tx must carry exactly an operation", core.ErrInvalidOperation)
		}
		if tx.Signer == "" {
			return core.ErrMissingSigner
		}
		if err := tx.verifySignature(); err != nil {
			return err
		}
		return tx.Operation.Validate()
	case KindMessage:
		if tx.Envelope == nil || tx.Operation != nil {
			return fmt.Errorf("%w: message tx must carry exactly an envelope", core.ErrInvalidMessage)
		}
		if tx.Signer == "" {
			return core.ErrMissingSigner
		}
		if err := tx.verifySignature(); err != nil {
			return err
		}
		return tx.Envelope.Validate()
	}
	return fmt.Errorf("%w: unknown tx kind %q", core.ErrInvalidOperation, tx.Kind)
}

func (tx Tx) verifySignature() error {
	if _, err := crypto.NormalizeIdentity(tx.Signer); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidSignature, err)
	}
	msg, err := tx.SignBytes()
	if err != nil {
		return err
	}
	if !crypto.VerifySignature(tx.Signer, msg, tx.Signature) {
		return core.ErrInvalidSignature
	}
	return nil
}

// Identity is the normalized caller identity of a signed tx.
func (tx Tx) Identity() string {
	id, err := crypto.NormalizeIdentity(tx.Signer)
	if err != nil {
		return ""
	}
	return id
}

func EncodeTx(tx Tx) ([]byte, error) {
	return json.Marshal(tx)
}

// DecodeTx parses raw tx bytes. Unknown fields are rejected.
func DecodeTx(data []byte) (Tx, error) {
	var tx Tx
	if err := core.DecodeJSON(data, &tx); err != nil {
		return Tx{}, fmt.Errorf("%w: %v", core.ErrInvalidOperation, err)
	}
	return tx, nil
}
