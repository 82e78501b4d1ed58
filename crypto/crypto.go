// Package crypto holds the signing primitives for marketplace transactions.
// Keys, signatures and identities travel hex-encoded.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/cometbft/cometbft/crypto/ed25519"
)

var (
	ErrInvalidPrivateKey = errors.New("invalid private key format")
	ErrInvalidPublicKey  = errors.New("invalid public key format")
)

// GenerateKey returns a fresh ed25519 key pair as hex strings.
func GenerateKey() (privateKeyHex, publicKeyHex string) {
	priv := ed25519.GenPrivKey()
	return hex.EncodeToString(priv), hex.EncodeToString(priv.PubKey().Bytes())
}

func parsePrivateKey(privateKeyHex string) (ed25519.PrivKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(privateKeyHex))
	if err != nil || len(raw) != ed25519.PrivateKeySize {
		return nil, ErrInvalidPrivateKey
	}
	return ed25519.PrivKey(raw), nil
}

// PublicKeyHex derives the public key, which is also the signer identity.
func PublicKeyHex(privateKeyHex string) (string, error) {
	priv, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(priv.PubKey().Bytes()), nil
}

// Sign a message using the private key
func SignMessage(privateKeyHex string, message []byte) (string, error) {
	priv, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return "", err
	}
	sig, err := priv.Sign(message)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// Verify a signed message using the public key
func VerifySignature(publicKeyHex string, message []byte, signatureHex string) bool {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(raw) != ed25519.PubKeySize {
		return false
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	return ed25519.PubKey(raw).VerifySignature(message, sig)
}

// NormalizeIdentity lower-cases a hex public key and checks its shape.
func NormalizeIdentity(publicKeyHex string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(publicKeyHex))
	raw, err := hex.DecodeString(id)
	if err != nil || len(raw) != ed25519.PubKeySize {
		return "", ErrInvalidPublicKey
	}
	return id, nil
}

// HashData creates a SHA256 hash of the input data
func HashData(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
