package core

import (
	"fmt"
	"strings"
)

// AgentIDPrefix starts every agent id derived from a signer identity.
const AgentIDPrefix = "agent_"

// CallerAgentID is the agent an identity acts as when an operation does not
// name one explicitly. One identity maps to exactly one caller agent.
func CallerAgentID(identity string) string {
	return AgentIDPrefix + identity
}

// SecondaryAgentID names an additional agent created by an identity whose
// caller agent already exists. The timestamp is in microseconds.
func SecondaryAgentID(identity string, micros int64) string {
	return fmt.Sprintf("%s%s_%d", AgentIDPrefix, identity, micros)
}

// TransactionID is derived from the ledger's transaction sequence, so it is
// unique by construction.
func TransactionID(seq uint64) string {
	return fmt.Sprintf("tx_%d", seq)
}

// RequestID is chain-qualified so mirrored requests from other ledgers never
// collide with local ones.
func RequestID(chainID string, seq uint64) string {
	return fmt.Sprintf("req_%s_%d", chainID, seq)
}

// ListingKey joins the listing identity.
func ListingKey(agentID, serviceType string) string {
	return agentID + "/" + serviceType
}

// ValidID rejects empty ids and ids containing the storage key separator.
func ValidID(id string) bool {
	return id != "" && !strings.ContainsAny(id, ":\x00")
}
