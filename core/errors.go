package core

import (
	"errors"
	"fmt"
)

// Codespace tags every ABCI response code produced by the ledger.
const Codespace = "agentchain"

var (
	ErrAgentNotFound        = errors.New("agentchain: agent not found")
	ErrAgentAlreadyExists   = errors.New("agentchain: agent already exists")
	ErrInsufficientBalance  = errors.New("agentchain: insufficient balance")
	ErrUnauthorized         = errors.New("agentchain: unauthorized operation")
	ErrInvalidStrategy      = errors.New("agentchain: invalid strategy type")
	ErrServiceRequestFailed = errors.New("agentchain: service request failed")
	ErrRequestNotFound      = errors.New("agentchain: service request not found")
	ErrAlreadyCompleted     = errors.New("agentchain: service request already completed")
	ErrInvalidTransition    = errors.New("agentchain: invalid service status transition")
	ErrInvalidAmount        = errors.New("agentchain: invalid amount")
	ErrAmountOverflow       = errors.New("agentchain: amount overflows 128 bits")
	ErrMissingSigner        = errors.New("agentchain: operation must be signed")
	ErrInvalidOperation     = errors.New("agentchain: invalid operation")
	ErrInvalidMessage       = errors.New("agentchain: invalid message")
	ErrInvalidSignature     = errors.New("agentchain: invalid signature")
	ErrDuplicateTx          = errors.New("agentchain: duplicate transaction")
)

// AgentNotFoundError names the missing agent.
type AgentNotFoundError struct {
	ID string
}

func (e *AgentNotFoundError) Error() string {
	return fmt.Sprintf("agent not found: %s", e.ID)
}

func (e *AgentNotFoundError) Is(target error) bool { return target == ErrAgentNotFound }

// InsufficientBalanceError carries the amounts of a rejected debit.
type InsufficientBalanceError struct {
	Required  Amount
	Available Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %s, available %s", e.Required, e.Available)
}

func (e *InsufficientBalanceError) Is(target error) bool { return target == ErrInsufficientBalance }

// ServiceRequestError is the common failure of request processing. Kind is one
// of ErrRequestNotFound, ErrAlreadyCompleted or ErrInvalidTransition, and the
// error matches both Kind and ErrServiceRequestFailed under errors.Is.
type ServiceRequestError struct {
	RequestID string
	Kind      error
	Reason    string
}

func (e *ServiceRequestError) Error() string {
	return fmt.Sprintf("service request failed: %s: %s", e.RequestID, e.Reason)
}

func (e *ServiceRequestError) Is(target error) bool {
	return target == ErrServiceRequestFailed || target == e.Kind
}

func NewAgentNotFound(id string) error {
	return &AgentNotFoundError{ID: id}
}

func NewRequestNotFound(id string) error {
	return &ServiceRequestError{RequestID: id, Kind: ErrRequestNotFound, Reason: "request not found"}
}

func NewAlreadyCompleted(id string) error {
	return &ServiceRequestError{RequestID: id, Kind: ErrAlreadyCompleted, Reason: "already completed"}
}

func NewInvalidTransition(id string, from, to ServiceStatus) error {
	return &ServiceRequestError{
		RequestID: id,
		Kind:      ErrInvalidTransition,
		Reason:    fmt.Sprintf("cannot move from %s to %s", from, to),
	}
}

// ABCI response codes. Zero is success.
const (
	CodeOK uint32 = iota
	CodeInternal
	CodeAgentNotFound
	CodeAgentAlreadyExists
	CodeInsufficientBalance
	CodeUnauthorized
	CodeInvalidStrategy
	CodeRequestNotFound
	CodeAlreadyCompleted
	CodeInvalidTransition
	CodeInvalidAmount
	CodeMissingSigner
	CodeInvalidOperation
	CodeInvalidSignature
	CodeDuplicateTx
)

var errorCodes = []struct {
	err  error
	code uint32
	kind string
}{
	{ErrAgentNotFound, CodeAgentNotFound, "AgentNotFound"},
	{ErrAgentAlreadyExists, CodeAgentAlreadyExists, "AgentAlreadyExists"},
	{ErrInsufficientBalance, CodeInsufficientBalance, "InsufficientBalance"},
	{ErrUnauthorized, CodeUnauthorized, "Unauthorized"},
	{ErrInvalidStrategy, CodeInvalidStrategy, "InvalidStrategy"},
	{ErrRequestNotFound, CodeRequestNotFound, "RequestNotFound"},
	{ErrAlreadyCompleted, CodeAlreadyCompleted, "AlreadyCompleted"},
	{ErrInvalidTransition, CodeInvalidTransition, "InvalidTransition"},
	{ErrInvalidAmount, CodeInvalidAmount, "InvalidAmount"},
	{ErrAmountOverflow, CodeInvalidAmount, "AmountOverflow"},
	{ErrMissingSigner, CodeMissingSigner, "MissingSigner"},
	{ErrInvalidOperation, CodeInvalidOperation, "InvalidOperation"},
	{ErrInvalidMessage, CodeInvalidOperation, "InvalidMessage"},
	{ErrInvalidSignature, CodeInvalidSignature, "InvalidSignature"},
	{ErrDuplicateTx, CodeDuplicateTx, "DuplicateTx"},
}

// ErrorCode maps an error to its ABCI response code.
func ErrorCode(err error) uint32 {
	if err == nil {
		return CodeOK
	}
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeInternal
}

// ErrorKind names the error class for caller-visible reporting.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.kind
		}
	}
	return "Internal"
}

// CodeKind names the error class of an ABCI response code, for callers that
// only see the code, such as clients of the RPC.
func CodeKind(code uint32) string {
	switch code {
	case CodeOK:
		return ""
	case CodeInternal:
		return "Internal"
	}
	for _, e := range errorCodes {
		if e.code == code {
			return e.kind
		}
	}
	return "Internal"
}
