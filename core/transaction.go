package core

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TxServicePayment TransactionType = "ServicePayment"
	TxTransfer       TransactionType = "Transfer"
	TxReward         TransactionType = "Reward"
	TxPenalty        TransactionType = "Penalty"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TxServicePayment, TxTransfer, TxReward, TxPenalty:
		return true
	}
	return false
}

// Transaction is an append-only ledger entry. Amount equals the balance delta
// applied to both parties in the same atomic unit.
type Transaction struct {
	ID              string          `json:"id"`
	FromAgent       string          `json:"from_agent"`
	ToAgent         string          `json:"to_agent"`
	Amount          Amount          `json:"amount"`
	TransactionType TransactionType `json:"transaction_type"`
	Timestamp       uint64          `json:"timestamp"`
}
