package ledger

import (
	"fmt"

	"github.com/NethermindEth/agentchain/core"
	"github.com/NethermindEth/agentchain/storage"
)

// TransferTokens moves amount from one agent to another and appends the
// Transaction record. Both agents are read and every check is made before
// anything is written.
func (l *Ledger) TransferTokens(fromID, toID string, amount core.Amount, typ core.TransactionType) (string, error) {
	var txID string
	err := l.update(func(s *session) error {
		var err error
		txID, err = s.transfer(fromID, toID, amount, typ)
		return err
	})
	if err != nil {
		return "", err
	}
	return txID, nil
}

func (s *session) transfer(fromID, toID string, amount core.Amount, typ core.TransactionType) (string, error) {
	if !typ.Valid() {
		return "", fmt.Errorf("%w: transaction type %q", core.ErrInvalidOperation, typ)
	}

	from, err := s.agent(fromID)
	if err != nil {
		return "", err
	}
	to, err := s.agent(toID)
	if err != nil {
		return "", err
	}

	debited, ok := from.Balance.Sub(amount)
	if !ok {
		return "", &core.InsufficientBalanceError{Required: amount, Available: from.Balance}
	}

	if fromID == toID {
		// Nets to zero; the transaction is still recorded.
		if err := s.putAgent(from); err != nil {
			return "", err
		}
	} else {
		credited, err := to.Balance.Add(amount)
		if err != nil {
			return "", err
		}
		from.Balance = debited
		to.Balance = credited
		if err := s.putAgent(from); err != nil {
			return "", err
		}
		if err := s.putAgent(to); err != nil {
			return "", err
		}
	}
	return s.record(fromID, toID, amount, typ)
}

// debit takes amount from a local agent whose counterparty lives on another
// ledger. The matching credit is applied there.
func (s *session) debit(fromID, toID string, amount core.Amount, typ core.TransactionType) (string, error) {
	from, err := s.agent(fromID)
	if err != nil {
		return "", err
	}
	debited, ok := from.Balance.Sub(amount)
	if !ok {
		return "", &core.InsufficientBalanceError{Required: amount, Available: from.Balance}
	}
	from.Balance = debited
	if err := s.putAgent(from); err != nil {
		return "", err
	}
	return s.record(fromID, toID, amount, typ)
}

// credit adds amount to a local agent for a debit already applied on another
// ledger.
func (s *session) credit(fromID, toID string, amount core.Amount, typ core.TransactionType) (string, error) {
	to, err := s.agent(toID)
	if err != nil {
		return "", err
	}
	credited, err := to.Balance.Add(amount)
	if err != nil {
		return "", err
	}
	to.Balance = credited
	if err := s.putAgent(to); err != nil {
		return "", err
	}
	return s.record(fromID, toID, amount, typ)
}

// record appends the Transaction and adds amount to the total volume.
func (s *session) record(fromID, toID string, amount core.Amount, typ core.TransactionType) (string, error) {
	volume, err := s.totalVolume()
	if err != nil {
		return "", err
	}
	volume, err = volume.Add(amount)
	if err != nil {
		return "", err
	}
	seq, err := s.increment(keyTotalTransactions)
	if err != nil {
		return "", err
	}
	tx := core.Transaction{
		ID:              core.TransactionID(seq),
		FromAgent:       fromID,
		ToAgent:         toID,
		Amount:          amount,
		TransactionType: typ,
		Timestamp:       s.ledger.Now(),
	}
	if err := storage.PutObject(s.store, txKey(seq), tx); err != nil {
		return "", err
	}
	if err := storage.PutObject(s.store, keyTotalVolume, volume); err != nil {
		return "", err
	}

	s.ledger.logger.Debug("Transfer applied", "tx", tx.ID, "from", fromID, "to", toID, "amount", amount, "type", typ)
	return tx.ID, nil
}

// CreditRemoteTransfer credits toID for tokens already debited from fromID on
// another ledger.
func (l *Ledger) CreditRemoteTransfer(fromID, toID string, amount core.Amount, typ core.TransactionType) (string, error) {
	if !typ.Valid() {
		return "", fmt.Errorf("%w: transaction type %q", core.ErrInvalidOperation, typ)
	}
	var txID string
	err := l.update(func(s *session) error {
		var err error
		txID, err = s.credit(fromID, toID, amount, typ)
		return err
	})
	return txID, err
}

// GetTransaction looks a transaction up by its id.
func (l *Ledger) GetTransaction(id string) (core.Transaction, error) {
	var tx core.Transaction
	seq, ok := parseTxSeq(id)
	if !ok {
		return tx, fmt.Errorf("%w: transaction id %q", core.ErrInvalidOperation, id)
	}
	found, err := storage.GetObject(l.store, txKey(seq), &tx)
	if err != nil {
		return tx, err
	}
	if !found {
		return tx, fmt.Errorf("transaction not found: %s", id)
	}
	return tx, nil
}

// Transactions visits ledger transactions in append order.
func (l *Ledger) Transactions(fn func(core.Transaction) error) error {
	return iterateObjects(l.store, txPrefix, fn)
}
