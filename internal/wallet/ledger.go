package wallet

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-negotiation/internal/models"
)

// ErrNonPositiveAmount rejects credits and debits of zero or less.
var ErrNonPositiveAmount = errors.New("amount must be > 0")

// Account holds one owner's balance and its full transaction history.
// The balance is a cache over the transaction fold; every mutation
// re-checks that they agree.
type Account struct {
	OwnerID      string               `json:"owner_id"`
	Balance      float64              `json:"balance"`
	Transactions []models.Transaction `json:"transactions"`
}

// Ledger is an in-memory wallet store safe for concurrent use.
//
// Overdraft is allowed on purpose: a driver can run a negative balance
// from fees before their next payout.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

func NewLedger() *Ledger {
	return &Ledger{accounts: make(map[string]*Account)}
}

// Open creates an account. A non-zero initial balance is recorded as a
// topup transaction so the fold invariant holds from the first write.
// Opening an existing account is a no-op.
func (l *Ledger) Open(ownerID string, initial float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[ownerID]; ok {
		return
	}
	acct := &Account{OwnerID: ownerID}
	l.accounts[ownerID] = acct
	if initial > 0 {
		l.applyLocked(acct, models.TxTopup, models.DirectionCredit, initial, "Initial balance")
	}
}

// Credit adds amount to the owner's balance and appends exactly one
// transaction of the given type.
func (l *Ledger) Credit(ownerID string, txType models.TransactionType, amount float64, desc string) (models.Transaction, error) {
	return l.apply(ownerID, txType, models.DirectionCredit, amount, desc)
}

// Debit subtracts amount from the owner's balance and appends exactly one
// transaction of the given type. No overdraft rejection.
func (l *Ledger) Debit(ownerID string, txType models.TransactionType, amount float64, desc string) (models.Transaction, error) {
	return l.apply(ownerID, txType, models.DirectionDebit, amount, desc)
}

func (l *Ledger) apply(ownerID string, txType models.TransactionType, dir models.TxDirection, amount float64, desc string) (models.Transaction, error) {
	if amount <= 0 {
		return models.Transaction{}, ErrNonPositiveAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.getOrCreateLocked(ownerID)
	return l.applyLocked(acct, txType, dir, amount, desc), nil
}

func (l *Ledger) applyLocked(acct *Account, txType models.TransactionType, dir models.TxDirection, amount float64, desc string) models.Transaction {
	tx := models.Transaction{
		ID:          uuid.NewString(),
		OwnerID:     acct.OwnerID,
		Type:        txType,
		Direction:   dir,
		Amount:      amount,
		Description: desc,
		Timestamp:   time.Now(),
	}
	acct.Transactions = append(acct.Transactions, tx)
	acct.Balance += tx.Signed()
	if err := checkFold(acct); err != nil {
		// The cache drifted from the fold; the fold wins.
		acct.Balance = fold(acct.Transactions)
	}
	return tx
}

// Balance returns the owner's balance; a missing account reads as zero.
func (l *Ledger) Balance(ownerID string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if acct, ok := l.accounts[ownerID]; ok {
		return acct.Balance
	}
	return 0
}

// IsSufficient reports whether the owner's balance is at least floor.
func (l *Ledger) IsSufficient(ownerID string, floor float64) bool {
	return l.Balance(ownerID) >= floor
}

// Transactions returns a copy of the owner's history, oldest first.
func (l *Ledger) Transactions(ownerID string) []models.Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.accounts[ownerID]
	if !ok {
		return nil
	}
	out := make([]models.Transaction, len(acct.Transactions))
	copy(out, acct.Transactions)
	return out
}

// Snapshot returns a copy of the account for rendering.
func (l *Ledger) Snapshot(ownerID string) (Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.accounts[ownerID]
	if !ok {
		return Account{}, false
	}
	cp := Account{OwnerID: acct.OwnerID, Balance: acct.Balance}
	cp.Transactions = make([]models.Transaction, len(acct.Transactions))
	copy(cp.Transactions, acct.Transactions)
	return cp, true
}

func (l *Ledger) getOrCreateLocked(ownerID string) *Account {
	acct, ok := l.accounts[ownerID]
	if !ok {
		acct = &Account{OwnerID: ownerID}
		l.accounts[ownerID] = acct
	}
	return acct
}

func fold(txs []models.Transaction) float64 {
	var sum float64
	for _, tx := range txs {
		sum += tx.Signed()
	}
	return sum
}

func checkFold(acct *Account) error {
	const eps = 1e-6
	f := fold(acct.Transactions)
	if diff := acct.Balance - f; diff > eps || diff < -eps {
		return fmt.Errorf("balance %.6f diverged from transaction sum %.6f", acct.Balance, f)
	}
	return nil
}
