package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/commispay/backend/internal/models"
)

// LedgerService owns all balance mutations. Every debit or credit runs
// inside the caller's *sql.Tx, locks the account row FOR UPDATE, appends a
// ledger entry and bumps the optimistic version column, so concurrent
// operations on the same account serialize at the database.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// Reservation is a provisional hold on an account balance. It is only valid
// inside the transaction that created it: Commit turns the hold into a
// persisted debit, Release abandons it (nothing was written, so releasing
// amounts to dropping the row lock with the enclosing rollback).
type Reservation struct {
	AccountID string
	PayoutID  string
	Amount    int64
	balance   int64
	version   int
	committed bool
}

// Reserve locks the account row and verifies the balance covers amount.
// No rows are written; the hold exists for the lifetime of tx.
func (s *LedgerService) Reserve(tx *sql.Tx, accountID, payoutID string, amount int64) (*Reservation, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("account %s not found", accountID)
		}
		return nil, err
	}

	if account.Balance < amount {
		return nil, ErrInsufficientBalance
	}

	return &Reservation{
		AccountID: account.ID,
		PayoutID:  payoutID,
		Amount:    amount,
		balance:   account.Balance,
		version:   account.Version,
	}, nil
}

// Commit turns a reservation into the actual debit: one DEBIT ledger entry
// plus a version-checked balance update. The balance decreases by exactly
// the reserved amount, once.
func (s *LedgerService) Commit(tx *sql.Tx, res *Reservation) error {
	if res.committed {
		return fmt.Errorf("reservation for payout %s already committed", res.PayoutID)
	}

	newBalance := res.balance - res.Amount
	if err := s.createLedgerEntry(tx, res.PayoutID, res.AccountID, -res.Amount, "DEBIT", newBalance); err != nil {
		return err
	}

	if err := s.updateAccountBalance(tx, res.AccountID, newBalance, res.version); err != nil {
		return err
	}

	res.committed = true
	return nil
}

// Release abandons an uncommitted reservation. The hold was never persisted,
// so there is nothing to undo beyond letting the transaction end.
func (s *LedgerService) Release(res *Reservation) {
	if res != nil {
		res.committed = false
	}
}

// DebitTx reserves and commits in one step. This is the pending -> processing
// debit path: the engine holds the row lock only for the life of the
// enclosing transaction.
func (s *LedgerService) DebitTx(tx *sql.Tx, accountID, payoutID string, amount int64) error {
	res, err := s.Reserve(tx, accountID, payoutID, amount)
	if err != nil {
		return err
	}
	return s.Commit(tx, res)
}

// CreditTx restores amount to the account. Used for the compensating credit
// when a processing payout is cancelled after its debit.
func (s *LedgerService) CreditTx(tx *sql.Tx, accountID, payoutID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return err
	}

	newBalance := account.Balance + amount
	if err := s.createLedgerEntry(tx, payoutID, account.ID, amount, "CREDIT", newBalance); err != nil {
		return err
	}

	return s.updateAccountBalance(tx, account.ID, newBalance, account.Version)
}

// Balance reads the current balance without locking. Callers must not make
// debit decisions on this value alone; it exists for the read-only check at
// payout creation.
func (s *LedgerService) Balance(accountID string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(`SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	return balance, err
}

// History returns the account's ledger entries, newest first.
func (s *LedgerService) History(accountID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.Query(`
		SELECT id, payout_id, account_id, amount, entry_type, balance, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.PayoutID, &e.AccountID, &e.Amount, &e.EntryType, &e.Balance, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *LedgerService) lockAccount(tx *sql.Tx, accountID string) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT id, balance, version, updated_at
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID).Scan(&account.ID, &account.Balance, &account.Version, &account.UpdatedAt)

	return &account, err
}

func (s *LedgerService) createLedgerEntry(tx *sql.Tx, payoutID, accountID string, amount int64, entryType string, balance int64) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_entries (payout_id, account_id, amount, entry_type, balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		payoutID, accountID, amount, entryType, balance, time.Now())
	return err
}

func (s *LedgerService) updateAccountBalance(tx *sql.Tx, accountID string, newBalance int64, version int) error {
	if newBalance < 0 {
		return ErrInsufficientBalance
	}

	result, err := tx.Exec(`
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), accountID, version)

	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %s", accountID)
	}

	return nil
}
