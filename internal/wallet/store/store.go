package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"vasppay/internal/common/database"
	"vasppay/internal/wallet/domain"
)

// ErrInsufficientFunds is returned when a debit exceeds the balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Store provides wallet data access
type Store struct {
	db *database.DB
}

// New creates a new wallet store
func New(db *database.DB) *Store {
	return &Store{db: db}
}

const accountColumns = `
	id, sub_address, given_name, surname, dob, country, city, status, created_at, updated_at`

// CreateAccount creates a new hosted account
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO wallet_accounts (
			id, sub_address, given_name, surname, dob, country, city, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		account.ID, account.SubAddress, account.GivenName, account.Surname, account.Dob,
		account.Country, account.City, account.Status, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("account with sub-address %s: %w", account.SubAddress, database.ErrAlreadyExists)
		}
		return fmt.Errorf("creating account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by ID
func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM wallet_accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// GetAccountBySubAddress retrieves an account by its sub-address
func (s *Store) GetAccountBySubAddress(ctx context.Context, subAddress string) (*domain.Account, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM wallet_accounts WHERE sub_address = $1`, subAddress)
	return scanAccount(row)
}

// UpdateAccountStatus changes an account's status
func (s *Store) UpdateAccountStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE wallet_accounts SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("updating account status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID, &a.SubAddress, &a.GivenName, &a.Surname, &a.Dob,
		&a.Country, &a.City, &a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// Credit adds funds to an account and records the entry
func (s *Store) Credit(ctx context.Context, entry *domain.Entry) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO wallet_balances (account_id, currency, amount)
			VALUES ($1, $2, $3)
			ON CONFLICT (account_id, currency) DO UPDATE SET amount = wallet_balances.amount + $3
		`, entry.AccountID, entry.Currency, entry.Amount)
		if err != nil {
			return fmt.Errorf("crediting balance: %w", err)
		}
		return insertEntry(ctx, tx, entry, domain.EntryTypeCredit)
	})
}

// Debit removes funds from an account and records the entry. The balance
// check and the movement are one atomic statement.
func (s *Store) Debit(ctx context.Context, entry *domain.Entry) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE wallet_balances SET amount = amount - $3
			WHERE account_id = $1 AND currency = $2 AND amount >= $3
		`, entry.AccountID, entry.Currency, entry.Amount)
		if err != nil {
			return fmt.Errorf("debiting balance: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrInsufficientFunds
		}
		return insertEntry(ctx, tx, entry, domain.EntryTypeDebit)
	})
}

func insertEntry(ctx context.Context, tx pgx.Tx, entry *domain.Entry, entryType domain.EntryType) error {
	entry.EntryType = entryType
	_, err := tx.Exec(ctx, `
		INSERT INTO wallet_entries (
			id, account_id, entry_type, amount, currency, reference_id, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		entry.ID, entry.AccountID, entry.EntryType, entry.Amount, entry.Currency,
		entry.ReferenceID, entry.Description, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording entry: %w", err)
	}
	return nil
}

// GetBalances lists the account's holdings per currency
func (s *Store) GetBalances(ctx context.Context, accountID string) ([]domain.Balance, error) {
	rows, err := s.db.Query(ctx,
		`SELECT currency, amount FROM wallet_balances WHERE account_id = $1 ORDER BY currency`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []domain.Balance
	for rows.Next() {
		var b domain.Balance
		if err := rows.Scan(&b.Currency, &b.Amount); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// ListEntries lists an account's balance movements, newest first
func (s *Store) ListEntries(ctx context.Context, accountID string, limit, offset int) ([]*domain.Entry, int64, error) {
	var total int64
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM wallet_entries WHERE account_id = $1`, accountID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting entries: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, account_id, entry_type, amount, currency, reference_id, description, created_at
		FROM wallet_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []*domain.Entry
	for rows.Next() {
		var e domain.Entry
		err := rows.Scan(&e.ID, &e.AccountID, &e.EntryType, &e.Amount, &e.Currency,
			&e.ReferenceID, &e.Description, &e.CreatedAt)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, &e)
	}
	return entries, total, rows.Err()
}
