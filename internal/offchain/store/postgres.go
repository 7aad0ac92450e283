package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"vasppay/internal/common/database"
	"vasppay/internal/offchain"
)

// PostgresStore implements Store using PostgreSQL. Per-reference
// serialization uses a transaction-scoped advisory lock keyed on the
// reference id, which also covers records that do not exist yet.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const paymentColumns = `
	reference_id, payment, raw_command, cid, account_id, my_actor_address,
	inbound, lifecycle_status, chain_version, chain_sequence, created_at, updated_at`

// LockPayment serializes load-apply-save for one payment thread.
func (s *PostgresStore) LockPayment(ctx context.Context, referenceID string, fn PaymentFn) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := database.AcquireAdvisoryXactLock(ctx, tx, "payment:"+referenceID); err != nil {
			return err
		}

		row := tx.QueryRow(ctx,
			`SELECT `+paymentColumns+` FROM payment_command WHERE reference_id = $1`, referenceID)
		prior, err := scanPayment(row)
		if err != nil && !database.IsNotFound(err) {
			return err
		}

		next, err := fn(prior)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		return upsertPayment(ctx, tx, next)
	})
}

func upsertPayment(ctx context.Context, tx pgx.Tx, r *PaymentRecord) error {
	paymentJSON, err := json.Marshal(r.Payment)
	if err != nil {
		return fmt.Errorf("marshaling payment: %w", err)
	}

	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err = tx.Exec(ctx, `
		INSERT INTO payment_command (
			reference_id, payment, raw_command, cid, account_id, my_actor_address,
			inbound, lifecycle_status, chain_version, chain_sequence, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (reference_id) DO UPDATE SET
			payment = $2, raw_command = $3, cid = $4, account_id = $5,
			my_actor_address = $6, inbound = $7, lifecycle_status = $8,
			chain_version = $9, chain_sequence = $10, updated_at = $12
	`,
		r.ReferenceID, paymentJSON, r.RawCommand, r.CID, r.AccountID, r.MyActorAddress,
		r.Inbound, r.Lifecycle, r.ChainVersion, r.ChainSequence, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

// GetPayment retrieves a payment record.
func (s *PostgresStore) GetPayment(ctx context.Context, referenceID string) (*PaymentRecord, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payment_command WHERE reference_id = $1`, referenceID)
	return scanPayment(row)
}

// PaymentsByLifecycle lists payments in a lifecycle status, oldest first.
func (s *PostgresStore) PaymentsByLifecycle(ctx context.Context, status offchain.LifecycleStatus) ([]*PaymentRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+paymentColumns+` FROM payment_command WHERE lifecycle_status = $1 ORDER BY created_at ASC`,
		status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*PaymentRecord
	for rows.Next() {
		r, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanPayment(row pgx.Row) (*PaymentRecord, error) {
	var r PaymentRecord
	var paymentJSON []byte

	err := row.Scan(
		&r.ReferenceID, &paymentJSON, &r.RawCommand, &r.CID, &r.AccountID, &r.MyActorAddress,
		&r.Inbound, &r.Lifecycle, &r.ChainVersion, &r.ChainSequence, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(paymentJSON, &r.Payment); err != nil {
		return nil, fmt.Errorf("unmarshaling payment %s: %w", r.ReferenceID, err)
	}
	return &r, nil
}

const preApprovalColumns = `
	funds_pull_pre_approval_id, role, approval, offchain_sent, account_id,
	biller_name, created_at, updated_at, approved_at`

// LockPreApproval serializes load-apply-save for every role row of one id.
func (s *PostgresStore) LockPreApproval(ctx context.Context, id string, fn PreApprovalFn) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := database.AcquireAdvisoryXactLock(ctx, tx, "preapproval:"+id); err != nil {
			return err
		}

		rows, err := tx.Query(ctx,
			`SELECT `+preApprovalColumns+` FROM fund_pull_pre_approval_command
			 WHERE funds_pull_pre_approval_id = $1 ORDER BY role`, id)
		if err != nil {
			return err
		}
		prior, err := collectPreApprovals(rows)
		if err != nil {
			return err
		}

		next, err := fn(prior)
		if err != nil {
			return err
		}
		for _, r := range next {
			if err := upsertPreApproval(ctx, tx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertPreApproval(ctx context.Context, tx pgx.Tx, r *PreApprovalRecord) error {
	approvalJSON, err := json.Marshal(r.Object)
	if err != nil {
		return fmt.Errorf("marshaling pre-approval: %w", err)
	}

	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err = tx.Exec(ctx, `
		INSERT INTO fund_pull_pre_approval_command (
			funds_pull_pre_approval_id, role, approval, offchain_sent, account_id,
			biller_name, created_at, updated_at, approved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (funds_pull_pre_approval_id, role) DO UPDATE SET
			approval = $3, offchain_sent = $4, account_id = $5,
			biller_name = $6, updated_at = $8, approved_at = $9
	`,
		r.FundsPullPreApprovalID, r.Role, approvalJSON, r.OffchainSent, r.AccountID,
		r.BillerName, r.CreatedAt, r.UpdatedAt, r.ApprovedAt,
	)
	return err
}

// GetPreApprovals returns every role row for an id.
func (s *PostgresStore) GetPreApprovals(ctx context.Context, id string) ([]*PreApprovalRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+preApprovalColumns+` FROM fund_pull_pre_approval_command
		 WHERE funds_pull_pre_approval_id = $1 ORDER BY role`, id)
	if err != nil {
		return nil, err
	}
	return collectPreApprovals(rows)
}

// UnsentPreApprovals lists records the dispatcher still owes the
// counterparty, oldest first.
func (s *PostgresStore) UnsentPreApprovals(ctx context.Context) ([]*PreApprovalRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+preApprovalColumns+` FROM fund_pull_pre_approval_command
		 WHERE offchain_sent = false ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	return collectPreApprovals(rows)
}

func collectPreApprovals(rows pgx.Rows) ([]*PreApprovalRecord, error) {
	defer rows.Close()

	var records []*PreApprovalRecord
	for rows.Next() {
		var r PreApprovalRecord
		var approvalJSON []byte
		err := rows.Scan(
			&r.FundsPullPreApprovalID, &r.Role, &approvalJSON, &r.OffchainSent, &r.AccountID,
			&r.BillerName, &r.CreatedAt, &r.UpdatedAt, &r.ApprovedAt,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(approvalJSON, &r.Object); err != nil {
			return nil, fmt.Errorf("unmarshaling pre-approval %s: %w", r.FundsPullPreApprovalID, err)
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

const paymentInfoColumns = `
	reference_id, vasp_address, my_address, merchant_name, action, currency,
	amount, expiration, recipient_signature, status, created_at, updated_at`

// LockPaymentInfo serializes load-apply-save for one payment-info record.
func (s *PostgresStore) LockPaymentInfo(ctx context.Context, referenceID string, fn PaymentInfoFn) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := database.AcquireAdvisoryXactLock(ctx, tx, "paymentinfo:"+referenceID); err != nil {
			return err
		}

		row := tx.QueryRow(ctx,
			`SELECT `+paymentInfoColumns+` FROM payment_info WHERE reference_id = $1`, referenceID)
		prior, err := scanPaymentInfo(row)
		if err != nil && !database.IsNotFound(err) {
			return err
		}

		next, err := fn(prior)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		return upsertPaymentInfo(ctx, tx, next)
	})
}

func upsertPaymentInfo(ctx context.Context, tx pgx.Tx, r *PaymentInfoRecord) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err := tx.Exec(ctx, `
		INSERT INTO payment_info (
			reference_id, vasp_address, my_address, merchant_name, action, currency,
			amount, expiration, recipient_signature, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (reference_id) DO UPDATE SET
			recipient_signature = $9, status = $10, updated_at = $12
	`,
		r.ReferenceID, r.VASPAddress, r.MyAddress, r.MerchantName, r.Action, r.Currency,
		r.Amount, r.Expiration, r.RecipientSignature, r.Status, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

// GetPaymentInfo retrieves a payment-info record.
func (s *PostgresStore) GetPaymentInfo(ctx context.Context, referenceID string) (*PaymentInfoRecord, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+paymentInfoColumns+` FROM payment_info WHERE reference_id = $1`, referenceID)
	return scanPaymentInfo(row)
}

func scanPaymentInfo(row pgx.Row) (*PaymentInfoRecord, error) {
	var r PaymentInfoRecord
	err := row.Scan(
		&r.ReferenceID, &r.VASPAddress, &r.MyAddress, &r.MerchantName, &r.Action, &r.Currency,
		&r.Amount, &r.Expiration, &r.RecipientSignature, &r.Status, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// CreateTransaction appends a settlement transaction record.
func (s *PostgresStore) CreateTransaction(ctx context.Context, txn *TransactionRecord) error {
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO transaction (
			id, reference_id, amount, currency, chain_version, chain_sequence, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		txn.ID, txn.ReferenceID, txn.Amount, txn.Currency,
		txn.ChainVersion, txn.ChainSequence, txn.Status, txn.CreatedAt,
	)
	return err
}
