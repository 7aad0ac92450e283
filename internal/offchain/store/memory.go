package store

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"vasppay/internal/common/database"
	"vasppay/internal/offchain"
)

const stripeCount = 64

// MemoryStore implements Store with striped in-process mutexes. It backs
// single-node deployments and tests; the per-key stripe lock provides the
// same serialization the advisory lock gives the Postgres store.
type MemoryStore struct {
	stripes [stripeCount]sync.Mutex

	mu           sync.RWMutex
	payments     map[string]*PaymentRecord
	preApprovals map[string]map[offchain.Role]*PreApprovalRecord
	paymentInfos map[string]*PaymentInfoRecord
	transactions []*TransactionRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments:     make(map[string]*PaymentRecord),
		preApprovals: make(map[string]map[offchain.Role]*PreApprovalRecord),
		paymentInfos: make(map[string]*PaymentInfoRecord),
	}
}

func (s *MemoryStore) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.stripes[h.Sum32()%stripeCount]
}

// LockPayment serializes load-apply-save for one payment thread.
func (s *MemoryStore) LockPayment(ctx context.Context, referenceID string, fn PaymentFn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.stripe("payment:" + referenceID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	prior := clonePayment(s.payments[referenceID])
	s.mu.RUnlock()

	next, err := fn(prior)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	now := time.Now().UTC()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	next.UpdatedAt = now

	s.mu.Lock()
	s.payments[referenceID] = clonePayment(next)
	s.mu.Unlock()
	return nil
}

// GetPayment retrieves a payment record.
func (s *MemoryStore) GetPayment(ctx context.Context, referenceID string) (*PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.payments[referenceID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return clonePayment(r), nil
}

// PaymentsByLifecycle lists payments in a lifecycle status, oldest first.
func (s *MemoryStore) PaymentsByLifecycle(ctx context.Context, status offchain.LifecycleStatus) ([]*PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*PaymentRecord
	for _, r := range s.payments {
		if r.Lifecycle == status {
			records = append(records, clonePayment(r))
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// LockPreApproval serializes load-apply-save for every role row of one id.
func (s *MemoryStore) LockPreApproval(ctx context.Context, id string, fn PreApprovalFn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.stripe("preapproval:" + id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	var prior []*PreApprovalRecord
	for _, r := range s.preApprovals[id] {
		prior = append(prior, clonePreApproval(r))
	}
	s.mu.RUnlock()
	sortPreApprovals(prior)

	next, err := fn(prior)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	s.mu.Lock()
	for _, r := range next {
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		r.UpdatedAt = now
		rows, ok := s.preApprovals[r.FundsPullPreApprovalID]
		if !ok {
			rows = make(map[offchain.Role]*PreApprovalRecord)
			s.preApprovals[r.FundsPullPreApprovalID] = rows
		}
		rows[r.Role] = clonePreApproval(r)
	}
	s.mu.Unlock()
	return nil
}

// GetPreApprovals returns every role row for an id.
func (s *MemoryStore) GetPreApprovals(ctx context.Context, id string) ([]*PreApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*PreApprovalRecord
	for _, r := range s.preApprovals[id] {
		records = append(records, clonePreApproval(r))
	}
	sortPreApprovals(records)
	return records, nil
}

// UnsentPreApprovals lists records the dispatcher still owes the
// counterparty, oldest first.
func (s *MemoryStore) UnsentPreApprovals(ctx context.Context) ([]*PreApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*PreApprovalRecord
	for _, rows := range s.preApprovals {
		for _, r := range rows {
			if !r.OffchainSent {
				records = append(records, clonePreApproval(r))
			}
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// LockPaymentInfo serializes load-apply-save for one payment-info record.
func (s *MemoryStore) LockPaymentInfo(ctx context.Context, referenceID string, fn PaymentInfoFn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.stripe("paymentinfo:" + referenceID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	prior := clonePaymentInfo(s.paymentInfos[referenceID])
	s.mu.RUnlock()

	next, err := fn(prior)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	now := time.Now().UTC()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	next.UpdatedAt = now

	s.mu.Lock()
	s.paymentInfos[referenceID] = clonePaymentInfo(next)
	s.mu.Unlock()
	return nil
}

// GetPaymentInfo retrieves a payment-info record.
func (s *MemoryStore) GetPaymentInfo(ctx context.Context, referenceID string) (*PaymentInfoRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.paymentInfos[referenceID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return clonePaymentInfo(r), nil
}

// CreateTransaction appends a settlement transaction record.
func (s *MemoryStore) CreateTransaction(ctx context.Context, txn *TransactionRecord) error {
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	cp := *txn
	s.mu.Lock()
	s.transactions = append(s.transactions, &cp)
	s.mu.Unlock()
	return nil
}

// Transactions returns the appended settlement records.
func (s *MemoryStore) Transactions() []*TransactionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*TransactionRecord, len(s.transactions))
	for i, t := range s.transactions {
		cp := *t
		out[i] = &cp
	}
	return out
}

func sortPreApprovals(records []*PreApprovalRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Role < records[j].Role
	})
}

func clonePayment(r *PaymentRecord) *PaymentRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.RawCommand = append([]byte(nil), r.RawCommand...)
	if r.ChainVersion != nil {
		v := *r.ChainVersion
		cp.ChainVersion = &v
	}
	if r.ChainSequence != nil {
		v := *r.ChainSequence
		cp.ChainSequence = &v
	}
	cp.Payment.Sender = cloneActor(r.Payment.Sender)
	cp.Payment.Receiver = cloneActor(r.Payment.Receiver)
	return &cp
}

func cloneActor(a offchain.PaymentActor) offchain.PaymentActor {
	cp := a
	if a.KycData != nil {
		kyc := *a.KycData
		cp.KycData = &kyc
	}
	cp.Metadata = append([]string(nil), a.Metadata...)
	return cp
}

func clonePreApproval(r *PreApprovalRecord) *PreApprovalRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.ApprovedAt != nil {
		t := *r.ApprovedAt
		cp.ApprovedAt = &t
	}
	if r.Object.Scope.MaxCumulativeAmount != nil {
		m := *r.Object.Scope.MaxCumulativeAmount
		cp.Object.Scope.MaxCumulativeAmount = &m
	}
	if r.Object.Scope.MaxTransactionAmount != nil {
		m := *r.Object.Scope.MaxTransactionAmount
		cp.Object.Scope.MaxTransactionAmount = &m
	}
	return &cp
}

func clonePaymentInfo(r *PaymentInfoRecord) *PaymentInfoRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Expiration != nil {
		t := *r.Expiration
		cp.Expiration = &t
	}
	return &cp
}
