package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vasppay/internal/common/database"
	"vasppay/internal/offchain"
)

func TestLockPaymentPersistsOnSuccess(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.LockPayment(ctx, "ref-1", func(prior *PaymentRecord) (*PaymentRecord, error) {
		assert.Nil(t, prior)
		return &PaymentRecord{ReferenceID: "ref-1", Lifecycle: offchain.LifecyclePending}, nil
	})
	require.NoError(t, err)

	rec, err := s.GetPayment(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, offchain.LifecyclePending, rec.Lifecycle)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.False(t, rec.UpdatedAt.IsZero())
}

func TestLockPaymentErrorDoesNotPersist(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.LockPayment(ctx, "ref-1", func(_ *PaymentRecord) (*PaymentRecord, error) {
		return &PaymentRecord{ReferenceID: "ref-1"}, boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetPayment(ctx, "ref-1")
	assert.True(t, database.IsNotFound(err))
}

func TestLockPaymentNilResultLeavesStoreUntouched(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.LockPayment(ctx, "ref-1", func(_ *PaymentRecord) (*PaymentRecord, error) {
		return &PaymentRecord{ReferenceID: "ref-1", Lifecycle: offchain.LifecycleWait}, nil
	}))
	require.NoError(t, s.LockPayment(ctx, "ref-1", func(prior *PaymentRecord) (*PaymentRecord, error) {
		require.NotNil(t, prior)
		prior.Lifecycle = offchain.LifecycleCanceled
		return nil, nil
	}))

	rec, err := s.GetPayment(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, offchain.LifecycleWait, rec.Lifecycle)
}

func TestLockPaymentHandsOutCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.LockPayment(ctx, "ref-1", func(_ *PaymentRecord) (*PaymentRecord, error) {
		return &PaymentRecord{
			ReferenceID: "ref-1",
			RawCommand:  []byte("v1"),
			Payment: offchain.PaymentObject{
				Sender: offchain.PaymentActor{Metadata: []string{"m1"}},
			},
		}, nil
	}))

	rec, err := s.GetPayment(ctx, "ref-1")
	require.NoError(t, err)
	rec.RawCommand[0] = 'X'
	rec.Payment.Sender.Metadata[0] = "tampered"

	fresh, err := s.GetPayment(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), fresh.RawCommand)
	assert.Equal(t, []string{"m1"}, fresh.Payment.Sender.Metadata)
}

func TestPaymentsByLifecycleSortsOldestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, ref := range []string{"ref-a", "ref-b", "ref-c"} {
		require.NoError(t, s.LockPayment(ctx, ref, func(_ *PaymentRecord) (*PaymentRecord, error) {
			return &PaymentRecord{ReferenceID: ref, Lifecycle: offchain.LifecycleReady}, nil
		}))
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, s.LockPayment(ctx, "ref-other", func(_ *PaymentRecord) (*PaymentRecord, error) {
		return &PaymentRecord{ReferenceID: "ref-other", Lifecycle: offchain.LifecycleWait}, nil
	}))

	records, err := s.PaymentsByLifecycle(ctx, offchain.LifecycleReady)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "ref-a", records[0].ReferenceID)
	assert.Equal(t, "ref-c", records[2].ReferenceID)
}

func TestLockPreApprovalRoleRows(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.LockPreApproval(ctx, "pre-1", func(prior []*PreApprovalRecord) ([]*PreApprovalRecord, error) {
		assert.Empty(t, prior)
		return []*PreApprovalRecord{
			{FundsPullPreApprovalID: "pre-1", Role: offchain.RolePayer},
			{FundsPullPreApprovalID: "pre-1", Role: offchain.RolePayee},
		}, nil
	}))

	rows, err := s.GetPreApprovals(ctx, "pre-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, offchain.RolePayee, rows[0].Role, "rows come back sorted by role")
	assert.Equal(t, offchain.RolePayer, rows[1].Role)
}

func TestUnsentPreApprovals(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.LockPreApproval(ctx, "pre-1", func(_ []*PreApprovalRecord) ([]*PreApprovalRecord, error) {
		return []*PreApprovalRecord{{FundsPullPreApprovalID: "pre-1", Role: offchain.RolePayee}}, nil
	}))
	require.NoError(t, s.LockPreApproval(ctx, "pre-2", func(_ []*PreApprovalRecord) ([]*PreApprovalRecord, error) {
		return []*PreApprovalRecord{{FundsPullPreApprovalID: "pre-2", Role: offchain.RolePayer, OffchainSent: true}}, nil
	}))

	unsent, err := s.UnsentPreApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, unsent, 1)
	assert.Equal(t, "pre-1", unsent[0].FundsPullPreApprovalID)
}

func TestPaymentInfoRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetPaymentInfo(ctx, "ref-1")
	assert.True(t, database.IsNotFound(err))

	require.NoError(t, s.LockPaymentInfo(ctx, "ref-1", func(prior *PaymentInfoRecord) (*PaymentInfoRecord, error) {
		assert.Nil(t, prior)
		return &PaymentInfoRecord{ReferenceID: "ref-1", Status: offchain.PaymentInfoReadyForUser}, nil
	}))

	rec, err := s.GetPaymentInfo(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, offchain.PaymentInfoReadyForUser, rec.Status)
}

func TestCreateTransactionAppends(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateTransaction(ctx, &TransactionRecord{ID: "t1", ReferenceID: "ref-1"}))
	require.NoError(t, s.CreateTransaction(ctx, &TransactionRecord{ID: "t2", ReferenceID: "ref-2"}))

	txns := s.Transactions()
	require.Len(t, txns, 2)
	assert.Equal(t, "t1", txns[0].ID)
	assert.False(t, txns[0].CreatedAt.IsZero())
}

func TestLockPaymentSerializesConcurrentWriters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// Both callers race for the same reference; the lock serializes them
	// so exactly one finds no prior record.
	var creates int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.LockPayment(ctx, "ref-1", func(prior *PaymentRecord) (*PaymentRecord, error) {
				if prior != nil {
					return nil, nil
				}
				atomic.AddInt32(&creates, 1)
				return &PaymentRecord{ReferenceID: "ref-1", Lifecycle: offchain.LifecyclePending}, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&creates))
	rec, err := s.GetPayment(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, offchain.LifecyclePending, rec.Lifecycle)
}

func TestLockPaymentHonorsCanceledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.LockPayment(ctx, "ref-1", func(_ *PaymentRecord) (*PaymentRecord, error) {
		t.Fatal("fn must not run under a canceled context")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
