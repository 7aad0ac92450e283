package preapproval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vasppay/internal/offchain"
)

func statusPtr(s offchain.PreApprovalStatus) *offchain.PreApprovalStatus {
	return &s
}

// Every tuple in the domain must resolve to exactly one of: a role, or an
// invalid_transition error with a reason.
func TestReduceIsTotal(t *testing.T) {
	priors := []*offchain.PreApprovalStatus{
		nil,
		statusPtr(offchain.PreApprovalPending),
		statusPtr(offchain.PreApprovalValid),
		statusPtr(offchain.PreApprovalRejected),
		statusPtr(offchain.PreApprovalClosed),
	}

	for _, incoming := range allStatuses {
		for _, payerMine := range []bool{false, true} {
			for _, payeeMine := range []bool{false, true} {
				for _, priorPayer := range priors {
					for _, priorPayee := range priors {
						assert.NotPanics(t, func() {
							role, err := Reduce(incoming, payerMine, payeeMine, priorPayer, priorPayee)
							if err != nil {
								assert.Empty(t, role)
								var cerr *offchain.Error
								require.ErrorAs(t, err, &cerr)
								assert.Equal(t, offchain.CodeInvalidTransition, cerr.Code)
								assert.NotEmpty(t, cerr.Message)
							} else {
								assert.Contains(t, []offchain.Role{offchain.RolePayer, offchain.RolePayee}, role)
							}
						})
					}
				}
			}
		}
	}
}

func reduceReason(t *testing.T, incoming offchain.PreApprovalStatus, payerMine, payeeMine bool, priorPayer, priorPayee *offchain.PreApprovalStatus) string {
	t.Helper()
	_, err := Reduce(incoming, payerMine, payeeMine, priorPayer, priorPayee)
	var cerr *offchain.Error
	require.ErrorAs(t, err, &cerr)
	return cerr.Message
}

func TestReducePendingAddressesPayer(t *testing.T) {
	role, err := Reduce(offchain.PreApprovalPending, true, false, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, offchain.RolePayer, role)

	// A resent pending request is still the payer's.
	role, err = Reduce(offchain.PreApprovalPending, true, false, statusPtr(offchain.PreApprovalPending), nil)
	require.NoError(t, err)
	assert.Equal(t, offchain.RolePayer, role)

	assert.Equal(t, ReasonNotPayer,
		reduceReason(t, offchain.PreApprovalPending, false, true, nil, nil))
	assert.Equal(t, ReasonAlreadyExists,
		reduceReason(t, offchain.PreApprovalPending, true, false, statusPtr(offchain.PreApprovalValid), nil))
	assert.Equal(t, ReasonTerminal,
		reduceReason(t, offchain.PreApprovalPending, true, false, statusPtr(offchain.PreApprovalClosed), nil))
}

func TestReduceDecisionAddressesPayee(t *testing.T) {
	for _, decision := range []offchain.PreApprovalStatus{offchain.PreApprovalValid, offchain.PreApprovalRejected} {
		role, err := Reduce(decision, false, true, nil, statusPtr(offchain.PreApprovalPending))
		require.NoError(t, err)
		assert.Equal(t, offchain.RolePayee, role)

		assert.Equal(t, ReasonNoRecord,
			reduceReason(t, decision, false, true, nil, nil))
		assert.Equal(t, ReasonNotPayee,
			reduceReason(t, decision, true, false, statusPtr(offchain.PreApprovalPending), nil))
		assert.Equal(t, ReasonNotPending,
			reduceReason(t, decision, false, true, nil, statusPtr(offchain.PreApprovalValid)))
		assert.Equal(t, ReasonTerminal,
			reduceReason(t, decision, false, true, nil, statusPtr(offchain.PreApprovalRejected)))
	}
}

func TestReduceCloseSingleParty(t *testing.T) {
	role, err := Reduce(offchain.PreApprovalClosed, true, false, statusPtr(offchain.PreApprovalValid), nil)
	require.NoError(t, err)
	assert.Equal(t, offchain.RolePayer, role)

	role, err = Reduce(offchain.PreApprovalClosed, false, true, nil, statusPtr(offchain.PreApprovalPending))
	require.NoError(t, err)
	assert.Equal(t, offchain.RolePayee, role)

	assert.Equal(t, ReasonNoRecord,
		reduceReason(t, offchain.PreApprovalClosed, true, false, nil, nil))
	assert.Equal(t, ReasonTerminal,
		reduceReason(t, offchain.PreApprovalClosed, false, true, nil, statusPtr(offchain.PreApprovalClosed)))
}

func TestReduceCloseBothPartiesHostedHere(t *testing.T) {
	// One side already recorded the close; the other row advances.
	role, err := Reduce(offchain.PreApprovalClosed, true, true,
		statusPtr(offchain.PreApprovalValid), statusPtr(offchain.PreApprovalClosed))
	require.NoError(t, err)
	assert.Equal(t, offchain.RolePayer, role)

	role, err = Reduce(offchain.PreApprovalClosed, true, true,
		statusPtr(offchain.PreApprovalClosed), statusPtr(offchain.PreApprovalValid))
	require.NoError(t, err)
	assert.Equal(t, offchain.RolePayee, role)

	assert.Equal(t, ReasonTerminal,
		reduceReason(t, offchain.PreApprovalClosed, true, true,
			statusPtr(offchain.PreApprovalClosed), statusPtr(offchain.PreApprovalClosed)))
	assert.Equal(t, ReasonAmbiguousClose,
		reduceReason(t, offchain.PreApprovalClosed, true, true,
			statusPtr(offchain.PreApprovalValid), statusPtr(offchain.PreApprovalValid)))
}

func TestReduceNoLocalParty(t *testing.T) {
	for _, incoming := range allStatuses {
		assert.Equal(t, ReasonNoLocalParty,
			reduceReason(t, incoming, false, false,
				statusPtr(offchain.PreApprovalPending), statusPtr(offchain.PreApprovalPending)))
	}
}
