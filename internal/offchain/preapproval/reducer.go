// Package preapproval advances funds-pull consent records. The reducer
// assigns a role to every inbound pre-approval command; the machine
// applies the transition under that role's authority.
package preapproval

import (
	"fmt"

	"vasppay/internal/offchain"
)

// Reasons returned for illegal reducer tuples.
const (
	ReasonNoRecord       = "no pre-approval found for this id"
	ReasonNotPayer       = "only the payer may receive a new pre-approval request"
	ReasonNotPayee       = "only the payee may receive an approval decision"
	ReasonNotPending     = "pre-approval is not pending"
	ReasonAlreadyExists  = "a pre-approval with this id already exists"
	ReasonTerminal       = "pre-approval is already terminal"
	ReasonNoLocalParty   = "neither address belongs to this wallet"
	ReasonAmbiguousClose = "cannot determine which side is closing"
)

// priorAbsent marks a role with no stored row for the id.
const priorAbsent = "absent"

// allStatuses is the reducer's status domain.
var allStatuses = []offchain.PreApprovalStatus{
	offchain.PreApprovalPending,
	offchain.PreApprovalValid,
	offchain.PreApprovalRejected,
	offchain.PreApprovalClosed,
}

// allPriors is allStatuses plus the absent marker.
var allPriors = []string{
	priorAbsent,
	string(offchain.PreApprovalPending),
	string(offchain.PreApprovalValid),
	string(offchain.PreApprovalRejected),
	string(offchain.PreApprovalClosed),
}

// tupleKey identifies one cell of the transition table.
type tupleKey struct {
	Incoming   offchain.PreApprovalStatus
	PayerMine  bool
	PayeeMine  bool
	PriorPayer string
	PriorPayee string
}

// verdict is one cell's outcome: a role when the transition is legal,
// otherwise a constant reason.
type verdict struct {
	Role   offchain.Role
	Reason string
}

var table map[tupleKey]verdict

func init() {
	table = make(map[tupleKey]verdict)
	for _, incoming := range allStatuses {
		for _, payerMine := range []bool{false, true} {
			for _, payeeMine := range []bool{false, true} {
				for _, priorPayer := range allPriors {
					for _, priorPayee := range allPriors {
						k := tupleKey{incoming, payerMine, payeeMine, priorPayer, priorPayee}
						table[k] = classify(k)
					}
				}
			}
		}
	}
}

// classify fills one table cell. The verdict is state-based: the target
// role follows from the incoming status, and legality from that role's
// stored prior alone.
func classify(k tupleKey) verdict {
	if !k.PayerMine && !k.PayeeMine {
		return verdict{Reason: ReasonNoLocalParty}
	}

	switch k.Incoming {
	case offchain.PreApprovalPending:
		// A new or updated request addresses the payer.
		if !k.PayerMine {
			return verdict{Reason: ReasonNotPayer}
		}
		switch k.PriorPayer {
		case priorAbsent, string(offchain.PreApprovalPending):
			return verdict{Role: offchain.RolePayer}
		case string(offchain.PreApprovalValid):
			return verdict{Reason: ReasonAlreadyExists}
		default:
			return verdict{Reason: ReasonTerminal}
		}

	case offchain.PreApprovalValid, offchain.PreApprovalRejected:
		// The payer's decision addresses the payee.
		if !k.PayeeMine {
			return verdict{Reason: ReasonNotPayee}
		}
		switch k.PriorPayee {
		case priorAbsent:
			return verdict{Reason: ReasonNoRecord}
		case string(offchain.PreApprovalPending):
			return verdict{Role: offchain.RolePayee}
		case string(offchain.PreApprovalValid):
			return verdict{Reason: ReasonNotPending}
		default:
			return verdict{Reason: ReasonTerminal}
		}

	case offchain.PreApprovalClosed:
		return classifyClose(k)
	}

	panic(fmt.Sprintf("preapproval: no rule for incoming status %q", k.Incoming))
}

func classifyClose(k tupleKey) verdict {
	closable := func(prior string) bool {
		return prior == string(offchain.PreApprovalPending) || prior == string(offchain.PreApprovalValid)
	}

	if k.PayerMine && k.PayeeMine {
		// Both parties hosted here: the close was recorded on one
		// role's row and the other row now advances.
		payerClosed := k.PriorPayer == string(offchain.PreApprovalClosed)
		payeeClosed := k.PriorPayee == string(offchain.PreApprovalClosed)
		switch {
		case payerClosed && payeeClosed:
			return verdict{Reason: ReasonTerminal}
		case payeeClosed && closable(k.PriorPayer):
			return verdict{Role: offchain.RolePayer}
		case payerClosed && closable(k.PriorPayee):
			return verdict{Role: offchain.RolePayee}
		case payerClosed || payeeClosed:
			return verdict{Reason: ReasonTerminal}
		default:
			return verdict{Reason: ReasonAmbiguousClose}
		}
	}

	if k.PayerMine {
		switch {
		case k.PriorPayer == priorAbsent:
			return verdict{Reason: ReasonNoRecord}
		case closable(k.PriorPayer):
			return verdict{Role: offchain.RolePayer}
		default:
			return verdict{Reason: ReasonTerminal}
		}
	}

	switch {
	case k.PriorPayee == priorAbsent:
		return verdict{Reason: ReasonNoRecord}
	case closable(k.PriorPayee):
		return verdict{Role: offchain.RolePayee}
	default:
		return verdict{Reason: ReasonTerminal}
	}
}

// Reduce decides which role an inbound pre-approval command advances.
// Nil priors mean no stored row for that role. An illegal tuple returns
// an invalid_transition command error carrying the cell's reason.
func Reduce(incoming offchain.PreApprovalStatus, payerMine, payeeMine bool, priorPayer, priorPayee *offchain.PreApprovalStatus) (offchain.Role, error) {
	k := tupleKey{
		Incoming:   incoming,
		PayerMine:  payerMine,
		PayeeMine:  payeeMine,
		PriorPayer: priorKey(priorPayer),
		PriorPayee: priorKey(priorPayee),
	}
	v, ok := table[k]
	if !ok {
		panic(fmt.Sprintf("preapproval: transition table has no entry for %+v", k))
	}
	if v.Reason != "" {
		return "", offchain.NewCommandError(offchain.CodeInvalidTransition, v.Reason)
	}
	return v.Role, nil
}

func priorKey(s *offchain.PreApprovalStatus) string {
	if s == nil {
		return priorAbsent
	}
	return string(*s)
}
