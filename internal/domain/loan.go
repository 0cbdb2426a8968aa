package domain

import (
	"time"
)

// LoanStatus defines the persisted status of a stock loan
type LoanStatus string

const (
	// LoanPending represents a requested loan awaiting the lender's decision
	LoanPending LoanStatus = "pending"
	// LoanAccepted represents a loan the lender accepted, possibly with a
	// counter-offered quantity
	LoanAccepted LoanStatus = "accepted"
	// LoanRejected represents a terminated loan; requires a reason
	LoanRejected LoanStatus = "rejected"
	// LoanConfirmed represents a loan whose approved quantity the borrower
	// explicitly confirmed
	LoanConfirmed LoanStatus = "confirmed"
	// LoanInTransit represents a loan whose pickup driver accepted the trip
	LoanInTransit LoanStatus = "in_transit"
	// LoanCollected represents stock handed off by the lender to the driver
	LoanCollected LoanStatus = "collected"
	// LoanActive represents stock received and in use at the borrower
	LoanActive LoanStatus = "active"
	// LoanReturnInitiated represents a return the borrower has started
	LoanReturnInitiated LoanStatus = "return_initiated"
	// LoanReturnAssigned represents a return with a driver assigned
	LoanReturnAssigned LoanStatus = "return_assigned"
	// LoanReturnInProgress represents returned stock on its way back
	LoanReturnInProgress LoanStatus = "return_in_progress"
	// LoanCompleted represents a fully returned loan
	LoanCompleted LoanStatus = "completed"
)

// legacyReturnInTransit is an alias some stored rows still carry for
// return_in_progress. Accepted on read only, never written.
const legacyReturnInTransit = "return_in_transit"

// loanTransitions is the single transition table the whole service
// dispatches through. Reject is handled separately: it is reachable from
// every non-terminal state.
var loanTransitions = map[LoanStatus][]LoanStatus{
	LoanPending:          {LoanAccepted},
	LoanAccepted:         {LoanConfirmed},
	LoanConfirmed:        {LoanInTransit},
	LoanInTransit:        {LoanCollected},
	LoanCollected:        {LoanActive},
	LoanActive:           {LoanReturnInitiated},
	LoanReturnInitiated:  {LoanReturnAssigned},
	LoanReturnAssigned:   {LoanReturnInProgress},
	LoanReturnInProgress: {LoanCompleted},
}

// CanTransitionLoan reports whether from -> to is a legal loan transition.
func CanTransitionLoan(from, to LoanStatus) bool {
	if to == LoanRejected {
		return !IsTerminalLoanStatus(from)
	}
	for _, next := range loanTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalLoanStatus reports whether a loan can never transition again.
func IsTerminalLoanStatus(s LoanStatus) bool {
	return s == LoanRejected || s == LoanCompleted
}

// NormalizeLoanStatus parses a stored status string, folding the legacy
// return_in_transit alias into return_in_progress. ok is false for values
// that are not loan statuses at all.
func NormalizeLoanStatus(s string) (LoanStatus, bool) {
	if s == legacyReturnInTransit {
		return LoanReturnInProgress, true
	}
	switch status := LoanStatus(s); status {
	case LoanPending, LoanAccepted, LoanRejected, LoanConfirmed,
		LoanInTransit, LoanCollected, LoanActive, LoanReturnInitiated,
		LoanReturnAssigned, LoanReturnInProgress, LoanCompleted:
		return status, true
	}
	return "", false
}

// LoanOverdue reports the derived overdue view: an active loan past its
// estimated return date. Overdue never changes the stored status.
func LoanOverdue(status LoanStatus, estimatedReturn time.Time, now time.Time) bool {
	return status == LoanActive && now.After(estimatedReturn)
}

// DaysOverdue returns the whole days an overdue loan is late, zero when the
// loan is not overdue.
func DaysOverdue(status LoanStatus, estimatedReturn time.Time, now time.Time) int {
	if !LoanOverdue(status, estimatedReturn, now) {
		return 0
	}
	return int(now.Sub(estimatedReturn).Hours() / 24)
}
