package workflow

import "github.com/expenseflow/expenseflow/internal/models"

// Outcome is the result of evaluating the governing rule against the
// decisions recorded so far.
type Outcome int

const (
	// OutcomeContinue means the predicate is undecided and the chain advances.
	OutcomeContinue Outcome = iota
	// OutcomeApproved means the completion predicate is satisfied.
	OutcomeApproved
	// OutcomeRejected means the predicate can no longer be satisfied.
	OutcomeRejected
)

// String returns a readable name for logging
func (o Outcome) String() string {
	switch o {
	case OutcomeApproved:
		return "approved"
	case OutcomeRejected:
		return "rejected"
	default:
		return "continue"
	}
}

// tally summarizes the ledger rows of one expense.
type tally struct {
	approved int
	rejected int
	decided  int
	total    int // full chain length: materialized rows plus unresolved steps
}

func newTally(entries []*models.ExpenseApproval, chainLen int) tally {
	t := tally{total: chainLen}
	for _, entry := range entries {
		switch entry.Status {
		case models.StatusApproved:
			t.approved++
			t.decided++
		case models.StatusRejected:
			t.rejected++
			t.decided++
		}
	}
	return t
}

// remaining is the number of chain positions still undecided, counting both
// pending materialized rows and steps not yet materialized.
func (t tally) remaining() int {
	return t.total - t.decided
}

// thresholdMet reports whether approvals already reach pct% of the chain.
func (t tally) thresholdMet(pct int) bool {
	return t.total > 0 && t.approved*100 >= pct*t.total
}

// thresholdImpossible reports whether the threshold is out of reach even if
// every remaining approver approves.
func (t tally) thresholdImpossible(pct int) bool {
	return t.total == 0 || (t.approved+t.remaining())*100 < pct*t.total
}

// Evaluate computes the expense outcome after a decision. rule is nil when the
// company has no active rule, in which case the chain is sequential and
// unanimous: any rejection rejects, approval of every step approves.
//
// Evaluation happens at every step transition, so a percentage rule can
// resolve before the chain is exhausted in either direction.
func Evaluate(rule *models.RuleShape, entries []*models.ExpenseApproval, chainLen int) Outcome {
	t := newTally(entries, chainLen)

	if rule == nil {
		if t.rejected > 0 {
			return OutcomeRejected
		}
		if t.remaining() == 0 {
			return OutcomeApproved
		}
		return OutcomeContinue
	}

	switch rule.Type {
	case models.RuleTypePercentage:
		if t.thresholdMet(rule.Threshold) {
			return OutcomeApproved
		}
		if t.thresholdImpossible(rule.Threshold) {
			return OutcomeRejected
		}
		return OutcomeContinue

	case models.RuleTypeSpecificApprover:
		// Other steps are advisory; only the designated approver resolves.
		switch specificDecision(rule.ApproverID, entries) {
		case models.StatusApproved:
			return OutcomeApproved
		case models.StatusRejected:
			return OutcomeRejected
		}
		if t.remaining() == 0 {
			// Chain exhausted without the designated approver deciding.
			return OutcomeRejected
		}
		return OutcomeContinue

	case models.RuleTypeHybrid:
		// First satisfied path wins.
		if specificDecision(rule.ApproverID, entries) == models.StatusApproved {
			return OutcomeApproved
		}
		if t.thresholdMet(rule.Threshold) {
			return OutcomeApproved
		}
		specificRejected := specificDecision(rule.ApproverID, entries) == models.StatusRejected
		if specificRejected && t.thresholdImpossible(rule.Threshold) {
			return OutcomeRejected
		}
		if t.remaining() == 0 {
			return OutcomeRejected
		}
		return OutcomeContinue
	}

	// Unknown rule types never resolve an expense silently.
	return OutcomeContinue
}

// specificDecision returns the designated approver's decision, or "" while
// they have not decided.
func specificDecision(approverID int64, entries []*models.ExpenseApproval) string {
	for _, entry := range entries {
		if entry.ApproverID == approverID && entry.Status != models.StatusPending {
			return entry.Status
		}
	}
	return ""
}
