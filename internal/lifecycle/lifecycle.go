package lifecycle

import (
	"errors"
	"fmt"
	"sort"

	"issue-service/internal/model"
)

var (
	ErrGuardViolation = errors.New("guard violation")
	ErrNotPermitted   = fmt.Errorf("%w: role may not perform this transition", ErrGuardViolation)
	ErrNotOwner       = fmt.Errorf("%w: caller does not hold the issue", ErrGuardViolation)
	ErrAlreadyClaimed = fmt.Errorf("%w: issue already accepted by another worker", ErrGuardViolation)
)

type Guard int

const (
	GuardNone Guard = iota
	// GuardUnclaimed requires accepted_by to be empty; storage re-checks it atomically.
	GuardUnclaimed
	GuardAcceptedBy
	GuardReporter
)

// Rule lists which roles may take a transition and the guard each must pass.
type Rule map[model.UserRole]Guard

// Every legal edge of the issue graph. Creation into reported is owned by
// the submission flow and is not an edge here. No admin rule reaches resolved.
var transitions = map[model.IssueStatus]map[model.IssueStatus]Rule{
	model.IssueStatusReported: {
		model.IssueStatusAssigned: {model.UserRoleAdmin: GuardNone},
		model.IssueStatusAccepted: {model.UserRoleWorker: GuardUnclaimed},
	},
	model.IssueStatusAssigned: {
		model.IssueStatusAccepted: {model.UserRoleWorker: GuardUnclaimed},
	},
	model.IssueStatusAccepted: {
		model.IssueStatusInProgress: {model.UserRoleWorker: GuardAcceptedBy},
	},
	model.IssueStatusInProgress: {
		model.IssueStatusEscalated: {model.UserRoleAdmin: GuardNone, model.UserRoleWorker: GuardNone},
		model.IssueStatusResolved:  {model.UserRoleWorker: GuardAcceptedBy},
	},
	model.IssueStatusEscalated: {
		model.IssueStatusInProgress: {model.UserRoleAdmin: GuardNone, model.UserRoleWorker: GuardAcceptedBy},
	},
	model.IssueStatusResolved: {
		model.IssueStatusClosed: {model.UserRoleCitizen: GuardReporter},
	},
}

// Check validates that principal may move issue to the target status. It never mutates issue.
func Check(issue *model.Issue, principal model.Principal, to model.IssueStatus) error {
	edges, ok := transitions[issue.Status]
	if !ok {
		return fmt.Errorf("%s -> %s: %w", issue.Status, to, ErrGuardViolation)
	}
	rule, ok := edges[to]
	if !ok {
		return fmt.Errorf("%s -> %s: %w", issue.Status, to, ErrGuardViolation)
	}
	guard, ok := rule[principal.Role]
	if !ok {
		return fmt.Errorf("%s -> %s: %w", issue.Status, to, ErrNotPermitted)
	}

	switch guard {
	case GuardUnclaimed:
		if issue.AcceptedBy != nil {
			return fmt.Errorf("%s -> %s: %w", issue.Status, to, ErrAlreadyClaimed)
		}
	case GuardAcceptedBy:
		if issue.AcceptedBy == nil || *issue.AcceptedBy != principal.UserID {
			return fmt.Errorf("%s -> %s: %w", issue.Status, to, ErrNotOwner)
		}
	case GuardReporter:
		if issue.ReportedBy != principal.UserID {
			return fmt.Errorf("%s -> %s: %w", issue.Status, to, ErrNotOwner)
		}
	}
	return nil
}

// Allowed lists the statuses principal could move issue into right now.
func Allowed(issue *model.Issue, principal model.Principal) []model.IssueStatus {
	out := make([]model.IssueStatus, 0)
	for to := range transitions[issue.Status] {
		if Check(issue, principal, to) == nil {
			out = append(out, to)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
