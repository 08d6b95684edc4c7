package dispatch

import "issue-service/internal/model"

type Group string

const (
	GroupOpen       Group = "open"
	GroupInProgress Group = "in_progress"
	GroupCompleted  Group = "completed"
)

var statusGroups = map[model.IssueStatus]Group{
	model.IssueStatusReported:   GroupOpen,
	model.IssueStatusAssigned:   GroupOpen,
	model.IssueStatusAccepted:   GroupInProgress,
	model.IssueStatusInProgress: GroupInProgress,
	model.IssueStatusEscalated:  GroupInProgress,
	model.IssueStatusResolved:   GroupCompleted,
	model.IssueStatusClosed:     GroupCompleted,
}

func GroupOf(status model.IssueStatus) Group {
	return statusGroups[status]
}

func ParseGroup(raw string) (Group, bool) {
	switch g := Group(raw); g {
	case GroupOpen, GroupInProgress, GroupCompleted:
		return g, true
	}
	return "", false
}

func Count(matches []model.DispatchedIssue) model.DispatchCounts {
	var counts model.DispatchCounts
	for _, m := range matches {
		switch GroupOf(m.Issue.Status) {
		case GroupOpen:
			counts.Open++
		case GroupInProgress:
			counts.InProgress++
		case GroupCompleted:
			counts.Completed++
		}
	}
	return counts
}

func FilterGroup(matches []model.DispatchedIssue, group Group) []model.DispatchedIssue {
	out := make([]model.DispatchedIssue, 0, len(matches))
	for _, m := range matches {
		if GroupOf(m.Issue.Status) == group {
			out = append(out, m)
		}
	}
	return out
}
