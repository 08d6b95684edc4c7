package model

import "issue-service/internal/geo"

// DispatchScope narrows the candidate issues loaded for a worker before the
// exact geofence check runs in memory.
type DispatchScope struct {
	Center geo.Point
	Box    geo.Box
	// Limit caps the candidates loaded, nearest to Center first.
	Limit int
	// Categories is nil for workers that see every department.
	Categories []Category
	Statuses   []IssueStatus
}

func (s DispatchScope) AllowsCategory(c Category) bool {
	if s.Categories == nil {
		return true
	}
	for _, allowed := range s.Categories {
		if allowed == c {
			return true
		}
	}
	return false
}
