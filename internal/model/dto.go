package model

import "issue-service/internal/geo"

type IssueRecord struct {
	Issue      Issue `json:"issue"`
	Upvotes    int64 `json:"upvotes"`
	HasUpvoted bool  `json:"has_upvoted"`
}

type IssueDetails struct {
	IssueRecord
	Comments []IssueComment   `json:"comments"`
	History  []IssueStatusLog `json:"history"`
	// Actions lists the statuses the caller may move the issue to.
	Actions []IssueStatus `json:"actions"`
}

type DispatchedIssue struct {
	Issue      Issue   `json:"issue"`
	DistanceKm float64 `json:"distance_km"`
}

type DispatchCounts struct {
	Open       int `json:"open"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
}

type DispatchView struct {
	Worker        Worker            `json:"worker"`
	Position      geo.Point         `json:"position"`
	LocationState string            `json:"location_state"`
	Degraded      bool              `json:"degraded"`
	RadiusKm      float64           `json:"radius_km"`
	Counts        DispatchCounts    `json:"counts"`
	Issues        []DispatchedIssue `json:"issues"`
}
