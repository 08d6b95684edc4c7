package dispatch

import (
	"sort"

	"issue-service/internal/geo"
	"issue-service/internal/model"
)

// RadiusPolicy maps a worker role to its dispatch radius in kilometres.
type RadiusPolicy map[model.WorkerRole]float64

// DefaultRadii is the single source of truth for role radii. Roles missing
// from the table get the field-staff radius.
var DefaultRadii = RadiusPolicy{
	model.WorkerRoleCommissioner: 60,
	model.WorkerRoleSupervisor:   20,
	model.WorkerRoleFieldStaff:   10,
}

func (p RadiusPolicy) Radius(role model.WorkerRole) float64 {
	if r, ok := p[role]; ok {
		return r
	}
	return p[model.WorkerRoleFieldStaff]
}

// DefaultCandidateLimit bounds how many issues one dispatch view loads.
const DefaultCandidateLimit = 1000

type Dispatcher struct {
	radii          RadiusPolicy
	candidateLimit int
}

func New(radii RadiusPolicy) *Dispatcher {
	if radii == nil {
		radii = DefaultRadii
	}
	return &Dispatcher{radii: radii, candidateLimit: DefaultCandidateLimit}
}

// WithCandidateLimit returns a copy of d loading at most n candidates per view.
func (d *Dispatcher) WithCandidateLimit(n int) *Dispatcher {
	cp := *d
	if n > 0 {
		cp.candidateLimit = n
	}
	return &cp
}

func (d *Dispatcher) RadiusFor(worker model.Worker) float64 {
	return d.radii.Radius(worker.Role)
}

// Scope builds the coarse storage-side filter for a worker standing at position.
func (d *Dispatcher) Scope(worker model.Worker, position geo.Point) model.DispatchScope {
	scope := model.DispatchScope{
		Center: position,
		Box:    geo.BoundingBox(position, d.RadiusFor(worker)),
		Limit:  d.candidateLimit,
	}
	if worker.IsCommissioner() {
		return scope
	}
	categories, all := worker.Departments.Categories()
	if !all {
		scope.Categories = categories
	}
	return scope
}

// Eligible reports whether issue is visible to worker at position, and how far away it is.
func (d *Dispatcher) Eligible(worker model.Worker, position geo.Point, issue *model.Issue) (float64, bool) {
	at, ok := issue.Coordinates()
	if !ok {
		return 0, false
	}
	if !worker.IsCommissioner() && !worker.Departments.Includes(issue.Category) {
		return 0, false
	}
	dist := geo.Distance(position, at)
	if dist > d.RadiusFor(worker) {
		return dist, false
	}
	return dist, true
}

// Visible returns the issues the worker may see, nearest first.
func (d *Dispatcher) Visible(worker model.Worker, position geo.Point, issues []model.Issue) []model.DispatchedIssue {
	out := make([]model.DispatchedIssue, 0, len(issues))
	for i := range issues {
		dist, ok := d.Eligible(worker, position, &issues[i])
		if !ok {
			continue
		}
		out = append(out, model.DispatchedIssue{Issue: issues[i], DistanceKm: dist})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DistanceKm < out[j].DistanceKm
	})
	return out
}
