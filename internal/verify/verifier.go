package verify

import (
	"fmt"

	"issue-service/internal/geo"
	"issue-service/internal/model"
)

const DefaultThresholdMeters = 50.0

type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// Attempt is what the worker submits when marking an issue resolved.
type Attempt struct {
	Coordinates *geo.Point
	PhotoURL    *string
}

type Result struct {
	Outcome        Outcome
	Reason         string
	DistanceMeters float64
}

func (r Result) Accepted() bool {
	return r.Outcome == OutcomeAccepted
}

type Verifier struct {
	ThresholdMeters float64
}

func New(thresholdMeters float64) *Verifier {
	if thresholdMeters <= 0 {
		thresholdMeters = DefaultThresholdMeters
	}
	return &Verifier{ThresholdMeters: thresholdMeters}
}

// Verify checks that the resolver is standing close enough to the reported location.
func (v *Verifier) Verify(issue *model.Issue, attempt Attempt) Result {
	if attempt.Coordinates == nil || !attempt.Coordinates.Valid() {
		return Result{Outcome: OutcomeRejected, Reason: "resolution coordinates are required"}
	}
	reported, ok := issue.Coordinates()
	if !ok {
		return Result{Outcome: OutcomeRejected, Reason: "issue has no reported location"}
	}

	dist := geo.DistanceMeters(reported, *attempt.Coordinates)
	if dist > v.ThresholdMeters {
		return Result{
			Outcome:        OutcomeRejected,
			Reason:         fmt.Sprintf("resolver is %.0f m from the reported location (limit %.0f m)", dist, v.ThresholdMeters),
			DistanceMeters: dist,
		}
	}
	return Result{Outcome: OutcomeAccepted, DistanceMeters: dist}
}
