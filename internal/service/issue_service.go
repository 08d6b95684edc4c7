package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"issue-service/internal/classifier"
	"issue-service/internal/geo"
	"issue-service/internal/lifecycle"
	"issue-service/internal/model"
	"issue-service/internal/repository"
	"issue-service/internal/verify"
)

const maxCommentLength = 2000

type IssueListOptions struct {
	Statuses   []model.IssueStatus
	Categories []model.Category
	Mine       bool
	Search     string
	Limit      int
	Offset     int
}

// ResolveInput is what a worker submits to close out field work.
type ResolveInput struct {
	Coordinates *geo.Point
	Photo       *classifier.Image
	Note        string
}

type IssueService struct {
	issues   IssueStore
	workers  WorkerStore
	evidence EvidenceStore
	verifier *verify.Verifier
	policy   AssignmentPolicy
	now      func() time.Time
	log      zerolog.Logger
}

func NewIssueService(
	issues IssueStore,
	workers WorkerStore,
	evidence EvidenceStore,
	verifier *verify.Verifier,
	policy AssignmentPolicy,
	log zerolog.Logger,
) *IssueService {
	return &IssueService{
		issues:   issues,
		workers:  workers,
		evidence: evidence,
		verifier: verifier,
		policy:   policy,
		now:      time.Now,
		log:      log.With().Str("component", "issues").Logger(),
	}
}

func (s *IssueService) List(ctx context.Context, principal model.Principal, opts IssueListOptions) ([]model.IssueRecord, error) {
	filter := repository.IssueFilter{
		Statuses:   opts.Statuses,
		Categories: opts.Categories,
		Search:     strings.TrimSpace(opts.Search),
		Limit:      opts.Limit,
		Offset:     opts.Offset,
	}
	if opts.Mine {
		userID := principal.UserID
		switch {
		case principal.IsCitizen():
			filter.ReportedBy = &userID
		case principal.IsWorker():
			filter.AcceptedBy = &userID
		}
	}

	issues, err := s.issues.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return s.records(ctx, principal, issues)
}

func (s *IssueService) Get(ctx context.Context, principal model.Principal, id uuid.UUID) (*model.IssueDetails, error) {
	issue, err := s.issues.GetByID(ctx, id)
	if err != nil {
		return nil, mapLookupError(err)
	}

	records, err := s.records(ctx, principal, []model.Issue{*issue})
	if err != nil {
		return nil, err
	}
	comments, err := s.issues.ListComments(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := s.issues.History(ctx, id)
	if err != nil {
		return nil, err
	}

	return &model.IssueDetails{
		IssueRecord: records[0],
		Comments:    comments,
		History:     history,
		Actions:     lifecycle.Allowed(issue, principal),
	}, nil
}

func (s *IssueService) History(ctx context.Context, id uuid.UUID) ([]model.IssueStatusLog, error) {
	if _, err := s.issues.GetByID(ctx, id); err != nil {
		return nil, mapLookupError(err)
	}
	return s.issues.History(ctx, id)
}

// SetUpvote sets or clears the caller's upvote and returns the refreshed record.
func (s *IssueService) SetUpvote(ctx context.Context, principal model.Principal, id uuid.UUID, on bool) (*model.IssueRecord, error) {
	issue, err := s.issues.GetByID(ctx, id)
	if err != nil {
		return nil, mapLookupError(err)
	}
	if err := s.issues.SetUpvote(ctx, id, principal.UserID, on); err != nil {
		return nil, err
	}
	records, err := s.records(ctx, principal, []model.Issue{*issue})
	if err != nil {
		return nil, err
	}
	return &records[0], nil
}

func (s *IssueService) AddComment(ctx context.Context, principal model.Principal, id uuid.UUID, message string) (*model.IssueComment, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, &FieldError{Field: "message", Message: "must not be empty"}
	}
	if utf8.RuneCountInString(message) > maxCommentLength {
		return nil, &FieldError{Field: "message", Message: fmt.Sprintf("must be at most %d characters", maxCommentLength)}
	}
	if _, err := s.issues.GetByID(ctx, id); err != nil {
		return nil, mapLookupError(err)
	}

	comment := &model.IssueComment{
		IssueID:    id,
		AuthorID:   principal.UserID,
		AuthorRole: principal.Role,
		Message:    message,
	}
	if err := s.issues.AddComment(ctx, comment); err != nil {
		return nil, err
	}
	return comment, nil
}

// Assign hands a reported issue to a worker. With no worker given, the
// configured assignment policy picks one.
func (s *IssueService) Assign(ctx context.Context, principal model.Principal, id uuid.UUID, workerID *uuid.UUID) (*model.Issue, error) {
	issue, err := s.load(ctx, principal, id, model.IssueStatusAssigned)
	if err != nil {
		return nil, err
	}

	var target uuid.UUID
	switch {
	case workerID != nil && *workerID != uuid.Nil:
		target = *workerID
	case s.policy == nil:
		return nil, ErrNoAssignmentPolicy
	default:
		target, err = s.policy.Pick(ctx, issue)
		if err != nil {
			return nil, fmt.Errorf("assignment policy: %w", err)
		}
	}

	worker, err := s.workers.GetByID(ctx, target)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &FieldError{Field: "worker_id", Message: "worker is not on the active roster"}
		}
		return nil, err
	}
	if !worker.IsCommissioner() && !worker.Departments.Includes(issue.Category) {
		return nil, &FieldError{Field: "worker_id", Message: "worker does not cover this category"}
	}

	return s.apply(ctx, principal, issue, model.IssueStatusAssigned, "assigned", map[string]interface{}{
		"assigned_to": worker.ID,
	})
}

// Accept claims the issue for the calling worker. Exactly one of several
// concurrent callers wins; the rest get ErrAcceptConflict.
func (s *IssueService) Accept(ctx context.Context, principal model.Principal, id uuid.UUID) (*model.Issue, error) {
	if err := s.requireRoster(ctx, principal); err != nil {
		return nil, err
	}
	issue, err := s.issues.GetByID(ctx, id)
	if err != nil {
		return nil, mapLookupError(err)
	}
	if issue.AcceptedBy != nil && *issue.AcceptedBy != principal.UserID {
		return nil, ErrAcceptConflict
	}
	if err := lifecycle.Check(issue, principal, model.IssueStatusAccepted); err != nil {
		return nil, mapGuardError(err)
	}

	updated, err := s.apply(ctx, principal, issue, model.IssueStatusAccepted, "accepted", map[string]interface{}{
		"accepted_by": principal.UserID,
	})
	if errors.Is(err, ErrConflict) {
		current, lookupErr := s.issues.GetByID(ctx, id)
		if lookupErr == nil && current.AcceptedBy != nil && *current.AcceptedBy != principal.UserID {
			return nil, ErrAcceptConflict
		}
	}
	return updated, err
}

func (s *IssueService) Start(ctx context.Context, principal model.Principal, id uuid.UUID) (*model.Issue, error) {
	issue, err := s.load(ctx, principal, id, model.IssueStatusInProgress, model.IssueStatusAccepted)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, principal, issue, model.IssueStatusInProgress, "work started", nil)
}

func (s *IssueService) Escalate(ctx context.Context, principal model.Principal, id uuid.UUID, reason string) (*model.Issue, error) {
	issue, err := s.load(ctx, principal, id, model.IssueStatusEscalated)
	if err != nil {
		return nil, err
	}
	note := strings.TrimSpace(reason)
	if note == "" {
		note = "escalated"
	}
	return s.apply(ctx, principal, issue, model.IssueStatusEscalated, note, nil)
}

func (s *IssueService) Reengage(ctx context.Context, principal model.Principal, id uuid.UUID) (*model.Issue, error) {
	issue, err := s.load(ctx, principal, id, model.IssueStatusInProgress, model.IssueStatusEscalated)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, principal, issue, model.IssueStatusInProgress, "re-engaged", nil)
}

// Resolve marks field work complete. The worker's coordinates must be within
// the verifier's threshold of the reported location.
func (s *IssueService) Resolve(ctx context.Context, principal model.Principal, id uuid.UUID, input ResolveInput) (*model.Issue, error) {
	issue, err := s.load(ctx, principal, id, model.IssueStatusResolved)
	if err != nil {
		return nil, err
	}

	if input.Photo != nil {
		if err := s.evidence.Check(input.Photo.ContentType, input.Photo.Data); err != nil {
			return nil, &FieldError{Field: "photo", Message: err.Error()}
		}
	}

	res := s.verifier.Verify(issue, verify.Attempt{Coordinates: input.Coordinates})
	if !res.Accepted() {
		if res.DistanceMeters > 0 {
			return nil, &TooFarError{DistanceMeters: res.DistanceMeters, ThresholdMeters: s.verifier.ThresholdMeters}
		}
		return nil, &FieldError{Field: "coordinates", Message: res.Reason}
	}

	var photoURL *string
	if input.Photo != nil {
		url, err := s.evidence.Save(ctx, "resolutions", input.Photo.ContentType, input.Photo.Data)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Error().Err(err).Str("issue_id", id.String()).Msg("resolution photo upload failed, resolving without photo")
		} else {
			photoURL = &url
		}
	}

	note := strings.TrimSpace(input.Note)
	if note == "" {
		note = "resolved on site"
	}
	at := *input.Coordinates
	err = s.transition(ctx, principal, issue, model.IssueStatusResolved, note, map[string]interface{}{
		"accepted_by":          nil,
		"resolved_by":          principal.UserID,
		"resolved_at":          s.now().UTC(),
		"resolution_latitude":  at.Lat,
		"resolution_longitude": at.Lng,
		"resolution_photo_url": photoURL,
	})
	if err != nil {
		if photoURL != nil {
			discardEvidence(ctx, s.evidence, s.log, *photoURL)
		}
		return nil, err
	}
	return s.reload(ctx, id)
}

// Close is the reporter's confirmation that the resolution holds.
func (s *IssueService) Close(ctx context.Context, principal model.Principal, id uuid.UUID) (*model.Issue, error) {
	issue, err := s.load(ctx, principal, id, model.IssueStatusClosed)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, principal, issue, model.IssueStatusClosed, "closed by reporter", nil)
}

// load reads the issue and checks the transition to to. When from is given
// the issue must currently be in one of those statuses.
func (s *IssueService) load(ctx context.Context, principal model.Principal, id uuid.UUID, to model.IssueStatus, from ...model.IssueStatus) (*model.Issue, error) {
	issue, err := s.issues.GetByID(ctx, id)
	if err != nil {
		return nil, mapLookupError(err)
	}
	if len(from) > 0 && !containsStatus(from, issue.Status) {
		return nil, fmt.Errorf("%w: issue is %s", ErrInvalidStatus, issue.Status)
	}
	if err := lifecycle.Check(issue, principal, to); err != nil {
		return nil, mapGuardError(err)
	}
	return issue, nil
}

// apply persists a checked transition and returns the issue as stored.
func (s *IssueService) apply(ctx context.Context, principal model.Principal, issue *model.Issue, to model.IssueStatus, note string, set map[string]interface{}) (*model.Issue, error) {
	if err := s.transition(ctx, principal, issue, to, note, set); err != nil {
		return nil, err
	}
	return s.reload(ctx, issue.ID)
}

func (s *IssueService) reload(ctx context.Context, id uuid.UUID) (*model.Issue, error) {
	updated, err := s.issues.GetByID(ctx, id)
	if err != nil {
		return nil, mapLookupError(err)
	}
	return updated, nil
}

// transition writes a checked status change. The storage-side condition
// repeats the guards so a concurrent change turns into ErrConflict instead of
// a lost update.
func (s *IssueService) transition(ctx context.Context, principal model.Principal, issue *model.Issue, to model.IssueStatus, note string, set map[string]interface{}) error {
	t := repository.Transition{
		IssueID:   issue.ID,
		From:      issue.Status,
		To:        to,
		Set:       set,
		Note:      note,
		ChangedBy: principal.UserID,
	}
	switch {
	case to == model.IssueStatusAccepted:
		t.Unclaimed = true
	case issue.Status.HoldsAcceptance() && issue.AcceptedBy != nil:
		holder := *issue.AcceptedBy
		t.HeldBy = &holder
	}

	if err := s.issues.Transition(ctx, t); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return fmt.Errorf("%w: issue changed since it was read", ErrConflict)
		}
		return err
	}

	s.log.Info().
		Str("issue_id", issue.ID.String()).
		Str("from", string(issue.Status)).
		Str("to", string(to)).
		Str("by", principal.UserID.String()).
		Msg("issue transitioned")
	return nil
}

func (s *IssueService) requireRoster(ctx context.Context, principal model.Principal) error {
	if !principal.IsWorker() {
		return nil
	}
	if _, err := s.workers.GetByID(ctx, principal.UserID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotOnRoster
		}
		return err
	}
	return nil
}

func (s *IssueService) records(ctx context.Context, principal model.Principal, issues []model.Issue) ([]model.IssueRecord, error) {
	ids := make([]uuid.UUID, len(issues))
	for i := range issues {
		ids[i] = issues[i].ID
	}
	counts, err := s.issues.CountUpvotes(ctx, ids)
	if err != nil {
		return nil, err
	}
	voted, err := s.issues.UpvotedBy(ctx, principal.UserID, ids)
	if err != nil {
		return nil, err
	}

	records := make([]model.IssueRecord, len(issues))
	for i := range issues {
		records[i] = model.IssueRecord{
			Issue:      issues[i],
			Upvotes:    counts[issues[i].ID],
			HasUpvoted: voted[issues[i].ID],
		}
	}
	return records, nil
}

func containsStatus(list []model.IssueStatus, status model.IssueStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}

func mapGuardError(err error) error {
	switch {
	case errors.Is(err, lifecycle.ErrAlreadyClaimed):
		return ErrAcceptConflict
	case errors.Is(err, lifecycle.ErrNotOwner), errors.Is(err, lifecycle.ErrNotPermitted):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, lifecycle.ErrGuardViolation):
		return fmt.Errorf("%w: %v", ErrInvalidStatus, err)
	}
	return err
}
