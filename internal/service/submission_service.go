package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"issue-service/internal/cache"
	"issue-service/internal/classifier"
	"issue-service/internal/geo"
	"issue-service/internal/model"
)

const (
	minTitleLength       = 5
	minDescriptionLength = 10
	maxTitleLength       = 200
)

// Draft is a citizen's report as it arrives from the client.
type Draft struct {
	ReportID     *uuid.UUID
	Title        string
	Description  string
	LocationName string
	Coordinates  *geo.Point
	Image        *classifier.Image
	ImageCaption string
}

type SubmissionResult struct {
	Issue   *model.Issue
	Verdict classifier.Kind
	// Replayed is set when the report id had already produced an issue.
	Replayed bool
	// ImageDropped is set when the evidence upload failed and the issue was stored without it.
	ImageDropped bool
}

type SubmissionService struct {
	issues    IssueStore
	validator Validator
	evidence  EvidenceStore
	guard     SubmissionGuard
	log       zerolog.Logger
}

func NewSubmissionService(
	issues IssueStore,
	validator Validator,
	evidence EvidenceStore,
	guard SubmissionGuard,
	log zerolog.Logger,
) *SubmissionService {
	return &SubmissionService{
		issues:    issues,
		validator: validator,
		evidence:  evidence,
		guard:     guard,
		log:       log.With().Str("component", "submission").Logger(),
	}
}

// Submit validates a draft locally, asks the classifier for a verdict and only
// then uploads evidence and persists the issue.
func (s *SubmissionService) Submit(ctx context.Context, principal model.Principal, draft Draft) (*SubmissionResult, error) {
	if !principal.IsCitizen() {
		return nil, ErrPermissionDenied
	}

	title := strings.TrimSpace(draft.Title)
	description := strings.TrimSpace(draft.Description)
	if err := s.checkDraft(title, description, draft); err != nil {
		return nil, err
	}

	reportID := uuid.New()
	if draft.ReportID != nil && *draft.ReportID != uuid.Nil {
		reportID = *draft.ReportID
	}

	state, existingID, err := s.guard.Reserve(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("reserve report id: %w", err)
	}
	switch state {
	case cache.ReservationDone:
		issue, err := s.issues.GetByID(ctx, existingID)
		if err != nil {
			return nil, mapLookupError(err)
		}
		return &SubmissionResult{Issue: issue, Verdict: verdictOf(issue), Replayed: true}, nil
	case cache.ReservationPending:
		return nil, fmt.Errorf("%w: report %s is already being submitted", ErrConflict, reportID)
	}

	result, err := s.submit(ctx, principal, reportID, title, description, draft)
	if err != nil {
		if releaseErr := s.guard.Release(context.WithoutCancel(ctx), reportID); releaseErr != nil {
			s.log.Warn().Err(releaseErr).Str("report_id", reportID.String()).Msg("failed to release submission reservation")
		}
		return nil, err
	}

	if err := s.guard.Bind(context.WithoutCancel(ctx), reportID, result.Issue.ID); err != nil {
		s.log.Warn().Err(err).Str("report_id", reportID.String()).Msg("failed to bind submission reservation")
	}
	return result, nil
}

func (s *SubmissionService) submit(ctx context.Context, principal model.Principal, reportID uuid.UUID, title, description string, draft Draft) (*SubmissionResult, error) {
	verdict, err := s.validator.Validate(ctx, classifier.Report{
		ReportID:    reportID,
		Description: description,
		UserID:      principal.UserID,
		Location:    *draft.Coordinates,
		Image:       draft.Image,
	})
	if err != nil {
		return nil, err
	}

	at := *draft.Coordinates
	issue := &model.Issue{
		ReportID:     reportID,
		Title:        title,
		Description:  description,
		Category:     model.CategoryOther,
		Priority:     model.PriorityMedium,
		Status:       model.IssueStatusReported,
		ClassifiedBy: model.ClassifiedByDefault,
		LocationName: strings.TrimSpace(draft.LocationName),
		Latitude:     &at.Lat,
		Longitude:    &at.Lng,
		ReportedBy:   principal.UserID,
	}

	switch verdict.Kind {
	case classifier.KindRejected:
		return nil, &RejectionError{Reason: verdict.Reason}
	case classifier.KindAccepted:
		if verdict.Category != "" {
			issue.Category = verdict.Category
		}
		issue.Priority = model.PriorityMedium.Max(verdict.Priority)
		issue.ClassifiedBy = model.ClassifiedByGateway
	default:
		s.log.Warn().
			Str("report_id", reportID.String()).
			Int("attempts", verdict.Attempts).
			Str("reason", verdict.Reason).
			Msg("classifier unavailable, storing report with default category")
	}

	result := &SubmissionResult{Issue: issue, Verdict: verdict.Kind}

	if draft.Image != nil {
		url, err := s.evidence.Save(ctx, "issues", draft.Image.ContentType, draft.Image.Data)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Error().Err(err).Str("report_id", reportID.String()).Msg("evidence upload failed, storing report without image")
			result.ImageDropped = true
		} else {
			issue.Images = []model.IssueImage{{URL: url, Caption: strings.TrimSpace(draft.ImageCaption)}}
		}
	}

	logEntry := &model.IssueStatusLog{
		NewStatus: model.IssueStatusReported,
		Note:      "reported",
		ChangedBy: &principal.UserID,
	}
	if err := s.issues.Create(ctx, issue, logEntry); err != nil {
		for _, img := range issue.Images {
			discardEvidence(ctx, s.evidence, s.log, img.URL)
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, findErr := s.issues.FindByReportID(ctx, reportID)
			if findErr != nil {
				return nil, mapLookupError(findErr)
			}
			return &SubmissionResult{Issue: existing, Verdict: verdict.Kind, Replayed: true}, nil
		}
		return nil, err
	}

	return result, nil
}

func (s *SubmissionService) checkDraft(title, description string, draft Draft) error {
	if n := utf8.RuneCountInString(title); n < minTitleLength {
		return &FieldError{Field: "title", Message: fmt.Sprintf("must be at least %d characters", minTitleLength)}
	} else if n > maxTitleLength {
		return &FieldError{Field: "title", Message: fmt.Sprintf("must be at most %d characters", maxTitleLength)}
	}
	if utf8.RuneCountInString(description) < minDescriptionLength {
		return &FieldError{Field: "description", Message: fmt.Sprintf("must be at least %d characters", minDescriptionLength)}
	}
	if draft.Coordinates == nil {
		return &FieldError{Field: "coordinates", Message: "location is required"}
	}
	if !draft.Coordinates.Valid() {
		return &FieldError{Field: "coordinates", Message: "latitude or longitude out of range"}
	}
	if draft.Image != nil {
		if err := s.evidence.Check(draft.Image.ContentType, draft.Image.Data); err != nil {
			return &FieldError{Field: "image", Message: err.Error()}
		}
	}
	return nil
}

func verdictOf(issue *model.Issue) classifier.Kind {
	if issue.ClassifiedBy == model.ClassifiedByGateway {
		return classifier.KindAccepted
	}
	return classifier.KindUnavailable
}

func mapLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// discardEvidence removes a file whose issue was never written.
func discardEvidence(ctx context.Context, store EvidenceStore, log zerolog.Logger, url string) {
	if err := store.Remove(context.WithoutCancel(ctx), url); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("could not remove orphaned evidence")
	}
}
