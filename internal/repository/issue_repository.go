package repository

import (
	"context"
	"errors"
	"math"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"issue-service/internal/geo"
	"issue-service/internal/model"
)

// ErrStaleState is returned when a conditional update matched no row because
// the issue moved on since it was read.
var ErrStaleState = errors.New("issue state changed concurrently")

const (
	defaultListLimit     = 50
	maxListLimit         = 200
	maxDispatchCandidate = 1000
)

type IssueRepository struct {
	db *gorm.DB
}

func NewIssueRepository(db *gorm.DB) *IssueRepository {
	return &IssueRepository{db: db}
}

type IssueFilter struct {
	Statuses   []model.IssueStatus
	Categories []model.Category
	ReportedBy *uuid.UUID
	AssignedTo *uuid.UUID
	AcceptedBy *uuid.UUID
	Search     string
	Limit      int
	Offset     int
}

// Create stores a new issue with its images and the initial status log row.
func (r *IssueRepository) Create(ctx context.Context, issue *model.Issue, logEntry *model.IssueStatusLog) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(issue).Error; err != nil {
			return err
		}
		if len(issue.Images) > 0 {
			for i := range issue.Images {
				issue.Images[i].IssueID = issue.ID
				issue.Images[i].Position = i
			}
			if err := tx.Create(&issue.Images).Error; err != nil {
				return err
			}
		}
		logEntry.IssueID = issue.ID
		return tx.Create(logEntry).Error
	})
}

func (r *IssueRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Issue, error) {
	var issue model.Issue
	err := r.db.WithContext(ctx).
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&issue, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

func (r *IssueRepository) FindByReportID(ctx context.Context, reportID uuid.UUID) (*model.Issue, error) {
	var issue model.Issue
	err := r.db.WithContext(ctx).
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&issue, "report_id = ?", reportID).Error
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

func (r *IssueRepository) List(ctx context.Context, filter IssueFilter) ([]model.Issue, error) {
	query := r.db.WithContext(ctx).Model(&model.Issue{})

	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if len(filter.Categories) > 0 {
		query = query.Where("category IN ?", filter.Categories)
	}
	if filter.ReportedBy != nil {
		query = query.Where("reported_by = ?", *filter.ReportedBy)
	}
	if filter.AssignedTo != nil {
		query = query.Where("assigned_to = ?", *filter.AssignedTo)
	}
	if filter.AcceptedBy != nil {
		query = query.Where("accepted_by = ?", *filter.AcceptedBy)
	}
	if filter.Search != "" {
		search := "%" + filter.Search + "%"
		query = query.Where("(title ILIKE ? OR description ILIKE ? OR location_name ILIKE ?)", search, search, search)
	}

	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	switch {
	case filter.Limit <= 0:
		query = query.Limit(defaultListLimit)
	case filter.Limit > maxListLimit:
		query = query.Limit(maxListLimit)
	default:
		query = query.Limit(filter.Limit)
	}

	var issues []model.Issue
	if err := query.
		Order("created_at DESC").
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Find(&issues).Error; err != nil {
		return nil, err
	}
	return issues, nil
}

// ListForDispatch loads the coarse candidate set for a dispatch scope,
// nearest to scope.Center first. The exact radius check happens in memory on
// the result.
func (r *IssueRepository) ListForDispatch(ctx context.Context, scope model.DispatchScope) ([]model.Issue, error) {
	query := r.db.WithContext(ctx).
		Model(&model.Issue{}).
		Where("latitude IS NOT NULL AND longitude IS NOT NULL").
		Where("latitude BETWEEN ? AND ?", scope.Box.MinLat, scope.Box.MaxLat).
		Where("longitude BETWEEN ? AND ?", scope.Box.MinLng, scope.Box.MaxLng)

	query = applyCategoryScope(query, scope)

	if len(scope.Statuses) > 0 {
		query = query.Where("status IN ?", scope.Statuses)
	}

	limit := scope.Limit
	if limit <= 0 || limit > maxDispatchCandidate {
		limit = maxDispatchCandidate
	}

	var issues []model.Issue
	if err := query.
		Order(proximityOrder(scope.Center)).
		Limit(limit).
		Find(&issues).Error; err != nil {
		return nil, err
	}
	return issues, nil
}

// proximityOrder sorts by equirectangular distance, which ranks points the
// same way haversine does at city scale.
func proximityOrder(center geo.Point) clause.OrderBy {
	scale := math.Cos(center.Lat * math.Pi / 180)
	return clause.OrderBy{Expression: clause.Expr{
		SQL:                "(latitude - ?) * (latitude - ?) + (longitude - ?) * (longitude - ?) * ?",
		Vars:               []interface{}{center.Lat, center.Lat, center.Lng, center.Lng, scale * scale},
		WithoutParentheses: true,
	}}
}

// Transition is a conditional status change. It only applies while the row
// still has status From and, when set, the accepted_by condition holds.
type Transition struct {
	IssueID   uuid.UUID
	From      model.IssueStatus
	To        model.IssueStatus
	Unclaimed bool
	HeldBy    *uuid.UUID
	Set       map[string]interface{}
	Note      string
	ChangedBy uuid.UUID
}

func (r *IssueRepository) Transition(ctx context.Context, t Transition) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&model.Issue{}).
			Where("id = ?", t.IssueID).
			Where("status = ?", t.From)
		if t.Unclaimed {
			query = query.Where("accepted_by IS NULL")
		}
		if t.HeldBy != nil {
			query = query.Where("accepted_by = ?", *t.HeldBy)
		}

		updates := map[string]interface{}{"status": t.To}
		for k, v := range t.Set {
			updates[k] = v
		}

		res := query.Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleState
		}

		from := t.From
		changedBy := t.ChangedBy
		return tx.Create(&model.IssueStatusLog{
			IssueID:   t.IssueID,
			OldStatus: &from,
			NewStatus: t.To,
			Note:      t.Note,
			ChangedBy: &changedBy,
		}).Error
	})
}

// SetUpvote adds or removes the user's upvote. Both directions are idempotent.
func (r *IssueRepository) SetUpvote(ctx context.Context, issueID, userID uuid.UUID, on bool) error {
	db := r.db.WithContext(ctx)
	if on {
		return db.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&model.IssueUpvote{IssueID: issueID, UserID: userID}).Error
	}
	return db.Where("issue_id = ? AND user_id = ?", issueID, userID).
		Delete(&model.IssueUpvote{}).Error
}

func (r *IssueRepository) CountUpvotes(ctx context.Context, issueIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	counts := make(map[uuid.UUID]int64, len(issueIDs))
	if len(issueIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		IssueID uuid.UUID
		Total   int64
	}
	if err := r.db.WithContext(ctx).
		Model(&model.IssueUpvote{}).
		Select("issue_id, COUNT(*) AS total").
		Where("issue_id IN ?", issueIDs).
		Group("issue_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.IssueID] = row.Total
	}
	return counts, nil
}

func (r *IssueRepository) UpvotedBy(ctx context.Context, userID uuid.UUID, issueIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	voted := make(map[uuid.UUID]bool, len(issueIDs))
	if len(issueIDs) == 0 {
		return voted, nil
	}

	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&model.IssueUpvote{}).
		Where("user_id = ? AND issue_id IN ?", userID, issueIDs).
		Pluck("issue_id", &ids).Error; err != nil {
		return nil, err
	}
	for _, id := range ids {
		voted[id] = true
	}
	return voted, nil
}

func (r *IssueRepository) AddComment(ctx context.Context, comment *model.IssueComment) error {
	return r.db.WithContext(ctx).Create(comment).Error
}

func (r *IssueRepository) ListComments(ctx context.Context, issueID uuid.UUID) ([]model.IssueComment, error) {
	var comments []model.IssueComment
	if err := r.db.WithContext(ctx).
		Where("issue_id = ?", issueID).
		Order("created_at ASC").
		Find(&comments).Error; err != nil {
		return nil, err
	}
	return comments, nil
}

func (r *IssueRepository) History(ctx context.Context, issueID uuid.UUID) ([]model.IssueStatusLog, error) {
	var entries []model.IssueStatusLog
	if err := r.db.WithContext(ctx).
		Where("issue_id = ?", issueID).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func applyCategoryScope(query *gorm.DB, scope model.DispatchScope) *gorm.DB {
	if scope.Categories == nil {
		return query
	}
	if len(scope.Categories) == 0 {
		return query.Where("1=0")
	}
	return query.Where("category IN ?", scope.Categories)
}
