package service

import (
	"context"

	"github.com/google/uuid"

	"issue-service/internal/cache"
	"issue-service/internal/classifier"
	"issue-service/internal/geo"
	"issue-service/internal/model"
	"issue-service/internal/repository"
)

type IssueStore interface {
	Create(ctx context.Context, issue *model.Issue, logEntry *model.IssueStatusLog) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Issue, error)
	FindByReportID(ctx context.Context, reportID uuid.UUID) (*model.Issue, error)
	List(ctx context.Context, filter repository.IssueFilter) ([]model.Issue, error)
	ListForDispatch(ctx context.Context, scope model.DispatchScope) ([]model.Issue, error)
	Transition(ctx context.Context, t repository.Transition) error
	SetUpvote(ctx context.Context, issueID, userID uuid.UUID, on bool) error
	CountUpvotes(ctx context.Context, issueIDs []uuid.UUID) (map[uuid.UUID]int64, error)
	UpvotedBy(ctx context.Context, userID uuid.UUID, issueIDs []uuid.UUID) (map[uuid.UUID]bool, error)
	AddComment(ctx context.Context, comment *model.IssueComment) error
	ListComments(ctx context.Context, issueID uuid.UUID) ([]model.IssueComment, error)
	History(ctx context.Context, issueID uuid.UUID) ([]model.IssueStatusLog, error)
}

type WorkerStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Worker, error)
	List(ctx context.Context) ([]model.Worker, error)
	Upsert(ctx context.Context, worker *model.Worker) error
}

type Validator interface {
	Validate(ctx context.Context, report classifier.Report) (classifier.Verdict, error)
}

type EvidenceStore interface {
	Check(contentType string, data []byte) error
	Save(ctx context.Context, prefix, contentType string, data []byte) (string, error)
	Remove(ctx context.Context, url string) error
}

type SubmissionGuard interface {
	Reserve(ctx context.Context, reportID uuid.UUID) (cache.ReservationState, uuid.UUID, error)
	Bind(ctx context.Context, reportID, issueID uuid.UUID) error
	Release(ctx context.Context, reportID uuid.UUID) error
}

type PositionStore interface {
	Save(ctx context.Context, workerID uuid.UUID, p geo.Point) error
	Last(ctx context.Context, workerID uuid.UUID) (geo.Point, error)
}

// AssignmentPolicy picks a worker when an admin assigns without naming one.
type AssignmentPolicy interface {
	Pick(ctx context.Context, issue *model.Issue) (uuid.UUID, error)
}
