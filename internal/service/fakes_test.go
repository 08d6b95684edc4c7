package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"issue-service/internal/cache"
	"issue-service/internal/classifier"
	"issue-service/internal/geo"
	"issue-service/internal/model"
	"issue-service/internal/repository"
)

// events records the order in which collaborators were called.
type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(name string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.list = append(e.list, name)
	e.mu.Unlock()
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.list...)
}

type memoryIssues struct {
	mu       sync.Mutex
	issues   map[uuid.UUID]model.Issue
	logs     []model.IssueStatusLog
	upvotes  map[uuid.UUID]map[uuid.UUID]bool
	comments []model.IssueComment
	events   *events
}

func newMemoryIssues(ev *events) *memoryIssues {
	return &memoryIssues{
		issues:  make(map[uuid.UUID]model.Issue),
		upvotes: make(map[uuid.UUID]map[uuid.UUID]bool),
		events:  ev,
	}
}

func (m *memoryIssues) put(issue model.Issue) *model.Issue {
	m.mu.Lock()
	defer m.mu.Unlock()
	if issue.ID == uuid.Nil {
		issue.ID = uuid.New()
	}
	m.issues[issue.ID] = issue
	return &issue
}

func (m *memoryIssues) Create(ctx context.Context, issue *model.Issue, logEntry *model.IssueStatusLog) error {
	m.events.add("create")
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.issues {
		if existing.ReportID == issue.ReportID {
			return gorm.ErrDuplicatedKey
		}
	}
	issue.ID = uuid.New()
	issue.CreatedAt = time.Now()
	for i := range issue.Images {
		issue.Images[i].IssueID = issue.ID
		issue.Images[i].Position = i
	}
	m.issues[issue.ID] = *issue
	logEntry.IssueID = issue.ID
	m.logs = append(m.logs, *logEntry)
	return nil
}

func (m *memoryIssues) GetByID(ctx context.Context, id uuid.UUID) (*model.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.issues[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	_ = issue.AfterFind(nil)
	return &issue, nil
}

func (m *memoryIssues) FindByReportID(ctx context.Context, reportID uuid.UUID) (*model.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, issue := range m.issues {
		if issue.ReportID == reportID {
			return &issue, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryIssues) List(ctx context.Context, filter repository.IssueFilter) ([]model.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Issue
	for _, issue := range m.issues {
		if filter.ReportedBy != nil && issue.ReportedBy != *filter.ReportedBy {
			continue
		}
		if filter.AcceptedBy != nil && (issue.AcceptedBy == nil || *issue.AcceptedBy != *filter.AcceptedBy) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, issue.Status) {
			continue
		}
		out = append(out, issue)
	}
	return out, nil
}

func (m *memoryIssues) ListForDispatch(ctx context.Context, scope model.DispatchScope) ([]model.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Issue
	for _, issue := range m.issues {
		at, ok := issue.Coordinates()
		if !ok || !scope.Box.Contains(at) || !scope.AllowsCategory(issue.Category) {
			continue
		}
		out = append(out, issue)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := out[i].Coordinates()
		b, _ := out[j].Coordinates()
		return geo.Distance(scope.Center, a) < geo.Distance(scope.Center, b)
	})
	if scope.Limit > 0 && len(out) > scope.Limit {
		out = out[:scope.Limit]
	}
	return out, nil
}

func (m *memoryIssues) Transition(ctx context.Context, t repository.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.issues[t.IssueID]
	if !ok || issue.Status != t.From {
		return repository.ErrStaleState
	}
	if t.Unclaimed && issue.AcceptedBy != nil {
		return repository.ErrStaleState
	}
	if t.HeldBy != nil && (issue.AcceptedBy == nil || *issue.AcceptedBy != *t.HeldBy) {
		return repository.ErrStaleState
	}

	for k, v := range t.Set {
		switch k {
		case "accepted_by":
			issue.AcceptedBy = uuidValue(v)
		case "assigned_to":
			issue.AssignedTo = uuidValue(v)
		case "resolved_by":
			issue.ResolvedBy = uuidValue(v)
		case "resolved_at":
			at := v.(time.Time)
			issue.ResolvedAt = &at
		case "resolution_latitude":
			lat := v.(float64)
			issue.ResolutionLatitude = &lat
		case "resolution_longitude":
			lng := v.(float64)
			issue.ResolutionLongitude = &lng
		case "resolution_photo_url":
			issue.ResolutionPhotoURL, _ = v.(*string)
		}
	}
	issue.Status = t.To
	m.issues[issue.ID] = issue

	from := t.From
	changedBy := t.ChangedBy
	m.logs = append(m.logs, model.IssueStatusLog{
		IssueID:   t.IssueID,
		OldStatus: &from,
		NewStatus: t.To,
		Note:      t.Note,
		ChangedBy: &changedBy,
	})
	return nil
}

func uuidValue(v interface{}) *uuid.UUID {
	id, ok := v.(uuid.UUID)
	if !ok {
		return nil
	}
	return &id
}

func (m *memoryIssues) SetUpvote(ctx context.Context, issueID, userID uuid.UUID, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upvotes[issueID] == nil {
		m.upvotes[issueID] = make(map[uuid.UUID]bool)
	}
	if on {
		m.upvotes[issueID][userID] = true
	} else {
		delete(m.upvotes[issueID], userID)
	}
	return nil
}

func (m *memoryIssues) CountUpvotes(ctx context.Context, issueIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]int64)
	for _, id := range issueIDs {
		out[id] = int64(len(m.upvotes[id]))
	}
	return out, nil
}

func (m *memoryIssues) UpvotedBy(ctx context.Context, userID uuid.UUID, issueIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]bool)
	for _, id := range issueIDs {
		out[id] = m.upvotes[id][userID]
	}
	return out, nil
}

func (m *memoryIssues) AddComment(ctx context.Context, comment *model.IssueComment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	comment.ID = uuid.New()
	m.comments = append(m.comments, *comment)
	return nil
}

func (m *memoryIssues) ListComments(ctx context.Context, issueID uuid.UUID) ([]model.IssueComment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.IssueComment
	for _, c := range m.comments {
		if c.IssueID == issueID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memoryIssues) History(ctx context.Context, issueID uuid.UUID) ([]model.IssueStatusLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.IssueStatusLog
	for _, l := range m.logs {
		if l.IssueID == issueID {
			out = append(out, l)
		}
	}
	return out, nil
}

type memoryWorkers struct {
	mu      sync.Mutex
	workers map[uuid.UUID]model.Worker
}

func newMemoryWorkers(workers ...model.Worker) *memoryWorkers {
	m := &memoryWorkers{workers: make(map[uuid.UUID]model.Worker)}
	for _, w := range workers {
		m.workers[w.ID] = w
	}
	return m
}

func (m *memoryWorkers) GetByID(ctx context.Context, id uuid.UUID) (*model.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	if !ok || !w.IsActive {
		return nil, gorm.ErrRecordNotFound
	}
	return &w, nil
}

func (m *memoryWorkers) List(ctx context.Context) ([]model.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w)
	}
	return out, nil
}

func (m *memoryWorkers) Upsert(ctx context.Context, worker *model.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[worker.ID] = *worker
	return nil
}

type validatorFunc func(ctx context.Context, report classifier.Report) (classifier.Verdict, error)

func (f validatorFunc) Validate(ctx context.Context, report classifier.Report) (classifier.Verdict, error) {
	return f(ctx, report)
}

type fakeEvidence struct {
	checkErr error
	saveErr  error
	events   *events

	mu    sync.Mutex
	saved []string
}

func (f *fakeEvidence) Check(contentType string, data []byte) error {
	return f.checkErr
}

func (f *fakeEvidence) Save(ctx context.Context, prefix, contentType string, data []byte) (string, error) {
	f.events.add("upload")
	if f.saveErr != nil {
		return "", f.saveErr
	}
	url := "/evidence/" + prefix + "/" + uuid.NewString() + ".jpg"
	f.mu.Lock()
	f.saved = append(f.saved, url)
	f.mu.Unlock()
	return url, nil
}

func (f *fakeEvidence) Remove(ctx context.Context, url string) error {
	f.events.add("discard")
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, saved := range f.saved {
		if saved == url {
			f.saved = append(f.saved[:i], f.saved[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeEvidence) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

// memoryGuard mirrors cache.SubmissionGuard: a nil entry is a pending reservation.
type memoryGuard struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*uuid.UUID
}

func newMemoryGuard() *memoryGuard {
	return &memoryGuard{entries: make(map[uuid.UUID]*uuid.UUID)}
}

func (g *memoryGuard) Reserve(ctx context.Context, reportID uuid.UUID) (cache.ReservationState, uuid.UUID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.entries[reportID]
	switch {
	case !ok:
		g.entries[reportID] = nil
		return cache.ReservationNew, uuid.Nil, nil
	case entry == nil:
		return cache.ReservationPending, uuid.Nil, nil
	}
	return cache.ReservationDone, *entry, nil
}

func (g *memoryGuard) Bind(ctx context.Context, reportID, issueID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries[reportID] = &issueID
	return nil
}

func (g *memoryGuard) Release(ctx context.Context, reportID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, reportID)
	return nil
}

var errNoPosition = errors.New("no position")

type memoryPositions struct {
	mu        sync.Mutex
	positions map[uuid.UUID]geo.Point
}

func newMemoryPositions() *memoryPositions {
	return &memoryPositions{positions: make(map[uuid.UUID]geo.Point)}
}

func (m *memoryPositions) Save(ctx context.Context, workerID uuid.UUID, p geo.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[workerID] = p
	return nil
}

func (m *memoryPositions) Last(ctx context.Context, workerID uuid.UUID) (geo.Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[workerID]
	if !ok {
		return geo.Point{}, errNoPosition
	}
	return p, nil
}
