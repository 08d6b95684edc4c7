package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"issue-service/internal/dispatch"
	"issue-service/internal/geo"
	"issue-service/internal/locate"
	"issue-service/internal/model"
)

type DispatchQuery struct {
	Device locate.DeviceReport
	// Group narrows the returned issues; counts always cover every group.
	Group *dispatch.Group
}

type DispatchService struct {
	issues     IssueStore
	workers    WorkerStore
	positions  PositionStore
	resolver   *locate.Resolver
	dispatcher *dispatch.Dispatcher
	log        zerolog.Logger
}

func NewDispatchService(
	issues IssueStore,
	workers WorkerStore,
	positions PositionStore,
	resolver *locate.Resolver,
	dispatcher *dispatch.Dispatcher,
	log zerolog.Logger,
) *DispatchService {
	return &DispatchService{
		issues:     issues,
		workers:    workers,
		positions:  positions,
		resolver:   resolver,
		dispatcher: dispatcher,
		log:        log.With().Str("component", "dispatch").Logger(),
	}
}

// View resolves where the calling worker is and returns the issues inside
// their role's radius and departments, nearest first.
func (s *DispatchService) View(ctx context.Context, principal model.Principal, q DispatchQuery) (*model.DispatchView, error) {
	if !principal.IsWorker() {
		return nil, ErrPermissionDenied
	}

	worker, err := s.workers.GetByID(ctx, principal.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotOnRoster
		}
		return nil, err
	}

	var fallback locate.Querier
	if s.positions != nil {
		fallback = lastKnown{store: s.positions, workerID: worker.ID}
	}
	loc, err := s.resolver.Resolve(ctx, q.Device, fallback)
	if err != nil {
		return nil, err
	}
	if loc.Degraded {
		s.log.Warn().Str("worker_id", worker.ID.String()).Str("state", string(loc.State)).Msg("no worker position, using default coordinate")
	}
	if loc.State == locate.StateLive && s.positions != nil {
		if err := s.positions.Save(ctx, worker.ID, loc.Point); err != nil {
			s.log.Warn().Err(err).Str("worker_id", worker.ID.String()).Msg("failed to remember worker position")
		}
	}

	scope := s.dispatcher.Scope(*worker, loc.Point)
	candidates, err := s.issues.ListForDispatch(ctx, scope)
	if err != nil {
		return nil, err
	}
	if scope.Limit > 0 && len(candidates) >= scope.Limit {
		s.log.Warn().
			Str("worker_id", worker.ID.String()).
			Int("limit", scope.Limit).
			Msg("dispatch candidate limit reached, farthest issues omitted")
	}
	matches := s.dispatcher.Visible(*worker, loc.Point, candidates)

	view := &model.DispatchView{
		Worker:        *worker,
		Position:      loc.Point,
		LocationState: string(loc.State),
		Degraded:      loc.Degraded,
		RadiusKm:      s.dispatcher.RadiusFor(*worker),
		Counts:        dispatch.Count(matches),
		Issues:        matches,
	}
	if q.Group != nil {
		view.Issues = dispatch.FilterGroup(matches, *q.Group)
	}
	return view, nil
}

func (s *DispatchService) Workers(ctx context.Context, principal model.Principal) ([]model.Worker, error) {
	if !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}
	return s.workers.List(ctx)
}

type WorkerInput struct {
	FullName    string
	Role        model.WorkerRole
	Departments []string
	IsActive    bool
}

// SaveWorker creates or replaces a roster entry. Departments must name known
// categories or the "All" sentinel.
func (s *DispatchService) SaveWorker(ctx context.Context, principal model.Principal, id uuid.UUID, in WorkerInput) (*model.Worker, error) {
	if !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}
	switch in.Role {
	case model.WorkerRoleFieldStaff, model.WorkerRoleSupervisor, model.WorkerRoleCommissioner:
	default:
		return nil, &FieldError{Field: "role", Message: fmt.Sprintf("unknown worker role %q", in.Role)}
	}

	departments := make(model.Departments, 0, len(in.Departments))
	for _, raw := range in.Departments {
		if strings.EqualFold(strings.TrimSpace(raw), model.AllDepartments) {
			departments = append(departments, model.AllDepartments)
			continue
		}
		c, ok := model.ParseCategory(raw)
		if !ok {
			return nil, &FieldError{Field: "departments", Message: fmt.Sprintf("unknown department %q", raw)}
		}
		departments = append(departments, string(c))
	}
	if len(departments) == 0 && in.Role != model.WorkerRoleCommissioner {
		return nil, &FieldError{Field: "departments", Message: "at least one department is required"}
	}

	worker := &model.Worker{
		ID:          id,
		FullName:    strings.TrimSpace(in.FullName),
		Role:        in.Role,
		Departments: departments,
		IsActive:    in.IsActive,
	}
	if err := s.workers.Upsert(ctx, worker); err != nil {
		return nil, err
	}
	return worker, nil
}

// lastKnown answers the fallback position query from the worker's last live fix.
type lastKnown struct {
	store    PositionStore
	workerID uuid.UUID
}

func (l lastKnown) Current(ctx context.Context) (geo.Point, error) {
	p, err := l.store.Last(ctx, l.workerID)
	if err != nil {
		return geo.Point{}, &locate.Error{Code: locate.CodePositionUnavailable, Message: err.Error()}
	}
	return p, nil
}
