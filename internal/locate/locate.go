package locate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"issue-service/internal/geo"
)

// Code mirrors the device geolocation error codes.
type Code int

const (
	CodePermissionDenied    Code = 1
	CodePositionUnavailable Code = 2
	CodeTimeout             Code = 3
)

func (c Code) String() string {
	switch c {
	case CodePermissionDenied:
		return "permission_denied"
	case CodePositionUnavailable:
		return "position_unavailable"
	case CodeTimeout:
		return "timeout"
	}
	return fmt.Sprintf("code_%d", int(c))
}

type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return "geolocation: " + e.Code.String()
	}
	return "geolocation: " + e.Code.String() + ": " + e.Message
}

type State string

const (
	StateLive                State = "live"
	StateFallback            State = "fallback"
	StatePermissionDenied    State = "permission_denied"
	StatePositionUnavailable State = "position_unavailable"
	StateTimeout             State = "timeout"
)

// Watcher streams position fixes into fixes until ctx is done. Sends must
// select on ctx so a cancelled watch never blocks.
type Watcher interface {
	Watch(ctx context.Context, fixes chan<- geo.Point) error
}

// Querier answers a single, lower-accuracy position query.
type Querier interface {
	Current(ctx context.Context) (geo.Point, error)
}

type Result struct {
	Point    geo.Point `json:"position"`
	State    State     `json:"state"`
	Degraded bool      `json:"degraded"`
}

type Resolver struct {
	PrimaryTimeout  time.Duration
	FallbackTimeout time.Duration
	Default         geo.Point
}

func NewResolver(primaryTimeout, fallbackTimeout time.Duration, def geo.Point) *Resolver {
	return &Resolver{PrimaryTimeout: primaryTimeout, FallbackTimeout: fallbackTimeout, Default: def}
}

// Resolve tries the primary watch, then the fallback query, then the default
// coordinate. It only fails when ctx itself is cancelled.
func (r *Resolver) Resolve(ctx context.Context, primary Watcher, fallback Querier) (Result, error) {
	var lastErr error = &Error{Code: CodePositionUnavailable}

	if primary != nil {
		p, err := r.watchFirst(ctx, primary)
		if err == nil {
			return Result{Point: p, State: StateLive}, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		lastErr = err
	}

	if fallback != nil && codeOf(lastErr) != CodePermissionDenied {
		p, err := r.queryOnce(ctx, fallback)
		if err == nil {
			return Result{Point: p, State: StateFallback}, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if primary == nil {
			lastErr = err
		}
	}

	return Result{Point: r.Default, State: stateFor(lastErr), Degraded: true}, nil
}

func (r *Resolver) watchFirst(ctx context.Context, w Watcher) (geo.Point, error) {
	wctx, cancel := context.WithTimeout(ctx, r.PrimaryTimeout)
	defer cancel()

	fixes := make(chan geo.Point, 1)
	errc := make(chan error, 1)
	go func() {
		errc <- w.Watch(wctx, fixes)
	}()

	for {
		select {
		case p := <-fixes:
			if p.Valid() {
				return p, nil
			}
		case err := <-errc:
			select {
			case p := <-fixes:
				if p.Valid() {
					return p, nil
				}
			default:
			}
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if wctx.Err() != nil {
					return geo.Point{}, &Error{Code: CodeTimeout}
				}
				return geo.Point{}, &Error{Code: CodePositionUnavailable}
			}
			return geo.Point{}, err
		case <-wctx.Done():
			return geo.Point{}, &Error{Code: CodeTimeout}
		}
	}
}

func (r *Resolver) queryOnce(ctx context.Context, q Querier) (geo.Point, error) {
	qctx, cancel := context.WithTimeout(ctx, r.FallbackTimeout)
	defer cancel()

	p, err := q.Current(qctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return geo.Point{}, &Error{Code: CodeTimeout}
		}
		return geo.Point{}, err
	}
	if !p.Valid() {
		return geo.Point{}, &Error{Code: CodePositionUnavailable, Message: "invalid coordinates"}
	}
	return p, nil
}

func codeOf(err error) Code {
	var locErr *Error
	if errors.As(err, &locErr) {
		return locErr.Code
	}
	return CodePositionUnavailable
}

func stateFor(err error) State {
	switch codeOf(err) {
	case CodePermissionDenied:
		return StatePermissionDenied
	case CodeTimeout:
		return StateTimeout
	}
	return StatePositionUnavailable
}
