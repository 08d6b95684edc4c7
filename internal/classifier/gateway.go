package classifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"issue-service/internal/geo"
	"issue-service/internal/model"
)

const maxResponseBytes = 1 << 20

type Kind string

const (
	KindAccepted    Kind = "accepted"
	KindRejected    Kind = "rejected"
	KindUnavailable Kind = "unavailable"
)

type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Report is one logical submission. ReportID stays the same across retries.
type Report struct {
	ReportID    uuid.UUID
	Description string
	UserID      uuid.UUID
	Location    geo.Point
	Image       *Image
}

type Verdict struct {
	Kind     Kind
	Category model.Category
	// Priority is empty when the classifier did not send a usable one.
	Priority model.Priority
	Reason   string
	Attempts int
}

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	URL            string
	AttemptTimeout time.Duration
	TotalBudget    time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
}

func (c Config) withDefaults() Config {
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 15 * time.Second
	}
	if c.TotalBudget <= 0 {
		c.TotalBudget = 45 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 10 * time.Second
	}
	return c
}

type Gateway struct {
	cfg    Config
	client HTTPClient
	log    zerolog.Logger
	group  singleflight.Group
}

func New(cfg Config, client HTTPClient, log zerolog.Logger) *Gateway {
	if client == nil {
		client = &http.Client{}
	}
	return &Gateway{
		cfg:    cfg.withDefaults(),
		client: client,
		log:    log.With().Str("component", "classifier").Logger(),
	}
}

// Backoff returns the wait before the given retry (1-based).
func (g *Gateway) Backoff(retry int) time.Duration {
	d := g.cfg.BackoffBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= g.cfg.BackoffCap {
			return g.cfg.BackoffCap
		}
	}
	if d > g.cfg.BackoffCap {
		return g.cfg.BackoffCap
	}
	return d
}

// Validate classifies report. Exhausted or non-retryable failures yield an
// Unavailable verdict; the only error is ctx being cancelled.
func (g *Gateway) Validate(ctx context.Context, report Report) (Verdict, error) {
	if report.ReportID == uuid.Nil {
		report.ReportID = uuid.New()
	}

	// The shared call outlives any single caller; each caller stops waiting
	// on its own ctx below and the call itself is bounded by TotalBudget.
	shared := context.WithoutCancel(ctx)
	ch := g.group.DoChan(report.ReportID.String(), func() (interface{}, error) {
		return g.validate(shared, report)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Verdict{}, res.Err
		}
		return res.Val.(Verdict), nil
	case <-ctx.Done():
		return Verdict{}, ctx.Err()
	}
}

func (g *Gateway) validate(ctx context.Context, report Report) (Verdict, error) {
	log := g.log.With().Str("report_id", report.ReportID.String()).Logger()

	body, contentType, err := encodeReport(report)
	if err != nil {
		log.Error().Err(err).Msg("encode classifier request")
		return Verdict{Kind: KindUnavailable, Reason: err.Error()}, nil
	}

	budget, cancel := context.WithTimeout(ctx, g.cfg.TotalBudget)
	defer cancel()

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= g.cfg.MaxRetries+1; attempt++ {
		if attempt > 1 {
			if err := wait(budget, g.Backoff(attempt-1)); err != nil {
				break
			}
		}

		attempts = attempt
		verdict, retry, err := g.attempt(budget, body, contentType)
		if !retry {
			verdict.Attempts = attempt
			if verdict.Kind == KindUnavailable {
				log.Warn().Err(err).Int("attempt", attempt).Msg("classifier failed without retry")
			}
			return verdict, nil
		}

		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Msg("classifier attempt failed")
		if budget.Err() != nil {
			break
		}
	}

	reason := "classifier unavailable"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	log.Warn().Int("attempts", attempts).Msg("classifier attempts exhausted")
	return Verdict{Kind: KindUnavailable, Reason: reason, Attempts: attempts}, nil
}

// attempt performs one request. retry reports whether the failure is transient.
func (g *Gateway) attempt(ctx context.Context, body []byte, contentType string) (Verdict, bool, error) {
	actx, cancel := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodPost, g.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Verdict{Kind: KindUnavailable, Reason: err.Error()}, false, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		if isPolicyError(err) {
			return Verdict{Kind: KindUnavailable, Reason: err.Error()}, false, err
		}
		return Verdict{}, true, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Verdict{}, true, fmt.Errorf("read classifier response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Verdict{}, true, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var payload response
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Verdict{}, true, fmt.Errorf("classifier returned non-JSON body: %w", err)
	}

	verdict, err := payload.verdict()
	if err != nil {
		return Verdict{Kind: KindUnavailable, Reason: err.Error()}, false, err
	}
	return verdict, false, nil
}

type response struct {
	Accept   *bool   `json:"accept"`
	Status   *string `json:"status"`
	Reason   string  `json:"reason"`
	Category string  `json:"category"`
	Priority string  `json:"priority"`
}

var errMalformed = errors.New("malformed classifier response")

func (r response) verdict() (Verdict, error) {
	if r.Accept == nil || r.Status == nil {
		return Verdict{}, fmt.Errorf("%w: accept and status are required", errMalformed)
	}
	status := strings.ToLower(strings.TrimSpace(*r.Status))

	switch {
	case !*r.Accept && status == "rejected":
		reason := strings.TrimSpace(r.Reason)
		if reason == "" {
			reason = "report rejected by classifier"
		}
		return Verdict{Kind: KindRejected, Reason: reason}, nil
	case *r.Accept && status == "accepted":
		v := Verdict{Kind: KindAccepted, Category: model.CategoryOther, Reason: r.Reason}
		if c, ok := model.ParseCategory(r.Category); ok {
			v.Category = c
		}
		if p, ok := model.ParsePriority(r.Priority); ok {
			v.Priority = p
		}
		return v, nil
	}
	return Verdict{}, fmt.Errorf("%w: accept=%t status=%q", errMalformed, *r.Accept, status)
}

// isPolicyError matches transport failures that a retry cannot fix.
func isPolicyError(err error) bool {
	var unknownAuthority x509.UnknownAuthorityError
	var hostname x509.HostnameError
	var invalid x509.CertificateInvalidError
	var verification *tls.CertificateVerificationError
	switch {
	case errors.As(err, &unknownAuthority), errors.As(err, &hostname),
		errors.As(err, &invalid), errors.As(err, &verification):
		return true
	}
	return strings.Contains(err.Error(), "unsupported protocol scheme")
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
