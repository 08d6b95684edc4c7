package classifier

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issue-service/internal/geo"
	"issue-service/internal/model"
)

type doFunc func(req *http.Request) (*http.Response, error)

func (f doFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func fastConfig(url string) Config {
	return Config{
		URL:            url,
		AttemptTimeout: 100 * time.Millisecond,
		TotalBudget:    2 * time.Second,
		MaxRetries:     2,
		BackoffBase:    5 * time.Millisecond,
		BackoffCap:     20 * time.Millisecond,
	}
}

func testReport() Report {
	return Report{
		ReportID:    uuid.New(),
		Description: "Broken streetlight near the bus stop",
		UserID:      uuid.New(),
		Location:    geo.Point{Lat: 23.2599, Lng: 77.4126},
	}
}

func respond(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestValidate_Accepted(t *testing.T) {
	report := testReport()
	report.Image = &Image{Filename: "pothole.jpg", ContentType: "image/jpeg", Data: []byte("jpeg-bytes")}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, report.ReportID.String(), r.FormValue("report_id"))
		assert.Equal(t, report.Description, r.FormValue("description"))
		assert.Equal(t, report.UserID.String(), r.FormValue("user_id"))
		assert.Equal(t, "23.2599", r.FormValue("latitude"))
		assert.Equal(t, "77.4126", r.FormValue("longitude"))

		file, header, err := r.FormFile("image")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "pothole.jpg", header.Filename)
		assert.Equal(t, "jpeg-bytes", string(data))

		respond(w, http.StatusOK, `{"accept":true,"status":"accepted","category":"electricity","priority":"urgent"}`)
	}))
	defer srv.Close()

	v, err := New(fastConfig(srv.URL), srv.Client(), zerolog.Nop()).Validate(context.Background(), report)
	require.NoError(t, err)
	assert.Equal(t, KindAccepted, v.Kind)
	assert.Equal(t, model.CategoryElectricity, v.Category)
	assert.Equal(t, model.PriorityUrgent, v.Priority)
	assert.Equal(t, 1, v.Attempts)
}

func TestValidate_AcceptedNormalisesUnknownValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, `{"accept":true,"status":"accepted","category":"unicorns","priority":"whenever"}`)
	}))
	defer srv.Close()

	v, err := New(fastConfig(srv.URL), srv.Client(), zerolog.Nop()).Validate(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, model.CategoryOther, v.Category)
	assert.Empty(t, v.Priority)
}

func TestValidate_RejectedIsTerminal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		respond(w, http.StatusOK, `{"accept":false,"status":"rejected","reason":"Image does not show a civic issue"}`)
	}))
	defer srv.Close()

	v, err := New(fastConfig(srv.URL), srv.Client(), zerolog.Nop()).Validate(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, KindRejected, v.Kind)
	assert.Equal(t, "Image does not show a civic issue", v.Reason)
	assert.Equal(t, int32(1), hits.Load())
}

func TestValidate_RetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	var mu sync.Mutex
	var reportIDs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reportIDs = append(reportIDs, r.FormValue("report_id"))
		mu.Unlock()
		switch hits.Add(1) {
		case 1:
			respond(w, http.StatusBadGateway, `{"error":"upstream"}`)
		case 2:
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "<html>maintenance</html>")
		default:
			respond(w, http.StatusOK, `{"accept":true,"status":"accepted","category":"Water Supply"}`)
		}
	}))
	defer srv.Close()

	report := testReport()
	v, err := New(fastConfig(srv.URL), srv.Client(), zerolog.Nop()).Validate(context.Background(), report)
	require.NoError(t, err)
	assert.Equal(t, KindAccepted, v.Kind)
	assert.Equal(t, model.CategoryWater, v.Category)
	assert.Equal(t, 3, v.Attempts)
	assert.Equal(t, []string{report.ReportID.String(), report.ReportID.String(), report.ReportID.String()}, reportIDs)
}

func TestValidate_ExhaustedIsUnavailable(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		respond(w, http.StatusServiceUnavailable, `{}`)
	}))
	defer srv.Close()

	v, err := New(fastConfig(srv.URL), srv.Client(), zerolog.Nop()).Validate(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, KindUnavailable, v.Kind)
	assert.Equal(t, 3, v.Attempts)
	assert.Equal(t, int32(3), hits.Load())
}

func TestValidate_TimeoutsAreRetriedThenUnavailable(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	cfg := fastConfig(srv.URL)
	cfg.AttemptTimeout = 30 * time.Millisecond

	v, err := New(cfg, srv.Client(), zerolog.Nop()).Validate(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, KindUnavailable, v.Kind)
	assert.Equal(t, 3, v.Attempts)
}

func TestValidate_MalformedSuccessIsNotRetried(t *testing.T) {
	for name, body := range map[string]string{
		"missing fields":    `{"category":"Other"}`,
		"inconsistent pair": `{"accept":true,"status":"rejected"}`,
		"unknown status":    `{"accept":false,"status":"pending"}`,
	} {
		t.Run(name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				respond(w, http.StatusOK, body)
			}))
			defer srv.Close()

			v, err := New(fastConfig(srv.URL), srv.Client(), zerolog.Nop()).Validate(context.Background(), testReport())
			require.NoError(t, err)
			assert.Equal(t, KindUnavailable, v.Kind)
			assert.Equal(t, 1, v.Attempts)
			assert.Equal(t, int32(1), hits.Load())
		})
	}
}

func TestValidate_PolicyErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := doFunc(func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, &url.Error{Op: "Post", URL: req.URL.String(), Err: x509.UnknownAuthorityError{}}
	})

	v, err := New(fastConfig("https://classifier.invalid/validate"), client, zerolog.Nop()).Validate(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, KindUnavailable, v.Kind)
	assert.Equal(t, int32(1), calls.Load())

	v, err = New(fastConfig("ftp://classifier.invalid/validate"), &http.Client{}, zerolog.Nop()).Validate(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, KindUnavailable, v.Kind)
	assert.Equal(t, 1, v.Attempts)
}

func TestValidate_NetworkErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	client := doFunc(func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, fmt.Errorf("dial tcp: connection refused")
	})

	v, err := New(fastConfig("http://classifier.local/validate"), client, zerolog.Nop()).Validate(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, KindUnavailable, v.Kind)
	assert.Equal(t, int32(3), calls.Load())
}

func TestValidate_CancelDuringBackoff(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	client := doFunc(func(req *http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			cancel()
		}
		return nil, fmt.Errorf("connection reset")
	})

	cfg := fastConfig("http://classifier.local/validate")
	cfg.BackoffBase = 5 * time.Second
	cfg.BackoffCap = 10 * time.Second

	start := time.Now()
	_, err := New(cfg, client, zerolog.Nop()).Validate(ctx, testReport())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestValidate_SharesInFlightCallPerReport(t *testing.T) {
	var hits atomic.Int32
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		entered <- struct{}{}
		<-release
		respond(w, http.StatusOK, `{"accept":true,"status":"accepted"}`)
	}))
	defer srv.Close()

	cfg := fastConfig(srv.URL)
	cfg.AttemptTimeout = 2 * time.Second
	g := New(cfg, srv.Client(), zerolog.Nop())
	report := testReport()

	var wg sync.WaitGroup
	results := make([]Verdict, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = g.Validate(context.Background(), report)
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = g.Validate(context.Background(), report)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, KindAccepted, results[0].Kind)
	assert.Equal(t, KindAccepted, results[1].Kind)
}

func TestValidate_AbandonedCallerDoesNotCancelOthers(t *testing.T) {
	var hits atomic.Int32
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		entered <- struct{}{}
		<-release
		respond(w, http.StatusOK, `{"accept":true,"status":"accepted"}`)
	}))
	defer srv.Close()

	cfg := fastConfig(srv.URL)
	cfg.AttemptTimeout = 2 * time.Second
	g := New(cfg, srv.Client(), zerolog.Nop())
	report := testReport()

	first, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := g.Validate(first, report)
		firstErr <- err
	}()
	<-entered

	second := make(chan Verdict, 1)
	secondErr := make(chan error, 1)
	go func() {
		v, err := g.Validate(context.Background(), report)
		second <- v
		secondErr <- err
	}()
	time.Sleep(30 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	v := <-second
	require.NoError(t, <-secondErr)
	assert.Equal(t, KindAccepted, v.Kind)
	assert.Equal(t, int32(1), hits.Load())
}

func TestBackoff(t *testing.T) {
	g := New(Config{URL: "http://x"}, nil, zerolog.Nop())
	assert.Equal(t, 2*time.Second, g.Backoff(1))
	assert.Equal(t, 4*time.Second, g.Backoff(2))
	assert.Equal(t, 8*time.Second, g.Backoff(3))
	assert.Equal(t, 10*time.Second, g.Backoff(4))
	assert.Equal(t, 10*time.Second, g.Backoff(10))
}
