package runner_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ErlanBelekov/alerting-scheduler/internal/domain"
	"github.com/ErlanBelekov/alerting-scheduler/internal/metrics"
	"github.com/ErlanBelekov/alerting-scheduler/internal/runner"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeRuns struct {
	mu        sync.Mutex
	createErr error
	created   []*domain.Run
	completed []*domain.Run
}

func (f *fakeRuns) CreateRun(_ context.Context, run *domain.Run) (*domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, run)
	return run, nil
}

func (f *fakeRuns) CompleteRun(_ context.Context, run *domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, run)
	return nil
}

func (f *fakeRuns) ListByMonitor(context.Context, string, int) ([]*domain.Run, error) {
	return nil, nil
}

type queryFunc func(ctx context.Context, in domain.Input) domain.InputResult

func (f queryFunc) Query(ctx context.Context, in domain.Input) domain.InputResult { return f(ctx, in) }

func respond(code int, err error) queryFunc {
	return func(_ context.Context, in domain.Input) domain.InputResult {
		return domain.InputResult{URL: in.URL, StatusCode: code, Duration: 20 * time.Millisecond, Err: err}
	}
}

var (
	periodStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	periodEnd   = periodStart.Add(5 * time.Minute)
)

func monitor(id string, version int64, triggers ...domain.Trigger) *domain.Job {
	return &domain.Job{
		ID:      id,
		Version: version,
		Type:    domain.JobTypeMonitor,
		Name:    "checkout api",
		Enabled: true,
		Monitor: &domain.Monitor{
			Inputs:   []domain.Input{{URL: "http://checkout.internal/health", Method: "GET", TimeoutSeconds: 5}},
			Triggers: triggers,
		},
	}
}

var serverErrors = domain.Trigger{
	Name:      "5xx",
	Severity:  domain.SeverityCritical,
	Condition: domain.Condition{Field: domain.FieldStatusCode, Op: domain.OpGTE, Value: 500},
}

func newRunner(t *testing.T, runs *fakeRuns, q runner.InputQuerier, concurrency int) *runner.Runner {
	t.Helper()
	r, err := runner.New(runs, q, slog.Default(), "node-a", concurrency, 16)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestRunJob_RecordsOKRun(t *testing.T) {
	runs := &fakeRuns{}
	r := newRunner(t, runs, respond(200, nil), 2)

	r.RunJob(context.Background(), monitor("m-1", 1, serverErrors), periodStart, periodEnd)

	if len(runs.created) != 1 || len(runs.completed) != 1 {
		t.Fatalf("created = %d, completed = %d", len(runs.created), len(runs.completed))
	}
	run := runs.completed[0]
	if run.Status != domain.RunStatusOK || len(run.Triggered) != 0 || run.Error != nil {
		t.Errorf("run = %+v", run)
	}
	if run.NodeID != "node-a" || !run.PeriodStart.Equal(periodStart) || !run.PeriodEnd.Equal(periodEnd) {
		t.Errorf("run = %+v", run)
	}
	if run.ID == "" || run.CompletedAt == nil || run.DurationMS == nil {
		t.Errorf("run not closed: %+v", run)
	}
}

func TestRunJob_TriggerFires(t *testing.T) {
	before := testutil.ToFloat64(metrics.TriggersFiredTotal.WithLabelValues("critical"))
	runs := &fakeRuns{}
	r := newRunner(t, runs, respond(503, nil), 2)

	r.RunJob(context.Background(), monitor("m-1", 1, serverErrors), periodStart, periodEnd)

	run := runs.completed[0]
	if run.Status != domain.RunStatusTriggered || len(run.Triggered) != 1 || run.Triggered[0] != "5xx" {
		t.Errorf("run = %+v", run)
	}
	if got := testutil.ToFloat64(metrics.TriggersFiredTotal.WithLabelValues("critical")); got != before+1 {
		t.Errorf("triggers fired = %v, want %v", got, before+1)
	}
}

func TestRunJob_InputErrorMarksRunFailed(t *testing.T) {
	runs := &fakeRuns{}
	r := newRunner(t, runs, respond(0, errors.New("connection refused")), 2)

	r.RunJob(context.Background(), monitor("m-1", 1, serverErrors), periodStart, periodEnd)

	run := runs.completed[0]
	if run.Status != domain.RunStatusError || run.Error == nil {
		t.Errorf("run = %+v", run)
	}
}

func TestRunJob_CreateFailureAbortsRun(t *testing.T) {
	queried := false
	runs := &fakeRuns{createErr: errors.New("db down")}
	r := newRunner(t, runs, queryFunc(func(context.Context, domain.Input) domain.InputResult {
		queried = true
		return domain.InputResult{}
	}), 2)

	r.RunJob(context.Background(), monitor("m-1", 1), periodStart, periodEnd)
	if queried || len(runs.completed) != 0 {
		t.Error("run proceeded without a run record")
	}
}

func TestRunJob_SkipsWhenSlotsBusy(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	runs := &fakeRuns{}
	r := newRunner(t, runs, queryFunc(func(context.Context, domain.Input) domain.InputResult {
		close(started)
		<-release
		return domain.InputResult{StatusCode: 200}
	}), 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.RunJob(context.Background(), monitor("slow", 1), periodStart, periodEnd)
	}()
	<-started

	before := testutil.ToFloat64(metrics.RunsSkippedTotal)
	r.RunJob(context.Background(), monitor("m-2", 1), periodStart, periodEnd)
	if got := testutil.ToFloat64(metrics.RunsSkippedTotal); got != before+1 {
		t.Errorf("skipped = %v, want %v", got, before+1)
	}

	close(release)
	<-done
	if len(runs.created) != 1 {
		t.Errorf("created = %d, want 1", len(runs.created))
	}
}

func TestLastResult_InvalidatedByNewerVersionAndDelete(t *testing.T) {
	r := newRunner(t, &fakeRuns{}, respond(200, nil), 2)
	r.RunJob(context.Background(), monitor("m-1", 2), periodStart, periodEnd)

	res, ok := r.LastResult("m-1")
	if !ok || res.Status != domain.RunStatusOK || res.Version != 2 || !res.PeriodEnd.Equal(periodEnd) {
		t.Fatalf("last result = %+v, %v", res, ok)
	}

	r.PostIndex(monitor("m-1", 2))
	if _, ok := r.LastResult("m-1"); !ok {
		t.Fatal("same version write dropped the result")
	}
	r.PostIndex(monitor("m-1", 3))
	if _, ok := r.LastResult("m-1"); ok {
		t.Error("newer version kept a stale result")
	}

	r.RunJob(context.Background(), monitor("m-1", 3), periodStart, periodEnd)
	r.PostDelete("m-1")
	if _, ok := r.LastResult("m-1"); ok {
		t.Error("deleted monitor kept its result")
	}
}

func TestEvaluate(t *testing.T) {
	slow := domain.Trigger{Name: "slow", Severity: domain.SeverityLow,
		Condition: domain.Condition{Field: domain.FieldDurationMS, Op: domain.OpGT, Value: 1000}}
	down := domain.Trigger{Name: "down", Severity: domain.SeverityHigh,
		Condition: domain.Condition{Field: domain.FieldError, Op: domain.OpEQ, Value: 1}}

	tests := []struct {
		name    string
		results []domain.InputResult
		want    []string
	}{
		{"healthy", []domain.InputResult{{StatusCode: 200, Duration: 10 * time.Millisecond}}, nil},
		{"server error", []domain.InputResult{{StatusCode: 500}}, []string{"5xx"}},
		{"slow", []domain.InputResult{{StatusCode: 200, Duration: 2 * time.Second}}, []string{"slow"}},
		{"unreachable", []domain.InputResult{{Err: errors.New("timeout")}}, []string{"down"}},
		{"any input matches", []domain.InputResult{{StatusCode: 200}, {StatusCode: 502}}, []string{"5xx"}},
		{"several triggers", []domain.InputResult{{StatusCode: 503, Duration: 3 * time.Second}}, []string{"5xx", "slow"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, tr := range runner.Evaluate([]domain.Trigger{serverErrors, slow, down}, tt.results) {
				got = append(got, tr.Name)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("fired = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("fired = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestMatches_Operators(t *testing.T) {
	r := domain.InputResult{StatusCode: 404}
	tests := []struct {
		op   domain.Op
		v    float64
		want bool
	}{
		{domain.OpGT, 400, true},
		{domain.OpGTE, 404, true},
		{domain.OpLT, 404, false},
		{domain.OpLTE, 404, true},
		{domain.OpEQ, 404, true},
		{domain.OpNE, 404, false},
	}
	for _, tt := range tests {
		c := domain.Condition{Field: domain.FieldStatusCode, Op: tt.op, Value: tt.v}
		if got := runner.Matches(c, r); got != tt.want {
			t.Errorf("%s %v: got %v, want %v", tt.op, tt.v, got, tt.want)
		}
	}

	failed := domain.InputResult{Err: errors.New("refused")}
	if runner.Matches(domain.Condition{Field: domain.FieldStatusCode, Op: domain.OpNE, Value: 200}, failed) {
		t.Error("status condition matched a request with no response")
	}
}

func TestHTTPExecutor_Query(t *testing.T) {
	var gotMethod, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotMethod = req.Method
		gotHeader = req.Header.Get("X-Probe")
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	body := `{"ping":true}`
	res := runner.NewHTTPExecutor().Query(context.Background(), domain.Input{
		URL:            srv.URL,
		Method:         http.MethodPost,
		Headers:        map[string]string{"X-Probe": "1"},
		Body:           &body,
		TimeoutSeconds: 5,
	})
	if res.Err != nil || res.StatusCode != http.StatusTeapot {
		t.Fatalf("result = %+v", res)
	}
	if gotMethod != http.MethodPost || gotHeader != "1" {
		t.Errorf("method = %s, header = %q", gotMethod, gotHeader)
	}
}

func TestHTTPExecutor_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := runner.NewHTTPExecutor().Query(ctx, domain.Input{URL: srv.URL, Method: http.MethodGet, TimeoutSeconds: 30})
	if res.Err == nil {
		t.Fatal("expected a timeout error")
	}
}
