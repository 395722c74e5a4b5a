package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"jobstream/internal/config"
	"jobstream/internal/domain"
	"jobstream/internal/infra/database"
	"jobstream/internal/infra/redisq"
	"jobstream/internal/pipeline"
	"jobstream/internal/testutil"
	"jobstream/internal/usecase"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	srv    *httptest.Server
	q      *redisq.Client
	events *redisq.EventStore
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	rdb, _ := testutil.NewRedis(t)
	q := redisq.NewFromRedis(rdb, config.Queue{Group: "workers", ResultTTL: time.Hour})
	require.NoError(t, q.Init(context.Background(), pipeline.Queues()...))
	events := redisq.NewEventStore(rdb)
	repo := database.NewSetupRepository(testutil.NewTestDB(t, database.Models()...))

	h := &Handler{
		Queue:      q,
		Repo:       repo,
		Setup:      pipeline.Setup{Repo: repo, Orchestrator: pipeline.NewOrchestrator(q, events)},
		Subscriber: usecase.Subscriber{Events: events, PollWindow: 10 * time.Millisecond, BatchSize: 10},
		RetryMs:    3000,
	}
	s := &Server{router: NewRouter(h)}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &testAPI{srv: srv, q: q, events: events}
}

func (a *testAPI) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, a.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestHealthcheck(t *testing.T) {
	a := newTestAPI(t)
	resp, body := a.do(t, http.MethodGet, "/healthcheck", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
}

func TestCreateStoreStartsPipeline(t *testing.T) {
	a := newTestAPI(t)

	resp, body := a.do(t, http.MethodPost, "/stores", `{"name":"Acme","url":"acme.test"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	storeID, _ := body["id"].(string)
	jobID, _ := body["job_id"].(string)
	require.NotEmpty(t, storeID)
	require.NotEmpty(t, jobID)
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	resp, body = a.do(t, http.MethodGet, "/jobs/"+jobID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, jobID, body["id"])
	require.Equal(t, string(domain.StatusDeferred), body["status"])

	resp, body = a.do(t, http.MethodGet, "/stores/"+storeID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, database.StatusSetup, body["status"])
	require.Nil(t, body["data"])
}

func TestCreateStoreRejectsBadRequests(t *testing.T) {
	a := newTestAPI(t)

	resp, _ := a.do(t, http.MethodPost, "/stores", `{"name":`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := a.do(t, http.MethodPost, "/stores", `{"url":"acme.test"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, body["detail"], "name is required")
}

func TestCreateCampaignForUnknownStore(t *testing.T) {
	a := newTestAPI(t)
	resp, _ := a.do(t, http.MethodPost, "/campaigns", `{"name":"Spring","url":"acme.test","store_id":"missing"}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetUnknownJob(t *testing.T) {
	a := newTestAPI(t)
	resp, _ := a.do(t, http.MethodGet, "/jobs/missing", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPreflight(t *testing.T) {
	a := newTestAPI(t)
	resp, _ := a.do(t, http.MethodOptions, "/jobs/job-1/events", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Last-Event-ID")
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestAPI(t)
	resp, err := a.srv.Client().Get(a.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// readStream reads SSE lines until a data line containing until is seen.
func readStream(t *testing.T, a *testAPI, jobID, lastID, until string) (*http.Response, []string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.srv.URL+"/jobs/"+jobID+"/events", nil)
	require.NoError(t, err)
	if lastID != "" {
		req.Header.Set("Last-Event-ID", lastID)
	}

	resp, err := a.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var lines []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		lines = append(lines, line)
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, until) {
			break
		}
	}
	require.NoError(t, sc.Err())
	return resp, lines
}

func dataLines(lines []string) []string {
	var out []string
	for _, l := range lines {
		if strings.HasPrefix(l, "data: ") {
			out = append(out, strings.TrimPrefix(l, "data: "))
		}
	}
	return out
}

func TestJobEventsReplaysAndSkipsMalformed(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()

	first, err := a.events.Append(ctx, "job-1", domain.Progress{Progress: "Crawling page"})
	require.NoError(t, err)
	require.NoError(t, a.events.Rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: domain.EventsKey("job-1"),
		Values: map[string]interface{}{"data": "oops"},
	}).Err())
	done, err := a.events.Append(ctx, "job-1", domain.Progress{Status: domain.ProgressDone, Stage: "done"})
	require.NoError(t, err)

	resp, lines := readStream(t, a, "job-1", "", `"done"`)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	require.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	require.Equal(t, "retry: 3000", lines[0])
	require.Contains(t, lines, "id: "+first)
	require.Contains(t, lines, "id: "+done)
	require.Equal(t, []string{
		`{"progress":"Crawling page"}`,
		`{"status":"done","stage":"done"}`,
	}, dataLines(lines))
}

func TestJobEventsResumesFromLastEventID(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()

	first, err := a.events.Append(ctx, "job-1", domain.Progress{Progress: "one"})
	require.NoError(t, err)
	_, err = a.events.Append(ctx, "job-1", domain.Progress{Progress: "two"})
	require.NoError(t, err)

	_, lines := readStream(t, a, "job-1", first, `"two"`)
	require.Equal(t, []string{`{"progress":"two"}`}, dataLines(lines))
}

func TestJobEventsRejectsMalformedLastEventID(t *testing.T) {
	a := newTestAPI(t)

	req, err := http.NewRequest(http.MethodGet, a.srv.URL+"/jobs/job-1/events", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "garbage")

	resp, err := a.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Contains(t, body["detail"], "Last-Event-ID")

	resp, _ = a.do(t, http.MethodGet, "/jobs/job-1/events?last_id=1-2-3", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJobEventsTailsAndKeepsAlive(t *testing.T) {
	a := newTestAPI(t)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = a.events.Append(context.Background(), "job-1", domain.Progress{Status: domain.ProgressFailed, Reason: "boom"})
	}()

	_, lines := readStream(t, a, "job-1", "", `"failed"`)
	require.Contains(t, lines, ": keepalive")
	require.Equal(t, []string{`{"status":"failed","reason":"boom"}`}, dataLines(lines))
}
