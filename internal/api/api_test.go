package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/tasktracker/internal/storage"
	"github.com/goodtune/tasktracker/internal/storage/memory"
	"github.com/goodtune/tasktracker/internal/tracking"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, cfg Config) (http.Handler, *tracking.TestClock) {
	t.Helper()

	store := memory.Open()
	clock := tracking.NewTestClock(epoch)
	tracker := tracking.NewTracker(store.Sessions(), store.Ledger(), clock, zerolog.Nop())
	return NewServer(cfg, tracker, zerolog.Nop()).Handler(), clock
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestCheckinCheckoutReportFlow(t *testing.T) {
	h, clock := newTestServer(t, Config{})

	rec := do(t, h, http.MethodPost, "/checkin", `{"user":"alice","task":"writing"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var checkin CheckinResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &checkin))
	assert.NotEmpty(t, checkin.SessionID)

	clock.Advance(120 * time.Second)
	rec = do(t, h, http.MethodPost, "/checkout", `{"user":"alice"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/report", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"alice":[{"writing":120}]}`, rec.Body.String())

	clock.Set(epoch.Add(200 * time.Second))
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/checkin/", `{"user":"alice","task":"writing"}`).Code)
	clock.Advance(60 * time.Second)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/checkout/", `{"user":"alice"}`).Code)

	rec = do(t, h, http.MethodGet, "/report/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"alice":[{"writing":180}]}`, rec.Body.String())
}

func TestReportEmpty(t *testing.T) {
	h, _ := newTestServer(t, Config{})

	// An open session alone is not reportable
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/checkin", `{"user":"bob","task":"Eat banana"}`).Code)

	rec := do(t, h, http.MethodGet, "/report", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestReportPreservesOrder(t *testing.T) {
	h, clock := newTestServer(t, Config{})

	for _, step := range []struct{ user, task string }{
		{"zed", "b"},
		{"amy", "x"},
		{"zed", "a"},
	} {
		body := `{"user":"` + step.user + `","task":"` + step.task + `"}`
		require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/checkin", body).Code)
		clock.Advance(1500 * time.Millisecond)
		require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/checkout", `{"user":"`+step.user+`"}`).Code)
	}

	rec := do(t, h, http.MethodGet, "/report", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"zed":[{"b":1},{"a":1}],"amy":[{"x":1}]}`, rec.Body.String())
}

func TestReportMilliseconds(t *testing.T) {
	h, clock := newTestServer(t, Config{ReportUnit: time.Millisecond})

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/checkin", `{"user":"mary","task":"Call Bob"}`).Code)
	clock.Advance(1500 * time.Millisecond)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/checkout", `{"user":"mary"}`).Code)

	rec := do(t, h, http.MethodGet, "/report", "")
	assert.Equal(t, `{"mary":[{"Call Bob":1500}]}`, rec.Body.String())
}

func TestRequestErrors(t *testing.T) {
	h, _ := newTestServer(t, Config{})

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"malformed checkin", "/checkin", `{"user":`, http.StatusBadRequest, "Invalid request body"},
		{"wrong type", "/checkin", `{"user":1,"task":"x"}`, http.StatusBadRequest, "Invalid request body"},
		{"missing task", "/checkin", `{"user":"alice"}`, http.StatusUnprocessableEntity, "field required: task"},
		{"missing user", "/checkout", `{}`, http.StatusUnprocessableEntity, "field required: user"},
		{"empty task", "/checkin", `{"user":"alice","task":""}`, http.StatusBadRequest, "either user or task is an empty string"},
		{"whitespace user", "/checkout", `{"user":"  "}`, http.StatusBadRequest, "user is an empty string"},
		{"checkout idle user", "/checkout", `{"user":"nobody"}`, http.StatusConflict, "nobody doesn't have an active task"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantError, errorMessage(t, rec))
		})
	}
}

func TestDoubleCheckinConflict(t *testing.T) {
	h, _ := newTestServer(t, Config{})

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/checkin", `{"user":"bob","task":"one"}`).Code)

	rec := do(t, h, http.MethodPost, "/checkin", `{"user":"bob","task":"two"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "bob already has an active task", errorMessage(t, rec))
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestServer(t, Config{})

	rec := do(t, h, http.MethodGet, "/checkin", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSessionsEndpoints(t *testing.T) {
	h, _ := newTestServer(t, Config{})

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/checkin", `{"user":"carol","task":"Review"}`).Code)

	rec := do(t, h, http.MethodGet, "/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Sessions []storage.Session `json:"sessions"`
		Count    int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "Review", list.Sessions[0].Task)

	rec = do(t, h, http.MethodGet, "/sessions/carol", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var session storage.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, "carol", session.User)
	assert.True(t, session.StartedAt.Equal(epoch))

	rec = do(t, h, http.MethodGet, "/sessions/dave", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSessionWithEscapedUser(t *testing.T) {
	h, _ := newTestServer(t, Config{})

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/checkin", `{"user":"ops/alice","task":"Deploy"}`).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/checkin", `{"user":"mary jane","task":"Call Bob"}`).Code)

	rec := do(t, h, http.MethodGet, "/sessions/ops%2Falice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var session storage.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, "ops/alice", session.User)
	assert.Equal(t, "Deploy", session.Task)

	rec = do(t, h, http.MethodGet, "/sessions/mary%20jane", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, "mary jane", session.User)

	rec = do(t, h, http.MethodGet, "/sessions/ops%2Fbob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, Config{})

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCORS(t *testing.T) {
	h, _ := newTestServer(t, Config{AllowedOrigins: []string{"http://localhost:8080"}})

	req := httptest.NewRequest(http.MethodOptions, "/checkin/", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:8080", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")

	req = httptest.NewRequest(http.MethodGet, "/report", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcard(t *testing.T) {
	h, _ := newTestServer(t, Config{AllowedOrigins: []string{"*"}})

	req := httptest.NewRequest(http.MethodOptions, "/report", nil)
	req.Header.Set("Origin", "http://anywhere.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://anywhere.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

// brokenTracker fails every operation with an infrastructure error.
type brokenTracker struct{}

var errBackend = errors.New("connection refused")

func (brokenTracker) Checkin(context.Context, string, string) (*storage.Session, error) {
	return nil, errBackend
}

func (brokenTracker) Checkout(context.Context, string) (*storage.ClosedSession, error) {
	return nil, errBackend
}

func (brokenTracker) Report(context.Context) (tracking.Report, error) {
	return tracking.Report{}, errBackend
}

func (brokenTracker) Peek(context.Context, string) (*storage.Session, error) {
	return nil, errBackend
}

func (brokenTracker) OpenSessions(context.Context) ([]storage.Session, error) {
	return nil, errBackend
}

func TestInfrastructureFailuresAreGeneric(t *testing.T) {
	h := NewServer(Config{}, brokenTracker{}, zerolog.Nop()).Handler()

	tests := []struct {
		method, path, body, want string
	}{
		{http.MethodPost, "/checkin", `{"user":"a","task":"b"}`, "Check-in failed"},
		{http.MethodPost, "/checkout", `{"user":"a"}`, "Check-out failed"},
		{http.MethodGet, "/report", "", "Failed to build report"},
		{http.MethodGet, "/sessions", "", "Failed to retrieve sessions"},
		{http.MethodGet, "/sessions/a", "", "Failed to retrieve session"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, tt.want, errorMessage(t, rec))
			assert.NotContains(t, rec.Body.String(), "connection refused")
		})
	}
}

func TestEncodeReportEscapesKeys(t *testing.T) {
	report := tracking.Report{Users: []storage.UserLedger{
		{User: `a"b`, Tasks: []storage.TaskTotal{{Task: "x\ny", Accumulated: 2500 * time.Millisecond}}},
	}}

	body, err := encodeReport(report, time.Second)
	require.NoError(t, err)
	assert.Equal(t, `{"a\"b":[{"x\ny":2}]}`, string(body))
	assert.True(t, json.Valid(body))
}
