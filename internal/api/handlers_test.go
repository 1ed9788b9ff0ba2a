package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inseam/inseam/internal/agent"
	"github.com/inseam/inseam/internal/auth"
	"github.com/inseam/inseam/internal/config"
	"github.com/inseam/inseam/internal/connector"
	"github.com/inseam/inseam/internal/domain"
	"github.com/inseam/inseam/internal/pipeline"
	"github.com/inseam/inseam/internal/service/tracker"
	"github.com/inseam/inseam/internal/service/updates"
	"github.com/inseam/inseam/internal/storage"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeTrackerRepo struct {
	trackers map[string]*domain.Tracker
	rows     map[string][]domain.Row
	patched  map[string]map[string]interface{}
}

func newFakeTrackerRepo() *fakeTrackerRepo {
	return &fakeTrackerRepo{
		trackers: map[string]*domain.Tracker{},
		rows:     map[string][]domain.Row{},
		patched:  map[string]map[string]interface{}{},
	}
}

func (f *fakeTrackerRepo) Get(ctx context.Context, id string) (*domain.Tracker, error) {
	t, ok := f.trackers[id]
	if !ok {
		return nil, tracker.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTrackerRepo) ListByUser(ctx context.Context, userID string) ([]domain.Tracker, error) {
	var out []domain.Tracker
	for _, t := range f.trackers {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeTrackerRepo) Create(ctx context.Context, t *domain.Tracker) (string, error) {
	for _, existing := range f.trackers {
		if existing.UserID == t.UserID && existing.Slug == t.Slug {
			return "", tracker.ErrDuplicateSlug
		}
	}
	cp := *t
	f.trackers[t.ID] = &cp
	return t.ID, nil
}

func (f *fakeTrackerRepo) Update(ctx context.Context, t *domain.Tracker) error {
	if _, ok := f.trackers[t.ID]; !ok {
		return tracker.ErrNotFound
	}
	cp := *t
	f.trackers[t.ID] = &cp
	return nil
}

func (f *fakeTrackerRepo) Delete(ctx context.Context, id string) error {
	if _, ok := f.trackers[id]; !ok {
		return tracker.ErrNotFound
	}
	delete(f.trackers, id)
	return nil
}

func (f *fakeTrackerRepo) ListRows(ctx context.Context, trackerID string) ([]domain.Row, error) {
	return f.rows[trackerID], nil
}

func (f *fakeTrackerRepo) FindRowByValue(ctx context.Context, trackerID, key string, value interface{}) (*domain.Row, error) {
	for _, r := range f.rows[trackerID] {
		if fmt.Sprintf("%v", r.Data[key]) == fmt.Sprintf("%v", value) {
			cp := r
			return &cp, nil
		}
	}
	return nil, tracker.ErrRowNotFound
}

func (f *fakeTrackerRepo) InsertRow(ctx context.Context, row *domain.Row) (string, error) {
	f.rows[row.TrackerID] = append(f.rows[row.TrackerID], *row)
	return row.ID, nil
}

func (f *fakeTrackerRepo) PatchRow(ctx context.Context, rowID string, data map[string]interface{}) error {
	f.patched[rowID] = data
	return nil
}

type fakeUpdateRepo struct {
	updates map[string]*domain.CentralizedUpdate
}

func newFakeUpdateRepo() *fakeUpdateRepo {
	return &fakeUpdateRepo{updates: map[string]*domain.CentralizedUpdate{}}
}

func (f *fakeUpdateRepo) Insert(ctx context.Context, u *domain.CentralizedUpdate) (string, bool, error) {
	for _, existing := range f.updates {
		if existing.UserID == u.UserID && existing.Source == u.Source && existing.SourceID == u.SourceID {
			return existing.ID, false, nil
		}
	}
	cp := *u
	f.updates[u.ID] = &cp
	return u.ID, true, nil
}

func (f *fakeUpdateRepo) Get(ctx context.Context, id string) (*domain.CentralizedUpdate, error) {
	u, ok := f.updates[id]
	if !ok {
		return nil, updates.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUpdateRepo) List(ctx context.Context, userID string, filter updates.ListFilter) ([]domain.CentralizedUpdate, error) {
	var out []domain.CentralizedUpdate
	for _, u := range f.updates {
		if u.UserID != userID {
			continue
		}
		if filter.Pending && u.Processed {
			continue
		}
		out = append(out, *u)
	}
	return out, nil
}

func (f *fakeUpdateRepo) MarkApproved(ctx context.Context, id string) error {
	u, ok := f.updates[id]
	if !ok {
		return updates.ErrNotFound
	}
	u.Approved, u.Processed = true, true
	return nil
}

func (f *fakeUpdateRepo) MarkRejected(ctx context.Context, id string) error {
	u, ok := f.updates[id]
	if !ok {
		return updates.ErrNotFound
	}
	u.Rejected, u.Processed = true, true
	return nil
}

func (f *fakeUpdateRepo) MarkAllViewed(ctx context.Context, userID string) (int, error) {
	n := 0
	now := time.Now().UTC()
	for _, u := range f.updates {
		if u.UserID == userID && u.ViewedAt == nil {
			u.ViewedAt = &now
			n++
		}
	}
	return n, nil
}

type fakeEmailSource struct {
	emails []domain.Email
}

func (f *fakeEmailSource) FetchRecentEmails(ctx context.Context, grantID string, count int) ([]domain.Email, error) {
	if count > len(f.emails) {
		count = len(f.emails)
	}
	return f.emails[:count], nil
}

type fakeConnections struct {
	conns map[string]*domain.EmailConnection
}

func newFakeConnections() *fakeConnections {
	return &fakeConnections{conns: map[string]*domain.EmailConnection{}}
}

func (f *fakeConnections) Get(ctx context.Context, userID string) (*domain.EmailConnection, error) {
	c, ok := f.conns[userID]
	if !ok {
		return nil, connector.ErrNotConnected
	}
	return c, nil
}

func (f *fakeConnections) Save(ctx context.Context, c *domain.EmailConnection) (err error) {
	f.conns[c.UserID] = c
	return nil
}

func (f *fakeConnections) SetAutoRefresh(ctx context.Context, userID string, enabled bool) error {
	c, ok := f.conns[userID]
	if !ok {
		return connector.ErrNotConnected
	}
	c.AutoRefresh = enabled
	return nil
}

func (f *fakeConnections) Delete(ctx context.Context, userID string) error {
	delete(f.conns, userID)
	return nil
}

type fakeMatcher struct {
	fn func(email domain.Email) (*agent.MatchResult, error)
}

func (f *fakeMatcher) MatchAndExtract(ctx context.Context, email domain.Email, trackers []domain.Tracker) (*agent.MatchResult, error) {
	return f.fn(email)
}

// =============================================================================
// HARNESS
// =============================================================================

type testEnv struct {
	handler     http.Handler
	trackerRepo *fakeTrackerRepo
	updateRepo  *fakeUpdateRepo
	connections *fakeConnections
	connector   *connector.Client
	store       *storage.MemoryStore
}

func newTestEnv(t *testing.T, emails []domain.Email, matchFn func(domain.Email) (*agent.MatchResult, error)) *testEnv {
	t.Helper()

	trackerRepo := newFakeTrackerRepo()
	updateRepo := newFakeUpdateRepo()
	connections := newFakeConnections()
	store := storage.NewMemoryStore(0)

	if matchFn == nil {
		matchFn = func(email domain.Email) (*agent.MatchResult, error) {
			return &agent.MatchResult{Category: domain.CategoryGeneral, Title: email.Subject}, nil
		}
	}

	updatesSvc := updates.NewService(updateRepo, trackerRepo, nil)
	trackersSvc := tracker.NewService(trackerRepo)
	fetcher := pipeline.NewFetcher(&fakeEmailSource{emails: emails}, connections, store)
	orchestrator := pipeline.NewOrchestrator(fetcher, &fakeMatcher{fn: matchFn}, trackerRepo, updatesSvc, store, 5, 5)

	conn := connector.NewClient(config.ConnectorConfig{BaseURL: "https://connector.test", ClientID: "cid"})
	handlers := NewHandlers(orchestrator, updatesSvc, trackersSvc, conn, connections, "http://localhost:8080")

	authManager := auth.NewManager(config.AuthConfig{Enabled: false}, "http://localhost:8080")
	return &testEnv{
		handler:     SetupRoutes(handlers, authManager),
		trackerRepo: trackerRepo,
		updateRepo:  updateRepo,
		connections: connections,
		connector:   conn,
		store:       store,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	return e.doWithCookies(t, method, path, body, nil)
}

func (e *testEnv) doWithCookies(t *testing.T, method, path string, body interface{}, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-User-ID", "user-1")
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// =============================================================================
// TESTS
// =============================================================================

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProcessInbox_NotConnected(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(t, http.MethodPost, "/api/inbox/process", map[string]int{"count": 5})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "not_connected", body["reason"])
}

func TestProcessInbox_AllCaughtUp(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.connections.conns["user-1"] = &domain.EmailConnection{UserID: "user-1", GrantID: "grant-1"}

	rec := env.do(t, http.MethodPost, "/api/inbox/process", map[string]int{"count": 5})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Nil(t, body["workflow_id"])
	assert.Contains(t, body["message"], "caught up")
}

func TestProcessInbox_RunsBatchAndStatusIsPollable(t *testing.T) {
	emails := []domain.Email{
		{ID: "email-1", Subject: "Order shipped", ReceivedAt: time.Now()},
		{ID: "email-2", Subject: "Invoice", ReceivedAt: time.Now()},
	}
	env := newTestEnv(t, emails, nil)
	env.connections.conns["user-1"] = &domain.EmailConnection{UserID: "user-1", GrantID: "grant-1"}

	rec := env.do(t, http.MethodPost, "/api/inbox/process", map[string]int{"count": 5})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	workflowID, _ := body["workflow_id"].(string)
	require.NotEmpty(t, workflowID)

	stats := body["statistics"].(map[string]interface{})
	assert.Equal(t, float64(2), stats["total_emails"])
	assert.Equal(t, float64(2), stats["successful_updates"])

	rec = env.do(t, http.MethodGet, "/api/inbox/status/"+workflowID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody(t, rec)
	assert.Equal(t, storage.WorkflowCompleted, status["status"])
}

func TestBatchStatus_NotFound(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rec := env.do(t, http.MethodGet, "/api/inbox/status/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConnectionLifecycle(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(t, http.MethodGet, "/api/connection/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["connected"])

	env.connections.conns["user-1"] = &domain.EmailConnection{UserID: "user-1", GrantID: "grant-1", Email: "me@example.com"}

	rec = env.do(t, http.MethodGet, "/api/connection/", nil)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, "me@example.com", body["email"])

	rec = env.do(t, http.MethodPost, "/api/connection/auto-refresh", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.connections.conns["user-1"].AutoRefresh)

	rec = env.do(t, http.MethodDelete, "/api/connection/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, ok := env.connections.conns["user-1"]
	assert.False(t, ok)
}

func TestConnectionAuthURL(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(t, http.MethodPost, "/api/connection/auth-url", map[string]string{"provider": "google"})
	require.Equal(t, http.StatusOK, rec.Code)

	authURL, _ := decodeBody(t, rec)["auth_url"].(string)
	assert.Contains(t, authURL, "https://connector.test")
	assert.Contains(t, authURL, "client_id=cid")
	assert.Contains(t, authURL, "provider=google")

	// The state in the URL must match the cookie the callback verifies
	state := connectStateCookie(t, rec)
	assert.Contains(t, authURL, "state="+state.Value)
}

func connectStateCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "connect_state" {
			return c
		}
	}
	t.Fatal("connect_state cookie not set")
	return nil
}

type fakeConnectorHTTP struct {
	body string
}

func (f *fakeConnectorHTTP) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(f.body)),
	}, nil
}

func TestConnectionCallbackVerifiesState(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.connector.SetHTTPClient(&fakeConnectorHTTP{body: `{"grant_id":"grant-9","email":"me@example.com"}`})

	rec := env.do(t, http.MethodPost, "/api/connection/auth-url", map[string]string{"provider": "google"})
	require.Equal(t, http.StatusOK, rec.Code)
	state := connectStateCookie(t, rec)

	// No state cookie on the request
	rec = env.do(t, http.MethodPost, "/api/connection/callback",
		map[string]string{"code": "c-1", "state": state.Value})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Cookie present but the posted state is forged
	rec = env.doWithCookies(t, http.MethodPost, "/api/connection/callback",
		map[string]string{"code": "c-1", "state": "forged"}, []*http.Cookie{state})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.connections.conns)

	// Matching state completes the exchange and stores the grant
	rec = env.doWithCookies(t, http.MethodPost, "/api/connection/callback",
		map[string]string{"code": "c-1", "state": state.Value}, []*http.Cookie{state})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, env.connections.conns, "user-1")
	assert.Equal(t, "grant-9", env.connections.conns["user-1"].GrantID)
}

func TestTrackerCRUD(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	payload := map[string]interface{}{
		"name":        "Orders",
		"primary_key": "order_number",
		"columns": []map[string]interface{}{
			{"name": "Order Number", "key": "order_number", "type": "text", "ai_enabled": true},
		},
	}
	rec := env.do(t, http.MethodPost, "/api/trackers/", payload)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody(t, rec)
	trackerID, _ := created["id"].(string)
	require.NotEmpty(t, trackerID)
	assert.Equal(t, "orders", created["slug"])

	// Duplicate name for the same user conflicts on slug
	rec = env.do(t, http.MethodPost, "/api/trackers/", payload)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/trackers/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody(t, rec)["trackers"].([]interface{})
	assert.Len(t, list, 1)

	rec = env.do(t, http.MethodGet, "/api/trackers/"+trackerID+"/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/trackers/"+trackerID+"/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/trackers/"+trackerID+"/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTracker_InvalidColumnTypeRejected(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(t, http.MethodPost, "/api/trackers/", map[string]interface{}{
		"name": "Broken",
		"columns": []map[string]interface{}{
			{"name": "X", "key": "x", "type": "geolocation"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateReviewFlow(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	trk := &domain.Tracker{
		ID: "trk-1", UserID: "user-1", Name: "Orders", Slug: "orders", PrimaryKey: "order_number",
		Columns: []domain.Column{
			{ID: "c1", Name: "Order Number", Key: "order_number", Type: domain.ColumnText, AIEnabled: true},
			{ID: "c2", Name: "Status", Key: "status", Type: domain.ColumnText, AIEnabled: true},
		},
	}
	env.trackerRepo.trackers["trk-1"] = trk
	env.trackerRepo.rows["trk-1"] = []domain.Row{
		{ID: "row-1", TrackerID: "trk-1", Data: map[string]interface{}{"order_number": "A-100", "status": "pending"}},
	}
	env.updateRepo.updates["upd-1"] = &domain.CentralizedUpdate{
		ID: "upd-1", UserID: "user-1", Source: domain.SourceEmail, SourceID: "email-1",
		Proposals: []domain.TrackerProposal{{
			TrackerID: "trk-1", TrackerName: "Orders", RowID: "row-1",
			Updates: []domain.ColumnUpdate{{ColumnKey: "status", ProposedValue: "shipped", Confidence: 85}},
		}},
	}

	rec := env.do(t, http.MethodGet, "/api/updates/?pending=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody(t, rec)["updates"].([]interface{})
	require.Len(t, list, 1)

	rec = env.do(t, http.MethodPost, "/api/updates/upd-1/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"status": "shipped"}, env.trackerRepo.patched["row-1"])

	// Second approve conflicts: the update is already processed
	rec = env.do(t, http.MethodPost, "/api/updates/upd-1/approve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/updates/?pending=true", nil)
	list = decodeBody(t, rec)["updates"].([]interface{})
	assert.Empty(t, list)
}

func TestRejectUpdate_LeavesRowsUntouched(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	env.trackerRepo.trackers["trk-1"] = &domain.Tracker{ID: "trk-1", UserID: "user-1", Name: "Orders", Slug: "orders"}
	env.updateRepo.updates["upd-1"] = &domain.CentralizedUpdate{
		ID: "upd-1", UserID: "user-1", Source: domain.SourceEmail, SourceID: "email-1",
		Proposals: []domain.TrackerProposal{{
			TrackerID: "trk-1", IsNewRow: true,
			Updates: []domain.ColumnUpdate{{ColumnKey: "status", ProposedValue: "shipped"}},
		}},
	}

	rec := env.do(t, http.MethodPost, "/api/updates/upd-1/reject", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Empty(t, env.trackerRepo.rows["trk-1"])
	assert.Empty(t, env.trackerRepo.patched)
	assert.True(t, env.updateRepo.updates["upd-1"].Rejected)
	assert.True(t, env.updateRepo.updates["upd-1"].Processed)
}

func TestUpdateOwnership(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.updateRepo.updates["upd-9"] = &domain.CentralizedUpdate{ID: "upd-9", UserID: "someone-else"}

	rec := env.do(t, http.MethodGet, "/api/updates/upd-9", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMarkAllViewed(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.updateRepo.updates["upd-1"] = &domain.CentralizedUpdate{ID: "upd-1", UserID: "user-1"}
	env.updateRepo.updates["upd-2"] = &domain.CentralizedUpdate{ID: "upd-2", UserID: "user-1"}

	rec := env.do(t, http.MethodPost, "/api/updates/mark-viewed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["marked"])

	rec = env.do(t, http.MethodPost, "/api/updates/mark-viewed", nil)
	assert.Equal(t, float64(0), decodeBody(t, rec)["marked"])
}
