package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSigningSecret = "0123456789abcdef"

type captureAuditor struct {
	mu     sync.Mutex
	events []ModerationEvent
}

func (c *captureAuditor) Record(ctx context.Context, event ModerationEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureAuditor) snapshot() []ModerationEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ModerationEvent(nil), c.events...)
}

func newTestConfig() *Config {
	return &Config{
		Env:              "test",
		PublicBaseURL:    "https://safecitymap.example",
		AppSigningSecret: testSigningSecret,
		GeocodeDebounce:  geocodeDebounceDefault,
		SessionIdleTTL:   time.Hour,
	}
}

func newTestServer(t *testing.T) (*App, *gin.Engine, *clock.Mock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clk := newMockClockAt(t, time.Date(2025, time.February, 16, 9, 0, 0, 0, time.UTC))
	app := newApp(newTestConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), clk)
	app.seeds = mustSeedReports(t)
	app.geocoder = &stubGeocoder{result: &GeocodeResult{Address: "Профсоюзная улица, 140", City: "Москва"}}
	t.Cleanup(app.workspaces.CloseAll)
	return app, app.router(), clk
}

// testClient keeps the session cookie between requests like a browser.
type testClient struct {
	t       *testing.T
	handler http.Handler
	cookies map[string]*http.Cookie
}

func newTestClient(t *testing.T, handler http.Handler) *testClient {
	return &testClient{t: t, handler: handler, cookies: map[string]*http.Cookie{}}
}

func (tc *testClient) do(method, target string, body any) *httptest.ResponseRecorder {
	tc.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(tc.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range tc.cookies {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}

	rec := httptest.NewRecorder()
	tc.handler.ServeHTTP(rec, req)
	for _, cookie := range rec.Result().Cookies() {
		tc.cookies[cookie.Name] = cookie
	}
	return rec
}

func (tc *testClient) login(role string) SessionState {
	tc.t.Helper()
	rec := tc.do(http.MethodPost, "/api/v1/auth/login", gin.H{"role": role})
	require.Equal(tc.t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeJSON[SessionState](tc.t, rec)
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type reportsResponse struct {
	Reports []Report `json:"reports"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	View    View   `json:"view"`
}

func TestAnonymousSessionIsNotStored(t *testing.T) {
	app, router, _ := newTestServer(t)
	client := newTestClient(t, router)

	rec := client.do(http.MethodGet, "/api/v1/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decodeJSON[SessionState](t, rec)
	assert.Equal(t, RoleNone, state.Role)
	assert.Equal(t, ViewLogin, state.View)
	assert.Equal(t, districtCenter, state.Center)
	assert.Equal(t, categoryOrder, state.Filters)

	for _, target := range []string{"/api/v1/categories", "/api/v1/notification", "/api/v1/session"} {
		for i := 0; i < 50; i++ {
			client.do(http.MethodGet, target, nil)
		}
	}
	rec = client.do(http.MethodPost, "/api/v1/view", gin.H{"view": "dashboard"})
	assert.Equal(t, ViewLogin, decodeJSON[map[string]View](t, rec)["view"])
	client.do(http.MethodPost, "/api/v1/auth/logout", nil)

	assert.Empty(t, client.cookies)
	assert.Equal(t, 0, app.workspaces.Len())
}

func TestLoginIssuesSessionCookie(t *testing.T) {
	app, router, _ := newTestServer(t)
	client := newTestClient(t, router)

	state := client.login("user")
	cookie := client.cookies[sessionCookieName]
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	sessionID, err := app.verifySessionToken(cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, sessionID, state.ID)

	// The same cookie keeps the same workspace.
	rec := client.do(http.MethodGet, "/api/v1/session", nil)
	assert.Equal(t, sessionID, decodeJSON[SessionState](t, rec).ID)
	client.login("admin")
	assert.Equal(t, cookie.Value, client.cookies[sessionCookieName].Value)
	assert.Equal(t, 1, app.workspaces.Len())
}

func TestTamperedCookieStartsFreshSession(t *testing.T) {
	app, router, _ := newTestServer(t)
	client := newTestClient(t, router)
	client.login("user")
	original := client.cookies[sessionCookieName].Value

	client.cookies[sessionCookieName] = &http.Cookie{Name: sessionCookieName, Value: original + "x"}
	rec := client.do(http.MethodGet, "/api/v1/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, RoleNone, decodeJSON[SessionState](t, rec).Role)

	client.login("user")
	assert.NotEqual(t, original, client.cookies[sessionCookieName].Value)
	assert.Equal(t, 2, app.workspaces.Len())
}

func TestSessionCreationIsRateLimitedPerIP(t *testing.T) {
	app, router, clk := newTestServer(t)

	for i := 0; i < sessionRateLimitRequests; i++ {
		newTestClient(t, router).login("user")
	}
	rec := newTestClient(t, router).do(http.MethodPost, "/api/v1/auth/login", gin.H{"role": "user"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeJSON[errorResponse](t, rec).Error)
	assert.Equal(t, sessionRateLimitRequests, app.workspaces.Len())

	// An existing session can still sign in again.
	client := newTestClient(t, router)
	clk.Add(sessionRateLimitWindow)
	client.login("user")
	for i := 0; i < sessionRateLimitRequests; i++ {
		client.login("admin")
	}

	// Another address has its own budget.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"role":"user"}`))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.7:4242"
	other := httptest.NewRecorder()
	router.ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestReportSubmissionIsRateLimitedPerIP(t *testing.T) {
	_, router, _ := newTestServer(t)
	client := newTestClient(t, router)
	client.login("user")

	for i := 0; i < reportRateLimitRequests; i++ {
		rec := client.do(http.MethodPost, "/api/v1/reports", gin.H{"address": "ул. Тестовая, 1"})
		require.Equal(t, http.StatusCreated, rec.Code, "submission %d", i)
	}
	rec := client.do(http.MethodPost, "/api/v1/reports", gin.H{"address": "ул. Тестовая, 1"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeJSON[errorResponse](t, rec).Error)

	rec = client.do(http.MethodGet, "/api/v1/reports", nil)
	assert.Len(t, decodeJSON[reportsResponse](t, rec).Reports, 4+reportRateLimitRequests)

	metrics := httptest.NewRecorder()
	router.ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, metrics.Body.String(), `safecity_reports_rejected_total{code="rate_limited"} 1`)
}

func TestDataEndpointsRequireSignIn(t *testing.T) {
	_, router, _ := newTestServer(t)
	client := newTestClient(t, router)

	for _, target := range []string{"/api/v1/reports", "/api/v1/dashboard", "/api/v1/draft", "/api/v1/admin/reports"} {
		rec := client.do(http.MethodGet, target, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
		body := decodeJSON[errorResponse](t, rec)
		assert.Equal(t, "unauthorized", body.Error)
		assert.Equal(t, ViewLogin, body.View)
	}

	rec := client.do(http.MethodGet, "/api/v1/categories", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUserSessionFlow(t *testing.T) {
	_, router, _ := newTestServer(t)
	client := newTestClient(t, router)

	state := client.login("user")
	assert.Equal(t, RoleUser, state.Role)
	assert.Equal(t, ViewMap, state.View)
	require.NotNil(t, state.Notification)
	assert.Equal(t, "Добро пожаловать в Safe City Map", state.Notification.Message)

	rec := client.do(http.MethodGet, "/api/v1/reports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeJSON[reportsResponse](t, rec).Reports, 4)

	rec = client.do(http.MethodPost, "/api/v1/reports", gin.H{"address": "ул. Тестовая, 1", "category": "Двор"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Report       Report        `json:"report"`
		Notification *Notification `json:"notification"`
		Draft        ReportDraft   `json:"draft"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, StatusPending, created.Report.Status)
	assert.Equal(t, CategoryCourtyard, created.Report.Category)
	assert.Equal(t, selfAuthor, created.Report.Author)
	require.NotNil(t, created.Notification)
	assert.Equal(t, msgReportSubmitted, created.Notification.Message)
	assert.Equal(t, "", created.Draft.Address)

	rec = client.do(http.MethodGet, "/api/v1/reports", nil)
	reports := decodeJSON[reportsResponse](t, rec).Reports
	require.Len(t, reports, 5)
	assert.Equal(t, created.Report.ID, reports[0].ID)

	rec = client.do(http.MethodGet, "/api/v1/reports/mine", nil)
	assert.Len(t, decodeJSON[reportsResponse](t, rec).Reports, 1)

	rec = client.do(http.MethodGet, "/api/v1/dashboard", nil)
	stats := decodeJSON[DashboardStats](t, rec)
	assert.Equal(t, 5, stats.TotalReports)
	assert.Equal(t, 2, stats.Pending)

	rec = client.do(http.MethodGet, "/api/v1/admin/reports", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = client.do(http.MethodPost, "/api/v1/view", gin.H{"view": "admin"})
	assert.Equal(t, ViewMap, decodeJSON[map[string]View](t, rec)["view"])
	rec = client.do(http.MethodPost, "/api/v1/view", gin.H{"view": "dashboard"})
	assert.Equal(t, ViewDashboard, decodeJSON[map[string]View](t, rec)["view"])
	rec = client.do(http.MethodGet, "/api/v1/view", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = client.do(http.MethodPost, "/api/v1/auth/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, RoleNone, decodeJSON[SessionState](t, rec).Role)
	rec = client.do(http.MethodGet, "/api/v1/reports", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitWithoutAddressIsRejected(t *testing.T) {
	_, router, _ := newTestServer(t)
	client := newTestClient(t, router)
	client.login("user")

	rec := client.do(http.MethodPost, "/api/v1/reports", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeJSON[errorResponse](t, rec)
	assert.Equal(t, "address_required", body.Error)
	assert.Equal(t, msgAddressRequired, body.Message)

	rec = client.do(http.MethodGet, "/api/v1/notification", nil)
	var notification struct {
		Notification *Notification `json:"notification"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &notification))
	require.NotNil(t, notification.Notification)
	assert.Equal(t, msgAddressRequired, notification.Notification.Message)

	rec = client.do(http.MethodGet, "/api/v1/reports", nil)
	assert.Len(t, decodeJSON[reportsResponse](t, rec).Reports, 4)

	metrics := httptest.NewRecorder()
	router.ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, metrics.Body.String(), `safecity_reports_rejected_total{code="address_required"} 1`)
}

func TestSubmitRejectsInvalidPayload(t *testing.T) {
	_, router, _ := newTestServer(t)
	client := newTestClient(t, router)
	client.login("user")

	rec := client.do(http.MethodPost, "/api/v1/reports", gin.H{"address": "ул. Тестовая, 1", "category": "Парки"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeJSON[errorResponse](t, rec)
	assert.Equal(t, "invalid_payload", body.Error)
	assert.Contains(t, body.Message, "category")
}

func TestFilterToggleHidesCategory(t *testing.T) {
	_, router, _ := newTestServer(t)
	client := newTestClient(t, router)
	client.login("user")

	rec := client.do(http.MethodPost, "/api/v1/filters/toggle", gin.H{"category": "lighting"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, decodeJSON[map[string][]Category](t, rec)["filters"], CategoryLighting)

	rec = client.do(http.MethodGet, "/api/v1/reports", nil)
	assert.Equal(t, []int64{2, 3, 4}, reportIDs(decodeJSON[reportsResponse](t, rec).Reports))

	client.do(http.MethodPost, "/api/v1/filters/toggle", gin.H{"category": "Освещение"})
	rec = client.do(http.MethodGet, "/api/v1/filters", nil)
	assert.Equal(t, categoryOrder, decodeJSON[map[string][]Category](t, rec)["filters"])
}

func TestMapCenterResolvesAddressAfterQuietPeriod(t *testing.T) {
	_, router, clk := newTestServer(t)
	client := newTestClient(t, router)
	client.login("user")

	rec := client.do(http.MethodPost, "/api/v1/map/center", gin.H{"lat": 55.7, "lng": 37.5})
	require.Equal(t, http.StatusOK, rec.Code)
	var center struct {
		Center Coords `json:"center"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &center))
	assert.Equal(t, Coords{55.650, 37.5}, center.Center)

	clk.Add(geocodeDebounceDefault)
	require.Eventually(t, func() bool {
		draft := decodeJSON[ReportDraft](t, client.do(http.MethodGet, "/api/v1/draft", nil))
		return draft.Address == "Профсоюзная улица, 140"
	}, eventuallyWait, eventuallyTick)
}

func TestTypingBlocksGeocodedAddress(t *testing.T) {
	_, router, clk := newTestServer(t)
	client := newTestClient(t, router)
	client.login("user")

	rec := client.do(http.MethodPut, "/api/v1/draft", gin.H{"address": "мой подъезд"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = client.do(http.MethodPost, "/api/v1/draft/typing", gin.H{"typing": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeJSON[ReportDraft](t, rec).Typing)

	client.do(http.MethodPost, "/api/v1/map/center", gin.H{"lat": 55.63, "lng": 37.51})
	clk.Add(time.Second)

	assert.Never(t, func() bool {
		draft := decodeJSON[ReportDraft](t, client.do(http.MethodGet, "/api/v1/draft", nil))
		return draft.Address != "мой подъезд"
	}, neverWait, eventuallyTick)
}

func TestAdminModerationFlow(t *testing.T) {
	app, router, _ := newTestServer(t)
	auditor := &captureAuditor{}
	app.auditor = auditor
	client := newTestClient(t, router)

	state := client.login("admin")
	assert.Equal(t, ViewAdmin, state.View)
	assert.Equal(t, "Вход выполнен как администратор", state.Notification.Message)

	rec := client.do(http.MethodGet, "/api/v1/admin/reports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeJSON[reportsResponse](t, rec).Reports, 4)

	rec = client.do(http.MethodPost, "/api/v1/admin/reports/3/status", gin.H{"status": "принято"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated struct {
		Changed      bool          `json:"changed"`
		Report       Report        `json:"report"`
		Notification *Notification `json:"notification"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.True(t, updated.Changed)
	assert.Equal(t, StatusAccepted, updated.Report.Status)
	assert.Equal(t, `Статус обновлен на "принято"`, updated.Notification.Message)

	rec = client.do(http.MethodPost, "/api/v1/admin/reports/999/status", gin.H{"status": "resolved"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeJSON[map[string]any](t, rec)["changed"])

	rec = client.do(http.MethodPost, "/api/v1/admin/reports/3/status", gin.H{"status": "closed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = client.do(http.MethodDelete, "/api/v1/admin/reports/2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeJSON[map[string]any](t, rec)["changed"])

	rec = client.do(http.MethodDelete, "/api/v1/admin/reports/2", nil)
	assert.Equal(t, false, decodeJSON[map[string]any](t, rec)["changed"])

	rec = client.do(http.MethodDelete, "/api/v1/admin/reports/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = client.do(http.MethodGet, "/api/v1/admin/reports", nil)
	assert.Equal(t, []int64{1, 3, 4}, reportIDs(decodeJSON[reportsResponse](t, rec).Reports))

	events := auditor.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, moderationActionStatus, events[0].Action)
	assert.Equal(t, int64(3), events[0].ReportID)
	assert.Equal(t, StatusAccepted, events[0].Status)
	assert.Equal(t, moderationActionDelete, events[1].Action)
	assert.Equal(t, int64(2), events[1].ReportID)

	metrics := httptest.NewRecorder()
	router.ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, metrics.Body.String(), `safecity_moderation_actions_total{action="deleted"} 1`)
	assert.Contains(t, metrics.Body.String(), `safecity_moderation_actions_total{action="status_changed"} 1`)
	assert.Contains(t, metrics.Body.String(), "safecity_live_workspaces 1")
}

func TestAdminLoginChecksConfiguredPassword(t *testing.T) {
	app, router, _ := newTestServer(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("moderator-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	app.cfg.AdminPasswordHash = string(hash)
	client := newTestClient(t, router)

	rec := client.do(http.MethodPost, "/api/v1/auth/login", gin.H{"role": "admin", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credentials", decodeJSON[errorResponse](t, rec).Error)

	rec = client.do(http.MethodGet, "/api/v1/session", nil)
	assert.Equal(t, RoleNone, decodeJSON[SessionState](t, rec).Role)
	assert.Equal(t, 0, app.workspaces.Len())

	rec = client.do(http.MethodPost, "/api/v1/auth/login", gin.H{"role": "admin", "password": "moderator-pass"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, RoleAdmin, decodeJSON[SessionState](t, rec).Role)

	// Plain users never need the password.
	other := newTestClient(t, router)
	assert.Equal(t, RoleUser, other.login("user").Role)
}

func TestLoginRejectsUnknownRole(t *testing.T) {
	_, router, _ := newTestServer(t)
	client := newTestClient(t, router)

	rec := client.do(http.MethodPost, "/api/v1/auth/login", gin.H{"role": "none"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = client.do(http.MethodPost, "/api/v1/auth/login", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	_, router, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ok"))
}
