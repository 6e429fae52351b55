package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"canteen-service/internal/feed"
	"canteen-service/internal/models"
	"canteen-service/internal/paycode"
	"canteen-service/internal/service"
	"canteen-service/internal/testutil"
	"canteen-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const adminSecret = "kantin123"

type testEnv struct {
	router  *gin.Engine
	handler *Handler
	repo    *testutil.MemoryRepository
	rice    models.MenuItem
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestEnv(t *testing.T, ready map[string]Pinger) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := testutil.NewMemoryRepository(nil)
	hub := feed.NewHub()
	publisher := worker.NewLocalPublisher(hub)

	tracker := service.NewMisuseTracker(repo, publisher, service.DefaultCancelWindow)
	settings := service.NewSettingsService(repo, publisher, models.DefaultCancelThreshold)
	auth := service.NewAuthService(repo, testutil.NewMemorySessions(nil), time.Hour, adminSecret).
		WithHashCost(bcrypt.MinCost)
	require.NoError(t, auth.EnsurePrincipal(context.Background()))
	auth.OnAuthChange(func(ctx context.Context, signedIn bool) {
		if signedIn {
			_ = settings.EnsureDefault(ctx)
		}
	})

	svc := Services{
		Lifecycle: service.NewOrderLifecycle(repo, tracker, paycode.NewGenerator(), publisher, service.DefaultLifecycleConfig()),
		Tracker:   tracker,
		Settings:  settings,
		Menu:      service.NewMenuService(repo, publisher),
		Auth:      auth,
		Transfer:  service.NewTransferService(repo, publisher),
		Hub:       hub,
	}

	router := gin.New()
	handler := NewHandler(svc, ready)
	handler.SetupRoutes(router)

	return &testEnv{
		router:  router,
		handler: handler,
		repo:    repo,
		rice:    testutil.SeedMenuItem(t, repo, "Nasi Goreng", 120),
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/admin/login", "", gin.H{"secret": adminSecret})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func (e *testEnv) checkout(t *testing.T, pid string) models.Order {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/orders", "", gin.H{
		"pid":      pid,
		"items":    []gin.H{{"item_id": e.rice.ID, "quantity": 2}},
		"subtotal": 1,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var order models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	return order
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestReadiness(t *testing.T) {
	env := newTestEnv(t, map[string]Pinger{
		"postgres": pingerFunc(func(context.Context) error { return nil }),
		"redis":    pingerFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	w := env.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	failed := decode(t, w)["failed"].(map[string]interface{})
	assert.Contains(t, failed, "redis")
	assert.NotContains(t, failed, "postgres")
}

func TestCheckoutCancelAndAutoBlock(t *testing.T) {
	env := newTestEnv(t, nil)

	orders := []models.Order{env.checkout(t, "s001"), env.checkout(t, "S001"), env.checkout(t, "S001")}
	assert.Equal(t, int64(240), orders[0].Subtotal, "client subtotal is ignored")
	assert.Equal(t, "S001", orders[0].PID)

	w := env.do(t, http.MethodGet, "/api/v1/orders?pid=S001", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["orders"], 3)

	var last map[string]interface{}
	for _, order := range orders {
		w := env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/cancel", "", gin.H{"pid": "S001"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		last = decode(t, w)
	}
	assert.Equal(t, true, last["blocked"])
	assert.Equal(t, float64(3), last["count"])
	assert.Equal(t, float64(2), last["threshold"])
	assert.Contains(t, last["message"], "blocked")

	w = env.do(t, http.MethodGet, "/api/v1/students/s001", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["blocked"])

	w = env.do(t, http.MethodPost, "/api/v1/orders", "", gin.H{
		"pid":   "S001",
		"items": []gin.H{{"item_id": env.rice.ID, "quantity": 1}},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, decode(t, w)["error"], "Auto-block")
}

func TestCheckoutErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/v1/orders", "", gin.H{"pid": "S001", "items": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/orders", "", gin.H{"items": []gin.H{{"item_id": env.rice.ID, "quantity": 1}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	order := env.checkout(t, "S001")
	w = env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/cancel", "", gin.H{"pid": "S002"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/orders", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckoutIdempotencyHeader(t *testing.T) {
	env := newTestEnv(t, nil)
	body := gin.H{"pid": "S001", "items": []gin.H{{"item_id": env.rice.ID, "quantity": 1}}}

	send := func() models.Order {
		raw, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "tap-1")
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		require.Equal(t, http.StatusCreated, w.Code)

		var order models.Order
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
		return order
	}

	assert.Equal(t, send().ID, send().ID)
}

func TestAdminAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/admin/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/admin/login", "", gin.H{"secret": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := env.login(t)

	settings, err := env.repo.GetSettings(context.Background())
	require.NoError(t, err)
	require.NotNil(t, settings, "sign-in creates default settings")
	assert.Equal(t, models.DefaultCancelThreshold, settings.CancelThreshold)

	w = env.do(t, http.MethodGet, "/api/v1/admin/orders", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/admin/password", token, gin.H{"secret": "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/admin/password", token, gin.H{"secret": "new-secret"})
	require.Equal(t, http.StatusOK, w.Code)
	fresh := decode(t, w)["token"].(string)

	w = env.do(t, http.MethodGet, "/api/v1/admin/orders", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "old sessions are revoked")

	w = env.do(t, http.MethodPost, "/api/v1/admin/logout", fresh, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/admin/orders", fresh, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminVerifyAndFulfill(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t)
	order := env.checkout(t, "S001")

	w := env.do(t, http.MethodPost, "/api/v1/admin/orders/"+order.ID+"/fulfill", token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/admin/verify-code", token, gin.H{"code": strings.ToLower(order.PaymentCode)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["verified"])
	assert.Equal(t, models.OrderStatusPaidUnverified, body["previous_status"])

	w = env.do(t, http.MethodPost, "/api/v1/admin/verify-code", token, gin.H{"code": order.PaymentCode})
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, false, body["verified"])
	assert.Contains(t, body["message"], "already processed")

	w = env.do(t, http.MethodPost, "/api/v1/admin/verify-code", token, gin.H{"code": "ZZZZZZ99"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/admin/verify-code", token, gin.H{"code": "ABC1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/admin/orders/"+order.ID+"/fulfill", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/admin/orders?status=FULFILLED", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["orders"], 1)

	w = env.do(t, http.MethodGet, "/api/v1/admin/orders?status=LOST", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodDelete, "/api/v1/admin/orders/"+order.ID, token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, http.MethodDelete, "/api/v1/admin/orders/"+order.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminStudentsAndSettings(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t)

	w := env.do(t, http.MethodPost, "/api/v1/admin/students/s001/block", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Blocked by admin", decode(t, w)["block_reason"])

	w = env.do(t, http.MethodGet, "/api/v1/admin/students/S001", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode(t, w)
	assert.Equal(t, true, status["student"].(map[string]interface{})["blocked"])
	assert.Equal(t, float64(0), status["recent_cancellations"])

	w = env.do(t, http.MethodPost, "/api/v1/admin/students/S001/unblock", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["blocked"])

	w = env.do(t, http.MethodPut, "/api/v1/admin/settings", token, gin.H{"cancel_threshold": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/api/v1/admin/settings", token, gin.H{"cancel_threshold": 0})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["cancel_threshold"])

	w = env.do(t, http.MethodPost, "/api/v1/admin/settings/adjust", token, gin.H{"delta": 3})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decode(t, w)["cancel_threshold"])

	w = env.do(t, http.MethodGet, "/api/v1/admin/settings", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decode(t, w)["cancel_threshold"])
}

func TestAdminMenuExportImportReset(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t)

	w := env.do(t, http.MethodPost, "/api/v1/admin/menu", token, gin.H{"name": "Es Teh", "price": 20, "available": false})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	tea := decode(t, w)

	w = env.do(t, http.MethodGet, "/api/v1/menu", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["items"], 1, "unavailable items are hidden from students")

	w = env.do(t, http.MethodPatch, "/api/v1/admin/menu/"+tea["id"].(string)+"/availability", token, gin.H{"available": true})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/admin/menu", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["items"], 2)

	env.checkout(t, "S001")

	w = env.do(t, http.MethodGet, "/api/v1/admin/export", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	var doc models.DataExport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Len(t, doc.Menu, 2)
	assert.Len(t, doc.Orders, 1)

	w = env.do(t, http.MethodPost, "/api/v1/admin/reset", token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/admin/import", token, doc)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode(t, w)
	assert.Equal(t, float64(2), result["menu_applied"])
	assert.Equal(t, float64(1), result["orders_inserted"])

	w = env.do(t, http.MethodDelete, "/api/v1/admin/menu/"+tea["id"].(string), token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestBackendFailureIsGeneric(t *testing.T) {
	env := newTestEnv(t, nil)
	env.repo.FailOn("ListMenuItems", errors.New("pq: relation \"menu_items\" does not exist"))

	w := env.do(t, http.MethodGet, "/api/v1/menu", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, genericErrorMessage, decode(t, w)["error"])
}

func readEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if data, ok := strings.CutPrefix(strings.TrimRight(line, "\n"), "data:"); ok {
			return data
		}
	}
}

func TestMenuStream(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/menu/stream", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	var first []models.MenuItem
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, reader)), &first))
	require.Len(t, first, 1)

	w := env.do(t, http.MethodPost, "/api/v1/admin/menu", token, gin.H{"name": "Bakso", "price": 70})
	require.Equal(t, http.StatusCreated, w.Code)

	var second []models.MenuItem
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, reader)), &second))
	require.Len(t, second, 2)
	assert.Equal(t, "Bakso", second[0].Name)
}

func TestCloseStreamsEndsFeedsOnly(t *testing.T) {
	env := newTestEnv(t, nil)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/orders/stream?pid=S001", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	readEvent(t, reader)

	env.handler.CloseStreams()

	_, err = io.ReadAll(reader)
	require.NoError(t, err, "stream ends cleanly instead of hanging until the client leaves")

	order := env.checkout(t, "S001")
	assert.Equal(t, models.OrderStatusPaidUnverified, order.Status)
}
