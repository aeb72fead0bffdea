package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tariel-x/apppush/internal/config"
	"github.com/tariel-x/apppush/internal/database"
	"github.com/tariel-x/apppush/internal/dispatch"
	"github.com/tariel-x/apppush/internal/handlers"
	"github.com/tariel-x/apppush/internal/models"
	"github.com/tariel-x/apppush/internal/notifier"
	"github.com/tariel-x/apppush/internal/push"
	"github.com/tariel-x/apppush/internal/registry"
	"github.com/tariel-x/apppush/internal/tenant"
	feed "github.com/tariel-x/apppush/internal/websocket"
)

const secret = "test-secret"

type stubTransport struct{}

func (stubTransport) Send(_ context.Context, target push.Target, _ []byte) push.Outcome {
	if strings.HasSuffix(target.Endpoint, "/gone") {
		return push.Outcome{Kind: push.Gone, StatusCode: http.StatusGone, Err: push.ErrGone}
	}
	return push.Outcome{Kind: push.Delivered, StatusCode: http.StatusCreated}
}

type testServer struct {
	router  *gin.Engine
	reg     *registry.GormStore
	tenants *tenant.GormStore
	owner   *models.User
	other   *models.User
	app     *models.App
	token   string
}

func setup(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Initialize(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.NewGormStore(db)
	tenants := tenant.NewGormStore(db)
	hub := feed.NewHub(logger)
	engine := dispatch.New(tenant.NewResolver(tenants), reg, stubTransport{}, logger, dispatch.Options{})
	svc := notifier.New(reg, tenants, engine, hub, logger)

	cfg := &config.Config{
		JWTSecret: secret,
		VAPIDKeys: &config.VAPIDKeys{PublicKey: "BPublicKey", PrivateKey: "priv", Subject: "mailto:x@example.com"},
	}
	h := handlers.New(cfg, svc, hub, websocket.Upgrader{}, logger)
	router := gin.New()
	h.RegisterRoutes(router)

	ctx := context.Background()
	owner, err := tenants.EnsureOwner(ctx, "owner@example.com")
	require.NoError(t, err)
	other, err := tenants.EnsureOwner(ctx, "other@example.com")
	require.NoError(t, err)
	app := &models.App{UserID: owner.ID, Name: "shop", TargetURL: "https://shop.example"}
	require.NoError(t, tenants.Create(ctx, app))

	token, err := handlers.GenerateToken(secret, owner.ID)
	require.NoError(t, err)

	return &testServer{router: router, reg: reg, tenants: tenants, owner: owner, other: other, app: app, token: token}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func subscription(endpoint string) map[string]any {
	return map[string]any{
		"endpoint": endpoint,
		"keys":     map[string]string{"p256dh": "p", "auth": "a"},
	}
}

func TestVAPIDPublicKey(t *testing.T) {
	s := setup(t)
	w := s.do(t, http.MethodGet, "/api/push/vapid-public-key", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"publicKey":"BPublicKey"}`, w.Body.String())
}

func TestSubscribe(t *testing.T) {
	s := setup(t)
	path := "/api/apps/" + s.app.ID + "/subscriptions"

	w := s.do(t, http.MethodPost, path, "", subscription("https://push.example/1"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, s.app.ID, created["app_id"])
	assert.NotContains(t, created, "auth")

	w = s.do(t, http.MethodPost, path, "", subscription("https://push.example/1"))
	require.Equal(t, http.StatusCreated, w.Code)
	subs, err := s.reg.ListByTenant(context.Background(), s.app.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	t.Run("unknown app", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/apps/missing/subscriptions", "", subscription("https://push.example/1"))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing keys", func(t *testing.T) {
		w := s.do(t, http.MethodPost, path, "", map[string]any{"endpoint": "https://push.example/1"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bad endpoint", func(t *testing.T) {
		w := s.do(t, http.MethodPost, path, "", subscription("javascript:alert(1)"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unsubscribe", func(t *testing.T) {
		w := s.do(t, http.MethodDelete, path, "", map[string]string{"endpoint": "https://push.example/1"})
		require.Equal(t, http.StatusOK, w.Code)
		subs, err := s.reg.ListByTenant(context.Background(), s.app.ID)
		require.NoError(t, err)
		assert.Empty(t, subs)
	})
}

func TestSendNotification(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	_, err := s.reg.Upsert(ctx, s.app.ID, "https://push.example/ok", registry.Keys{P256DH: "p", Auth: "a"})
	require.NoError(t, err)
	gone, err := s.reg.Upsert(ctx, s.app.ID, "https://push.example/gone", registry.Keys{P256DH: "p", Auth: "a"})
	require.NoError(t, err)

	body := map[string]string{"app_id": s.app.ID, "title": "Hi", "body": "there"}

	t.Run("requires a token", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/notifications", "", body)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w = s.do(t, http.MethodPost, "/api/notifications", "garbage", body)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("refuses another owner's app", func(t *testing.T) {
		token, err := handlers.GenerateToken(secret, s.other.ID)
		require.NoError(t, err)
		w := s.do(t, http.MethodPost, "/api/notifications", token, body)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("requires title", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/notifications", s.token, map[string]string{"app_id": s.app.ID, "body": "x"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("single app", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/notifications", s.token, body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var res dispatch.Result
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, 1, res.Success)
		assert.Equal(t, 1, res.Failure)
		assert.Equal(t, []string{gone.ID}, res.Removed)
		assert.NotEmpty(t, res.DispatchID)
	})

	t.Run("unknown app is an empty dispatch", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/notifications", s.token, map[string]string{"app_id": "missing", "title": "Hi", "body": "x"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"success_count":0`)
		assert.Contains(t, w.Body.String(), `"fail_count":0`)
	})

	t.Run("all apps", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/notifications", s.token, map[string]string{"app_id": "ALL", "title": "Hi", "body": "x"})
		require.Equal(t, http.StatusOK, w.Code)
		var res dispatch.Result
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, 1, res.Success, "the gone subscription was already pruned")
		assert.Zero(t, res.Failure)
	})
}

func TestOwnerEndpoints(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	second := &models.App{UserID: s.owner.ID, Name: "blog", TargetURL: "https://blog.example"}
	require.NoError(t, s.tenants.Create(ctx, second))

	w := s.do(t, http.MethodPost, "/api/push/subscribe-all", s.token, subscription("https://push.example/dev"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"subscribed":2}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/apps/"+s.app.ID+"/subscriptions/count", s.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"app_id":"`+s.app.ID+`","count":1}`, w.Body.String())

	otherToken, err := handlers.GenerateToken(secret, s.other.ID)
	require.NoError(t, err)
	w = s.do(t, http.MethodGet, "/api/apps/"+s.app.ID+"/subscriptions/count", otherToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodDelete, "/api/apps/"+s.app.ID, otherToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodDelete, "/api/apps/"+s.app.ID, s.token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodDelete, "/api/apps/"+s.app.ID, s.token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	subs, err := s.reg.ListByTenant(ctx, s.app.ID)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestFeedReceivesDispatchSummary(t *testing.T) {
	s := setup(t)
	_, err := s.reg.Upsert(context.Background(), s.app.ID, "https://push.example/ok", registry.Keys{P256DH: "p", Auth: "a"})
	require.NoError(t, err)

	server := httptest.NewServer(s.router)
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/feed?token="

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"bad", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+s.token, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The hub registers the connection asynchronously; retry the dispatch
	// until the feed delivers.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	received := make(chan []byte, 1)
	go func() {
		_, msg, err := conn.ReadMessage()
		if err == nil {
			received <- msg
		}
	}()

	body := map[string]string{"app_id": s.app.ID, "title": "Hi", "body": "there"}
	var msg []byte
	require.Eventually(t, func() bool {
		if w := s.do(t, http.MethodPost, "/api/notifications", s.token, body); w.Code != http.StatusOK {
			return false
		}
		select {
		case msg = <-received:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 4*time.Second, 10*time.Millisecond)

	var env struct {
		Type string                 `json:"type"`
		Data notifier.DispatchEvent `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg, &env))
	assert.Equal(t, "dispatch", env.Type)
	assert.Equal(t, s.app.ID, env.Data.Scope)
	assert.Equal(t, 1, env.Data.Success)
}
