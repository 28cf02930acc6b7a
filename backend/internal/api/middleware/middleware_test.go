package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"espeleo-club/backend/config"
	"espeleo-club/backend/pkg/jwt"
	applogger "espeleo-club/backend/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestJWT() *jwt.Manager {
	return jwt.NewManager(&config.AuthConfig{
		JWTSecret:       "test-secret-key-at-least-32-chars!!",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	})
}

func protectedEngine(mgr *jwt.Manager, roles ...string) *gin.Engine {
	r := gin.New()
	handlers := []gin.HandlerFunc{JWTAuth(mgr, nil, zap.NewNop())}
	if len(roles) > 0 {
		handlers = append(handlers, RoleAuth(roles...))
	}
	handlers = append(handlers, func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(CtxUserID))
	})
	r.GET("/p", handlers...)
	return r
}

func doGet(r *gin.Engine, path string, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth_AcceptsAccessToken(t *testing.T) {
	mgr := newTestJWT()
	token, _ := mgr.GenerateAccessToken("u1", "member")

	w := doGet(protectedEngine(mgr), "/p", map[string]string{"Authorization": "Bearer " + token})

	if w.Code != http.StatusOK || w.Body.String() != "u1" {
		t.Errorf("expected 200 u1, got %d %s", w.Code, w.Body.String())
	}
}

func TestJWTAuth_Rejects(t *testing.T) {
	mgr := newTestJWT()
	refresh, _ := mgr.GenerateRefreshToken("u1", "member")

	cases := map[string]string{
		"missing":       "",
		"bad scheme":    "Token abc",
		"garbage":       "Bearer not-a-jwt",
		"refresh token": "Bearer " + refresh,
	}
	for name, header := range cases {
		headers := map[string]string{}
		if header != "" {
			headers["Authorization"] = header
		}
		if w := doGet(protectedEngine(mgr), "/p", headers); w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", name, w.Code)
		}
	}
}

func TestRoleAuth(t *testing.T) {
	mgr := newTestJWT()
	member, _ := mgr.GenerateAccessToken("u1", "member")
	manager, _ := mgr.GenerateAccessToken("u2", "material_manager")
	r := protectedEngine(mgr, "admin", "material_manager")

	if w := doGet(r, "/p", map[string]string{"Authorization": "Bearer " + member}); w.Code != http.StatusForbidden {
		t.Errorf("member: expected 403, got %d", w.Code)
	}
	if w := doGet(r, "/p", map[string]string{"Authorization": "Bearer " + manager}); w.Code != http.StatusOK {
		t.Errorf("material_manager: expected 200, got %d", w.Code)
	}
}

func TestAppKey(t *testing.T) {
	r := gin.New()
	r.GET("/w", AppKey("secret"), func(c *gin.Context) { c.Status(http.StatusOK) })

	if w := doGet(r, "/w", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without key, got %d", w.Code)
	}
	if w := doGet(r, "/w", map[string]string{"X-App-Key": "secret"}); w.Code != http.StatusOK {
		t.Errorf("expected 200 with key, got %d", w.Code)
	}

	open := gin.New()
	open.GET("/w", AppKey(""), func(c *gin.Context) { c.Status(http.StatusOK) })
	if w := doGet(open, "/w", nil); w.Code != http.StatusOK {
		t.Errorf("empty app key should allow all, got %d", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := doGet(r, "/x", map[string]string{"X-Request-ID": "abc"})
	if w.Header().Get("X-Request-ID") != "abc" {
		t.Errorf("expected propagated id, got %s", w.Header().Get("X-Request-ID"))
	}

	ctxEngine := gin.New()
	ctxEngine.Use(RequestID())
	ctxEngine.GET("/x", func(c *gin.Context) {
		c.String(http.StatusOK, applogger.RequestID(c.Request.Context()))
	})
	if w := doGet(ctxEngine, "/x", map[string]string{"X-Request-ID": "abc"}); w.Body.String() != "abc" {
		t.Errorf("request context should carry the id, got %q", w.Body.String())
	}

	w = doGet(r, "/x", map[string]string{"X-Request-ID": strings.Repeat("x", 100)})
	if got := w.Header().Get("X-Request-ID"); len(got) != 36 {
		t.Errorf("oversized id should be replaced by a uuid, got %q", got)
	}
}

func TestSecurityHeaders_NoStoreOnAPI(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders())
	r.GET("/api/v1/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	if w := doGet(r, "/api/v1/x", nil); w.Header().Get("Cache-Control") != "no-store" {
		t.Error("expected Cache-Control: no-store on API routes")
	}
	if w := doGet(r, "/health", nil); w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("expected X-Frame-Options on every route")
	}
}

func TestRedactQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/weather?endpoint=/x&api_key=topsecret", nil)
	got := redactQuery(req.URL.Query())
	if strings.Contains(got, "topsecret") {
		t.Errorf("api_key leaked into log query: %s", got)
	}
}

func bodyLimitEngine() *gin.Engine {
	r := gin.New()
	r.Use(BodyLimit(16, map[string]int64{"/big": 64}))
	read := func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			_ = c.Error(err)
			return
		}
		c.Status(http.StatusOK)
	}
	r.POST("/small", read)
	r.POST("/big", read)
	return r
}

func postBody(r *gin.Engine, path string, size int, chunked bool) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", path, strings.NewReader(strings.Repeat("a", size)))
	if chunked {
		req.ContentLength = -1
	}
	r.ServeHTTP(w, req)
	return w
}

func TestBodyLimit(t *testing.T) {
	r := bodyLimitEngine()

	w := postBody(r, "/small", 32, false)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
	var body struct {
		Code int `json:"code"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Code != CodeBodyTooLarge {
		t.Errorf("expected code %d, got %d", CodeBodyTooLarge, body.Code)
	}

	if w := postBody(r, "/small", 32, true); w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("chunked oversized body: expected 413, got %d", w.Code)
	}
	if w := postBody(r, "/big", 32, false); w.Code != http.StatusOK {
		t.Errorf("route override should allow 32 bytes, got %d", w.Code)
	}
	if w := postBody(r, "/big", 100, false); w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("route override still caps the body, got %d", w.Code)
	}
}

type fakeLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (f *fakeLimiter) CheckRateLimit(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	f.keys = append(f.keys, key)
	return f.allowed, f.err
}

func TestRateLimit(t *testing.T) {
	limiter := &fakeLimiter{allowed: false}
	r := gin.New()
	r.GET("/w", RateLimit(limiter, "weather", 5, time.Minute, zap.NewNop()), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := doGet(r, "/w", nil)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "60" {
		t.Errorf("expected 429 with Retry-After 60, got %d %q", w.Code, w.Header().Get("Retry-After"))
	}
	if len(limiter.keys) != 1 || !strings.HasPrefix(limiter.keys[0], "rate_limit:weather:") {
		t.Errorf("unexpected limiter key %v", limiter.keys)
	}

	limiter.err = errors.New("redis down")
	if w := doGet(r, "/w", nil); w.Code != http.StatusOK {
		t.Errorf("limiter failure should degrade to allow, got %d", w.Code)
	}

	open := gin.New()
	open.GET("/w", RateLimit(nil, "weather", 5, time.Minute, zap.NewNop()), func(c *gin.Context) { c.Status(http.StatusOK) })
	if w := doGet(open, "/w", nil); w.Code != http.StatusOK {
		t.Errorf("nil limiter should allow, got %d", w.Code)
	}
}

func corsRequest(r *gin.Engine, method, origin string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, "/x", nil)
	req.Header.Set("Origin", origin)
	r.ServeHTTP(w, req)
	return w
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"http://localhost:5173/"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := corsRequest(r, "GET", "http://localhost:5173")
	if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" || w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Errorf("allowed origin should be echoed with credentials, got %v", w.Header())
	}
	if w := corsRequest(r, "OPTIONS", "http://localhost:5173"); w.Code != http.StatusNoContent {
		t.Errorf("allowed preflight: expected 204, got %d", w.Code)
	}
	if w := corsRequest(r, "OPTIONS", "http://evil.test"); w.Code != http.StatusForbidden {
		t.Errorf("unknown preflight: expected 403, got %d", w.Code)
	}

	wild := gin.New()
	wild.Use(CORS([]string{"*"}))
	wild.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	w = corsRequest(wild, "GET", "http://widget.test")
	if w.Header().Get("Access-Control-Allow-Origin") != "*" || w.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Errorf("wildcard should allow any origin without credentials, got %v", w.Header())
	}
}
