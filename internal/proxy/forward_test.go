package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Likyliang/APIHub-Gateway/internal/conf"
	"github.com/Likyliang/APIHub-Gateway/internal/db"
	"github.com/Likyliang/APIHub-Gateway/internal/model"
	"github.com/Likyliang/APIHub-Gateway/internal/op"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := gdb.AutoMigrate(db.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	db.SetDB(gdb)
	if err := op.InitCache(); err != nil {
		t.Fatalf("failed to init caches: %v", err)
	}
}

func setupAccount(t *testing.T) (model.User, model.APIKey) {
	t.Helper()
	ctx := context.Background()
	user := model.User{
		Username:     "dave",
		Email:        "dave@example.com",
		Password:     "secret123",
		IsActive:     true,
		TokenBalance: 100,
		DiscountRate: 1.0,
	}
	if err := op.UserCreate(&user, ctx); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	key := model.APIKey{
		UserID:   user.ID,
		Name:     "proxy-test",
		KeyHash:  "proxyhash",
		IsActive: true,
	}
	if err := op.APIKeyCreate(&key, ctx); err != nil {
		t.Fatalf("failed to create key: %v", err)
	}
	return user, key
}

func doForward(t *testing.T, user model.User, key model.APIKey, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, path, strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	Forward(c, key, user)
	return w
}

func TestForwardSettlesReportedUsage(t *testing.T) {
	setupTestDB(t)
	user, key := setupAccount(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected upstream path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer upstream-secret" {
			t.Errorf("expected upstream auth header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cmpl-1","model":"test-model","choices":[{"message":{"content":"hi"}}],"usage":{"prompt_tokens":1000000,"completion_tokens":500000,"total_tokens":1500000}}`))
	}))
	defer upstream.Close()
	conf.AppConfig.Upstream = conf.Upstream{URL: upstream.URL, APIKey: "upstream-secret", TimeoutSec: 10}

	w := doForward(t, user, key, http.MethodPost, "/v1/chat/completions", `{"model":"test-model","messages":[{"role":"user","content":"hello"}]}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"cmpl-1"`) {
		t.Errorf("response body not passed through: %s", w.Body.String())
	}

	// 1.5M tokens 按兜底价 1 USD/1M = 1.5
	gotUser, _ := op.UserGet(user.ID, context.Background())
	if gotUser.TokenBalance != 98.5 {
		t.Errorf("expected balance 98.5, got %v", gotUser.TokenBalance)
	}

	gotKey, _ := op.APIKeyGet(key.ID, context.Background())
	if gotKey.TotalTokens != 1500000 {
		t.Errorf("expected 1500000 tokens on key, got %d", gotKey.TotalTokens)
	}
	if gotKey.TotalRequests != 1 {
		t.Errorf("expected 1 request on key, got %d", gotKey.TotalRequests)
	}
}

func TestForwardUpstreamErrorSkipsSettlement(t *testing.T) {
	setupTestDB(t)
	user, key := setupAccount(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	defer upstream.Close()
	conf.AppConfig.Upstream = conf.Upstream{URL: upstream.URL, TimeoutSec: 10}

	w := doForward(t, user, key, http.MethodPost, "/v1/chat/completions", `{"model":"test-model"}`)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 passthrough, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "boom") {
		t.Errorf("upstream error body not passed through: %s", w.Body.String())
	}

	var txCount int64
	db.GetDB().Model(&model.TokenTransaction{}).Count(&txCount)
	if txCount != 0 {
		t.Errorf("expected no transactions for failed upstream call, got %d", txCount)
	}
	gotUser, _ := op.UserGet(user.ID, context.Background())
	if gotUser.TokenBalance != 100 {
		t.Errorf("balance changed on upstream failure: %v", gotUser.TokenBalance)
	}
}

func TestForwardStreamHarvestsUsage(t *testing.T) {
	setupTestDB(t)
	user, key := setupAccount(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		chunks := []string{
			`{"id":"cmpl-2","model":"test-model","choices":[{"delta":{"content":"hel"}}]}`,
			`{"id":"cmpl-2","model":"test-model","choices":[{"delta":{"content":"lo"}}]}`,
			`{"id":"cmpl-2","model":"test-model","choices":[],"usage":{"prompt_tokens":2000000,"completion_tokens":1000000,"total_tokens":3000000}}`,
			`[DONE]`,
		}
		for _, chunk := range chunks {
			w.Write([]byte("data: " + chunk + "\n\n"))
			flusher.Flush()
		}
	}))
	defer upstream.Close()
	conf.AppConfig.Upstream = conf.Upstream{URL: upstream.URL, TimeoutSec: 10}

	w := doForward(t, user, key, http.MethodPost, "/v1/chat/completions", `{"model":"test-model","stream":true,"messages":[{"role":"user","content":"hi"}]}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"hel"`) || !strings.Contains(body, "[DONE]") {
		t.Errorf("stream events not re-emitted: %s", body)
	}
	if got := w.Header().Get("Content-Type"); !strings.Contains(got, "text/event-stream") {
		t.Errorf("expected SSE content type, got %q", got)
	}

	// 3M tokens 按兜底价 = 3
	gotUser, _ := op.UserGet(user.ID, context.Background())
	if gotUser.TokenBalance != 97 {
		t.Errorf("expected balance 97, got %v", gotUser.TokenBalance)
	}
}

func TestForwardStreamSettlesAfterClientDisconnect(t *testing.T) {
	setupTestDB(t)
	user, key := setupAccount(t)
	conf.AppConfig.Upstream = conf.Upstream{TimeoutSec: 10}

	events := strings.Join([]string{
		`data: {"id":"cmpl-4","model":"test-model","choices":[{"delta":{"content":"par"}}]}`,
		`data: {"id":"cmpl-4","model":"test-model","choices":[],"usage":{"prompt_tokens":2000000,"completion_tokens":1000000,"total_tokens":3000000}}`,
		`data: [DONE]`,
	}, "\n\n") + "\n\n"

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(""))
	c.Request = req.WithContext(ctx)

	response := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
		Body:       io.NopCloser(strings.NewReader(events)),
	}
	meta := requestMeta{Model: "test-model", Stream: true}
	forwardStream(c, key, user, meta, []byte(`{"model":"test-model","stream":true}`), response, time.Now())

	// 客户端断开后上游读完的用量照样入账
	gotUser, _ := op.UserGet(user.ID, context.Background())
	if gotUser.TokenBalance != 97 {
		t.Errorf("expected balance 97 after disconnect settlement, got %v", gotUser.TokenBalance)
	}
	var txCount int64
	db.GetDB().Model(&model.TokenTransaction{}).Count(&txCount)
	if txCount != 1 {
		t.Errorf("expected one consume transaction, got %d", txCount)
	}
}

func TestForwardStreamEstimatesWhenUsageMissing(t *testing.T) {
	setupTestDB(t)
	user, key := setupAccount(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"id":"cmpl-3","model":"test-model","choices":[{"delta":{"content":"hello world"}}]}` + "\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer upstream.Close()
	conf.AppConfig.Upstream = conf.Upstream{URL: upstream.URL, TimeoutSec: 10}

	w := doForward(t, user, key, http.MethodPost, "/v1/chat/completions", `{"model":"test-model","stream":true,"messages":[{"role":"user","content":"say hello"}]}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	// 估算的 token 数记到 key 计数器上
	gotKey, _ := op.APIKeyGet(key.ID, context.Background())
	if gotKey.TotalTokens == 0 {
		t.Error("expected estimated tokens on key counters")
	}
	if gotKey.TotalRequests != 1 {
		t.Errorf("expected 1 request, got %d", gotKey.TotalRequests)
	}
}
