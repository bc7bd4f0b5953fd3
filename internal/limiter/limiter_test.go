package limiter

import (
	"context"
	"fmt"
	"testing"

	"github.com/Likyliang/APIHub-Gateway/internal/db"
	"github.com/Likyliang/APIHub-Gateway/internal/model"
	"github.com/Likyliang/APIHub-Gateway/internal/op"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var nextKeyHash int

func setupTestDB(t *testing.T) {
	t.Helper()
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
}

func createTestUser(t *testing.T, mutate func(*model.User)) model.User {
	t.Helper()
	nextKeyHash++
	user := model.User{
		Username:     fmt.Sprintf("user%d", nextKeyHash),
		Email:        fmt.Sprintf("user%d@example.com", nextKeyHash),
		Password:     "secret123",
		IsActive:     true,
		TokenBalance: 100,
		DiscountRate: 1.0,
	}
	if mutate != nil {
		mutate(&user)
	}
	if err := op.UserCreate(&user, context.Background()); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

func createTestKey(t *testing.T, userID int, mutate func(*model.APIKey)) model.APIKey {
	t.Helper()
	nextKeyHash++
	key := model.APIKey{
		UserID:   userID,
		Name:     fmt.Sprintf("key%d", nextKeyHash),
		KeyHash:  fmt.Sprintf("hash%d", nextKeyHash),
		IsActive: true,
	}
	if mutate != nil {
		mutate(&key)
	}
	if err := op.APIKeyCreate(&key, context.Background()); err != nil {
		t.Fatalf("failed to create key: %v", err)
	}
	Forget(key.ID)
	return key
}

func TestEvaluateDenialReasons(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	activeUser := createTestUser(t, nil)
	disabledUser := createTestUser(t, func(u *model.User) { u.IsActive = false })
	brokeUser := createTestUser(t, func(u *model.User) { u.TokenBalance = 0 })

	tests := []struct {
		name    string
		keyHash func() string
		model   string
		reason  string
	}{
		{
			name:    "unknown key",
			keyHash: func() string { return "no-such-hash" },
			reason:  ReasonKeyInvalid,
		},
		{
			name: "deactivated key",
			keyHash: func() string {
				return createTestKey(t, activeUser.ID, func(k *model.APIKey) { k.IsActive = false }).KeyHash
			},
			reason: ReasonKeyInvalid,
		},
		{
			name: "expired key",
			keyHash: func() string {
				return createTestKey(t, activeUser.ID, func(k *model.APIKey) { k.ExpireAt = 1000 }).KeyHash
			},
			reason: ReasonKeyExpired,
		},
		{
			name: "disabled user",
			keyHash: func() string {
				return createTestKey(t, disabledUser.ID, nil).KeyHash
			},
			reason: ReasonUserDisabled,
		},
		{
			name: "model not in whitelist",
			keyHash: func() string {
				return createTestKey(t, activeUser.ID, func(k *model.APIKey) { k.AllowedModels = "gpt-4o,gpt-4o-mini" }).KeyHash
			},
			model:  "claude-3-opus",
			reason: ReasonModelNotAllowed,
		},
		{
			name: "token limit reached",
			keyHash: func() string {
				return createTestKey(t, activeUser.ID, func(k *model.APIKey) {
					k.TokenLimit = model.Bounded(1000)
					k.TotalTokens = 1000
				}).KeyHash
			},
			reason: ReasonTokenLimitExceeded,
		},
		{
			name: "quota reached",
			keyHash: func() string {
				return createTestKey(t, activeUser.ID, func(k *model.APIKey) {
					k.QuotaLimit = model.Bounded(5)
					k.QuotaUsed = 5
				}).KeyHash
			},
			reason: ReasonQuotaExceeded,
		},
		{
			name: "zero balance",
			keyHash: func() string {
				return createTestKey(t, brokeUser.ID, nil).KeyHash
			},
			reason: ReasonInsufficientBalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, denial := Evaluate(ctx, tt.keyHash(), tt.model)
			if denial == nil {
				t.Fatal("expected denial but request was allowed")
			}
			if denial.Reason != tt.reason {
				t.Errorf("expected reason %s, got %s", tt.reason, denial.Reason)
			}
		})
	}
}

func TestEvaluateAllows(t *testing.T) {
	setupTestDB(t)
	user := createTestUser(t, nil)
	key := createTestKey(t, user.ID, func(k *model.APIKey) { k.AllowedModels = "gpt-4o" })

	gotKey, gotUser, denial := Evaluate(context.Background(), key.KeyHash, "gpt-4o")
	if denial != nil {
		t.Fatalf("expected allow, got denial %s", denial.Reason)
	}
	if gotKey.ID != key.ID || gotUser.ID != user.ID {
		t.Errorf("expected key %d user %d, got key %d user %d", key.ID, user.ID, gotKey.ID, gotUser.ID)
	}
}

func TestEvaluateRateLimit(t *testing.T) {
	setupTestDB(t)
	user := createTestUser(t, nil)
	key := createTestKey(t, user.ID, func(k *model.APIKey) { k.RateLimit = 2 })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, _, denial := Evaluate(ctx, key.KeyHash, ""); denial != nil {
			t.Fatalf("request %d denied: %s", i+1, denial.Reason)
		}
		Record(key.ID)
	}

	_, _, denial := Evaluate(ctx, key.KeyHash, "")
	if denial == nil {
		t.Fatal("expected third request to be rate limited")
	}
	if denial.Reason != ReasonRateLimited {
		t.Errorf("expected reason %s, got %s", ReasonRateLimited, denial.Reason)
	}
}

func TestEvaluateDailyLimit(t *testing.T) {
	setupTestDB(t)
	user := createTestUser(t, nil)
	key := createTestKey(t, user.ID, func(k *model.APIKey) { k.RateLimitDay = model.Bounded(1) })
	ctx := context.Background()

	if _, _, denial := Evaluate(ctx, key.KeyHash, ""); denial != nil {
		t.Fatalf("first request denied: %s", denial.Reason)
	}
	Record(key.ID)

	_, _, denial := Evaluate(ctx, key.KeyHash, "")
	if denial == nil {
		t.Fatal("expected second request to be denied")
	}
	if denial.Reason != ReasonDailyLimitExceeded {
		t.Errorf("expected reason %s, got %s", ReasonDailyLimitExceeded, denial.Reason)
	}
}

func TestEvaluateDeniedRequestDoesNotAdvanceWindows(t *testing.T) {
	setupTestDB(t)
	user := createTestUser(t, nil)
	key := createTestKey(t, user.ID, func(k *model.APIKey) { k.RateLimit = 1 })
	ctx := context.Background()

	if _, _, denial := Evaluate(ctx, key.KeyHash, ""); denial != nil {
		t.Fatalf("first request denied: %s", denial.Reason)
	}
	Record(key.ID)

	// 被拒绝的请求不推进窗口, 重复评估结果稳定
	for i := 0; i < 3; i++ {
		_, _, denial := Evaluate(ctx, key.KeyHash, "")
		if denial == nil || denial.Reason != ReasonRateLimited {
			t.Fatalf("evaluation %d: expected rate_limited", i)
		}
	}

	Forget(key.ID)
	if _, _, denial := Evaluate(ctx, key.KeyHash, ""); denial != nil {
		t.Errorf("expected allow after window reset, got %s", denial.Reason)
	}
}

func TestEvaluateAdminSkipsBalanceCheck(t *testing.T) {
	setupTestDB(t)
	admin := createTestUser(t, func(u *model.User) {
		u.IsAdmin = true
		u.TokenBalance = 0
	})
	key := createTestKey(t, admin.ID, nil)

	if _, _, denial := Evaluate(context.Background(), key.KeyHash, ""); denial != nil {
		t.Errorf("expected admin with zero balance to pass, got %s", denial.Reason)
	}
}

func TestModelAllowed(t *testing.T) {
	tests := []struct {
		name     string
		allowed  string
		model    string
		expected bool
	}{
		{"empty whitelist allows all", "", "gpt-4o", true},
		{"exact match", "gpt-4o,claude-3-opus", "claude-3-opus", true},
		{"case insensitive", "GPT-4o", "gpt-4O", true},
		{"whitespace tolerated", " gpt-4o , claude-3-opus ", "gpt-4o", true},
		{"not listed", "gpt-4o", "gpt-4o-mini", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := model.APIKey{AllowedModels: tt.allowed}
			if got := ModelAllowed(key, tt.model); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}
