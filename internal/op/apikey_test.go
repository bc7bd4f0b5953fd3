package op

import (
	"context"
	"fmt"
	"testing"

	"github.com/Likyliang/APIHub-Gateway/internal/db"
	"github.com/Likyliang/APIHub-Gateway/internal/model"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

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
	// 每个 :memory: 连接都是独立数据库, 必须收敛到单连接
	sqlDB.SetMaxOpenConns(1)
	if err := gdb.AutoMigrate(db.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	db.SetDB(gdb)
}

var testKeySeq int

func createTestKey(t *testing.T) model.APIKey {
	t.Helper()
	testKeySeq++
	user := model.User{
		Username: fmt.Sprintf("keyowner-%d", testKeySeq),
		Email:    fmt.Sprintf("keyowner-%d@example.com", testKeySeq),
		Password: "secret123",
		IsActive: true,
	}
	if err := UserCreate(&user, context.Background()); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	key := model.APIKey{
		UserID:   user.ID,
		Name:     fmt.Sprintf("key-%d", testKeySeq),
		KeyHash:  fmt.Sprintf("hash-%d", testKeySeq),
		IsActive: true,
	}
	if err := APIKeyCreate(&key, context.Background()); err != nil {
		t.Fatalf("failed to create api key: %v", err)
	}
	return key
}

func TestAPIKeyGetByHash(t *testing.T) {
	setupTestDB(t)
	key := createTestKey(t)

	got, err := APIKeyGetByHash(key.KeyHash, context.Background())
	if err != nil {
		t.Fatalf("APIKeyGetByHash() error = %v", err)
	}
	if got.ID != key.ID {
		t.Errorf("got key %d, want %d", got.ID, key.ID)
	}

	if _, err := APIKeyGetByHash("no-such-hash", context.Background()); err == nil {
		t.Error("unknown hash should not resolve")
	}
}

func TestAPIKeyDeleteRemovesHashLookup(t *testing.T) {
	setupTestDB(t)
	key := createTestKey(t)

	if err := APIKeyDelete(key.ID, context.Background()); err != nil {
		t.Fatalf("APIKeyDelete() error = %v", err)
	}
	if _, err := APIKeyGet(key.ID, context.Background()); err == nil {
		t.Error("deleted key should not be readable")
	}
	if _, err := APIKeyGetByHash(key.KeyHash, context.Background()); err == nil {
		t.Error("deleted key hash should not resolve")
	}
}

func TestAPIKeyResetUsage(t *testing.T) {
	setupTestDB(t)
	key := createTestKey(t)

	if err := db.GetDB().Model(&model.APIKey{ID: key.ID}).Updates(map[string]any{
		"total_requests": 10,
		"total_tokens":   5000,
		"quota_used":     1.25,
	}).Error; err != nil {
		t.Fatalf("failed to seed counters: %v", err)
	}
	if err := APIKeyReload(key.ID, context.Background()); err != nil {
		t.Fatalf("APIKeyReload() error = %v", err)
	}

	if err := APIKeyResetUsage(key.ID, context.Background()); err != nil {
		t.Fatalf("APIKeyResetUsage() error = %v", err)
	}
	got, err := APIKeyGet(key.ID, context.Background())
	if err != nil {
		t.Fatalf("APIKeyGet() error = %v", err)
	}
	if got.TotalRequests != 0 || got.TotalTokens != 0 || got.QuotaUsed != 0 {
		t.Errorf("counters not reset: requests=%d tokens=%d quota=%g",
			got.TotalRequests, got.TotalTokens, got.QuotaUsed)
	}
}

func TestSettingDefaultsSeeded(t *testing.T) {
	setupTestDB(t)
	if err := InitCache(); err != nil {
		t.Fatalf("InitCache() error = %v", err)
	}

	fallback, err := SettingGetFloat(model.SettingKeyDefaultTokenPrice)
	if err != nil {
		t.Fatalf("SettingGetFloat() error = %v", err)
	}
	if fallback != 1 {
		t.Errorf("default token price = %g, want 1", fallback)
	}

	if err := SettingSetString(model.SettingKeyDefaultTokenPrice, "2.5"); err != nil {
		t.Fatalf("SettingSetString() error = %v", err)
	}
	fallback, err = SettingGetFloat(model.SettingKeyDefaultTokenPrice)
	if err != nil {
		t.Fatalf("SettingGetFloat() error = %v", err)
	}
	if fallback != 2.5 {
		t.Errorf("updated token price = %g, want 2.5", fallback)
	}

	if err := SettingSetString("bogus_key", "1"); err == nil {
		t.Error("unknown setting key should be rejected")
	}
}

// 创建即停用的记录落库后必须还是停用状态,
// gorm 的 default 标签会把 INSERT 时的零值替换成默认值, 这里防回归。
func TestCreateInactivePersistsInactive(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	user := model.User{
		Username: "mallory",
		Email:    "mallory@example.com",
		Password: "secret123",
		IsActive: false,
	}
	if err := UserCreate(&user, ctx); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	var dbUser model.User
	if err := db.GetDB().First(&dbUser, user.ID).Error; err != nil {
		t.Fatalf("failed to load user: %v", err)
	}
	if dbUser.IsActive {
		t.Error("user created disabled was stored active")
	}

	key := model.APIKey{
		UserID:   user.ID,
		Name:     "dormant-key",
		KeyHash:  "dormant-hash",
		IsActive: false,
	}
	if err := APIKeyCreate(&key, ctx); err != nil {
		t.Fatalf("failed to create api key: %v", err)
	}
	var dbKey model.APIKey
	if err := db.GetDB().First(&dbKey, key.ID).Error; err != nil {
		t.Fatalf("failed to load api key: %v", err)
	}
	if dbKey.IsActive {
		t.Error("key created disabled was stored active")
	}

	plan := model.PricePlan{Name: "dormant", Price: 1, QuotaAmount: 10, IsActive: false}
	if err := PlanCreate(&plan, ctx); err != nil {
		t.Fatalf("failed to create plan: %v", err)
	}
	var dbPlan model.PricePlan
	if err := db.GetDB().First(&dbPlan, plan.ID).Error; err != nil {
		t.Fatalf("failed to load plan: %v", err)
	}
	if dbPlan.IsActive {
		t.Error("plan created disabled was stored active")
	}
}
