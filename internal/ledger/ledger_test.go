package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/Likyliang/APIHub-Gateway/internal/db"
	"github.com/Likyliang/APIHub-Gateway/internal/model"
	"github.com/Likyliang/APIHub-Gateway/internal/op"
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

func createTestUser(t *testing.T, balance float64) model.User {
	t.Helper()
	user := model.User{
		Username:     "alice",
		Email:        "alice@example.com",
		Password:     "secret123",
		IsActive:     true,
		TokenBalance: balance,
		DiscountRate: 1.0,
	}
	if err := op.UserCreate(&user, context.Background()); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

func TestApplyBalanceChain(t *testing.T) {
	setupTestDB(t)
	user := createTestUser(t, 0)
	ctx := context.Background()

	tx1, err := Apply(ctx, Entry{UserID: user.ID, Amount: 10, Type: model.TransactionRecharge, OrderNo: "AHG1"})
	if err != nil {
		t.Fatalf("recharge failed: %v", err)
	}
	if tx1.BalanceBefore != 0 || tx1.BalanceAfter != 10 {
		t.Errorf("expected balance 0 -> 10, got %v -> %v", tx1.BalanceBefore, tx1.BalanceAfter)
	}

	tx2, err := Apply(ctx, Entry{UserID: user.ID, Amount: -3, Type: model.TransactionConsume})
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if tx2.BalanceBefore != 10 || tx2.BalanceAfter != 7 {
		t.Errorf("expected balance 10 -> 7, got %v -> %v", tx2.BalanceBefore, tx2.BalanceAfter)
	}

	got, err := op.UserGet(user.ID, ctx)
	if err != nil {
		t.Fatalf("failed to get user: %v", err)
	}
	if got.TokenBalance != 7 {
		t.Errorf("expected cached balance 7, got %v", got.TokenBalance)
	}
	if got.TotalRecharged != 10 {
		t.Errorf("expected total recharged 10, got %v", got.TotalRecharged)
	}
	if got.TotalConsumed != 3 {
		t.Errorf("expected total consumed 3, got %v", got.TotalConsumed)
	}
}

func TestApplyAllowsNegativeBalance(t *testing.T) {
	setupTestDB(t)
	user := createTestUser(t, 1)

	tx, err := Apply(context.Background(), Entry{UserID: user.ID, Amount: -2.5, Type: model.TransactionConsume})
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if tx.BalanceAfter != -1.5 {
		t.Errorf("expected balance -1.5, got %v", tx.BalanceAfter)
	}
}

func TestApplyValidation(t *testing.T) {
	setupTestDB(t)
	user := createTestUser(t, 100)

	tests := []struct {
		name  string
		entry Entry
	}{
		{"negative recharge", Entry{UserID: user.ID, Amount: -5, Type: model.TransactionRecharge}},
		{"zero recharge", Entry{UserID: user.ID, Amount: 0, Type: model.TransactionRecharge}},
		{"positive consume", Entry{UserID: user.ID, Amount: 5, Type: model.TransactionConsume}},
		{"zero adjust", Entry{UserID: user.ID, Amount: 0, Type: model.TransactionAdjust}},
		{"negative refund", Entry{UserID: user.ID, Amount: -1, Type: model.TransactionRefund}},
		{"unknown type", Entry{UserID: user.ID, Amount: 1, Type: "bonus"}},
		{"missing user", Entry{Amount: 1, Type: model.TransactionRecharge}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Apply(context.Background(), tt.entry); err == nil {
				t.Error("expected error but got nil")
			}
		})
	}

	got, _ := op.UserGet(user.ID, context.Background())
	if got.TokenBalance != 100 {
		t.Errorf("balance changed by rejected entries: %v", got.TokenBalance)
	}
}

func TestApplyUnknownUser(t *testing.T) {
	setupTestDB(t)
	if _, err := Apply(context.Background(), Entry{UserID: 999, Amount: 1, Type: model.TransactionRecharge}); err == nil {
		t.Error("expected error for unknown user")
	}
}

func TestApplyConcurrentNoLostUpdates(t *testing.T) {
	setupTestDB(t)
	user := createTestUser(t, 100)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := Apply(ctx, Entry{UserID: user.ID, Amount: -1, Type: model.TransactionConsume}); err != nil {
				t.Errorf("consume failed: %v", err)
			}
		}()
	}
	wg.Wait()

	var dbUser model.User
	if err := db.GetDB().First(&dbUser, user.ID).Error; err != nil {
		t.Fatalf("failed to load user: %v", err)
	}
	if dbUser.TokenBalance != 80 {
		t.Errorf("expected balance 80, got %v", dbUser.TokenBalance)
	}
	if dbUser.TotalConsumed != 20 {
		t.Errorf("expected total consumed 20, got %v", dbUser.TotalConsumed)
	}

	var count int64
	db.GetDB().Model(&model.TokenTransaction{}).Where("user_id = ?", user.ID).Count(&count)
	if count != workers {
		t.Errorf("expected %d transactions, got %d", workers, count)
	}
}

func TestApplyFnRollsBackOnExtraError(t *testing.T) {
	setupTestDB(t)
	user := createTestUser(t, 50)
	ctx := context.Background()

	_, err := ApplyFn(ctx, Entry{UserID: user.ID, Amount: -10, Type: model.TransactionConsume}, func(tx *gorm.DB) error {
		return gorm.ErrInvalidData
	})
	if err == nil {
		t.Fatal("expected error from extra fn")
	}

	var dbUser model.User
	if err := db.GetDB().First(&dbUser, user.ID).Error; err != nil {
		t.Fatalf("failed to load user: %v", err)
	}
	if dbUser.TokenBalance != 50 {
		t.Errorf("expected balance unchanged at 50, got %v", dbUser.TokenBalance)
	}
	var count int64
	db.GetDB().Model(&model.TokenTransaction{}).Count(&count)
	if count != 0 {
		t.Errorf("expected no transactions, got %d", count)
	}
}
