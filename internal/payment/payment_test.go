package payment

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Likyliang/APIHub-Gateway/internal/conf"
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
	sqlDB.SetMaxOpenConns(1)
	if err := gdb.AutoMigrate(db.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	db.SetDB(gdb)

	conf.AppConfig.Payment = conf.Payment{
		EpayURL:         "https://pay.example.com",
		EpayPID:         "1000",
		EpayKey:         "test-merchant-key",
		NotifyURL:       "https://gw.example.com/api/payment/notify",
		ReturnURL:       "https://gw.example.com/payment/success",
		OrderTTLMinutes: 15,
	}
}

func createUserAndPlan(t *testing.T) (model.User, model.PricePlan) {
	t.Helper()
	ctx := context.Background()
	user := model.User{
		Username:     "carol",
		Email:        "carol@example.com",
		Password:     "secret123",
		IsActive:     true,
		DiscountRate: 1.0,
	}
	if err := op.UserCreate(&user, ctx); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	plan := model.PricePlan{
		Name:        "starter",
		Price:       10,
		QuotaAmount: 1000,
		IsActive:    true,
	}
	if err := op.PlanCreate(&plan, ctx); err != nil {
		t.Fatalf("failed to create plan: %v", err)
	}
	return user, plan
}

func signedNotify(orderNo, tradeNo string) map[string]string {
	params := map[string]string{
		"pid":          "1000",
		"out_trade_no": orderNo,
		"trade_no":     tradeNo,
		"trade_status": "TRADE_SUCCESS",
		"money":        "10.00",
	}
	params["sign"] = epaySign(params, "test-merchant-key")
	params["sign_type"] = "MD5"
	return params
}

func TestGenerateOrderNo(t *testing.T) {
	no := GenerateOrderNo()
	if !strings.HasPrefix(no, "AHG") {
		t.Errorf("expected AHG prefix, got %s", no)
	}
	if len(no) != 3+13+8 {
		t.Errorf("unexpected order no length: %s", no)
	}
	if no == GenerateOrderNo() {
		t.Error("expected unique order numbers")
	}
}

func TestEpaySignIgnoresEmptyAndSignFields(t *testing.T) {
	base := map[string]string{
		"pid":   "1000",
		"money": "10.00",
	}
	withNoise := map[string]string{
		"pid":       "1000",
		"money":     "10.00",
		"empty":     "",
		"sign":      "whatever",
		"sign_type": "MD5",
	}
	if epaySign(base, "k") != epaySign(withNoise, "k") {
		t.Error("empty values and sign fields must not affect the signature")
	}
}

func TestCreateOrder(t *testing.T) {
	setupTestDB(t)
	user, plan := createUserAndPlan(t)
	ctx := context.Background()

	order, err := CreateOrder(ctx, user.ID, model.OrderCreate{PlanID: plan.ID, Method: "alipay"})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if order.Status != model.OrderPending {
		t.Errorf("expected pending order, got %s", order.Status)
	}
	if order.Amount != 10 || order.QuotaAmount != 1000 {
		t.Errorf("expected amount 10 quota 1000, got %v / %v", order.Amount, order.QuotaAmount)
	}
	if !strings.Contains(order.PayURL, "submit.php") || !strings.Contains(order.PayURL, "sign=") {
		t.Errorf("expected signed pay url, got %s", order.PayURL)
	}
	if order.ExpireAt <= time.Now().Unix() {
		t.Error("expected expiry in the future")
	}
}

func TestCreateOrderRejectsInactivePlan(t *testing.T) {
	setupTestDB(t)
	user, _ := createUserAndPlan(t)
	ctx := context.Background()

	inactive := model.PricePlan{Name: "legacy", Price: 5, QuotaAmount: 100, IsActive: false}
	if err := op.PlanCreate(&inactive, ctx); err != nil {
		t.Fatalf("failed to create plan: %v", err)
	}

	if _, err := CreateOrder(ctx, user.ID, model.OrderCreate{PlanID: inactive.ID, Method: "alipay"}); err == nil {
		t.Error("expected error for inactive plan")
	}
}

func TestHandleNotifyCreditsOnce(t *testing.T) {
	setupTestDB(t)
	user, plan := createUserAndPlan(t)
	ctx := context.Background()

	order, err := CreateOrder(ctx, user.ID, model.OrderCreate{PlanID: plan.ID, Method: "wechat"})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	params := signedNotify(order.OrderNo, "TRADE123")
	if err := HandleNotify(ctx, params); err != nil {
		t.Fatalf("notify failed: %v", err)
	}

	got, err := op.OrderGetByNo(order.OrderNo, ctx)
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if got.Status != model.OrderPaid {
		t.Errorf("expected paid, got %s", got.Status)
	}
	if got.TradeNo != "TRADE123" {
		t.Errorf("expected trade no recorded, got %q", got.TradeNo)
	}

	gotUser, _ := op.UserGet(user.ID, ctx)
	if gotUser.TokenBalance != 1000 {
		t.Errorf("expected balance 1000, got %v", gotUser.TokenBalance)
	}
	if gotUser.TotalRecharged != 1000 {
		t.Errorf("expected total recharged 1000, got %v", gotUser.TotalRecharged)
	}

	// 重放同一回调: 成功返回但不再入账
	if err := HandleNotify(ctx, signedNotify(order.OrderNo, "TRADE123")); err != nil {
		t.Fatalf("replayed notify failed: %v", err)
	}
	gotUser, _ = op.UserGet(user.ID, ctx)
	if gotUser.TokenBalance != 1000 {
		t.Errorf("replay double-credited: balance %v", gotUser.TokenBalance)
	}

	var txCount int64
	db.GetDB().Model(&model.TokenTransaction{}).Where("order_no = ?", order.OrderNo).Count(&txCount)
	if txCount != 1 {
		t.Errorf("expected exactly 1 transaction, got %d", txCount)
	}
}

func TestHandleNotifyRejectsBadSignature(t *testing.T) {
	setupTestDB(t)
	user, plan := createUserAndPlan(t)
	ctx := context.Background()

	order, err := CreateOrder(ctx, user.ID, model.OrderCreate{PlanID: plan.ID, Method: "alipay"})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	params := signedNotify(order.OrderNo, "TRADE999")
	params["money"] = "0.01" // 篡改金额
	if err := HandleNotify(ctx, params); err == nil {
		t.Fatal("expected signature error")
	}

	gotUser, _ := op.UserGet(user.ID, ctx)
	if gotUser.TokenBalance != 0 {
		t.Errorf("tampered notify credited balance: %v", gotUser.TokenBalance)
	}
}

func TestHandleNotifyRejectsAmountMismatch(t *testing.T) {
	setupTestDB(t)
	user, plan := createUserAndPlan(t)
	ctx := context.Background()

	order, err := CreateOrder(ctx, user.ID, model.OrderCreate{PlanID: plan.ID, Method: "alipay"})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	// 签名正确, 但实付 0.01 买 10.00 的单
	params := map[string]string{
		"pid":          "1000",
		"out_trade_no": order.OrderNo,
		"trade_no":     "TCHEAP",
		"trade_status": "TRADE_SUCCESS",
		"money":        "0.01",
	}
	params["sign"] = epaySign(params, "test-merchant-key")
	params["sign_type"] = "MD5"

	if err := HandleNotify(ctx, params); err == nil {
		t.Fatal("expected amount mismatch error")
	}

	gotUser, _ := op.UserGet(user.ID, ctx)
	if gotUser.TokenBalance != 0 {
		t.Errorf("underpaid notify credited balance: %v", gotUser.TokenBalance)
	}
	got, _ := op.OrderGetByNo(order.OrderNo, ctx)
	if got.Status != model.OrderPending {
		t.Errorf("order should stay pending, got %s", got.Status)
	}
}

func TestHandleNotifyUnknownOrder(t *testing.T) {
	setupTestDB(t)
	if err := HandleNotify(context.Background(), signedNotify("AHG0000000000000abcdef12", "T1")); err == nil {
		t.Error("expected error for unknown order")
	}
}

func TestExpireSweep(t *testing.T) {
	setupTestDB(t)
	user, plan := createUserAndPlan(t)
	ctx := context.Background()

	order, err := CreateOrder(ctx, user.ID, model.OrderCreate{PlanID: plan.ID, Method: "alipay"})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	// 回拨过期时间
	if err := db.GetDB().Model(&model.Order{}).Where("order_no = ?", order.OrderNo).
		Update("expire_at", time.Now().Add(-time.Minute).Unix()).Error; err != nil {
		t.Fatalf("failed to backdate order: %v", err)
	}

	if err := ExpireSweep(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	got, _ := op.OrderGetByNo(order.OrderNo, ctx)
	if got.Status != model.OrderExpired {
		t.Errorf("expected expired, got %s", got.Status)
	}

	// 过期订单的回调不再入账
	if err := HandleNotify(ctx, signedNotify(order.OrderNo, "TLATE")); err != nil {
		t.Fatalf("notify on expired order errored: %v", err)
	}
	gotUser, _ := op.UserGet(user.ID, ctx)
	if gotUser.TokenBalance != 0 {
		t.Errorf("expired order credited balance: %v", gotUser.TokenBalance)
	}
}
