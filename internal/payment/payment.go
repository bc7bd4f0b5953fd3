// Package payment 管理充值订单的创建、网关回调和过期清理。
// 订单状态机: pending → paid (验签回调), pending → expired (超时)。
package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/Likyliang/APIHub-Gateway/internal/conf"
	"github.com/Likyliang/APIHub-Gateway/internal/db"
	"github.com/Likyliang/APIHub-Gateway/internal/ledger"
	"github.com/Likyliang/APIHub-Gateway/internal/model"
	"github.com/Likyliang/APIHub-Gateway/internal/op"
	"github.com/Likyliang/APIHub-Gateway/internal/utils/log"
	"gorm.io/gorm"
)

var errOrderNotPending = errors.New("order is not pending")

// GenerateOrderNo 订单号: AHG + 毫秒时间戳 + 4 字节随机 hex
func GenerateOrderNo() string {
	random := make([]byte, 4)
	if _, err := rand.Read(random); err != nil {
		return ""
	}
	return fmt.Sprintf("AHG%d%s", time.Now().UnixMilli(), hex.EncodeToString(random))
}

// CreateOrder 按套餐建单并生成网关跳转地址
func CreateOrder(ctx context.Context, userID int, req model.OrderCreate) (model.Order, error) {
	plan, err := op.PlanGet(req.PlanID, ctx)
	if err != nil || !plan.IsActive {
		return model.Order{}, fmt.Errorf("invalid price plan")
	}

	cfg := conf.AppConfig.Payment
	ttl := time.Duration(cfg.OrderTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	orderNo := GenerateOrderNo()
	if orderNo == "" {
		return model.Order{}, fmt.Errorf("failed to generate order no")
	}

	order := model.Order{
		UserID:      userID,
		OrderNo:     orderNo,
		PlanID:      plan.ID,
		Amount:      plan.Price,
		QuotaAmount: plan.QuotaAmount,
		Method:      req.Method,
		Status:      model.OrderPending,
		Gateway:     "epay",
		ExpireAt:    time.Now().Add(ttl).Unix(),
	}

	params := map[string]string{
		"pid":          cfg.EpayPID,
		"type":         order.Method,
		"out_trade_no": order.OrderNo,
		"notify_url":   cfg.NotifyURL,
		"return_url":   cfg.ReturnURL,
		"name":         fmt.Sprintf("APIHub配额充值 - %s", plan.Name),
		"money":        fmt.Sprintf("%.2f", order.Amount),
	}
	params["sign"] = epaySign(params, cfg.EpayKey)
	params["sign_type"] = "MD5"
	order.PayURL = epayPayURL(cfg.EpayURL, params)

	if err := op.OrderCreate(&order, ctx); err != nil {
		return model.Order{}, err
	}
	return order, nil
}

// HandleNotify 处理支付网关回调。验签失败或订单不存在返回错误;
// 已经处理过的订单直接返回成功, 重放回调不会二次入账。
func HandleNotify(ctx context.Context, params map[string]string) error {
	if !epayVerify(params, conf.AppConfig.Payment.EpayKey) {
		return fmt.Errorf("invalid signature")
	}

	orderNo := params["out_trade_no"]
	order, err := op.OrderGetByNo(orderNo, ctx)
	if err != nil {
		return fmt.Errorf("order not found: %s", orderNo)
	}

	if order.Status == model.OrderPaid {
		return nil
	}
	if params["trade_status"] != "TRADE_SUCCESS" {
		return fmt.Errorf("unexpected trade status: %s", params["trade_status"])
	}
	// 金额必须和下单时一致, 防止小额支付换大额配额
	if params["money"] != fmt.Sprintf("%.2f", order.Amount) {
		return fmt.Errorf("amount mismatch for order %s: got %q, want %.2f", orderNo, params["money"], order.Amount)
	}

	tradeNo := params["trade_no"]
	paidAt := time.Now().Unix()

	// 入账和状态迁移在同一事务里。条件更新兜住并发重放:
	// 只有把 pending 改成 paid 的那一次提交, 其余全部回滚。
	_, err = ledger.ApplyFn(ctx, ledger.Entry{
		UserID:      order.UserID,
		Amount:      order.QuotaAmount,
		Type:        model.TransactionRecharge,
		Description: fmt.Sprintf("quota recharge, order %s", orderNo),
		OrderNo:     orderNo,
	}, func(tx *gorm.DB) error {
		result := tx.Model(&model.Order{}).
			Where("order_no = ? AND status = ?", orderNo, model.OrderPending).
			Updates(map[string]any{
				"status":   model.OrderPaid,
				"trade_no": tradeNo,
				"paid_at":  paidAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errOrderNotPending
		}
		return nil
	})
	if errors.Is(err, errOrderNotPending) {
		return nil
	}
	if err != nil {
		return err
	}

	log.Infof("order %s paid, credited %.4f to user %d", orderNo, order.QuotaAmount, order.UserID)
	return nil
}

// CheckStatus 查询订单, pending 且已超时的顺手标记过期
func CheckStatus(ctx context.Context, orderNo string) (model.Order, error) {
	order, err := op.OrderGetByNo(orderNo, ctx)
	if err != nil {
		return model.Order{}, err
	}
	if order.Status == model.OrderPending && order.ExpireAt > 0 && order.ExpireAt < time.Now().Unix() {
		if err := expireOrder(ctx, order.OrderNo); err != nil {
			return order, err
		}
		order.Status = model.OrderExpired
	}
	return order, nil
}

func expireOrder(ctx context.Context, orderNo string) error {
	return db.GetDB().WithContext(ctx).Model(&model.Order{}).
		Where("order_no = ? AND status = ?", orderNo, model.OrderPending).
		Update("status", model.OrderExpired).Error
}

// ExpireSweep 定时任务: 清理超时未支付的订单
func ExpireSweep(ctx context.Context) error {
	orders, err := op.OrderListExpirable(time.Now().Unix(), ctx)
	if err != nil {
		return err
	}
	for _, order := range orders {
		if err := expireOrder(ctx, order.OrderNo); err != nil {
			return err
		}
		log.Debugf("order %s expired", order.OrderNo)
	}
	return nil
}
