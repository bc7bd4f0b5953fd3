// Package settlement 把一次上游调用的 token 用量换算成费用并入账。
package settlement

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Likyliang/APIHub-Gateway/internal/db"
	"github.com/Likyliang/APIHub-Gateway/internal/ledger"
	"github.com/Likyliang/APIHub-Gateway/internal/model"
	"github.com/Likyliang/APIHub-Gateway/internal/op"
	"github.com/Likyliang/APIHub-Gateway/internal/price"
	"gorm.io/gorm"
)

// Usage 一次调用的结算输入
type Usage struct {
	Key              model.APIKey
	User             model.User
	Model            string
	PromptTokens     int64
	CompletionTokens int64
}

func (u Usage) totalTokens() int64 {
	return u.PromptTokens + u.CompletionTokens
}

// Cost 计算折扣前费用。价格表按每百万 token 计价;
// 未知模型按 default_token_price 对总 token 数兜底计费。
func Cost(modelName string, promptTokens, completionTokens int64) float64 {
	if p := price.GetLLMPrice(modelName); p != nil && (p.Input != 0 || p.Output != 0 || p.Request != 0) {
		return float64(promptTokens)*p.Input/1e6 + float64(completionTokens)*p.Output/1e6 + p.Request
	}
	fallback, err := op.SettingGetFloat(model.SettingKeyDefaultTokenPrice)
	if err != nil || fallback <= 0 {
		fallback = 1
	}
	return float64(promptTokens+completionTokens) * fallback / 1e6
}

// Round 金额统一保留 4 位小数, 四舍五入
func Round(v float64) float64 {
	return math.Floor(v*1e4+0.5) / 1e4
}

// Settle 记账: 用户余额扣减和密钥计数器在同一事务里更新,
// 费用按密钥折扣(为零时继承用户折扣)计算。余额可以被扣成负数,
// 费用已经在上游产生, 这里不再拒绝。
// 返回最终费用和生成的流水(费用为零时没有流水)。
func Settle(ctx context.Context, u Usage) (float64, *model.TokenTransaction, error) {
	discount := u.User.EffectiveDiscount(&u.Key)
	cost := Round(Cost(u.Model, u.PromptTokens, u.CompletionTokens) * discount)

	now := time.Now().Unix()
	bumpKey := func(tx *gorm.DB) error {
		return tx.Model(&model.APIKey{ID: u.Key.ID}).Updates(map[string]any{
			"total_requests": gorm.Expr("total_requests + 1"),
			"total_tokens":   gorm.Expr("total_tokens + ?", u.totalTokens()),
			"quota_used":     gorm.Expr("quota_used + ?", cost),
			"last_used_at":   now,
		}).Error
	}

	if cost <= 0 {
		if err := bumpKey(db.GetDB().WithContext(ctx)); err != nil {
			return 0, nil, err
		}
		if err := op.APIKeyReload(u.Key.ID, ctx); err != nil {
			return 0, nil, err
		}
		return 0, nil, nil
	}

	record, err := ledger.ApplyFn(ctx, ledger.Entry{
		UserID:      u.User.ID,
		APIKeyID:    u.Key.ID,
		Amount:      -cost,
		Type:        model.TransactionConsume,
		Description: fmt.Sprintf("%s: %d prompt + %d completion tokens", u.Model, u.PromptTokens, u.CompletionTokens),
	}, bumpKey)
	if err != nil {
		return 0, nil, err
	}
	if err := op.APIKeyReload(u.Key.ID, ctx); err != nil {
		return cost, &record, err
	}
	return cost, &record, nil
}
