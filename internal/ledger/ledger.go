// Package ledger 负责用户余额的原子变动。
// 所有余额读写都经过每用户互斥锁加数据库事务, 保证
// balance_before/balance_after 链条在并发下不丢失更新。
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Likyliang/APIHub-Gateway/internal/db"
	"github.com/Likyliang/APIHub-Gateway/internal/model"
	"github.com/Likyliang/APIHub-Gateway/internal/op"
	"github.com/Likyliang/APIHub-Gateway/internal/utils/snowflake"
	"gorm.io/gorm"
)

var userLocks = make(map[int]*sync.Mutex)
var userLocksLock sync.Mutex

func lockUser(userID int) *sync.Mutex {
	userLocksLock.Lock()
	mu, ok := userLocks[userID]
	if !ok {
		mu = &sync.Mutex{}
		userLocks[userID] = mu
	}
	userLocksLock.Unlock()
	mu.Lock()
	return mu
}

// Entry 描述一次余额变动。Amount 正数入账, 负数出账。
type Entry struct {
	UserID      int
	APIKeyID    int
	Amount      float64
	Type        model.TransactionType
	Description string
	OrderNo     string
}

func (e Entry) validate() error {
	switch e.Type {
	case model.TransactionRecharge, model.TransactionRefund:
		if e.Amount <= 0 {
			return fmt.Errorf("%s amount must be positive", e.Type)
		}
	case model.TransactionConsume:
		if e.Amount >= 0 {
			return fmt.Errorf("consume amount must be negative")
		}
	case model.TransactionAdjust:
		if e.Amount == 0 {
			return fmt.Errorf("adjust amount must be non-zero")
		}
	default:
		return fmt.Errorf("unknown transaction type: %s", e.Type)
	}
	if e.UserID <= 0 {
		return fmt.Errorf("invalid user id")
	}
	return nil
}

// Apply 在独立事务中记账并返回生成的流水。
func Apply(ctx context.Context, entry Entry) (model.TokenTransaction, error) {
	return ApplyFn(ctx, entry, nil)
}

// ApplyFn 记账, 并在同一事务内执行 extra(余额更新成功后调用)。
// extra 返回错误时整笔回滚。消费可以把余额扣成负数: 费用已经
// 产生, 拒绝入账只会让账本和实际用量脱节。
func ApplyFn(ctx context.Context, entry Entry, extra func(tx *gorm.DB) error) (model.TokenTransaction, error) {
	if err := entry.validate(); err != nil {
		return model.TokenTransaction{}, err
	}

	mu := lockUser(entry.UserID)
	defer mu.Unlock()

	var record model.TokenTransaction
	err := db.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user model.User
		if err := tx.First(&user, entry.UserID).Error; err != nil {
			return fmt.Errorf("user not found")
		}

		before := user.TokenBalance
		after := before + entry.Amount

		updates := map[string]any{"token_balance": after}
		switch entry.Type {
		case model.TransactionRecharge:
			updates["total_recharged"] = user.TotalRecharged + entry.Amount
		case model.TransactionConsume:
			updates["total_consumed"] = user.TotalConsumed - entry.Amount
		}
		if err := tx.Model(&model.User{ID: entry.UserID}).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		record = model.TokenTransaction{
			ID:            snowflake.GenerateID(),
			UserID:        entry.UserID,
			APIKeyID:      entry.APIKeyID,
			Amount:        entry.Amount,
			BalanceBefore: before,
			BalanceAfter:  after,
			Type:          entry.Type,
			Description:   entry.Description,
			OrderNo:       entry.OrderNo,
			CreatedAt:     time.Now().Unix(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to record transaction: %w", err)
		}

		if extra != nil {
			return extra(tx)
		}
		return nil
	})
	if err != nil {
		return model.TokenTransaction{}, err
	}

	if err := op.UserRefreshBalance(entry.UserID, ctx); err != nil {
		return record, err
	}
	return record, nil
}

// Balance 返回缓存中的当前余额。
func Balance(userID int, ctx context.Context) (float64, error) {
	user, err := op.UserGet(userID, ctx)
	if err != nil {
		return 0, err
	}
	return user.TokenBalance, nil
}
