// Package limiter 在请求进入转发层之前做准入判定。
// 检查顺序固定: 密钥有效性 → 用户状态 → 模型白名单 → 速率 →
// 日请求数 → token 总量 → 配额 → 余额。前面的拒绝原因优先返回。
package limiter

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Likyliang/APIHub-Gateway/internal/model"
	"github.com/Likyliang/APIHub-Gateway/internal/op"
)

const (
	ReasonKeyInvalid          = "key_invalid"
	ReasonKeyExpired          = "key_expired"
	ReasonUserDisabled        = "user_disabled"
	ReasonModelNotAllowed     = "model_not_allowed"
	ReasonRateLimited         = "rate_limited"
	ReasonDailyLimitExceeded  = "daily_limit_exceeded"
	ReasonTokenLimitExceeded  = "token_limit_exceeded"
	ReasonQuotaExceeded       = "quota_exceeded"
	ReasonInsufficientBalance = "insufficient_balance"
)

type Denial struct {
	Reason  string
	Message string
	Status  int
}

func deny(reason, message string, status int) *Denial {
	return &Denial{Reason: reason, Message: message, Status: status}
}

// 每个密钥两个窗口: 分钟窗(1s 粒度)限速率, 日窗(1m 粒度)限请求数
type keyWindows struct {
	minute *window
	day    *window
}

var windows = make(map[int]*keyWindows)
var windowsLock sync.Mutex

func windowsFor(keyID int) *keyWindows {
	windowsLock.Lock()
	defer windowsLock.Unlock()
	w, ok := windows[keyID]
	if !ok {
		w = &keyWindows{
			minute: newWindow(time.Minute, time.Second),
			day:    newWindow(24*time.Hour, time.Minute),
		}
		windows[keyID] = w
	}
	return w
}

// Evaluate 按固定顺序跑完整的准入链。返回 nil Denial 表示放行。
// 窗口计数在这里只读, 放行后由调用方通过 Record 推进, 被拒绝的
// 请求不占用配额。
func Evaluate(ctx context.Context, keyHash, modelName string) (model.APIKey, model.User, *Denial) {
	now := time.Now()

	key, err := op.APIKeyGetByHash(keyHash, ctx)
	if err != nil || !key.IsActive {
		return model.APIKey{}, model.User{}, deny(ReasonKeyInvalid, "invalid API key", http.StatusUnauthorized)
	}
	if key.ExpireAt > 0 && key.ExpireAt < now.Unix() {
		return key, model.User{}, deny(ReasonKeyExpired, "API key expired", http.StatusUnauthorized)
	}

	user, err := op.UserGet(key.UserID, ctx)
	if err != nil || !user.IsActive {
		return key, user, deny(ReasonUserDisabled, "user account disabled", http.StatusForbidden)
	}

	if modelName != "" && !ModelAllowed(key, modelName) {
		return key, user, deny(ReasonModelNotAllowed, "model not allowed for this key", http.StatusForbidden)
	}

	w := windowsFor(key.ID)
	if key.RateLimit > 0 && w.minute.sum(now) >= int64(key.RateLimit) {
		return key, user, deny(ReasonRateLimited, "rate limit exceeded", http.StatusTooManyRequests)
	}
	if key.RateLimitDay.Exceeded(float64(w.day.sum(now))) {
		return key, user, deny(ReasonDailyLimitExceeded, "daily request limit exceeded", http.StatusTooManyRequests)
	}
	if key.TokenLimit.Exceeded(float64(key.TotalTokens)) {
		return key, user, deny(ReasonTokenLimitExceeded, "token limit exceeded", http.StatusTooManyRequests)
	}
	if key.QuotaLimit.Exceeded(key.QuotaUsed) {
		return key, user, deny(ReasonQuotaExceeded, "quota exceeded", http.StatusTooManyRequests)
	}

	// 管理员不做余额检查
	if !user.IsAdmin && user.TokenBalance <= 0 {
		return key, user, deny(ReasonInsufficientBalance, "insufficient balance", http.StatusPaymentRequired)
	}

	return key, user, nil
}

// Record 放行后推进窗口计数
func Record(keyID int) {
	now := time.Now()
	w := windowsFor(keyID)
	w.minute.add(now, 1)
	w.day.add(now, 1)
}

// Forget 密钥删除或用量重置时清掉窗口
func Forget(keyID int) {
	windowsLock.Lock()
	defer windowsLock.Unlock()
	if w, ok := windows[keyID]; ok {
		w.minute.reset()
		w.day.reset()
		delete(windows, keyID)
	}
}

// ModelAllowed 检查模型白名单。白名单为空表示不限制
func ModelAllowed(key model.APIKey, modelName string) bool {
	allowed := strings.TrimSpace(key.AllowedModels)
	if allowed == "" {
		return true
	}
	modelName = strings.ToLower(strings.TrimSpace(modelName))
	for _, item := range strings.Split(allowed, ",") {
		if strings.ToLower(strings.TrimSpace(item)) == modelName {
			return true
		}
	}
	return false
}
