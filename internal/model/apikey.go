package model

type APIKey struct {
	ID     int    `json:"id" gorm:"primaryKey"`
	UserID int    `json:"user_id" gorm:"index;not null"`
	Name   string `json:"name" gorm:"not null"`

	// 密钥的 sha256, 明文只在创建时返回一次
	KeyHash   string `json:"-" gorm:"uniqueIndex;not null"`
	KeyMasked string `json:"key_masked"`

	IsActive bool  `json:"is_active"`
	ExpireAt int64 `json:"expire_at,omitempty"`

	// 每分钟请求数上限, 0 表示不限制
	RateLimit    int   `json:"rate_limit"`
	RateLimitDay Limit `json:"rate_limit_day"`
	TokenLimit   Limit `json:"token_limit"`
	QuotaLimit   Limit `json:"quota_limit"`
	// 折扣率, 0 表示继承用户折扣
	DiscountRate float64 `json:"discount_rate,omitempty"`
	// 逗号分隔的模型白名单, 为空不限制
	AllowedModels string `json:"allowed_models,omitempty"`

	BatchID string `json:"batch_id,omitempty" gorm:"index"`

	TotalRequests int64   `json:"total_requests"`
	TotalTokens   int64   `json:"total_tokens"`
	QuotaUsed     float64 `json:"quota_used"`

	AutoResetQuota bool   `json:"auto_reset_quota" gorm:"default:false"`
	ResetDuration  int64  `json:"reset_duration" gorm:"default:0"`
	ResetUnit      string `json:"reset_unit,omitempty"`
	NextResetTime  int64  `json:"next_reset_time" gorm:"default:0"`

	CreatedAt  int64 `json:"created_at" gorm:"autoCreateTime"`
	LastUsedAt int64 `json:"last_used_at,omitempty"`
}

type APIKeyCreate struct {
	Name           string   `json:"name" binding:"required"`
	RateLimit      int      `json:"rate_limit"`
	RateLimitDay   Limit    `json:"rate_limit_day"`
	TokenLimit     Limit    `json:"token_limit"`
	QuotaLimit     Limit    `json:"quota_limit"`
	DiscountRate   float64  `json:"discount_rate"`
	AllowedModels  []string `json:"allowed_models"`
	ExpireAt       int64    `json:"expire_at"`
	AutoResetQuota bool     `json:"auto_reset_quota"`
	ResetDuration  int64    `json:"reset_duration"`
	ResetUnit      string   `json:"reset_unit"`
}

type APIKeyBatchCreate struct {
	Count      int    `json:"count" binding:"required,min=1,max=100"`
	NamePrefix string `json:"name_prefix"`
	APIKeyCreate
}

// APIKeyCreated 创建响应, Key 字段只出现在这里
type APIKeyCreated struct {
	APIKey
	Key string `json:"key"`
}
