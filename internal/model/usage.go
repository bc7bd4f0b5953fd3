package model

// UsageRecord 单次转发请求的用量记录
type UsageRecord struct {
	ID               int64   `json:"id" gorm:"primaryKey;autoIncrement:false"` // Snowflake ID
	Time             int64   `json:"time" gorm:"index"`                        // 时间戳(秒)
	UserID           int     `json:"user_id" gorm:"index"`
	APIKeyID         int     `json:"api_key_id" gorm:"index"`
	Endpoint         string  `json:"endpoint"`
	Method           string  `json:"method"`
	Model            string  `json:"model,omitempty"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
	StatusCode       int     `json:"status_code"`
	UseTime          int     `json:"use_time"` // 总用时(毫秒)
	Stream           bool    `json:"stream"`
	Success          bool    `json:"success"`
	Error            string  `json:"error,omitempty"`
}
