package model

type TransactionType string

const (
	TransactionRecharge TransactionType = "recharge"
	TransactionConsume  TransactionType = "consume"
	TransactionRefund   TransactionType = "refund"
	TransactionAdjust   TransactionType = "adjust"
)

// TokenTransaction 不可变账本条目, 只追加, 不修改不删除。
// 约束: BalanceAfter = BalanceBefore + Amount, 且等于提交时用户的余额。
type TokenTransaction struct {
	ID            int64           `json:"id" gorm:"primaryKey;autoIncrement:false"` // Snowflake ID
	UserID        int             `json:"user_id" gorm:"index;not null"`
	APIKeyID      int             `json:"api_key_id,omitempty" gorm:"index"`
	Amount        float64         `json:"amount"` // 充值/退款为正, 消费为负
	BalanceBefore float64         `json:"balance_before"`
	BalanceAfter  float64         `json:"balance_after"`
	Type          TransactionType `json:"transaction_type" gorm:"index;not null"`
	Description   string          `json:"description,omitempty"`
	OrderNo       string          `json:"order_no,omitempty" gorm:"index"`
	CreatedAt     int64           `json:"created_at" gorm:"autoCreateTime"`
}
