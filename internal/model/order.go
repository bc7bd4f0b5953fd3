package model

type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderPaid    OrderStatus = "paid"
	OrderExpired OrderStatus = "expired"
)

// Order 支付订单。状态机: pending → paid (网关回调验签后), pending → expired (超时清理)。
// paid 和 expired 是终态。
type Order struct {
	ID      int    `json:"id" gorm:"primaryKey"`
	UserID  int    `json:"user_id" gorm:"index;not null"`
	OrderNo string `json:"order_no" gorm:"uniqueIndex;not null"`
	// 第三方交易号, 回调时写入
	TradeNo string `json:"trade_no,omitempty"`

	PlanID      int     `json:"plan_id"`
	Amount      float64 `json:"amount"`       // 支付金额(元)
	QuotaAmount float64 `json:"quota_amount"` // 到账代币数
	Method      string  `json:"method"`       // wechat / alipay

	Status  OrderStatus `json:"status" gorm:"index;default:'pending'"`
	Gateway string      `json:"gateway,omitempty"`
	PayURL  string      `json:"pay_url,omitempty"`

	CreatedAt int64 `json:"created_at" gorm:"autoCreateTime"`
	PaidAt    int64 `json:"paid_at,omitempty"`
	ExpireAt  int64 `json:"expire_at"`
}

type OrderCreate struct {
	PlanID int    `json:"plan_id" binding:"required"`
	Method string `json:"method" binding:"required,oneof=wechat alipay"`
}

type PricePlan struct {
	ID          int    `json:"id" gorm:"primaryKey"`
	Name        string `json:"name" gorm:"not null"`
	Description string `json:"description,omitempty"`

	Price       float64 `json:"price"`        // 价格(元)
	QuotaAmount float64 `json:"quota_amount"` // 到账代币数

	IsPopular bool `json:"is_popular" gorm:"default:false"`
	SortOrder int  `json:"sort_order" gorm:"default:0"`
	IsActive  bool `json:"is_active"`

	CreatedAt int64 `json:"created_at" gorm:"autoCreateTime"`
}

type PricePlanCreate struct {
	Name        string  `json:"name" binding:"required"`
	Description string  `json:"description"`
	Price       float64 `json:"price" binding:"required,gt=0"`
	QuotaAmount float64 `json:"quota_amount" binding:"required,gt=0"`
	IsPopular   bool    `json:"is_popular"`
	SortOrder   int     `json:"sort_order"`
	// 不传默认启用, 显式 false 表示建一个暂不上架的套餐
	IsActive *bool `json:"is_active"`
}
