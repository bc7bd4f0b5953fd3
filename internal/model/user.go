package model

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

type User struct {
	ID       int    `json:"id" gorm:"primaryKey"`
	Username string `json:"username" gorm:"unique;not null"`
	Email    string `json:"email" gorm:"unique;not null"`
	Password string `json:"-" gorm:"not null"`
	// 没有 gorm default 标签: 带 default 的零值字段在 INSERT 时会被
	// 数据库默认值覆盖, 显式创建的停用记录会变成启用
	IsActive bool   `json:"is_active"`
	IsAdmin  bool   `json:"is_admin" gorm:"default:false"`

	// 代币余额, 结算可使其为负(已发生的消耗无法撤销), 为负后后续请求被拒绝
	TokenBalance   float64 `json:"token_balance"`
	TotalRecharged float64 `json:"total_recharged"`
	TotalConsumed  float64 `json:"total_consumed"`
	// 折扣率 (0, 1], 1.0 表示无折扣
	DiscountRate float64 `json:"discount_rate" gorm:"default:1.0"`

	CreatedAt int64 `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt int64 `json:"updated_at" gorm:"autoUpdateTime"`
	LastLogin int64 `json:"last_login,omitempty"`
}

type UserRegister struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type UserLogin struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type UserLoginResponse struct {
	Token    string `json:"token"`
	ExpireAt string `json:"expire_at"`
	User     User   `json:"user"`
}

type UserChangePassword struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

func (u *User) HashPassword() error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	u.Password = string(hashedPassword)
	return nil
}

func (u *User) ComparePassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password))
}

// EffectiveDiscount 返回指定 key 生效的折扣率: key 级折扣优先于用户级折扣
func (u *User) EffectiveDiscount(key *APIKey) float64 {
	if key != nil && key.DiscountRate > 0 {
		return key.DiscountRate
	}
	if u.DiscountRate > 0 {
		return u.DiscountRate
	}
	return 1.0
}
