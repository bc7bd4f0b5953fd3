package op

import (
	"context"
	"fmt"

	"github.com/Likyliang/APIHub-Gateway/internal/db"
	"github.com/Likyliang/APIHub-Gateway/internal/model"
	"github.com/Likyliang/APIHub-Gateway/internal/utils/cache"
	"github.com/Likyliang/APIHub-Gateway/internal/utils/log"
)

var userCache = cache.New[int, model.User](16)
var usernameIDMap = cache.New[string, int](16)

func UserCreate(user *model.User, ctx context.Context) error {
	if err := user.HashPassword(); err != nil {
		return err
	}
	if user.DiscountRate <= 0 || user.DiscountRate > 1 {
		user.DiscountRate = 1.0
	}
	if err := db.GetDB().WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	userCache.Set(user.ID, *user)
	usernameIDMap.Set(user.Username, user.ID)
	return nil
}

func UserGet(id int, ctx context.Context) (model.User, error) {
	user, ok := userCache.Get(id)
	if !ok {
		return model.User{}, fmt.Errorf("user not found")
	}
	return user, nil
}

func UserGetByUsername(username string, ctx context.Context) (model.User, error) {
	id, ok := usernameIDMap.Get(username)
	if !ok {
		return model.User{}, fmt.Errorf("user not found")
	}
	return UserGet(id, ctx)
}

func UserList(ctx context.Context) ([]model.User, error) {
	users := make([]model.User, 0, userCache.Len())
	for _, user := range userCache.GetAll() {
		users = append(users, user)
	}
	return users, nil
}

// UserUpdate 持久化除密码外的字段并刷新缓存
func UserUpdate(user *model.User, ctx context.Context) error {
	if !userCache.Exists(user.ID) {
		return fmt.Errorf("user not found")
	}
	if err := db.GetDB().WithContext(ctx).Omit("password").Save(user).Error; err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	userCache.Set(user.ID, *user)
	usernameIDMap.Set(user.Username, user.ID)
	return nil
}

func UserSetActive(id int, active bool, ctx context.Context) error {
	user, ok := userCache.Get(id)
	if !ok {
		return fmt.Errorf("user not found")
	}
	user.IsActive = active
	if err := db.GetDB().WithContext(ctx).Model(&model.User{ID: id}).Update("is_active", active).Error; err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	userCache.Set(id, user)
	return nil
}

func UserSetDiscount(id int, rate float64, ctx context.Context) error {
	if rate <= 0 || rate > 1 {
		return fmt.Errorf("discount rate must be in (0, 1]")
	}
	user, ok := userCache.Get(id)
	if !ok {
		return fmt.Errorf("user not found")
	}
	user.DiscountRate = rate
	if err := db.GetDB().WithContext(ctx).Model(&model.User{ID: id}).Update("discount_rate", rate).Error; err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	userCache.Set(id, user)
	return nil
}

func UserChangePassword(id int, oldPassword, newPassword string, ctx context.Context) error {
	user, ok := userCache.Get(id)
	if !ok {
		return fmt.Errorf("user not found")
	}
	if err := user.ComparePassword(oldPassword); err != nil {
		return fmt.Errorf("incorrect old password")
	}
	user.Password = newPassword
	if err := user.HashPassword(); err != nil {
		return err
	}
	if err := db.GetDB().WithContext(ctx).Model(&model.User{ID: id}).Update("password", user.Password).Error; err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	userCache.Set(id, user)
	return nil
}

func UserVerify(username, password string, ctx context.Context) (model.User, error) {
	user, err := UserGetByUsername(username, ctx)
	if err != nil {
		return model.User{}, fmt.Errorf("incorrect username or password")
	}
	if err := user.ComparePassword(password); err != nil {
		return model.User{}, fmt.Errorf("incorrect username or password")
	}
	return user, nil
}

// UserRefreshBalance 结算后从数据库重读余额相关字段, 保持缓存一致
func UserRefreshBalance(id int, ctx context.Context) error {
	var user model.User
	if err := db.GetDB().WithContext(ctx).First(&user, id).Error; err != nil {
		return fmt.Errorf("failed to reload user: %w", err)
	}
	userCache.Set(user.ID, user)
	return nil
}

// UserInitAdmin 确保管理员账号存在
func UserInitAdmin(username, password, email string, ctx context.Context) error {
	if _, err := UserGetByUsername(username, ctx); err == nil {
		return nil
	}
	admin := model.User{
		Username:     username,
		Email:        email,
		Password:     password,
		IsActive:     true,
		IsAdmin:      true,
		DiscountRate: 1.0,
	}
	if err := UserCreate(&admin, ctx); err != nil {
		return err
	}
	log.Infof("initial admin user created: %s", username)
	return nil
}

func userRefreshCache(ctx context.Context) error {
	users := []model.User{}
	if err := db.GetDB().WithContext(ctx).Find(&users).Error; err != nil {
		return err
	}
	for _, user := range users {
		userCache.Set(user.ID, user)
		usernameIDMap.Set(user.Username, user.ID)
	}
	return nil
}
