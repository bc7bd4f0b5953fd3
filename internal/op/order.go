package op

import (
	"context"
	"fmt"

	"github.com/Likyliang/APIHub-Gateway/internal/db"
	"github.com/Likyliang/APIHub-Gateway/internal/model"
)

// 订单不走缓存: 状态迁移依赖数据库的条件更新做幂等保护,
// 缓存副本只会引入过期视图。

func OrderCreate(order *model.Order, ctx context.Context) error {
	if err := db.GetDB().WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func OrderGetByNo(orderNo string, ctx context.Context) (model.Order, error) {
	var order model.Order
	if err := db.GetDB().WithContext(ctx).Where("order_no = ?", orderNo).First(&order).Error; err != nil {
		return model.Order{}, fmt.Errorf("order not found")
	}
	return order, nil
}

func OrderListByUser(userID int, page, pageSize int, ctx context.Context) ([]model.Order, int64, error) {
	var orders []model.Order
	var total int64
	query := db.GetDB().WithContext(ctx).Model(&model.Order{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func OrderList(status model.OrderStatus, page, pageSize int, ctx context.Context) ([]model.Order, int64, error) {
	var orders []model.Order
	var total int64
	query := db.GetDB().WithContext(ctx).Model(&model.Order{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// OrderListExpirable 返回已超过有效期但仍处于 pending 的订单
func OrderListExpirable(now int64, ctx context.Context) ([]model.Order, error) {
	var orders []model.Order
	err := db.GetDB().WithContext(ctx).
		Where("status = ? AND expire_at > 0 AND expire_at < ?", model.OrderPending, now).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// OrderStatusCount 按状态统计的订单数和金额
type OrderStatusCount struct {
	Status model.OrderStatus `json:"status"`
	Count  int64             `json:"count"`
	Amount float64           `json:"amount"`
	Quota  float64           `json:"quota"`
}

func OrderStats(ctx context.Context) ([]OrderStatusCount, error) {
	var stats []OrderStatusCount
	err := db.GetDB().WithContext(ctx).Model(&model.Order{}).
		Select("status, COUNT(*) AS count, SUM(amount) AS amount, SUM(quota_amount) AS quota").
		Group("status").
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}
