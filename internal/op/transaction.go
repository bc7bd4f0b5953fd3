package op

import (
	"context"

	"github.com/Likyliang/APIHub-Gateway/internal/db"
	"github.com/Likyliang/APIHub-Gateway/internal/model"
)

func TransactionListByUser(userID int, txType model.TransactionType, page, pageSize int, ctx context.Context) ([]model.TokenTransaction, int64, error) {
	var txs []model.TokenTransaction
	var total int64
	query := db.GetDB().WithContext(ctx).Model(&model.TokenTransaction{}).Where("user_id = ?", userID)
	if txType != "" {
		query = query.Where("type = ?", txType)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&txs).Error; err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

func TransactionGetByOrderNo(orderNo string, ctx context.Context) ([]model.TokenTransaction, error) {
	var txs []model.TokenTransaction
	if err := db.GetDB().WithContext(ctx).Where("order_no = ?", orderNo).Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}
