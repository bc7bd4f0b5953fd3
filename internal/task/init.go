package task

import (
	"context"
	"time"

	"github.com/Likyliang/APIHub-Gateway/internal/model"
	"github.com/Likyliang/APIHub-Gateway/internal/op"
	"github.com/Likyliang/APIHub-Gateway/internal/price"
	"github.com/Likyliang/APIHub-Gateway/internal/utils/log"
)

const (
	TaskUsageRecordSave = "usage_record_save"
	TaskOrderExpire     = "order_expire"
	TaskQuotaReset      = "quota_reset"
)

func Init() {
	// 注册价格更新任务
	priceUpdateIntervalHours, err := op.SettingGetInt(model.SettingKeyModelPriceUpdateInterval)
	if err != nil {
		log.Errorf("failed to get model price update interval: %v", err)
		return
	}
	priceUpdateInterval := time.Duration(priceUpdateIntervalHours) * time.Hour
	Register(string(model.SettingKeyModelPriceUpdateInterval), priceUpdateInterval, true, func() {
		if err := price.UpdateLLMPrice(context.Background()); err != nil {
			log.Warnf("failed to update price info: %v", err)
		}
	})

	// 注册用量日志保存任务
	Register(TaskUsageRecordSave, 10*time.Minute, false, func() {
		if err := op.UsageRecordSaveDBTask(context.Background()); err != nil {
			log.Warnf("usage record save db task failed: %v", err)
		}
	})

	// 注册订单过期任务
	Register(TaskOrderExpire, 1*time.Minute, true, ExpireOrders)

	// 注册配额重置任务
	Register(TaskQuotaReset, 1*time.Minute, true, CheckAndResetQuotas)
}
