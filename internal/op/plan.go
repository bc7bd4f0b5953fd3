package op

import (
	"context"
	"fmt"
	"sort"

	"github.com/Likyliang/APIHub-Gateway/internal/db"
	"github.com/Likyliang/APIHub-Gateway/internal/model"
	"github.com/Likyliang/APIHub-Gateway/internal/utils/cache"
)

var planCache = cache.New[int, model.PricePlan](4)

func PlanCreate(plan *model.PricePlan, ctx context.Context) error {
	if plan.Price <= 0 || plan.QuotaAmount <= 0 {
		return fmt.Errorf("plan price and quota must be positive")
	}
	if err := db.GetDB().WithContext(ctx).Create(plan).Error; err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}
	planCache.Set(plan.ID, *plan)
	return nil
}

func PlanUpdate(plan *model.PricePlan, ctx context.Context) error {
	if _, ok := planCache.Get(plan.ID); !ok {
		return fmt.Errorf("plan not found")
	}
	if plan.Price <= 0 || plan.QuotaAmount <= 0 {
		return fmt.Errorf("plan price and quota must be positive")
	}
	if err := db.GetDB().WithContext(ctx).Save(plan).Error; err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	planCache.Set(plan.ID, *plan)
	return nil
}

func PlanDelete(id int, ctx context.Context) error {
	if _, ok := planCache.Get(id); !ok {
		return fmt.Errorf("plan not found")
	}
	result := db.GetDB().WithContext(ctx).Delete(&model.PricePlan{ID: id})
	if result.Error != nil {
		return fmt.Errorf("failed to delete plan: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("plan not found")
	}
	planCache.Del(id)
	return nil
}

func PlanGet(id int, ctx context.Context) (model.PricePlan, error) {
	plan, ok := planCache.Get(id)
	if !ok {
		return model.PricePlan{}, fmt.Errorf("plan not found")
	}
	return plan, nil
}

// PlanList 返回启用的套餐,按 SortOrder 升序
func PlanList(includeInactive bool, ctx context.Context) ([]model.PricePlan, error) {
	plans := make([]model.PricePlan, 0, planCache.Len())
	for _, plan := range planCache.GetAll() {
		if !includeInactive && !plan.IsActive {
			continue
		}
		plans = append(plans, plan)
	}
	sort.Slice(plans, func(i, j int) bool {
		if plans[i].SortOrder != plans[j].SortOrder {
			return plans[i].SortOrder < plans[j].SortOrder
		}
		return plans[i].ID < plans[j].ID
	})
	return plans, nil
}

func planRefreshCache(ctx context.Context) error {
	plans := []model.PricePlan{}
	if err := db.GetDB().WithContext(ctx).Find(&plans).Error; err != nil {
		return err
	}
	for _, plan := range plans {
		planCache.Set(plan.ID, plan)
	}
	return nil
}
