package task

import (
	"context"
	"time"

	"github.com/Likyliang/APIHub-Gateway/internal/helper"
	"github.com/Likyliang/APIHub-Gateway/internal/limiter"
	"github.com/Likyliang/APIHub-Gateway/internal/op"
	"github.com/Likyliang/APIHub-Gateway/internal/utils/log"
)

func CheckAndResetQuotas() {
	ctx := context.Background()
	keys, err := op.APIKeyList(ctx)
	if err != nil {
		log.Errorf("failed to list api keys for quota reset: %v", err)
		return
	}

	now := time.Now()
	nowUnix := now.Unix()
	for _, key := range keys {
		if !key.AutoResetQuota || key.ResetDuration <= 0 {
			continue
		}
		// 按天重置的 key 必须对齐到 UTC 零点, 没对齐的立即补一次重置
		forceReset := key.ResetUnit == "day" && key.NextResetTime > 0 && !helper.IsAlignedToMidnight(key.NextResetTime)
		if key.NextResetTime == 0 {
			key.NextResetTime = helper.CalculateNextResetTime(now, key.ResetDuration, key.ResetUnit)
			if err := op.APIKeyUpdate(&key, ctx); err != nil {
				log.Errorf("failed to set next reset time for key %s: %v", key.Name, err)
			}
		} else if nowUnix >= key.NextResetTime || forceReset {
			if err := op.APIKeyResetUsage(key.ID, ctx); err != nil {
				log.Errorf("failed to reset usage for api key %s: %v", key.Name, err)
				continue
			}
			limiter.Forget(key.ID)
			// 重置后重新拿一份, 避免把清零前的计数写回去
			key, err = op.APIKeyGet(key.ID, ctx)
			if err != nil {
				log.Errorf("failed to reload api key after reset: %v", err)
				continue
			}
			key.NextResetTime = helper.CalculateNextResetTime(now, key.ResetDuration, key.ResetUnit)
			if err := op.APIKeyUpdate(&key, ctx); err != nil {
				log.Errorf("failed to update next reset time for key %s: %v", key.Name, err)
			} else {
				log.Infof("reset quota for api key %s (id: %d)", key.Name, key.ID)
			}
		}
	}
}
