package op

import (
	"context"
	"sync"
	"time"

	"github.com/Likyliang/APIHub-Gateway/internal/db"
	"github.com/Likyliang/APIHub-Gateway/internal/model"
	"github.com/Likyliang/APIHub-Gateway/internal/utils/log"
	"github.com/Likyliang/APIHub-Gateway/internal/utils/snowflake"
)

const usageRecordMaxSize = 20
const usageRecordMaxSizeNoDB = 100 // 当不保存到数据库时，允许更大的缓存用于实时查询

var usageRecordCache = make([]model.UsageRecord, 0, usageRecordMaxSize)
var usageRecordCacheLock sync.Mutex

var usageRecordFlushLock sync.Mutex

func usageRecordFlushToDB(ctx context.Context) error {
	usageRecordFlushLock.Lock()
	defer usageRecordFlushLock.Unlock()

	usageRecordCacheLock.Lock()
	if len(usageRecordCache) == 0 {
		usageRecordCacheLock.Unlock()
		return nil
	}
	batch := make([]model.UsageRecord, len(usageRecordCache))
	copy(batch, usageRecordCache)
	flushedUpto := len(batch)
	usageRecordCacheLock.Unlock()

	result := db.GetDB().WithContext(ctx).Create(&batch)
	if result.Error != nil {
		return result.Error
	}

	usageRecordCacheLock.Lock()
	if len(usageRecordCache) >= flushedUpto {
		usageRecordCache = usageRecordCache[flushedUpto:]
	} else {
		usageRecordCache = usageRecordCache[:0]
	}
	if len(usageRecordCache) == 0 {
		usageRecordCache = make([]model.UsageRecord, 0, usageRecordMaxSize)
	}
	usageRecordCacheLock.Unlock()

	return nil
}

func UsageRecordAdd(ctx context.Context, record model.UsageRecord) error {
	enabled, err := SettingGetBool(model.SettingKeyUsageLogKeepEnabled)
	if err != nil {
		return err
	}
	maxSize := usageRecordMaxSize
	if !enabled {
		maxSize = usageRecordMaxSizeNoDB
	}
	record.ID = snowflake.GenerateID()

	usageRecordCacheLock.Lock()
	usageRecordCache = append(usageRecordCache, record)
	if len(usageRecordCache) >= maxSize {
		if enabled {
			usageRecordCacheLock.Unlock()
			return usageRecordFlushToDB(ctx)
		}
		// 如果未启用日志保存，移除最旧的记录，保留最新的用于实时查询
		keepSize := maxSize / 2
		if len(usageRecordCache) > keepSize {
			usageRecordCache = usageRecordCache[len(usageRecordCache)-keepSize:]
		}
	}
	usageRecordCacheLock.Unlock()
	return nil
}

func UsageRecordSaveDBTask(ctx context.Context) error {
	log.Debugf("usage record save db task started")
	startTime := time.Now()
	defer func() {
		log.Debugf("usage record save db task finished, save time: %s", time.Since(startTime))
	}()
	enabled, err := SettingGetBool(model.SettingKeyUsageLogKeepEnabled)
	if err != nil {
		return err
	}

	if enabled {
		if err := usageRecordFlushToDB(ctx); err != nil {
			return err
		}
		return usageRecordCleanup(ctx)
	}

	usageRecordCacheLock.Lock()
	if len(usageRecordCache) > usageRecordMaxSizeNoDB {
		keepSize := usageRecordMaxSizeNoDB / 2
		usageRecordCache = usageRecordCache[len(usageRecordCache)-keepSize:]
	}
	usageRecordCacheLock.Unlock()

	return nil
}

func usageRecordCleanup(ctx context.Context) error {
	keepPeriod, err := SettingGetInt(model.SettingKeyUsageLogKeepPeriod)
	if err != nil {
		return err
	}

	if keepPeriod <= 0 {
		return nil
	}

	cutoffTime := time.Now().Add(-time.Duration(keepPeriod) * 24 * time.Hour).Unix()
	return db.GetDB().WithContext(ctx).Where("time < ?", cutoffTime).Delete(&model.UsageRecord{}).Error
}

// UsageRecordList 查询用量记录，userID 为 0 时不按用户过滤(管理员视图)。
// startTime 和 endTime 为 nil 时表示不限制时间范围
func UsageRecordList(ctx context.Context, userID int, startTime, endTime *int, page, pageSize int) ([]model.UsageRecord, error) {
	enabled, err := SettingGetBool(model.SettingKeyUsageLogKeepEnabled)
	if err != nil {
		return nil, err
	}
	hasTimeFilter := startTime != nil && endTime != nil

	matches := func(r model.UsageRecord) bool {
		if userID != 0 && r.UserID != userID {
			return false
		}
		if hasTimeFilter && (r.Time < int64(*startTime) || r.Time > int64(*endTime)) {
			return false
		}
		return true
	}

	usageRecordCacheLock.Lock()
	var cachedRecords []model.UsageRecord
	for _, r := range usageRecordCache {
		if matches(r) {
			cachedRecords = append(cachedRecords, r)
		}
	}
	usageRecordCacheLock.Unlock()

	// 反转缓存顺序（原本新的在末尾，反转后新的在前面，方便分页）
	for i, j := 0, len(cachedRecords)-1; i < j; i, j = i+1, j-1 {
		cachedRecords[i], cachedRecords[j] = cachedRecords[j], cachedRecords[i]
	}

	cacheCount := len(cachedRecords)
	offset := (page - 1) * pageSize

	var result []model.UsageRecord

	if offset < cacheCount {
		cacheEnd := offset + pageSize
		if cacheEnd > cacheCount {
			cacheEnd = cacheCount
		}
		result = append(result, cachedRecords[offset:cacheEnd]...)
	}

	if enabled {
		remaining := pageSize - len(result)
		if remaining > 0 {
			dbOffset := 0
			if offset > cacheCount {
				dbOffset = offset - cacheCount
			}

			query := db.GetDB().WithContext(ctx)
			if userID != 0 {
				query = query.Where("user_id = ?", userID)
			}
			if hasTimeFilter {
				query = query.Where("time >= ? AND time <= ?", *startTime, *endTime)
			}

			var dbRecords []model.UsageRecord
			if err := query.Order("id DESC").Offset(dbOffset).Limit(remaining).Find(&dbRecords).Error; err != nil {
				return nil, err
			}
			result = append(result, dbRecords...)
		}
	}

	return result, nil
}
