package op

import (
	"context"
	"fmt"

	"github.com/Likyliang/APIHub-Gateway/internal/db"
	"github.com/Likyliang/APIHub-Gateway/internal/model"
	"github.com/Likyliang/APIHub-Gateway/internal/utils/cache"
)

var apiKeyCache = cache.New[int, model.APIKey](16)
var apiKeyHashMap = cache.New[string, int](16)

func APIKeyCreate(key *model.APIKey, ctx context.Context) error {
	if err := db.GetDB().WithContext(ctx).Create(key).Error; err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}
	apiKeyCache.Set(key.ID, *key)
	apiKeyHashMap.Set(key.KeyHash, key.ID)
	return nil
}

func APIKeyUpdate(key *model.APIKey, ctx context.Context) error {
	existing, ok := apiKeyCache.Get(key.ID)
	if !ok {
		return fmt.Errorf("API key not found")
	}
	if err := db.GetDB().WithContext(ctx).Omit("key_hash", "user_id").Save(key).Error; err != nil {
		return fmt.Errorf("failed to update API key: %w", err)
	}
	key.KeyHash = existing.KeyHash
	key.UserID = existing.UserID
	apiKeyCache.Set(key.ID, *key)
	return nil
}

func APIKeyList(ctx context.Context) ([]model.APIKey, error) {
	keys := make([]model.APIKey, 0, apiKeyCache.Len())
	for _, apiKey := range apiKeyCache.GetAll() {
		keys = append(keys, apiKey)
	}
	return keys, nil
}

func APIKeyListByUser(userID int, ctx context.Context) ([]model.APIKey, error) {
	keys := make([]model.APIKey, 0)
	for _, apiKey := range apiKeyCache.GetAll() {
		if apiKey.UserID == userID {
			keys = append(keys, apiKey)
		}
	}
	return keys, nil
}

func APIKeyGet(id int, ctx context.Context) (model.APIKey, error) {
	apiKey, ok := apiKeyCache.Get(id)
	if !ok {
		return model.APIKey{}, fmt.Errorf("API key not found")
	}
	return apiKey, nil
}

func APIKeyGetByHash(keyHash string, ctx context.Context) (model.APIKey, error) {
	id, ok := apiKeyHashMap.Get(keyHash)
	if !ok {
		return model.APIKey{}, fmt.Errorf("API key not found")
	}
	return APIKeyGet(id, ctx)
}

func APIKeyDelete(id int, ctx context.Context) error {
	k, ok := apiKeyCache.Get(id)
	if !ok {
		return fmt.Errorf("API key not found")
	}
	result := db.GetDB().WithContext(ctx).Delete(&model.APIKey{ID: id})
	if result.Error != nil {
		return fmt.Errorf("failed to delete API key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("API key not found")
	}
	apiKeyCache.Del(id)
	apiKeyHashMap.Del(k.KeyHash)
	return nil
}

// APIKeyReload 从数据库重读一行并刷新缓存。
// 用量计数器在结算事务里直接更新, 提交后调这里保持缓存一致。
func APIKeyReload(id int, ctx context.Context) error {
	var key model.APIKey
	if err := db.GetDB().WithContext(ctx).First(&key, id).Error; err != nil {
		return fmt.Errorf("failed to reload API key: %w", err)
	}
	apiKeyCache.Set(key.ID, key)
	apiKeyHashMap.Set(key.KeyHash, key.ID)
	return nil
}

// APIKeyResetUsage 清零用量计数器
func APIKeyResetUsage(id int, ctx context.Context) error {
	key, ok := apiKeyCache.Get(id)
	if !ok {
		return fmt.Errorf("API key not found")
	}
	key.TotalRequests = 0
	key.TotalTokens = 0
	key.QuotaUsed = 0
	if err := db.GetDB().WithContext(ctx).Model(&model.APIKey{ID: id}).Updates(map[string]any{
		"total_requests": 0,
		"total_tokens":   0,
		"quota_used":     0,
	}).Error; err != nil {
		return fmt.Errorf("failed to reset key usage: %w", err)
	}
	apiKeyCache.Set(id, key)
	return nil
}

func apiKeyRefreshCache(ctx context.Context) error {
	apiKeys := []model.APIKey{}
	if err := db.GetDB().WithContext(ctx).Find(&apiKeys).Error; err != nil {
		return err
	}
	for _, apiKey := range apiKeys {
		apiKeyCache.Set(apiKey.ID, apiKey)
		apiKeyHashMap.Set(apiKey.KeyHash, apiKey.ID)
	}
	return nil
}
