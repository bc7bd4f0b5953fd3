package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Likyliang/APIHub-Gateway/internal/helper"
	"github.com/Likyliang/APIHub-Gateway/internal/limiter"
	"github.com/Likyliang/APIHub-Gateway/internal/model"
	"github.com/Likyliang/APIHub-Gateway/internal/op"
	"github.com/Likyliang/APIHub-Gateway/internal/server/auth"
	"github.com/Likyliang/APIHub-Gateway/internal/server/middleware"
	"github.com/Likyliang/APIHub-Gateway/internal/server/resp"
	"github.com/Likyliang/APIHub-Gateway/internal/server/router"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

func init() {
	router.NewGroupRouter("/api/v1/apikey").
		Use(middleware.Auth()).
		Use(middleware.RequireJSON()).
		AddRoute(
			router.NewRoute("/create", http.MethodPost).
				Handle(createAPIKey),
		).
		AddRoute(
			router.NewRoute("/batch-create", http.MethodPost).
				Handle(batchCreateAPIKey),
		).
		AddRoute(
			router.NewRoute("/list", http.MethodGet).
				Handle(listAPIKeys),
		).
		AddRoute(
			router.NewRoute("/update", http.MethodPost).
				Handle(updateAPIKey),
		).
		AddRoute(
			router.NewRoute("/delete/:id", http.MethodDelete).
				Handle(deleteAPIKey),
		).
		AddRoute(
			router.NewRoute("/deactivate/:id", http.MethodPost).
				Handle(deactivateAPIKey),
		).
		AddRoute(
			router.NewRoute("/reset-usage/:id", http.MethodPost).
				Handle(resetAPIKeyUsage),
		)
	router.NewGroupRouter("/api/v1/admin/apikey").
		Use(middleware.Auth()).
		Use(middleware.AdminAuth()).
		AddRoute(
			router.NewRoute("/list", http.MethodGet).
				Handle(listAllAPIKeys),
		)
}

func newAPIKeyFromRequest(userID int, req model.APIKeyCreate) (model.APIKey, string) {
	plainKey := auth.GenerateAPIKey()
	key := model.APIKey{
		UserID:         userID,
		Name:           req.Name,
		KeyHash:        auth.HashAPIKey(plainKey),
		KeyMasked:      auth.MaskAPIKey(plainKey),
		IsActive:       true,
		ExpireAt:       req.ExpireAt,
		RateLimit:      req.RateLimit,
		RateLimitDay:   req.RateLimitDay,
		TokenLimit:     req.TokenLimit,
		QuotaLimit:     req.QuotaLimit,
		DiscountRate:   req.DiscountRate,
		AutoResetQuota: req.AutoResetQuota,
		ResetDuration:  req.ResetDuration,
		ResetUnit:      req.ResetUnit,
	}
	if len(req.AllowedModels) > 0 {
		key.AllowedModels = strings.Join(lo.Map(req.AllowedModels, func(s string, _ int) string {
			return strings.ToLower(strings.TrimSpace(s))
		}), ",")
	}
	if key.AutoResetQuota && key.ResetDuration > 0 {
		key.NextResetTime = helper.CalculateNextResetTime(time.Now(), key.ResetDuration, key.ResetUnit)
	}
	return key, plainKey
}

func createAPIKey(c *gin.Context) {
	var req model.APIKeyCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrValidation)
		return
	}
	key, plainKey := newAPIKeyFromRequest(c.GetInt("user_id"), req)
	if err := op.APIKeyCreate(&key, c.Request.Context()); err != nil {
		resp.Error(c, http.StatusInternalServerError, resp.ErrDatabase)
		return
	}
	resp.Success(c, model.APIKeyCreated{APIKey: key, Key: plainKey})
}

func batchCreateAPIKey(c *gin.Context) {
	var req model.APIKeyBatchCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrValidation)
		return
	}
	if req.NamePrefix == "" {
		req.NamePrefix = req.Name
	}
	batchID := uuid.NewString()
	userID := c.GetInt("user_id")
	created := make([]model.APIKeyCreated, 0, req.Count)
	for i := 1; i <= req.Count; i++ {
		keyReq := req.APIKeyCreate
		keyReq.Name = fmt.Sprintf("%s-%d", req.NamePrefix, i)
		key, plainKey := newAPIKeyFromRequest(userID, keyReq)
		key.BatchID = batchID
		if err := op.APIKeyCreate(&key, c.Request.Context()); err != nil {
			resp.Error(c, http.StatusInternalServerError, resp.ErrDatabase)
			return
		}
		created = append(created, model.APIKeyCreated{APIKey: key, Key: plainKey})
	}
	resp.Success(c, gin.H{"batch_id": batchID, "keys": created})
}

func listAPIKeys(c *gin.Context) {
	keys, err := op.APIKeyListByUser(c.GetInt("user_id"), c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Success(c, keys)
}

func listAllAPIKeys(c *gin.Context) {
	keys, err := op.APIKeyList(c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Success(c, keys)
}

// ownedAPIKey 取出路径参数里的 key 并校验归属, 管理员可以操作任何 key
func ownedAPIKey(c *gin.Context) (model.APIKey, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrInvalidParam)
		return model.APIKey{}, false
	}
	key, err := op.APIKeyGet(id, c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusNotFound, resp.ErrResourceNotFound)
		return model.APIKey{}, false
	}
	if key.UserID != c.GetInt("user_id") && !c.GetBool("is_admin") {
		resp.Error(c, http.StatusForbidden, resp.ErrForbidden)
		return model.APIKey{}, false
	}
	return key, true
}

func updateAPIKey(c *gin.Context) {
	var req model.APIKey
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrInvalidJSON)
		return
	}
	key, err := op.APIKeyGet(req.ID, c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusNotFound, resp.ErrResourceNotFound)
		return
	}
	if key.UserID != c.GetInt("user_id") && !c.GetBool("is_admin") {
		resp.Error(c, http.StatusForbidden, resp.ErrForbidden)
		return
	}
	if err := op.APIKeyUpdate(&req, c.Request.Context()); err != nil {
		resp.Error(c, http.StatusInternalServerError, resp.ErrDatabase)
		return
	}
	resp.Success(c, req)
}

func deleteAPIKey(c *gin.Context) {
	key, ok := ownedAPIKey(c)
	if !ok {
		return
	}
	if err := op.APIKeyDelete(key.ID, c.Request.Context()); err != nil {
		resp.Error(c, http.StatusInternalServerError, resp.ErrDatabase)
		return
	}
	limiter.Forget(key.ID)
	resp.Success(c, nil)
}

func deactivateAPIKey(c *gin.Context) {
	key, ok := ownedAPIKey(c)
	if !ok {
		return
	}
	key.IsActive = false
	if err := op.APIKeyUpdate(&key, c.Request.Context()); err != nil {
		resp.Error(c, http.StatusInternalServerError, resp.ErrDatabase)
		return
	}
	resp.Success(c, key)
}

func resetAPIKeyUsage(c *gin.Context) {
	key, ok := ownedAPIKey(c)
	if !ok {
		return
	}
	if err := op.APIKeyResetUsage(key.ID, c.Request.Context()); err != nil {
		resp.Error(c, http.StatusInternalServerError, resp.ErrDatabase)
		return
	}
	limiter.Forget(key.ID)
	resp.Success(c, nil)
}
