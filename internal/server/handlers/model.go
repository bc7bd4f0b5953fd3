package handlers

import (
	"net/http"
	"strings"

	"github.com/Likyliang/APIHub-Gateway/internal/limiter"
	"github.com/Likyliang/APIHub-Gateway/internal/model"
	"github.com/Likyliang/APIHub-Gateway/internal/op"
	"github.com/Likyliang/APIHub-Gateway/internal/price"
	"github.com/Likyliang/APIHub-Gateway/internal/server/middleware"
	"github.com/Likyliang/APIHub-Gateway/internal/server/resp"
	"github.com/Likyliang/APIHub-Gateway/internal/server/router"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

func init() {
	router.NewGroupRouter("/api/v1/model").
		Use(middleware.Auth()).
		AddRoute(
			router.NewRoute("/list", http.MethodGet).
				Handle(listLLM),
		)
	router.NewGroupRouter("/api/v1/admin/model").
		Use(middleware.Auth()).
		Use(middleware.AdminAuth()).
		AddRoute(
			router.NewRoute("/create", http.MethodPost).
				Use(middleware.RequireJSON()).
				Handle(createLLM),
		).
		AddRoute(
			router.NewRoute("/update", http.MethodPost).
				Use(middleware.RequireJSON()).
				Handle(updateLLM),
		).
		AddRoute(
			router.NewRoute("/delete", http.MethodPost).
				Use(middleware.RequireJSON()).
				Handle(deleteLLM),
		).
		AddRoute(
			router.NewRoute("/update-price", http.MethodPost).
				Handle(updateLLMPrice),
		).
		AddRoute(
			router.NewRoute("/last-update-time", http.MethodGet).
				Handle(getLastUpdateTime),
		)
	router.NewGroupRouter("/v1").
		Use(middleware.APIKeyAuth()).
		AddRoute(
			router.NewRoute("/models", http.MethodGet).
				Handle(getModelList),
		)
}

// 模型价格表没有创建时间, OpenAI 格式的 created 字段统一用这个占位时间戳
// (2025-11-17T16:00:00Z)
const modelCreatedStamp = 1763395200

// getModelList OpenAI 格式的模型列表, 按 key 的白名单过滤
func getModelList(c *gin.Context) {
	llms, err := op.LLMList(c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	names := lo.Map(llms, func(m model.LLMInfo, _ int) string { return m.Name })

	if v, ok := c.Get("api_key"); ok {
		apiKey := v.(model.APIKey)
		if apiKey.AllowedModels != "" {
			names = lo.Filter(names, func(name string, _ int) bool {
				return limiter.ModelAllowed(apiKey, name)
			})
		}
	}

	openAIModels := make([]model.OpenAIModel, 0, len(names))
	for _, name := range names {
		openAIModels = append(openAIModels, model.OpenAIModel{
			ID:      name,
			Object:  "model",
			Created: modelCreatedStamp,
			OwnedBy: "apihub",
		})
	}
	c.JSON(http.StatusOK, model.OpenAIModelList{
		Object: "list",
		Data:   openAIModels,
	})
}

func listLLM(c *gin.Context) {
	models, err := op.LLMList(c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Success(c, models)
}

func createLLM(c *gin.Context) {
	var llm model.LLMInfo
	if err := c.ShouldBindJSON(&llm); err != nil {
		resp.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := op.LLMCreate(llm, c.Request.Context()); err != nil {
		resp.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Success(c, llm)
}

func updateLLM(c *gin.Context) {
	var llm model.LLMInfo
	if err := c.ShouldBindJSON(&llm); err != nil {
		resp.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := op.LLMUpdate(llm, c.Request.Context()); err != nil {
		resp.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Success(c, llm)
}

func deleteLLM(c *gin.Context) {
	var req struct {
		Names []string `json:"names" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	names := lo.Map(req.Names, func(s string, _ int) string { return strings.ToLower(strings.TrimSpace(s)) })
	if err := op.LLMBatchDelete(names, c.Request.Context()); err != nil {
		resp.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Success(c, nil)
}

func updateLLMPrice(c *gin.Context) {
	if err := price.UpdateLLMPrice(c.Request.Context()); err != nil {
		resp.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Success(c, nil)
}

func getLastUpdateTime(c *gin.Context) {
	resp.Success(c, price.GetLastUpdateTime())
}
