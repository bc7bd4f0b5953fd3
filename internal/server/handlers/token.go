package handlers

import (
	"net/http"
	"strconv"

	"github.com/Likyliang/APIHub-Gateway/internal/ledger"
	"github.com/Likyliang/APIHub-Gateway/internal/model"
	"github.com/Likyliang/APIHub-Gateway/internal/op"
	"github.com/Likyliang/APIHub-Gateway/internal/server/middleware"
	"github.com/Likyliang/APIHub-Gateway/internal/server/resp"
	"github.com/Likyliang/APIHub-Gateway/internal/server/router"
	"github.com/Likyliang/APIHub-Gateway/internal/settlement"
	"github.com/Likyliang/APIHub-Gateway/internal/utils/tokenizer"
	"github.com/gin-gonic/gin"
)

func init() {
	router.NewGroupRouter("/api/v1/token").
		Use(middleware.Auth()).
		AddRoute(
			router.NewRoute("/balance", http.MethodGet).
				Handle(getBalance),
		).
		AddRoute(
			router.NewRoute("/transactions", http.MethodGet).
				Handle(listTransactions),
		).
		AddRoute(
			router.NewRoute("/check", http.MethodPost).
				Use(middleware.RequireJSON()).
				Handle(checkTokens),
		)
	router.NewGroupRouter("/api/v1/admin/token").
		Use(middleware.Auth()).
		Use(middleware.AdminAuth()).
		Use(middleware.RequireJSON()).
		AddRoute(
			router.NewRoute("/adjust", http.MethodPost).
				Handle(adjustBalance),
		).
		AddRoute(
			router.NewRoute("/recharge", http.MethodPost).
				Handle(rechargeBalance),
		).
		AddRoute(
			router.NewRoute("/balance/:user_id", http.MethodGet).
				Handle(getUserBalance),
		).
		AddRoute(
			router.NewRoute("/transactions/:user_id", http.MethodGet).
				Handle(listUserTransactions),
		)
}

func getBalance(c *gin.Context) {
	user, err := op.UserGet(c.GetInt("user_id"), c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusNotFound, resp.ErrResourceNotFound)
		return
	}
	resp.Success(c, gin.H{
		"token_balance":   user.TokenBalance,
		"total_recharged": user.TotalRecharged,
		"total_consumed":  user.TotalConsumed,
		"discount_rate":   user.DiscountRate,
	})
}

func listTransactions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	txType := model.TransactionType(c.Query("type"))

	transactions, total, err := op.TransactionListByUser(c.GetInt("user_id"), txType, page, pageSize, c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusInternalServerError, resp.ErrDatabase)
		return
	}
	resp.Success(c, gin.H{"total": total, "items": transactions})
}

// checkTokens 预估费用, 不实际扣费。
// 可以直接给 token 数, 也可以给文本由 tokenizer 估算
func checkTokens(c *gin.Context) {
	var req struct {
		Text   string `json:"text"`
		Tokens int    `json:"tokens"`
		Model  string `json:"model" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrValidation)
		return
	}
	tokens := req.Tokens
	if tokens <= 0 {
		if req.Text == "" {
			resp.Error(c, http.StatusBadRequest, "either tokens or text is required")
			return
		}
		tokens = tokenizer.CountTokens(req.Text, req.Model)
	}
	cost := settlement.Cost(req.Model, int64(tokens), 0)
	resp.Success(c, gin.H{
		"model":          req.Model,
		"tokens":         tokens,
		"estimated_cost": settlement.Round(cost),
	})
}

func rechargeBalance(c *gin.Context) {
	var req struct {
		UserID      int     `json:"user_id" binding:"required"`
		Amount      float64 `json:"amount" binding:"required,gt=0"`
		Description string  `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrValidation)
		return
	}
	if req.Description == "" {
		req.Description = "manual recharge"
	}
	tx, err := ledger.Apply(c.Request.Context(), ledger.Entry{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Type:        model.TransactionRecharge,
		Description: req.Description,
	})
	if err != nil {
		resp.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	resp.Success(c, tx)
}

func getUserBalance(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrInvalidParam)
		return
	}
	user, err := op.UserGet(userID, c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusNotFound, resp.ErrResourceNotFound)
		return
	}
	resp.Success(c, gin.H{
		"user_id":         user.ID,
		"token_balance":   user.TokenBalance,
		"total_recharged": user.TotalRecharged,
		"total_consumed":  user.TotalConsumed,
		"discount_rate":   user.DiscountRate,
	})
}

func listUserTransactions(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrInvalidParam)
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	txType := model.TransactionType(c.Query("type"))

	transactions, total, err := op.TransactionListByUser(userID, txType, page, pageSize, c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusInternalServerError, resp.ErrDatabase)
		return
	}
	resp.Success(c, gin.H{"total": total, "items": transactions})
}

func adjustBalance(c *gin.Context) {
	var req struct {
		UserID      int     `json:"user_id" binding:"required"`
		Amount      float64 `json:"amount" binding:"required"`
		Description string  `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrValidation)
		return
	}
	if req.Description == "" {
		req.Description = "manual balance adjustment"
	}
	tx, err := ledger.Apply(c.Request.Context(), ledger.Entry{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Type:        model.TransactionAdjust,
		Description: req.Description,
	})
	if err != nil {
		resp.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	resp.Success(c, tx)
}
