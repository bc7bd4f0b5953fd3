package handlers

import (
	"net/http"
	"strconv"

	"github.com/Likyliang/APIHub-Gateway/internal/model"
	"github.com/Likyliang/APIHub-Gateway/internal/op"
	"github.com/Likyliang/APIHub-Gateway/internal/payment"
	"github.com/Likyliang/APIHub-Gateway/internal/server/middleware"
	"github.com/Likyliang/APIHub-Gateway/internal/server/resp"
	"github.com/Likyliang/APIHub-Gateway/internal/server/router"
	"github.com/Likyliang/APIHub-Gateway/internal/utils/log"
	"github.com/gin-gonic/gin"
)

func init() {
	router.NewGroupRouter("/api/v1/payment").
		AddRoute(
			router.NewRoute("/plans", http.MethodGet).
				Handle(listPlans),
		).
		AddRoute(
			// 易支付异步回调, GET 带 query 参数, 响应纯文本
			router.NewRoute("/notify", http.MethodGet).
				Handle(paymentNotify),
		).
		AddRoute(
			// 部分网关用 POST 表单回调, 参数一致
			router.NewRoute("/notify", http.MethodPost).
				Handle(paymentNotify),
		)
	router.NewGroupRouter("/api/v1/payment").
		Use(middleware.Auth()).
		AddRoute(
			router.NewRoute("/order/create", http.MethodPost).
				Use(middleware.RequireJSON()).
				Handle(createOrder),
		).
		AddRoute(
			router.NewRoute("/order/list", http.MethodGet).
				Handle(listOrders),
		).
		AddRoute(
			router.NewRoute("/order/status/:order_no", http.MethodGet).
				Handle(orderStatus),
		)
	router.NewGroupRouter("/api/v1/admin/payment").
		Use(middleware.Auth()).
		Use(middleware.AdminAuth()).
		AddRoute(
			router.NewRoute("/plan/create", http.MethodPost).
				Use(middleware.RequireJSON()).
				Handle(createPlan),
		).
		AddRoute(
			router.NewRoute("/plan/update", http.MethodPost).
				Use(middleware.RequireJSON()).
				Handle(updatePlan),
		).
		AddRoute(
			router.NewRoute("/plan/delete/:id", http.MethodDelete).
				Handle(deletePlan),
		).
		AddRoute(
			router.NewRoute("/order/list", http.MethodGet).
				Handle(listAllOrders),
		).
		AddRoute(
			router.NewRoute("/stats", http.MethodGet).
				Handle(orderStats),
		)
}

func listPlans(c *gin.Context) {
	plans, err := op.PlanList(false, c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusInternalServerError, resp.ErrDatabase)
		return
	}
	resp.Success(c, plans)
}

func createOrder(c *gin.Context) {
	var req model.OrderCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrValidation)
		return
	}
	order, err := payment.CreateOrder(c.Request.Context(), c.GetInt("user_id"), req)
	if err != nil {
		resp.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	resp.Success(c, order)
}

func listOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	orders, total, err := op.OrderListByUser(c.GetInt("user_id"), page, pageSize, c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusInternalServerError, resp.ErrDatabase)
		return
	}
	resp.Success(c, gin.H{"total": total, "items": orders})
}

func listAllOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	status := model.OrderStatus(c.Query("status"))
	orders, total, err := op.OrderList(status, page, pageSize, c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusInternalServerError, resp.ErrDatabase)
		return
	}
	resp.Success(c, gin.H{"total": total, "items": orders})
}

func orderStatus(c *gin.Context) {
	order, err := payment.CheckStatus(c.Request.Context(), c.Param("order_no"))
	if err != nil {
		resp.Error(c, http.StatusNotFound, resp.ErrResourceNotFound)
		return
	}
	if order.UserID != c.GetInt("user_id") && !c.GetBool("is_admin") {
		resp.Error(c, http.StatusForbidden, resp.ErrForbidden)
		return
	}
	resp.Success(c, order)
}

func orderStats(c *gin.Context) {
	stats, err := op.OrderStats(c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusInternalServerError, resp.ErrDatabase)
		return
	}
	resp.Success(c, stats)
}

// paymentNotify 网关的响应体固定为 "success" / "fail",
// 返回 "fail" 时网关会重试
func paymentNotify(c *gin.Context) {
	// ParseForm 同时覆盖 query 参数和 POST 表单
	_ = c.Request.ParseForm()
	params := make(map[string]string)
	for key, values := range c.Request.Form {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	if err := payment.HandleNotify(c.Request.Context(), params); err != nil {
		log.Warnf("payment notify rejected: %v", err)
		c.String(http.StatusOK, "fail")
		return
	}
	c.String(http.StatusOK, "success")
}

func createPlan(c *gin.Context) {
	var req model.PricePlanCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrInvalidJSON)
		return
	}
	plan := model.PricePlan{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		QuotaAmount: req.QuotaAmount,
		IsPopular:   req.IsPopular,
		SortOrder:   req.SortOrder,
		IsActive:    req.IsActive == nil || *req.IsActive,
	}
	if err := op.PlanCreate(&plan, c.Request.Context()); err != nil {
		resp.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	resp.Success(c, plan)
}

func updatePlan(c *gin.Context) {
	var plan model.PricePlan
	if err := c.ShouldBindJSON(&plan); err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrInvalidJSON)
		return
	}
	if err := op.PlanUpdate(&plan, c.Request.Context()); err != nil {
		resp.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	resp.Success(c, plan)
}

func deletePlan(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrInvalidParam)
		return
	}
	if err := op.PlanDelete(id, c.Request.Context()); err != nil {
		resp.Error(c, http.StatusNotFound, err.Error())
		return
	}
	resp.Success(c, nil)
}
