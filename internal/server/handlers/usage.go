package handlers

import (
	"net/http"
	"strconv"

	"github.com/Likyliang/APIHub-Gateway/internal/op"
	"github.com/Likyliang/APIHub-Gateway/internal/server/middleware"
	"github.com/Likyliang/APIHub-Gateway/internal/server/resp"
	"github.com/Likyliang/APIHub-Gateway/internal/server/router"
	"github.com/gin-gonic/gin"
)

func init() {
	router.NewGroupRouter("/api/v1/usage").
		Use(middleware.Auth()).
		AddRoute(
			router.NewRoute("/list", http.MethodGet).
				Handle(listUsage),
		)
	router.NewGroupRouter("/api/v1/admin/usage").
		Use(middleware.Auth()).
		Use(middleware.AdminAuth()).
		AddRoute(
			router.NewRoute("/list", http.MethodGet).
				Handle(listAllUsage),
		)
}

func usageQueryParams(c *gin.Context) (startTime, endTime *int, page, pageSize int) {
	if v := c.Query("start_time"); v != "" {
		if t, err := strconv.Atoi(v); err == nil {
			startTime = &t
		}
	}
	if v := c.Query("end_time"); v != "" {
		if t, err := strconv.Atoi(v); err == nil {
			endTime = &t
		}
	}
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return
}

func listUsage(c *gin.Context) {
	startTime, endTime, page, pageSize := usageQueryParams(c)
	records, err := op.UsageRecordList(c.Request.Context(), c.GetInt("user_id"), startTime, endTime, page, pageSize)
	if err != nil {
		resp.Error(c, http.StatusInternalServerError, resp.ErrDatabase)
		return
	}
	resp.Success(c, records)
}

func listAllUsage(c *gin.Context) {
	startTime, endTime, page, pageSize := usageQueryParams(c)
	userID, _ := strconv.Atoi(c.DefaultQuery("user_id", "0"))
	records, err := op.UsageRecordList(c.Request.Context(), userID, startTime, endTime, page, pageSize)
	if err != nil {
		resp.Error(c, http.StatusInternalServerError, resp.ErrDatabase)
		return
	}
	resp.Success(c, records)
}
