package handlers

import (
	"net/http"
	"time"

	"github.com/Likyliang/APIHub-Gateway/internal/conf"
	"github.com/Likyliang/APIHub-Gateway/internal/model"
	"github.com/Likyliang/APIHub-Gateway/internal/op"
	"github.com/Likyliang/APIHub-Gateway/internal/server/auth"
	"github.com/Likyliang/APIHub-Gateway/internal/server/middleware"
	"github.com/Likyliang/APIHub-Gateway/internal/server/resp"
	"github.com/Likyliang/APIHub-Gateway/internal/server/router"
	"github.com/gin-gonic/gin"
)

func init() {
	router.NewGroupRouter("/api/v1/user").
		Use(middleware.RequireJSON()).
		AddRoute(
			router.NewRoute("/register", http.MethodPost).
				Handle(register),
		).
		AddRoute(
			router.NewRoute("/login", http.MethodPost).
				Handle(login),
		)
	router.NewGroupRouter("/api/v1/user").
		Use(middleware.Auth()).
		Use(middleware.RequireJSON()).
		AddRoute(
			router.NewRoute("/profile", http.MethodGet).
				Handle(profile),
		).
		AddRoute(
			router.NewRoute("/change-password", http.MethodPost).
				Handle(changePassword),
		)
	router.NewGroupRouter("/api/v1/admin/user").
		Use(middleware.Auth()).
		Use(middleware.AdminAuth()).
		Use(middleware.RequireJSON()).
		AddRoute(
			router.NewRoute("/list", http.MethodGet).
				Handle(listUsers),
		).
		AddRoute(
			router.NewRoute("/set-active", http.MethodPost).
				Handle(setUserActive),
		).
		AddRoute(
			router.NewRoute("/set-discount", http.MethodPost).
				Handle(setUserDiscount),
		)
}

func register(c *gin.Context) {
	if !conf.AppConfig.Auth.AllowRegister {
		resp.Error(c, http.StatusForbidden, "registration is disabled")
		return
	}
	var req model.UserRegister
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrValidation)
		return
	}
	user := model.User{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		IsActive: true,
	}
	if err := op.UserCreate(&user, c.Request.Context()); err != nil {
		resp.Error(c, http.StatusConflict, resp.ErrDuplicateResource)
		return
	}
	resp.Success(c, user)
}

func login(c *gin.Context) {
	var req model.UserLogin
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrInvalidJSON)
		return
	}
	user, err := op.UserVerify(req.Username, req.Password, c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusUnauthorized, resp.ErrUnauthorized)
		return
	}
	if !user.IsActive {
		resp.Error(c, http.StatusForbidden, "account is disabled")
		return
	}
	token, expire, err := auth.GenerateJWTToken(user)
	if err != nil {
		resp.Error(c, http.StatusInternalServerError, resp.ErrInternalServer)
		return
	}
	user.LastLogin = time.Now().Unix()
	if err := op.UserUpdate(&user, c.Request.Context()); err != nil {
		resp.Error(c, http.StatusInternalServerError, resp.ErrDatabase)
		return
	}
	resp.Success(c, model.UserLoginResponse{Token: token, ExpireAt: expire, User: user})
}

func profile(c *gin.Context) {
	user, err := op.UserGet(c.GetInt("user_id"), c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusNotFound, resp.ErrResourceNotFound)
		return
	}
	resp.Success(c, user)
}

func changePassword(c *gin.Context) {
	var req model.UserChangePassword
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrValidation)
		return
	}
	if err := op.UserChangePassword(c.GetInt("user_id"), req.OldPassword, req.NewPassword, c.Request.Context()); err != nil {
		resp.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	resp.Success(c, "password changed successfully")
}

func listUsers(c *gin.Context) {
	users, err := op.UserList(c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Success(c, users)
}

func setUserActive(c *gin.Context) {
	var req struct {
		UserID int  `json:"user_id" binding:"required"`
		Active bool `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrInvalidJSON)
		return
	}
	if err := op.UserSetActive(req.UserID, req.Active, c.Request.Context()); err != nil {
		resp.Error(c, http.StatusNotFound, err.Error())
		return
	}
	resp.Success(c, nil)
}

func setUserDiscount(c *gin.Context) {
	var req struct {
		UserID       int     `json:"user_id" binding:"required"`
		DiscountRate float64 `json:"discount_rate" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrInvalidJSON)
		return
	}
	if err := op.UserSetDiscount(req.UserID, req.DiscountRate, c.Request.Context()); err != nil {
		resp.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	resp.Success(c, nil)
}
