package handlers

import (
	"net/http"

	"github.com/Likyliang/APIHub-Gateway/internal/model"
	"github.com/Likyliang/APIHub-Gateway/internal/proxy"
	"github.com/Likyliang/APIHub-Gateway/internal/server/middleware"
	"github.com/Likyliang/APIHub-Gateway/internal/server/resp"
	"github.com/Likyliang/APIHub-Gateway/internal/server/router"
	"github.com/gin-gonic/gin"
)

func init() {
	router.NewGroupRouter("/v1").
		Use(middleware.APIKeyAuth()).
		Use(middleware.RequireJSON()).
		AddRoute(
			router.NewRoute("/chat/completions", http.MethodPost).
				Handle(forward),
		).
		AddRoute(
			router.NewRoute("/completions", http.MethodPost).
				Handle(forward),
		).
		AddRoute(
			router.NewRoute("/embeddings", http.MethodPost).
				Handle(forward),
		).
		AddRoute(
			router.NewRoute("/responses", http.MethodPost).
				Handle(forward),
		)
	router.NewGroupRouter("/").
		AddRoute(
			router.NewRoute("/health", http.MethodGet).
				Handle(health),
		)
}

func forward(c *gin.Context) {
	key := c.MustGet("api_key").(model.APIKey)
	user := c.MustGet("api_user").(model.User)
	proxy.Forward(c, key, user)
}

func health(c *gin.Context) {
	resp.Success(c, gin.H{"status": "ok"})
}
