package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/Likyliang/APIHub-Gateway/internal/limiter"
	"github.com/Likyliang/APIHub-Gateway/internal/server/auth"
	"github.com/Likyliang/APIHub-Gateway/internal/server/resp"
	"github.com/gin-gonic/gin"
)

func Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			resp.Error(c, http.StatusUnauthorized, resp.ErrUnauthorized)
			c.Abort()
			return
		}
		claims, err := auth.ParseJWTToken(strings.TrimPrefix(token, "Bearer "))
		if err != nil {
			resp.Error(c, http.StatusUnauthorized, resp.ErrUnauthorized)
			c.Abort()
			return
		}
		c.Set("user_id", claims.UserID)
		c.Set("is_admin", claims.IsAdmin)
		c.Next()
	}
}

func AdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool("is_admin") {
			resp.Error(c, http.StatusForbidden, resp.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// APIKeyAuth 代理入口鉴权: 取出密钥, 读出请求里的模型名,
// 走一遍完整的限流检查, 通过后才推进窗口计数
func APIKeyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		var apiKey string
		if key := c.Request.Header.Get("x-api-key"); key != "" {
			apiKey = key
		} else if authz := c.Request.Header.Get("Authorization"); authz != "" {
			apiKey = strings.TrimPrefix(authz, "Bearer ")
		}

		if apiKey == "" {
			resp.Error(c, http.StatusUnauthorized, resp.ErrUnauthorized)
			c.Abort()
			return
		}
		if !strings.HasPrefix(apiKey, auth.KeyPrefix()) {
			resp.Error(c, http.StatusUnauthorized, resp.ErrUnauthorized)
			c.Abort()
			return
		}

		modelName := peekModelName(c)

		key, user, denial := limiter.Evaluate(c.Request.Context(), auth.HashAPIKey(apiKey), modelName)
		if denial != nil {
			// message 以机器可读的 reason 开头, 客户端按前缀区分处理
			resp.Error(c, denial.Status, denial.Reason+": "+denial.Message)
			c.Abort()
			return
		}
		limiter.Record(key.ID)

		c.Set("api_key", key)
		c.Set("api_user", user)
		c.Next()
	}
}

// peekModelName 读 body 取 model 字段, 读完后原样放回去给后面的转发用
func peekModelName(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	body, err := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var payload struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Model
}
