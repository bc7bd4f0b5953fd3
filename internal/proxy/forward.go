// Package proxy 把 /v1/* 请求透传到上游服务, 流式响应边转发边
// 收集用量, 请求结束后结算计费。
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Likyliang/APIHub-Gateway/internal/client"
	"github.com/Likyliang/APIHub-Gateway/internal/conf"
	"github.com/Likyliang/APIHub-Gateway/internal/helper"
	"github.com/Likyliang/APIHub-Gateway/internal/model"
	"github.com/Likyliang/APIHub-Gateway/internal/op"
	"github.com/Likyliang/APIHub-Gateway/internal/server/resp"
	"github.com/Likyliang/APIHub-Gateway/internal/settlement"
	"github.com/Likyliang/APIHub-Gateway/internal/utils/log"
	"github.com/gin-gonic/gin"
	"github.com/tmaxmax/go-sse"
)

const maxSSEEventSize = 32 * 1024 * 1024
const maxErrorBodySize = 64 * 1024

// hopByHopHeaders 定义不应转发的 HTTP 头
var hopByHopHeaders = map[string]bool{
	"authorization":       true,
	"x-api-key":           true,
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"content-length":      true,
	"host":                true,
	"accept-encoding":     true,
}

// Forward 转发一次已通过准入检查的请求。
// 上游失败时不结算: 没有产生可计费的用量。
func Forward(c *gin.Context, key model.APIKey, user model.User) {
	start := time.Now()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		resp.Error(c, http.StatusBadRequest, "failed to read request body")
		return
	}
	meta := parseRequestMeta(body)

	upstream := conf.AppConfig.Upstream
	target := strings.TrimRight(upstream.URL, "/") + c.Request.URL.Path
	if c.Request.URL.RawQuery != "" {
		target += "?" + c.Request.URL.RawQuery
	}

	ctx := c.Request.Context()
	if !meta.Stream && upstream.TimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(upstream.TimeoutSec)*time.Second)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, c.Request.Method, target, bytes.NewReader(body))
	if err != nil {
		resp.Error(c, http.StatusInternalServerError, "failed to build upstream request")
		return
	}
	copyHeaders(c.Request.Header, req.Header)
	if upstream.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+upstream.APIKey)
	}
	if req.Header.Get("Content-Type") == "" && len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient, err := client.GetHTTPClientSystemProxy(false)
	if err != nil {
		resp.Error(c, http.StatusBadGateway, "failed to get http client")
		return
	}

	response, err := httpClient.Do(req)
	if err != nil {
		log.Warnf("upstream request failed: %v", err)
		recordUsage(c, key, user, meta, 0, 0, 0, http.StatusBadGateway, start, err)
		resp.Error(c, http.StatusBadGateway, "upstream unreachable")
		return
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodySize))
		contentType := response.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/json"
		}
		c.Data(response.StatusCode, contentType, errBody)
		recordUsage(c, key, user, meta, 0, 0, 0, response.StatusCode, start,
			fmt.Errorf("upstream status %d", response.StatusCode))
		return
	}

	if meta.Stream {
		forwardStream(c, key, user, meta, body, response, start)
		return
	}
	forwardOnce(c, key, user, meta, body, response, start)
}

// copyHeaders 复制请求头, 过滤 hop-by-hop 头
func copyHeaders(src, dst http.Header) {
	for key, values := range src {
		if hopByHopHeaders[strings.ToLower(key)] {
			continue
		}
		for _, value := range values {
			dst.Set(key, value)
		}
	}
}

// forwardOnce 非流式: 整体读出, 原样回给客户端, 再结算
func forwardOnce(c *gin.Context, key model.APIKey, user model.User, meta requestMeta, reqBody []byte, response *http.Response, start time.Time) {
	respBody, err := io.ReadAll(response.Body)
	if err != nil {
		resp.Error(c, http.StatusBadGateway, "failed to read upstream response")
		recordUsage(c, key, user, meta, 0, 0, 0, http.StatusBadGateway, start, err)
		return
	}

	contentType := response.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(response.StatusCode, contentType, respBody)

	modelName := meta.Model
	prompt, completion := responseTokens(respBody, reqBody, modelName)
	cost := settle(context.WithoutCancel(c.Request.Context()), key, user, modelName, prompt, completion)
	recordUsage(c, key, user, meta, prompt, completion, cost, response.StatusCode, start, nil)
}

// forwardStream 流式: 逐事件转发, 同时收集用量
func forwardStream(c *gin.Context, key model.APIKey, user model.User, meta requestMeta, reqBody []byte, response *http.Response, start time.Time) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	harvest := &streamHarvest{}
	clientGone := false

	readCfg := &sse.ReadConfig{MaxEventSize: maxSSEEventSize}
	for ev, err := range sse.Read(response.Body, readCfg) {
		if err != nil {
			log.Warnf("failed to read upstream event: %v", err)
			break
		}
		harvest.observe(ev.Data)
		if clientGone {
			continue
		}
		select {
		case <-c.Request.Context().Done():
			// 客户端断开后继续读完上游, 用量照常结算
			clientGone = true
			continue
		default:
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", ev.Data)
		c.Writer.Flush()
	}

	modelName := harvest.model
	if modelName == "" {
		modelName = meta.Model
	}
	// 客户端可能已经断开, 结算不能跟着请求上下文一起取消
	prompt, completion := harvest.tokens(reqBody, modelName)
	cost := settle(context.WithoutCancel(c.Request.Context()), key, user, modelName, prompt, completion)
	recordUsage(c, key, user, meta, prompt, completion, cost, response.StatusCode, start, nil)
}

func settle(ctx context.Context, key model.APIKey, user model.User, modelName string, prompt, completion int64) float64 {
	// 第一次见到的模型补一条价格记录, 有远端价格就带上
	modelName = strings.ToLower(modelName)
	if _, err := op.LLMGet(modelName); err != nil && modelName != "" {
		if err := helper.LLMPriceAddToDB([]string{modelName}, ctx); err != nil {
			log.Warnf("failed to add price row for model %s: %v", modelName, err)
		}
	}
	cost, _, err := settlement.Settle(ctx, settlement.Usage{
		Key:              key,
		User:             user,
		Model:            modelName,
		PromptTokens:     prompt,
		CompletionTokens: completion,
	})
	if err != nil {
		log.Errorf("settlement failed for key %d: %v", key.ID, err)
		return 0
	}
	return cost
}

func recordUsage(c *gin.Context, key model.APIKey, user model.User, meta requestMeta, prompt, completion int64, cost float64, status int, start time.Time, failure error) {
	record := model.UsageRecord{
		Time:             time.Now().Unix(),
		UserID:           user.ID,
		APIKeyID:         key.ID,
		Endpoint:         c.Request.URL.Path,
		Method:           c.Request.Method,
		Model:            meta.Model,
		PromptTokens:     int(prompt),
		CompletionTokens: int(completion),
		TotalTokens:      int(prompt + completion),
		Cost:             cost,
		StatusCode:       status,
		UseTime:          int(time.Since(start).Milliseconds()),
		Stream:           meta.Stream,
		Success:          failure == nil,
	}
	if failure != nil {
		record.Error = failure.Error()
	}
	if err := op.UsageRecordAdd(context.WithoutCancel(c.Request.Context()), record); err != nil {
		log.Warnf("failed to record usage: %v", err)
	}
}
