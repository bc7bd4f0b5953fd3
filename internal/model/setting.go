package model

import (
	"fmt"
	"strconv"
)

type SettingKey string

const (
	SettingKeyModelPriceUpdateInterval SettingKey = "model_price_update_interval" // 模型价格更新间隔(小时)
	SettingKeyUsageLogKeepPeriod       SettingKey = "usage_log_keep_period"       // 用量日志保存时间范围(天)
	SettingKeyUsageLogKeepEnabled      SettingKey = "usage_log_keep_enabled"      // 是否持久化用量日志
	SettingKeyCORSAllowOrigins         SettingKey = "cors_allow_origins"          // 跨域白名单(逗号分隔). 为空不允许跨域, "*"允许所有
	SettingKeyDefaultTokenPrice        SettingKey = "default_token_price"         // 未知模型的兜底价格(每百万 token, USD)
	SettingKeyProxyURL                 SettingKey = "proxy_url"                   // 出站请求代理, 支持 http/https/socks5
)

type Setting struct {
	Key   SettingKey `json:"key" gorm:"primaryKey"`
	Value string     `json:"value" gorm:"not null"`
}

func DefaultSettings() []Setting {
	return []Setting{
		{Key: SettingKeyModelPriceUpdateInterval, Value: "24"},
		{Key: SettingKeyUsageLogKeepPeriod, Value: "30"},
		{Key: SettingKeyUsageLogKeepEnabled, Value: "true"},
		{Key: SettingKeyCORSAllowOrigins, Value: ""},
		{Key: SettingKeyDefaultTokenPrice, Value: "1"},
		{Key: SettingKeyProxyURL, Value: ""},
	}
}

func (s *Setting) Validate() error {
	switch s.Key {
	case SettingKeyModelPriceUpdateInterval, SettingKeyUsageLogKeepPeriod:
		if _, err := strconv.Atoi(s.Value); err != nil {
			return fmt.Errorf("%s must be an integer", s.Key)
		}
	case SettingKeyUsageLogKeepEnabled:
		if s.Value != "true" && s.Value != "false" {
			return fmt.Errorf("%s must be true or false", s.Key)
		}
	case SettingKeyDefaultTokenPrice:
		if _, err := strconv.ParseFloat(s.Value, 64); err != nil {
			return fmt.Errorf("%s must be a number", s.Key)
		}
	}
	return nil
}
