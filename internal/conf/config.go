package conf

import (
	"fmt"
	"os"
	"strings"

	"github.com/Likyliang/APIHub-Gateway/internal/utils/log"
	"github.com/spf13/viper"
)

type Server struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

type Database struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

type Auth struct {
	// JWT 签名密钥, 为空时启动失败
	Secret        string `mapstructure:"secret"`
	ExpireMinutes int    `mapstructure:"expire_minutes"`
	KeyPrefix     string `mapstructure:"key_prefix"`
	AllowRegister bool   `mapstructure:"allow_register"`
}

type Admin struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Email    string `mapstructure:"email"`
}

type Upstream struct {
	URL string `mapstructure:"url"`
	// 上游服务的 API Key (如果需要)
	APIKey     string `mapstructure:"api_key"`
	TimeoutSec int    `mapstructure:"timeout"`
}

type Payment struct {
	// 易支付网关
	EpayURL   string `mapstructure:"epay_url"`
	EpayPID   string `mapstructure:"epay_pid"`
	EpayKey   string `mapstructure:"epay_key"`
	NotifyURL string `mapstructure:"notify_url"`
	ReturnURL string `mapstructure:"return_url"`
	// 未支付订单过期时间(分钟)
	OrderTTLMinutes int `mapstructure:"order_ttl_minutes"`
}

type Config struct {
	Server   Server   `mapstructure:"server"`
	Log      Log      `mapstructure:"log"`
	Database Database `mapstructure:"database"`
	Auth     Auth     `mapstructure:"auth"`
	Admin    Admin    `mapstructure:"admin"`
	Upstream Upstream `mapstructure:"upstream"`
	Payment  Payment  `mapstructure:"payment"`
}

var AppConfig Config

func Load(path string) error {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("json")
		viper.AddConfigPath("data")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix(APP_NAME)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err == nil {
		log.Infof("Using config file: %s", viper.ConfigFileUsed())
	} else {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Infof("Config file not found, creating default config")
			if err := os.MkdirAll("data", 0755); err != nil {
				log.Errorf("Failed to create data directory: %v", err)
			}
			if err := viper.SafeWriteConfigAs("data/config.json"); err != nil {
				log.Errorf("Failed to create default config: %v", err)
			}
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if AppConfig.Auth.Secret == "" {
		return fmt.Errorf("auth.secret must be set (env %s_AUTH_SECRET or config file)", strings.ToUpper(APP_NAME))
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.type", "sqlite")
	viper.SetDefault("database.dsn", "data/data.db")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("auth.expire_minutes", 60*24*7)
	viper.SetDefault("auth.key_prefix", "ahg")
	viper.SetDefault("auth.allow_register", true)
	viper.SetDefault("admin.username", "admin")
	viper.SetDefault("admin.password", "admin123")
	viper.SetDefault("admin.email", "admin@apihub.local")
	viper.SetDefault("upstream.url", "http://127.0.0.1:8317")
	viper.SetDefault("upstream.timeout", 300)
	viper.SetDefault("payment.epay_url", "https://pay.example.com")
	viper.SetDefault("payment.epay_pid", "1000")
	viper.SetDefault("payment.order_ttl_minutes", 15)
}
