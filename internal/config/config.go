package config

import (
	"fmt"
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Provider ProviderConfig `mapstructure:"provider"`
	Gmail    GmailConfig    `mapstructure:"gmail"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	TopupResult       string `mapstructure:"topup_result"`
	FulfillmentResult string `mapstructure:"fulfillment_result"`
}

// ProviderConfig 上游充值供应商（UniPlay）配置
type ProviderConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Timezone       string `mapstructure:"timezone"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// GmailConfig 凭证邮件抓取配置（OAuth2 refresh token 模式）
type GmailConfig struct {
	TokenURL     string `mapstructure:"token_url"`
	APIBaseURL   string `mapstructure:"api_base_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	VendorSender string `mapstructure:"vendor_sender"` // 只有该发件人的邮件才会进入匹配流程
}

// WhatsAppConfig 通知网关配置
type WhatsAppConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	Token      string `mapstructure:"token"`
	AdminPhone string `mapstructure:"admin_phone"` // 客服人工兜底号码
}

type BusinessConfig struct {
	MatchWindowMinutes    int `mapstructure:"match_window_minutes"`    // 凭证邮件与待处理订单的匹配时间窗
	ReconcileAfterMinutes int `mapstructure:"reconcile_after_minutes"` // 超过该时长仍未完结的订单进入人工对账
	MaxRetryCount         int `mapstructure:"max_retry_count"`
	// 供应商押金预警线（印尼盾最小单位），0 表示不检查
	MinProviderDeposit int64 `mapstructure:"min_provider_deposit"`
}

var GlobalConfig *Config

// LoadConfig 加载并校验配置文件
//
// 【设计思考】老版本把这些外部凭证塞在一张通用 KV 表的 JSON 字段里，
// 键是否存在全靠运气。现在统一收进强类型结构，启动时一次性校验，
// 缺什么当场报错，而不是等到第一笔订单失败才发现。
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		log.Fatalf("配置校验失败: %v", err)
	}

	GlobalConfig = config
	return config
}

// ApplyDefaults 填充可省略项的默认值
func (c *Config) ApplyDefaults() {
	if c.Provider.Timezone == "" {
		c.Provider.Timezone = "Asia/Jakarta"
	}
	if c.Provider.TimeoutSeconds <= 0 {
		c.Provider.TimeoutSeconds = 15
	}
	if c.Gmail.TokenURL == "" {
		c.Gmail.TokenURL = "https://oauth2.googleapis.com/token"
	}
	if c.Gmail.APIBaseURL == "" {
		c.Gmail.APIBaseURL = "https://gmail.googleapis.com/gmail/v1"
	}
	if c.Business.MatchWindowMinutes <= 0 {
		c.Business.MatchWindowMinutes = 5
	}
	if c.Business.ReconcileAfterMinutes <= 0 {
		c.Business.ReconcileAfterMinutes = 30
	}
	if c.Business.MaxRetryCount <= 0 {
		c.Business.MaxRetryCount = 3
	}
}

// Validate 校验必填项，启动阶段快速失败
func (c *Config) Validate() error {
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url 不能为空")
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider.api_key 不能为空")
	}
	if c.Gmail.ClientID == "" || c.Gmail.ClientSecret == "" || c.Gmail.RefreshToken == "" {
		return fmt.Errorf("gmail 凭证不完整（client_id / client_secret / refresh_token）")
	}
	if c.Gmail.VendorSender == "" {
		return fmt.Errorf("gmail.vendor_sender 不能为空")
	}
	if c.WhatsApp.BaseURL == "" || c.WhatsApp.Token == "" {
		return fmt.Errorf("whatsapp 网关配置不完整（base_url / token）")
	}
	if c.WhatsApp.AdminPhone == "" {
		return fmt.Errorf("whatsapp.admin_phone 不能为空（人工兜底依赖该号码）")
	}
	return nil
}
