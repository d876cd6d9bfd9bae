package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

var Cfg Config

type Config struct {
	// 服务配置
	ServerPort  string `env:"SERVER_PORT" envDefault:"8888"`
	ServerHost  string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"` // development, staging, production
	ServiceName string `env:"SERVICE_NAME" envDefault:"stillok"`

	// PostgreSQL 配置
	PostgreSQLHost     string `env:"POSTGRESQL_HOST" envDefault:"localhost"`
	PostgreSQLPort     string `env:"POSTGRESQL_PORT" envDefault:"5432"`
	PostgreSQLUser     string `env:"POSTGRESQL_USER" envDefault:"postgres"`
	PostgreSQLPassword string `env:"POSTGRESQL_PASSWORD" envDefault:"postgres"`
	PostgreSQLDatabase string `env:"POSTGRESQL_DATABASE" envDefault:"stillok"`
	PostgreSQLSchema   string `env:"POSTGRESQL_SCHEMA" envDefault:"public"`
	PostgreSQLSSLMode  string `env:"POSTGRESQL_SSLMODE" envDefault:"disable"`
	PostgreSQLMaxIdle  int    `env:"POSTGRESQL_MAX_IDLE" envDefault:"30"`
	PostgreSQLMaxOpen  int    `env:"POSTGRESQL_MAX_OPEN" envDefault:"200"`

	// Redis 配置
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"sok"`

	// RabbitMQ 配置
	RabbitMQAddr     string `env:"RABBITMQ_ADDR" envDefault:"localhost"`
	RabbitMQPort     string `env:"RABBITMQ_PORT" envDefault:"5672"`
	RabbitMQUsername string `env:"RABBITMQ_USERNAME" envDefault:"guest"`
	RabbitMQPassword string `env:"RABBITMQ_PASSWORD" envDefault:"guest"`
	RabbitMQVhost    string `env:"RABBITMQ_VHOST" envDefault:"/"`

	// JWT 配置
	JWTSecret        string `env:"JWT_SECRET"` // 必填，用于签名 JWT
	JWTExpireMinutes int    `env:"JWT_EXPIRE_MINUTES" envDefault:"30"`
	JWTRefreshDays   int    `env:"JWT_REFRESH_DAYS" envDefault:"7"`

	// 短信服务配置（验证码通道）
	// AccessKey 通过阿里云 SDK 的环境变量自动获取：
	// ALIBABA_CLOUD_ACCESS_KEY_ID / ALIBABA_CLOUD_ACCESS_KEY_SECRET
	SMSProvider     string `env:"SMS_PROVIDER" envDefault:"aliyun"` // aliyun, mock
	SMSSignName     string `env:"SMS_SIGN_NAME"`
	SMSTemplateCode string `env:"SMS_TEMPLATE_CODE"`

	// 推送网关配置
	PushProvider       string `env:"PUSH_PROVIDER" envDefault:"webhook"` // webhook, mock
	PushGatewayURL     string `env:"PUSH_GATEWAY_URL"`
	PushTimeoutSeconds int    `env:"PUSH_TIMEOUT_SECONDS" envDefault:"5"`

	// 加密配置
	EncryptionKey string `env:"ENCRYPTION_KEY"` // 用于加密手机号等敏感数据，32字节 AES-256
	PhoneHashSalt string `env:"PHONEHASH_SALT"`

	// Snowflake ID 生成器配置
	SnowflakeMachineID  int64 `env:"SNOWFLAKE_MACHINE_ID" envDefault:"1"`
	SnowflakeDataCenter int64 `env:"SNOWFLAKE_DATACENTER_ID" envDefault:"1"`

	// 日志配置
	LoggerLevel      string `env:"LOGGER_LEVEL" envDefault:"INFO"`
	LoggerFormat     string `env:"LOGGER_FORMAT" envDefault:"text"` // json, text
	LoggerOutputPath string `env:"LOGGER_OUTPUT_PATH" envDefault:"stdout"`

	// 链路追踪配置
	OTLPEndpoint  string  `env:"OTLP_ENDPOINT" envDefault:"localhost:4317"`
	TraceSampler  float64 `env:"TRACE_SAMPLER" envDefault:"0.1"`

	// 速率限制配置，配置在中间件内
	RateLimitEnabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitRPS     int  `env:"RATE_LIMIT_RPS" envDefault:"100"`

	// 验证码配置
	CaptchaExpireSeconds int `env:"CAPTCHA_EXPIRE_SECONDS" envDefault:"120"`
	CaptchaMaxDaily      int `env:"CAPTCHA_MAX_DAILY" envDefault:"10"`

	// 打卡配置
	CheckInMinIntervalMinutes     int `env:"CHECKIN_MIN_INTERVAL_MINUTES" envDefault:"1"`
	CheckInDefaultIntervalHours   int `env:"CHECKIN_DEFAULT_INTERVAL_HOURS" envDefault:"24"`
	DeadlineScanIntervalSeconds   int `env:"DEADLINE_SCAN_INTERVAL_SECONDS" envDefault:"60"`

	// 离线重试队列配置
	PendingMaxAttempts          int `env:"PENDING_MAX_ATTEMPTS" envDefault:"5"`
	PendingStandardExpireHours  int `env:"PENDING_STANDARD_EXPIRE_HOURS" envDefault:"1"`
	PendingCriticalExpireHours  int `env:"PENDING_CRITICAL_EXPIRE_HOURS" envDefault:"24"`
	PendingSweepIntervalSeconds int `env:"PENDING_SWEEP_INTERVAL_SECONDS" envDefault:"30"`
}

func init() {

	if err := godotenv.Load(); err != nil {

		log.Printf("WARN: Cannot load .env file: %v, using environment variables", err)
	}

	Cfg = Config{}
	if err := env.Parse(&Cfg); err != nil {
		log.Fatalf("Failed to parse environment variables: %v", err)
	}

	validateConfig()
}

func validateConfig() {
	if Cfg.JWTSecret == "" {
		if Cfg.IsProduction() {
			log.Fatal("JWT_SECRET is required")
		}
		log.Print("WARN: JWT_SECRET is not set, using insecure development secret")
		Cfg.JWTSecret = "insecure-development-jwt-secret"
	}

	if len(Cfg.EncryptionKey) != 32 {
		if Cfg.IsProduction() {
			log.Fatal("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
		}
		log.Print("WARN: ENCRYPTION_KEY is not a 32-byte key, using insecure development key")
		Cfg.EncryptionKey = "insecure-development-key-32bytes"
	}

	if Cfg.SMSSignName == "" {
		log.Printf("WARN: SMS_SIGN_NAME is not set, SMS service may not work properly")
	}
	if Cfg.SMSTemplateCode == "" {
		log.Printf("WARN: SMS_TEMPLATE_CODE is not set, SMS service may not work properly")
	}

	if Cfg.PushProvider == "webhook" && Cfg.PushGatewayURL == "" {
		log.Printf("WARN: PUSH_GATEWAY_URL is not set, push delivery will not work")
	}
}

func (c *Config) GetDSN() string {
	return "host=" + c.PostgreSQLHost +
		" port=" + c.PostgreSQLPort +
		" user=" + c.PostgreSQLUser +
		" password=" + c.PostgreSQLPassword +
		" dbname=" + c.PostgreSQLDatabase +
		" sslmode=" + c.PostgreSQLSSLMode +
		" search_path=" + c.PostgreSQLSchema
}

func (c *Config) GetRabbitMQURL() string {
	return "amqp://" + c.RabbitMQUsername + ":" + c.RabbitMQPassword + "@" + c.RabbitMQAddr + ":" + c.RabbitMQPort + c.RabbitMQVhost
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
