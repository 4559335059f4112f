package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// APIServerConfig 保存 API 服务器特有的配置。
type APIServerConfig struct {
	Host           string        `mapstructure:"HOST"`
	Port           string        `mapstructure:"PORT" validate:"required"`
	ReadTimeout    time.Duration `mapstructure:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `mapstructure:"WRITE_TIMEOUT"`
	IdleTimeout    time.Duration `mapstructure:"IDLE_TIMEOUT"`
	MaxHeaderBytes int           `mapstructure:"MAX_HEADER_BYTES"`
	CORS           CORSConfig    `mapstructure:"CORS"`
}

// CORSConfig holds configuration for CORS.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `mapstructure:"ALLOWED_METHODS"`
	AllowedHeaders   []string `mapstructure:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `mapstructure:"EXPOSED_HEADERS"`
	AllowCredentials bool     `mapstructure:"ALLOW_CREDENTIALS"`
	MaxAge           int      `mapstructure:"MAX_AGE"`
}

// UploadConfig 控制 /api/ghibli 接收上传文件的限制。
type UploadConfig struct {
	FieldName     string `mapstructure:"FIELD_NAME" validate:"required"`
	MaxFileSizeMB int64  `mapstructure:"MAX_FILE_SIZE_MB" validate:"gte=0"`
	SniffContent  bool   `mapstructure:"SNIFF_CONTENT"`
}

// StorageConfig holds configuration for the local image host.
type StorageConfig struct {
	LocalPath string `mapstructure:"LOCAL_PATH"`
	URLPrefix string `mapstructure:"URL_PREFIX"`
}

// ImageHostConfig 选择把图片上传到哪里以换取公网 URL。
type ImageHostConfig struct {
	Type          string        `mapstructure:"TYPE" validate:"oneof=quax local"`
	Endpoint      string        `mapstructure:"ENDPOINT" validate:"required_if=Type quax,omitempty,url"`
	FieldName     string        `mapstructure:"FIELD_NAME"`
	PublicBaseURL string        `mapstructure:"PUBLIC_BASE_URL" validate:"required_if=Type local,omitempty,url"`
	Timeout       time.Duration `mapstructure:"TIMEOUT"`
	Retries       int           `mapstructure:"RETRIES" validate:"gte=0"`
}

// StylizerConfig holds the remote styling endpoint settings.
type StylizerConfig struct {
	BaseURL    string        `mapstructure:"BASE_URL" validate:"required,url"`
	Path       string        `mapstructure:"PATH"`
	QueryParam string        `mapstructure:"QUERY_PARAM" validate:"required"`
	Timeout    time.Duration `mapstructure:"TIMEOUT"`
	Retries    int           `mapstructure:"RETRIES" validate:"gte=0"`
}

// DownloadConfig 控制签名下载链接。
type DownloadConfig struct {
	Enabled   bool          `mapstructure:"ENABLED"`
	SecretKey string        `mapstructure:"SECRET_KEY" validate:"required_if=Enabled true,omitempty,min=16"`
	TokenTTL  time.Duration `mapstructure:"TOKEN_TTL"`
	Timeout   time.Duration `mapstructure:"TIMEOUT"`
	// GeneratedSecret 为 true 表示未配置 SECRET_KEY, 使用了进程内随机密钥。
	GeneratedSecret bool `mapstructure:"-"`
}

// RateLimitConfig is a fixed-window limit per client IP.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"ENABLED"`
	Requests int64         `mapstructure:"REQUESTS" validate:"gte=0"`
	Window   time.Duration `mapstructure:"WINDOW"`
	// TrustedProxies 列出可信反向代理 (IP 或 CIDR)。
	// 只有直连地址在列表中时才读取 X-Forwarded-For / X-Real-IP。
	TrustedProxies []string `mapstructure:"TRUSTED_PROXIES" validate:"dive,cidr|ip"`
}

// RedisConfig holds configuration for Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"ADDR"`
	Password string `mapstructure:"PASSWORD"`
	DB       int    `mapstructure:"DB"`
}

// KafkaConfig holds configuration for Kafka.
type KafkaConfig struct {
	Enabled         bool     `mapstructure:"ENABLED"`
	Brokers         []string `mapstructure:"BROKERS"`
	ClientID        string   `mapstructure:"CLIENT_ID"`
	Protocol        string   `mapstructure:"PROTOCOL"`
	ConversionTopic string   `mapstructure:"CONVERSION_TOPIC" validate:"required_if=Enabled true"`
}

// Config holds all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	AppName    string          `mapstructure:"APP_NAME"`
	AppVersion string          `mapstructure:"APP_VERSION"`
	LogLevel   string          `mapstructure:"LOG_LEVEL"`
	APIServer  APIServerConfig `mapstructure:"API_SERVER"`
	Upload     UploadConfig    `mapstructure:"UPLOAD"`
	Storage    StorageConfig   `mapstructure:"STORAGE"`
	ImageHost  ImageHostConfig `mapstructure:"IMAGE_HOST"`
	Stylizer   StylizerConfig  `mapstructure:"STYLIZER"`
	Download   DownloadConfig  `mapstructure:"DOWNLOAD"`
	RateLimit  RateLimitConfig `mapstructure:"RATE_LIMIT"`
	Redis      RedisConfig     `mapstructure:"REDIS"`
	Kafka      KafkaConfig     `mapstructure:"KAFKA"`
}

// MaxUploadBytes 返回上传大小上限 (字节)。
func (c UploadConfig) MaxUploadBytes() int64 {
	return c.MaxFileSizeMB << 20
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()

	v.SetDefault("APP_NAME", "Ghibli-Go")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("LOG_LEVEL", "info")

	// APIServer Defaults
	v.SetDefault("API_SERVER.HOST", "0.0.0.0")
	v.SetDefault("API_SERVER.PORT", "8080")
	v.SetDefault("API_SERVER.READ_TIMEOUT", 30*time.Second)
	v.SetDefault("API_SERVER.WRITE_TIMEOUT", 90*time.Second) // 风格化接口较慢
	v.SetDefault("API_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("API_SERVER.MAX_HEADER_BYTES", 1<<20) // 1 MB
	v.SetDefault("API_SERVER.CORS.ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_HEADERS", []string{"Accept", "Content-Type", "X-Request-ID"})
	v.SetDefault("API_SERVER.CORS.EXPOSED_HEADERS", []string{"Content-Length", "Content-Disposition", "X-Request-ID"})
	v.SetDefault("API_SERVER.CORS.ALLOW_CREDENTIALS", false)
	v.SetDefault("API_SERVER.CORS.MAX_AGE", 300) // 5 minutes

	// Upload Defaults
	v.SetDefault("UPLOAD.FIELD_NAME", "image")
	v.SetDefault("UPLOAD.MAX_FILE_SIZE_MB", 10)
	v.SetDefault("UPLOAD.SNIFF_CONTENT", true)

	// Storage Defaults (local image host only)
	v.SetDefault("STORAGE.LOCAL_PATH", "./uploads")
	v.SetDefault("STORAGE.URL_PREFIX", "/uploads")

	// Image host Defaults
	v.SetDefault("IMAGE_HOST.TYPE", "quax")
	v.SetDefault("IMAGE_HOST.ENDPOINT", "https://qu.ax/upload.php")
	v.SetDefault("IMAGE_HOST.FIELD_NAME", "files[]")
	v.SetDefault("IMAGE_HOST.PUBLIC_BASE_URL", "")
	v.SetDefault("IMAGE_HOST.TIMEOUT", 30*time.Second)
	v.SetDefault("IMAGE_HOST.RETRIES", 0)

	// Stylizer Defaults
	v.SetDefault("STYLIZER.BASE_URL", "https://this-not.vercel.app")
	v.SetDefault("STYLIZER.PATH", "/v3")
	v.SetDefault("STYLIZER.QUERY_PARAM", "imageUrl")
	v.SetDefault("STYLIZER.TIMEOUT", 60*time.Second)
	v.SetDefault("STYLIZER.RETRIES", 0)

	// Download Defaults
	v.SetDefault("DOWNLOAD.ENABLED", true)
	v.SetDefault("DOWNLOAD.SECRET_KEY", "") // 为空时启动时生成随机密钥
	v.SetDefault("DOWNLOAD.TOKEN_TTL", 15*time.Minute)
	v.SetDefault("DOWNLOAD.TIMEOUT", 30*time.Second)

	// Rate limit Defaults
	v.SetDefault("RATE_LIMIT.ENABLED", false)
	v.SetDefault("RATE_LIMIT.REQUESTS", 10)
	v.SetDefault("RATE_LIMIT.WINDOW", time.Minute)
	v.SetDefault("RATE_LIMIT.TRUSTED_PROXIES", []string{})

	// Redis Defaults
	v.SetDefault("REDIS.ADDR", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)

	// Kafka Defaults
	v.SetDefault("KAFKA.ENABLED", false)
	v.SetDefault("KAFKA.BROKERS", []string{"localhost:9092"})
	v.SetDefault("KAFKA.CLIENT_ID", "ghibli-go")
	v.SetDefault("KAFKA.PROTOCOL", "plaintext")
	v.SetDefault("KAFKA.CONVERSION_TOPIC", "ghibli-conversions")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.AutomaticEnv()
	// 嵌套键用下划线: API_SERVER_PORT 覆盖 API_SERVER.PORT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return
		}
		// 没有配置文件时使用默认值
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return
	}

	if config.Download.Enabled && config.Download.SecretKey == "" {
		if config.Download.SecretKey, err = randomSecret(); err != nil {
			return
		}
		config.Download.GeneratedSecret = true
	}

	if err = validator.New().Struct(config); err != nil {
		err = fmt.Errorf("配置校验失败: %w", err)
	}
	return
}

// randomSecret 生成 32 字节的随机密钥, 重启后之前签发的下载链接失效。
func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("生成下载密钥失败: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
