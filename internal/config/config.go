package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	MySQL    MySQLConfig    `json:"mysql"`
	Redis    RedisConfig    `json:"redis"`
	Email    EmailConfig    `json:"email"`
	Security SecurityConfig `json:"security"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env      string `json:"env"`       // 运行环境: local / prod
	LogLevel string `json:"log_level"` // 日志级别: debug / info / warn / error
	HTTPAddr string `json:"http_addr"` // API 服务监听地址

	LockHeartbeat time.Duration `json:"lock_heartbeat"` // 实例锁心跳间隔（3s）
	LockStale     time.Duration `json:"lock_stale"`     // 实例锁过期窗口（10s）

	RateLimitWindow time.Duration `json:"rate_limit_window"` // 限流窗口（15m）
	RateLimitMax    int           `json:"rate_limit_max"`    // 窗口内每个 IP 的最大请求数

	ReminderInterval time.Duration `json:"reminder_interval"` // 事件提醒扫描间隔
	ReminderWindow   time.Duration `json:"reminder_window"`   // 提前多久提醒即将到期的事件
	ReminderWorkers  int           `json:"reminder_workers"`  // 提醒邮件 worker 数
	ReminderCapacity int           `json:"reminder_capacity"` // 提醒任务队列容量

	SeedDemoData bool `json:"seed_demo_data"` // 是否在启动时写入演示数据
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret"` // JWT 签名密钥
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
// 环境变量始终优先覆盖文件内容。
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:              "local",
			LogLevel:         "info",
			HTTPAddr:         ":3000",
			LockHeartbeat:    3 * time.Second,
			LockStale:        10 * time.Second,
			RateLimitWindow:  15 * time.Minute,
			RateLimitMax:     100,
			ReminderInterval: 10 * time.Minute,
			ReminderWindow:   24 * time.Hour,
			ReminderWorkers:  4,
			ReminderCapacity: 100,
			SeedDemoData:     false,
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/studyhub?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Email: EmailConfig{
			SMTPHost:  "smtp.gmail.com",
			SMTPPort:  587,
			SMTPUser:  "",
			SMTPPass:  "",
			FromEmail: "",
		},
		Security: SecurityConfig{
			JWTSecret: "dev_secret_change_me",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.LockHeartbeat == 0 {
		cfg.App.LockHeartbeat = defaults.App.LockHeartbeat
	}
	if cfg.App.LockStale == 0 {
		cfg.App.LockStale = defaults.App.LockStale
	}
	if cfg.App.RateLimitWindow == 0 {
		cfg.App.RateLimitWindow = defaults.App.RateLimitWindow
	}
	if cfg.App.RateLimitMax == 0 {
		cfg.App.RateLimitMax = defaults.App.RateLimitMax
	}
	if cfg.App.ReminderInterval == 0 {
		cfg.App.ReminderInterval = defaults.App.ReminderInterval
	}
	if cfg.App.ReminderWindow == 0 {
		cfg.App.ReminderWindow = defaults.App.ReminderWindow
	}
	if cfg.App.ReminderWorkers == 0 {
		cfg.App.ReminderWorkers = defaults.App.ReminderWorkers
	}
	if cfg.App.ReminderCapacity == 0 {
		cfg.App.ReminderCapacity = defaults.App.ReminderCapacity
	}
	if cfg.MySQL.DSN == "" {
		cfg.MySQL.DSN = defaults.MySQL.DSN
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.App.HTTPAddr = ":" + v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_LOCK_HEARTBEAT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.LockHeartbeat = d
		}
	}
	if v := os.Getenv("APP_LOCK_STALE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.LockStale = d
		}
	}
	if v := os.Getenv("APP_RATE_LIMIT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.RateLimitWindow = d
		}
	}
	if v := os.Getenv("APP_RATE_LIMIT_MAX"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.RateLimitMax = i
		}
	}
	if v := os.Getenv("APP_REMINDER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.ReminderInterval = d
		}
	}
	if v := os.Getenv("APP_REMINDER_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.ReminderWindow = d
		}
	}
	if v := os.Getenv("APP_REMINDER_WORKERS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.ReminderWorkers = i
		}
	}
	if v := os.Getenv("APP_SEED_DEMO_DATA"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.App.SeedDemoData = b
		}
	}

	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Security.JWTSecret = v
	}

	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if v := os.Getenv("DB_HOST"); v != "" {
			port := "3306"
			if p := os.Getenv("DB_PORT"); p != "" {
				port = p
			} else if strings.Contains(parsed.Addr, ":") {
				port = strings.Split(parsed.Addr, ":")[1]
			}
			parsed.Addr = v + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := &mysql.Config{
		User:   "root",
		Passwd: "",
		Net:    "tcp",
		Addr:   "localhost:3306",
		DBName: "studyhub",
		Params: map[string]string{
			"parseTime": "true",
			"loc":       "Local",
		},
	}
	if dsn == "" {
		return fallback
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串（如 "15m"）。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		LockHeartbeat    string `json:"lock_heartbeat"`
		LockStale        string `json:"lock_stale"`
		RateLimitWindow  string `json:"rate_limit_window"`
		ReminderInterval string `json:"reminder_interval"`
		ReminderWindow   string `json:"reminder_window"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	set := func(dst *time.Duration, raw, field string) error {
		if raw == "" {
			return nil
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid %s format: %w", field, err)
		}
		*dst = d
		return nil
	}

	if err := set(&a.LockHeartbeat, aux.LockHeartbeat, "lock_heartbeat"); err != nil {
		return err
	}
	if err := set(&a.LockStale, aux.LockStale, "lock_stale"); err != nil {
		return err
	}
	if err := set(&a.RateLimitWindow, aux.RateLimitWindow, "rate_limit_window"); err != nil {
		return err
	}
	if err := set(&a.ReminderInterval, aux.ReminderInterval, "reminder_interval"); err != nil {
		return err
	}
	return set(&a.ReminderWindow, aux.ReminderWindow, "reminder_window")
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		LockHeartbeat    string `json:"lock_heartbeat"`
		LockStale        string `json:"lock_stale"`
		RateLimitWindow  string `json:"rate_limit_window"`
		ReminderInterval string `json:"reminder_interval"`
		ReminderWindow   string `json:"reminder_window"`
		*Alias
	}{
		LockHeartbeat:    a.LockHeartbeat.String(),
		LockStale:        a.LockStale.String(),
		RateLimitWindow:  a.RateLimitWindow.String(),
		ReminderInterval: a.ReminderInterval.String(),
		ReminderWindow:   a.ReminderWindow.String(),
		Alias:            (*Alias)(&a),
	})
}
