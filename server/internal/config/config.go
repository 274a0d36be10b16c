package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Relay   RelayConfig   `yaml:"relay"`
	Redis   RedisConfig   `yaml:"redis"`
	Lessons LessonsConfig `yaml:"lessons"`
	Sync    SyncConfig    `yaml:"sync"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// AllowedOrigins 浏览器跨域与 websocket Origin 白名单，"*" 表示全部放行
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RelayConfig 既是 relay 服务端的频道参数，也是客户端连接 relay 的地址。
type RelayConfig struct {
	URL           string        `yaml:"url"`
	PingInterval  time.Duration `yaml:"ping_interval"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	QueueCapacity int           `yaml:"queue_capacity"`
	// JournalLimit 每节课保留的转发记录条数，负数关闭记录。
	JournalLimit int `yaml:"journal_limit"`
}

type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
	KeyPrefix     string `yaml:"key_prefix"`
}

// LessonsConfig 参与者名单存储：memory | redis
type LessonsConfig struct {
	Store string        `yaml:"store"`
	TTL   time.Duration `yaml:"ttl"`
}

// SyncConfig 客户端同步会话的可调参数。
type SyncConfig struct {
	RecoveryDelay    time.Duration `yaml:"recovery_delay"`
	SeekThreshold    float64       `yaml:"seek_threshold"`
	RetryInterval    time.Duration `yaml:"retry_interval"`
	RetryMaxInterval time.Duration `yaml:"retry_max_interval"`
	RecoveryRetries  int           `yaml:"recovery_retries"`
	SuppressWindow   time.Duration `yaml:"suppress_window"`
}

type LoggingConfig struct {
	// Level: info | silent
	Level string `yaml:"level"`
	// Output: stdout | stderr | 文件路径
	Output string `yaml:"output"`
}

// Default 返回本地开发可直接运行的默认配置。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			AllowedOrigins: []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		},
		Relay: RelayConfig{
			URL:           "ws://127.0.0.1:8080",
			PingInterval:  30 * time.Second,
			WriteTimeout:  5 * time.Second,
			QueueCapacity: 256,
			JournalLimit:  500,
		},
		Redis: RedisConfig{
			Addr:          "127.0.0.1:6379",
			ChannelPrefix: "lesson:",
			KeyPrefix:     "lessonsync:lesson:",
		},
		Lessons: LessonsConfig{
			Store: "memory",
			TTL:   12 * time.Hour,
		},
		Sync: SyncConfig{
			RecoveryDelay:    400 * time.Millisecond,
			SeekThreshold:    0.2,
			RetryInterval:    2 * time.Second,
			RetryMaxInterval: 10 * time.Second,
			RecoveryRetries:  5,
			SuppressWindow:   time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stderr",
		},
	}
}

// Load 从文件加载配置；文件里没写的字段保留默认值。path 为空时只用默认值与环境变量。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		fmt.Printf("📋 Loading config from: %s\n", path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("apply env: %w", err)
	}

	fmt.Printf("📊 Server: %s  Lessons store: %s  Relay: %s\n", cfg.Addr(), cfg.Lessons.Store, cfg.Relay.URL)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv 用环境变量覆盖部署相关的字段。
func (c *Config) ApplyEnv() error {
	if addr := os.Getenv("LESSONSYNC_ADDR"); addr != "" {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("LESSONSYNC_ADDR: %w", err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("LESSONSYNC_ADDR port: %w", err)
		}
		c.Server.Host = host
		c.Server.Port = p
	}
	if v := os.Getenv("LESSONSYNC_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("LESSONSYNC_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("LESSONSYNC_RELAY_URL"); v != "" {
		c.Relay.URL = v
	}
	if v := os.Getenv("LESSONSYNC_LESSON_STORE"); v != "" {
		c.Lessons.Store = v
	}
	return nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	switch c.Lessons.Store {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis addr is required when lessons.store is redis")
		}
	default:
		return fmt.Errorf("unknown lessons store %q (memory|redis)", c.Lessons.Store)
	}
	if c.Sync.SeekThreshold < 0 {
		return fmt.Errorf("sync seek_threshold must not be negative: %v", c.Sync.SeekThreshold)
	}
	if c.Sync.RecoveryRetries < 0 {
		return fmt.Errorf("sync recovery_retries must not be negative: %d", c.Sync.RecoveryRetries)
	}
	if c.Relay.QueueCapacity < 0 {
		return fmt.Errorf("relay queue_capacity must not be negative: %d", c.Relay.QueueCapacity)
	}
	return nil
}

// Addr 返回 HTTP 监听地址。
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// NewLogger 按 logging 配置创建 logger。返回的 io.Closer 在输出为文件时需要关闭。
func NewLogger(cfg LoggingConfig) (*log.Logger, io.Closer, error) {
	if strings.EqualFold(cfg.Level, "silent") {
		return log.New(io.Discard, "", 0), nopCloser{}, nil
	}

	flags := log.LstdFlags | log.Lmicroseconds
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		return log.New(os.Stderr, "", flags), nopCloser{}, nil
	case "stdout":
		return log.New(os.Stdout, "", flags), nopCloser{}, nil
	}

	f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return log.New(f, "", flags), f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
