package config

import (
	"fmt"
	"os"
	"time"

	"netintercept/internal/logger"

	"sigs.k8s.io/yaml"
)

// Config 配置文件结构体
type Config struct {
	Version string `json:"version"`

	Sqlite struct {
		Dsn    string `json:"dsn"`
		Prefix string `json:"prefix"`
	} `json:"sqlite"`

	Log struct {
		Level  string   `json:"level"`
		Writer []string `json:"writer"`
		File   LogFile  `json:"file"`
	} `json:"log"`

	Intercept struct {
		// ProcessTimeoutMS 等待请求监听器的上限，0 表示不限
		ProcessTimeoutMS int `json:"processTimeoutMS"`
	} `json:"intercept"`

	DevTools struct {
		URL    string `json:"url"`
		Target string `json:"target"`
		// URLPattern Fetch 域拦截的 URL 通配
		URLPattern string `json:"urlPattern"`
	} `json:"devtools"`

	Metrics struct {
		Addr string `json:"addr"`
	} `json:"metrics"`

	// Rules 规则文件路径
	Rules string `json:"rules"`
}

// LogFile 滚动日志文件配置
type LogFile struct {
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"maxSizeMB"`
	MaxBackups int    `json:"maxBackups"`
	MaxAgeDays int    `json:"maxAgeDays"`
	Compress   bool   `json:"compress"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Sqlite.Dsn = "db.sqlite3"
	c.Sqlite.Prefix = "netintercept_"
	c.Log.Level = "debug"
	c.Log.Writer = []string{"console", "file"}
	c.Log.File = LogFile{Path: "logs/netintercept.log", MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 7}
	c.DevTools.URL = "http://127.0.0.1:9222"
	c.DevTools.URLPattern = "*"
	return c
}

// Load 读取 YAML 配置并覆盖默认值
func Load(path string) (*Config, error) {
	c := NewConfig()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate 检查取值范围
func (c *Config) Validate() error {
	if c.Intercept.ProcessTimeoutMS < 0 {
		return fmt.Errorf("intercept.processTimeoutMS must not be negative, got %d", c.Intercept.ProcessTimeoutMS)
	}
	for _, w := range c.Log.Writer {
		if w != "console" && w != "file" {
			return fmt.Errorf("log.writer: unknown writer %q", w)
		}
	}
	return nil
}

// ProcessTimeout 以 time.Duration 返回等待上限
func (c *Config) ProcessTimeout() time.Duration {
	return time.Duration(c.Intercept.ProcessTimeoutMS) * time.Millisecond
}

// LoggerOptions 转换为日志器选项
func (c *Config) LoggerOptions() logger.Options {
	f := c.Log.File
	return logger.Options{
		Level:   c.Log.Level,
		Writers: c.Log.Writer,
		File: logger.FileOptions{
			Path:       f.Path,
			MaxSizeMB:  f.MaxSizeMB,
			MaxBackups: f.MaxBackups,
			MaxAgeDays: f.MaxAgeDays,
			Compress:   f.Compress,
		},
	}
}
