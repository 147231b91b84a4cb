// Package storage 把拦截到的请求/响应交换记录到 SQLite。
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"netintercept/internal/interceptor"
	"netintercept/internal/logger"
	"netintercept/pkg/traffic"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Exchange 一次请求与其响应
type Exchange struct {
	ID              uint   `gorm:"primaryKey"`
	RequestID       string `gorm:"size:36;index"`
	Source          string `gorm:"size:64;index"`
	Method          string `gorm:"size:16"`
	URL             string
	ResourceType    string `gorm:"size:32"`
	Status          int
	Mocked          bool `gorm:"index"`
	RequestHeaders  string
	ResponseHeaders string
	RequestSize     int
	ResponseSize    int
	CreatedAt       time.Time `gorm:"index"`
}

// Config 日志配置
type Config struct {
	DSN    string
	Prefix string
	Logger logger.Logger
	// SQLLogLevel 为 GORM 日志级别，零值为 Warn
	SQLLogLevel gormlogger.LogLevel
}

// Journal 交换记录
type Journal struct {
	db  *gorm.DB
	log logger.Logger
}

// Open 打开并迁移数据库
func Open(cfg Config) (*Journal, error) {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	dsn := cfg.DSN
	if dsn == "" {
		dsn = "file::memory:"
	}
	gl := NewGormLogger(l)
	if cfg.SQLLogLevel != 0 {
		gl.LogLevel = cfg.SQLLogLevel
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gl,
		NamingStrategy: schema.NamingStrategy{TablePrefix: cfg.Prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open journal %q: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite 只允许单写，内存库也只在单连接内可见
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Exchange{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	l.Info("交换记录已打开", "dsn", dsn)
	return &Journal{db: db, log: l}, nil
}

// Close 关闭数据库
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record 写入一条交换
func (j *Journal) Record(ctx context.Context, ex *Exchange) error {
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}
	return j.db.WithContext(WithRequestID(ctx, ex.RequestID)).Create(ex).Error
}

// NewExchange 由响应事件参数构建交换
func NewExchange(source string, res *traffic.Response, req *interceptor.InteractiveRequest, requestID string) *Exchange {
	ex := &Exchange{
		RequestID:    requestID,
		Source:       source,
		Status:       res.StatusCode,
		Mocked:       req != nil && req.Responded(),
		ResponseSize: len(res.Body),
	}
	ex.ResponseHeaders = encodeHeaders(res.Headers)
	if req != nil {
		ex.Method = req.Method
		ex.URL = req.URL
		ex.ResourceType = req.ResourceType
		ex.RequestHeaders = encodeHeaders(req.Headers)
		ex.RequestSize = len(req.Body)
	}
	if ex.URL == "" {
		ex.URL = res.URL
	}
	return ex
}

func encodeHeaders(h traffic.Header) string {
	if len(h) == 0 {
		return "{}"
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Listener 返回记录每个响应事件的监听器
func (j *Journal) Listener(source string) interceptor.ResponseListener {
	return func(ctx context.Context, res *traffic.Response, req *interceptor.InteractiveRequest, requestID string) error {
		ex := NewExchange(source, res, req, requestID)
		if err := j.Record(ctx, ex); err != nil {
			j.log.Err(err, "写入交换记录失败", "requestID", requestID)
			return err
		}
		return nil
	}
}

// Filter 查询条件
type Filter struct {
	Source      string
	URLContains string
	Mocked      *bool
	Since       time.Time
	Limit       int
}

// List 按时间倒序查询交换
func (j *Journal) List(ctx context.Context, f Filter) ([]Exchange, error) {
	q := j.db.WithContext(ctx).Model(&Exchange{})
	if f.Source != "" {
		q = q.Where("source = ?", f.Source)
	}
	if f.URLContains != "" {
		q = q.Where("url LIKE ?", "%"+f.URLContains+"%")
	}
	if f.Mocked != nil {
		q = q.Where("mocked = ?", *f.Mocked)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var out []Exchange
	if err := q.Order("created_at DESC").Order("id DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Get 按关联 ID 查询
func (j *Journal) Get(ctx context.Context, requestID string) (*Exchange, error) {
	var ex Exchange
	err := j.db.WithContext(ctx).Where("request_id = ?", requestID).First(&ex).Error
	if err != nil {
		return nil, err
	}
	return &ex, nil
}
