/*
 * @module testutil/test_helper
 * @description 测试工具和辅助函数
 * @architecture 测试基础设施 - 提供测试通用工具和数据工厂
 * @stateFlow 测试环境初始化 -> 测试数据创建 -> 测试执行 -> 清理资源
 * @rules 提供可重用的测试工具，确保测试环境的一致性
 * @dependencies gorm, sqlite, testify, time
 * @refs service/models
 */

package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"streamhub-service/service/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB 测试数据库配置
type TestDB struct {
	DB *gorm.DB
}

// NewTestDB 创建测试数据库
func NewTestDB() *TestDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to connect test database: %v", err))
	}

	// 自动迁移所有模型
	err = db.AutoMigrate(
		&models.GovernancePolicy{},
		&models.QualityReportRecord{},
	)
	if err != nil {
		panic(fmt.Sprintf("failed to migrate test database: %v", err))
	}

	return &TestDB{DB: db}
}

// CleanDB 清理数据库
func (tdb *TestDB) CleanDB() {
	tables := []string{
		"governance_policies",
		"quality_report_records",
	}

	for _, table := range tables {
		tdb.DB.Exec(fmt.Sprintf("DELETE FROM %s", table))
	}
}

// Close 关闭数据库连接
func (tdb *TestDB) Close() {
	if db, err := tdb.DB.DB(); err == nil {
		db.Close()
	}
}

// TestDataFactory 测试数据工厂
type TestDataFactory struct{}

// NewTestDataFactory 创建测试数据工厂
func NewTestDataFactory() *TestDataFactory {
	return &TestDataFactory{}
}

// StreamEventOption 流事件选项函数类型
type StreamEventOption func(*models.StreamEvent)

// WithEventValue 设置事件的数值载荷
func WithEventValue(value interface{}) StreamEventOption {
	return func(e *models.StreamEvent) {
		e.Data["value"] = value
	}
}

// WithEventAge 将事件时间戳回拨到指定时长之前
func WithEventAge(age time.Duration) StreamEventOption {
	return func(e *models.StreamEvent) {
		e.Timestamp = time.Now().Add(-age)
	}
}

// WithEventSource 设置事件来源
func WithEventSource(source string) StreamEventOption {
	return func(e *models.StreamEvent) {
		e.Source = source
	}
}

// MakeStreamEvent 创建测试流事件
func (f *TestDataFactory) MakeStreamEvent(eventType string, opts ...StreamEventOption) *models.StreamEvent {
	event := &models.StreamEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Type:      eventType,
		Source:    "test-source",
		Data:      map[string]interface{}{"value": 1.0},
		Metadata:  models.EventMetadata{Version: models.StreamEventSchemaVersion},
	}

	for _, opt := range opts {
		opt(event)
	}
	return event
}

// MakeRecord 创建测试质量记录
func (f *TestDataFactory) MakeRecord(id interface{}, overrides map[string]interface{}) map[string]interface{} {
	record := map[string]interface{}{
		"id":        id,
		"timestamp": time.Now(),
		"value":     100.0,
		"email":     "test@example.com",
	}
	for key, val := range overrides {
		record[key] = val
	}
	return record
}

// MakePolicy 创建测试治理策略
func (f *TestDataFactory) MakePolicy(name string) *models.GovernancePolicy {
	return &models.GovernancePolicy{
		Name:            name,
		Description:     "这是一个测试治理策略",
		Owner:           "test-owner",
		Approver:        "test-approver",
		ComplianceTag:   "HIPAA",
		RetentionDays:   90,
		AccessLevel:     "internal",
		AssociatedRules: []string{"completeness_required_fields"},
	}
}

// FakeCacheClient 内存缓存桩，实现流聚合器的缓存接口
type FakeCacheClient struct {
	Lists     map[string][]string
	Strings   map[string]string
	Connected bool
	FailNext  bool // 下一次写操作返回错误
}

// NewFakeCacheClient 创建内存缓存桩
func NewFakeCacheClient() *FakeCacheClient {
	return &FakeCacheClient{
		Lists:   make(map[string][]string),
		Strings: make(map[string]string),
	}
}

func (f *FakeCacheClient) Connect() error {
	f.Connected = true
	return nil
}

func (f *FakeCacheClient) Disconnect() error {
	f.Connected = false
	return nil
}

func (f *FakeCacheClient) LPush(key string, value interface{}) error {
	if f.FailNext {
		f.FailNext = false
		return fmt.Errorf("cache unavailable")
	}
	f.Lists[key] = append([]string{fmt.Sprintf("%v", value)}, f.Lists[key]...)
	return nil
}

func (f *FakeCacheClient) LTrim(key string, start, stop int64) error {
	list := f.Lists[key]
	if int64(len(list)) > stop+1 {
		f.Lists[key] = list[start : stop+1]
	}
	return nil
}

func (f *FakeCacheClient) LRange(key string, start, stop int64) ([]string, error) {
	list := f.Lists[key]
	if start >= int64(len(list)) {
		return nil, nil
	}
	if stop >= int64(len(list)) {
		stop = int64(len(list)) - 1
	}
	result := make([]string, 0, stop-start+1)
	result = append(result, list[start:stop+1]...)
	return result, nil
}

func (f *FakeCacheClient) Expire(key string, expiration time.Duration) error {
	return nil
}

func (f *FakeCacheClient) SetEx(key string, expiration time.Duration, value interface{}) error {
	if f.FailNext {
		f.FailNext = false
		return fmt.Errorf("cache unavailable")
	}
	f.Strings[key] = fmt.Sprintf("%v", value)
	return nil
}

func (f *FakeCacheClient) Get(key string) (string, error) {
	return f.Strings[key], nil
}

func (f *FakeCacheClient) IsConnected() bool {
	return f.Connected
}

// HTTPTestHelper HTTP测试辅助工具
type HTTPTestHelper struct{}

// NewHTTPTestHelper 创建HTTP测试辅助工具
func NewHTTPTestHelper() *HTTPTestHelper {
	return &HTTPTestHelper{}
}

// CreateJSONRequest 创建JSON请求
func (h *HTTPTestHelper) CreateJSONRequest(method, url string, body interface{}) (*http.Request, error) {
	var reqBody io.Reader

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// AssertJSONResponse 断言JSON响应
func (h *HTTPTestHelper) AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedBody interface{}) {
	assert.Equal(t, expectedStatus, w.Code)

	if expectedBody != nil {
		var actualBody interface{}
		err := json.Unmarshal(w.Body.Bytes(), &actualBody)
		assert.NoError(t, err)

		expectedJSON, _ := json.Marshal(expectedBody)
		actualJSON, _ := json.Marshal(actualBody)

		assert.JSONEq(t, string(expectedJSON), string(actualJSON))
	}
}
