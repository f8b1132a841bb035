/*
 * @module RedisConnector
 * @description Redis连接器，提供Redis客户端的封装，支撑最近事件列表和窗口聚合结果的低延迟缓存
 * @architecture 适配器模式 - 封装第三方Redis客户端，提供统一的接口
 * @stateFlow 连接建立 -> 列表/字符串操作 -> 连接断开
 * @rules 缓存操作失败向上传播，由调用方决定错误归类；连接器本身不吞错
 * @dependencies github.com/go-redis/redis/v8, encoding/json
 * @refs service/models/connector_models.go, service/streaming
 */
package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"streamhub-service/service/models"

	"github.com/go-redis/redis/v8"
)

// RedisConnector Redis连接器结构体
type RedisConnector struct {
	config      *models.RedisConfig
	client      *redis.Client
	logger      *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	isConnected bool
	mutex       sync.RWMutex
	stats       *RedisStats
}

// RedisStats Redis连接器统计信息
type RedisStats struct {
	ConnectedAt   time.Time `json:"connected_at"`
	TotalCommands int64     `json:"total_commands"`
	BytesWritten  int64     `json:"bytes_written"`
	BytesRead     int64     `json:"bytes_read"`
	ErrorCount    int64     `json:"error_count"`
	LastError     string    `json:"last_error"`
	mutex         sync.Mutex
}

// NewRedisConnector 创建新的Redis连接器
func NewRedisConnector(config *models.RedisConfig, logger *slog.Logger) *RedisConnector {
	ctx, cancel := context.WithCancel(context.Background())

	connector := &RedisConnector{
		config:      config,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		isConnected: false,
		stats:       &RedisStats{},
	}

	connector.client = redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.Database,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	return connector
}

// Connect 建立Redis连接
func (rc *RedisConnector) Connect() error {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	if rc.isConnected {
		return nil
	}

	if _, err := rc.client.Ping(rc.ctx).Result(); err != nil {
		rc.updateError(fmt.Sprintf("Redis连接失败: %v", err))
		return fmt.Errorf("Redis连接失败: %v", err)
	}

	rc.isConnected = true
	rc.stats.ConnectedAt = time.Now()
	rc.logger.Info("Redis连接器已连接", "address", rc.config.Address)
	return nil
}

// Disconnect 断开Redis连接
func (rc *RedisConnector) Disconnect() error {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	if !rc.isConnected {
		return nil
	}

	if err := rc.client.Close(); err != nil {
		rc.logger.Warn("关闭Redis客户端失败", "error", err)
	}

	rc.cancel()
	rc.isConnected = false
	rc.logger.Info("Redis连接器已断开连接")
	return nil
}

// Ping 探测连接可用性
func (rc *RedisConnector) Ping() error {
	if !rc.IsConnected() {
		return fmt.Errorf("Redis客户端未连接")
	}
	return rc.client.Ping(rc.ctx).Err()
}

// LPush 向列表头部插入值
func (rc *RedisConnector) LPush(key string, value interface{}) error {
	if !rc.IsConnected() {
		return fmt.Errorf("Redis客户端未连接")
	}

	data, err := rc.serializeValue(value)
	if err != nil {
		return fmt.Errorf("序列化值失败: %v", err)
	}

	if err := rc.client.LPush(rc.ctx, key, data).Err(); err != nil {
		rc.updateError(fmt.Sprintf("LPUSH命令失败: %v", err))
		return fmt.Errorf("LPUSH命令失败: %v", err)
	}

	rc.updateStats(1, int64(len(data)), 0)
	return nil
}

// LTrim 裁剪列表到指定区间
func (rc *RedisConnector) LTrim(key string, start, stop int64) error {
	if !rc.IsConnected() {
		return fmt.Errorf("Redis客户端未连接")
	}

	if err := rc.client.LTrim(rc.ctx, key, start, stop).Err(); err != nil {
		rc.updateError(fmt.Sprintf("LTRIM命令失败: %v", err))
		return fmt.Errorf("LTRIM命令失败: %v", err)
	}

	rc.updateStats(1, 0, 0)
	return nil
}

// LRange 读取列表区间
func (rc *RedisConnector) LRange(key string, start, stop int64) ([]string, error) {
	if !rc.IsConnected() {
		return nil, fmt.Errorf("Redis客户端未连接")
	}

	values, err := rc.client.LRange(rc.ctx, key, start, stop).Result()
	if err != nil {
		rc.updateError(fmt.Sprintf("LRANGE命令失败: %v", err))
		return nil, fmt.Errorf("LRANGE命令失败: %v", err)
	}

	var bytesRead int64
	for _, v := range values {
		bytesRead += int64(len(v))
	}
	rc.updateStats(1, 0, bytesRead)
	return values, nil
}

// Expire 设置键过期时间
func (rc *RedisConnector) Expire(key string, expiration time.Duration) error {
	if !rc.IsConnected() {
		return fmt.Errorf("Redis客户端未连接")
	}

	if err := rc.client.Expire(rc.ctx, key, expiration).Err(); err != nil {
		rc.updateError(fmt.Sprintf("EXPIRE命令失败: %v", err))
		return fmt.Errorf("EXPIRE命令失败: %v", err)
	}

	rc.updateStats(1, 0, 0)
	return nil
}

// SetEx 设置带TTL的键值
func (rc *RedisConnector) SetEx(key string, expiration time.Duration, value interface{}) error {
	if !rc.IsConnected() {
		return fmt.Errorf("Redis客户端未连接")
	}

	data, err := rc.serializeValue(value)
	if err != nil {
		return fmt.Errorf("序列化值失败: %v", err)
	}

	if err := rc.client.SetEX(rc.ctx, key, data, expiration).Err(); err != nil {
		rc.updateError(fmt.Sprintf("SETEX命令失败: %v", err))
		return fmt.Errorf("SETEX命令失败: %v", err)
	}

	rc.updateStats(1, int64(len(data)), 0)
	return nil
}

// Get 获取键值，键不存在时返回空串且无错误
func (rc *RedisConnector) Get(key string) (string, error) {
	if !rc.IsConnected() {
		return "", fmt.Errorf("Redis客户端未连接")
	}

	result, err := rc.client.Get(rc.ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		rc.updateError(fmt.Sprintf("GET命令失败: %v", err))
		return "", fmt.Errorf("GET命令失败: %v", err)
	}

	rc.updateStats(1, 0, int64(len(result)))
	return result, nil
}

// Delete 删除键
func (rc *RedisConnector) Delete(keys ...string) error {
	if !rc.IsConnected() {
		return fmt.Errorf("Redis客户端未连接")
	}

	if len(keys) == 0 {
		return nil
	}

	if err := rc.client.Del(rc.ctx, keys...).Err(); err != nil {
		rc.updateError(fmt.Sprintf("DEL命令失败: %v", err))
		return fmt.Errorf("DEL命令失败: %v", err)
	}

	rc.updateStats(1, 0, 0)
	return nil
}

// MemoryInfo 获取服务端内存信息
func (rc *RedisConnector) MemoryInfo() (string, error) {
	if !rc.IsConnected() {
		return "", fmt.Errorf("Redis客户端未连接")
	}

	info, err := rc.client.Info(rc.ctx, "memory").Result()
	if err != nil {
		return "", fmt.Errorf("INFO命令失败: %v", err)
	}
	return info, nil
}

// serializeValue 序列化值
func (rc *RedisConnector) serializeValue(value interface{}) (string, error) {
	switch v := value.(type) {
	case []byte:
		return string(v), nil
	case string:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// updateStats 更新统计信息
func (rc *RedisConnector) updateStats(commands, bytesWritten, bytesRead int64) {
	rc.stats.mutex.Lock()
	rc.stats.TotalCommands += commands
	rc.stats.BytesWritten += bytesWritten
	rc.stats.BytesRead += bytesRead
	rc.stats.mutex.Unlock()
}

// updateError 更新错误信息
func (rc *RedisConnector) updateError(errMsg string) {
	rc.stats.mutex.Lock()
	rc.stats.ErrorCount++
	rc.stats.LastError = errMsg
	rc.stats.mutex.Unlock()
}

// IsConnected 检查连接状态
func (rc *RedisConnector) IsConnected() bool {
	rc.mutex.RLock()
	defer rc.mutex.RUnlock()
	return rc.isConnected
}

// GetStatistics 获取连接器统计信息
func (rc *RedisConnector) GetStatistics() map[string]interface{} {
	rc.stats.mutex.Lock()
	defer rc.stats.mutex.Unlock()

	return map[string]interface{}{
		"connected":      rc.IsConnected(),
		"address":        rc.config.Address,
		"database":       rc.config.Database,
		"connected_at":   rc.stats.ConnectedAt,
		"total_commands": rc.stats.TotalCommands,
		"bytes_written":  rc.stats.BytesWritten,
		"bytes_read":     rc.stats.BytesRead,
		"error_count":    rc.stats.ErrorCount,
		"last_error":     rc.stats.LastError,
	}
}
