/*
 * @module service/models/streaming_models
 * @description 实时流处理相关模型定义，包括流事件、流处理器、分析窗口和窗口聚合结果
 * @architecture 事件驱动架构 - 数据模型层
 * @dependencies time
 * @refs service/streaming
 */

package models

import (
	"context"
	"time"
)

// 流事件元数据的当前模式版本
const StreamEventSchemaVersion = "1.0"

// EventMetadata 流事件元数据
type EventMetadata struct {
	Version       string `json:"version"`                  // 模式版本
	UserID        string `json:"user_id,omitempty"`        // 关联用户
	SessionID     string `json:"session_id,omitempty"`     // 关联会话
	CorrelationID string `json:"correlation_id,omitempty"` // 链路关联ID
}

// StreamEvent 流事件，流处理管道中的不可变数据单元
// id、type、source、data 为必填字段，发布时校验
type StreamEvent struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"` // 缺省时由发布路径补齐为当前时间
	Type      string                 `json:"type"`      // 路由键，决定主题与处理器匹配
	Source    string                 `json:"source"`    // 事件来源标识
	Data      map[string]interface{} `json:"data"`
	Metadata  EventMetadata          `json:"metadata"`
}

// Validate 校验事件必填字段
func (e *StreamEvent) Validate() error {
	missing := make([]string, 0, 4)
	if e.ID == "" {
		missing = append(missing, "id")
	}
	if e.Type == "" {
		missing = append(missing, "type")
	}
	if e.Source == "" {
		missing = append(missing, "source")
	}
	if e.Data == nil {
		missing = append(missing, "data")
	}
	if len(missing) > 0 {
		return NewValidationError("流事件缺少必填字段", missing...)
	}
	return nil
}

// TransformFunc 流处理器转换函数，将一个事件转换为零或多个派生事件
type TransformFunc func(ctx context.Context, event *StreamEvent) ([]*StreamEvent, error)

// StreamProcessor 流处理器定义，按ID注册，声明输入输出流类型
type StreamProcessor struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	InputStreams  []string               `json:"input_streams"`  // 消费的事件类型
	OutputStreams []string               `json:"output_streams"` // 可能产出的事件类型
	Config        map[string]interface{} `json:"config"`
	Transform     TransformFunc          `json:"-"`
}

// ConsumesType 判断处理器是否消费指定事件类型
func (p *StreamProcessor) ConsumesType(eventType string) bool {
	for _, t := range p.InputStreams {
		if t == eventType {
			return true
		}
	}
	return false
}

// 窗口类型
const (
	WindowTypeTumbling = "tumbling"
	WindowTypeSliding  = "sliding"
	WindowTypeSession  = "session"
)

// AnalyticsWindow 分析窗口策略，仅作为时间过滤规格，不缓存事件
type AnalyticsWindow struct {
	ID             string        `json:"id"`
	Type           string        `json:"type"` // tumbling, sliding, session
	Size           time.Duration `json:"size"`
	Slide          time.Duration `json:"slide,omitempty"`           // 滑动窗口的滑动间隔
	SessionTimeout time.Duration `json:"session_timeout,omitempty"` // 会话窗口超时
}

// AggregationStats 窗口聚合统计
// Sum/Avg/Min/Max 仅统计 data.value 为数值的事件，非数值事件只计入Count
type AggregationStats struct {
	Count           int              `json:"count"`
	Sum             float64          `json:"sum"`
	Avg             float64          `json:"avg"`
	Min             float64          `json:"min"`
	Max             float64          `json:"max"`
	DistinctSources int              `json:"distinct_sources"`
	SourceCounts    map[string]int64 `json:"source_counts"`
}

// WindowResult 一次窗口聚合调用的输出
// 时间范围为过滤后事件集的首末时间戳，而非窗口边界；空集时为nil
type WindowResult struct {
	WindowID   string           `json:"window_id"`
	WindowType string           `json:"window_type"`
	StartTime  *time.Time       `json:"start_time,omitempty"`
	EndTime    *time.Time       `json:"end_time,omitempty"`
	Stats      AggregationStats `json:"stats"`
	ComputedAt time.Time        `json:"computed_at"`
}

// StreamingMetricsSnapshot 流处理指标快照，周期性推送给订阅者
type StreamingMetricsSnapshot struct {
	Timestamp        time.Time `json:"timestamp"`
	EventsPublished  int64     `json:"events_published"`
	EventsConsumed   int64     `json:"events_consumed"`
	EventsProcessed  int64     `json:"events_processed"`
	ErrorCount       int64     `json:"error_count"`
	ErrorRate        float64   `json:"error_rate"`        // 错误数 / 已发布事件数
	ThroughputPerSec float64   `json:"throughput_per_sec"`
	AvgPublishMs     float64   `json:"avg_publish_ms"`
	AvgProcessMs     float64   `json:"avg_process_ms"`
	Backlog          int64     `json:"backlog"` // 已消费未处理完成的事件数
	HeapBytes        uint64    `json:"heap_bytes"`
	GoroutineCount   int       `json:"goroutine_count"`
}

// RealtimeValidationResult 单条记录实时校验结果
type RealtimeValidationResult struct {
	StreamID   string   `json:"stream_id"`
	IsValid    bool     `json:"is_valid"`
	Violations []string `json:"violations"` // "{规则名}: {规则描述}" 形式
}
