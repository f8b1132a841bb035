/*
 * @module service/streaming/stream_aggregator
 * @description 实时流聚合器，负责事件发布、流处理器调度和时间窗口聚合，
 *              broker为可选基础设施，缓存承载最近事件视图和窗口结果记忆
 * @architecture 事件驱动架构 - 流处理核心
 * @stateFlow uninitialized -> initializing -> ready -> shutting_down -> stopped
 * @rules broker故障只降级记录日志，缓存故障沿StreamingError上抛；注册表读多写少，最后写入生效
 * @dependencies github.com/spf13/cast, encoding/json
 * @refs service/models/streaming_models.go, client/connectors, service/streaming/consumer.go
 */

package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"streamhub-service/service/metrics"
	"streamhub-service/service/models"

	"github.com/spf13/cast"
)

// 聚合器生命周期状态
const (
	StateUninitialized = "uninitialized"
	StateInitializing  = "initializing"
	StateReady         = "ready"
	StateShuttingDown  = "shutting_down"
	StateStopped       = "stopped"
)

const (
	// 每个事件类型保留的最近事件上限
	recentEventsLimit = 1000
	// 最近事件列表的TTL
	recentEventsTTL = time.Hour
	// 窗口聚合结果的缓存TTL
	windowResultTTL = 5 * time.Minute

	// 按事件类型派生的发布主题前缀
	publishTopicPrefix = "analytics-"
	// 最近事件列表的缓存键前缀
	recentKeyPrefix = "stream:recent:"
	// 窗口结果的缓存键前缀
	windowKeyPrefix = "stream:window:"
)

// BrokerClient 消息代理抽象，运行时可缺席
type BrokerClient interface {
	Connect() error
	Disconnect() error
	ProduceMessage(message *models.KafkaMessage) error
	ConsumeMessages(topic string, handler models.MessageHandler) error
	IsConnected() bool
}

// CacheClient 低延迟缓存抽象，承载最近事件与窗口结果
type CacheClient interface {
	Connect() error
	Disconnect() error
	LPush(key string, value interface{}) error
	LTrim(key string, start, stop int64) error
	LRange(key string, start, stop int64) ([]string, error)
	Expire(key string, expiration time.Duration) error
	SetEx(key string, expiration time.Duration, value interface{}) error
	Get(key string) (string, error)
	IsConnected() bool
}

// StreamAggregator 实时流聚合器
type StreamAggregator struct {
	mu         sync.RWMutex
	state      string
	processors map[string]*models.StreamProcessor
	windows    map[string]*models.AnalyticsWindow

	broker   BrokerClient
	cache    CacheClient
	notifier Notifier
	metrics  metrics.Sink
	logger   *slog.Logger
	stats    *streamStats

	// 滑动窗口按size而非slide过滤的修正开关，默认保持兼容行为
	correctedWindowSemantics bool
	// 单次处理器调用的超时，0表示不限制
	processorTimeout time.Duration

	consumerCancel context.CancelFunc
}

// AggregatorOption 聚合器可选配置
type AggregatorOption func(*StreamAggregator)

// WithCorrectedWindowSemantics 启用修正后的滑动窗口过滤语义（按size过滤）
func WithCorrectedWindowSemantics() AggregatorOption {
	return func(sa *StreamAggregator) {
		sa.correctedWindowSemantics = true
	}
}

// WithProcessorTimeout 设置单次流处理器调用的超时
func WithProcessorTimeout(timeout time.Duration) AggregatorOption {
	return func(sa *StreamAggregator) {
		sa.processorTimeout = timeout
	}
}

// NewStreamAggregator 创建流聚合器，broker可以为nil表示纯本地模式
func NewStreamAggregator(broker BrokerClient, cache CacheClient, notifier Notifier, sink metrics.Sink, logger *slog.Logger, opts ...AggregatorOption) *StreamAggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = metrics.NoopSink{}
	}

	sa := &StreamAggregator{
		state:      StateUninitialized,
		processors: make(map[string]*models.StreamProcessor),
		windows:    make(map[string]*models.AnalyticsWindow),
		broker:     broker,
		cache:      cache,
		notifier:   notifier,
		metrics:    sink,
		logger:     logger,
		stats:      newStreamStats(),
	}

	for _, opt := range opts {
		opt(sa)
	}
	return sa
}

// Initialize 初始化聚合器，连接缓存并尽力连接broker
// broker连接失败不阻塞就绪，聚合器以本地模式运行
func (sa *StreamAggregator) Initialize(ctx context.Context) error {
	sa.mu.Lock()
	if sa.state != StateUninitialized && sa.state != StateStopped {
		state := sa.state
		sa.mu.Unlock()
		return models.NewStreamingError("initialize", fmt.Sprintf("当前状态不允许初始化: %s", state), nil)
	}
	sa.state = StateInitializing
	sa.mu.Unlock()

	sa.logger.Info("流聚合器初始化开始")

	if sa.cache != nil {
		if err := sa.cache.Connect(); err != nil {
			sa.mu.Lock()
			sa.state = StateUninitialized
			sa.mu.Unlock()
			return models.NewStreamingError("initialize", "缓存连接失败", err)
		}
	}

	if sa.broker != nil {
		if err := sa.broker.Connect(); err != nil {
			// broker缺席时降级为本地模式
			sa.logger.Warn("broker连接失败，以本地模式运行", "error", err)
		} else {
			sa.startConsumers(ctx)
		}
	}

	sa.mu.Lock()
	sa.state = StateReady
	sa.mu.Unlock()

	sa.logger.Info("流聚合器已就绪", "broker_connected", sa.broker != nil && sa.broker.IsConnected())
	return nil
}

// Shutdown 关闭聚合器，停止消费并释放外部连接
func (sa *StreamAggregator) Shutdown(ctx context.Context) error {
	sa.mu.Lock()
	if sa.state != StateReady {
		state := sa.state
		sa.mu.Unlock()
		return models.NewStreamingError("shutdown", fmt.Sprintf("当前状态不允许关闭: %s", state), nil)
	}
	sa.state = StateShuttingDown
	cancel := sa.consumerCancel
	sa.mu.Unlock()

	sa.logger.Info("流聚合器关闭中")

	if cancel != nil {
		cancel()
	}

	if sa.broker != nil {
		if err := sa.broker.Disconnect(); err != nil {
			sa.logger.Warn("断开broker连接失败", "error", err)
		}
	}
	if sa.cache != nil {
		if err := sa.cache.Disconnect(); err != nil {
			sa.logger.Warn("断开缓存连接失败", "error", err)
		}
	}

	sa.mu.Lock()
	sa.state = StateStopped
	sa.mu.Unlock()

	sa.logger.Info("流聚合器已停止")
	return nil
}

// IsReady 返回聚合器是否就绪
func (sa *StreamAggregator) IsReady() bool {
	sa.mu.RLock()
	defer sa.mu.RUnlock()
	return sa.state == StateReady
}

// State 返回当前生命周期状态
func (sa *StreamAggregator) State() string {
	sa.mu.RLock()
	defer sa.mu.RUnlock()
	return sa.state
}

// RegisterProcessor 注册流处理器，同ID后注册者覆盖先注册者
func (sa *StreamAggregator) RegisterProcessor(processor *models.StreamProcessor) error {
	if processor == nil || processor.ID == "" {
		return models.NewValidationError("流处理器缺少ID", "id")
	}
	if processor.Transform == nil {
		return models.NewValidationError("流处理器缺少转换函数", "transform")
	}

	sa.mu.Lock()
	sa.processors[processor.ID] = processor
	sa.mu.Unlock()

	sa.logger.Info("流处理器已注册", "processor_id", processor.ID, "name", processor.Name,
		"input_streams", processor.InputStreams, "output_streams", processor.OutputStreams)
	return nil
}

// RegisterWindow 注册分析窗口
func (sa *StreamAggregator) RegisterWindow(window *models.AnalyticsWindow) error {
	if window == nil || window.ID == "" {
		return models.NewValidationError("分析窗口缺少ID", "id")
	}
	switch window.Type {
	case models.WindowTypeTumbling, models.WindowTypeSliding, models.WindowTypeSession:
	default:
		return models.NewValidationError(fmt.Sprintf("不支持的窗口类型: %s", window.Type), "type")
	}
	if window.Size <= 0 {
		return models.NewValidationError("窗口大小必须为正", "size")
	}

	sa.mu.Lock()
	sa.windows[window.ID] = window
	sa.mu.Unlock()

	sa.logger.Info("分析窗口已注册", "window_id", window.ID, "type", window.Type, "size", window.Size)
	return nil
}

// GetProcessors 返回已注册的流处理器列表
func (sa *StreamAggregator) GetProcessors() []*models.StreamProcessor {
	sa.mu.RLock()
	defer sa.mu.RUnlock()

	processors := make([]*models.StreamProcessor, 0, len(sa.processors))
	for _, p := range sa.processors {
		processors = append(processors, p)
	}
	return processors
}

// GetWindows 返回已注册的分析窗口列表
func (sa *StreamAggregator) GetWindows() []*models.AnalyticsWindow {
	sa.mu.RLock()
	defer sa.mu.RUnlock()

	windows := make([]*models.AnalyticsWindow, 0, len(sa.windows))
	for _, w := range sa.windows {
		windows = append(windows, w)
	}
	return windows
}

// PublishEvent 发布流事件
// broker发布尽力而为，缓存写入失败作为StreamingError上抛
func (sa *StreamAggregator) PublishEvent(ctx context.Context, event *models.StreamEvent) error {
	start := time.Now()

	if err := event.Validate(); err != nil {
		return err
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Metadata.Version == "" {
		event.Metadata.Version = models.StreamEventSchemaVersion
	}

	// broker发布失败只记录debug日志，不影响本地处理
	if sa.broker != nil && sa.broker.IsConnected() {
		msg := &models.KafkaMessage{
			Topic:     publishTopicPrefix + event.Type,
			Key:       event.ID,
			Value:     event,
			Timestamp: event.Timestamp,
		}
		if err := sa.broker.ProduceMessage(msg); err != nil {
			sa.logger.Debug("broker发布失败，继续本地处理", "event_id", event.ID, "type", event.Type, "error", err)
		}
	}

	if err := sa.cacheRecentEvent(event); err != nil {
		sa.stats.recordError()
		return models.NewStreamingError("publish", fmt.Sprintf("缓存事件失败: %s", event.ID), err)
	}

	if sa.notifier != nil {
		sa.notifier.EmitTo("stream:"+event.Type, "stream_event", event)
	}

	elapsed := time.Since(start)
	sa.stats.recordPublish(elapsed)
	sa.metrics.RecordStreamingLatency(float64(elapsed)/float64(time.Millisecond), "publish", event.Type)

	sa.logger.Debug("事件已发布", "event_id", event.ID, "type", event.Type, "source", event.Source)
	return nil
}

// cacheRecentEvent 将事件写入按类型分桶的最近事件列表
func (sa *StreamAggregator) cacheRecentEvent(event *models.StreamEvent) error {
	if sa.cache == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %v", err)
	}

	key := recentKeyPrefix + event.Type
	if err := sa.cache.LPush(key, string(payload)); err != nil {
		return err
	}
	if err := sa.cache.LTrim(key, 0, recentEventsLimit-1); err != nil {
		return err
	}
	return sa.cache.Expire(key, recentEventsTTL)
}

// GetRecentEvents 获取指定类型的最近事件，limit<=0时返回全部保留事件
func (sa *StreamAggregator) GetRecentEvents(ctx context.Context, eventType string, limit int) ([]*models.StreamEvent, error) {
	if eventType == "" {
		return nil, models.NewValidationError("事件类型不能为空", "type")
	}
	if sa.cache == nil {
		return nil, models.NewStreamingError("get_recent_events", "缓存未配置", nil)
	}

	if limit <= 0 || limit > recentEventsLimit {
		limit = recentEventsLimit
	}

	raw, err := sa.cache.LRange(recentKeyPrefix+eventType, 0, int64(limit-1))
	if err != nil {
		return nil, models.NewStreamingError("get_recent_events", fmt.Sprintf("读取最近事件失败: %s", eventType), err)
	}

	events := make([]*models.StreamEvent, 0, len(raw))
	for _, item := range raw {
		var event models.StreamEvent
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			sa.logger.Warn("反序列化缓存事件失败，跳过", "type", eventType, "error", err)
			continue
		}
		events = append(events, &event)
	}
	return events, nil
}

// ProcessStream 用指定处理器顺序处理一批事件，输出保持输入顺序拼接
// 处理器异常中止整批并作为StreamingError上抛
func (sa *StreamAggregator) ProcessStream(ctx context.Context, streamID string, events []*models.StreamEvent) ([]*models.StreamEvent, error) {
	start := time.Now()

	sa.mu.RLock()
	processor, exists := sa.processors[streamID]
	sa.mu.RUnlock()

	if !exists {
		return nil, models.NewStreamingError("process", fmt.Sprintf("找不到流处理器: %s", streamID), nil)
	}

	outputs := make([]*models.StreamEvent, 0, len(events))
	for i, event := range events {
		produced, err := sa.invokeTransform(ctx, processor, event)
		if err != nil {
			sa.stats.recordError()
			return nil, models.NewStreamingError("process",
				fmt.Sprintf("处理器 %s 处理第 %d 个事件失败", streamID, i), err)
		}
		outputs = append(outputs, produced...)
		sa.stats.recordProcess(time.Since(start))
	}

	elapsed := time.Since(start)
	sa.metrics.RecordStreamingLatency(float64(elapsed)/float64(time.Millisecond), "process", streamID)

	sa.logger.Debug("流处理完成", "processor_id", streamID, "input_count", len(events), "output_count", len(outputs))
	return outputs, nil
}

// invokeTransform 调用处理器转换函数，按配置施加超时并隔离panic
func (sa *StreamAggregator) invokeTransform(ctx context.Context, processor *models.StreamProcessor, event *models.StreamEvent) (result []*models.StreamEvent, err error) {
	type transformOutcome struct {
		events []*models.StreamEvent
		err    error
	}

	run := func() (out transformOutcome) {
		defer func() {
			if r := recover(); r != nil {
				out = transformOutcome{nil, fmt.Errorf("处理器执行异常: %v", r)}
			}
		}()
		events, err := processor.Transform(ctx, event)
		return transformOutcome{events, err}
	}

	if sa.processorTimeout <= 0 {
		outcome := run()
		return outcome.events, outcome.err
	}

	done := make(chan transformOutcome, 1)
	go func() {
		done <- run()
	}()

	select {
	case outcome := <-done:
		return outcome.events, outcome.err
	case <-time.After(sa.processorTimeout):
		return nil, models.NewExecutionTimeoutError(processor.ID, sa.processorTimeout.Milliseconds())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AggregateWindow 按注册的窗口策略过滤事件并计算聚合统计
// 结果写入缓存（5分钟TTL），缓存失败不影响返回
func (sa *StreamAggregator) AggregateWindow(ctx context.Context, windowID string, events []*models.StreamEvent) (*models.WindowResult, error) {
	start := time.Now()

	sa.mu.RLock()
	window, exists := sa.windows[windowID]
	sa.mu.RUnlock()

	if !exists {
		sa.metrics.RecordAnalyticsQuery(float64(time.Since(start))/float64(time.Millisecond), "aggregate_window", false)
		return nil, models.NewStreamingError("aggregate", fmt.Sprintf("找不到分析窗口: %s", windowID), nil)
	}

	filtered := sa.filterByWindow(window, events, time.Now())
	result := &models.WindowResult{
		WindowID:   window.ID,
		WindowType: window.Type,
		Stats:      computeStats(filtered),
		ComputedAt: time.Now(),
	}

	if len(filtered) > 0 {
		first, last := filtered[0].Timestamp, filtered[0].Timestamp
		for _, event := range filtered[1:] {
			if event.Timestamp.Before(first) {
				first = event.Timestamp
			}
			if event.Timestamp.After(last) {
				last = event.Timestamp
			}
		}
		result.StartTime = &first
		result.EndTime = &last
	}

	if sa.cache != nil {
		if payload, err := json.Marshal(result); err == nil {
			if err := sa.cache.SetEx(windowKeyPrefix+windowID, windowResultTTL, string(payload)); err != nil {
				sa.logger.Warn("缓存窗口结果失败", "window_id", windowID, "error", err)
			}
		}
	}

	elapsed := time.Since(start)
	sa.metrics.RecordAnalyticsQuery(float64(elapsed)/float64(time.Millisecond), "aggregate_window", true)

	sa.logger.Debug("窗口聚合完成", "window_id", windowID,
		"candidate_count", len(events), "filtered_count", len(filtered))
	return result, nil
}

// filterByWindow 按窗口语义过滤事件
// 滑动窗口默认按slide间隔过滤（历史兼容行为），修正开关下改为按size过滤；
// 会话窗口默认与滚动窗口等价，修正开关下按sessionTimeout作为时间视界
func (sa *StreamAggregator) filterByWindow(window *models.AnalyticsWindow, events []*models.StreamEvent, now time.Time) []*models.StreamEvent {
	var span time.Duration
	switch window.Type {
	case models.WindowTypeSliding:
		span = window.Slide
		if span <= 0 || sa.correctedWindowSemantics {
			span = window.Size
		}
	case models.WindowTypeSession:
		span = window.Size
		if sa.correctedWindowSemantics && window.SessionTimeout > 0 {
			span = window.SessionTimeout
		}
	default:
		span = window.Size
	}

	cutoff := now.Add(-span)
	filtered := make([]*models.StreamEvent, 0, len(events))
	for _, event := range events {
		if !event.Timestamp.Before(cutoff) {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

// computeStats 计算聚合统计，仅data.value为数值的事件参与sum/avg/min/max
func computeStats(events []*models.StreamEvent) models.AggregationStats {
	stats := models.AggregationStats{
		Count:        len(events),
		SourceCounts: make(map[string]int64),
	}

	numericCount := 0
	for _, event := range events {
		stats.SourceCounts[event.Source]++

		raw, ok := event.Data["value"]
		if !ok {
			continue
		}
		value, err := cast.ToFloat64E(raw)
		if err != nil {
			continue
		}

		stats.Sum += value
		if numericCount == 0 || value < stats.Min {
			stats.Min = value
		}
		if numericCount == 0 || value > stats.Max {
			stats.Max = value
		}
		numericCount++
	}

	if numericCount > 0 {
		stats.Avg = stats.Sum / float64(numericCount)
	}
	stats.DistinctSources = len(stats.SourceCounts)
	return stats
}

// MetricsSnapshot 生成当前流处理指标快照
func (sa *StreamAggregator) MetricsSnapshot() *models.StreamingMetricsSnapshot {
	return sa.stats.snapshot()
}
