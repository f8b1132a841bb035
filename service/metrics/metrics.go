/*
 * @module service/metrics
 * @description 指标汇聚层，基于Prometheus暴露数据质量评分、分析查询耗时和流处理延迟指标
 * @architecture 分层架构 - 监控指标层
 * @stateFlow 指标注册 -> 运行时记录 -> /metrics 暴露
 * @rules 指标记录不阻塞业务路径，所有记录方法都是非阻塞的内存操作
 * @dependencies github.com/prometheus/client_golang/prometheus
 * @refs main.go, service/data_quality, service/streaming
 */

package metrics

import (
	"strconv"

	"streamhub-service/service/models"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink 指标汇聚接口，供质量引擎和流聚合器记录指标
type Sink interface {
	SetDataQualityScore(score float64, scope, id string)
	RecordAnalyticsQuery(durationMs float64, kind string, success bool)
	RecordStreamingLatency(durationMs float64, phase, label string)
	RecordStreamingSnapshot(snap *models.StreamingMetricsSnapshot)
}

// PrometheusSink 基于Prometheus的指标汇聚实现
type PrometheusSink struct {
	qualityScore     *prometheus.GaugeVec
	analyticsQuery   *prometheus.HistogramVec
	streamingLatency *prometheus.HistogramVec
	snapshotGauges   *prometheus.GaugeVec
}

// NewPrometheusSink 创建指标汇聚实例并注册到指定Registerer
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		qualityScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "streamhub_data_quality_score",
			Help: "最近一次数据质量检查的总分，按管道维度",
		}, []string{"scope", "id"}),
		analyticsQuery: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamhub_analytics_query_duration_ms",
			Help:    "分析类操作耗时分布（毫秒）",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"kind", "success"}),
		streamingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamhub_streaming_latency_ms",
			Help:    "流处理各阶段延迟分布（毫秒）",
			Buckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"phase", "label"}),
		snapshotGauges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "streamhub_streaming_runtime",
			Help: "流处理运行时快照指标，按名称区分",
		}, []string{"name"}),
	}

	reg.MustRegister(s.qualityScore, s.analyticsQuery, s.streamingLatency, s.snapshotGauges)
	return s
}

// SetDataQualityScore 记录数据质量评分
func (s *PrometheusSink) SetDataQualityScore(score float64, scope, id string) {
	s.qualityScore.WithLabelValues(scope, id).Set(score)
}

// RecordAnalyticsQuery 记录分析操作耗时
func (s *PrometheusSink) RecordAnalyticsQuery(durationMs float64, kind string, success bool) {
	s.analyticsQuery.WithLabelValues(kind, strconv.FormatBool(success)).Observe(durationMs)
}

// RecordStreamingLatency 记录流处理阶段延迟
func (s *PrometheusSink) RecordStreamingLatency(durationMs float64, phase, label string) {
	s.streamingLatency.WithLabelValues(phase, label).Observe(durationMs)
}

// RecordStreamingSnapshot 记录流处理运行时快照
func (s *PrometheusSink) RecordStreamingSnapshot(snap *models.StreamingMetricsSnapshot) {
	s.snapshotGauges.WithLabelValues("events_published").Set(float64(snap.EventsPublished))
	s.snapshotGauges.WithLabelValues("events_consumed").Set(float64(snap.EventsConsumed))
	s.snapshotGauges.WithLabelValues("events_processed").Set(float64(snap.EventsProcessed))
	s.snapshotGauges.WithLabelValues("error_count").Set(float64(snap.ErrorCount))
	s.snapshotGauges.WithLabelValues("error_rate").Set(snap.ErrorRate)
	s.snapshotGauges.WithLabelValues("throughput_per_sec").Set(snap.ThroughputPerSec)
	s.snapshotGauges.WithLabelValues("backlog").Set(float64(snap.Backlog))
	s.snapshotGauges.WithLabelValues("heap_bytes").Set(float64(snap.HeapBytes))
	s.snapshotGauges.WithLabelValues("goroutine_count").Set(float64(snap.GoroutineCount))
}

// NoopSink 空实现，供不关心指标的测试场景使用
type NoopSink struct{}

func (NoopSink) SetDataQualityScore(score float64, scope, id string) {}

func (NoopSink) RecordAnalyticsQuery(durationMs float64, kind string, ok bool) {}

func (NoopSink) RecordStreamingLatency(durationMs float64, phase, label string) {}

func (NoopSink) RecordStreamingSnapshot(snap *models.StreamingMetricsSnapshot) {}
