/*
 * @module service/streaming/metrics_job
 * @description 流处理指标定时任务，每5秒向订阅者推送运行快照，每10秒写入指标汇聚层
 * @architecture 事件驱动架构 - 后台任务层
 * @stateFlow 定时触发 -> 生成快照 -> 推送/上报
 * @rules 定时任务只读统计计数器，与请求路径无需协调
 * @dependencies github.com/robfig/cron/v3
 * @refs service/streaming/stream_aggregator.go, service/metrics/metrics.go
 */

package streaming

import (
	"log/slog"

	"streamhub-service/service/metrics"

	"github.com/robfig/cron/v3"
)

// MetricsJob 流处理指标的周期性推送与上报任务
type MetricsJob struct {
	cron       *cron.Cron
	aggregator *StreamAggregator
	notifier   Notifier
	sink       metrics.Sink
	logger     *slog.Logger
}

// NewMetricsJob 创建指标定时任务
func NewMetricsJob(aggregator *StreamAggregator, notifier Notifier, sink metrics.Sink, logger *slog.Logger) *MetricsJob {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	return &MetricsJob{
		cron:       cron.New(cron.WithSeconds()),
		aggregator: aggregator,
		notifier:   notifier,
		sink:       sink,
		logger:     logger,
	}
}

// Start 注册并启动定时任务
func (j *MetricsJob) Start() error {
	// 每5秒向订阅者推送一次运行快照
	if _, err := j.cron.AddFunc("*/5 * * * * *", j.pushSnapshot); err != nil {
		return err
	}

	// 每10秒向指标汇聚层写入一次快照
	if _, err := j.cron.AddFunc("*/10 * * * * *", j.recordSnapshot); err != nil {
		return err
	}

	j.cron.Start()
	j.logger.Info("流指标定时任务已启动", "push_interval", "5s", "record_interval", "10s")
	return nil
}

// Stop 停止定时任务，等待正在执行的任务完成
func (j *MetricsJob) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.logger.Info("流指标定时任务已停止")
}

func (j *MetricsJob) pushSnapshot() {
	snapshot := j.aggregator.MetricsSnapshot()
	if j.notifier != nil {
		j.notifier.Emit("streaming_metrics", snapshot)
	}
}

func (j *MetricsJob) recordSnapshot() {
	j.sink.RecordStreamingSnapshot(j.aggregator.MetricsSnapshot())
}
