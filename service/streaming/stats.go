/*
 * @module service/streaming/stats
 * @description 流处理运行统计，基于原子计数器与运行时采样生成指标快照
 * @architecture 事件驱动架构 - 指标采集层
 * @stateFlow 发布/消费/处理路径累加计数 -> 定时快照 -> 推送与指标上报
 * @rules 计数路径无锁，快照使用上次采样时间计算吞吐增量
 * @dependencies runtime, sync/atomic
 * @refs service/streaming/stream_aggregator.go, service/streaming/metrics_job.go
 */

package streaming

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"streamhub-service/service/models"
)

// streamStats 流处理内部计数器
type streamStats struct {
	eventsPublished int64
	eventsConsumed  int64
	eventsProcessed int64
	errorCount      int64
	publishNanos    int64
	publishSamples  int64
	processNanos    int64
	processSamples  int64

	mu            sync.Mutex
	lastSnapshot  time.Time
	lastPublished int64
}

func newStreamStats() *streamStats {
	return &streamStats{lastSnapshot: time.Now()}
}

func (s *streamStats) recordPublish(elapsed time.Duration) {
	atomic.AddInt64(&s.eventsPublished, 1)
	atomic.AddInt64(&s.publishNanos, int64(elapsed))
	atomic.AddInt64(&s.publishSamples, 1)
}

func (s *streamStats) recordConsume() {
	atomic.AddInt64(&s.eventsConsumed, 1)
}

func (s *streamStats) recordProcess(elapsed time.Duration) {
	atomic.AddInt64(&s.eventsProcessed, 1)
	atomic.AddInt64(&s.processNanos, int64(elapsed))
	atomic.AddInt64(&s.processSamples, 1)
}

func (s *streamStats) recordError() {
	atomic.AddInt64(&s.errorCount, 1)
}

// snapshot 生成当前指标快照，吞吐率按距上次快照的发布增量计算
func (s *streamStats) snapshot() *models.StreamingMetricsSnapshot {
	published := atomic.LoadInt64(&s.eventsPublished)
	consumed := atomic.LoadInt64(&s.eventsConsumed)
	processed := atomic.LoadInt64(&s.eventsProcessed)
	errors := atomic.LoadInt64(&s.errorCount)

	now := time.Now()
	s.mu.Lock()
	interval := now.Sub(s.lastSnapshot).Seconds()
	delta := published - s.lastPublished
	s.lastSnapshot = now
	s.lastPublished = published
	s.mu.Unlock()

	var throughput float64
	if interval > 0 {
		throughput = float64(delta) / interval
	}

	var errorRate float64
	if total := published + processed; total > 0 {
		errorRate = float64(errors) / float64(total)
	}

	// 消费与处理计数的差值即当前积压
	backlog := consumed - processed
	if backlog < 0 {
		backlog = 0
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return &models.StreamingMetricsSnapshot{
		Timestamp:        now,
		EventsPublished:  published,
		EventsConsumed:   consumed,
		EventsProcessed:  processed,
		ErrorCount:       errors,
		ErrorRate:        errorRate,
		ThroughputPerSec: throughput,
		AvgPublishMs:     avgMillis(atomic.LoadInt64(&s.publishNanos), atomic.LoadInt64(&s.publishSamples)),
		AvgProcessMs:     avgMillis(atomic.LoadInt64(&s.processNanos), atomic.LoadInt64(&s.processSamples)),
		Backlog:          backlog,
		HeapBytes:        memStats.HeapAlloc,
		GoroutineCount:   runtime.NumGoroutine(),
	}
}

func avgMillis(totalNanos, samples int64) float64 {
	if samples == 0 {
		return 0
	}
	return float64(totalNanos) / float64(samples) / float64(time.Millisecond)
}
