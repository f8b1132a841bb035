/*
 * @module service/streaming/stream_aggregator_test
 * @description 流聚合器单元测试
 * @architecture 测试层 - 单元测试
 */

package streaming

import (
	"context"
	"fmt"
	"testing"
	"time"

	"streamhub-service/service/models"
	"streamhub-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var factory = testutil.NewTestDataFactory()

// newTestAggregator 创建纯本地模式的聚合器（无broker），挂载内存假缓存
func newTestAggregator(t *testing.T, opts ...AggregatorOption) (*StreamAggregator, *testutil.FakeCacheClient) {
	cache := testutil.NewFakeCacheClient()
	sa := NewStreamAggregator(nil, cache, nil, nil, nil, opts...)
	require.NoError(t, sa.Initialize(context.Background()))
	return sa, cache
}

// TestLifecycle 生命周期状态流转
func TestLifecycle(t *testing.T) {
	cache := testutil.NewFakeCacheClient()
	sa := NewStreamAggregator(nil, cache, nil, nil, nil)

	assert.Equal(t, StateUninitialized, sa.State())
	assert.False(t, sa.IsReady())

	require.NoError(t, sa.Initialize(context.Background()))
	assert.Equal(t, StateReady, sa.State())
	assert.True(t, sa.IsReady())

	// 就绪状态下重复初始化被拒绝
	err := sa.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsStreamingError(err))

	require.NoError(t, sa.Shutdown(context.Background()))
	assert.Equal(t, StateStopped, sa.State())
	assert.False(t, sa.IsReady())

	// 停止后不允许再次关闭
	err = sa.Shutdown(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsStreamingError(err))

	// 停止后允许重新初始化
	require.NoError(t, sa.Initialize(context.Background()))
	assert.True(t, sa.IsReady())
}

// TestPublishEventRoundTrip 发布后能从最近事件列表按ID找回
func TestPublishEventRoundTrip(t *testing.T) {
	sa, _ := newTestAggregator(t)
	ctx := context.Background()

	event := factory.MakeStreamEvent("patient-events", testutil.WithEventValue(98.6))
	require.NoError(t, sa.PublishEvent(ctx, event))

	events, err := sa.GetRecentEvents(ctx, "patient-events", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.ID, events[0].ID)
	assert.Equal(t, "patient-events", events[0].Type)
	assert.Equal(t, 98.6, events[0].Data["value"])
}

// TestPublishEventDefaults 缺省时间戳与模式版本由发布路径补齐
func TestPublishEventDefaults(t *testing.T) {
	sa, _ := newTestAggregator(t)

	event := &models.StreamEvent{
		ID:     "evt-1",
		Type:   "system-events",
		Source: "unit-test",
		Data:   map[string]interface{}{"value": 1},
	}
	require.NoError(t, sa.PublishEvent(context.Background(), event))

	assert.False(t, event.Timestamp.IsZero(), "时间戳应被补齐")
	assert.Equal(t, models.StreamEventSchemaVersion, event.Metadata.Version)
}

// TestPublishEventValidation 缺少必填字段时返回校验错误
func TestPublishEventValidation(t *testing.T) {
	sa, _ := newTestAggregator(t)

	event := &models.StreamEvent{ID: "evt-1", Type: "patient-events"}
	err := sa.PublishEvent(context.Background(), event)
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))
}

// TestPublishEventCacheFailure 缓存写入失败沿StreamingError上抛
func TestPublishEventCacheFailure(t *testing.T) {
	sa, cache := newTestAggregator(t)

	cache.FailNext = true
	err := sa.PublishEvent(context.Background(), factory.MakeStreamEvent("patient-events"))
	require.Error(t, err)
	assert.True(t, models.IsStreamingError(err))
}

// TestGetRecentEventsOrder 最近事件按发布时间倒序返回
func TestGetRecentEventsOrder(t *testing.T) {
	sa, _ := newTestAggregator(t)
	ctx := context.Background()

	first := factory.MakeStreamEvent("appointment-events")
	second := factory.MakeStreamEvent("appointment-events")
	require.NoError(t, sa.PublishEvent(ctx, first))
	require.NoError(t, sa.PublishEvent(ctx, second))

	events, err := sa.GetRecentEvents(ctx, "appointment-events", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, second.ID, events[0].ID, "最新发布的事件应排在前面")
	assert.Equal(t, first.ID, events[1].ID)
}

// TestRegisterProcessorValidation 处理器注册的必填校验
func TestRegisterProcessorValidation(t *testing.T) {
	sa, _ := newTestAggregator(t)

	err := sa.RegisterProcessor(&models.StreamProcessor{Name: "no-id"})
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))

	err = sa.RegisterProcessor(&models.StreamProcessor{ID: "p1", Name: "no-transform"})
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))
}

// TestProcessStreamSequential 事件按输入顺序处理，输出顺序拼接
func TestProcessStreamSequential(t *testing.T) {
	sa, _ := newTestAggregator(t)
	ctx := context.Background()

	require.NoError(t, sa.RegisterProcessor(&models.StreamProcessor{
		ID:   "tagger",
		Name: "顺序标记",
		Transform: func(ctx context.Context, event *models.StreamEvent) ([]*models.StreamEvent, error) {
			derived := *event
			derived.ID = event.ID + "-out"
			return []*models.StreamEvent{&derived}, nil
		},
	}))

	inputs := []*models.StreamEvent{
		factory.MakeStreamEvent("patient-events"),
		factory.MakeStreamEvent("patient-events"),
		factory.MakeStreamEvent("patient-events"),
	}

	outputs, err := sa.ProcessStream(ctx, "tagger", inputs)
	require.NoError(t, err)
	require.Len(t, outputs, 3)
	for i, out := range outputs {
		assert.Equal(t, inputs[i].ID+"-out", out.ID)
	}
}

// TestProcessStreamMissingProcessor 未注册的处理器返回流错误
func TestProcessStreamMissingProcessor(t *testing.T) {
	sa, _ := newTestAggregator(t)

	_, err := sa.ProcessStream(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.True(t, models.IsStreamingError(err))
}

// TestProcessStreamAbortsOnError 任一事件处理失败整批中止
func TestProcessStreamAbortsOnError(t *testing.T) {
	sa, _ := newTestAggregator(t)

	calls := 0
	require.NoError(t, sa.RegisterProcessor(&models.StreamProcessor{
		ID:   "flaky",
		Name: "第二个事件失败",
		Transform: func(ctx context.Context, event *models.StreamEvent) ([]*models.StreamEvent, error) {
			calls++
			if calls == 2 {
				return nil, fmt.Errorf("转换失败")
			}
			return []*models.StreamEvent{event}, nil
		},
	}))

	inputs := []*models.StreamEvent{
		factory.MakeStreamEvent("patient-events"),
		factory.MakeStreamEvent("patient-events"),
		factory.MakeStreamEvent("patient-events"),
	}

	_, err := sa.ProcessStream(context.Background(), "flaky", inputs)
	require.Error(t, err)
	assert.True(t, models.IsStreamingError(err))
	assert.Equal(t, 2, calls, "失败后不应继续处理后续事件")
}

// TestProcessStreamPanicIsolated 处理器panic被转化为流错误
func TestProcessStreamPanicIsolated(t *testing.T) {
	sa, _ := newTestAggregator(t)

	require.NoError(t, sa.RegisterProcessor(&models.StreamProcessor{
		ID:   "panicky",
		Name: "直接panic",
		Transform: func(ctx context.Context, event *models.StreamEvent) ([]*models.StreamEvent, error) {
			panic("transform exploded")
		},
	}))

	_, err := sa.ProcessStream(context.Background(), "panicky",
		[]*models.StreamEvent{factory.MakeStreamEvent("patient-events")})
	require.Error(t, err)
	assert.True(t, models.IsStreamingError(err))
}

// TestProcessStreamTimeout 超时的处理器调用返回超时错误
func TestProcessStreamTimeout(t *testing.T) {
	sa, _ := newTestAggregator(t, WithProcessorTimeout(20*time.Millisecond))

	require.NoError(t, sa.RegisterProcessor(&models.StreamProcessor{
		ID:   "slow",
		Name: "慢处理器",
		Transform: func(ctx context.Context, event *models.StreamEvent) ([]*models.StreamEvent, error) {
			time.Sleep(200 * time.Millisecond)
			return nil, nil
		},
	}))

	_, err := sa.ProcessStream(context.Background(), "slow",
		[]*models.StreamEvent{factory.MakeStreamEvent("patient-events")})
	require.Error(t, err)
	assert.True(t, models.IsStreamingError(err))
	assert.True(t, models.IsExecutionTimeout(err), "错误链中应包含超时错误")
}

// TestRegisterWindowValidation 窗口注册的类型与大小校验
func TestRegisterWindowValidation(t *testing.T) {
	sa, _ := newTestAggregator(t)

	err := sa.RegisterWindow(&models.AnalyticsWindow{ID: "w1", Type: "hopping", Size: time.Minute})
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))

	err = sa.RegisterWindow(&models.AnalyticsWindow{ID: "w1", Type: models.WindowTypeTumbling})
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))
}

// TestAggregateWindowTumbling 滚动窗口只保留窗口期内的事件
func TestAggregateWindowTumbling(t *testing.T) {
	sa, _ := newTestAggregator(t)
	require.NoError(t, sa.RegisterWindow(&models.AnalyticsWindow{
		ID:   "vitals-1m",
		Type: models.WindowTypeTumbling,
		Size: time.Minute,
	}))

	events := []*models.StreamEvent{
		factory.MakeStreamEvent("patient-events", testutil.WithEventValue(10.0)),
		factory.MakeStreamEvent("patient-events", testutil.WithEventValue(20.0)),
		factory.MakeStreamEvent("patient-events", testutil.WithEventValue(99.0), testutil.WithEventAge(2*time.Minute)),
	}

	result, err := sa.AggregateWindow(context.Background(), "vitals-1m", events)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Stats.Count)
	assert.Equal(t, 30.0, result.Stats.Sum)
	assert.Equal(t, 15.0, result.Stats.Avg)
	assert.Equal(t, 10.0, result.Stats.Min)
	assert.Equal(t, 20.0, result.Stats.Max)
	require.NotNil(t, result.StartTime)
	require.NotNil(t, result.EndTime)
	assert.False(t, result.EndTime.Before(*result.StartTime))
}

// TestAggregateWindowSlidingLegacySemantics 滑动窗口默认按slide间隔过滤
func TestAggregateWindowSlidingLegacySemantics(t *testing.T) {
	sa, _ := newTestAggregator(t)
	require.NoError(t, sa.RegisterWindow(&models.AnalyticsWindow{
		ID:    "sliding-w",
		Type:  models.WindowTypeSliding,
		Size:  10 * time.Minute,
		Slide: time.Minute,
	}))

	events := []*models.StreamEvent{
		factory.MakeStreamEvent("patient-events"),
		// 比slide老但比size新：默认语义下被排除
		factory.MakeStreamEvent("patient-events", testutil.WithEventAge(5*time.Minute)),
	}

	result, err := sa.AggregateWindow(context.Background(), "sliding-w", events)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.Count)
}

// TestAggregateWindowSlidingCorrectedSemantics 修正开关下滑动窗口按size过滤
func TestAggregateWindowSlidingCorrectedSemantics(t *testing.T) {
	sa, _ := newTestAggregator(t, WithCorrectedWindowSemantics())
	require.NoError(t, sa.RegisterWindow(&models.AnalyticsWindow{
		ID:    "sliding-w",
		Type:  models.WindowTypeSliding,
		Size:  10 * time.Minute,
		Slide: time.Minute,
	}))

	events := []*models.StreamEvent{
		factory.MakeStreamEvent("patient-events"),
		factory.MakeStreamEvent("patient-events", testutil.WithEventAge(5*time.Minute)),
	}

	result, err := sa.AggregateWindow(context.Background(), "sliding-w", events)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stats.Count)
}

// TestAggregateWindowSlidingZeroSlideFallsBackToSize slide未设置时退回size
func TestAggregateWindowSlidingZeroSlideFallsBackToSize(t *testing.T) {
	sa, _ := newTestAggregator(t)
	require.NoError(t, sa.RegisterWindow(&models.AnalyticsWindow{
		ID:   "sliding-nofall",
		Type: models.WindowTypeSliding,
		Size: 10 * time.Minute,
	}))

	events := []*models.StreamEvent{
		factory.MakeStreamEvent("patient-events", testutil.WithEventAge(5*time.Minute)),
	}

	result, err := sa.AggregateWindow(context.Background(), "sliding-nofall", events)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.Count)
}

// TestAggregateWindowSessionDefaultEqualsTumbling 会话窗口默认按size过滤
func TestAggregateWindowSessionDefaultEqualsTumbling(t *testing.T) {
	sa, _ := newTestAggregator(t)
	require.NoError(t, sa.RegisterWindow(&models.AnalyticsWindow{
		ID:             "session-w",
		Type:           models.WindowTypeSession,
		Size:           time.Minute,
		SessionTimeout: 10 * time.Minute,
	}))

	events := []*models.StreamEvent{
		factory.MakeStreamEvent("patient-events"),
		factory.MakeStreamEvent("patient-events", testutil.WithEventAge(5*time.Minute)),
	}

	result, err := sa.AggregateWindow(context.Background(), "session-w", events)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.Count, "默认语义下sessionTimeout不参与过滤")
}

// TestAggregateWindowSessionCorrectedUsesTimeout 修正开关下会话窗口按sessionTimeout过滤
func TestAggregateWindowSessionCorrectedUsesTimeout(t *testing.T) {
	sa, _ := newTestAggregator(t, WithCorrectedWindowSemantics())
	require.NoError(t, sa.RegisterWindow(&models.AnalyticsWindow{
		ID:             "session-w",
		Type:           models.WindowTypeSession,
		Size:           time.Minute,
		SessionTimeout: 10 * time.Minute,
	}))

	events := []*models.StreamEvent{
		factory.MakeStreamEvent("patient-events"),
		factory.MakeStreamEvent("patient-events", testutil.WithEventAge(5*time.Minute)),
	}

	result, err := sa.AggregateWindow(context.Background(), "session-w", events)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stats.Count)
}

// TestAggregateWindowEmpty 无事件命中时返回零值统计而不是错误
func TestAggregateWindowEmpty(t *testing.T) {
	sa, _ := newTestAggregator(t)
	require.NoError(t, sa.RegisterWindow(&models.AnalyticsWindow{
		ID:   "empty-w",
		Type: models.WindowTypeTumbling,
		Size: time.Minute,
	}))

	result, err := sa.AggregateWindow(context.Background(), "empty-w", []*models.StreamEvent{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Stats.Count)
	assert.Equal(t, 0.0, result.Stats.Avg)
	assert.Nil(t, result.StartTime)
	assert.Nil(t, result.EndTime)
}

// TestAggregateWindowMissing 未注册的窗口返回流错误
func TestAggregateWindowMissing(t *testing.T) {
	sa, _ := newTestAggregator(t)

	_, err := sa.AggregateWindow(context.Background(), "no-such-window", nil)
	require.Error(t, err)
	assert.True(t, models.IsStreamingError(err))
}

// TestAggregateWindowNonNumericValues 非数值value只计入Count不参与均值
func TestAggregateWindowNonNumericValues(t *testing.T) {
	sa, _ := newTestAggregator(t)
	require.NoError(t, sa.RegisterWindow(&models.AnalyticsWindow{
		ID:   "mixed-w",
		Type: models.WindowTypeTumbling,
		Size: time.Minute,
	}))

	events := []*models.StreamEvent{
		factory.MakeStreamEvent("system-events", testutil.WithEventValue(40.0)),
		factory.MakeStreamEvent("system-events", testutil.WithEventValue("not-a-number")),
		factory.MakeStreamEvent("system-events", testutil.WithEventSource("other")),
	}
	// 第三个事件去掉value字段
	delete(events[2].Data, "value")

	result, err := sa.AggregateWindow(context.Background(), "mixed-w", events)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Stats.Count)
	assert.Equal(t, 40.0, result.Stats.Sum)
	assert.Equal(t, 40.0, result.Stats.Avg)
	assert.Equal(t, 2, result.Stats.DistinctSources)
	assert.Equal(t, int64(1), result.Stats.SourceCounts["other"])
}

// TestAggregateWindowCacheFailureIgnored 结果缓存失败不影响返回
func TestAggregateWindowCacheFailureIgnored(t *testing.T) {
	sa, cache := newTestAggregator(t)
	require.NoError(t, sa.RegisterWindow(&models.AnalyticsWindow{
		ID:   "w-cachefail",
		Type: models.WindowTypeTumbling,
		Size: time.Minute,
	}))

	cache.FailNext = true
	result, err := sa.AggregateWindow(context.Background(), "w-cachefail",
		[]*models.StreamEvent{factory.MakeStreamEvent("patient-events")})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.Count)
}

// TestMetricsSnapshot 指标快照累计发布与处理计数
func TestMetricsSnapshot(t *testing.T) {
	sa, _ := newTestAggregator(t)
	ctx := context.Background()

	require.NoError(t, sa.PublishEvent(ctx, factory.MakeStreamEvent("patient-events")))
	require.NoError(t, sa.PublishEvent(ctx, factory.MakeStreamEvent("patient-events")))

	snap := sa.MetricsSnapshot()
	require.NotNil(t, snap)
	assert.Equal(t, int64(2), snap.EventsPublished)
	assert.GreaterOrEqual(t, snap.GoroutineCount, 1)
}
