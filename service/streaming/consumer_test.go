/*
 * @module service/streaming/consumer_test
 * @description 流事件消费路由单元测试
 * @architecture 测试层 - 单元测试
 */

package streaming

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"streamhub-service/service/models"
	"streamhub-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBroker 内存broker桩，记录订阅的处理函数并支持手工注入消息
type fakeBroker struct {
	mu        sync.Mutex
	connected bool
	handlers  map[string]models.MessageHandler
	produced  []*models.KafkaMessage
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]models.MessageHandler)}
}

func (b *fakeBroker) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

func (b *fakeBroker) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

func (b *fakeBroker) ProduceMessage(message *models.KafkaMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.produced = append(b.produced, message)
	return nil
}

func (b *fakeBroker) ConsumeMessages(topic string, handler models.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) handlerFor(topic string) models.MessageHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers[topic]
}

func (b *fakeBroker) producedTopics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	topics := make([]string, 0, len(b.produced))
	for _, msg := range b.produced {
		topics = append(topics, msg.Topic)
	}
	return topics
}

// inject 模拟一条入站消息送达
func (b *fakeBroker) inject(t *testing.T, topic string, event *models.StreamEvent) {
	handler := b.handlerFor(topic)
	require.NotNil(t, handler, "主题 %s 应已建立消费", topic)

	payload, err := json.Marshal(event)
	require.NoError(t, err)
	require.NoError(t, handler(&models.KafkaMessage{
		Topic:     topic,
		Key:       event.ID,
		Value:     payload,
		Timestamp: time.Now(),
	}))
}

// newBrokeredAggregator 创建带假broker的聚合器并等待消费端就绪
func newBrokeredAggregator(t *testing.T) (*StreamAggregator, *fakeBroker, *testutil.FakeCacheClient) {
	broker := newFakeBroker()
	cache := testutil.NewFakeCacheClient()
	sa := NewStreamAggregator(broker, cache, nil, nil, nil)
	require.NoError(t, sa.Initialize(context.Background()))

	require.Eventually(t, func() bool {
		for _, topic := range ConsumerTopics() {
			if broker.handlerFor(topic) == nil {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond, "全部主题应建立消费")

	return sa, broker, cache
}

// TestConsumerTopicsFixed 消费端订阅固定的业务主题
func TestConsumerTopicsFixed(t *testing.T) {
	topics := ConsumerTopics()
	assert.Equal(t, []string{"patient-events", "appointment-events", "system-events"}, topics)

	// 返回的是副本，修改不影响内部列表
	topics[0] = "mutated"
	assert.Equal(t, "patient-events", ConsumerTopics()[0])
}

// TestInboundEventRoutedToProcessor 入站事件被匹配处理器消费，派生事件递归发布
func TestInboundEventRoutedToProcessor(t *testing.T) {
	sa, broker, _ := newBrokeredAggregator(t)
	ctx := context.Background()

	require.NoError(t, sa.RegisterProcessor(&models.StreamProcessor{
		ID:           "alerting",
		Name:         "体征告警",
		InputStreams: []string{"patient-events"},
		Transform: func(ctx context.Context, event *models.StreamEvent) ([]*models.StreamEvent, error) {
			derived := factory.MakeStreamEvent("alert-events")
			derived.Data["origin"] = event.ID
			return []*models.StreamEvent{derived}, nil
		},
	}))

	inbound := factory.MakeStreamEvent("patient-events")
	broker.inject(t, "patient-events", inbound)

	// 派生事件走完整发布路径：broker主题 + 最近事件缓存
	assert.Contains(t, broker.producedTopics(), "analytics-alert-events")

	alerts, err := sa.GetRecentEvents(ctx, "alert-events", 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, inbound.ID, alerts[0].Data["origin"])

	snap := sa.MetricsSnapshot()
	assert.Equal(t, int64(1), snap.EventsConsumed)
}

// TestInboundEventNoMatchingProcessor 无匹配处理器时事件被静默跳过
func TestInboundEventNoMatchingProcessor(t *testing.T) {
	sa, broker, _ := newBrokeredAggregator(t)

	broker.inject(t, "system-events", factory.MakeStreamEvent("system-events"))

	events, err := sa.GetRecentEvents(context.Background(), "system-events", 10)
	require.NoError(t, err)
	assert.Empty(t, events, "未匹配的入站事件不应进入最近事件列表")
}

// TestInboundProcessorErrorIsolated 处理器失败只影响自身，其他处理器继续
func TestInboundProcessorErrorIsolated(t *testing.T) {
	sa, broker, _ := newBrokeredAggregator(t)

	require.NoError(t, sa.RegisterProcessor(&models.StreamProcessor{
		ID:           "broken",
		Name:         "总是失败",
		InputStreams: []string{"appointment-events"},
		Transform: func(ctx context.Context, event *models.StreamEvent) ([]*models.StreamEvent, error) {
			panic("transform exploded")
		},
	}))
	require.NoError(t, sa.RegisterProcessor(&models.StreamProcessor{
		ID:           "healthy",
		Name:         "正常处理",
		InputStreams: []string{"appointment-events"},
		Transform: func(ctx context.Context, event *models.StreamEvent) ([]*models.StreamEvent, error) {
			return []*models.StreamEvent{factory.MakeStreamEvent("reminder-events")}, nil
		},
	}))

	broker.inject(t, "appointment-events", factory.MakeStreamEvent("appointment-events"))

	reminders, err := sa.GetRecentEvents(context.Background(), "reminder-events", 10)
	require.NoError(t, err)
	assert.Len(t, reminders, 1, "健康处理器不应被失败处理器拖累")

	snap := sa.MetricsSnapshot()
	assert.Equal(t, int64(1), snap.ErrorCount)
}

// TestInboundMalformedPayloadSkipped 非法JSON消息被跳过且不报错
func TestInboundMalformedPayloadSkipped(t *testing.T) {
	_, broker, _ := newBrokeredAggregator(t)

	handler := broker.handlerFor("patient-events")
	require.NotNil(t, handler)

	err := handler(&models.KafkaMessage{Topic: "patient-events", Value: []byte("not json")})
	assert.NoError(t, err, "解析失败只记录日志，不向消费循环报错")

	// 非[]byte消息体是协议错误，向上抛出
	err = handler(&models.KafkaMessage{Topic: "patient-events", Value: 42})
	assert.Error(t, err)
}

// TestDashboardNotificationOnInbound 入站事件推送到对应仪表盘房间
func TestDashboardNotificationOnInbound(t *testing.T) {
	broker := newFakeBroker()
	cache := testutil.NewFakeCacheClient()
	notifier := NewSSENotifier(nil)
	sa := NewStreamAggregator(broker, cache, notifier, nil, nil)
	require.NoError(t, sa.Initialize(context.Background()))

	require.Eventually(t, func() bool {
		return broker.handlerFor("patient-events") != nil
	}, time.Second, 5*time.Millisecond)

	dashboardSub := notifier.Subscribe("dashboard:patient-events")
	globalSub := notifier.Subscribe("")
	defer notifier.Unsubscribe(dashboardSub)
	defer notifier.Unsubscribe(globalSub)

	inbound := factory.MakeStreamEvent("patient-events")
	broker.inject(t, "patient-events", inbound)

	select {
	case msg := <-dashboardSub.Channel:
		assert.Equal(t, "stream_update", msg.Event)
	default:
		t.Fatal("仪表盘房间应收到stream_update推送")
	}

	select {
	case msg := <-globalSub.Channel:
		assert.Equal(t, "stream_update", msg.Event)
	default:
		t.Fatal("全局频道应收到stream_update推送")
	}
}
