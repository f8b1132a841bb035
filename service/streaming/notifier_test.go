/*
 * @module service/streaming/notifier_test
 * @description 推送通知分发器单元测试
 * @architecture 测试层 - 单元测试
 */

package streaming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEmitDeliversToGlobalSubscribers 全局推送送达全局订阅者
func TestEmitDeliversToGlobalSubscribers(t *testing.T) {
	n := NewSSENotifier(nil)
	sub := n.Subscribe("")
	defer n.Unsubscribe(sub)

	n.Emit("streaming_metrics", map[string]interface{}{"events_published": 3})

	select {
	case msg := <-sub.Channel:
		assert.Equal(t, "streaming_metrics", msg.Event)
		assert.False(t, msg.Timestamp.IsZero())
	default:
		t.Fatal("全局订阅者应收到推送")
	}
}

// TestEmitToScopedByRoom 房间推送只送达对应房间的订阅者
func TestEmitToScopedByRoom(t *testing.T) {
	n := NewSSENotifier(nil)
	patientSub := n.Subscribe("stream:patient-events")
	systemSub := n.Subscribe("stream:system-events")
	globalSub := n.Subscribe("")
	defer n.Unsubscribe(patientSub)
	defer n.Unsubscribe(systemSub)
	defer n.Unsubscribe(globalSub)

	n.EmitTo("stream:patient-events", "stream_event", map[string]interface{}{"id": "evt-1"})

	select {
	case msg := <-patientSub.Channel:
		assert.Equal(t, "stream_event", msg.Event)
		assert.Equal(t, "stream:patient-events", msg.Room)
	default:
		t.Fatal("目标房间的订阅者应收到推送")
	}

	assert.Empty(t, systemSub.Channel, "其他房间不应收到推送")
	assert.Empty(t, globalSub.Channel, "房间推送不应进入全局频道")
}

// TestUnsubscribeStopsDelivery 取消订阅后不再接收且Done被关闭
func TestUnsubscribeStopsDelivery(t *testing.T) {
	n := NewSSENotifier(nil)
	sub := n.Subscribe("dashboard:patient-events")

	assert.Equal(t, 1, n.SubscriberCount("dashboard:patient-events"))

	n.Unsubscribe(sub)
	assert.Equal(t, 0, n.SubscriberCount("dashboard:patient-events"))

	select {
	case <-sub.Done:
	default:
		t.Fatal("取消订阅后Done应被关闭")
	}

	n.EmitTo("dashboard:patient-events", "stream_update", nil)
	assert.Empty(t, sub.Channel)
}

// TestUnsubscribeIdempotent 重复取消订阅不会panic
func TestUnsubscribeIdempotent(t *testing.T) {
	n := NewSSENotifier(nil)
	sub := n.Subscribe("room-a")

	n.Unsubscribe(sub)
	require.NotPanics(t, func() { n.Unsubscribe(sub) })
}

// TestSlowSubscriberDoesNotBlock 订阅者通道写满时消息被丢弃而不阻塞
func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	n := NewSSENotifier(nil)
	sub := n.Subscribe("")
	defer n.Unsubscribe(sub)

	// 超出缓冲容量的推送必须立即返回
	for i := 0; i < subscriberBuffer+10; i++ {
		n.Emit("stream_event", i)
	}

	assert.Len(t, sub.Channel, subscriberBuffer)
}

// TestMultipleSubscribersSameRoom 同一房间的多个订阅者都收到推送
func TestMultipleSubscribersSameRoom(t *testing.T) {
	n := NewSSENotifier(nil)
	first := n.Subscribe("stream:device-events")
	second := n.Subscribe("stream:device-events")
	defer n.Unsubscribe(first)
	defer n.Unsubscribe(second)

	assert.Equal(t, 2, n.SubscriberCount("stream:device-events"))

	n.EmitTo("stream:device-events", "stream_event", "payload")
	assert.Len(t, first.Channel, 1)
	assert.Len(t, second.Channel, 1)
}
