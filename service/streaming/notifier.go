/*
 * @module service/streaming/notifier
 * @description 推送通知分发器，维护全局与房间两级订阅者，向SSE客户端实时推送流事件和指标快照
 * @architecture 事件驱动架构 - 推送分发层
 * @stateFlow 客户端订阅 -> 事件推送 -> 客户端断开
 * @rules 推送为尽力而为，订阅者通道写满时丢弃消息而不阻塞发布路径
 * @dependencies github.com/google/uuid, log/slog
 * @refs service/streaming/stream_aggregator.go, api/controllers/streaming_controller.go
 */

package streaming

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// 全局频道的内部房间名
const globalRoom = ""

// 单个订阅者的通道缓冲
const subscriberBuffer = 100

// Notifier 推送通知接口，聚合器通过它向订阅者分发消息
type Notifier interface {
	Emit(event string, payload interface{})
	EmitTo(room, event string, payload interface{})
}

// Notification 推送给订阅者的消息
type Notification struct {
	Event     string      `json:"event"`
	Room      string      `json:"room,omitempty"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Subscriber 一个推送订阅者连接
type Subscriber struct {
	ID      string
	Room    string
	Channel chan *Notification
	Done    chan struct{}
}

// SSENotifier 基于内存订阅表的推送分发器
type SSENotifier struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*Subscriber // room -> id -> subscriber
	logger      *slog.Logger
	dropped     int64
}

// NewSSENotifier 创建推送分发器
func NewSSENotifier(logger *slog.Logger) *SSENotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSENotifier{
		subscribers: make(map[string]map[string]*Subscriber),
		logger:      logger,
	}
}

// Subscribe 订阅指定房间，room为空表示仅订阅全局频道
func (n *SSENotifier) Subscribe(room string) *Subscriber {
	sub := &Subscriber{
		ID:      uuid.New().String(),
		Room:    room,
		Channel: make(chan *Notification, subscriberBuffer),
		Done:    make(chan struct{}),
	}

	n.mu.Lock()
	if n.subscribers[room] == nil {
		n.subscribers[room] = make(map[string]*Subscriber)
	}
	n.subscribers[room][sub.ID] = sub
	n.mu.Unlock()

	n.logger.Debug("推送订阅已建立", "subscriber_id", sub.ID, "room", room)
	return sub
}

// Unsubscribe 移除订阅者
func (n *SSENotifier) Unsubscribe(sub *Subscriber) {
	n.mu.Lock()
	if room, ok := n.subscribers[sub.Room]; ok {
		if _, exists := room[sub.ID]; exists {
			delete(room, sub.ID)
			close(sub.Done)
		}
		if len(room) == 0 {
			delete(n.subscribers, sub.Room)
		}
	}
	n.mu.Unlock()

	n.logger.Debug("推送订阅已移除", "subscriber_id", sub.ID, "room", sub.Room)
}

// Emit 向全局频道推送消息
func (n *SSENotifier) Emit(event string, payload interface{}) {
	n.dispatch(globalRoom, event, payload)
}

// EmitTo 向指定房间推送消息
func (n *SSENotifier) EmitTo(room, event string, payload interface{}) {
	n.dispatch(room, event, payload)
}

func (n *SSENotifier) dispatch(room, event string, payload interface{}) {
	notification := &Notification{
		Event:     event,
		Room:      room,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	n.mu.RLock()
	targets := make([]*Subscriber, 0, len(n.subscribers[room]))
	for _, sub := range n.subscribers[room] {
		targets = append(targets, sub)
	}
	n.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.Channel <- notification:
		default:
			// 订阅者消费过慢，丢弃而不阻塞
			n.mu.Lock()
			n.dropped++
			n.mu.Unlock()
			n.logger.Debug("订阅者通道已满，消息被丢弃", "subscriber_id", sub.ID, "event", event)
		}
	}
}

// SubscriberCount 返回指定房间的订阅者数量
func (n *SSENotifier) SubscriberCount(room string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subscribers[room])
}
