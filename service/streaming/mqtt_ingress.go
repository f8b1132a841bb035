/*
 * @module service/streaming/mqtt_ingress
 * @description MQTT摄取入口，订阅设备侧主题，将MQTT消息转换为流事件后走统一发布路径
 * @architecture 事件驱动架构 - 摄取层
 * @stateFlow MQTT订阅 -> 消息解析 -> 流事件发布
 * @rules MQTT broker缺席时只记录日志，不影响其余摄取路径
 * @dependencies client/connectors, github.com/google/uuid
 * @refs service/streaming/stream_aggregator.go, client/connectors/mqtt_connector.go
 */

package streaming

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"streamhub-service/service/models"

	"github.com/google/uuid"
)

// MQTTSubscriber MQTT订阅端抽象
type MQTTSubscriber interface {
	Connect() error
	Disconnect() error
	Subscribe(topic string, qos byte, handler models.MQTTMessageHandler) error
	IsConnected() bool
}

// MQTTIngress 设备消息摄取入口
type MQTTIngress struct {
	subscriber MQTTSubscriber
	aggregator *StreamAggregator
	topics     []string
	qos        byte
	logger     *slog.Logger
}

// NewMQTTIngress 创建MQTT摄取入口
func NewMQTTIngress(subscriber MQTTSubscriber, aggregator *StreamAggregator, topics []string, qos byte, logger *slog.Logger) *MQTTIngress {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTIngress{
		subscriber: subscriber,
		aggregator: aggregator,
		topics:     topics,
		qos:        qos,
		logger:     logger,
	}
}

// Start 连接并订阅全部配置主题，broker缺席时降级为本地模式
func (mi *MQTTIngress) Start(ctx context.Context) {
	if err := mi.subscriber.Connect(); err != nil {
		mi.logger.Warn("MQTT连接失败，设备摄取进入本地模式", "error", err)
		return
	}

	for _, topic := range mi.topics {
		topic := topic
		err := mi.subscriber.Subscribe(topic, mi.qos, func(message *models.MQTTMessage) error {
			return mi.handleMessage(ctx, message)
		})
		if err != nil {
			mi.logger.Warn("订阅MQTT主题失败", "topic", topic, "error", err)
		}
	}

	mi.logger.Info("MQTT摄取入口已启动", "topics", mi.topics, "qos", mi.qos)
}

// Stop 断开MQTT连接
func (mi *MQTTIngress) Stop() {
	if err := mi.subscriber.Disconnect(); err != nil {
		mi.logger.Warn("断开MQTT连接失败", "error", err)
	}
}

// handleMessage 将MQTT消息转换为流事件
// 载荷为JSON对象时直接作为事件体，否则包一层raw字段
func (mi *MQTTIngress) handleMessage(ctx context.Context, message *models.MQTTMessage) error {
	event := &models.StreamEvent{
		ID:        uuid.New().String(),
		Timestamp: message.Timestamp,
		Type:      "device-events",
		Source:    "mqtt:" + message.Topic,
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(message.Payload, &payload); err == nil {
		event.Data = payload
	} else {
		event.Data = map[string]interface{}{"raw": string(message.Payload)}
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := mi.aggregator.PublishEvent(ctx, event); err != nil {
		mi.logger.Warn("发布MQTT摄取事件失败", "topic", message.Topic, "error", err)
	}
	return nil
}
