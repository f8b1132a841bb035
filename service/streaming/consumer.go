/*
 * @module service/streaming/consumer
 * @description 流事件消费入口，订阅固定业务主题，将入站消息路由到匹配的流处理器并递归发布派生事件
 * @architecture 事件驱动架构 - 摄取层
 * @stateFlow 订阅主题 -> 解析事件 -> 处理器路由 -> 派生事件再发布 -> 仪表盘推送
 * @rules 消费端建立失败只记录日志，聚合器降级为本地模式继续服务
 * @dependencies encoding/json
 * @refs service/streaming/stream_aggregator.go, client/connectors/kafka_connector.go
 */

package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"streamhub-service/service/models"
)

// 固定订阅的业务主题
var consumerTopics = []string{
	"patient-events",
	"appointment-events",
	"system-events",
}

// ConsumerTopics 返回消费端订阅的主题列表
func ConsumerTopics() []string {
	topics := make([]string, len(consumerTopics))
	copy(topics, consumerTopics)
	return topics
}

// startConsumers 为每个固定主题启动一个消费循环
// 任一主题消费建立失败只记录日志，不影响其余主题和本地路径
func (sa *StreamAggregator) startConsumers(ctx context.Context) {
	consumerCtx, cancel := context.WithCancel(ctx)
	sa.consumerCancel = cancel

	for _, topic := range consumerTopics {
		go func(topic string) {
			err := sa.broker.ConsumeMessages(topic, func(message *models.KafkaMessage) error {
				select {
				case <-consumerCtx.Done():
					return nil
				default:
				}
				return sa.handleInboundMessage(consumerCtx, message)
			})
			if err != nil {
				sa.logger.Warn("消费主题失败，该主题进入本地模式", "topic", topic, "error", err)
			}
		}(topic)
	}

	sa.logger.Info("流消费端已启动", "topics", consumerTopics)
}

// handleInboundMessage 解析入站消息并路由到流处理管道
func (sa *StreamAggregator) handleInboundMessage(ctx context.Context, message *models.KafkaMessage) error {
	raw, ok := message.Value.([]byte)
	if !ok {
		return fmt.Errorf("消息体类型不支持: %T", message.Value)
	}

	var event models.StreamEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		sa.logger.Warn("解析流事件失败", "topic", message.Topic, "offset", message.Offset, "error", err)
		return nil
	}

	sa.stats.recordConsume()
	sa.routeEvent(ctx, &event)
	return nil
}

// routeEvent 将事件分发给所有声明消费该类型的处理器，派生事件递归走发布路径
func (sa *StreamAggregator) routeEvent(ctx context.Context, event *models.StreamEvent) {
	sa.mu.RLock()
	matched := make([]*models.StreamProcessor, 0, len(sa.processors))
	for _, processor := range sa.processors {
		if processor.ConsumesType(event.Type) {
			matched = append(matched, processor)
		}
	}
	sa.mu.RUnlock()

	for _, processor := range matched {
		start := time.Now()
		outputs, err := sa.invokeTransform(ctx, processor, event)
		if err != nil {
			sa.stats.recordError()
			sa.logger.Warn("处理器处理入站事件失败", "processor_id", processor.ID,
				"event_id", event.ID, "type", event.Type, "error", err)
			continue
		}
		sa.stats.recordProcess(time.Since(start))

		for _, derived := range outputs {
			if err := sa.PublishEvent(ctx, derived); err != nil {
				sa.logger.Warn("发布派生事件失败", "processor_id", processor.ID,
					"event_id", derived.ID, "error", err)
			}
		}
	}

	if sa.notifier != nil {
		sa.notifier.EmitTo("dashboard:"+event.Type, "stream_update", event)
		sa.notifier.Emit("stream_update", event)
	}
}
