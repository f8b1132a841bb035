/*
 * @module KafkaConnector
 * @description Kafka连接器，提供Kafka生产者和消费者的封装，承载流事件的发布与消费
 * @architecture 适配器模式 - 封装第三方Kafka客户端，提供统一的接口
 * @stateFlow 连接建立 -> 消息发送/接收 -> 连接断开
 * @rules 消费循环随连接器上下文取消而退出；发送超时由连接配置控制
 * @dependencies github.com/segmentio/kafka-go, encoding/json
 * @refs service/models/connector_models.go, service/streaming
 */
package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"streamhub-service/service/models"

	"github.com/segmentio/kafka-go"
)

// KafkaConnector Kafka连接器结构体
type KafkaConnector struct {
	config      *models.KafkaConfig
	writers     map[string]*kafka.Writer // 按topic分组的生产者
	readers     map[string]*kafka.Reader // 按topic分组的消费者
	mutex       sync.RWMutex
	logger      *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	isConnected bool
}

// NewKafkaConnector 创建新的Kafka连接器
func NewKafkaConnector(config *models.KafkaConfig, logger *slog.Logger) *KafkaConnector {
	ctx, cancel := context.WithCancel(context.Background())

	return &KafkaConnector{
		config:      config,
		writers:     make(map[string]*kafka.Writer),
		readers:     make(map[string]*kafka.Reader),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		isConnected: false,
	}
}

// Connect 建立Kafka连接
func (kc *KafkaConnector) Connect() error {
	kc.mutex.Lock()
	defer kc.mutex.Unlock()

	if kc.isConnected {
		return nil
	}

	if len(kc.config.Brokers) == 0 {
		return fmt.Errorf("未配置Kafka broker地址")
	}

	// 先探测可达性，broker不可用时让调用方走降级路径
	conn, err := kafka.DialContext(kc.ctx, "tcp", kc.config.Brokers[0])
	if err != nil {
		return fmt.Errorf("连接Kafka失败: %v", err)
	}
	_ = conn.Close()

	// 初始化生产者
	for _, topic := range kc.config.Topics {
		writer := &kafka.Writer{
			Addr:         kafka.TCP(kc.config.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequiredAcks(kc.config.ProducerConfig.RequiredAcks),
			Async:        kc.config.ProducerConfig.Async,
		}

		if kc.config.ProducerConfig.BatchSize > 0 {
			writer.BatchSize = kc.config.ProducerConfig.BatchSize
		}
		if kc.config.ProducerConfig.BatchTimeout > 0 {
			writer.BatchTimeout = kc.config.ProducerConfig.BatchTimeout
		}

		kc.writers[topic] = writer
	}

	// 初始化消费者
	for _, topic := range kc.config.Topics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        kc.config.Brokers,
			Topic:          topic,
			GroupID:        kc.config.GroupID,
			MinBytes:       kc.config.ConsumerConfig.MinBytes,
			MaxBytes:       kc.config.ConsumerConfig.MaxBytes,
			MaxWait:        kc.config.ConsumerConfig.MaxWait,
			CommitInterval: kc.config.ConsumerConfig.CommitInterval,
			StartOffset:    kc.config.ConsumerConfig.StartOffset,
		})

		kc.readers[topic] = reader
	}

	kc.isConnected = true
	kc.logger.Info("Kafka连接器已连接", "brokers", kc.config.Brokers)
	return nil
}

// Disconnect 断开Kafka连接
func (kc *KafkaConnector) Disconnect() error {
	kc.mutex.Lock()
	defer kc.mutex.Unlock()

	if !kc.isConnected {
		return nil
	}

	for topic, writer := range kc.writers {
		if err := writer.Close(); err != nil {
			kc.logger.Warn("关闭生产者失败", "topic", topic, "error", err)
		}
	}

	for topic, reader := range kc.readers {
		if err := reader.Close(); err != nil {
			kc.logger.Warn("关闭消费者失败", "topic", topic, "error", err)
		}
	}

	kc.cancel()
	kc.isConnected = false
	kc.logger.Info("Kafka连接器已断开连接")
	return nil
}

// ProduceMessage 发送消息，首次写入新topic时惰性创建生产者
func (kc *KafkaConnector) ProduceMessage(message *models.KafkaMessage) error {
	kc.mutex.RLock()
	connected := kc.isConnected
	writer, exists := kc.writers[message.Topic]
	kc.mutex.RUnlock()

	if !connected {
		return fmt.Errorf("Kafka连接器未连接")
	}

	if !exists {
		kc.mutex.Lock()
		writer, exists = kc.writers[message.Topic]
		if !exists {
			writer = &kafka.Writer{
				Addr:         kafka.TCP(kc.config.Brokers...),
				Topic:        message.Topic,
				Balancer:     &kafka.LeastBytes{},
				RequiredAcks: kafka.RequiredAcks(kc.config.ProducerConfig.RequiredAcks),
				Async:        kc.config.ProducerConfig.Async,
			}
			kc.writers[message.Topic] = writer
		}
		kc.mutex.Unlock()
	}

	valueBytes, err := kc.serializeValue(message.Value)
	if err != nil {
		return fmt.Errorf("序列化消息值失败: %v", err)
	}

	kafkaMsg := kafka.Message{
		Key:   []byte(message.Key),
		Value: valueBytes,
		Time:  message.Timestamp,
	}

	ctx, cancel := context.WithTimeout(kc.ctx, kc.config.ConnectionTimeout)
	defer cancel()

	if err := writer.WriteMessages(ctx, kafkaMsg); err != nil {
		return fmt.Errorf("发送消息失败: %v", err)
	}

	kc.logger.Debug("消息已发送", "topic", message.Topic, "key", message.Key)
	return nil
}

// ConsumeMessages 消费消息，阻塞直到连接器上下文取消
func (kc *KafkaConnector) ConsumeMessages(topic string, handler models.MessageHandler) error {
	kc.mutex.RLock()
	reader, exists := kc.readers[topic]
	kc.mutex.RUnlock()

	if !exists {
		return fmt.Errorf("找不到topic的消费者: %s", topic)
	}

	kc.logger.Info("开始消费topic", "topic", topic)

	for {
		select {
		case <-kc.ctx.Done():
			kc.logger.Info("停止消费topic", "topic", topic)
			return nil
		default:
			msg, err := reader.ReadMessage(kc.ctx)
			if err != nil {
				if err == context.Canceled {
					return nil
				}
				kc.logger.Warn("读取消息失败", "topic", topic, "error", err)
				time.Sleep(time.Second)
				continue
			}

			message := &models.KafkaMessage{
				Topic:     msg.Topic,
				Key:       string(msg.Key),
				Value:     msg.Value,
				Partition: msg.Partition,
				Offset:    msg.Offset,
				Timestamp: msg.Time,
			}

			if err := handler(message); err != nil {
				kc.logger.Warn("处理消息失败", "topic", topic, "offset", msg.Offset, "error", err)
				continue
			}
		}
	}
}

// serializeValue 序列化消息值
func (kc *KafkaConnector) serializeValue(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}

// IsConnected 检查连接状态
func (kc *KafkaConnector) IsConnected() bool {
	kc.mutex.RLock()
	defer kc.mutex.RUnlock()
	return kc.isConnected
}

// GetConnectedTopics 获取已连接的主题列表
func (kc *KafkaConnector) GetConnectedTopics() []string {
	kc.mutex.RLock()
	defer kc.mutex.RUnlock()

	topics := make([]string, 0, len(kc.writers))
	for topic := range kc.writers {
		topics = append(topics, topic)
	}
	return topics
}

// GetStatistics 获取连接器统计信息
func (kc *KafkaConnector) GetStatistics() map[string]interface{} {
	kc.mutex.RLock()
	defer kc.mutex.RUnlock()

	return map[string]interface{}{
		"connected":         kc.isConnected,
		"writer_count":      len(kc.writers),
		"reader_count":      len(kc.readers),
		"configured_topics": kc.config.Topics,
		"brokers":           kc.config.Brokers,
		"group_id":          kc.config.GroupID,
	}
}
