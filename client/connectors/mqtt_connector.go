/*
 * @module MQTTConnector
 * @description MQTT连接器，封装MQTT客户端，作为设备侧事件的可选接入通道
 * @architecture 适配器模式 - 封装第三方MQTT客户端，提供统一的接口
 * @stateFlow 连接建立 -> 主题订阅 -> 消息处理 -> 连接断开
 * @rules 设备载荷可能为GBK编码，分发前统一归一化为UTF-8
 * @dependencies github.com/eclipse/paho.mqtt.golang, golang.org/x/text
 * @refs service/models/connector_models.go, service/streaming/ingress.go
 */
package connectors

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"streamhub-service/service/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// MQTTConnector MQTT连接器结构体
type MQTTConnector struct {
	config      *models.MQTTConfig
	client      mqtt.Client
	logger      *slog.Logger
	subscribers map[string]models.MQTTMessageHandler // 主题订阅处理器映射
	mutex       sync.RWMutex
	isConnected bool
	stats       *MQTTStats
}

// MQTTStats MQTT连接器统计信息
type MQTTStats struct {
	ConnectedAt      time.Time `json:"connected_at"`
	MessagesReceived int64     `json:"messages_received"`
	BytesReceived    int64     `json:"bytes_received"`
	ReconnectCount   int       `json:"reconnect_count"`
	LastError        string    `json:"last_error"`
	mutex            sync.Mutex
}

// NewMQTTConnector 创建新的MQTT连接器
func NewMQTTConnector(config *models.MQTTConfig, logger *slog.Logger) *MQTTConnector {
	connector := &MQTTConnector{
		config:      config,
		logger:      logger,
		subscribers: make(map[string]models.MQTTMessageHandler),
		isConnected: false,
		stats:       &MQTTStats{},
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)

	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}

	opts.SetCleanSession(config.CleanSession)
	opts.SetKeepAlive(config.KeepAlive)
	opts.SetAutoReconnect(config.AutoReconnect)
	if config.MaxReconnectInterval > 0 {
		opts.SetMaxReconnectInterval(config.MaxReconnectInterval)
	}

	opts.SetOnConnectHandler(connector.onConnected)
	opts.SetConnectionLostHandler(connector.onConnectionLost)

	connector.client = mqtt.NewClient(opts)
	return connector
}

// Connect 建立MQTT连接
func (mc *MQTTConnector) Connect() error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if mc.isConnected {
		return nil
	}

	if token := mc.client.Connect(); token.Wait() && token.Error() != nil {
		mc.updateError(fmt.Sprintf("MQTT连接失败: %v", token.Error()))
		return fmt.Errorf("MQTT连接失败: %v", token.Error())
	}

	mc.isConnected = true
	mc.stats.ConnectedAt = time.Now()
	mc.logger.Info("MQTT连接器已连接", "broker", mc.config.Broker)
	return nil
}

// Disconnect 断开MQTT连接
func (mc *MQTTConnector) Disconnect() error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if !mc.isConnected {
		return nil
	}

	for topic := range mc.subscribers {
		if token := mc.client.Unsubscribe(topic); token.Wait() && token.Error() != nil {
			mc.logger.Warn("取消订阅失败", "topic", topic, "error", token.Error())
		}
	}

	// 等待250ms让在途消息发送完成
	mc.client.Disconnect(250)

	mc.isConnected = false
	mc.subscribers = make(map[string]models.MQTTMessageHandler)
	mc.logger.Info("MQTT连接器已断开连接")
	return nil
}

// Subscribe 订阅主题
func (mc *MQTTConnector) Subscribe(topic string, qos byte, handler models.MQTTMessageHandler) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if !mc.isConnected {
		return fmt.Errorf("MQTT客户端未连接")
	}

	mc.subscribers[topic] = handler

	token := mc.client.Subscribe(topic, qos, mc.messageHandler)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("订阅主题失败 topic=%s: %v", topic, token.Error())
	}

	mc.logger.Info("已订阅主题", "topic", topic, "qos", qos)
	return nil
}

// messageHandler 消息处理器
func (mc *MQTTConnector) messageHandler(client mqtt.Client, msg mqtt.Message) {
	mc.stats.mutex.Lock()
	mc.stats.MessagesReceived++
	mc.stats.BytesReceived += int64(len(msg.Payload()))
	mc.stats.mutex.Unlock()

	message := &models.MQTTMessage{
		Topic:     msg.Topic(),
		Payload:   normalizePayload(msg.Payload()),
		QoS:       msg.Qos(),
		Retained:  msg.Retained(),
		MessageID: msg.MessageID(),
		Timestamp: time.Now(),
	}

	mc.mutex.RLock()
	handler, exists := mc.subscribers[msg.Topic()]
	mc.mutex.RUnlock()

	if exists && handler != nil {
		if err := handler(message); err != nil {
			mc.logger.Warn("处理消息失败", "topic", msg.Topic(), "error", err)
		}
	} else {
		mc.logger.Debug("接收到消息但无处理器", "topic", msg.Topic())
	}
}

// normalizePayload 将非UTF-8（按GBK处理）的设备载荷归一化为UTF-8
func normalizePayload(payload []byte) []byte {
	if utf8.Valid(payload) {
		return payload
	}

	decoder := simplifiedchinese.GBK.NewDecoder()
	result, _, err := transform.Bytes(decoder, payload)
	if err != nil {
		return payload
	}
	return result
}

// onConnected 连接建立处理器
func (mc *MQTTConnector) onConnected(client mqtt.Client) {
	mc.mutex.Lock()
	mc.isConnected = true
	mc.stats.ConnectedAt = time.Now()
	topics := make([]string, 0, len(mc.subscribers))
	for topic := range mc.subscribers {
		topics = append(topics, topic)
	}
	mc.mutex.Unlock()

	// 重连后恢复订阅
	for _, topic := range topics {
		token := mc.client.Subscribe(topic, mc.config.QoS[topic], mc.messageHandler)
		if token.Wait() && token.Error() != nil {
			mc.logger.Warn("重新订阅主题失败", "topic", topic, "error", token.Error())
		}
	}
}

// onConnectionLost 连接丢失处理器
func (mc *MQTTConnector) onConnectionLost(client mqtt.Client, err error) {
	mc.mutex.Lock()
	mc.isConnected = false
	mc.mutex.Unlock()

	mc.stats.mutex.Lock()
	mc.stats.ReconnectCount++
	mc.stats.mutex.Unlock()

	mc.updateError(fmt.Sprintf("MQTT连接丢失: %v", err))
	mc.logger.Warn("MQTT连接丢失", "error", err)
}

// updateError 更新错误信息
func (mc *MQTTConnector) updateError(errMsg string) {
	mc.stats.mutex.Lock()
	mc.stats.LastError = errMsg
	mc.stats.mutex.Unlock()
}

// IsConnected 检查连接状态
func (mc *MQTTConnector) IsConnected() bool {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	return mc.isConnected
}

// GetStatistics 获取连接器统计信息
func (mc *MQTTConnector) GetStatistics() map[string]interface{} {
	mc.stats.mutex.Lock()
	defer mc.stats.mutex.Unlock()

	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	return map[string]interface{}{
		"connected":         mc.isConnected,
		"broker":            mc.config.Broker,
		"client_id":         mc.config.ClientID,
		"connected_at":      mc.stats.ConnectedAt,
		"messages_received": mc.stats.MessagesReceived,
		"bytes_received":    mc.stats.BytesReceived,
		"reconnect_count":   mc.stats.ReconnectCount,
		"subscribed_topics": len(mc.subscribers),
		"last_error":        mc.stats.LastError,
	}
}
