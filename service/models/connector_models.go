/*
 * @module service/models/connector_models
 * @description 客户端连接器相关模型定义，包含Kafka、Redis、MQTT连接器的配置和消息结构
 * @architecture 分层架构 - 数据模型层
 * @stateFlow 模型定义 -> 连接器配置 -> 消息处理
 * @dependencies time
 * @refs client/connectors
 */

package models

import (
	"time"
)

// Kafka相关模型

// KafkaConfig Kafka配置信息
type KafkaConfig struct {
	Brokers           []string        `json:"brokers"`            // Kafka broker地址列表
	GroupID           string          `json:"group_id"`           // 消费者组ID
	Topics            []string        `json:"topics"`             // 生产与订阅的主题列表
	ProducerConfig    *ProducerConfig `json:"producer_config"`    // 生产者配置
	ConsumerConfig    *ConsumerConfig `json:"consumer_config"`    // 消费者配置
	ConnectionTimeout time.Duration   `json:"connection_timeout"` // 连接超时时间
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	BatchSize    int           `json:"batch_size"`    // 批量大小
	BatchTimeout time.Duration `json:"batch_timeout"` // 批量超时时间
	RequiredAcks int           `json:"required_acks"` // 确认模式
	Async        bool          `json:"async"`         // 是否异步发送
}

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	MinBytes       int           `json:"min_bytes"`       // 最小字节数
	MaxBytes       int           `json:"max_bytes"`       // 最大字节数
	MaxWait        time.Duration `json:"max_wait"`        // 最大等待时间
	CommitInterval time.Duration `json:"commit_interval"` // 提交间隔
	StartOffset    int64         `json:"start_offset"`    // 起始偏移量
}

// KafkaMessage Kafka消息结构体
type KafkaMessage struct {
	Topic     string      `json:"topic"`     // 主题
	Key       string      `json:"key"`       // 消息键
	Value     interface{} `json:"value"`     // 消息值，JSON序列化后发送
	Partition int         `json:"partition"` // 分区
	Offset    int64       `json:"offset"`    // 偏移量
	Timestamp time.Time   `json:"timestamp"` // 时间戳
}

// MessageHandler 消息处理函数类型
type MessageHandler func(*KafkaMessage) error

// Redis相关模型

// RedisConfig Redis配置信息
type RedisConfig struct {
	Address      string        `json:"address"`        // Redis地址
	Password     string        `json:"password"`       // 密码
	Database     int           `json:"database"`       // 数据库号
	PoolSize     int           `json:"pool_size"`      // 连接池大小
	MinIdleConns int           `json:"min_idle_conns"` // 最小空闲连接
	DialTimeout  time.Duration `json:"dial_timeout"`   // 拨号超时
	ReadTimeout  time.Duration `json:"read_timeout"`   // 读取超时
	WriteTimeout time.Duration `json:"write_timeout"`  // 写入超时
}

// MQTT相关模型

// MQTTConfig MQTT配置信息
type MQTTConfig struct {
	Broker               string          `json:"broker"`                 // MQTT broker地址
	ClientID             string          `json:"client_id"`              // 客户端ID
	Username             string          `json:"username"`               // 用户名
	Password             string          `json:"password"`               // 密码
	CleanSession         bool            `json:"clean_session"`          // 清理会话
	KeepAlive            time.Duration   `json:"keep_alive"`             // 保持连接时间
	Topics               []string        `json:"topics"`                 // 订阅主题列表
	QoS                  map[string]byte `json:"qos"`                    // 主题对应的QoS级别
	AutoReconnect        bool            `json:"auto_reconnect"`         // 自动重连
	MaxReconnectInterval time.Duration   `json:"max_reconnect_interval"` // 最大重连间隔
}

// MQTTMessage MQTT消息结构体
type MQTTMessage struct {
	Topic     string    `json:"topic"`      // 主题
	Payload   []byte    `json:"payload"`    // 消息载荷
	QoS       byte      `json:"qos"`        // 服务质量
	Retained  bool      `json:"retained"`   // 是否保留
	MessageID uint16    `json:"message_id"` // 消息ID
	Timestamp time.Time `json:"timestamp"`  // 时间戳
}

// MQTTMessageHandler MQTT消息处理函数类型
type MQTTMessageHandler func(*MQTTMessage) error
