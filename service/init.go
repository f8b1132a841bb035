/*
 * @module service/init
 * @description 服务初始化模块，负责数据库连接、外部连接器装配和核心组件的全局构建
 * @architecture 分层架构 - 服务层
 * @stateFlow 应用启动时执行初始化流程
 * @rules 数据库与broker均为可选基础设施，连接失败时降级运行；缓存为流聚合器的必需依赖
 * @dependencies gorm.io/gorm, gorm.io/driver/postgres, client/connectors
 * @refs main.go, service/streaming, service/data_quality
 */

package service

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"log/slog"

	"streamhub-service/client/connectors"
	"streamhub-service/logger"
	"streamhub-service/service/data_quality"
	"streamhub-service/service/governance"
	"streamhub-service/service/metrics"
	"streamhub-service/service/models"
	"streamhub-service/service/streaming"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	DB                      *gorm.DB
	GlobalMetricsSink       metrics.Sink
	GlobalNotifier          *streaming.SSENotifier
	GlobalPolicyStore       *governance.GormPolicyStore
	GlobalQualityEngine     *data_quality.QualityEngine
	GlobalStreamAggregator  *streaming.StreamAggregator
	GlobalMetricsJob        *streaming.MetricsJob
	GlobalScriptTransformer *streaming.ScriptTransformer
	GlobalMQTTIngress       *streaming.MQTTIngress
)

func init() {
	logger.InitLogger()
	initDatabase()
	initComponents()
}

// initDatabase 初始化数据库连接并迁移治理相关表
// 数据库为可选持久化层，不可达时策略与报告只保留在内存
func initDatabase() {
	var dsn string

	// 优先使用DATABASE_URL环境变量
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		dsn = databaseURL
	} else {
		host := getEnvWithDefault("DB_HOST", "localhost")
		port := getEnvWithDefault("DB_PORT", "5432")
		user := getEnvWithDefault("DB_USER", "postgres")
		password := getEnvWithDefault("DB_PASSWORD", "postgres")
		dbname := getEnvWithDefault("DB_NAME", "postgres")
		sslmode := getEnvWithDefault("DB_SSLMODE", "disable")
		schema := getEnvWithDefault("DB_SCHEMA", "public")

		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s search_path=%s TimeZone=Asia/Shanghai",
			host, port, user, password, dbname, sslmode, schema)
	}

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Printf("数据库连接失败，策略与报告持久化不可用: %v", err)
		DB = nil
		return
	}

	log.Println("数据库连接成功")
}

// getEnvWithDefault 获取环境变量，如果不存在则返回默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// initComponents 构建核心组件并完成装配
func initComponents() {
	logger := slog.Default()

	GlobalMetricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
	GlobalNotifier = streaming.NewSSENotifier(logger)
	GlobalScriptTransformer = streaming.NewScriptTransformer()

	// 质量引擎，数据库可用时挂载治理持久化
	engineOpts := []data_quality.EngineOption{}
	if timeout := ruleTimeoutFromEnv(); timeout > 0 {
		engineOpts = append(engineOpts, data_quality.WithRuleTimeout(timeout))
	}
	if DB != nil {
		GlobalPolicyStore = governance.NewGormPolicyStore(DB, logger)
		if err := GlobalPolicyStore.AutoMigrate(); err != nil {
			log.Printf("治理表迁移失败: %v", err)
		}
		engineOpts = append(engineOpts, data_quality.WithPolicyStore(GlobalPolicyStore))
	}
	GlobalQualityEngine = data_quality.NewQualityEngine(GlobalMetricsSink, logger, engineOpts...)

	// 流聚合器及其外部依赖
	GlobalStreamAggregator = streaming.NewStreamAggregator(
		buildKafkaConnector(logger),
		buildRedisConnector(logger),
		GlobalNotifier,
		GlobalMetricsSink,
		logger,
		aggregatorOptionsFromEnv()...,
	)

	ctx := context.Background()
	if err := GlobalStreamAggregator.Initialize(ctx); err != nil {
		log.Fatalf("流聚合器初始化失败: %v", err)
	}

	// 指标定时任务
	GlobalMetricsJob = streaming.NewMetricsJob(GlobalStreamAggregator, GlobalNotifier, GlobalMetricsSink, logger)
	if err := GlobalMetricsJob.Start(); err != nil {
		log.Printf("启动流指标定时任务失败: %v", err)
	}

	// MQTT设备摄取，未配置broker时跳过
	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		mqttConfig := &models.MQTTConfig{
			Broker:               broker,
			ClientID:             getEnvWithDefault("MQTT_CLIENT_ID", "streamhub-service"),
			Username:             os.Getenv("MQTT_USERNAME"),
			Password:             os.Getenv("MQTT_PASSWORD"),
			CleanSession:         true,
			KeepAlive:            30 * time.Second,
			AutoReconnect:        true,
			MaxReconnectInterval: time.Minute,
		}
		topics := strings.Split(getEnvWithDefault("MQTT_TOPICS", "devices/+/events"), ",")
		GlobalMQTTIngress = streaming.NewMQTTIngress(
			connectors.NewMQTTConnector(mqttConfig, logger),
			GlobalStreamAggregator,
			topics, 1, logger,
		)
		GlobalMQTTIngress.Start(ctx)
	}

	log.Println("服务初始化完成")
}

// Shutdown 停止后台任务并释放外部连接
func Shutdown(ctx context.Context) {
	if GlobalMetricsJob != nil {
		GlobalMetricsJob.Stop()
	}
	if GlobalMQTTIngress != nil {
		GlobalMQTTIngress.Stop()
	}
	if GlobalStreamAggregator != nil && GlobalStreamAggregator.IsReady() {
		if err := GlobalStreamAggregator.Shutdown(ctx); err != nil {
			log.Printf("流聚合器关闭失败: %v", err)
		}
	}
}

// buildKafkaConnector 按环境变量构建Kafka连接器，未配置broker时返回nil
func buildKafkaConnector(logger *slog.Logger) streaming.BrokerClient {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		return nil
	}

	config := &models.KafkaConfig{
		Brokers: strings.Split(brokers, ","),
		GroupID: getEnvWithDefault("KAFKA_GROUP_ID", "streamhub-analytics"),
		Topics:  streaming.ConsumerTopics(),
		ProducerConfig: &models.ProducerConfig{
			RequiredAcks: 1,
			BatchTimeout: 10 * time.Millisecond,
		},
		ConsumerConfig: &models.ConsumerConfig{
			MinBytes:       1,
			MaxBytes:       10e6,
			MaxWait:        time.Second,
			CommitInterval: time.Second,
		},
		ConnectionTimeout: 10 * time.Second,
	}
	return connectors.NewKafkaConnector(config, logger)
}

// buildRedisConnector 按环境变量构建Redis连接器
func buildRedisConnector(logger *slog.Logger) streaming.CacheClient {
	config := &models.RedisConfig{
		Address:      getEnvWithDefault("REDIS_ADDR", "localhost:6379"),
		Password:     os.Getenv("REDIS_PASSWORD"),
		Database:     0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	return connectors.NewRedisConnector(config, logger)
}

// aggregatorOptionsFromEnv 读取聚合器可选配置
func aggregatorOptionsFromEnv() []streaming.AggregatorOption {
	var opts []streaming.AggregatorOption
	if os.Getenv("CORRECTED_WINDOW_SEMANTICS") == "true" {
		opts = append(opts, streaming.WithCorrectedWindowSemantics())
	}
	if timeout := durationFromEnv("PROCESSOR_TIMEOUT_MS"); timeout > 0 {
		opts = append(opts, streaming.WithProcessorTimeout(timeout))
	}
	return opts
}

// ruleTimeoutFromEnv 读取单次规则谓词调用的超时配置
func ruleTimeoutFromEnv() time.Duration {
	return durationFromEnv("RULE_TIMEOUT_MS")
}

func durationFromEnv(key string) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return 0
	}
	var ms int64
	if _, err := fmt.Sscanf(val, "%d", &ms); err != nil || ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
