/*
 * @module service/data_quality/default_rules
 * @description 内置质量规则集，覆盖完整性、准确性、一致性、有效性和唯一性五个维度
 * @architecture 分层架构 - 数据质量服务层
 * @stateFlow 引擎构造时注册 -> 批量/实时校验时执行
 * @rules 内置规则都是单记录谓词，不依赖批次上下文
 * @dependencies github.com/spf13/cast, regexp
 * @refs quality_engine.go
 */

package data_quality

import (
	"regexp"
	"time"

	"streamhub-service/service/models"

	"github.com/spf13/cast"
)

var emailPattern = regexp.MustCompile(`^[\w.+-]+@[\w-]+(\.[\w-]+)+$`)

// 一致性检查允许的时钟偏移
const clockSkewTolerance = 5 * time.Minute

// DefaultRules 返回引擎启动时注册的内置规则，顺序固定
func DefaultRules() []*models.QualityRule {
	return []*models.QualityRule{
		{
			ID:          "completeness_required_fields",
			Name:        "必填字段完整性",
			Description: "记录必须包含非空的 id、timestamp 和 value 字段",
			Category:    models.CategoryCompleteness,
			Severity:    models.SeverityCritical,
			Threshold:   0.95,
			IsEnabled:   true,
			Predicate:   checkRequiredFields,
		},
		{
			ID:          "accuracy_value_range",
			Name:        "数值范围准确性",
			Description: "value 字段必须为非负数值",
			Category:    models.CategoryAccuracy,
			Severity:    models.SeverityHigh,
			Threshold:   0.90,
			IsEnabled:   true,
			Predicate:   checkValueRange,
		},
		{
			ID:          "consistency_timestamp",
			Name:        "时间戳一致性",
			Description: "timestamp 不能晚于当前时间（容忍5分钟时钟偏移）",
			Category:    models.CategoryConsistency,
			Severity:    models.SeverityMedium,
			Threshold:   0.90,
			IsEnabled:   true,
			Predicate:   checkTimestampConsistency,
		},
		{
			ID:          "validity_email_format",
			Name:        "邮箱格式有效性",
			Description: "email 字段存在时必须是合法的邮箱地址",
			Category:    models.CategoryValidity,
			Severity:    models.SeverityHigh,
			Threshold:   0.85,
			IsEnabled:   true,
			Predicate:   checkEmailFormat,
		},
		{
			ID:          "uniqueness_identifier",
			Name:        "标识字段唯一性基础",
			Description: "记录必须携带非空的去重标识 id",
			Category:    models.CategoryUniqueness,
			Severity:    models.SeverityCritical,
			Threshold:   0.99,
			IsEnabled:   true,
			Predicate:   checkIdentifierPresent,
		},
	}
}

// checkRequiredFields 必填字段非空
func checkRequiredFields(record map[string]interface{}) bool {
	for _, field := range []string{"id", "timestamp", "value"} {
		value, exists := record[field]
		if !exists || value == nil {
			return false
		}
		if s, ok := value.(string); ok && s == "" {
			return false
		}
	}
	return true
}

// checkValueRange value为非负数值；字段缺失或非数值按不通过处理
func checkValueRange(record map[string]interface{}) bool {
	raw, exists := record["value"]
	if !exists || raw == nil {
		return false
	}
	value, err := cast.ToFloat64E(raw)
	if err != nil {
		return false
	}
	return value >= 0
}

// checkTimestampConsistency 时间戳不在未来；缺失由完整性规则负责，这里放行
func checkTimestampConsistency(record map[string]interface{}) bool {
	raw, exists := record["timestamp"]
	if !exists || raw == nil {
		return true
	}
	ts, err := cast.ToTimeE(raw)
	if err != nil {
		return false
	}
	return !ts.After(time.Now().Add(clockSkewTolerance))
}

// checkEmailFormat email字段可选，存在时必须合法
func checkEmailFormat(record map[string]interface{}) bool {
	raw, exists := record["email"]
	if !exists || raw == nil {
		return true
	}
	email, err := cast.ToStringE(raw)
	if err != nil {
		return false
	}
	return emailPattern.MatchString(email)
}

// checkIdentifierPresent 去重标识存在且非空
func checkIdentifierPresent(record map[string]interface{}) bool {
	raw, exists := record["id"]
	if !exists || raw == nil {
		return false
	}
	id := cast.ToString(raw)
	return id != ""
}
