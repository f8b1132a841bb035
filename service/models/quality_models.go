/*
 * @module service/models/quality_models
 * @description 数据质量相关模型定义，包括质量规则、规则结果、质量报告和治理策略
 * @architecture 分层架构 - 数据模型层
 * @dependencies time, github.com/lib/pq, gorm.io/gorm, github.com/google/uuid
 * @refs service/data_quality, service/governance
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// 质量维度类别，闭集
const (
	CategoryCompleteness = "completeness"
	CategoryAccuracy     = "accuracy"
	CategoryConsistency  = "consistency"
	CategoryValidity     = "validity"
	CategoryUniqueness   = "uniqueness"
	CategoryTimeliness   = "timeliness"
)

// RuleCategories 全部质量维度，按固定顺序
var RuleCategories = []string{
	CategoryCompleteness,
	CategoryAccuracy,
	CategoryConsistency,
	CategoryValidity,
	CategoryUniqueness,
	CategoryTimeliness,
}

// IsValidCategory 判断类别是否属于闭集
func IsValidCategory(category string) bool {
	for _, c := range RuleCategories {
		if c == category {
			return true
		}
	}
	return false
}

// 规则严重级别
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// SeverityWeight 返回严重级别对应的总分权重，未知级别按medium处理
func SeverityWeight(severity string) float64 {
	switch severity {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 2
	}
}

// RulePredicate 规则谓词，对单条记录返回是否通过
type RulePredicate func(record map[string]interface{}) bool

// QualityRule 质量规则，命名谓词加元数据
// Threshold 取值 [0,1]；注册后除 IsEnabled 外不再修改
type QualityRule struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Category    string        `json:"category"` // 六个质量维度之一
	Severity    string        `json:"severity"` // low, medium, high, critical
	Threshold   float64       `json:"threshold"`
	IsEnabled   bool          `json:"is_enabled"`
	Predicate   RulePredicate `json:"-"`
}

// Validate 校验规则定义
func (r *QualityRule) Validate() error {
	missing := make([]string, 0, 3)
	if r.ID == "" {
		missing = append(missing, "id")
	}
	if r.Name == "" {
		missing = append(missing, "name")
	}
	if r.Predicate == nil {
		missing = append(missing, "predicate")
	}
	if len(missing) > 0 {
		return NewValidationError("质量规则缺少必填字段", missing...)
	}
	if !IsValidCategory(r.Category) {
		return NewValidationError("质量规则类别不合法: "+r.Category, "category")
	}
	if r.Threshold < 0 || r.Threshold > 1 {
		return NewValidationError("质量规则阈值必须在[0,1]之间", "threshold")
	}
	return nil
}

// 规则结果状态
const (
	RuleStatusPassed  = "passed"
	RuleStatusWarning = "warning"
	RuleStatusFailed  = "failed"
)

// MaxFailingDetails 单条规则保留的失败记录明细上限
const MaxFailingDetails = 100

// FailingRecordDetail 失败记录明细
type FailingRecordDetail struct {
	RecordIndex int                    `json:"record_index"`
	Record      map[string]interface{} `json:"record"`
	Reason      string                 `json:"reason"`
}

// RuleResult 一条规则对一个批次的评估结果
// Score = (总数 - 失败数) / 总数；总数为0时记为1
type RuleResult struct {
	RuleID       string                `json:"rule_id"`
	RuleName     string                `json:"rule_name"`
	Category     string                `json:"category"`
	Severity     string                `json:"severity"`
	Status       string                `json:"status"` // passed, warning, failed
	Score        float64               `json:"score"`
	FailedCount  int                   `json:"failed_count"`
	TotalCount   int                   `json:"total_count"`
	FailedSample []FailingRecordDetail `json:"failed_sample,omitempty"` // 最多100条
	Timestamp    time.Time             `json:"timestamp"`
}

// 报告总体状态
const (
	QualityStatusExcellent = "excellent"
	QualityStatusGood      = "good"
	QualityStatusFair      = "fair"
	QualityStatusPoor      = "poor"
)

// OverallStatus 根据总分推导报告状态
func OverallStatus(score float64) string {
	switch {
	case score >= 0.95:
		return QualityStatusExcellent
	case score >= 0.85:
		return QualityStatusGood
	case score >= 0.70:
		return QualityStatusFair
	default:
		return QualityStatusPoor
	}
}

// QualityReport 一次批量校验的聚合报告
type QualityReport struct {
	PipelineID      string             `json:"pipeline_id"`
	OverallScore    float64            `json:"overall_score"`  // 严重级别加权平均
	OverallStatus   string             `json:"overall_status"` // excellent, good, fair, poor
	TotalRecords    int                `json:"total_records"`
	RulesPassed     int                `json:"rules_passed"`
	RulesFailed     int                `json:"rules_failed"`
	RuleResults     []RuleResult       `json:"rule_results"`
	Dimensions      map[string]float64 `json:"dimensions"` // 六个维度的平均分，无规则的维度为0
	Recommendations []string           `json:"recommendations"`
	Timestamp       time.Time          `json:"timestamp"`
}

// GovernancePolicy 数据治理策略，声明式元数据，仅存储与检索
type GovernancePolicy struct {
	ID              string         `gorm:"type:uuid;primary_key" json:"id"`
	Name            string         `gorm:"not null;unique" json:"name"`
	Description     string         `json:"description"`
	Owner           string         `gorm:"not null" json:"owner"`
	Approver        string         `json:"approver"`
	ComplianceTag   string         `json:"compliance_tag"` // HIPAA, GDPR 等
	RetentionDays   int            `json:"retention_days"`
	AccessLevel     string         `gorm:"not null;default:'internal'" json:"access_level"`
	AssociatedRules pq.StringArray `gorm:"type:text[]" json:"associated_rules"`
	LastReviewedAt  *time.Time     `json:"last_reviewed_at"`
	NextReviewAt    *time.Time     `json:"next_review_at"`
	CreatedAt       time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// BeforeCreate 创建前钩子
func (p *GovernancePolicy) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// QualityReportRecord 质量报告归档记录
type QualityReportRecord struct {
	ID           string    `gorm:"type:uuid;primary_key" json:"id"`
	PipelineID   string    `gorm:"not null;index" json:"pipeline_id"`
	OverallScore float64   `gorm:"not null" json:"overall_score"`
	Status       string    `gorm:"not null" json:"status"`
	TotalRecords int       `json:"total_records"`
	RulesPassed  int       `json:"rules_passed"`
	RulesFailed  int       `json:"rules_failed"`
	Report       JSONB     `gorm:"type:jsonb" json:"report"`
	CreatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// BeforeCreate 创建前钩子
func (r *QualityReportRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}
