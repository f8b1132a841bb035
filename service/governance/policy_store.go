/*
 * @module service/governance/policy_store
 * @description 治理策略与质量报告的持久化存储，基于GORM实现策略增删查和报告归档
 * @architecture 分层架构 - 数据访问层
 * @stateFlow 策略保存/查询 -> 报告归档 -> 保留期清理
 * @rules 策略名唯一，重名保存走更新路径；报告归档只追加
 * @dependencies gorm.io/gorm
 * @refs service/models/quality_models.go, service/data_quality/quality_engine.go
 */

package governance

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"streamhub-service/service/models"

	"gorm.io/gorm"
)

// GormPolicyStore 基于GORM的治理策略存储
type GormPolicyStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewGormPolicyStore 创建治理策略存储
func NewGormPolicyStore(db *gorm.DB, logger *slog.Logger) *GormPolicyStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &GormPolicyStore{db: db, logger: logger}
}

// AutoMigrate 迁移治理相关表结构
func (s *GormPolicyStore) AutoMigrate() error {
	return s.db.AutoMigrate(
		&models.GovernancePolicy{},
		&models.QualityReportRecord{},
	)
}

// SavePolicy 保存治理策略，按名称冲突时更新已有记录
func (s *GormPolicyStore) SavePolicy(policy *models.GovernancePolicy) error {
	if policy == nil || policy.Name == "" {
		return models.NewValidationError("治理策略缺少名称", "name")
	}

	var existing models.GovernancePolicy
	err := s.db.Where("name = ?", policy.Name).First(&existing).Error
	switch {
	case err == nil:
		policy.ID = existing.ID
		policy.CreatedAt = existing.CreatedAt
		policy.UpdatedAt = time.Now()
		return s.db.Save(policy).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		return s.db.Create(policy).Error
	default:
		return fmt.Errorf("查询治理策略失败: %v", err)
	}
}

// GetPolicy 按ID获取治理策略
func (s *GormPolicyStore) GetPolicy(id string) (*models.GovernancePolicy, error) {
	var policy models.GovernancePolicy
	if err := s.db.First(&policy, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &policy, nil
}

// ListPolicies 列出全部治理策略，按创建时间排序
func (s *GormPolicyStore) ListPolicies() ([]models.GovernancePolicy, error) {
	var policies []models.GovernancePolicy
	if err := s.db.Order("created_at ASC").Find(&policies).Error; err != nil {
		return nil, fmt.Errorf("查询治理策略列表失败: %v", err)
	}
	return policies, nil
}

// DeletePolicy 按ID删除治理策略
func (s *GormPolicyStore) DeletePolicy(id string) error {
	result := s.db.Delete(&models.GovernancePolicy{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ArchiveReport 归档一份质量报告
func (s *GormPolicyStore) ArchiveReport(report *models.QualityReport) error {
	if report == nil {
		return models.NewValidationError("质量报告不能为空", "report")
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("序列化质量报告失败: %v", err)
	}
	var body models.JSONB
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("构造报告归档体失败: %v", err)
	}

	record := &models.QualityReportRecord{
		PipelineID:   report.PipelineID,
		OverallScore: report.OverallScore,
		Status:       report.OverallStatus,
		TotalRecords: report.TotalRecords,
		RulesPassed:  report.RulesPassed,
		RulesFailed:  report.RulesFailed,
		Report:       body,
	}

	if err := s.db.Create(record).Error; err != nil {
		return fmt.Errorf("归档质量报告失败: %v", err)
	}

	s.logger.Debug("质量报告已归档", "pipeline_id", report.PipelineID, "record_id", record.ID)
	return nil
}

// ListReports 按管道查询归档报告，时间倒序
func (s *GormPolicyStore) ListReports(pipelineID string, limit int) ([]models.QualityReportRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := s.db.Order("created_at DESC").Limit(limit)
	if pipelineID != "" {
		query = query.Where("pipeline_id = ?", pipelineID)
	}

	var records []models.QualityReportRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("查询报告归档失败: %v", err)
	}
	return records, nil
}

// PurgeExpiredReports 按策略保留期清理过期归档，返回删除数量
func (s *GormPolicyStore) PurgeExpiredReports(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	result := s.db.Where("created_at < ?", cutoff).Delete(&models.QualityReportRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("清理过期报告失败: %v", result.Error)
	}

	if result.RowsAffected > 0 {
		s.logger.Info("过期质量报告已清理", "count", result.RowsAffected, "cutoff", cutoff)
	}
	return result.RowsAffected, nil
}
