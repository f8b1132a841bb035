/*
 * @module service/data_quality/quality_engine
 * @description 数据质量引擎，提供质量规则管理、批量校验评分、实时单条校验和治理策略登记
 * @architecture 分层架构 - 数据质量服务层
 * @stateFlow 规则注册 -> 批量/实时校验 -> 评分计算 -> 报告生成 -> 指标上报
 * @rules 批量校验中单条规则的异常被隔离为失败结果；模式校验失败是唯一整体中止的情况
 * @dependencies streamhub-service/service/models, streamhub-service/service/metrics
 * @refs service/streaming, service/governance
 */

package data_quality

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"streamhub-service/service/metrics"
	"streamhub-service/service/models"
)

// SchemaValidator 外部模式校验器，对单条记录返回校验错误
type SchemaValidator interface {
	ValidateRecord(record map[string]interface{}) error
}

// PolicyStore 治理策略与报告的持久化存储，可选挂载
type PolicyStore interface {
	SavePolicy(policy *models.GovernancePolicy) error
	ListPolicies() ([]models.GovernancePolicy, error)
	ArchiveReport(report *models.QualityReport) error
}

// 模式校验失败明细的保留上限
const maxSchemaFailures = 10

// categoryRecommendations 每个质量维度一条固定的改进建议
var categoryRecommendations = map[string]string{
	models.CategoryCompleteness: "存在缺失字段的记录，建议补齐必填字段后重新接入",
	models.CategoryAccuracy:     "存在取值超出合理范围的记录，建议核对数据源的采集逻辑",
	models.CategoryConsistency:  "存在前后矛盾的记录，建议检查上游系统的时钟与状态同步",
	models.CategoryValidity:     "存在格式非法的记录，建议在接入端增加格式预校验",
	models.CategoryUniqueness:   "存在重复或缺失标识的记录，建议检查主键生成策略",
	models.CategoryTimeliness:   "存在过期数据，建议缩短采集与上报的间隔",
}

// QualityEngine 数据质量引擎
// 规则与策略注册表常驻内存，遍历顺序为注册顺序；并发写遵循后写覆盖，不提供事务保证
type QualityEngine struct {
	mu          sync.RWMutex
	rules       map[string]*models.QualityRule
	ruleOrder   []string
	policies    map[string]*models.GovernancePolicy
	policyOrder []string
	store       PolicyStore
	metrics     metrics.Sink
	logger      *slog.Logger
	ruleTimeout time.Duration // 单次谓词调用的超时，0表示不限制
}

// EngineOption 引擎配置项
type EngineOption func(*QualityEngine)

// WithRuleTimeout 设置单次规则谓词调用的超时
func WithRuleTimeout(timeout time.Duration) EngineOption {
	return func(e *QualityEngine) {
		e.ruleTimeout = timeout
	}
}

// WithPolicyStore 挂载治理策略持久化存储
func WithPolicyStore(store PolicyStore) EngineOption {
	return func(e *QualityEngine) {
		e.store = store
	}
}

// NewQualityEngine 创建数据质量引擎实例，并注册默认规则
func NewQualityEngine(sink metrics.Sink, logger *slog.Logger, opts ...EngineOption) *QualityEngine {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	engine := &QualityEngine{
		rules:    make(map[string]*models.QualityRule),
		policies: make(map[string]*models.GovernancePolicy),
		metrics:  sink,
		logger:   logger,
	}

	for _, opt := range opts {
		opt(engine)
	}

	for _, rule := range DefaultRules() {
		if err := engine.AddRule(rule); err != nil {
			logger.Error("注册默认规则失败", "rule_id", rule.ID, "error", err)
		}
	}

	return engine
}

// AddRule 注册质量规则
func (e *QualityEngine) AddRule(rule *models.QualityRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.rules[rule.ID]; !exists {
		e.ruleOrder = append(e.ruleOrder, rule.ID)
	}
	e.rules[rule.ID] = rule

	e.logger.Info("质量规则已注册", "rule_id", rule.ID, "category", rule.Category, "severity", rule.Severity)
	return nil
}

// RemoveRule 按ID移除质量规则
func (e *QualityEngine) RemoveRule(ruleID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.rules[ruleID]; !exists {
		return fmt.Errorf("质量规则不存在: %s", ruleID)
	}

	delete(e.rules, ruleID)
	for i, id := range e.ruleOrder {
		if id == ruleID {
			e.ruleOrder = append(e.ruleOrder[:i], e.ruleOrder[i+1:]...)
			break
		}
	}

	e.logger.Info("质量规则已移除", "rule_id", ruleID)
	return nil
}

// GetRules 按注册顺序返回全部规则
func (e *QualityEngine) GetRules() []*models.QualityRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*models.QualityRule, 0, len(e.ruleOrder))
	for _, id := range e.ruleOrder {
		rules = append(rules, e.rules[id])
	}
	return rules
}

// enabledRules 按注册顺序返回启用的规则
func (e *QualityEngine) enabledRules() []*models.QualityRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*models.QualityRule, 0, len(e.ruleOrder))
	for _, id := range e.ruleOrder {
		if rule := e.rules[id]; rule.IsEnabled {
			rules = append(rules, rule)
		}
	}
	return rules
}

// AddPolicy 登记治理策略
func (e *QualityEngine) AddPolicy(policy *models.GovernancePolicy) error {
	if policy.Name == "" || policy.Owner == "" {
		return models.NewValidationError("治理策略缺少必填字段", "name", "owner")
	}

	e.mu.Lock()
	if _, exists := e.policies[policy.Name]; !exists {
		e.policyOrder = append(e.policyOrder, policy.Name)
	}
	e.policies[policy.Name] = policy
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.SavePolicy(policy); err != nil {
			e.logger.Warn("治理策略持久化失败", "policy", policy.Name, "error", err)
		}
	}

	e.logger.Info("治理策略已登记", "policy", policy.Name, "owner", policy.Owner)
	return nil
}

// GetPolicies 按登记顺序返回全部治理策略
func (e *QualityEngine) GetPolicies() []*models.GovernancePolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]*models.GovernancePolicy, 0, len(e.policyOrder))
	for _, name := range e.policyOrder {
		policies = append(policies, e.policies[name])
	}
	return policies
}

// ValidateDataset 对一个批次执行全部启用规则的校验，返回聚合质量报告
// 模式校验失败立即中止；单条规则内部的异常被隔离为该规则的失败结果
func (e *QualityEngine) ValidateDataset(ctx context.Context, pipelineID string, records []map[string]interface{}, schema SchemaValidator) (*models.QualityReport, error) {
	startTime := time.Now()
	e.logger.Info("开始批量质量校验", "pipeline_id", pipelineID, "records", len(records))

	report, err := e.validateDataset(ctx, pipelineID, records, schema)

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	e.metrics.RecordAnalyticsQuery(durationMs, "validate_dataset", err == nil)

	if err != nil {
		e.logger.Error("批量质量校验失败", "pipeline_id", pipelineID, "error", err)
		return nil, err
	}

	e.metrics.SetDataQualityScore(report.OverallScore, "pipeline", pipelineID)
	e.logger.Info("批量质量校验完成",
		"pipeline_id", pipelineID,
		"overall_score", report.OverallScore,
		"overall_status", report.OverallStatus,
		"rules_failed", report.RulesFailed)

	if e.store != nil {
		if archiveErr := e.store.ArchiveReport(report); archiveErr != nil {
			e.logger.Warn("质量报告归档失败", "pipeline_id", pipelineID, "error", archiveErr)
		}
	}

	return report, nil
}

func (e *QualityEngine) validateDataset(ctx context.Context, pipelineID string, records []map[string]interface{}, schema SchemaValidator) (*models.QualityReport, error) {
	if records == nil {
		return nil, models.NewValidationError("记录批次不能为空", "records")
	}

	if schema != nil {
		if err := e.checkSchema(pipelineID, records, schema); err != nil {
			return nil, err
		}
	}

	rules := e.enabledRules()
	results := make([]models.RuleResult, 0, len(rules))
	for _, rule := range rules {
		results = append(results, e.evaluateRule(ctx, rule, records))
	}

	report := buildReport(pipelineID, len(records), results)
	return report, nil
}

// checkSchema 对全部记录执行模式校验，任何失败都会中止整个批次
func (e *QualityEngine) checkSchema(pipelineID string, records []map[string]interface{}, schema SchemaValidator) error {
	failures := make([]string, 0, maxSchemaFailures)
	for i, record := range records {
		if err := schema.ValidateRecord(record); err != nil {
			failures = append(failures, fmt.Sprintf("记录[%d]: %v", i, err))
			if len(failures) >= maxSchemaFailures {
				break
			}
		}
	}

	if len(failures) > 0 {
		qerr := models.NewDataQualityError(pipelineID, "模式校验失败", nil)
		qerr.Details = failures
		return qerr
	}
	return nil
}

// evaluateRule 对批次执行单条规则，内部异常转化为失败结果而不中止管道
func (e *QualityEngine) evaluateRule(ctx context.Context, rule *models.QualityRule, records []map[string]interface{}) models.RuleResult {
	result := models.RuleResult{
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		Category:   rule.Category,
		Severity:   rule.Severity,
		TotalCount: len(records),
		Timestamp:  time.Now(),
	}

	for i, record := range records {
		passed, err := e.invokePredicate(ctx, rule, record)
		if err != nil {
			// 规则本身出错：整条规则按失败计，保留出错原因
			result.Status = models.RuleStatusFailed
			result.Score = 0
			result.FailedCount = len(records)
			result.FailedSample = []models.FailingRecordDetail{{
				RecordIndex: i,
				Record:      record,
				Reason:      fmt.Sprintf("规则执行异常: %v", err),
			}}
			e.logger.Warn("规则执行异常", "rule_id", rule.ID, "error", err)
			return result
		}

		if !passed {
			result.FailedCount++
			if len(result.FailedSample) < models.MaxFailingDetails {
				result.FailedSample = append(result.FailedSample, models.FailingRecordDetail{
					RecordIndex: i,
					Record:      record,
					Reason:      rule.Description,
				})
			}
		}
	}

	if result.TotalCount == 0 {
		result.Score = 1
	} else {
		result.Score = float64(result.TotalCount-result.FailedCount) / float64(result.TotalCount)
	}

	result.Status = ruleStatus(result.Score, rule.Threshold)
	return result
}

// invokePredicate 执行规则谓词，隔离panic并施加可配置的超时
func (e *QualityEngine) invokePredicate(ctx context.Context, rule *models.QualityRule, record map[string]interface{}) (passed bool, err error) {
	run := func() (result bool, runErr error) {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("规则谓词panic: %v", r)
			}
		}()
		return rule.Predicate(record), nil
	}

	if e.ruleTimeout <= 0 {
		return run()
	}

	type outcome struct {
		passed bool
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		p, runErr := run()
		done <- outcome{passed: p, err: runErr}
	}()

	select {
	case o := <-done:
		return o.passed, o.err
	case <-time.After(e.ruleTimeout):
		return false, models.NewExecutionTimeoutError(rule.ID, e.ruleTimeout.Milliseconds())
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// ruleStatus 根据得分与阈值推导规则状态
func ruleStatus(score, threshold float64) string {
	switch {
	case score >= threshold:
		return models.RuleStatusPassed
	case score >= threshold*0.8:
		return models.RuleStatusWarning
	default:
		return models.RuleStatusFailed
	}
}

// buildReport 由规则结果聚合质量报告
func buildReport(pipelineID string, totalRecords int, results []models.RuleResult) *models.QualityReport {
	report := &models.QualityReport{
		PipelineID:      pipelineID,
		TotalRecords:    totalRecords,
		RuleResults:     results,
		Dimensions:      make(map[string]float64, len(models.RuleCategories)),
		Recommendations: []string{},
		Timestamp:       time.Now(),
	}

	// 维度得分：该维度下规则得分的平均值，无规则的维度记0
	categoryScores := make(map[string][]float64)
	var weightedSum, weightSum float64
	seenRecommendation := make(map[string]bool)

	for _, result := range results {
		switch result.Status {
		case models.RuleStatusPassed:
			report.RulesPassed++
		case models.RuleStatusFailed:
			report.RulesFailed++
		}

		categoryScores[result.Category] = append(categoryScores[result.Category], result.Score)

		weight := models.SeverityWeight(result.Severity)
		weightedSum += weight * result.Score
		weightSum += weight

		if result.Status == models.RuleStatusFailed && !seenRecommendation[result.Category] {
			if msg, ok := categoryRecommendations[result.Category]; ok {
				report.Recommendations = append(report.Recommendations, msg)
				seenRecommendation[result.Category] = true
			}
		}
	}

	for _, category := range models.RuleCategories {
		scores := categoryScores[category]
		if len(scores) == 0 {
			report.Dimensions[category] = 0
			continue
		}
		var sum float64
		for _, s := range scores {
			sum += s
		}
		report.Dimensions[category] = sum / float64(len(scores))
	}

	// 没有任何规则参与时按满分处理
	if weightSum == 0 {
		report.OverallScore = 1
	} else {
		report.OverallScore = weightedSum / weightSum
	}
	report.OverallStatus = models.OverallStatus(report.OverallScore)

	return report
}

// ValidateRealTimeData 对单条记录执行全部启用规则的谓词校验
// 谓词异常与超时同样按违规计入，与批量路径保持一致的隔离策略
func (e *QualityEngine) ValidateRealTimeData(ctx context.Context, streamID string, record map[string]interface{}) (*models.RealtimeValidationResult, error) {
	startTime := time.Now()

	if record == nil {
		return nil, models.NewValidationError("记录不能为空", "record")
	}

	result := &models.RealtimeValidationResult{
		StreamID:   streamID,
		Violations: []string{},
	}

	for _, rule := range e.enabledRules() {
		passed, err := e.invokePredicate(ctx, rule, record)
		if err != nil {
			result.Violations = append(result.Violations, fmt.Sprintf("%s: 规则执行异常: %v", rule.Name, err))
			e.logger.Warn("实时校验规则异常", "stream_id", streamID, "rule_id", rule.ID, "error", err)
			continue
		}
		if !passed {
			result.Violations = append(result.Violations, fmt.Sprintf("%s: %s", rule.Name, rule.Description))
		}
	}

	result.IsValid = len(result.Violations) == 0

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	e.metrics.RecordStreamingLatency(durationMs, "realtime_validation", streamID)

	return result, nil
}
