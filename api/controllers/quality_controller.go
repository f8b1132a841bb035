/*
 * @module api/controllers/quality_controller
 * @description 数据质量控制器，提供批量校验、实时校验、规则查询和治理策略管理API
 * @architecture RESTful API架构 - 控制器层
 * @stateFlow HTTP请求 -> 质量引擎调用 -> 响应返回
 * @rules 遵循RESTful API设计规范，统一错误处理和响应格式
 * @dependencies streamhub-service/service, github.com/go-chi/chi/v5, github.com/go-chi/render
 * @refs service/data_quality/quality_engine.go
 */

package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"streamhub-service/service"
	"streamhub-service/service/data_quality"
	"streamhub-service/service/governance"
	"streamhub-service/service/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// QualityController 数据质量控制器
type QualityController struct {
	engine *data_quality.QualityEngine
	store  *governance.GormPolicyStore
}

// NewQualityController 创建数据质量控制器实例
func NewQualityController() *QualityController {
	return &QualityController{
		engine: service.GlobalQualityEngine,
		store:  service.GlobalPolicyStore,
	}
}

// ValidateDatasetRequest 批量校验请求
type ValidateDatasetRequest struct {
	PipelineID  string                   `json:"pipeline_id" example:"patient-intake"`
	Records     []map[string]interface{} `json:"records"`
	SchemaRules map[string]interface{}   `json:"schema_rules,omitempty"`
}

// ValidateDataset 批量质量校验
// @Summary 批量质量校验
// @Description 对一批记录执行全部启用规则的校验，返回质量报告
// @Tags 数据质量
// @Accept json
// @Produce json
// @Param request body ValidateDatasetRequest true "批量校验请求"
// @Success 200 {object} APIResponse{data=models.QualityReport}
// @Failure 400 {object} APIResponse "请求参数错误"
// @Router /quality/validate [post]
func (c *QualityController) ValidateDataset(w http.ResponseWriter, r *http.Request) {
	var req ValidateDatasetRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "请求参数解析失败", err))
		return
	}

	if req.PipelineID == "" {
		render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "管道ID不能为空", nil))
		return
	}

	var schema data_quality.SchemaValidator
	if len(req.SchemaRules) > 0 {
		schema = data_quality.NewMapSchemaValidator(req.SchemaRules)
	}

	report, err := c.engine.ValidateDataset(r.Context(), req.PipelineID, req.Records, schema)
	if err != nil {
		if models.IsValidationError(err) {
			render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "批量校验入参非法", err))
			return
		}
		var dqErr *models.DataQualityError
		if errors.As(err, &dqErr) {
			render.JSON(w, r, &APIResponse{
				Status: http.StatusUnprocessableEntity,
				Msg:    dqErr.Error(),
				Data:   map[string]interface{}{"details": dqErr.Details},
			})
			return
		}
		render.JSON(w, r, InternalErrorResponse("批量校验失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("批量校验完成", report))
}

// ValidateRealtimeRequest 实时校验请求
type ValidateRealtimeRequest struct {
	StreamID string                 `json:"stream_id" example:"vitals-stream"`
	Record   map[string]interface{} `json:"record"`
}

// ValidateRealtime 单条记录实时校验
// @Summary 实时质量校验
// @Description 对单条记录执行全部启用规则的谓词检查，返回违规列表
// @Tags 数据质量
// @Accept json
// @Produce json
// @Param request body ValidateRealtimeRequest true "实时校验请求"
// @Success 200 {object} APIResponse{data=models.RealtimeValidationResult}
// @Router /quality/validate-realtime [post]
func (c *QualityController) ValidateRealtime(w http.ResponseWriter, r *http.Request) {
	var req ValidateRealtimeRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "请求参数解析失败", err))
		return
	}

	if req.StreamID == "" {
		render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "流ID不能为空", nil))
		return
	}
	if req.Record == nil {
		render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "记录不能为空", nil))
		return
	}

	result, err := c.engine.ValidateRealTimeData(r.Context(), req.StreamID, req.Record)
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("实时校验失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("实时校验完成", result))
}

// GetRules 获取质量规则列表
// @Summary 获取质量规则列表
// @Description 按注册顺序返回全部质量规则
// @Tags 数据质量
// @Produce json
// @Success 200 {object} APIResponse{data=[]models.QualityRule}
// @Router /quality/rules [get]
func (c *QualityController) GetRules(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("获取质量规则列表成功", c.engine.GetRules()))
}

// DeleteRule 移除质量规则
// @Summary 移除质量规则
// @Description 按ID移除质量规则
// @Tags 数据质量
// @Produce json
// @Param id path string true "规则ID"
// @Success 200 {object} APIResponse
// @Failure 404 {object} APIResponse "规则不存在"
// @Router /quality/rules/{id} [delete]
func (c *QualityController) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")
	if ruleID == "" {
		render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "规则ID不能为空", nil))
		return
	}

	if err := c.engine.RemoveRule(ruleID); err != nil {
		render.JSON(w, r, ErrorResponse(http.StatusNotFound, "移除质量规则失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("质量规则已移除", map[string]interface{}{"rule_id": ruleID}))
}

// CreatePolicy 登记治理策略
// @Summary 登记治理策略
// @Description 登记或更新一条数据治理策略
// @Tags 数据治理
// @Accept json
// @Produce json
// @Param request body models.GovernancePolicy true "治理策略"
// @Success 200 {object} APIResponse{data=models.GovernancePolicy}
// @Router /quality/policies [post]
func (c *QualityController) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var policy models.GovernancePolicy
	if err := render.DecodeJSON(r.Body, &policy); err != nil {
		render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "请求参数解析失败", err))
		return
	}

	if err := c.engine.AddPolicy(&policy); err != nil {
		render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "登记治理策略失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("治理策略登记成功", policy))
}

// GetPolicies 获取治理策略列表
// @Summary 获取治理策略列表
// @Description 按登记顺序返回全部治理策略
// @Tags 数据治理
// @Produce json
// @Success 200 {object} APIResponse{data=[]models.GovernancePolicy}
// @Router /quality/policies [get]
func (c *QualityController) GetPolicies(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("获取治理策略列表成功", c.engine.GetPolicies()))
}

// GetReports 查询质量报告归档
// @Summary 查询质量报告归档
// @Description 按管道查询历史质量报告，时间倒序
// @Tags 数据质量
// @Produce json
// @Param pipeline_id query string false "管道ID过滤"
// @Param limit query int false "返回条数上限" default(50)
// @Success 200 {object} APIResponse{data=[]models.QualityReportRecord}
// @Failure 503 {object} APIResponse "持久化层不可用"
// @Router /quality/reports [get]
func (c *QualityController) GetReports(w http.ResponseWriter, r *http.Request) {
	if c.store == nil {
		render.JSON(w, r, ErrorResponse(http.StatusServiceUnavailable, "报告归档不可用：未配置数据库", nil))
		return
	}

	limit := 50
	if val, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && val > 0 && val <= 500 {
		limit = val
	}

	records, err := c.store.ListReports(r.URL.Query().Get("pipeline_id"), limit)
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("查询报告归档失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询报告归档成功", records))
}
