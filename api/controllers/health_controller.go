/*
 * @module api/controllers/health_controller
 * @description 健康检查控制器，提供服务健康状态与就绪检查
 * @architecture MVC架构 - 控制器层
 * @stateFlow HTTP请求处理流程
 * @rules 就绪检查依赖流聚合器生命周期状态，用于容器健康检查和负载均衡
 * @dependencies net/http
 * @refs service/streaming/stream_aggregator.go
 */

package controllers

import (
	"net/http"
	"time"

	"streamhub-service/service"

	"github.com/go-chi/render"
)

// HealthController 健康检查控制器
type HealthController struct{}

// NewHealthController 创建健康检查控制器实例
func NewHealthController() *HealthController {
	return &HealthController{}
}

// HealthResponse 健康检查响应结构
type HealthResponse struct {
	Status    string    `json:"status" example:"ok"`
	Timestamp time.Time `json:"timestamp" example:"2024-01-01T00:00:00Z"`
	Version   string    `json:"version" example:"1.0.0"`
	Service   string    `json:"service" example:"streamhub-service"`
}

// Health 健康检查
// @Summary 健康检查
// @Description 检查服务健康状态
// @Tags 系统
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (c *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   "1.0.0",
		Service:   "streamhub-service",
	}

	render.JSON(w, r, response)
}

// Ready 就绪检查
// @Summary 就绪检查
// @Description 检查流聚合器是否就绪
// @Tags 系统
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /ready [get]
func (c *HealthController) Ready(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    service.GlobalStreamAggregator.State(),
		Timestamp: time.Now(),
		Version:   "1.0.0",
		Service:   "streamhub-service",
	}

	if !service.GlobalStreamAggregator.IsReady() {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, response)
}
