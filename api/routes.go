/*
 * @module api/routes
 * @description API路由配置模块，负责初始化和配置所有HTTP路由
 * @architecture RESTful API架构
 * @stateFlow 无状态HTTP请求处理
 * @rules 遵循RESTful API设计规范，统一错误处理和响应格式
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/cors, github.com/go-chi/render
 * @refs api/controllers
 */

package api

import (
	"streamhub-service/api/controllers"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

// InitRoute 初始化所有API路由
func InitRoute(r *chi.Mux) {
	// 基础中间件
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	// CORS配置
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// 健康检查
	healthController := controllers.NewHealthController()
	r.Get("/health", healthController.Health)
	r.Get("/ready", healthController.Ready)

	// 数据质量管理
	r.Route("/quality", func(r chi.Router) {
		qualityController := controllers.NewQualityController()

		// 质量校验
		r.Post("/validate", qualityController.ValidateDataset)
		r.Post("/validate-realtime", qualityController.ValidateRealtime)

		// 质量规则管理
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", qualityController.GetRules)
			r.Delete("/{id}", qualityController.DeleteRule)
		})

		// 治理策略管理
		r.Route("/policies", func(r chi.Router) {
			r.Post("/", qualityController.CreatePolicy)
			r.Get("/", qualityController.GetPolicies)
		})

		// 质量报告归档
		r.Get("/reports", qualityController.GetReports)
	})

	// 实时流处理
	r.Route("/streaming", func(r chi.Router) {
		streamingController := controllers.NewStreamingController()

		// 事件发布与查询
		r.Post("/events", streamingController.PublishEvent)
		r.Get("/events/{type}/recent", streamingController.GetRecentEvents)

		// 流处理器管理与调用
		r.Route("/processors", func(r chi.Router) {
			r.Post("/", streamingController.RegisterScriptProcessor)
			r.Get("/", streamingController.GetProcessors)
			r.Post("/{id}/process", streamingController.ProcessStream)
		})

		// 分析窗口管理与聚合
		r.Route("/windows", func(r chi.Router) {
			r.Post("/", streamingController.RegisterWindow)
			r.Get("/", streamingController.GetWindows)
			r.Post("/{id}/aggregate", streamingController.AggregateWindow)
		})

		// 指标快照与SSE订阅
		r.Get("/metrics", streamingController.GetMetrics)
		r.Get("/subscribe", streamingController.HandleSSE)
	})
}
