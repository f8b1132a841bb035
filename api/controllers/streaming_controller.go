/*
 * @module api/controllers/streaming_controller
 * @description 流处理控制器，提供事件发布、最近事件查询、流处理、窗口聚合、处理器与窗口注册和SSE订阅API
 * @architecture RESTful API架构 - 控制器层
 * @stateFlow HTTP请求 -> 流聚合器调用 -> 响应返回
 * @rules 遵循RESTful API设计规范，统一错误处理和响应格式
 * @dependencies streamhub-service/service, github.com/go-chi/chi/v5, github.com/go-chi/render
 * @refs service/streaming/stream_aggregator.go
 */

package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"streamhub-service/service"
	"streamhub-service/service/models"
	"streamhub-service/service/streaming"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// StreamingController 流处理控制器
type StreamingController struct {
	aggregator  *streaming.StreamAggregator
	notifier    *streaming.SSENotifier
	transformer *streaming.ScriptTransformer
}

// NewStreamingController 创建流处理控制器实例
func NewStreamingController() *StreamingController {
	return &StreamingController{
		aggregator:  service.GlobalStreamAggregator,
		notifier:    service.GlobalNotifier,
		transformer: service.GlobalScriptTransformer,
	}
}

// PublishEvent 发布流事件
// @Summary 发布流事件
// @Description 校验并发布一个流事件，进入broker、最近事件缓存和推送通道
// @Tags 流处理
// @Accept json
// @Produce json
// @Param request body models.StreamEvent true "流事件"
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse "事件缺少必填字段"
// @Router /streaming/events [post]
func (c *StreamingController) PublishEvent(w http.ResponseWriter, r *http.Request) {
	var event models.StreamEvent
	if err := render.DecodeJSON(r.Body, &event); err != nil {
		render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "请求参数解析失败", err))
		return
	}

	if err := c.aggregator.PublishEvent(r.Context(), &event); err != nil {
		if models.IsValidationError(err) {
			render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "事件校验失败", err))
			return
		}
		render.JSON(w, r, InternalErrorResponse("发布事件失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("事件发布成功", map[string]interface{}{
		"event_id": event.ID,
		"type":     event.Type,
	}))
}

// GetRecentEvents 查询最近事件
// @Summary 查询最近事件
// @Description 返回指定类型最近发布的事件，最多1000条
// @Tags 流处理
// @Produce json
// @Param type path string true "事件类型"
// @Param limit query int false "返回条数上限" default(100)
// @Success 200 {object} APIResponse{data=[]models.StreamEvent}
// @Router /streaming/events/{type}/recent [get]
func (c *StreamingController) GetRecentEvents(w http.ResponseWriter, r *http.Request) {
	eventType := chi.URLParam(r, "type")

	limit := 100
	if val, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && val > 0 {
		limit = val
	}

	events, err := c.aggregator.GetRecentEvents(r.Context(), eventType, limit)
	if err != nil {
		if models.IsValidationError(err) {
			render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "查询参数非法", err))
			return
		}
		render.JSON(w, r, InternalErrorResponse("查询最近事件失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("查询最近事件成功", map[string]interface{}{
		"type":   eventType,
		"count":  len(events),
		"events": events,
	}))
}

// ProcessStreamRequest 流处理请求
type ProcessStreamRequest struct {
	Events []*models.StreamEvent `json:"events"`
}

// ProcessStream 执行流处理
// @Summary 执行流处理
// @Description 用指定处理器顺序处理一批事件，返回全部派生事件
// @Tags 流处理
// @Accept json
// @Produce json
// @Param id path string true "处理器ID"
// @Param request body ProcessStreamRequest true "待处理事件"
// @Success 200 {object} APIResponse{data=[]models.StreamEvent}
// @Failure 404 {object} APIResponse "处理器不存在"
// @Router /streaming/processors/{id}/process [post]
func (c *StreamingController) ProcessStream(w http.ResponseWriter, r *http.Request) {
	processorID := chi.URLParam(r, "id")

	var req ProcessStreamRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "请求参数解析失败", err))
		return
	}

	outputs, err := c.aggregator.ProcessStream(r.Context(), processorID, req.Events)
	if err != nil {
		render.JSON(w, r, ErrorResponse(http.StatusUnprocessableEntity, "流处理失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("流处理完成", map[string]interface{}{
		"processor_id": processorID,
		"input_count":  len(req.Events),
		"outputs":      outputs,
	}))
}

// RegisterScriptProcessorRequest 脚本处理器注册请求
type RegisterScriptProcessorRequest struct {
	ID            string   `json:"id" example:"vitals-enricher"`
	Name          string   `json:"name" example:"生命体征增强"`
	InputStreams  []string `json:"input_streams"`
	OutputStreams []string `json:"output_streams"`
	Script        string   `json:"script"`
}

// RegisterScriptProcessor 注册脚本流处理器
// @Summary 注册脚本流处理器
// @Description 用Go脚本注册一个流处理器，脚本体实现 Transform 逻辑
// @Tags 流处理
// @Accept json
// @Produce json
// @Param request body RegisterScriptProcessorRequest true "脚本处理器定义"
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse "脚本编译失败"
// @Router /streaming/processors [post]
func (c *StreamingController) RegisterScriptProcessor(w http.ResponseWriter, r *http.Request) {
	var req RegisterScriptProcessorRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "请求参数解析失败", err))
		return
	}

	if req.ID == "" || req.Script == "" {
		render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "处理器ID和脚本不能为空", nil))
		return
	}

	processor, err := streaming.NewScriptProcessor(req.ID, req.Name, req.InputStreams, req.OutputStreams, req.Script, c.transformer)
	if err != nil {
		render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "脚本处理器创建失败", err))
		return
	}

	if err := c.aggregator.RegisterProcessor(processor); err != nil {
		render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "注册流处理器失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("流处理器注册成功", map[string]interface{}{
		"processor_id": req.ID,
	}))
}

// GetProcessors 获取流处理器列表
// @Summary 获取流处理器列表
// @Description 返回全部已注册的流处理器
// @Tags 流处理
// @Produce json
// @Success 200 {object} APIResponse{data=[]models.StreamProcessor}
// @Router /streaming/processors [get]
func (c *StreamingController) GetProcessors(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("获取流处理器列表成功", c.aggregator.GetProcessors()))
}

// RegisterWindow 注册分析窗口
// @Summary 注册分析窗口
// @Description 注册一个时间窗口策略（tumbling/sliding/session）
// @Tags 流处理
// @Accept json
// @Produce json
// @Param request body models.AnalyticsWindow true "窗口定义"
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse "窗口定义非法"
// @Router /streaming/windows [post]
func (c *StreamingController) RegisterWindow(w http.ResponseWriter, r *http.Request) {
	var window models.AnalyticsWindow
	if err := render.DecodeJSON(r.Body, &window); err != nil {
		render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "请求参数解析失败", err))
		return
	}

	if err := c.aggregator.RegisterWindow(&window); err != nil {
		render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "注册分析窗口失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("分析窗口注册成功", map[string]interface{}{
		"window_id": window.ID,
	}))
}

// GetWindows 获取分析窗口列表
// @Summary 获取分析窗口列表
// @Description 返回全部已注册的分析窗口
// @Tags 流处理
// @Produce json
// @Success 200 {object} APIResponse{data=[]models.AnalyticsWindow}
// @Router /streaming/windows [get]
func (c *StreamingController) GetWindows(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("获取分析窗口列表成功", c.aggregator.GetWindows()))
}

// AggregateWindowRequest 窗口聚合请求
type AggregateWindowRequest struct {
	Events []*models.StreamEvent `json:"events"`
}

// AggregateWindow 执行窗口聚合
// @Summary 执行窗口聚合
// @Description 按窗口策略过滤候选事件并返回聚合统计
// @Tags 流处理
// @Accept json
// @Produce json
// @Param id path string true "窗口ID"
// @Param request body AggregateWindowRequest true "候选事件集"
// @Success 200 {object} APIResponse{data=models.WindowResult}
// @Failure 404 {object} APIResponse "窗口不存在"
// @Router /streaming/windows/{id}/aggregate [post]
func (c *StreamingController) AggregateWindow(w http.ResponseWriter, r *http.Request) {
	windowID := chi.URLParam(r, "id")

	var req AggregateWindowRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, ErrorResponse(http.StatusBadRequest, "请求参数解析失败", err))
		return
	}

	result, err := c.aggregator.AggregateWindow(r.Context(), windowID, req.Events)
	if err != nil {
		render.JSON(w, r, ErrorResponse(http.StatusNotFound, "窗口聚合失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("窗口聚合完成", result))
}

// GetMetrics 获取流处理指标快照
// @Summary 获取流处理指标快照
// @Description 返回当前的吞吐、延迟、错误率和运行时指标
// @Tags 流处理
// @Produce json
// @Success 200 {object} APIResponse{data=models.StreamingMetricsSnapshot}
// @Router /streaming/metrics [get]
func (c *StreamingController) GetMetrics(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("获取流处理指标成功", c.aggregator.MetricsSnapshot()))
}

// HandleSSE 建立推送订阅连接
// @Summary 建立SSE订阅
// @Description 通过SSE接收流事件与指标推送，room为空时订阅全局频道
// @Tags 流处理
// @Param room query string false "订阅房间，如 stream:patient-events"
// @Success 200 {string} string "SSE事件流"
// @Router /streaming/subscribe [get]
func (c *StreamingController) HandleSSE(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")

	// 设置SSE响应头
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	sub := c.notifier.Subscribe(room)
	defer c.notifier.Unsubscribe(sub)

	// 发送连接成功事件
	fmt.Fprintf(w, "data: {\"type\":\"connected\",\"subscriber_id\":\"%s\",\"timestamp\":\"%s\"}\n\n",
		sub.ID, time.Now().Format(time.RFC3339))

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	for {
		select {
		case notification := <-sub.Channel:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", notification.Event, toJSON(notification))

			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}

		case <-sub.Done:
			return

		case <-r.Context().Done():
			return
		}
	}
}

// toJSON 将对象转换为JSON字符串
func toJSON(v interface{}) string {
	data, _ := json.Marshal(v)
	return string(data)
}
