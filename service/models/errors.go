/*
 * @module service/models/errors
 * @description 错误类型定义，区分输入校验错误、数据质量错误、流处理错误和执行超时错误
 * @architecture 分层架构 - 数据模型层
 * @documentReference dev_docs/requirements.md
 * @stateFlow 错误产生 -> 错误分类 -> 错误传播
 * @rules 校验类错误在任何处理之前同步抛出；流处理错误只在输入校验通过后产生
 * @dependencies errors, fmt
 * @refs service/data_quality, service/streaming
 */

package models

import (
	"errors"
	"fmt"
)

// ValidationError 输入校验错误，表示调用方提供的数据不完整或格式非法
type ValidationError struct {
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"` // 缺失或非法的字段列表
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("校验失败: %s", e.Message)
}

// NewValidationError 创建输入校验错误
func NewValidationError(message string, fields ...string) *ValidationError {
	return &ValidationError{Message: message, Fields: fields}
}

// DataQualityError 数据质量管道错误，表示批量校验中的模式失败或不可预期的引擎异常
type DataQualityError struct {
	PipelineID string   `json:"pipeline_id"`
	Message    string   `json:"message"`
	Details    []string `json:"details,omitempty"` // 失败明细，最多保留10条
	Cause      error    `json:"-"`
}

func (e *DataQualityError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("数据质量检查失败 [%s]: %s: %v", e.PipelineID, e.Message, e.Cause)
	}
	return fmt.Sprintf("数据质量检查失败 [%s]: %s", e.PipelineID, e.Message)
}

func (e *DataQualityError) Unwrap() error { return e.Cause }

// NewDataQualityError 创建数据质量错误
func NewDataQualityError(pipelineID, message string, cause error) *DataQualityError {
	return &DataQualityError{PipelineID: pipelineID, Message: message, Cause: cause}
}

// StreamingError 流处理错误，发布、处理、聚合阶段在输入校验通过之后产生的失败
type StreamingError struct {
	Operation string `json:"operation"` // publish, process, aggregate, consume
	Message   string `json:"message"`
	Cause     error  `json:"-"`
}

func (e *StreamingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("流处理失败 [%s]: %s: %v", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("流处理失败 [%s]: %s", e.Operation, e.Message)
}

func (e *StreamingError) Unwrap() error { return e.Cause }

// NewStreamingError 创建流处理错误
func NewStreamingError(operation, message string, cause error) *StreamingError {
	return &StreamingError{Operation: operation, Message: message, Cause: cause}
}

// ExecutionTimeoutError 规则或处理器执行超时错误
type ExecutionTimeoutError struct {
	Target    string `json:"target"` // 超时的规则或处理器ID
	TimeoutMs int64  `json:"timeout_ms"`
}

func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("执行超时 [%s]: 超过 %dms 未返回", e.Target, e.TimeoutMs)
}

// NewExecutionTimeoutError 创建执行超时错误
func NewExecutionTimeoutError(target string, timeoutMs int64) *ExecutionTimeoutError {
	return &ExecutionTimeoutError{Target: target, TimeoutMs: timeoutMs}
}

// IsValidationError 判断错误是否为输入校验错误
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStreamingError 判断错误是否为流处理错误
func IsStreamingError(err error) bool {
	var se *StreamingError
	return errors.As(err, &se)
}

// IsExecutionTimeout 判断错误是否为执行超时
func IsExecutionTimeout(err error) bool {
	var te *ExecutionTimeoutError
	return errors.As(err, &te)
}
