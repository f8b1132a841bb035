/*
 * @module service/streaming/script_processor
 * @description 脚本流处理器，用Yaegi解释执行Go脚本实现事件转换，按脚本哈希缓存编译结果
 * @architecture 插件化架构 - 脚本执行层
 * @stateFlow 脚本编译(缓存) -> 事件转map -> 脚本Transform -> 派生事件重建
 * @rules 脚本必须提供 Transform(event map[string]interface{}) ([]map[string]interface{}, error) 入口
 * @dependencies github.com/traefik/yaegi, github.com/google/uuid, crypto/sha1
 * @refs service/streaming/stream_aggregator.go, service/models/streaming_models.go
 */

package streaming

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"streamhub-service/service/models"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// transformFn 脚本Transform入口的签名
type transformFn func(map[string]interface{}) ([]map[string]interface{}, error)

// compiledTransform 编译后的转换脚本
type compiledTransform struct {
	fn       transformFn
	compiled time.Time
	hash     string
}

// ScriptTransformer 脚本转换执行器，带编译缓存
type ScriptTransformer struct {
	mu    sync.RWMutex
	cache map[string]*compiledTransform
}

// NewScriptTransformer 创建脚本转换执行器
func NewScriptTransformer() *ScriptTransformer {
	return &ScriptTransformer{
		cache: make(map[string]*compiledTransform),
	}
}

// Compile 编译脚本体为转换函数，同内容脚本复用缓存
func (st *ScriptTransformer) Compile(script string) (transformFn, error) {
	hash := fmt.Sprintf("%x", sha1.Sum([]byte(script)))

	st.mu.RLock()
	compiled, ok := st.cache[hash]
	st.mu.RUnlock()

	if ok {
		return compiled.fn, nil
	}

	compiled, err := st.compile(script, hash)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	st.cache[hash] = compiled
	st.mu.Unlock()

	return compiled.fn, nil
}

// compile 用Yaegi解释脚本并提取Transform入口
func (st *ScriptTransformer) compile(script, hash string) (*compiledTransform, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("加载标准库失败: %w", err)
	}

	// 包装脚本：要求脚本体实现 Transform 函数的主体逻辑
	wrapped := fmt.Sprintf(`
package main

import (
	"fmt"
	"strings"
	"strconv"
	"time"
	"math"
	"sort"
)

// 必须提供一个 Transform 函数作为入口
func Transform(event map[string]interface{}) ([]map[string]interface{}, error) {
	// 脚本内容
%s
}
`, script)

	if _, err := i.Eval(wrapped); err != nil {
		return nil, fmt.Errorf("脚本编译失败: %w", err)
	}

	v, err := i.Eval("Transform")
	if err != nil {
		return nil, fmt.Errorf("脚本缺少 Transform 函数: %w", err)
	}

	fn, ok := v.Interface().(func(map[string]interface{}) ([]map[string]interface{}, error))
	if !ok {
		return nil, fmt.Errorf("Transform 函数签名必须是 func(map[string]interface{}) ([]map[string]interface{}, error)")
	}

	return &compiledTransform{
		fn:       fn,
		compiled: time.Now(),
		hash:     hash,
	}, nil
}

// Validate 快速校验脚本能否编译通过
func (st *ScriptTransformer) Validate(script string) error {
	hash := fmt.Sprintf("%x", sha1.Sum([]byte(script)))
	_, err := st.compile(script, hash)
	return err
}

// CacheStats 返回编译缓存统计
func (st *ScriptTransformer) CacheStats() map[string]interface{} {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return map[string]interface{}{
		"cache_size": len(st.cache),
	}
}

// NewScriptProcessor 用脚本构造一个流处理器
// 脚本收到的event为扁平map（含id/type/source/data/metadata），
// 返回的每个map重建为派生事件，缺失字段时继承来源事件并补发新ID
func NewScriptProcessor(id, name string, inputStreams, outputStreams []string, script string, transformer *ScriptTransformer) (*models.StreamProcessor, error) {
	if transformer == nil {
		transformer = NewScriptTransformer()
	}

	fn, err := transformer.Compile(script)
	if err != nil {
		return nil, models.NewValidationError(fmt.Sprintf("脚本处理器编译失败: %v", err), "script")
	}

	transform := func(ctx context.Context, event *models.StreamEvent) ([]*models.StreamEvent, error) {
		outputs, err := fn(eventToMap(event))
		if err != nil {
			return nil, err
		}

		derived := make([]*models.StreamEvent, 0, len(outputs))
		for _, out := range outputs {
			derived = append(derived, mapToEvent(out, event))
		}
		return derived, nil
	}

	return &models.StreamProcessor{
		ID:            id,
		Name:          name,
		InputStreams:  inputStreams,
		OutputStreams: outputStreams,
		Config:        map[string]interface{}{"kind": "script", "script": script},
		Transform:     transform,
	}, nil
}

// eventToMap 将事件转为脚本可消费的map
func eventToMap(event *models.StreamEvent) map[string]interface{} {
	var metadata map[string]interface{}
	if raw, err := json.Marshal(event.Metadata); err == nil {
		_ = json.Unmarshal(raw, &metadata)
	}

	return map[string]interface{}{
		"id":        event.ID,
		"timestamp": event.Timestamp,
		"type":      event.Type,
		"source":    event.Source,
		"data":      event.Data,
		"metadata":  metadata,
	}
}

// mapToEvent 将脚本输出重建为派生事件，缺失字段继承来源事件
func mapToEvent(out map[string]interface{}, parent *models.StreamEvent) *models.StreamEvent {
	event := &models.StreamEvent{
		ID:        cast.ToString(out["id"]),
		Type:      cast.ToString(out["type"]),
		Source:    cast.ToString(out["source"]),
		Timestamp: time.Now(),
		Metadata:  parent.Metadata,
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Type == "" {
		event.Type = parent.Type
	}
	if event.Source == "" {
		event.Source = parent.Source
	}
	if ts, err := cast.ToTimeE(out["timestamp"]); err == nil && !ts.IsZero() {
		event.Timestamp = ts
	}

	if data, ok := out["data"].(map[string]interface{}); ok {
		event.Data = data
	} else {
		event.Data = map[string]interface{}{}
	}
	return event
}
