/*
 * @module service/data_quality/schema_validator
 * @description 基于标签规则的记录模式校验器，实现质量引擎的外部模式校验接口
 * @architecture 分层架构 - 数据质量服务层
 * @stateFlow 规则声明 -> 逐字段校验 -> 失败字段汇总
 * @dependencies github.com/go-playground/validator/v10
 * @refs quality_engine.go
 */

package data_quality

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MapSchemaValidator 按字段标签规则校验记录的模式校验器
// 规则形如 {"id": "required", "email": "omitempty,email"}
type MapSchemaValidator struct {
	rules    map[string]interface{}
	validate *validator.Validate
}

// NewMapSchemaValidator 创建模式校验器
func NewMapSchemaValidator(rules map[string]interface{}) *MapSchemaValidator {
	return &MapSchemaValidator{
		rules:    rules,
		validate: validator.New(),
	}
}

// ValidateRecord 校验单条记录，返回包含全部失败字段的错误
func (v *MapSchemaValidator) ValidateRecord(record map[string]interface{}) error {
	failures := v.validate.ValidateMap(record, v.rules)
	if len(failures) == 0 {
		return nil
	}

	fields := make([]string, 0, len(failures))
	for field := range failures {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	return fmt.Errorf("字段不符合模式要求: %s", strings.Join(fields, ", "))
}
