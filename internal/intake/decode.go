// Package intake 解析外部候选方案
//
// 外部方案通常来自生成式模型，格式不可信。解码从不失败：
// 无法识别的部分记为方案缺陷，由评分阶段计入 other 类问题。
package intake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/paiban/allocator/pkg/model"
)

// Decode 宽松解析方案文档
func Decode(source string, data []byte) model.Proposal {
	p := model.Proposal{Source: source, Allocations: model.Allocation{}}

	var doc map[string]json.RawMessage
	if err := unmarshalNumber(stripFence(data), &doc); err != nil {
		p.Defects = append(p.Defects, fmt.Sprintf("无法解析方案文档: %v", err))
		return p
	}

	raw, ok := doc["allocations"]
	if !ok || isNull(raw) {
		p.Defects = append(p.Defects, "缺少 allocations 字段")
	} else {
		p.Allocations, p.Defects = decodeAllocations(raw, p.Defects)
	}

	if raw, ok := doc["reasoning"]; ok && !isNull(raw) {
		p.Reasoning, p.Defects = decodeReasoning(raw, p.Defects)
	}
	if raw, ok := doc["warnings"]; ok && !isNull(raw) {
		p.Warnings, p.Defects = decodeWarnings(raw, p.Defects)
	}
	return p
}

func decodeAllocations(raw json.RawMessage, defects []string) (model.Allocation, []string) {
	alloc := model.Allocation{}

	var drivers map[string]json.RawMessage
	if err := unmarshalNumber(raw, &drivers); err != nil {
		return alloc, append(defects, "allocations 不是对象")
	}

	for _, driverID := range sortedKeys(drivers) {
		var items []interface{}
		if err := unmarshalNumber(drivers[driverID], &items); err != nil {
			defects = append(defects, fmt.Sprintf("司机 %s 的订单不是列表", driverID))
			continue
		}

		orderIDs := make([]string, 0, len(items))
		for _, item := range items {
			id, ok := scalarString(item)
			if !ok {
				defects = append(defects, fmt.Sprintf("司机 %s 的订单列表包含非法元素: %v", driverID, item))
				continue
			}
			orderIDs = append(orderIDs, id)
		}
		alloc[driverID] = orderIDs
	}
	return alloc, defects
}

func decodeReasoning(raw json.RawMessage, defects []string) (map[string]string, []string) {
	var entries map[string]interface{}
	if err := unmarshalNumber(raw, &entries); err != nil {
		return nil, append(defects, "reasoning 不是对象")
	}

	reasoning := make(map[string]string, len(entries))
	for _, key := range sortedKeys(entries) {
		text, ok := scalarString(entries[key])
		if !ok {
			defects = append(defects, fmt.Sprintf("%s 的分配理由不是文本", key))
			continue
		}
		reasoning[key] = text
	}
	return reasoning, defects
}

func decodeWarnings(raw json.RawMessage, defects []string) ([]string, []string) {
	var items []interface{}
	if err := unmarshalNumber(raw, &items); err != nil {
		return nil, append(defects, "warnings 不是列表")
	}

	warnings := make([]string, 0, len(items))
	for _, item := range items {
		if text, ok := scalarString(item); ok {
			warnings = append(warnings, text)
		}
	}
	return warnings, defects
}

// scalarString 字符串原样返回，数字转为十进制文本
func scalarString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	default:
		return "", false
	}
}

func unmarshalNumber(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// stripFence 去掉 Markdown 代码块包裹
func stripFence(data []byte) []byte {
	text := strings.TrimSpace(string(data))
	if !strings.HasPrefix(text, "```") {
		return []byte(text)
	}
	text = strings.TrimPrefix(text, "```")
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return []byte(text)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
