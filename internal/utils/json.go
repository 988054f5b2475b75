package utils

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"k8s.io/klog/v2"
)

// ErrNoJSON 表示文本中没有可提取的 JSON 片段
var ErrNoJSON = errors.New("no JSON fragment found in text")

// 模型偶尔会在对象之间输出全角逗号，统一替换为英文逗号
var fullWidthComma = regexp.MustCompile(`}\s*，\s*{`)

// NormalizeDelimiters 修复 LLM 输出中常见的分隔符错误（}，{ -> },{）
func NormalizeDelimiters(content string) string {
	return fullWidthComma.ReplaceAllString(content, "},{")
}

// ExtractJSONObject 从文本中提取最外层的 {...} 片段
// 模型输出经常把 JSON 包裹在说明文字或代码块中，这里按括号深度扫描定位；
// 字符串值内部的花括号不参与配对
func ExtractJSONObject(content string) (string, error) {
	start := -1
	end := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(content) && end < 0; i++ {
		ch := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			// 正文里游离的右括号不计入深度
			if depth > 0 {
				depth--
				if depth == 0 {
					end = i + 1
				}
			}
		}
	}

	if start >= 0 && end > start {
		return NormalizeDelimiters(content[start:end]), nil
	}

	return "", ErrNoJSON
}

// ExtractJSONArray 从文本中提取 [...] 片段
// 取第一个 [ 到最后一个 ] 之间的内容，并做分隔符修复
func ExtractJSONArray(content string) (string, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start == -1 || end == -1 || end <= start {
		return "", ErrNoJSON
	}
	fragment := NormalizeDelimiters(content[start : end+1])
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		fragment = "[]"
	}
	return fragment, nil
}

// DecodeObject 提取并反序列化最外层 JSON 对象
func DecodeObject(content string, v any) error {
	fragment, err := ExtractJSONObject(content)
	if err != nil {
		return err
	}
	if !gjson.Valid(fragment) {
		return errors.New("extracted fragment is not valid JSON")
	}
	return json.Unmarshal([]byte(fragment), v)
}

// DecodeArray 提取并反序列化 JSON 数组
func DecodeArray(content string, v any) error {
	fragment, err := ExtractJSONArray(content)
	if err != nil {
		return err
	}
	if !gjson.Valid(fragment) {
		return errors.New("extracted fragment is not valid JSON")
	}
	return json.Unmarshal([]byte(fragment), v)
}

func ToJSON(v any) string {
	jsonData, err := json.Marshal(v)
	if err != nil {
		klog.Errorf("JSON序列化失败: %v", err)
		return ""
	}
	return string(jsonData)
}

func ToJSONIndent(v any) string {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		klog.Errorf("JSON序列化失败: %v", err)
		return ""
	}
	return string(jsonData)
}

// ExtractMarkdown 从文本中提取 Markdown 内容
// 尝试提取 ```markdown ... ``` 代码块，如果没有代码块则返回原始内容
func ExtractMarkdown(content string) string {
	const fence = "```"

	start := strings.Index(content, fence)
	if start == -1 {
		return content
	}

	// 跳过 ``` 与可选的语言标识
	head := start + len(fence)
	lineEnd := strings.IndexAny(content[head:], "\r\n")
	if lineEnd == -1 {
		return content
	}
	lang := strings.TrimSpace(content[head : head+lineEnd])
	if lang != "" && !strings.EqualFold(lang, "markdown") && !strings.EqualFold(lang, "md") {
		return content
	}
	bodyStart := head + lineEnd
	for bodyStart < len(content) && (content[bodyStart] == '\r' || content[bodyStart] == '\n') {
		bodyStart++
	}

	end := strings.Index(content[bodyStart:], fence)
	if end == -1 {
		return content
	}

	return strings.TrimSpace(content[bodyStart : bodyStart+end])
}
