package otel

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// 预定义的语义属性键
// 遵循 OpenTelemetry 语义约定
const (
	// 请求相关属性
	AttrRequestID     = "request.id"
	AttrSessionID     = "session.id"
	AttrLanguage      = "request.language"
	AttrUtterance     = "request.utterance_prefix"
	AttrStage         = "pipeline.stage"
	AttrThresholdMS   = "pipeline.threshold_ms"
	AttrModuleCount   = "prompt.module_count"
	AttrFragmentCount = "prompt.fragment_count"
	AttrPromptLength  = "prompt.length"
	AttrDropKind      = "prompt.drop_kind"

	// 检索相关属性
	AttrTopK          = "retrieval.top_k"
	AttrMinScore      = "retrieval.min_score"
	AttrDegradeReason = "retrieval.degrade_reason"
	AttrUsedFallback  = "retrieval.used_fallback"

	// 嵌入相关属性
	AttrEmbeddingProvider = "embedding.provider"
	AttrEmbeddingModel    = "embedding.model"
	AttrEmbeddingTexts    = "embedding.text_count"

	// Error 相关属性
	AttrErrorType      = "error.type"
	AttrErrorMessage   = "error.message"
	AttrErrorRetryable = "error.retryable"
)

// RequestID 创建请求 ID 属性
func RequestID(id string) attribute.KeyValue {
	return attribute.String(AttrRequestID, id)
}

// Language 创建请求语言属性
func Language(lang string) attribute.KeyValue {
	return attribute.String(AttrLanguage, lang)
}

// SessionID 创建会话 ID 属性
func SessionID(id string) attribute.KeyValue {
	return attribute.String(AttrSessionID, id)
}

// UsedFallback 本轮是否调用了向量回退
func UsedFallback(used bool) attribute.KeyValue {
	return attribute.Bool(AttrUsedFallback, used)
}

// Stage 创建流水线阶段属性
func Stage(name string) attribute.KeyValue {
	return attribute.String(AttrStage, name)
}

// EmbeddingModel 创建嵌入模型属性
func EmbeddingModel(provider, model string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrEmbeddingProvider, provider),
		attribute.String(AttrEmbeddingModel, model),
	}
}

// PromptShape 创建提示词形状属性
func PromptShape(modules, fragments, length int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrModuleCount, modules),
		attribute.Int(AttrFragmentCount, fragments),
		attribute.Int(AttrPromptLength, length),
	}
}

// ErrorAttrs 创建错误属性
func ErrorAttrs(errType, message string, retryable bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrErrorType, errType),
		attribute.String(AttrErrorMessage, message),
		attribute.Bool(AttrErrorRetryable, retryable),
	}
}

// toKeyValues 把指标属性转换为 OpenTelemetry 属性
func toKeyValues(attrs []Attr) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		switch v := a.Value.(type) {
		case string:
			kvs = append(kvs, attribute.String(a.Key, v))
		case bool:
			kvs = append(kvs, attribute.Bool(a.Key, v))
		case int:
			kvs = append(kvs, attribute.Int(a.Key, v))
		case int64:
			kvs = append(kvs, attribute.Int64(a.Key, v))
		case float64:
			kvs = append(kvs, attribute.Float64(a.Key, v))
		case fmt.Stringer:
			kvs = append(kvs, attribute.String(a.Key, v.String()))
		default:
			kvs = append(kvs, attribute.String(a.Key, fmt.Sprint(v)))
		}
	}
	return kvs
}
