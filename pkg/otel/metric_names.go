package otel

// 预定义的指标名称
// 遵循 OpenTelemetry 语义约定
const (
	// 请求指标
	MetricRequests        = "contextengine.requests"         // 计数器: 处理的请求数
	MetricRequestDuration = "contextengine.request.duration" // 直方图: 单次请求总耗时(ms)
	MetricStageDuration   = "contextengine.stage.duration"   // 直方图: 各阶段耗时(ms)
	MetricThresholdBreach = "contextengine.threshold.breach" // 计数器: 超过阈值的阶段数

	// 检索指标
	MetricRetrievalRequests = "retrieval.requests"          // 计数器: 向量回退调用次数
	MetricRetrievalDuration = "retrieval.duration"          // 直方图: 向量回退耗时(ms)
	MetricRetrievalDegraded = "retrieval.degraded"          // 计数器: 降级次数
	MetricRetrievalMatches  = "retrieval.matches"           // 直方图: 过阈值的匹配数
	MetricFragmentsIndexed  = "retrieval.fragments.indexed" // 计数器: 写入向量存储的片段数

	// 嵌入指标
	MetricEmbeddingRequests = "embedding.requests" // 计数器: 嵌入请求次数
	MetricEmbeddingDuration = "embedding.duration" // 直方图: 嵌入耗时(ms)
	MetricEmbeddingErrors   = "embedding.errors"   // 计数器: 嵌入失败次数
	MetricEmbeddingTexts    = "embedding.texts"    // 计数器: 嵌入文本数

	// 组装指标
	MetricPromptLength = "prompt.length"       // 直方图: 提示词字符数
	MetricBudgetDrops  = "prompt.budget.drops" // 计数器: 因预算丢弃或截断的次数
)

// MetricUnit 指标单位
type MetricUnit string

const (
	UnitMilliseconds MetricUnit = "ms"
	UnitCount        MetricUnit = "1"
)

// MetricDescription 指标描述
type MetricDescription struct {
	Name        string
	Description string
	Unit        MetricUnit
	Type        string // counter, histogram, gauge
}

// PredefinedMetrics 预定义指标列表
var PredefinedMetrics = []MetricDescription{
	{MetricRequests, "Number of processed requests", UnitCount, "counter"},
	{MetricRequestDuration, "Total duration of a request", UnitMilliseconds, "histogram"},
	{MetricStageDuration, "Duration of a pipeline stage", UnitMilliseconds, "histogram"},
	{MetricThresholdBreach, "Number of stages over their latency threshold", UnitCount, "counter"},

	{MetricRetrievalRequests, "Number of vector fallback calls", UnitCount, "counter"},
	{MetricRetrievalDuration, "Duration of vector fallback calls", UnitMilliseconds, "histogram"},
	{MetricRetrievalDegraded, "Number of degraded vector fallback calls", UnitCount, "counter"},
	{MetricRetrievalMatches, "Number of matches above the score threshold", UnitCount, "histogram"},
	{MetricFragmentsIndexed, "Number of fragments written to the vector store", UnitCount, "counter"},

	{MetricEmbeddingRequests, "Number of embedding requests", UnitCount, "counter"},
	{MetricEmbeddingDuration, "Duration of embedding requests", UnitMilliseconds, "histogram"},
	{MetricEmbeddingErrors, "Number of failed embedding requests", UnitCount, "counter"},
	{MetricEmbeddingTexts, "Number of embedded texts", UnitCount, "counter"},

	{MetricPromptLength, "Length of composed prompts in characters", UnitCount, "histogram"},
	{MetricBudgetDrops, "Number of budget-driven drops and truncations", UnitCount, "counter"},
}

// describe 查找预定义指标的描述
func describe(name string) (MetricDescription, bool) {
	for _, d := range PredefinedMetrics {
		if d.Name == name {
			return d, true
		}
	}
	return MetricDescription{}, false
}
