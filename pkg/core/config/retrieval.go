package config

import (
	"time"

	"github.com/easyops/contextengine/pkg/core/errors"
)

// RetrievalConfig 向量回退配置
type RetrievalConfig struct {
	// Enabled 是否启用向量回退
	Enabled bool `koanf:"enabled"`
	// TopK 返回结果数量
	// 默认: 4
	TopK int `koanf:"top_k"`
	// MinScore 最低相似度
	// 默认: 0.75
	MinScore float64 `koanf:"min_score"`
	// Timeout 单次检索超时
	// 默认: 2s
	Timeout time.Duration `koanf:"timeout"`
}

// Validate 验证检索配置
func (c *RetrievalConfig) Validate() error {
	if c.TopK < 1 {
		return errors.NewConfigurationError("retrieval", "top_k must be positive, got %d", c.TopK)
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return errors.NewConfigurationError("retrieval", "min_score must be in [0, 1], got %v", c.MinScore)
	}
	if c.Timeout < 0 {
		return errors.NewConfigurationError("retrieval", "timeout must not be negative")
	}
	return nil
}

// WithDefaults 返回带默认值的配置
func (c RetrievalConfig) WithDefaults() RetrievalConfig {
	if c.TopK == 0 {
		c.TopK = 4
	}
	if c.MinScore == 0 {
		c.MinScore = 0.75
	}
	if c.Timeout == 0 {
		c.Timeout = 2 * time.Second
	}
	return c
}

// EmbeddingProvider 嵌入提供商
type EmbeddingProvider string

const (
	// EmbeddingOpenAI OpenAI 兼容接口
	EmbeddingOpenAI EmbeddingProvider = "openai"
	// EmbeddingTFIDF 本地 TF-IDF，无需外部 API
	EmbeddingTFIDF EmbeddingProvider = "tfidf"
)

// IsValid 检查提供商是否有效
func (p EmbeddingProvider) IsValid() bool {
	switch p {
	case EmbeddingOpenAI, EmbeddingTFIDF:
		return true
	default:
		return false
	}
}

// EmbeddingConfig 嵌入配置
type EmbeddingConfig struct {
	// Provider 提供商
	// 默认: tfidf
	Provider EmbeddingProvider `koanf:"provider"`
	// Model 嵌入模型
	// 默认: text-embedding-3-small
	Model string `koanf:"model"`
	// APIKey API 密钥
	APIKey string `koanf:"api_key"`
	// BaseURL 自定义 API 端点
	BaseURL string `koanf:"base_url"`
	// MaxRetries 最大重试次数
	// 默认: 3, 最大: 10
	MaxRetries int `koanf:"max_retries"`
	// RetryDelay 重试间隔基数
	// 默认: 1s
	RetryDelay time.Duration `koanf:"retry_delay"`
	// CacheSize 查询向量缓存条数，负数表示关闭
	// 默认: 1024
	CacheSize int `koanf:"cache_size"`
	// BatchSize 建索引时每批文本数
	// 默认: 64
	BatchSize int `koanf:"batch_size"`
	// Concurrency 建索引并发批次数
	// 默认: 4
	Concurrency int `koanf:"concurrency"`
}

// Validate 验证嵌入配置
func (c *EmbeddingConfig) Validate() error {
	if !c.Provider.IsValid() {
		return errors.NewConfigurationError("embedding", "unsupported provider %q", c.Provider)
	}
	if c.Provider == EmbeddingOpenAI && c.APIKey == "" {
		return errors.NewConfigurationError("embedding", "openai provider requires api_key")
	}
	if c.MaxRetries < 0 {
		return errors.NewConfigurationError("embedding", "max_retries must not be negative")
	}
	if c.MaxRetries > 10 {
		c.MaxRetries = 10
	}
	if c.BatchSize < 1 || c.Concurrency < 1 {
		return errors.NewConfigurationError("embedding", "batch_size and concurrency must be positive")
	}
	return nil
}

// WithDefaults 返回带默认值的配置
func (c EmbeddingConfig) WithDefaults() EmbeddingConfig {
	if c.Provider == "" {
		c.Provider = EmbeddingTFIDF
	}
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
	if c.CacheSize == 0 {
		c.CacheSize = 1024
	}
	if c.BatchSize == 0 {
		c.BatchSize = 64
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
	return c
}

// VectorStoreType 向量存储类型
type VectorStoreType string

const (
	// VectorStoreMemory 进程内存储
	VectorStoreMemory VectorStoreType = "memory"
	// VectorStoreChromem chromem-go 嵌入式向量库
	VectorStoreChromem VectorStoreType = "chromem"
	// VectorStoreQdrant Qdrant
	VectorStoreQdrant VectorStoreType = "qdrant"
)

// VectorStoreConfig 向量存储配置
type VectorStoreConfig struct {
	// Type 存储类型
	// 默认: memory
	Type VectorStoreType `koanf:"type"`
	// Collection 集合名称
	// 默认: fragments
	Collection string `koanf:"collection"`
	// ChromemPath chromem 持久化目录，空表示纯内存
	ChromemPath string `koanf:"chromem_path"`
	// QdrantURL Qdrant 地址
	// 默认: http://localhost:6333
	QdrantURL string `koanf:"qdrant_url"`
	// QdrantAPIKey Qdrant API 密钥
	QdrantAPIKey string `koanf:"qdrant_api_key"`
	// Dimensions 向量维度，0 表示由嵌入器决定
	Dimensions int `koanf:"dimensions"`
	// Timeout 单次请求超时
	// 默认: 10s
	Timeout time.Duration `koanf:"timeout"`
}

// Validate 验证向量存储配置
func (c *VectorStoreConfig) Validate() error {
	switch c.Type {
	case VectorStoreMemory, VectorStoreChromem, VectorStoreQdrant:
	default:
		return errors.NewConfigurationError("vector_store", "unknown store type %q", c.Type)
	}
	if c.Collection == "" {
		return errors.NewConfigurationError("vector_store", "collection is required")
	}
	if c.Dimensions < 0 {
		return errors.NewConfigurationError("vector_store", "dimensions must not be negative")
	}
	return nil
}

// WithDefaults 返回带默认值的配置
func (c VectorStoreConfig) WithDefaults() VectorStoreConfig {
	if c.Type == "" {
		c.Type = VectorStoreMemory
	}
	if c.Collection == "" {
		c.Collection = "fragments"
	}
	if c.QdrantURL == "" {
		c.QdrantURL = "http://localhost:6333"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}
