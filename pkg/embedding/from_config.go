package embedding

import (
	"github.com/easyops/contextengine/pkg/core/config"
	"github.com/easyops/contextengine/pkg/core/errors"
)

// FromConfig 从配置创建嵌入器
//
// corpus 用于训练本地 TF-IDF 嵌入器，其他提供商忽略该参数。
// CacheSize 大于 0 时在外层包一层 LRU 缓存。
func FromConfig(cfg config.EmbeddingConfig, dimensions int, corpus []string) (Embedder, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var inner Embedder
	switch cfg.Provider {
	case config.EmbeddingOpenAI:
		opts := []Option{
			WithAPIKey(cfg.APIKey),
			WithModel(cfg.Model),
			WithMaxRetries(cfg.MaxRetries),
			WithRetryDelay(cfg.RetryDelay),
			WithDimensions(dimensions),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.BaseURL))
		}
		e, err := NewOpenAIEmbedder(opts...)
		if err != nil {
			return nil, errors.NewConfigurationError("embedding", "create openai embedder: %v", err)
		}
		inner = e
	case config.EmbeddingTFIDF:
		e := NewTFIDFEmbedder()
		e.Fit(corpus)
		inner = e
	default:
		return nil, errors.NewConfigurationError("embedding", "unsupported provider %q", cfg.Provider)
	}

	if cfg.CacheSize <= 0 {
		return inner, nil
	}

	cached, err := NewCachedEmbedder(inner, cfg.CacheSize)
	if err != nil {
		return nil, errors.NewConfigurationError("embedding", "create cache: %v", err)
	}
	return cached, nil
}
