package retrieval

import (
	"github.com/easyops/contextengine/pkg/core/config"
	"github.com/easyops/contextengine/pkg/core/errors"
)

// StoreFromConfig 从配置创建向量存储
func StoreFromConfig(cfg config.VectorStoreConfig) (VectorStore, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case config.VectorStoreMemory:
		return NewMemoryStore(), nil
	case config.VectorStoreChromem:
		store, err := NewChromemStore(ChromemConfig{
			Collection:  cfg.Collection,
			PersistPath: cfg.ChromemPath,
		})
		if err != nil {
			return nil, errors.NewConfigurationError("vector_store", "%v", err)
		}
		return store, nil
	case config.VectorStoreQdrant:
		return NewQdrantStore(QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.Collection,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
	default:
		return nil, errors.NewConfigurationError("vector_store", "unknown store type %q", cfg.Type)
	}
}

// FallbackFromConfig 从配置创建向量回退的参数选项
func FallbackFromConfig(cfg config.RetrievalConfig) []FallbackOption {
	cfg = cfg.WithDefaults()
	return []FallbackOption{
		WithTopK(cfg.TopK),
		WithMinScore(cfg.MinScore),
		WithTimeout(cfg.Timeout),
	}
}
