// Package config 提供配置加载和管理功能
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/easyops/contextengine/pkg/core/errors"
	"github.com/easyops/contextengine/pkg/otel"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "CTXENGINE_"

// Config 全局配置结构
type Config struct {
	// Engine 引擎配置
	Engine EngineConfig `koanf:"engine"`
	// Knowledge 内容文件配置
	Knowledge KnowledgeConfig `koanf:"knowledge"`
	// Prompt 提示词组装配置
	Prompt PromptConfig `koanf:"prompt"`
	// Retrieval 向量回退配置
	Retrieval RetrievalConfig `koanf:"retrieval"`
	// Embedding 嵌入配置
	Embedding EmbeddingConfig `koanf:"embedding"`
	// VectorStore 向量存储配置
	VectorStore VectorStoreConfig `koanf:"vector_store"`
	// Session 会话存储配置
	Session SessionConfig `koanf:"session"`
	// Monitor 性能监控配置
	Monitor MonitorConfig `koanf:"monitor"`
	// Observability 可观测性配置
	Observability otel.Config `koanf:"observability"`
}

// Loader 配置加载器
type Loader struct {
	k *koanf.Koanf
}

// NewLoader 创建配置加载器
func NewLoader() *Loader {
	return &Loader{
		k: koanf.New("."),
	}
}

// LoadFile 从文件加载配置
func (l *Loader) LoadFile(path string) error {
	// 检查文件是否存在
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // 文件不存在不报错，使用默认值
	}

	switch {
	case strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml"):
		if err := l.k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return errors.NewConfigurationError("config", "load %s: %v", path, err)
		}
		return nil
	default:
		return errors.NewConfigurationError("config", "unsupported config file format: %s", path)
	}
}

// LoadEnv 从环境变量加载配置
//
// 双下划线分隔层级，单下划线保留在键名中：
// CTXENGINE_PROMPT__MAX_CHARS -> prompt.max_chars
func (l *Loader) LoadEnv(prefix string) error {
	return l.k.Load(env.Provider(prefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, prefix)
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil)
}

// Unmarshal 解析配置到结构体
func (l *Loader) Unmarshal(cfg *Config) error {
	return l.k.Unmarshal("", cfg)
}

// Get 获取配置值
func (l *Loader) Get(key string) interface{} {
	return l.k.Get(key)
}

// GetString 获取字符串配置值
func (l *Loader) GetString(key string) string {
	return l.k.String(key)
}

// GetInt 获取整数配置值
func (l *Loader) GetInt(key string) int {
	return l.k.Int(key)
}

// GetBool 获取布尔配置值
func (l *Loader) GetBool(key string) bool {
	return l.k.Bool(key)
}

// GetDuration 获取时间间隔配置值
func (l *Loader) GetDuration(key string) time.Duration {
	return l.k.Duration(key)
}

// Load 加载完整配置（文件 + 环境变量）
func Load(configPath string) (*Config, error) {
	loader := NewLoader()

	// 加载配置文件
	if configPath != "" {
		if err := loader.LoadFile(configPath); err != nil {
			return nil, err
		}
	}

	// 加载环境变量（优先级更高）
	if err := loader.LoadEnv(EnvPrefix); err != nil {
		return nil, err
	}

	// 解析到结构体
	cfg := &Config{}
	if err := loader.Unmarshal(cfg); err != nil {
		return nil, errors.NewConfigurationError("config", "unmarshal: %v", err)
	}

	// 应用默认值
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default 返回全部使用默认值的配置
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// WithDefaults 返回补全默认值的副本
func (c Config) WithDefaults() Config {
	applyDefaults(&c)
	return c
}

// applyDefaults 应用默认配置值
func applyDefaults(cfg *Config) {
	cfg.Engine = cfg.Engine.WithDefaults()
	cfg.Prompt = cfg.Prompt.WithDefaults()
	cfg.Retrieval = cfg.Retrieval.WithDefaults()
	cfg.Embedding = cfg.Embedding.WithDefaults()
	cfg.VectorStore = cfg.VectorStore.WithDefaults()
	cfg.Session = cfg.Session.WithDefaults()
	cfg.Monitor = cfg.Monitor.WithDefaults()
	cfg.Observability = cfg.Observability.WithDefaults()
}

// Validate 验证全部配置
func (c *Config) Validate() error {
	validators := []func() error{
		c.Engine.Validate,
		c.Prompt.Validate,
		c.Retrieval.Validate,
		c.Embedding.Validate,
		c.VectorStore.Validate,
		c.Session.Validate,
		c.Monitor.Validate,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	if err := c.Observability.Validate(); err != nil {
		return errors.NewConfigurationError("observability", "%v", err)
	}
	return nil
}
