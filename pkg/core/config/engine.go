package config

import (
	"time"

	"github.com/easyops/contextengine/pkg/core/errors"
	"github.com/easyops/contextengine/pkg/knowledge"
)

// EngineConfig 引擎配置
type EngineConfig struct {
	// DefaultLanguage 不支持的语言回退到该语言
	// 默认: en
	DefaultLanguage string `koanf:"default_language"`
	// FragmentCap 每轮附加片段上限
	// 默认: 12
	FragmentCap int `koanf:"fragment_cap"`
	// BroadRecall 关键词命中时仍然执行向量检索
	BroadRecall bool `koanf:"broad_recall"`
}

// Validate 验证引擎配置
func (c *EngineConfig) Validate() error {
	if _, ok := knowledge.ParseLanguage(c.DefaultLanguage); !ok {
		return errors.NewConfigurationError("engine", "unsupported default language %q", c.DefaultLanguage)
	}
	if c.FragmentCap < 1 {
		return errors.NewConfigurationError("engine", "fragment cap must be positive, got %d", c.FragmentCap)
	}
	return nil
}

// WithDefaults 返回带默认值的配置
func (c EngineConfig) WithDefaults() EngineConfig {
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = string(knowledge.LanguageEnglish)
	}
	if c.FragmentCap == 0 {
		c.FragmentCap = 12
	}
	return c
}

// KnowledgeConfig 内容文件路径
type KnowledgeConfig struct {
	// FragmentsPath 片段与规则 YAML 文件
	FragmentsPath string `koanf:"fragments_path"`
	// ModulesPath 模块目录 YAML 文件
	ModulesPath string `koanf:"modules_path"`
}

// minFragmentChars 一个正文字符加截断标记
const minFragmentChars = 2

// PromptConfig 提示词组装配置
type PromptConfig struct {
	// MaxChars 提示词长度上限（字符数）
	// 默认: 8000
	MaxChars int `koanf:"max_chars"`
	// MinFragmentChars 至少为一个片段保留的字符数
	// 默认: 200
	MinFragmentChars int `koanf:"min_fragment_chars"`
	// TokenModel 估算 token 使用的模型名称，"estimate" 表示按字符数估算
	// 默认: gpt-4o
	TokenModel string `koanf:"token_model"`
}

// Validate 验证组装配置
func (c *PromptConfig) Validate() error {
	if c.MaxChars < 1 {
		return errors.NewConfigurationError("prompt", "max_chars must be positive, got %d", c.MaxChars)
	}
	if c.MinFragmentChars < minFragmentChars || c.MinFragmentChars >= c.MaxChars {
		return errors.NewConfigurationError("prompt", "min_fragment_chars must be in [%d, max_chars), got %d", minFragmentChars, c.MinFragmentChars)
	}
	return nil
}

// WithDefaults 返回带默认值的配置
func (c PromptConfig) WithDefaults() PromptConfig {
	if c.MaxChars == 0 {
		c.MaxChars = 8000
	}
	if c.MinFragmentChars == 0 {
		c.MinFragmentChars = 200
	}
	if c.TokenModel == "" {
		c.TokenModel = "gpt-4o"
	}
	return c
}

// MonitorConfig 性能监控阈值
type MonitorConfig struct {
	// RetrievalThreshold 检索阶段阈值
	// 默认: 3.5s
	RetrievalThreshold time.Duration `koanf:"retrieval_threshold"`
	// SelectionThreshold 模块选择阶段阈值
	// 默认: 2s
	SelectionThreshold time.Duration `koanf:"selection_threshold"`
	// CompositionThreshold 组装阶段阈值
	// 默认: 2s
	CompositionThreshold time.Duration `koanf:"composition_threshold"`
	// TotalThreshold 整轮阈值
	// 默认: 8s
	TotalThreshold time.Duration `koanf:"total_threshold"`
}

// Validate 验证监控配置
func (c *MonitorConfig) Validate() error {
	thresholds := []struct {
		name string
		d    time.Duration
	}{
		{"retrieval_threshold", c.RetrievalThreshold},
		{"selection_threshold", c.SelectionThreshold},
		{"composition_threshold", c.CompositionThreshold},
		{"total_threshold", c.TotalThreshold},
	}
	for _, t := range thresholds {
		if t.d < 0 {
			return errors.NewConfigurationError("monitor", "%s must not be negative", t.name)
		}
	}
	return nil
}

// WithDefaults 返回带默认值的配置
func (c MonitorConfig) WithDefaults() MonitorConfig {
	if c.RetrievalThreshold == 0 {
		c.RetrievalThreshold = 3500 * time.Millisecond
	}
	if c.SelectionThreshold == 0 {
		c.SelectionThreshold = 2 * time.Second
	}
	if c.CompositionThreshold == 0 {
		c.CompositionThreshold = 2 * time.Second
	}
	if c.TotalThreshold == 0 {
		c.TotalThreshold = 8 * time.Second
	}
	return c
}

// SessionStoreType 会话存储类型
type SessionStoreType string

const (
	// SessionStoreMemory 内存
	SessionStoreMemory SessionStoreType = "memory"
	// SessionStoreSQLite SQLite
	SessionStoreSQLite SessionStoreType = "sqlite"
)

// SessionConfig 会话存储配置
type SessionConfig struct {
	// Type 存储类型
	// 默认: memory
	Type SessionStoreType `koanf:"type"`
	// SQLitePath SQLite 数据库路径
	SQLitePath string `koanf:"sqlite_path"`
}

// Validate 验证会话配置
func (c *SessionConfig) Validate() error {
	switch c.Type {
	case SessionStoreMemory:
	case SessionStoreSQLite:
		if c.SQLitePath == "" {
			return errors.NewConfigurationError("session", "sqlite_path is required for sqlite store")
		}
	default:
		return errors.NewConfigurationError("session", "unknown store type %q", c.Type)
	}
	return nil
}

// WithDefaults 返回带默认值的配置
func (c SessionConfig) WithDefaults() SessionConfig {
	if c.Type == "" {
		c.Type = SessionStoreMemory
	}
	if c.Type == SessionStoreSQLite && c.SQLitePath == "" {
		c.SQLitePath = "sessions.db"
	}
	return c
}
