// Package session 定义会话快照与会话存储协作者
//
// 引擎核心只读取快照并返回建议的更新，写入与同一会话的并发更新串行化由存储负责。
package session

import (
	"context"
	"time"

	"github.com/easyops/contextengine/pkg/knowledge"
)

// Context 会话快照
//
// 值类型，每个请求一份，核心不会修改它。
type Context struct {
	// SessionID 会话 ID
	SessionID string `json:"session_id"`
	// Language 会话语言
	Language knowledge.Language `json:"language,omitempty"`
	// LastTopic 上一轮的主题
	LastTopic string `json:"last_topic,omitempty"`
	// SeasonalContext 季节上下文（如 "summer"、"winter"）
	SeasonalContext string `json:"seasonal_context,omitempty"`
	// TimeContext 时段上下文（如 "morning"、"evening"）
	TimeContext string `json:"time_context,omitempty"`
}

// IsZero 判断快照是否没有可渲染的内容
func (c Context) IsZero() bool {
	return c.LastTopic == "" && c.SeasonalContext == "" && c.TimeContext == ""
}

// Update 核心建议的会话更新
type Update struct {
	// SessionID 会话 ID
	SessionID string `json:"session_id"`
	// LastTopic 新的上一轮主题（为空表示不变）
	LastTopic string `json:"last_topic,omitempty"`
	// Language 本轮使用的语言
	Language knowledge.Language `json:"language,omitempty"`
	// ProposedAt 建议时间
	ProposedAt time.Time `json:"proposed_at"`
}

// Apply 将更新应用到快照副本上
func (u Update) Apply(c Context) Context {
	if u.SessionID != "" {
		c.SessionID = u.SessionID
	}
	if u.LastTopic != "" {
		c.LastTopic = u.LastTopic
	}
	if u.Language != "" {
		c.Language = u.Language
	}
	return c
}

// Store 会话存储协作者
type Store interface {
	// Get 获取会话快照；不存在时返回只含 SessionID 的空快照
	Get(ctx context.Context, sessionID string) (Context, error)

	// Propose 提交核心建议的更新
	Propose(ctx context.Context, sessionID string, update Update) error

	// Close 关闭存储
	Close() error
}
