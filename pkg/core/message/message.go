// Package message 定义交给 LLM 协作方的消息
//
// 引擎只产出系统消息和用户消息，回复由调用方自己处理。
package message

import "errors"

// Role 消息角色
type Role string

const (
	// RoleSystem 组装好的系统提示词
	RoleSystem Role = "system"
	// RoleUser 用户原话
	RoleUser Role = "user"
	// RoleAssistant 模型回复
	RoleAssistant Role = "assistant"
)

// ErrInvalidMessage 消息角色未知或内容为空
var ErrInvalidMessage = errors.New("invalid message")

// Message 一条消息
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Name 可选的发送方名称，计入 Token
	Name string `json:"name,omitempty"`
}

// System 创建系统消息
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User 创建用户消息
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Validate 检查角色和内容
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
	default:
		return ErrInvalidMessage
	}
	if m.Content == "" {
		return ErrInvalidMessage
	}
	return nil
}
