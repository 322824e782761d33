package prompt

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/easyops/contextengine/pkg/core/message"
)

// TokenModelEstimate 不加载编码表，直接按字符数估算
const TokenModelEstimate = "estimate"

// 默认编码模型；未知模型退回 cl100k_base
const (
	defaultTokenModel    = "gpt-4o"
	fallbackTokenEncoder = "cl100k_base"
)

// TokenCounter Token 计数接口
//
// 字符预算才是硬约束，Token 数只作为报告附在组装结果上。
type TokenCounter interface {
	// Count 文本的 Token 数
	Count(text string) int
	// CountMessages 消息列表的 Token 数，含每条消息的角色开销
	CountMessages(messages []message.Message) int
}

// encodings 按模型缓存编码表，避免每个引擎重复加载
var encodings sync.Map

// loadEncoding 加载并缓存模型的编码表
func loadEncoding(model string) (*tiktoken.Tiktoken, error) {
	if enc, ok := encodings.Load(model); ok {
		return enc.(*tiktoken.Tiktoken), nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackTokenEncoder)
		if err != nil {
			return nil, err
		}
	}
	actual, _ := encodings.LoadOrStore(model, enc)
	return actual.(*tiktoken.Tiktoken), nil
}

// TiktokenCounter 基于 tiktoken 的精确计数
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

// NewTiktokenCounter 创建 tiktoken 计数器
//
// model 为空时使用 gpt-4o 的编码。编码表首次加载可能需要网络。
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	if model == "" {
		model = defaultTokenModel
	}
	enc, err := loadEncoding(model)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{encoding: enc, model: model}, nil
}

// Model 返回编码模型
func (c *TiktokenCounter) Model() string {
	return c.model
}

// Count 文本的 Token 数
func (c *TiktokenCounter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// CountMessages 按 OpenAI 的消息格式计数
func (c *TiktokenCounter) CountMessages(messages []message.Message) int {
	// <|start|>{role/name}\n{content}<|end|>\n
	return countMessages(c, messages, 3)
}

// EstimatedCounter 按字符数估算
//
// 编码表不可用或显式选择 estimate 时使用。
type EstimatedCounter struct {
	// CharsPerToken 每个 Token 的平均字符数，默认 4
	CharsPerToken float64
}

// NewEstimatedCounter 创建估算计数器
func NewEstimatedCounter() *EstimatedCounter {
	return &EstimatedCounter{CharsPerToken: 4}
}

// Count 按 rune 数估算
func (c *EstimatedCounter) Count(text string) int {
	perToken := c.CharsPerToken
	if perToken <= 0 {
		perToken = 4
	}
	return int(float64(utf8.RuneCountInString(text)) / perToken)
}

// CountMessages 估算消息列表的 Token 数
func (c *EstimatedCounter) CountMessages(messages []message.Message) int {
	return countMessages(c, messages, 4)
}

// countMessages 累加消息内容与固定开销，末尾加 3 个回复引导 Token
func countMessages(c TokenCounter, messages []message.Message, perMessage int) int {
	total := 3
	for _, msg := range messages {
		total += perMessage + c.Count(string(msg.Role)) + c.Count(msg.Content)
		if msg.Name != "" {
			total += c.Count(msg.Name) + 1
		}
	}
	return total
}

// DefaultTokenCounter 按模型选择计数器，编码表不可用时降级为估算
func DefaultTokenCounter(model string) TokenCounter {
	if model == TokenModelEstimate {
		return NewEstimatedCounter()
	}
	counter, err := NewTiktokenCounter(model)
	if err != nil {
		return NewEstimatedCounter()
	}
	return counter
}

var (
	_ TokenCounter = (*TiktokenCounter)(nil)
	_ TokenCounter = (*EstimatedCounter)(nil)
)
