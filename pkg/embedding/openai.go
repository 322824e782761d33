package embedding

import (
	"context"
	"fmt"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/easyops/contextengine/pkg/core/errors"
)

// Option OpenAI 嵌入器配置选项函数
type Option func(*Options)

// Options OpenAI 嵌入器配置选项
type Options struct {
	// APIKey API 密钥
	APIKey string
	// BaseURL 自定义 API 端点
	BaseURL string
	// Model 嵌入模型
	Model string
	// Dimensions 请求的向量维度，0 表示使用模型默认值
	Dimensions int
	// MaxRetries 最大重试次数
	MaxRetries int
	// RetryDelay 重试间隔基数
	RetryDelay time.Duration
}

// DefaultOptions 返回默认选项
func DefaultOptions() *Options {
	return &Options{
		Model:      "text-embedding-3-small",
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// WithAPIKey 设置 API 密钥
func WithAPIKey(key string) Option {
	return func(o *Options) {
		o.APIKey = key
	}
}

// WithBaseURL 设置自定义端点
func WithBaseURL(url string) Option {
	return func(o *Options) {
		o.BaseURL = url
	}
}

// WithModel 设置嵌入模型
func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// WithDimensions 设置向量维度
func WithDimensions(n int) Option {
	return func(o *Options) {
		o.Dimensions = n
	}
}

// WithMaxRetries 设置最大重试次数
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithRetryDelay 设置重试间隔
func WithRetryDelay(d time.Duration) Option {
	return func(o *Options) {
		o.RetryDelay = d
	}
}

// OpenAIEmbedder OpenAI 兼容接口的嵌入实现
type OpenAIEmbedder struct {
	client  *openai.Client
	options *Options
}

// NewOpenAIEmbedder 创建 OpenAI 嵌入器
func NewOpenAIEmbedder(opts ...Option) (*OpenAIEmbedder, error) {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	if options.APIKey == "" {
		return nil, errors.ErrInvalidAPIKey
	}

	config := openai.DefaultConfig(options.APIKey)
	if options.BaseURL != "" {
		config.BaseURL = options.BaseURL
	}

	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(config),
		options: options,
	}, nil
}

// Model 返回嵌入模型名称
func (e *OpenAIEmbedder) Model() string {
	return e.options.Model
}

// Dimensions 返回向量维度
func (e *OpenAIEmbedder) Dimensions() int {
	return e.options.Dimensions
}

// Embed 生成文本嵌入向量
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.options.Model),
		Dimensions: e.options.Dimensions,
	}

	var resp openai.EmbeddingResponse
	var err error

	err = retry(ctx, e.options.MaxRetries, e.options.RetryDelay, func() error {
		resp, err = e.client.CreateEmbeddings(ctx, req)
		return mapOpenAIError(err)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrEmbeddingFailed, err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: %w", errors.ErrEmbeddingFailed, errInvalidCount(len(texts), len(resp.Data)))
	}

	// 响应按 index 对齐输入
	sort.SliceStable(resp.Data, func(i, j int) bool {
		return resp.Data[i].Index < resp.Data[j].Index
	})

	result := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		result[i] = data.Embedding
	}

	return result, nil
}

// mapOpenAIError 映射 OpenAI 错误到引擎错误
func mapOpenAIError(err error) error {
	if err == nil {
		return nil
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return errors.WrapError(err, "openai request failed")
	}

	switch status {
	case 401:
		return errors.ErrInvalidAPIKey
	case 404:
		return errors.ErrModelNotFound
	case 429:
		return errors.ErrRateLimited
	case 500, 502, 503, 504:
		return errors.ErrProviderUnavailable
	default:
		return fmt.Errorf("openai error (code=%d): %w", status, err)
	}
}

// compile-time interface check
var _ Embedder = (*OpenAIEmbedder)(nil)
