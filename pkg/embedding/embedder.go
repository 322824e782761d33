// Package embedding 提供文本嵌入实现
//
// 向量回退通过 Embedder 接口获取查询与片段的向量，
// 支持 OpenAI 兼容接口、本地 TF-IDF 以及 LRU 缓存装饰。
package embedding

import "context"

// Embedder 嵌入接口
type Embedder interface {
	// Embed 将文本批量转换为向量，结果与输入一一对应
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions 返回向量维度，未知时返回 0
	Dimensions() int
}

// EmbedOne 嵌入单条文本
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, errInvalidCount(1, len(vectors))
	}
	return vectors[0], nil
}
