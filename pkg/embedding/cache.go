package embedding

import (
	"context"
	"slices"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder 带 LRU 缓存的嵌入器装饰
//
// 用户常重复同样的问题，缓存查询向量可以省掉一次网络往返。
// 只有未命中的文本会被发送给底层嵌入器。
// 缓存内外的向量互不共享底层数组，调用方可以修改返回值。
type CachedEmbedder struct {
	inner  Embedder
	cache  *lru.Cache[string, []float32]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedEmbedder 创建缓存嵌入器
func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// Embed 先查缓存，未命中的部分批量调用底层嵌入器
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))

	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if vec, ok := c.cache.Get(text); ok {
			result[i] = slices.Clone(vec)
			c.hits.Add(1)
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return result, nil
	}
	c.misses.Add(int64(len(missing)))

	vectors, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, errInvalidCount(len(missing), len(vectors))
	}

	for j, vec := range vectors {
		result[missingIdx[j]] = vec
		c.cache.Add(missing[j], slices.Clone(vec))
	}
	return result, nil
}

// Dimensions 返回底层嵌入器的维度
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// Stats 返回命中与未命中次数
func (c *CachedEmbedder) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len 返回缓存条数
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}

// Purge 清空缓存
func (c *CachedEmbedder) Purge() {
	c.cache.Purge()
}

// compile-time interface check
var _ Embedder = (*CachedEmbedder)(nil)
