package retrieval

import (
	"context"
	"sort"
	"sync"

	"github.com/easyops/contextengine/pkg/knowledge"
)

// MemoryStore 内存向量存储
//
// 精确余弦检索，适用于测试和片段数量较少的部署。
type MemoryStore struct {
	records []Record
	byID    map[string]int
	mu      sync.RWMutex
}

// NewMemoryStore 创建内存向量存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]int),
	}
}

// Upsert 批量写入，ID 已存在时覆盖
func (s *MemoryStore) Upsert(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		r.Vector = append([]float32(nil), r.Vector...)
		if i, ok := s.byID[r.ID]; ok {
			s.records[i] = r
			continue
		}
		s.byID[r.ID] = len(s.records)
		s.records = append(s.records, r)
	}
	return nil
}

// Search 相似度搜索
func (s *MemoryStore) Search(ctx context.Context, vector []float32, lang knowledge.Language, topK int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []Hit
	for _, rec := range s.records {
		if lang != "" && rec.Language != lang {
			continue
		}
		hits = append(hits, Hit{
			FragmentID: rec.FragmentID,
			Score:      cosineSimilarity(vector, rec.Vector),
		})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 按得分排序，同分保持写入顺序
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if topK > 0 && topK < len(hits) {
		hits = hits[:topK]
	}
	return hits, nil
}

// Count 返回记录数量
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Close 关闭存储
func (s *MemoryStore) Close() error {
	return nil
}

// compile-time interface check
var _ VectorStore = (*MemoryStore)(nil)
