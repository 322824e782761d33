package retrieval

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/philippgille/chromem-go"

	"github.com/easyops/contextengine/pkg/core/errors"
	"github.com/easyops/contextengine/pkg/knowledge"
)

const (
	metaFragmentID = "fragment_id"
	metaLanguage   = "language"
)

// ChromemStore 基于 chromem-go 的嵌入式向量存储
//
// 无需外部服务。PersistPath 非空时写入会同步落盘，
// 重启后从目录恢复。
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// ChromemConfig chromem 存储配置
type ChromemConfig struct {
	// Collection 集合名称
	Collection string
	// PersistPath 持久化目录，空表示纯内存
	PersistPath string
	// Compress 是否 gzip 压缩持久化文件
	Compress bool
}

// NewChromemStore 创建 chromem 向量存储
func NewChromemStore(cfg ChromemConfig) (*ChromemStore, error) {
	if cfg.Collection == "" {
		cfg.Collection = "fragments"
	}

	var db *chromem.DB
	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(cfg.PersistPath, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector database: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	// 向量由外部嵌入器预先计算，集合自身的嵌入函数不应被调用
	identity := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("%w: chromem collection expects precomputed vectors", errors.ErrEmbeddingFailed)
	}

	col, err := db.GetOrCreateCollection(cfg.Collection, nil, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", cfg.Collection, err)
	}

	return &ChromemStore{db: db, collection: col}, nil
}

// Upsert 批量写入，ID 已存在时覆盖
func (s *ChromemStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID: r.ID,
			Metadata: map[string]string{
				metaFragmentID: r.FragmentID,
				metaLanguage:   string(r.Language),
			},
			Embedding: r.Vector,
		}
	}

	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrVectorStoreFailed, err)
	}
	return nil
}

// Search 相似度搜索
func (s *ChromemStore) Search(ctx context.Context, vector []float32, lang knowledge.Language, topK int) ([]Hit, error) {
	// chromem 要求 nResults 不超过集合大小
	total := s.collection.Count()
	if total == 0 || topK <= 0 {
		return nil, nil
	}
	if topK > total {
		topK = total
	}

	var where map[string]string
	if lang != "" {
		where = map[string]string{metaLanguage: string(lang)}
	}

	results, err := s.collection.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrVectorStoreFailed, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			FragmentID: r.Metadata[metaFragmentID],
			Score:      float64(r.Similarity),
		})
	}
	return hits, nil
}

// Count 返回记录数量
func (s *ChromemStore) Count(_ context.Context) (int, error) {
	return s.collection.Count(), nil
}

// Close 关闭存储
//
// 持久化模式下每次写入都已落盘，这里无需额外操作。
func (s *ChromemStore) Close() error {
	return nil
}

// compile-time interface check
var _ VectorStore = (*ChromemStore)(nil)
