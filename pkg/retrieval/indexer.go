package retrieval

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/easyops/contextengine/pkg/core/errors"
	"github.com/easyops/contextengine/pkg/embedding"
	"github.com/easyops/contextengine/pkg/knowledge"
	"github.com/easyops/contextengine/pkg/otel"
)

// fragmentNamespace 片段向量 ID 的 UUID 命名空间
var fragmentNamespace = uuid.MustParse("6f1c9a52-3d0e-4b8f-9a61-2c7e5d4b1a90")

// RecordID 由片段内容哈希派生稳定的记录 ID
//
// 正文不变时 ID 不变，重复建索引只会覆盖而不会产生重复记录。
func RecordID(f *knowledge.Fragment) string {
	return uuid.NewSHA1(fragmentNamespace, []byte(f.Hash())).String()
}

// Indexer 片段向量索引器
//
// 启动时把知识索引中的全部片段嵌入并写入向量存储。
type Indexer struct {
	embedder    embedding.Embedder
	store       VectorStore
	batchSize   int
	concurrency int
	logger      otel.Logger
	metrics     otel.Metrics
}

// IndexerOption 配置 Indexer
type IndexerOption func(*Indexer)

// WithBatchSize 设置每批文本数
func WithBatchSize(n int) IndexerOption {
	return func(ix *Indexer) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

// WithConcurrency 设置并发批次数
func WithConcurrency(n int) IndexerOption {
	return func(ix *Indexer) {
		if n > 0 {
			ix.concurrency = n
		}
	}
}

// WithIndexerLogger 设置日志
func WithIndexerLogger(logger otel.Logger) IndexerOption {
	return func(ix *Indexer) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// WithIndexerMetrics 设置指标
func WithIndexerMetrics(metrics otel.Metrics) IndexerOption {
	return func(ix *Indexer) {
		if metrics != nil {
			ix.metrics = metrics
		}
	}
}

// NewIndexer 创建索引器
func NewIndexer(embedder embedding.Embedder, store VectorStore, opts ...IndexerOption) *Indexer {
	ix := &Indexer{
		embedder:    embedder,
		store:       store,
		batchSize:   64,
		concurrency: 4,
		logger:      otel.NewNoopLogger(),
		metrics:     otel.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Index 嵌入并写入全部片段，返回写入数量
//
// 任一批次失败会取消其余批次并返回第一个错误。
func (ix *Indexer) Index(ctx context.Context, index *knowledge.Index) (int, error) {
	fragments := index.Fragments()
	if len(fragments) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)

	for start := 0; start < len(fragments); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(fragments) {
			end = len(fragments)
		}
		batch := fragments[start:end]

		g.Go(func() error {
			return ix.indexBatch(gctx, batch)
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	ix.metrics.Counter(otel.MetricFragmentsIndexed).Add(ctx, int64(len(fragments)))
	ix.logger.Info("fragments indexed", "count", len(fragments))
	return len(fragments), nil
}

// indexBatch 处理单个批次
func (ix *Indexer) indexBatch(ctx context.Context, batch []*knowledge.Fragment) error {
	texts := make([]string, len(batch))
	for i, f := range batch {
		texts[i] = f.Body()
	}

	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: embed batch starting at %s: %v", errors.ErrEmbeddingFailed, batch[0].ID(), err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("%w: expected %d vectors, got %d", errors.ErrEmbeddingFailed, len(batch), len(vectors))
	}

	records := make([]Record, len(batch))
	for i, f := range batch {
		records[i] = Record{
			ID:         RecordID(f),
			FragmentID: f.ID(),
			Language:   f.Language(),
			Vector:     vectors[i],
		}
	}

	return ix.store.Upsert(ctx, records)
}
