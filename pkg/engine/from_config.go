package engine

import (
	"context"
	"io"
	"time"

	"github.com/easyops/contextengine/pkg/core/config"
	"github.com/easyops/contextengine/pkg/embedding"
	"github.com/easyops/contextengine/pkg/knowledge"
	"github.com/easyops/contextengine/pkg/module"
	"github.com/easyops/contextengine/pkg/monitor"
	"github.com/easyops/contextengine/pkg/otel"
	"github.com/easyops/contextengine/pkg/prompt"
	"github.com/easyops/contextengine/pkg/retrieval"
	"github.com/easyops/contextengine/pkg/session"
)

// shutdownTimeout 关闭遥测导出器的超时
const shutdownTimeout = 5 * time.Second

// NewFromConfig 按配置装配完整引擎
//
// 依次加载知识与模块文件、初始化可观测性、按需建立向量回退（嵌入全部片段
// 并写入向量存储）、创建会话存储。额外的 opts 会覆盖配置得到的选项。
// 启动期向量索引失败只记录告警，运行时回退会降级而不是让服务无法启动。
func NewFromConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	full := cfg.WithDefaults()
	cfg = &full
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	index, err := knowledge.LoadFile(cfg.Knowledge.FragmentsPath)
	if err != nil {
		return nil, err
	}
	registry, err := module.LoadFile(cfg.Knowledge.ModulesPath)
	if err != nil {
		return nil, err
	}

	provider, err := otel.NewProvider(cfg.Observability)
	if err != nil {
		return nil, err
	}
	closers := []io.Closer{shutdownCloser(provider.Shutdown, shutdownTimeout)}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}

	logger := provider.Logger()
	base := []Option{
		WithDefaultLanguage(knowledge.Language(cfg.Engine.DefaultLanguage)),
		WithFragmentCap(cfg.Engine.FragmentCap),
		WithBroadRecall(cfg.Engine.BroadRecall),
		WithPromptConfig(prompt.Config{
			MaxChars:         cfg.Prompt.MaxChars,
			MinFragmentChars: cfg.Prompt.MinFragmentChars,
		}),
		WithTokenCounter(prompt.DefaultTokenCounter(cfg.Prompt.TokenModel)),
		WithThresholds(monitor.ThresholdsFromConfig(cfg.Monitor)),
		WithLogger(logger),
		WithMetrics(provider.Metrics()),
		WithTracer(provider.Tracer()),
	}

	if cfg.Retrieval.Enabled {
		fallback, store, err := buildFallback(ctx, cfg, index, provider)
		if err != nil {
			cleanup()
			return nil, err
		}
		closers = append(closers, store)
		base = append(base, WithFallback(fallback))
	}

	sessions, err := session.NewStore(session.StoreType(cfg.Session.Type), cfg.Session.SQLitePath)
	if err != nil {
		cleanup()
		return nil, err
	}
	closers = append(closers, sessions)

	eng, err := New(index, registry, append(base, opts...)...)
	if err != nil {
		cleanup()
		return nil, err
	}

	eng.sessions = sessions
	eng.closers = closers

	logger.Info("engine ready",
		"fragments", index.Len(),
		"topics", len(index.Topics()),
		"modules", registry.Len(),
		"retrieval", cfg.Retrieval.Enabled,
		"session_store", cfg.Session.Type,
	)
	return eng, nil
}

// buildFallback 创建嵌入器、向量存储并建立片段索引
func buildFallback(ctx context.Context, cfg *config.Config, index *knowledge.Index, provider *otel.Provider) (*retrieval.Fallback, retrieval.VectorStore, error) {
	fragments := index.Fragments()
	corpus := make([]string, len(fragments))
	for i, f := range fragments {
		corpus[i] = f.Body()
	}

	embedder, err := embedding.FromConfig(cfg.Embedding, cfg.VectorStore.Dimensions, corpus)
	if err != nil {
		return nil, nil, err
	}
	embedder = embedding.NewTracedEmbedder(embedder, string(cfg.Embedding.Provider), cfg.Embedding.Model,
		embedding.WithTracer(provider.Tracer()),
		embedding.WithMetrics(provider.Metrics()),
	)

	storeCfg := cfg.VectorStore
	if storeCfg.Dimensions == 0 {
		storeCfg.Dimensions = embedder.Dimensions()
	}
	store, err := retrieval.StoreFromConfig(storeCfg)
	if err != nil {
		return nil, nil, err
	}

	logger := provider.Logger()
	indexer := retrieval.NewIndexer(embedder, store,
		retrieval.WithBatchSize(cfg.Embedding.BatchSize),
		retrieval.WithConcurrency(cfg.Embedding.Concurrency),
		retrieval.WithIndexerLogger(logger),
		retrieval.WithIndexerMetrics(provider.Metrics()),
	)
	if _, err := indexer.Index(ctx, index); err != nil {
		logger.Warn("vector indexing failed, fallback will degrade", "error", err)
	}

	opts := append(retrieval.FallbackFromConfig(cfg.Retrieval),
		retrieval.WithLogger(logger),
		retrieval.WithMetrics(provider.Metrics()),
	)
	return retrieval.NewFallback(retrieval.NewEmbeddingSearcher(embedder, store), index, opts...), store, nil
}
