package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/easyops/contextengine/pkg/core/errors"
	"github.com/easyops/contextengine/pkg/knowledge"
)

// QdrantStore Qdrant 向量存储
//
// 基于 Qdrant REST API 的向量存储实现，集合在首次写入时按需创建。
type QdrantStore struct {
	baseURL    string
	apiKey     string
	collection string
	dimensions int
	httpClient *http.Client

	mu      sync.Mutex
	ensured bool
}

// QdrantConfig Qdrant 配置
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	// Dimensions 向量维度，0 表示取首批记录的维度
	Dimensions int
	Timeout    time.Duration
}

// NewQdrantStore 创建 Qdrant 向量存储
func NewQdrantStore(config QdrantConfig) (*QdrantStore, error) {
	if config.URL == "" {
		config.URL = "http://localhost:6333"
	}
	if config.Collection == "" {
		config.Collection = "fragments"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	return &QdrantStore{
		baseURL:    config.URL,
		apiKey:     config.APIKey,
		collection: config.Collection,
		dimensions: config.Dimensions,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

// ensureCollection 确保集合存在，失败后下次写入会重试
func (s *QdrantStore) ensureCollection(ctx context.Context, dimensions int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ensured {
		return nil
	}
	if err := s.createCollection(ctx, dimensions); err != nil {
		return err
	}
	s.ensured = true
	return nil
}

// createCollection 检查集合，不存在时创建
func (s *QdrantStore) createCollection(ctx context.Context, dimensions int) error {
	resp, err := s.do(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", s.collection), nil)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	resp.Body.Close()

	// 集合存在
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	if s.dimensions > 0 {
		dimensions = s.dimensions
	}

	createBody := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     dimensions,
			"distance": "Cosine",
		},
	}

	resp, err = s.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", s.collection), createBody)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to create collection: %s", string(body))
	}

	// 为语言字段建立 payload 索引，加速过滤
	indexBody := map[string]interface{}{
		"field_name":   metaLanguage,
		"field_schema": "keyword",
	}
	resp, err = s.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/index", s.collection), indexBody)
	if err != nil {
		return fmt.Errorf("failed to create payload index: %w", err)
	}
	resp.Body.Close()

	return nil
}

// Upsert 批量写入向量
func (s *QdrantStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	if err := s.ensureCollection(ctx, len(records[0].Vector)); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrVectorStoreFailed, err)
	}

	points := make([]map[string]interface{}, len(records))
	for i, r := range records {
		points[i] = map[string]interface{}{
			"id":     r.ID,
			"vector": r.Vector,
			"payload": map[string]interface{}{
				metaFragmentID: r.FragmentID,
				metaLanguage:   string(r.Language),
			},
		}
	}

	body := map[string]interface{}{
		"points": points,
	}

	resp, err := s.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", s.collection), body)
	if err != nil {
		return fmt.Errorf("%w: failed to upsert vectors: %v", errors.ErrVectorStoreFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: failed to upsert vectors: %s", errors.ErrVectorStoreFailed, string(respBody))
	}

	return nil
}

// Search 相似度搜索
func (s *QdrantStore) Search(ctx context.Context, vector []float32, lang knowledge.Language, topK int) ([]Hit, error) {
	body := map[string]interface{}{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}

	if lang != "" {
		body["filter"] = map[string]interface{}{
			"must": []map[string]interface{}{
				{
					"key":   metaLanguage,
					"match": map[string]interface{}{"value": string(lang)},
				},
			},
		}
	}

	resp, err := s.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", s.collection), body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to search: %v", errors.ErrVectorStoreFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: search failed: %s", errors.ErrVectorStoreFailed, string(respBody))
	}

	var result struct {
		Result []struct {
			ID      any                    `json:"id"`
			Score   float64                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", errors.ErrInvalidResponse, err)
	}

	hits := make([]Hit, 0, len(result.Result))
	for _, r := range result.Result {
		fragmentID, _ := r.Payload[metaFragmentID].(string)
		if fragmentID == "" {
			continue
		}
		hits = append(hits, Hit{FragmentID: fragmentID, Score: r.Score})
	}

	return hits, nil
}

// Count 返回记录数量
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	resp, err := s.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/count", s.collection),
		map[string]interface{}{"exact": true})
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count: %v", errors.ErrVectorStoreFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("%w: count failed: %s", errors.ErrVectorStoreFailed, string(respBody))
	}

	var result struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("%w: failed to decode response: %v", errors.ErrInvalidResponse, err)
	}
	return result.Result.Count, nil
}

// HealthCheck 健康检查
func (s *QdrantStore) HealthCheck(ctx context.Context) error {
	resp, err := s.do(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("qdrant not healthy: status %d", resp.StatusCode)
	}

	return nil
}

// Close 关闭连接
func (s *QdrantStore) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// do 创建并发送 HTTP 请求
func (s *QdrantStore) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	return s.httpClient.Do(req)
}

// compile-time interface check
var _ VectorStore = (*QdrantStore)(nil)
