package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/easyops/contextengine/pkg/core/errors"
	"github.com/easyops/contextengine/pkg/knowledge"
)

// SQLiteStore SQLite 会话存储
//
// 基于 SQLite 的持久化会话存储。Propose 使用单条 UPSERT，
// 同一会话的并发更新由数据库串行化。
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore 创建 SQLite 会话存储
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 内存数据库每个连接各自独立，限制为单连接
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return store, nil
}

// initSchema 初始化表结构
func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		language TEXT NOT NULL DEFAULT '',
		last_topic TEXT NOT NULL DEFAULT '',
		seasonal_context TEXT NOT NULL DEFAULT '',
		time_context TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
	`

	_, err := s.db.Exec(query)
	return err
}

// Get 获取会话快照
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (Context, error) {
	query := `SELECT language, last_topic, seasonal_context, time_context FROM sessions WHERE id = ?`

	c := Context{SessionID: sessionID}
	var lang string
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&lang, &c.LastTopic, &c.SeasonalContext, &c.TimeContext,
	)
	if err == sql.ErrNoRows {
		return c, nil
	}
	if err != nil {
		return Context{}, errors.WrapError(fmt.Errorf("%w: %v", errors.ErrSessionStoreFailed, err), "get session")
	}

	c.Language = knowledge.Language(lang)
	return c, nil
}

// Put 写入完整快照
func (s *SQLiteStore) Put(ctx context.Context, c Context) error {
	query := `
	INSERT INTO sessions (id, language, last_topic, seasonal_context, time_context, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		language = excluded.language,
		last_topic = excluded.last_topic,
		seasonal_context = excluded.seasonal_context,
		time_context = excluded.time_context,
		updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		c.SessionID, string(c.Language), c.LastTopic, c.SeasonalContext, c.TimeContext,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return errors.WrapError(fmt.Errorf("%w: %v", errors.ErrSessionStoreFailed, err), "put session")
	}
	return nil
}

// Propose 应用核心建议的更新
//
// 空字段保留原值。
func (s *SQLiteStore) Propose(ctx context.Context, sessionID string, update Update) error {
	proposedAt := update.ProposedAt
	if proposedAt.IsZero() {
		proposedAt = time.Now()
	}

	query := `
	INSERT INTO sessions (id, language, last_topic, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		language = CASE WHEN excluded.language = '' THEN sessions.language ELSE excluded.language END,
		last_topic = CASE WHEN excluded.last_topic = '' THEN sessions.last_topic ELSE excluded.last_topic END,
		updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		sessionID, string(update.Language), update.LastTopic, proposedAt.UnixMilli(),
	)
	if err != nil {
		return errors.WrapError(fmt.Errorf("%w: %v", errors.ErrSessionStoreFailed, err), "propose session update")
	}
	return nil
}

// Delete 删除会话
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	return err
}

// PruneBefore 删除早于给定时间未更新的会话，返回删除数量
func (s *SQLiteStore) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, t.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close 关闭连接
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// compile-time interface check
var _ Store = (*SQLiteStore)(nil)
