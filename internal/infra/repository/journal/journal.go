package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
	"github.com/cocaine/cocaine-framework-go/internal/infra/database"
	"github.com/sirupsen/logrus"
)

// ============================================================================
// EntryDAO - 数据访问对象
// ============================================================================

// EntryDAO 一条发送记录
type EntryDAO struct {
	ID           string    `db:"id" json:"id"`
	Service      string    `db:"service" json:"service"`
	Handle       string    `db:"handle" json:"handle"`
	Urgent       bool      `db:"urgent" json:"urgent"`
	DeadlineMs   int64     `db:"deadline_ms" json:"deadline_ms"`
	TimeoutMs    int64     `db:"timeout_ms" json:"timeout_ms"`
	MaxRetries   int       `db:"max_retries" json:"max_retries"`
	PayloadBytes int       `db:"payload_bytes" json:"payload_bytes"`
	State        string    `db:"state" json:"state"`
	Detail       string    `db:"detail" json:"detail"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ============================================================================
// Repo - 接口定义
// ============================================================================

// Repo 发送记录仓库，同时实现 dealer.Journal
type Repo interface {
	dealer.Journal
	Get(ctx context.Context, id string) (*EntryDAO, error)
	List(ctx context.Context, service string, limit int) ([]*EntryDAO, error)
	CountByState(ctx context.Context) (map[string]int, error)
	Close() error
}

// ============================================================================
// repoSQLite - SQLite 实现
// ============================================================================

type repoSQLite struct {
	db *sql.DB
}

// NewRepoSQLite 创建基于 SQLite 的发送记录仓库
func NewRepoSQLite(cfg database.Config) (Repo, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}

	repo := &repoSQLite{db: db}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logrus.Infof("Journal initialized with SQLite at %s", cfg.DBPath)
	return repo, nil
}

func (r *repoSQLite) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS journal (
		id TEXT PRIMARY KEY,
		service TEXT NOT NULL,
		handle TEXT NOT NULL,
		urgent INTEGER NOT NULL DEFAULT 0,
		deadline_ms INTEGER NOT NULL DEFAULT 0,
		timeout_ms INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 0,
		payload_bytes INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_journal_service_created ON journal(service, created_at);
	CREATE INDEX IF NOT EXISTS idx_journal_state ON journal(state);
	`

	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// Close 关闭数据库连接
func (r *repoSQLite) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Record 写入一条发送记录
func (r *repoSQLite) Record(ctx context.Context, entry dealer.Entry) error {
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = entry.CreatedAt
	}

	query := `
		INSERT INTO journal (id, service, handle, urgent, deadline_ms, timeout_ms, max_retries,
			payload_bytes, state, detail, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.Destination.Service,
		entry.Destination.Handle,
		entry.Policy.Urgent,
		entry.Policy.Deadline.Milliseconds(),
		entry.Policy.Timeout.Milliseconds(),
		entry.Policy.MaxRetries,
		entry.Size,
		string(entry.State),
		entry.Detail,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record request %s: %w", entry.ID, err)
	}

	logrus.Debugf("Request %s recorded in journal", entry.ID)
	return nil
}

// Finish 更新请求的终态
func (r *repoSQLite) Finish(ctx context.Context, id string, state dealer.State, detail string) error {
	query := `UPDATE journal SET state = ?, detail = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, string(state), detail, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update request %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("request %s not found", id)
	}
	return nil
}

// Get 按 ID 获取记录
func (r *repoSQLite) Get(ctx context.Context, id string) (*EntryDAO, error) {
	query := `
		SELECT id, service, handle, urgent, deadline_ms, timeout_ms, max_retries,
			payload_bytes, state, detail, created_at, updated_at
		FROM journal
		WHERE id = ?
	`
	dao, err := scanEntry(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("request %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request %s: %w", id, err)
	}
	return dao, nil
}

// List 返回最近的记录，service 为空时不过滤
func (r *repoSQLite) List(ctx context.Context, service string, limit int) ([]*EntryDAO, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, service, handle, urgent, deadline_ms, timeout_ms, max_retries,
			payload_bytes, state, detail, created_at, updated_at
		FROM journal
		WHERE (? = '' OR service = ?)
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, service, service, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []*EntryDAO
	for rows.Next() {
		dao, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		entries = append(entries, dao)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal: %w", err)
	}
	return entries, nil
}

// CountByState 统计各状态的请求数
func (r *repoSQLite) CountByState(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM journal GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count journal: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*EntryDAO, error) {
	dao := &EntryDAO{}
	err := s.Scan(
		&dao.ID,
		&dao.Service,
		&dao.Handle,
		&dao.Urgent,
		&dao.DeadlineMs,
		&dao.TimeoutMs,
		&dao.MaxRetries,
		&dao.PayloadBytes,
		&dao.State,
		&dao.Detail,
		&dao.CreatedAt,
		&dao.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return dao, nil
}
