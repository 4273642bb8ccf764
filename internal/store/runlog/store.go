// Package runlog 持久化批量执行的逐腿进度，供调用方轮询长任务状态。
package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

var memorySeq atomic.Int64

// Store 管理 runs / run_events 两张表。
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// RunStatus 是一次批量执行的当前快照。
type RunStatus struct {
	RunID       string     `json:"run_id"`
	PortfolioID string     `json:"portfolio_id,omitempty"`
	LegCount    int        `json:"leg_count"`
	Finished    bool       `json:"finished"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	Skipped     int        `json:"skipped"`
	StartedAt   int64      `json:"started_at"`
	FinishedAt  int64      `json:"finished_at,omitempty"`
	Events      []RunEvent `json:"events"`
}

// RunEvent 是单腿的一条进度记录。
type RunEvent struct {
	Seq       int    `json:"seq"`
	Symbol    string `json:"symbol"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Signature string `json:"signature,omitempty"`
	Retryable bool   `json:"retryable"`
	Timestamp int64  `json:"ts"`
}

// Open 打开（或创建）运行日志数据库。
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("runlog: 数据库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path))
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenMemory 打开进程内数据库，测试专用。每次调用得到独立实例。
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:runlog-%d?mode=memory&cache=shared", memorySeq.Add(1)))
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id       TEXT PRIMARY KEY,
    portfolio_id TEXT,
    leg_count    INTEGER NOT NULL,
    finished     INTEGER NOT NULL DEFAULT 0,
    succeeded    INTEGER NOT NULL DEFAULT 0,
    failed       INTEGER NOT NULL DEFAULT 0,
    skipped      INTEGER NOT NULL DEFAULT 0,
    started_at   INTEGER NOT NULL,
    finished_at  INTEGER
);
CREATE TABLE IF NOT EXISTS run_events (
    run_id    TEXT NOT NULL,
    seq       INTEGER NOT NULL,
    symbol    TEXT NOT NULL,
    status    TEXT NOT NULL,
    reason    TEXT,
    signature TEXT,
    retryable INTEGER NOT NULL DEFAULT 0,
    ts        INTEGER NOT NULL,
    PRIMARY KEY (run_id, seq)
);`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StartRun 登记一次新的批量执行。
func (s *Store) StartRun(ctx context.Context, runID, portfolioID string, legCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO runs (run_id, portfolio_id, leg_count, started_at) VALUES (?, ?, ?, ?)`,
		runID, portfolioID, legCount, time.Now().Unix())
	return err
}

// AppendEvent 追加一条逐腿进度。事件按腿的尝试顺序写入。
func (s *Store) AppendEvent(ctx context.Context, runID string, ev RunEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO run_events (run_id, seq, symbol, status, reason, signature, retryable, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, ev.Seq, ev.Symbol, ev.Status, ev.Reason, ev.Signature, boolToInt(ev.Retryable), time.Now().Unix())
	return err
}

// FinishRun 记录批次终态汇总。
func (s *Store) FinishRun(ctx context.Context, runID string, succeeded, failed, skipped int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished = 1, succeeded = ?, failed = ?, skipped = ?, finished_at = ? WHERE run_id = ?`,
		succeeded, failed, skipped, time.Now().Unix(), runID)
	return err
}

// GetRun 返回一次运行的快照（含全部事件）。
func (s *Store) GetRun(ctx context.Context, runID string) (*RunStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, COALESCE(portfolio_id, ''), leg_count, finished, succeeded, failed, skipped, started_at, COALESCE(finished_at, 0)
		 FROM runs WHERE run_id = ?`, runID)
	var status RunStatus
	var finished int
	if err := row.Scan(&status.RunID, &status.PortfolioID, &status.LegCount, &finished,
		&status.Succeeded, &status.Failed, &status.Skipped, &status.StartedAt, &status.FinishedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("运行不存在: %s", runID)
		}
		return nil, err
	}
	status.Finished = finished != 0

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, symbol, status, COALESCE(reason, ''), COALESCE(signature, ''), retryable, ts
		 FROM run_events WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ev RunEvent
		var retryable int
		if err := rows.Scan(&ev.Seq, &ev.Symbol, &ev.Status, &ev.Reason, &ev.Signature, &retryable, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.Retryable = retryable != 0
		status.Events = append(status.Events, ev)
	}
	return &status, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
