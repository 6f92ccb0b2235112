package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"parabatch/pkg/contract"
	"parabatch/plugins/sink/sqlite/migrations"
)

// DefaultPath: 未配置时的数据库文件。
var DefaultPath = filepath.Join("logs", "parabatch.db")

// Options: SQLite 遥测库选项。
type Options struct {
	// Path: 数据库文件，默认 logs/parabatch.db。
	Path string `json:"path"`
}

// Sink 将运行摘要与请求明细写入 runs/requests 两张表。
type Sink struct {
	db   *sql.DB
	path string
}

// New 打开（必要时创建）数据库并执行迁移。
func New(raw json.RawMessage) (*Sink, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("sqlite sink options: %w", err)
		}
	}
	if o.Path == "" {
		o.Path = DefaultPath
	}
	return Open(o.Path)
}

// Open 打开 path 处的数据库。
func Open(path string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite sink: creating directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("sqlite sink: opening database: %w", err)
	}
	s := &Sink{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite sink: running migrations: %w", err)
	}
	return s, nil
}

// Path 返回数据库文件路径。
func (s *Sink) Path() string { return s.path }

// Close 关闭数据库连接。
func (s *Sink) Close() error { return s.db.Close() }

// migrate 依次执行版本号大于当前记录的 NNN_name.up.sql。
func (s *Sink) migrate(fsys fs.FS) error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}
	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, name := range files {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// Append 在单个事务内写入 runs 行与全部 requests 行；同一 run_id 重复写入时覆盖。
func (s *Sink) Append(ctx context.Context, sum contract.RunSummary) error {
	payload, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("sqlite sink: marshalling summary: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite sink: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM requests WHERE run_id = ?`, sum.RunID); err != nil {
		return fmt.Errorf("sqlite sink: clearing requests: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, corr_id, status, mode, input, output, host, user_name, started_at,
			duration_seconds, items, total_words, initial_failures, recovery_calls,
			error_stage, error_code, error_message, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			output = excluded.output,
			duration_seconds = excluded.duration_seconds,
			items = excluded.items,
			total_words = excluded.total_words,
			initial_failures = excluded.initial_failures,
			recovery_calls = excluded.recovery_calls,
			error_stage = excluded.error_stage,
			error_code = excluded.error_code,
			error_message = excluded.error_message,
			payload = excluded.payload
	`, sum.RunID, sum.CorrID, string(sum.Status), string(sum.Mode), sum.Input, sum.Output, sum.Host, sum.User,
		sum.StartedAt.UTC(), sum.DurationSeconds, sum.Items, sum.TotalWords, sum.InitialFailures, sum.RecoveryCalls,
		sum.ErrorStage, sum.ErrorCode, sum.ErrorMessage, string(payload))
	if err != nil {
		return fmt.Errorf("sqlite sink: inserting run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO requests (run_id, request_index, items, words, accounts, estimated_seconds, capacity,
			trimmed, duration_seconds, initial_failures, recovery_calls)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("sqlite sink: preparing request insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range sum.Requests {
		accs := make([]string, len(r.Accounts))
		for i, a := range r.Accounts {
			accs[i] = string(a)
		}
		if _, err := stmt.ExecContext(ctx, sum.RunID, r.Index, r.Items, r.Words, strings.Join(accs, ","),
			r.EstimatedSeconds, r.Capacity, r.Trimmed, r.DurationSeconds, r.InitialFailures, r.RecoveryCalls); err != nil {
			return fmt.Errorf("sqlite sink: inserting request %d: %w", r.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite sink: commit: %w", err)
	}
	return nil
}

// RunRow: runs 表的查询视图。
type RunRow struct {
	RunID           string
	Status          contract.RunStatus
	Mode            contract.Mode
	Input           string
	StartedAt       time.Time
	DurationSeconds float64
	Requests        int
	RecoveryCalls   int
	ErrorCode       string
}

// Recent 返回最近 limit 次运行（按开始时间倒序）。
func (s *Sink) Recent(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.status, r.mode, r.input, r.started_at, r.duration_seconds, r.recovery_calls, r.error_code,
			(SELECT COUNT(*) FROM requests q WHERE q.run_id = r.run_id)
		FROM runs r
		ORDER BY r.started_at DESC, r.run_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite sink: querying runs: %w", err)
	}
	defer rows.Close()
	var out []RunRow
	for rows.Next() {
		var r RunRow
		var status, mode string
		if err := rows.Scan(&r.RunID, &status, &mode, &r.Input, &r.StartedAt, &r.DurationSeconds,
			&r.RecoveryCalls, &r.ErrorCode, &r.Requests); err != nil {
			return nil, fmt.Errorf("sqlite sink: scanning run: %w", err)
		}
		r.Status, r.Mode = contract.RunStatus(status), contract.Mode(mode)
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ contract.TelemetrySink = (*Sink)(nil)
