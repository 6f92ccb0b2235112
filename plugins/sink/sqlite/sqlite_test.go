package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parabatch/pkg/contract"
)

func setupSink(t *testing.T) *Sink {
	t.Helper()
	raw, _ := json.Marshal(Options{Path: filepath.Join(t.TempDir(), "db", "runs.db")})
	s, err := New(raw)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func run(id string, started time.Time, reqs int) contract.RunSummary {
	s := contract.RunSummary{
		RunID: id, Status: contract.RunSuccess, Mode: contract.ModeDual, Input: id + ".txt",
		StartedAt: started, DurationSeconds: 12.5, RecoveryCalls: 1,
	}
	for i := 1; i <= reqs; i++ {
		s.Requests = append(s.Requests, contract.RequestSummary{
			Index: i, Items: 3, Words: 400, Accounts: []contract.AccountKey{contract.Acc1, contract.Acc3},
			EstimatedSeconds: 4.2, Capacity: 900,
		})
	}
	return s
}

// 写入与查询：按开始时间倒序，请求数来自 requests 表
func TestAppendAndRecent(t *testing.T) {
	s := setupSink(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append(ctx, run("a", t0, 2)))
	require.NoError(t, s.Append(ctx, run("b", t0.Add(time.Hour), 1)))

	rows, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0].RunID)
	assert.Equal(t, 1, rows[0].Requests)
	assert.Equal(t, "a", rows[1].RunID)
	assert.Equal(t, 2, rows[1].Requests)
	assert.Equal(t, contract.ModeDual, rows[1].Mode)
	assert.True(t, t0.Equal(rows[1].StartedAt))

	var accounts string
	require.NoError(t, s.db.QueryRow(`SELECT accounts FROM requests WHERE run_id='a' AND request_index=2`).Scan(&accounts))
	assert.Equal(t, "acc1,acc3", accounts)
}

// 同一 run_id 覆盖：状态与请求明细以最后一次为准
func TestAppendOverwrite(t *testing.T) {
	s := setupSink(t)
	ctx := context.Background()
	r := run("x", time.Now(), 3)
	require.NoError(t, s.Append(ctx, r))
	r.Status = contract.RunFailure
	r.ErrorCode = "fatal"
	r.Requests = r.Requests[:1]
	require.NoError(t, s.Append(ctx, r))

	rows, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, contract.RunFailure, rows[0].Status)
	assert.Equal(t, "fatal", rows[0].ErrorCode)
	assert.Equal(t, 1, rows[0].Requests)
}

// 重复打开不重复执行迁移
func TestReopen(t *testing.T) {
	p := filepath.Join(t.TempDir(), "r.db")
	s, err := Open(p)
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), run("a", time.Now(), 0)))
	require.NoError(t, s.Close())

	s, err = Open(p)
	require.NoError(t, err)
	defer s.Close()
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 1, n)
	rows, err := s.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, p, s.Path())
}
