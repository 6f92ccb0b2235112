package contract

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNormalizeFileID 验证路径规范化逻辑。
func TestNormalizeFileID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"本地分隔符", filepath.Join("a", "b", "c"), "a/b/c"},
		{"Windows路径", "C:\\Users\\test\\file.txt", "C:/Users/test/file.txt"},
		{"清理多余斜杠", "path//to///file.txt", "path/to/file.txt"},
		{"处理父目录", "path/to/../from/file.txt", "path/from/file.txt"},
		{"空串", "", "."},
		{"混合分隔符", "src\\..\\test/./data\\\\file.txt", "test/data/file.txt"},
		{"复杂父目录", "a\\b\\c\\..\\..\\..\\..\\d", "../d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(NormalizeFileID(tt.input)))
		})
	}
}

// TestWorkItem 覆盖规范化、词数与一次性写回。
func TestWorkItem(t *testing.T) {
	it := NewWorkItem(3, "  \u200bhello   wide\u00a0world\ufeff \n")
	assert.Equal(t, ItemID(3), it.ID)
	assert.Equal(t, "hello   wide\u00a0world", it.Text)
	assert.Equal(t, 3, it.Words)

	_, ok := it.Resolved()
	assert.False(t, ok)
	require.NoError(t, it.Resolve("x"))
	err := it.Resolve("y")
	assert.ErrorIs(t, err, ErrInvariantViolation)
	got, ok := it.Resolved()
	assert.True(t, ok)
	assert.Equal(t, "x", got)
}

func TestCountWordsEmpty(t *testing.T) {
	assert.Equal(t, 0, CountWords(" \u200b "))
	assert.Equal(t, 2, CountWords("a\tb"))
}

func TestAccountKeyValid(t *testing.T) {
	assert.True(t, Acc2.Valid())
	assert.False(t, AccountKey("acc9").Valid())
}

// TestJoinPayload 交错拼接分隔标记与文本。
func TestJoinPayload(t *testing.T) {
	got := JoinPayload([]string{"one", "two"})
	assert.Equal(t, "qbpdelim123\n\none\n\nqbpdelim123\n\ntwo", got)
	assert.Equal(t, "", JoinPayload(nil))
}

func TestBatchResponseOutput(t *testing.T) {
	resp := BatchResponse{
		Acc1: {Result: "r1", SecondMode: "s1"},
		Acc2: {Error: "E_THROTTLED tripped until 10:00"},
	}
	out, err := resp.Output(Acc1, FieldSecondMode)
	require.NoError(t, err)
	assert.Equal(t, "s1", out)

	out, err = resp.Output(Acc1, FieldResult)
	require.NoError(t, err)
	assert.Equal(t, "r1", out)

	_, err = resp.Output(Acc2, FieldResult)
	require.ErrorIs(t, err, ErrResponseInvalid)
	assert.Contains(t, err.Error(), "tripped until")

	_, err = resp.Output(Acc3, FieldResult)
	require.ErrorIs(t, err, ErrResponseInvalid)
	assert.Contains(t, err.Error(), "acc3")
}

func TestBatchRequestAccounts(t *testing.T) {
	req := BatchRequest{Mode: ModeDual, Payload: map[AccountKey]string{Acc3: "c", Acc1: "a"}}
	assert.Equal(t, []AccountKey{Acc1, Acc3}, req.Accounts())
}

// TestFallbackError 聚合错误需同时可判定为恢复耗尽与各账户原因。
func TestFallbackError(t *testing.T) {
	cause := errors.New("boom")
	fe := &FallbackError{Label: "request 1 acc1:retry-d0", Failures: []AccountError{
		{Account: Acc1, Err: ErrTransport},
		{Account: Acc2, Err: cause},
		{Account: Acc3, Err: ErrResponseInvalid},
	}}
	var err error = fe
	assert.ErrorIs(t, err, ErrRecoveryExhausted)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrTransport)
	msg := err.Error()
	for _, k := range []string{"acc1", "acc2", "acc3", "request 1"} {
		assert.Contains(t, msg, k)
	}
	var ae *AccountError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, Acc1, ae.Account)
}

func TestValidateSegments(t *testing.T) {
	items := []*WorkItem{NewWorkItem(0, "a"), NewWorkItem(1, "b")}
	require.NoError(t, ValidateSegments(items, []string{"x", "y"}))
	assert.ErrorIs(t, ValidateSegments(items, []string{"x"}), ErrSegmentMismatch)
	assert.ErrorIs(t, ValidateSegments(items, []string{"x", " "}), ErrInvariantViolation)
}

func TestValidateSequence(t *testing.T) {
	a, b := NewWorkItem(1, "a"), NewWorkItem(2, "b")
	require.NoError(t, a.Resolve("A"))
	assert.ErrorIs(t, ValidateSequence([]*WorkItem{a, b}), ErrInvariantViolation)
	require.NoError(t, b.Resolve("B"))
	require.NoError(t, ValidateSequence([]*WorkItem{a, b}))
	assert.ErrorIs(t, ValidateSequence([]*WorkItem{b, a}), ErrSeqInvalid)
}

// BenchmarkNormalizeFileID 性能基准测试
func BenchmarkNormalizeFileID(b *testing.B) {
	paths := []string{
		"C:\\Users\\test\\Documents\\file.txt",
		"src/main/java/../../../test/data/file.txt",
		"very/long/path/with/many/segments/and/mixed\\separators/file.txt",
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, p := range paths {
			NormalizeFileID(p)
		}
	}
}
