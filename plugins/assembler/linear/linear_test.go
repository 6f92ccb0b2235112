package linear

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parabatch/pkg/contract"
)

func resolved(id contract.ItemID, text, out string) *contract.WorkItem {
	it := contract.NewWorkItem(id, text)
	if out != "" {
		_ = it.Resolve(out)
	}
	return it
}

func read(t *testing.T, r io.Reader) string {
	t.Helper()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

// text：全部段落保序，可改写段落替换为结果
func TestAssembleText(t *testing.T) {
	a, err := New(nil)
	require.NoError(t, err)
	doc := contract.Document{
		FileID:     "a.txt",
		Paragraphs: []string{"# Title", "body one", "short", "body two"},
		Items:      []*contract.WorkItem{resolved(1, "body one", "new one"), resolved(3, "body two", "new two")},
	}
	r, err := a.Assemble(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nnew one\n\nshort\n\nnew two\n", read(t, r))
	assert.Equal(t, "body one", doc.Paragraphs[1], "源段落不被修改")
}

// jsonl：记录型输入默认 jsonl，也可显式指定
func TestAssembleJSONL(t *testing.T) {
	for _, raw := range []json.RawMessage{nil, json.RawMessage(`{"format":"JSONL"}`)} {
		a, err := New(raw)
		require.NoError(t, err)
		doc := contract.Document{FileID: "r.jsonl", Items: []*contract.WorkItem{resolved(4, "a <b>", "x"), resolved(9, "c", "y")}}
		r, err := a.Assemble(context.Background(), doc)
		require.NoError(t, err)
		assert.Equal(t, `{"id":4,"text":"a <b>","paraphrased":"x"}`+"\n"+`{"id":9,"text":"c","paraphrased":"y"}`+"\n", read(t, r))
	}
}

func TestAssembleErrors(t *testing.T) {
	a, _ := New(json.RawMessage(`{"format":"text"}`))
	tests := []struct {
		name string
		doc  contract.Document
		want error
	}{
		{"逆序", contract.Document{Paragraphs: []string{"a", "b"}, Items: []*contract.WorkItem{resolved(1, "b", "x"), resolved(0, "a", "y")}}, contract.ErrSeqInvalid},
		{"未写回", contract.Document{Paragraphs: []string{"a"}, Items: []*contract.WorkItem{resolved(0, "a", "")}}, contract.ErrInvariantViolation},
		{"越界", contract.Document{Paragraphs: []string{"a"}, Items: []*contract.WorkItem{resolved(3, "a", "x")}}, contract.ErrSeqInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Assemble(context.Background(), tt.doc)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := New(json.RawMessage(`{"format":"docx"}`))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Assemble(ctx, contract.Document{})
	assert.ErrorIs(t, err, context.Canceled)

	r, err := a.Assemble(context.Background(), contract.Document{})
	require.NoError(t, err)
	assert.Empty(t, read(t, r))
}
