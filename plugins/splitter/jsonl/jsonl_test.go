package jsonl

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parabatch/pkg/contract"
)

// 记录解析：缺省 id 顺延、word_count 覆盖、空文本跳过
func TestSplitRecords(t *testing.T) {
	in := `{"id": 10, "text": "alpha beta"}

{"text": "gamma", "word_count": 7}
{"id": 20, "text": "   "}
{"text": "delta epsilon zeta"}
`
	doc, err := New(nil).Split(context.Background(), "r.jsonl", strings.NewReader(in))
	require.NoError(t, err)
	assert.Nil(t, doc.Paragraphs)
	require.Len(t, doc.Items, 3)
	assert.Equal(t, contract.ItemID(10), doc.Items[0].ID)
	assert.Equal(t, 2, doc.Items[0].Words)
	assert.Equal(t, contract.ItemID(11), doc.Items[1].ID)
	assert.Equal(t, 7, doc.Items[1].Words)
	assert.Equal(t, contract.ItemID(21), doc.Items[2].ID)
}

func TestSplitErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"非 JSON", "not json\n", contract.ErrInvalidInput},
		{"逆序", `{"id":3,"text":"a"}` + "\n" + `{"id":2,"text":"b"}`, contract.ErrSeqInvalid},
		{"重复", `{"id":3,"text":"a"}` + "\n" + `{"id":3,"text":"b"}`, contract.ErrSeqInvalid},
		{"无可改写项", `{"id":1,"text":""}`, contract.ErrNoEligible},
		{"超长行", `{"text":"` + strings.Repeat("x", 200) + `"}`, contract.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&Options{MaxLineBytes: 100}).Split(context.Background(), "r.jsonl", strings.NewReader(tt.in))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMinWords(t *testing.T) {
	doc, err := New(&Options{MinWords: 2}).Split(context.Background(), "r.jsonl", strings.NewReader(`{"text":"one"}`+"\n"+`{"text":"two words"}`))
	require.NoError(t, err)
	require.Len(t, doc.Items, 1)
	assert.Equal(t, contract.ItemID(1), doc.Items[0].ID)
}
