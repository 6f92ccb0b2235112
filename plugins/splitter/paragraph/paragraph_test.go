package paragraph

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parabatch/pkg/contract"
)

const long = "This paragraph clearly has more than fifteen words in it so that the splitter treats it as eligible body text."

func ids(items []*contract.WorkItem) []contract.ItemID {
	out := make([]contract.ItemID, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

// 段落切分：空行分隔、CRLF 归一、标题与短段落不可改写
func TestSplitParagraphs(t *testing.T) {
	in := "# Introduction\r\n\r\n" + long + "\r\nsecond line  \r\n\r\n\r\nShort one.\n   \n" + long + "\n"
	doc, err := New(nil).Split(context.Background(), "a.txt", strings.NewReader(in))
	require.NoError(t, err)

	want := []string{"# Introduction", long + "\nsecond line", "Short one.", long}
	if diff := cmp.Diff(want, doc.Paragraphs); diff != "" {
		t.Fatalf("paragraphs mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []contract.ItemID{1, 3}, ids(doc.Items))
	assert.Equal(t, long+"\nsecond line", doc.Items[0].Text)
	assert.Equal(t, contract.CountWords(long)+2, doc.Items[0].Words)
	assert.Equal(t, contract.FileID("a.txt"), doc.FileID)
}

// 标题即使足够长也不可改写
func TestHeadingNeverEligible(t *testing.T) {
	_, err := New(nil).Split(context.Background(), "a.md", strings.NewReader("## "+long+"\n\nshort"))
	assert.ErrorIs(t, err, contract.ErrNoEligible)
}

func TestMinWordsOption(t *testing.T) {
	doc, err := New(&Options{MinWords: 2}).Split(context.Background(), "a.txt", strings.NewReader("one\n\ntwo words"))
	require.NoError(t, err)
	assert.Equal(t, []contract.ItemID{1}, ids(doc.Items))
}

func TestSplitErrors(t *testing.T) {
	_, err := New(&Options{MaxParagraphBytes: 10}).Split(context.Background(), "a.txt", strings.NewReader(long))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	_, err = New(&Options{MinWords: 1}).Split(context.Background(), "a.txt", strings.NewReader("bad \xff\xfe"))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(nil).Split(ctx, "a.txt", strings.NewReader(long))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = New(nil).Split(context.Background(), "empty.txt", strings.NewReader(""))
	assert.ErrorIs(t, err, contract.ErrNoEligible)
}
