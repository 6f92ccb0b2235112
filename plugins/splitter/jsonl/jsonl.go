package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"parabatch/pkg/contract"
)

// Options 为 JSONL Splitter 的可选配置。
type Options struct {
	// MinWords: 低于该词数的记录跳过。默认 1（仅跳过空文本）。
	MinWords int `json:"min_words"`
	// MaxLineBytes: 单行上限。默认 4MiB。
	MaxLineBytes int `json:"max_line_bytes"`
}

// record: 单行输入。id 缺省时为上一条 id+1（首条为 0）；word_count>0 时覆盖计算值。
type record struct {
	ID        *int64 `json:"id"`
	Text      string `json:"text"`
	WordCount int    `json:"word_count"`
}

// Splitter 读取每行一个 JSON 记录的输入；Document.Paragraphs 为 nil。
type Splitter struct {
	minWords int
	maxLine  int
}

// New 创建 JSONL Splitter。
func New(opts *Options) *Splitter {
	s := &Splitter{minWords: 1, maxLine: 4 << 20}
	if opts != nil {
		if opts.MinWords > 0 {
			s.minWords = opts.MinWords
		}
		if opts.MaxLineBytes > 0 {
			s.maxLine = opts.MaxLineBytes
		}
	}
	return s
}

// Split 解析记录；id 必须严格升序，否则返回 ErrSeqInvalid。
func (s *Splitter) Split(ctx context.Context, fileID contract.FileID, r io.Reader) (contract.Document, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, min(64*1024, s.maxLine)), s.maxLine)
	doc := contract.Document{FileID: fileID}
	next := int64(0)
	seen := false
	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return contract.Document{}, err
		}
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return contract.Document{}, fmt.Errorf("jsonl: line %d: %v: %w", line, err, contract.ErrInvalidInput)
		}
		id := next
		if rec.ID != nil {
			id = *rec.ID
			if seen && id < next {
				return contract.Document{}, fmt.Errorf("jsonl: line %d: id %d not ascending: %w", line, id, contract.ErrSeqInvalid)
			}
		}
		seen = true
		next = id + 1

		it := contract.NewWorkItem(contract.ItemID(id), rec.Text)
		if rec.WordCount > 0 {
			it.Words = rec.WordCount
		}
		if it.Text == "" || it.Words < s.minWords {
			continue
		}
		doc.Items = append(doc.Items, it)
	}
	if err := sc.Err(); err != nil {
		return contract.Document{}, fmt.Errorf("jsonl: read: %v: %w", err, contract.ErrInvalidInput)
	}
	if len(doc.Items) == 0 {
		return doc, fmt.Errorf("jsonl: %s: %w", fileID, contract.ErrNoEligible)
	}
	return doc, nil
}

var _ contract.Splitter = (*Splitter)(nil)
