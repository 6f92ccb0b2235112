package paragraph

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"parabatch/pkg/contract"
)

// DefaultMinWords: 可改写段落的最小词数。
const DefaultMinWords = 15

// Options 为段落 Splitter 的可选配置。
type Options struct {
	// MinWords: 低于该词数的段落保留原文、不参与改写。默认 15。
	MinWords int `json:"min_words"`
	// MaxParagraphBytes: 单段落最大字节数。0 表示不限制。
	MaxParagraphBytes int `json:"max_paragraph_bytes"`
}

// Splitter 按空行切分纯文本段落。
type Splitter struct {
	minWords int
	maxBytes int
}

// New 创建段落 Splitter。
func New(opts *Options) *Splitter {
	s := &Splitter{minWords: DefaultMinWords}
	if opts != nil {
		if opts.MinWords > 0 {
			s.minWords = opts.MinWords
		}
		if opts.MaxParagraphBytes > 0 {
			s.maxBytes = opts.MaxParagraphBytes
		}
	}
	return s
}

// Split 读取全部段落；段落 ID 为其在全部段落中的下标。
// Markdown 标题行（# 开头）与短段落不可改写；无可改写段落时返回 ErrNoEligible。
func (s *Splitter) Split(ctx context.Context, fileID contract.FileID, r io.Reader) (contract.Document, error) {
	br := bufio.NewReader(r)
	doc := contract.Document{FileID: fileID}
	var lines []string
	size := 0

	flush := func() error {
		if len(lines) == 0 {
			return nil
		}
		text := strings.Join(lines, "\n")
		lines, size = lines[:0], 0
		if !utf8.ValidString(text) {
			return fmt.Errorf("paragraph: invalid UTF-8 in paragraph %d: %w", len(doc.Paragraphs), contract.ErrInvalidInput)
		}
		id := contract.ItemID(len(doc.Paragraphs))
		doc.Paragraphs = append(doc.Paragraphs, text)
		if s.eligible(text) {
			doc.Items = append(doc.Items, contract.NewWorkItem(id, text))
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return contract.Document{}, err
		}
		line, eof, err := readTrimmedLine(br)
		if err != nil {
			return contract.Document{}, fmt.Errorf("paragraph: read: %w", err)
		}
		if eof {
			break
		}
		if strings.TrimSpace(line) == "" {
			if err := flush(); err != nil {
				return contract.Document{}, err
			}
			continue
		}
		size += len(line) + 1
		if s.maxBytes > 0 && size > s.maxBytes {
			return contract.Document{}, fmt.Errorf("paragraph: paragraph too large: %d > %d: %w", size, s.maxBytes, contract.ErrInvalidInput)
		}
		lines = append(lines, strings.TrimRight(line, " \t"))
	}
	if err := flush(); err != nil {
		return contract.Document{}, err
	}
	if len(doc.Items) == 0 {
		return doc, fmt.Errorf("paragraph: %s: %w", fileID, contract.ErrNoEligible)
	}
	return doc, nil
}

func (s *Splitter) eligible(text string) bool {
	if strings.HasPrefix(strings.TrimSpace(text), "#") {
		return false
	}
	return contract.CountWords(text) >= s.minWords
}

// readTrimmedLine 读取一行，归一 CRLF→LF，并去除结尾换行符；返回该行、是否 EOF。
func readTrimmedLine(br *bufio.Reader) (line string, eof bool, err error) {
	s, err := br.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			eof = true
		} else {
			return "", false, err
		}
	}
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	return s, eof && s == "", nil
}

var _ contract.Splitter = (*Splitter)(nil)
