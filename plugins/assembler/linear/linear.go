package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"parabatch/pkg/contract"
)

// 输出格式。
const (
	FormatAuto  = ""      // 有段落用 text，否则 jsonl
	FormatText  = "text"  // 全部段落（可改写段落替换为结果），空行连接
	FormatJSONL = "jsonl" // 每项一行 {id,text,paraphrased}
)

// Options: 线性装配配置。
type Options struct {
	Format string `json:"format"`
}

type assembler struct {
	format string
}

// New 从原样 JSON Options 创建线性装配器。
func New(raw json.RawMessage) (contract.Assembler, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("linear options: %w", err)
		}
	}
	switch f := strings.ToLower(strings.TrimSpace(o.Format)); f {
	case FormatAuto, FormatText, FormatJSONL:
		return &assembler{format: f}, nil
	default:
		return nil, fmt.Errorf("linear: unknown format %q: %w", o.Format, contract.ErrInvalidInput)
	}
}

type line struct {
	ID          contract.ItemID `json:"id"`
	Text        string          `json:"text"`
	Paraphrased string          `json:"paraphrased"`
}

// Assemble 要求工作项 ID 严格升序且全部已写回（ValidateSequence）。
// text 格式下 ID 须落在段落下标范围内，否则返回 ErrSeqInvalid。
func (a *assembler) Assemble(ctx context.Context, doc contract.Document) (io.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := contract.ValidateSequence(doc.Items); err != nil {
		return nil, fmt.Errorf("linear: %s: %w", doc.FileID, err)
	}
	format := a.format
	if format == FormatAuto {
		format = FormatJSONL
		if doc.Paragraphs != nil {
			format = FormatText
		}
	}
	if format == FormatJSONL {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		for _, it := range doc.Items {
			out, _ := it.Resolved()
			if err := enc.Encode(line{ID: it.ID, Text: it.Text, Paraphrased: out}); err != nil {
				return nil, fmt.Errorf("linear: encode: %w", err)
			}
		}
		return &buf, nil
	}

	paras := make([]string, len(doc.Paragraphs))
	copy(paras, doc.Paragraphs)
	for _, it := range doc.Items {
		if it.ID < 0 || int(it.ID) >= len(paras) {
			return nil, fmt.Errorf("linear: item %d outside %d paragraphs: %w", it.ID, len(paras), contract.ErrSeqInvalid)
		}
		paras[it.ID], _ = it.Resolved()
	}
	if len(paras) == 0 {
		return strings.NewReader(""), nil
	}
	return strings.NewReader(strings.Join(paras, "\n\n") + "\n"), nil
}

var _ contract.Assembler = (*assembler)(nil)
