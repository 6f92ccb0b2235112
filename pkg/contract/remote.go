package contract

import (
	"context"
	"fmt"
	"strings"
)

// Delimiter: 批内条目分隔标记（大小写不敏感匹配）。
const Delimiter = "qbpdelim123"

// OutputField: 账户结果中承载改写文本的字段名（随模式而定）。
type OutputField string

const (
	FieldResult     OutputField = "result"
	FieldSecondMode OutputField = "secondMode"
)

// BatchRequest: 单次出站请求；Payload 每个账户一段分隔文本。
type BatchRequest struct {
	Mode    Mode
	Payload map[AccountKey]string
}

// Accounts 返回按固定顺序排列的载荷账户。
func (r BatchRequest) Accounts() []AccountKey {
	out := make([]AccountKey, 0, len(r.Payload))
	for _, k := range AccountKeys {
		if _, ok := r.Payload[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// AccountReply: 单账户响应。字段缺失即为空串。
type AccountReply struct {
	Result       string
	SecondMode   string
	Error        string
	FallbackUsed string
}

// Field 按字段名取值。
func (a AccountReply) Field(f OutputField) string {
	if f == FieldSecondMode {
		return a.SecondMode
	}
	return a.Result
}

// BatchResponse: 以账户为键的响应。
type BatchResponse map[AccountKey]AccountReply

// Output 提取账户的改写输出。
// 账户缺失或成功字段为空时返回包裹 ErrResponseInvalid 的错误（带上游 error 字段）。
func (r BatchResponse) Output(acc AccountKey, f OutputField) (string, error) {
	rep, ok := r[acc]
	if !ok {
		return "", fmt.Errorf("missing response for account %s: %w", acc, ErrResponseInvalid)
	}
	out := rep.Field(f)
	if out == "" {
		msg := strings.TrimSpace(rep.Error)
		if msg == "" {
			msg = "missing paraphrased output"
		}
		return "", fmt.Errorf("account %s: %s: %w", acc, msg, ErrResponseInvalid)
	}
	return out, nil
}

// JoinPayload 以分隔标记串联文本：delim, text, delim, text…（以空行连接）。
func JoinPayload(texts []string) string {
	parts := make([]string, 0, 2*len(texts))
	for _, t := range texts {
		parts = append(parts, Delimiter, t)
	}
	return strings.Join(parts, "\n\n")
}

// ItemTexts 取工作项文本（保持顺序）。
func ItemTexts(items []*WorkItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Text
	}
	return out
}

// RemoteClient: 远端批量改写服务。
// 单次调用、同步返回；应尊重 ctx 取消/超时。
// 错误需可区分：传输类包裹 ErrTransport，形状类包裹 ErrResponseInvalid。
type RemoteClient interface {
	Call(ctx context.Context, req BatchRequest) (BatchResponse, error)
}

// HealthSource: 可选能力，返回健康快照原始 JSON。
type HealthSource interface {
	FetchHealth(ctx context.Context) ([]byte, error)
}
