package contract

import (
	"context"
	"io"
)

// Splitter: 将单文件字节流拆分为 Document（全部段落 + 可改写项）。
// 约束：
// 1) 不跨文件合并；
// 2) 工作项按 ID 严格升序且稳定；
// 3) 不改写文本语义（仅 CRLF→LF、零宽字符剔除等最小归一）；
// 4) 无内部并发、幂等。
type Splitter interface {
	Split(ctx context.Context, fileID FileID, r io.Reader) (Document, error)
}
