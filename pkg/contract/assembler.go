package contract

import (
	"context"
	"io"
)

// Assembler: 将已写回的 Document 装配为最终输出字节流。
// 约束：
//  1. 仅装配同一文档；
//  2. 工作项须按 ID 严格升序且全部已写回；
//  3. 不引入跨文件状态；
//  4. 序列违规返回 ErrSeqInvalid。
type Assembler interface {
	Assemble(ctx context.Context, doc Document) (io.Reader, error)
}
