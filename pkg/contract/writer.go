package contract

import (
	"context"
	"io"
)

// ArtifactID: 输出工件标识。与 FileID 同一表示；Writer 按自身规则映射为目标路径。
type ArtifactID = FileID

// Writer: 将装配结果持久化到目标介质。
// 约束：
//  1. 同一 ArtifactID 单写者；
//  2. 流式写入，按字节透传；
//  3. ctx 取消需尽快返回；
//  4. 错误直接上抛，不做重试。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}
