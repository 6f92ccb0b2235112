package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"parabatch/pkg/contract"
	"parabatch/plugins/remote/mock"
)

// Options 定义可选项。
type Options struct {
	Prefix string `json:"prefix"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Client 是带状态的远端实现：
// 第一次 Call 返回传输错误；
// 第二次返回不带分隔标记的合并输出；
// 之后逐段回显。
type Client struct {
	prefix  string
	logPath string
	count   atomic.Int32
}

// New 构造 Client。
func New(raw json.RawMessage) (*Client, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("flaky options: %w", err)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "FLAKY"
	}
	return &Client{prefix: o.Prefix, logPath: o.LogPath}, nil
}

func (c *Client) log(s string) {
	if c.logPath == "" {
		return
	}
	_ = appendFile(c.logPath, s+"\n")
}

// appendFile 以追加方式写入。
func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

// Call 实现 contract.RemoteClient。
func (c *Client) Call(ctx context.Context, req contract.BatchRequest) (contract.BatchResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := c.count.Add(1)
	if n == 1 {
		c.log("transport")
		return nil, fmt.Errorf("flaky: simulated outage: %w", contract.ErrTransport)
	}
	out := make(contract.BatchResponse, len(req.Payload))
	for acc, text := range req.Payload {
		segs := mock.Segments(text)
		if n == 2 {
			out[acc] = mock.Reply(req.Mode, mock.Merge(c.prefix, segs))
		} else {
			out[acc] = mock.Reply(req.Mode, mock.Echo(c.prefix, segs))
		}
	}
	if n == 2 {
		c.log("merged")
	} else {
		c.log("ok")
	}
	return out, nil
}

// FetchHealth 恒报告全部账户 ready。
func (c *Client) FetchHealth(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []byte(`{"acc1":{"status":"ready"},"acc2":{"status":"ready"},"acc3":{"status":"ready"}}`), nil
}

var (
	_ contract.RemoteClient = (*Client)(nil)
	_ contract.HealthSource = (*Client)(nil)
)
