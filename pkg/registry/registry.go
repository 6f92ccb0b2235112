package registry

import (
	"bytes"
	"encoding/json"
	"time"

	"parabatch/pkg/contract"
	linear "parabatch/plugins/assembler/linear"
	rfs "parabatch/plugins/reader/filesystem"
	"parabatch/plugins/remote/flaky"
	"parabatch/plugins/remote/httpbatch"
	"parabatch/plugins/remote/mock"
	sjsonl "parabatch/plugins/sink/jsonl"
	smd "parabatch/plugins/sink/markdown"
	ssql "parabatch/plugins/sink/sqlite"
	pjsonl "parabatch/plugins/splitter/jsonl"
	ppara "parabatch/plugins/splitter/paragraph"
	wfs "parabatch/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Endpoint: 顶层远端配置（api_url / timeout），在插件选项缺省时补齐。
type Endpoint struct {
	URL     string
	Timeout time.Duration
}

// RemoteClient: 远端客户端；均同时提供健康快照。
type RemoteClient interface {
	contract.RemoteClient
	contract.HealthSource
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewSplitter 工厂签名：接收原样 JSON Options。
type NewSplitter func(raw json.RawMessage) (contract.Splitter, error)

// NewRemote 工厂签名：原样 JSON Options 与顶层端点。
type NewRemote func(raw json.RawMessage, ep Endpoint) (RemoteClient, error)

// NewAssembler 工厂签名：接收原样 JSON Options。
type NewAssembler func(raw json.RawMessage) (contract.Assembler, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// NewSink 工厂签名：接收原样 JSON Options。
type NewSink func(raw json.RawMessage) (contract.TelemetrySink, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Splitter 工厂注册表。
var Splitter = map[string]NewSplitter{
	// paragraph: 空行分段的纯文本
	"paragraph": func(raw json.RawMessage) (contract.Splitter, error) {
		var opts ppara.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ppara.New(&opts), nil
	},
	// jsonl: 每行一个 {id,text} 记录
	"jsonl": func(raw json.RawMessage) (contract.Splitter, error) {
		var opts pjsonl.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return pjsonl.New(&opts), nil
	},
}

// Remote 工厂注册表。
var Remote = map[string]NewRemote{
	// http: 真实批量改写服务；api_url/timeout 缺省时取顶层端点
	"http": func(raw json.RawMessage, ep Endpoint) (RemoteClient, error) {
		var opts httpbatch.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		if opts.APIURL == "" {
			opts.APIURL = ep.URL
		}
		if opts.TimeoutSeconds <= 0 && ep.Timeout > 0 {
			opts.TimeoutSeconds = int(ep.Timeout / time.Second)
		}
		return httpbatch.NewWithOptions(opts)
	},
	"mock":  func(raw json.RawMessage, _ Endpoint) (RemoteClient, error) { return mock.New(raw) },
	"flaky": func(raw json.RawMessage, _ Endpoint) (RemoteClient, error) { return flaky.New(raw) },
}

// Assembler 工厂注册表。
var Assembler = map[string]NewAssembler{
	// linear: 按 ID 回填改写文本，输出 text 或 jsonl
	"linear": func(raw json.RawMessage) (contract.Assembler, error) { return linear.New(raw) },
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts), nil
	},
}

// Sink 工厂注册表；"none" 由配置层处理，不在此注册。
var Sink = map[string]NewSink{
	"markdown": func(raw json.RawMessage) (contract.TelemetrySink, error) {
		var opts smd.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		b, _ := json.Marshal(opts)
		return smd.New(b)
	},
	"jsonl": func(raw json.RawMessage) (contract.TelemetrySink, error) {
		var opts sjsonl.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		b, _ := json.Marshal(opts)
		return sjsonl.New(b)
	},
	"sqlite": func(raw json.RawMessage) (contract.TelemetrySink, error) {
		var opts ssql.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ssql.Open(optsPath(opts.Path))
	},
}

func optsPath(p string) string {
	if p == "" {
		return ssql.DefaultPath
	}
	return p
}
