package httpbatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"parabatch/pkg/contract"
)

// Options: 批量改写服务的最小配置。
type Options struct {
	APIURL         string            `json:"api_url"`         // 例如 https://host/paraphrase-batch
	StatusURL      string            `json:"status_url"`      // 为空时由 api_url 推导
	TimeoutSeconds int               `json:"timeout_seconds"` // 单次 POST 超时（秒），默认 180
	ExtraHeaders   map[string]string `json:"extra_headers"`   // 追加请求头（鉴权代理等）
}

// DefaultTimeout: 未配置时的 POST 超时。
const DefaultTimeout = 180 * time.Second

func (o *Options) defaults() {
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = int(DefaultTimeout / time.Second)
	}
	if o.StatusURL == "" {
		o.StatusURL = StatusURL(o.APIURL)
	}
}

// Client 实现 contract.RemoteClient 与 contract.HealthSource。
type Client struct {
	url       string
	statusURL string
	timeout   time.Duration
	extraH    map[string]string
	do        func(*http.Request) (*http.Response, error)
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (*Client, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("httpbatch options: %w", err)
		}
	}
	return NewWithOptions(opts)
}

// NewWithOptions 从已解码的选项构造客户端。
func NewWithOptions(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIURL) == "" {
		return nil, fmt.Errorf("httpbatch: %w: missing api_url", contract.ErrInvalidInput)
	}
	opts.defaults()
	// 超时由每次调用的 ctx 控制，健康探测与 POST 使用不同上限
	hc := &http.Client{}
	return &Client{
		url:       opts.APIURL,
		statusURL: opts.StatusURL,
		timeout:   time.Duration(opts.TimeoutSeconds) * time.Second,
		extraH:    opts.ExtraHeaders,
		do:        hc.Do,
	}, nil
}

// StatusURL 由 API 地址推导健康端点：
// /paraphrase-batch 后缀替换为 /health；以 / 结尾追加 health；否则追加 /health。
func StatusURL(api string) string {
	switch {
	case strings.HasSuffix(api, "/paraphrase-batch"):
		return strings.TrimSuffix(api, "/paraphrase-batch") + "/health"
	case strings.HasSuffix(api, "/"):
		return api + "health"
	default:
		return api + "/health"
	}
}

// RequestError: 上游非 2xx 响应。包裹 ErrTransport；429 额外包裹 ErrRateLimited。
type RequestError struct {
	Status int
	Msg    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("httpbatch upstream %d: %s", e.Status, e.Msg)
}

func (e *RequestError) Unwrap() []error {
	if e.Status == http.StatusTooManyRequests {
		return []error{contract.ErrTransport, contract.ErrRateLimited}
	}
	return []error{contract.ErrTransport}
}

func (e *RequestError) UpstreamStatus() int     { return e.Status }
func (e *RequestError) UpstreamMessage() string { return e.Msg }

var _ contract.UpstreamError = (*RequestError)(nil)

// wireReply: 单账户响应的宽松形状，非字符串字段按缺失处理。
type wireReply struct {
	Result       any `json:"result"`
	SecondMode   any `json:"secondMode"`
	Error        any `json:"error"`
	FallbackUsed any `json:"fallbackUsed"`
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// Call 发送一次批请求：{"mode": m, "<acc>": text, ...}。
func (c *Client) Call(ctx context.Context, req contract.BatchRequest) (contract.BatchResponse, error) {
	body := make(map[string]string, len(req.Payload)+1)
	body["mode"] = string(req.Mode)
	for acc, text := range req.Payload {
		body[string(acc)] = text
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("httpbatch: encode: %v: %w", err, contract.ErrInvalidInput)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("httpbatch: new request: %v: %w", err, contract.ErrInvalidInput)
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")
	c.applyHeaders(hreq)

	data, err := c.roundTrip(hreq)
	if err != nil {
		return nil, err
	}
	return decodeResponse(data)
}

// FetchHealth 以 clamp(timeout, 2s, 10s) 的超时读取健康快照原始 JSON。
func (c *Client) FetchHealth(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout(c.timeout))
	defer cancel()
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statusURL, nil)
	if err != nil {
		return nil, fmt.Errorf("httpbatch: new request: %v: %w", err, contract.ErrInvalidInput)
	}
	hreq.Header.Set("Accept", "application/json")
	c.applyHeaders(hreq)
	return c.roundTrip(hreq)
}

func healthTimeout(d time.Duration) time.Duration {
	const lo, hi = 2 * time.Second, 10 * time.Second
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, v := range c.extraH {
		if k == "" {
			continue
		}
		r.Header.Set(k, v)
	}
}

// roundTrip 执行请求并返回 2xx 响应体；失败按 ErrTransport / RequestError 归类。
func (c *Client) roundTrip(r *http.Request) ([]byte, error) {
	resp, err := c.do(r)
	if err != nil {
		// 调用方取消时透传 ctx 错误，便于上层区分
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("httpbatch: %s %s: %v: %w", r.Method, r.URL.Redacted(), err, contract.ErrTransport)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		msg := strings.TrimSpace(string(snippet))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &RequestError{Status: resp.StatusCode, Msg: msg}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpbatch: read body: %v: %w", err, contract.ErrTransport)
	}
	return data, nil
}

// decodeResponse 宽松解析：顶层须为对象；仅识别已知账户键。
// 账户值不是对象时不收录，提取阶段按缺失该账户回复报错。
func decodeResponse(data []byte) (contract.BatchResponse, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil || top == nil {
		return nil, fmt.Errorf("httpbatch: response is not a JSON object: %w", contract.ErrResponseInvalid)
	}
	out := make(contract.BatchResponse, len(contract.AccountKeys))
	for _, acc := range contract.AccountKeys {
		raw, ok := top[string(acc)]
		if !ok {
			continue
		}
		var w wireReply
		if len(raw) == 0 || raw[0] != '{' || json.Unmarshal(raw, &w) != nil {
			continue
		}
		out[acc] = contract.AccountReply{
			Result:       str(w.Result),
			SecondMode:   str(w.SecondMode),
			Error:        str(w.Error),
			FallbackUsed: str(w.FallbackUsed),
		}
	}
	return out, nil
}

var (
	_ contract.RemoteClient = (*Client)(nil)
	_ contract.HealthSource = (*Client)(nil)
)
