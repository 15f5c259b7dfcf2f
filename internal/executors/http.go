package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kordes/nodeflow/pkg/schema"
)

const (
	defaultHTTPTimeout     = 30 * time.Second
	defaultMaxResponseSize = 10 * 1024 * 1024 // 10MB
)

// HTTPConfig configures the HttpRequest executor.
type HTTPConfig struct {
	Client          *http.Client
	DefaultTimeout  time.Duration
	MaxResponseSize int64
}

// httpRequestExecutor performs an HTTP call described by the node config.
// Transport failures are executor errors (subject to the node's onError
// policy); 4xx/5xx responses branch to the "error" output port so graphs can
// route on status without aborting.
type httpRequestExecutor struct {
	cfg HTTPConfig
}

func newHTTPRequestExecutor(cfg HTTPConfig) httpRequestExecutor {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = defaultMaxResponseSize
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	return httpRequestExecutor{cfg: cfg}
}

func (httpRequestExecutor) Type() string { return "HttpRequest" }

func (e httpRequestExecutor) Execute(ctx context.Context, in ExecInput) (*schema.Result, error) {
	url := stringParam(in.Node.Config, "url", "")
	if url == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "HttpRequest requires config.url")
	}
	method := strings.ToUpper(stringParam(in.Node.Config, "method", http.MethodGet))
	headers := stringMapParam(in.Node.Config, "headers")
	timeout := durationParam(in.Node.Config, "timeout", e.cfg.DefaultTimeout)

	// Request body: the "body" input wins over config.body.
	body, ok := in.Inputs["body"]
	if !ok {
		body = in.Node.Config["body"]
	}

	var reader io.Reader
	contentType := ""
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "HttpRequest: encode body: %s", err.Error()).WithCause(err)
		}
		reader = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, reader)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "HttpRequest: build request: %s", err.Error()).WithCause(err)
	}
	if contentType != "" && headers["Content-Type"] == "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := e.cfg.Client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "HttpRequest: %s", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxResponseSize))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "HttpRequest: read body: %s", err.Error()).WithCause(err)
	}

	// Auto-parse JSON bodies for downstream consumption.
	var parsed any = string(raw)
	if len(raw) > 0 && json.Valid(raw) {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			parsed = v
		}
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	payload := map[string]any{
		"status":     resp.StatusCode,
		"headers":    respHeaders,
		"body":       parsed,
		"durationMs": time.Since(start).Milliseconds(),
	}

	if resp.StatusCode >= 400 {
		return schema.Branch("error", map[string]any{"error": payload}), nil
	}
	return schema.Branch("response", map[string]any{"response": payload}), nil
}
