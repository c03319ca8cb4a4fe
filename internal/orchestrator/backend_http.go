package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"modelpool/pkg/types"
)

// HTTPBackend implements Backend by talking to a remote inference engine
// over its load/unload/status HTTP API.
type HTTPBackend struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewHTTPBackend constructs a client for the engine at rawURL.
func NewHTTPBackend(rawURL string, log zerolog.Logger) (*HTTPBackend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q: unsupported scheme %q", rawURL, u.Scheme)
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	// Timeout=0 intentionally: every call carries a context deadline set by
	// the orchestrator's retry wrapper.
	return &HTTPBackend{
		baseURL:    strings.TrimRight(rawURL, "/"),
		httpClient: &http.Client{Transport: tr, Timeout: 0},
		log:        log,
	}, nil
}

type loadRequest struct {
	ModelID   string `json:"model_id"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

type attachRequest struct {
	AdapterID string `json:"adapter_id"`
	BaseID    string `json:"base_id"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

type unloadRequest struct {
	ModelID string `json:"model_id"`
}

type statusResponse struct {
	State string `json:"state"`
}

func (b *HTTPBackend) Load(ctx context.Context, spec types.ModelSpec) error {
	return b.post(ctx, "/v1/load", loadRequest{
		ModelID:   spec.ID,
		Path:      spec.Path,
		SizeBytes: spec.SizeBytes,
	})
}

func (b *HTTPBackend) Attach(ctx context.Context, adapter, base types.ModelSpec) error {
	return b.post(ctx, "/v1/attach", attachRequest{
		AdapterID: adapter.ID,
		BaseID:    base.ID,
		Path:      adapter.Path,
		SizeBytes: adapter.SizeBytes,
	})
}

func (b *HTTPBackend) Unload(ctx context.Context, modelID string) error {
	return b.post(ctx, "/v1/unload", unloadRequest{ModelID: modelID})
}

func (b *HTTPBackend) Status(ctx context.Context, modelID string) (BackendState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/v1/models/"+url.PathEscape(modelID), nil)
	if err != nil {
		return BackendAbsent, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return BackendAbsent, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return BackendAbsent, nil
	}
	if resp.StatusCode/100 != 2 {
		return BackendAbsent, httpStatusError(resp)
	}
	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return BackendAbsent, fmt.Errorf("decode status: %w", err)
	}
	switch sr.State {
	case string(BackendLoading):
		return BackendLoading, nil
	case string(BackendReady):
		return BackendReady, nil
	default:
		return BackendAbsent, nil
	}
}

func (b *HTTPBackend) Close() error {
	b.httpClient.CloseIdleConnections()
	return nil
}

func (b *HTTPBackend) post(ctx context.Context, path string, body any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return httpStatusError(resp)
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return nil
}

// httpStatusError turns a non-2xx response into an error with a trimmed body
// snippet for diagnostics.
func httpStatusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		return fmt.Errorf("backend: %s", resp.Status)
	}
	return fmt.Errorf("backend: %s: %s", resp.Status, msg)
}
