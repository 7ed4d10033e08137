// Package registry 查询 npm 兼容 Registry 上某个包的最新发布版本。
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Lookup 是后台检查依赖的外部协作者：返回指定包的最新版本号。
type Lookup interface {
	LatestVersion(ctx context.Context, name string) (string, error)
}

// LookupFunc 将普通函数适配为 Lookup，便于测试注入。
type LookupFunc func(ctx context.Context, name string) (string, error)

// LatestVersion 使 LookupFunc 满足 Lookup。
func (f LookupFunc) LatestVersion(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

// ErrNotFound 表示 Registry 上不存在该包或 dist-tag。
var ErrNotFound = errors.New("package not found in registry")

// StatusError 描述 Registry 返回的非 2xx 响应。
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("registry responded %s", e.Status)
}

func (e *StatusError) retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          10,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       30 * time.Second,
	TLSHandshakeTimeout:   5 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// Options 控制 Client 的上游地址、超时与重试行为。
type Options struct {
	BaseURL        string
	DistTag        string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	UserAgent      string
	HTTPClient     *http.Client
}

// Client 通过 GET {BaseURL}/{name}/{dist-tag} 获取最新版本。
type Client struct {
	baseURL        string
	distTag        string
	timeout        time.Duration
	maxRetries     int
	initialBackoff time.Duration
	userAgent      string
	httpClient     *http.Client
}

// NewClient 校验 BaseURL 并填充默认值。
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("registry base url required")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid registry url: %s", opts.BaseURL)
	}

	client := &Client{
		baseURL:        base,
		distTag:        opts.DistTag,
		timeout:        opts.Timeout,
		maxRetries:     opts.MaxRetries,
		initialBackoff: opts.InitialBackoff,
		userAgent:      opts.UserAgent,
		httpClient:     opts.HTTPClient,
	}
	if client.distTag == "" {
		client.distTag = "latest"
	}
	if client.timeout <= 0 {
		client.timeout = 5 * time.Second
	}
	if client.maxRetries < 0 {
		client.maxRetries = 0
	}
	if client.initialBackoff <= 0 {
		client.initialBackoff = 200 * time.Millisecond
	}
	if client.userAgent == "" {
		client.userAgent = "update-notifier"
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Transport: defaultTransport.Clone()}
	}
	return client, nil
}

// manifest 只解析 dist-tag 指向的 package.json 中需要的字段。
type manifest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// LatestVersion 在整体 timeout 内按指数退避重试，5xx/429 与网络错误可重试，
// 其余 4xx 立即失败。
func (c *Client) LatestVersion(ctx context.Context, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("package name required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	backoff := c.initialBackoff
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", fmt.Errorf("lookup %s: %w (last error: %v)", name, ctx.Err(), lastErr)
			case <-timer.C:
			}
			backoff *= 2
		}

		version, err := c.fetch(ctx, name)
		if err == nil {
			return version, nil
		}
		lastErr = err
		if !shouldRetry(err) || ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("lookup %s: %w", name, lastErr)
}

func (c *Client) fetch(ctx context.Context, name string) (string, error) {
	endpoint := c.baseURL + "/" + url.PathEscape(name) + "/" + url.PathEscape(c.distTag)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var body manifest
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode registry response: %w", err)
	}
	version := strings.TrimSpace(body.Version)
	if version == "" {
		return "", errors.New("registry response missing version")
	}
	return version, nil
}

func shouldRetry(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.retryable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}
