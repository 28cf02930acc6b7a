package weather

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"espeleo-club/backend/config"
)

var (
	ErrInvalidEndpoint = errors.New("endpoint 必须是相对路径")
	ErrUpstream        = errors.New("气象服务请求失败")
)

// maxBodyBytes 上游响应体上限
const maxBodyBytes = 4 << 20

// Response 上游响应（原样转发）
type Response struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// Client AEMET OpenData 转发客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 创建转发客户端
func NewClient(cfg *config.WeatherConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NormalizeEndpoint 校验并规范化 endpoint 参数
// 仅允许基于 baseURL 的相对路径，拒绝完整 URL 与路径穿越
func NormalizeEndpoint(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" || strings.Contains(endpoint, "..") || strings.Contains(endpoint, "://") || strings.HasPrefix(endpoint, "//") {
		return "", ErrInvalidEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "", ErrInvalidEndpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return endpoint, nil
}

// Fetch 以 apiKey 调用上游 endpoint，返回原始响应
func (c *Client) Fetch(ctx context.Context, endpoint, apiKey string) (*Response, error) {
	path, err := NormalizeEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, ErrInvalidEndpoint
	}
	q := u.Query()
	q.Set("api_key", apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("%w: 响应体超过 %d 字节", ErrUpstream, maxBodyBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        body,
	}, nil
}
