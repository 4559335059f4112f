package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"ghibli-go/internal/config"
	"ghibli-go/internal/outbound"

	"github.com/go-playground/validator/v10"
	"github.com/gojektech/heimdall/v6"
)

// Stylizer 把公网可访问的图片 URL 交给风格化服务, 返回转换后图片的 URL。
type Stylizer interface {
	Stylize(ctx context.Context, imageURL string) (string, error)
}

// stylizeResponse 兼容两种响应: {"result":"<url>"} 与 {"result":{"imageUrl":"<url>"}}。
type stylizeResponse struct {
	Result json.RawMessage `json:"result"`
}

type stylizeResultObject struct {
	ImageURL string `json:"imageUrl"`
}

type convertedImage struct {
	URL string `validate:"required,url"`
}

// stylizerClient 是 Stylizer 的 HTTP 实现。
type stylizerClient struct {
	client     heimdall.Doer
	endpoint   *url.URL
	queryParam string
	validate   *validator.Validate
}

// NewStylizer 创建一个新的 Stylizer 实例。client 为 nil 时按配置创建 heimdall 客户端。
func NewStylizer(cfg config.StylizerConfig, client heimdall.Doer) (Stylizer, error) {
	endpoint, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("无效的风格化服务地址 '%s': %w", cfg.BaseURL, err)
	}
	if client == nil {
		client = outbound.NewClient(cfg.Timeout, cfg.Retries)
	}
	queryParam := cfg.QueryParam
	if queryParam == "" {
		queryParam = "imageUrl"
	}
	return &stylizerClient{
		client:     client,
		endpoint:   endpoint,
		queryParam: queryParam,
		validate:   validator.New(),
	}, nil
}

// Stylize 调用 GET <endpoint>?imageUrl=<imageURL>。
func (s *stylizerClient) Stylize(ctx context.Context, imageURL string) (string, error) {
	u := *s.endpoint
	q := u.Query()
	q.Set(s.queryParam, imageURL)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("创建风格化请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("请求风格化服务失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := outbound.ReadBody(resp)
	if err != nil {
		return "", fmt.Errorf("风格化服务返回错误: %w", err)
	}

	converted, err := parseStylizeResponse(body)
	if err != nil {
		return "", err
	}
	if err := s.validate.Struct(convertedImage{URL: converted}); err != nil {
		return "", fmt.Errorf("风格化服务返回的图片地址无效 '%s': %w", converted, err)
	}
	return converted, nil
}

func parseStylizeResponse(body []byte) (string, error) {
	var payload stylizeResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("解析风格化响应失败: %w", err)
	}
	raw := bytes.TrimSpace(payload.Result)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("风格化响应缺少 result 字段")
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("解析风格化结果失败: %w", err)
		}
		return s, nil
	}

	var obj stylizeResultObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("解析风格化结果失败: %w", err)
	}
	return obj.ImageURL, nil
}
