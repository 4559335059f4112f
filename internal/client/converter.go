// Package client 是 /api/ghibli 的 Go 客户端, 与网页相同的状态流转:
// idle -> selected -> uploading -> success | error, Reset 回到 idle。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"ghibli-go/internal/imtypes"
	"ghibli-go/internal/outbound"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gojektech/heimdall/v6"
)

// State 是转换器当前所处的状态。
type State string

const (
	StateIdle      State = "idle"
	StateSelected  State = "selected"
	StateUploading State = "uploading"
	StateSuccess   State = "success"
	StateError     State = "error"
)

const (
	convertPath       = "/api/ghibli"
	networkErrMessage = "Network error. Please try again."
	defaultErrMessage = "Failed to convert image"
)

var (
	// ErrNotImage 选择的文件不是图片, 状态保持不变。
	ErrNotImage = errors.New("selected file is not an image")
	// ErrNothingSelected Convert 在没有选择文件时调用。
	ErrNothingSelected = errors.New("no image selected")
	// ErrBusy 上一次转换尚未结束。
	ErrBusy = errors.New("conversion already in progress")
	// ErrNoResult Download 在没有成功结果时调用。
	ErrNoResult = errors.New("no converted image to download")
)

// ConvertError 是服务器或网络返回的、可直接展示给用户的错误。
type ConvertError struct {
	StatusCode int // 网络错误时为 0
	Message    string
}

func (e *ConvertError) Error() string {
	return e.Message
}

type selectedImage struct {
	name     string
	data     []byte
	mimeType string
}

// Converter 维护一次上传-转换-下载流程的状态。并发安全。
type Converter struct {
	baseURL    string
	httpClient heimdall.Doer

	mu          sync.Mutex
	state       State
	selected    *selectedImage
	result      *imtypes.ConversionResult
	downloadURL string
	lastErr     error
	onChange    func(State)
}

// NewConverter 创建客户端。httpClient 为 nil 时使用默认的 heimdall 客户端。
func NewConverter(baseURL string, httpClient heimdall.Doer) *Converter {
	if httpClient == nil {
		httpClient = outbound.NewClient(0, 0)
	}
	return &Converter{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		state:      StateIdle,
	}
}

// OnStateChange 注册状态变化回调, 回调在持有锁之外调用。
func (c *Converter) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// State 返回当前状态。
func (c *Converter) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err 返回最近一次失败的原因。
func (c *Converter) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Result 返回最近一次成功的转换结果。
func (c *Converter) Result() *imtypes.ConversionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// SelectFile 读取本地文件并选择它。
func (c *Converter) SelectFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取文件失败: %w", err)
	}
	return c.Select(filepath.Base(path), data)
}

// Select 选择待转换的图片, 清除之前的结果和错误。非图片返回 ErrNotImage 且状态不变。
func (c *Converter) Select(name string, data []byte) error {
	mimeType := mimetype.Detect(data).String()
	if mimeType == "application/octet-stream" {
		// 无法识别的格式按扩展名判断, 与服务端一致
		mimeType, _, _ = strings.Cut(mime.TypeByExtension(strings.ToLower(filepath.Ext(name))), ";")
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return ErrNotImage
	}

	c.mu.Lock()
	if c.state == StateUploading {
		c.mu.Unlock()
		return ErrBusy
	}
	c.selected = &selectedImage{name: name, data: data, mimeType: mimeType}
	c.result = nil
	c.downloadURL = ""
	c.lastErr = nil
	notify := c.setStateLocked(StateSelected)
	c.mu.Unlock()

	notify()
	return nil
}

// Reset 取消选择, 回到 idle。
func (c *Converter) Reset() {
	c.mu.Lock()
	c.selected = nil
	c.result = nil
	c.downloadURL = ""
	c.lastErr = nil
	notify := c.setStateLocked(StateIdle)
	c.mu.Unlock()

	notify()
}

// Convert 上传已选择的图片。状态依次为 uploading, 然后 success 或 error。
func (c *Converter) Convert(ctx context.Context) (*imtypes.ConversionResult, error) {
	c.mu.Lock()
	if c.state == StateUploading {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	img := c.selected
	if img == nil {
		c.mu.Unlock()
		return nil, ErrNothingSelected
	}
	c.lastErr = nil
	notify := c.setStateLocked(StateUploading)
	c.mu.Unlock()
	notify()

	resp, err := c.postImage(ctx, img)

	c.mu.Lock()
	if err != nil {
		c.lastErr = err
		c.result = nil
		notify = c.setStateLocked(StateError)
	} else {
		c.result = resp.Data
		c.downloadURL = resp.DownloadURL
		notify = c.setStateLocked(StateSuccess)
	}
	c.mu.Unlock()
	notify()

	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// DownloadFileName 返回下载文件名 ghibli-<原始文件名>.png。
func (c *Converter) DownloadFileName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	name := "converted"
	if c.selected != nil && c.selected.name != "" {
		name = c.selected.name
	}
	return "ghibli-" + name + ".png"
}

// Download 把转换后的图片写入 w。优先使用服务器签发的下载链接。
func (c *Converter) Download(ctx context.Context, w io.Writer) error {
	c.mu.Lock()
	result, downloadURL := c.result, c.downloadURL
	c.mu.Unlock()

	if result == nil || result.ConvertedImageURL == "" {
		return ErrNoResult
	}

	target := result.ConvertedImageURL
	if downloadURL != "" {
		resolved, err := c.resolve(downloadURL)
		if err != nil {
			return err
		}
		target = resolved
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("创建下载请求失败: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("下载失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		_, err := outbound.ReadBody(resp)
		return fmt.Errorf("下载失败: %w", err)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("写入下载内容失败: %w", err)
	}
	return nil
}

func (c *Converter) postImage(ctx context.Context, img *selectedImage) (*imtypes.ConvertResponse, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, strings.ReplaceAll(img.name, `"`, "")))
	h.Set("Content-Type", img.mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("创建表单失败: %w", err)
	}
	if _, err := part.Write(img.data); err != nil {
		return nil, fmt.Errorf("写入表单失败: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("关闭表单失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+convertPath, body)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ConvertError{Message: networkErrMessage}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, outbound.MaxResponseBytes))
	if err != nil {
		return nil, &ConvertError{StatusCode: resp.StatusCode, Message: networkErrMessage}
	}

	var envelope struct {
		imtypes.ConvertResponse
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &ConvertError{StatusCode: resp.StatusCode, Message: defaultErrMessage}
	}
	if resp.StatusCode != http.StatusOK || !envelope.Success || envelope.Data == nil {
		msg := envelope.Error
		if msg == "" {
			msg = defaultErrMessage
		}
		return nil, &ConvertError{StatusCode: resp.StatusCode, Message: msg}
	}
	return &envelope.ConvertResponse, nil
}

func (c *Converter) resolve(ref string) (string, error) {
	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return "", fmt.Errorf("无效的服务器地址: %w", err)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("无效的下载地址: %w", err)
	}
	return base.ResolveReference(u).String(), nil
}

// setStateLocked 更新状态, 返回需要在释放锁之后调用的通知函数。
func (c *Converter) setStateLocked(s State) func() {
	c.state = s
	fn := c.onChange
	return func() {
		if fn != nil {
			fn(s)
		}
	}
}
