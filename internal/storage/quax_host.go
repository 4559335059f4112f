package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"ghibli-go/internal/config"
	"ghibli-go/internal/imtypes"
	"ghibli-go/internal/outbound"

	"github.com/go-playground/validator/v10"
	"github.com/gojektech/heimdall/v6"
)

const defaultQuaxFieldName = "files[]"

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// quaxUploadResponse 是 qu.ax upload.php 的响应。
type quaxUploadResponse struct {
	Success bool           `json:"success"`
	Files   []quaxFileInfo `json:"files" validate:"required,min=1,dive"`
}

type quaxFileInfo struct {
	Hash string `json:"hash"`
	Name string `json:"name"`
	URL  string `json:"url" validate:"required,url"`
	Size int64  `json:"size"`
}

// QuaxImageHost 把图片以 multipart 表单上传到 qu.ax 兼容的图床。
type QuaxImageHost struct {
	client    heimdall.Doer
	endpoint  string
	fieldName string
	validate  *validator.Validate
}

// NewQuaxImageHost 创建一个新的 QuaxImageHost 实例。
func NewQuaxImageHost(cfg config.ImageHostConfig, client heimdall.Doer) *QuaxImageHost {
	if client == nil {
		client = outbound.NewClient(cfg.Timeout, cfg.Retries)
	}
	fieldName := cfg.FieldName
	if fieldName == "" {
		fieldName = defaultQuaxFieldName
	}
	return &QuaxImageHost{
		client:    client,
		endpoint:  cfg.Endpoint,
		fieldName: fieldName,
		validate:  validator.New(),
	}
}

// UploadImage 上传图片并返回图床给出的公网 URL。
func (h *QuaxImageHost) UploadImage(ctx context.Context, reader io.Reader, fileSize int64, fileName string, mimeType string) (*imtypes.FileInfo, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(h.fieldName), quoteEscaper.Replace(uploadName(fileName, mimeType))))
	partHeader.Set("Content-Type", mimeType)

	part, err := mw.CreatePart(partHeader)
	if err != nil {
		return nil, fmt.Errorf("创建表单字段失败: %w", err)
	}
	written, err := io.Copy(part, reader)
	if err != nil {
		return nil, fmt.Errorf("写入表单失败: %w", err)
	}
	if written != fileSize {
		return nil, fmt.Errorf("文件大小不匹配: 预期 %d, 实际写入 %d", fileSize, written)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("关闭表单失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("创建上传请求失败: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求图床失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := outbound.ReadBody(resp)
	if err != nil {
		return nil, fmt.Errorf("图床返回错误: %w", err)
	}

	var uploadResp quaxUploadResponse
	if err := json.Unmarshal(respBody, &uploadResp); err != nil {
		return nil, fmt.Errorf("解析图床响应失败: %w", err)
	}
	if !uploadResp.Success {
		return nil, fmt.Errorf("图床上传未成功: %s", strings.TrimSpace(string(respBody)))
	}
	if err := h.validate.Struct(uploadResp); err != nil {
		return nil, fmt.Errorf("图床响应无效: %w", err)
	}

	hosted := uploadResp.Files[0]
	return &imtypes.FileInfo{
		URL:      hosted.URL,
		Path:     hosted.Hash,
		Size:     fileSize,
		MimeType: mimeType,
		FileName: fileName,
	}, nil
}
