// internal/imtypes/conversion.go
package imtypes

import "time"

// UploadedImage 是一次请求内存中的上传图片, 请求结束即丢弃。
type UploadedImage struct {
	Data     []byte
	FileName string
	MimeType string
}

// Size 返回图片字节数。
func (u UploadedImage) Size() int64 {
	return int64(len(u.Data))
}

// ConversionResult 是转换管线的结果, 原样透传给客户端 (envelope 的 data 字段)。
type ConversionResult struct {
	Success           bool   `json:"success"`
	OriginalSize      int64  `json:"originalSize"`
	ConvertedImageURL string `json:"convertedImageUrl"`
	Message           string `json:"message"`
}

// ConvertResponse is the success envelope of POST /api/ghibli.
type ConvertResponse struct {
	Success          bool              `json:"success"`
	Data             *ConversionResult `json:"data"`
	OriginalFileName string            `json:"originalFileName"`
	DownloadURL      string            `json:"downloadUrl,omitempty"`
}

// ErrorResponse is returned for any failed API request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ConversionEvent 在每次转换结束后发布 (Kafka 开启时)。
type ConversionEvent struct {
	ID                string        `json:"id"`
	Type              string        `json:"type"`
	FileName          string        `json:"fileName"`
	MimeType          string        `json:"mimeType"`
	OriginalSize      int64         `json:"originalSize"`
	ConvertedImageURL string        `json:"convertedImageUrl,omitempty"`
	Stage             string        `json:"stage,omitempty"`
	Duration          time.Duration `json:"durationNs"`
	OccurredAt        time.Time     `json:"occurredAt"`
}

// Conversion event types.
const (
	EventConversionSucceeded = "conversion.succeeded"
	EventConversionFailed    = "conversion.failed"
)
