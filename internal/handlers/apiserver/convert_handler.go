// internal/handlers/apiserver/convert_handler.go
package apiserver

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"ghibli-go/internal/auth"
	"ghibli-go/internal/config"
	"ghibli-go/internal/imtypes"
	"ghibli-go/internal/logger"
	"ghibli-go/internal/middleware"
	"ghibli-go/internal/services"

	"github.com/gabriel-vasile/mimetype"
)

const (
	defaultMaxMemory     = 32 << 20 // 32 MB default max memory for multipart forms
	defaultMaxUploadSize = 10 << 20
	multipartOverhead    = 1 << 20 // 表单边界和其他字段的余量
)

// Client-facing messages of POST /api/ghibli.
const (
	MsgNoImageProvided = "No image file provided"
	MsgInvalidImage    = "Please upload a valid image file"
	MsgConvertFailed   = "Failed to convert image. Please try again."
	msgImageTooLarge   = "Image is too large. Maximum size is %d MB."
)

// ConvertHandler 封装了图片转换相关的 HTTP 处理器方法。
type ConvertHandler struct {
	conversionService services.ConversionService
	uploadCfg         config.UploadConfig
	downloadCfg       config.DownloadConfig
}

// NewConvertHandler 创建一个新的 ConvertHandler 实例。
func NewConvertHandler(conversionService services.ConversionService, uploadCfg config.UploadConfig, downloadCfg config.DownloadConfig) *ConvertHandler {
	return &ConvertHandler{
		conversionService: conversionService,
		uploadCfg:         uploadCfg,
		downloadCfg:       downloadCfg,
	}
}

// ConvertImageHandler 处理 POST /api/ghibli: 校验上传图片, 交给转换管线, 返回结果 envelope。
func (h *ConvertHandler) ConvertImageHandler(w http.ResponseWriter, r *http.Request) {
	requestID, _ := middleware.GetRequestIDFromContext(r.Context())

	img, err := h.readImage(w, r)
	if err != nil {
		logger.L().Infow("拒绝上传", "requestId", requestID, "reason", err.Error())
		writeError(w, err, MsgConvertFailed)
		return
	}
	logger.L().Infow("收到上传图片", "requestId", requestID, "fileName", img.FileName, "size", img.Size(), "mimeType", img.MimeType)

	result, err := h.conversionService.Convert(r.Context(), *img)
	if err != nil {
		logger.L().Errorw("图片转换失败", "requestId", requestID, "fileName", img.FileName, "error", err)
		writeJSONError(w, MsgConvertFailed, http.StatusInternalServerError)
		return
	}

	resp := imtypes.ConvertResponse{
		Success:          true,
		Data:             result,
		OriginalFileName: img.FileName,
	}
	if h.downloadCfg.Enabled {
		token, err := auth.GenerateDownloadToken(result.ConvertedImageURL, img.FileName, h.downloadCfg)
		if err != nil {
			logger.L().Warnw("生成下载令牌失败", "requestId", requestID, "error", err)
		} else {
			resp.DownloadURL = DownloadPath + "?token=" + url.QueryEscape(token)
		}
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

// readImage 解析 multipart 表单, 返回内存中的图片。校验失败时返回 *RequestError。
func (h *ConvertHandler) readImage(w http.ResponseWriter, r *http.Request) (*imtypes.UploadedImage, error) {
	maxUploadSize := h.uploadCfg.MaxUploadBytes()
	if maxUploadSize <= 0 {
		maxUploadSize = defaultMaxUploadSize
	}
	tooLarge := newRequestError(http.StatusRequestEntityTooLarge, fmt.Sprintf(msgImageTooLarge, maxUploadSize>>20))

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+multipartOverhead)
	if err := r.ParseMultipartForm(defaultMaxMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, tooLarge
		}
		return nil, newRequestError(http.StatusBadRequest, MsgNoImageProvided)
	}
	defer r.MultipartForm.RemoveAll()

	fieldName := h.uploadCfg.FieldName
	if fieldName == "" {
		fieldName = "image"
	}
	file, header, err := r.FormFile(fieldName)
	if err != nil {
		return nil, newRequestError(http.StatusBadRequest, MsgNoImageProvided)
	}
	defer file.Close()

	declared, _, err := mime.ParseMediaType(header.Header.Get("Content-Type"))
	if err != nil || !isImageType(declared) {
		return nil, newRequestError(http.StatusBadRequest, MsgInvalidImage)
	}
	if header.Size > maxUploadSize {
		return nil, tooLarge
	}

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("读取上传文件失败: %w", err)
	}
	if int64(len(data)) > maxUploadSize {
		return nil, tooLarge
	}
	if len(data) == 0 {
		return nil, newRequestError(http.StatusBadRequest, MsgNoImageProvided)
	}

	mimeType := declared
	// 无法识别的格式 (application/octet-stream) 沿用声明的类型
	if h.uploadCfg.SniffContent {
		detected := mimetype.Detect(data)
		if !detected.Is(unknownContentType) {
			if !isImageType(detected.String()) {
				return nil, newRequestError(http.StatusBadRequest, MsgInvalidImage)
			}
			mimeType = detected.String()
		}
	}

	return &imtypes.UploadedImage{
		Data:     data,
		FileName: header.Filename,
		MimeType: mimeType,
	}, nil
}

const unknownContentType = "application/octet-stream"

func isImageType(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(mediaType), "image/")
}
