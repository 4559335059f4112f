// internal/handlers/apiserver/download_handler.go
package apiserver

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"ghibli-go/internal/auth"
	"ghibli-go/internal/config"
	"ghibli-go/internal/logger"
	"ghibli-go/internal/middleware"
	"ghibli-go/internal/outbound"

	"github.com/gojektech/heimdall/v6"
)

// DownloadPath 是下载代理的路由。
const DownloadPath = "/api/ghibli/download"

// Client-facing messages of GET /api/ghibli/download.
const (
	MsgMissingDownloadToken = "Missing download token"
	MsgInvalidDownloadToken = "Download link is invalid or expired"
	MsgDownloadFailed       = "Failed to download image. Please try again."
)

// DownloadHandler 通过签名令牌代理下载转换后的图片, 并设置附件文件名。
type DownloadHandler struct {
	client      heimdall.Doer
	downloadCfg config.DownloadConfig
}

// NewDownloadHandler 创建一个新的 DownloadHandler 实例。client 为 nil 时按配置创建。
func NewDownloadHandler(client heimdall.Doer, downloadCfg config.DownloadConfig) *DownloadHandler {
	if client == nil {
		client = outbound.NewClient(downloadCfg.Timeout, 0)
	}
	return &DownloadHandler{client: client, downloadCfg: downloadCfg}
}

// DownloadImageHandler 处理 GET /api/ghibli/download?token=...
func (h *DownloadHandler) DownloadImageHandler(w http.ResponseWriter, r *http.Request) {
	requestID, _ := middleware.GetRequestIDFromContext(r.Context())

	token := r.URL.Query().Get("token")
	if token == "" {
		writeJSONError(w, MsgMissingDownloadToken, http.StatusBadRequest)
		return
	}
	claims, err := auth.ValidateDownloadToken(token, h.downloadCfg.SecretKey)
	if err != nil {
		logger.L().Infow("下载令牌无效", "requestId", requestID, "error", err)
		writeJSONError(w, MsgInvalidDownloadToken, http.StatusUnauthorized)
		return
	}

	if !isFetchableURL(claims.ImageURL) {
		logger.L().Warnw("下载令牌中的图片地址不可访问", "requestId", requestID, "url", claims.ImageURL)
		writeJSONError(w, MsgInvalidDownloadToken, http.StatusUnauthorized)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, claims.ImageURL, nil)
	if err != nil {
		logger.L().Errorw("创建下载请求失败", "requestId", requestID, "error", err)
		writeJSONError(w, MsgDownloadFailed, http.StatusBadGateway)
		return
	}

	resp, err := h.client.Do(req)
	if err != nil {
		logger.L().Errorw("下载转换后图片失败", "requestId", requestID, "url", claims.ImageURL, "error", err)
		writeJSONError(w, MsgDownloadFailed, http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		_, statusErr := outbound.ReadBody(resp)
		var upstream *outbound.StatusError
		if errors.As(statusErr, &upstream) {
			logger.L().Errorw("图片地址返回错误", "requestId", requestID, "url", claims.ImageURL, "status", upstream.StatusCode, "message", upstream.Message)
		}
		writeJSONError(w, MsgDownloadFailed, http.StatusBadGateway)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": DownloadFileName(claims.FileName),
	}))
	if resp.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.L().Warnw("下载传输中断", "requestId", requestID, "error", err)
	}
}

// isFetchableURL 只允许带主机名的 http(s) 地址。
func isFetchableURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// DownloadFileName 返回下载文件名 ghibli-<原始文件名>.png, 没有文件名时为 ghibli-converted.png。
func DownloadFileName(originalName string) string {
	name := path.Base(strings.ReplaceAll(originalName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "converted"
	}
	return "ghibli-" + name + ".png"
}
