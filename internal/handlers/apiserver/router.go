package apiserver

import (
	"net/http"
	"strings"

	"ghibli-go/internal/config"
	"ghibli-go/internal/logger"
	"ghibli-go/internal/middleware"
	"ghibli-go/internal/services"

	"github.com/gojektech/heimdall/v6"
	"github.com/gorilla/mux"
)

// RouterOptions 汇总构建路由所需的依赖。
type RouterOptions struct {
	Config            config.Config
	ConversionService services.ConversionService
	DownloadClient    heimdall.Doer          // nil 时按 DOWNLOAD 配置创建
	RateLimiter       middleware.RateLimiter // nil 时不限流
	UI                http.Handler           // nil 时不提供前端页面
}

// NewRouter 设置 HTTP 路由。
func NewRouter(opts RouterOptions) *mux.Router {
	cfg := opts.Config
	r := mux.NewRouter()
	r.Use(middleware.RequestLogger)

	r.HandleFunc("/healthz", HealthHandler).Methods(http.MethodGet)

	// 图片转换
	convertHandler := NewConvertHandler(opts.ConversionService, cfg.Upload, cfg.Download)
	var convert http.Handler = http.HandlerFunc(convertHandler.ConvertImageHandler)
	if opts.RateLimiter != nil {
		trusted, err := middleware.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
		if err != nil {
			logger.L().Errorw("可信代理配置无效, 忽略转发头", "error", err)
		}
		convert = middleware.RateLimit(opts.RateLimiter, trusted)(convert)
	}
	r.Handle("/api/ghibli", convert).Methods(http.MethodPost)

	// 下载代理
	if cfg.Download.Enabled {
		downloadHandler := NewDownloadHandler(opts.DownloadClient, cfg.Download)
		r.HandleFunc(DownloadPath, downloadHandler.DownloadImageHandler).Methods(http.MethodGet)
	}

	// 本地图床模式下, 风格化服务需要通过该路由读取上传的图片
	if cfg.ImageHost.Type == "local" {
		staticPath := "/" + strings.Trim(cfg.Storage.URLPrefix, "/") + "/"
		fileServer := http.StripPrefix(staticPath, http.FileServer(http.Dir(cfg.Storage.LocalPath)))
		r.PathPrefix(staticPath).Handler(noDirectoryListing(fileServer)).Methods(http.MethodGet)
	}

	// 前端页面走 NotFoundHandler, 不影响 mux 对已注册路由返回 405
	r.MethodNotAllowedHandler = middleware.RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, MsgMethodNotAllowed, http.StatusMethodNotAllowed)
	}))
	r.NotFoundHandler = middleware.RequestLogger(uiFallback(opts.UI))
	return r
}

// uiFallback 对非 /api/ 的 GET/HEAD 请求返回前端页面, 其余返回 JSON 404。
func uiFallback(ui http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		isPageRequest := r.Method == http.MethodGet || r.Method == http.MethodHead
		if ui != nil && isPageRequest && !strings.HasPrefix(r.URL.Path, "/api/") {
			ui.ServeHTTP(w, r)
			return
		}
		writeJSONError(w, MsgNotFound, http.StatusNotFound)
	})
}

// noDirectoryListing 拒绝目录请求, 上传目录不可被列出。
func noDirectoryListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			writeJSONError(w, MsgNotFound, http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}
