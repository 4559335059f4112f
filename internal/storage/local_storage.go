package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"ghibli-go/internal/config"
	"ghibli-go/internal/imtypes"

	"github.com/google/uuid"
)

// LocalImageHost 实现了 imtypes.ImageHost 接口, 把图片写到本地目录,
// 由 API 服务器在 URLPrefix 下提供访问。风格化服务必须能访问 publicBaseURL。
type LocalImageHost struct {
	basePath      string // 本地存储的基础路径，例如 "./uploads"
	publicBaseURL string // 服务器对外地址，例如 "https://ghibli.example.com"
	urlPrefix     string // 静态文件路由前缀，例如 "/uploads"
}

// NewLocalImageHost 创建一个新的 LocalImageHost 实例。
func NewLocalImageHost(storageCfg config.StorageConfig, publicBaseURL string) (*LocalImageHost, error) {
	if err := os.MkdirAll(storageCfg.LocalPath, 0755); err != nil {
		return nil, fmt.Errorf("创建本地存储目录失败 '%s': %w", storageCfg.LocalPath, err)
	}
	return &LocalImageHost{
		basePath:      storageCfg.LocalPath,
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
		urlPrefix:     "/" + strings.Trim(storageCfg.URLPrefix, "/"),
	}, nil
}

// UploadImage 将图片保存到本地文件系统。
func (s *LocalImageHost) UploadImage(ctx context.Context, reader io.Reader, fileSize int64, fileName string, mimeType string) (*imtypes.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	uniqueFileName := uuid.New().String() + extensionFor(fileName, mimeType)
	dstPath := filepath.Join(s.basePath, uniqueFileName)

	dst, err := os.Create(dstPath)
	if err != nil {
		return nil, fmt.Errorf("创建目标文件失败 '%s': %w", dstPath, err)
	}
	defer dst.Close()

	written, err := io.Copy(dst, reader)
	if err != nil {
		os.Remove(dstPath)
		return nil, fmt.Errorf("写入文件失败: %w", err)
	}
	if written != fileSize {
		os.Remove(dstPath)
		return nil, fmt.Errorf("文件大小不匹配: 预期 %d, 实际写入 %d", fileSize, written)
	}

	fileURL := s.publicBaseURL + s.urlPrefix + "/" + url.PathEscape(uniqueFileName)

	return &imtypes.FileInfo{
		URL:      fileURL,
		Path:     dstPath,
		Size:     fileSize,
		MimeType: mimeType,
		FileName: fileName,
	}, nil
}

// ReleaseImage 删除 UploadImage 写入的文件。文件已不存在时不报错。
func (s *LocalImageHost) ReleaseImage(ctx context.Context, info *imtypes.FileInfo) error {
	if info == nil || info.Path == "" {
		return nil
	}
	if filepath.Dir(filepath.Clean(info.Path)) != filepath.Clean(s.basePath) {
		return fmt.Errorf("拒绝删除存储目录之外的文件 '%s'", info.Path)
	}
	if err := os.Remove(info.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("删除托管文件失败 '%s': %w", info.Path, err)
	}
	return nil
}
