// internal/imtypes/image_host_iface.go
package imtypes

import (
	"context"
	"io"
)

// ImageHost 把上传的图片托管到可被风格化服务访问的位置。
// 接口放在 imtypes 中以避免 storage 和 services 之间的循环依赖。
type ImageHost interface {
	// UploadImage 上传 reader 中的内容, 返回包含公网 URL 的 FileInfo。
	UploadImage(ctx context.Context, reader io.Reader, fileSize int64, fileName string, mimeType string) (*FileInfo, error)
}

// ImageReleaser 由需要在转换结束后清理托管图片的图床实现 (例如本地图床)。
// 外部图床不实现它。
type ImageReleaser interface {
	ReleaseImage(ctx context.Context, info *FileInfo) error
}
