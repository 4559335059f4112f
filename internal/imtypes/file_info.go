// internal/imtypes/file_info.go
package imtypes

// FileInfo 描述已托管到图床上的图片。
type FileInfo struct {
	URL      string `json:"url"`      // 可公开访问的图片 URL
	Path     string `json:"path"`     // 图床内部标识 (本地模式为磁盘路径)
	Size     int64  `json:"size"`     // 文件大小 (字节)
	MimeType string `json:"mimeType"` // 文件的 MIME 类型
	FileName string `json:"fileName"` // 原始文件名
}
