package storage

import (
	"mime"
	"path/filepath"
	"strings"
)

// extensionFor 返回文件扩展名, 文件名没有扩展名时从 MIME 类型推断。
func extensionFor(fileName, mimeType string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext != "" {
		return ext
	}
	extensions, _ := mime.ExtensionsByType(mimeType)
	if len(extensions) > 0 {
		return extensions[0]
	}
	return ""
}

// uploadName 生成发给图床的文件名, 保证带有扩展名。
func uploadName(fileName, mimeType string) string {
	base := filepath.Base(fileName)
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = "image"
	}
	if filepath.Ext(base) == "" {
		base += extensionFor("", mimeType)
	}
	return base
}
