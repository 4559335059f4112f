package storage

import (
	"fmt"

	"ghibli-go/internal/config"
	"ghibli-go/internal/imtypes"
)

// NewImageHost 根据 IMAGE_HOST.TYPE 选择图床实现。
func NewImageHost(cfg config.Config) (imtypes.ImageHost, error) {
	switch cfg.ImageHost.Type {
	case "quax", "":
		return NewQuaxImageHost(cfg.ImageHost, nil), nil
	case "local":
		return NewLocalImageHost(cfg.Storage, cfg.ImageHost.PublicBaseURL)
	default:
		return nil, fmt.Errorf("不支持的图床类型: %s", cfg.ImageHost.Type)
	}
}
