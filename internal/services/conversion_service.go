package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"ghibli-go/internal/imtypes"
	appKafka "ghibli-go/internal/kafka"
	"ghibli-go/internal/logger"

	"github.com/google/uuid"
)

// SuccessMessage 是成功结果中固定的 message 字段。
const SuccessMessage = "Image successfully converted to Ghibli style!"

const eventPublishTimeout = 2 * time.Second

// Pipeline stages, used in errors and events.
const (
	StageUpload  = "upload"
	StageStylize = "stylize"
)

var (
	// ErrUploadFailed 图片托管阶段失败。
	ErrUploadFailed = errors.New("图片托管失败")
	// ErrStylizeFailed 风格化阶段失败。
	ErrStylizeFailed = errors.New("风格化失败")
)

// ConversionService 定义了图片转换管线的接口。
type ConversionService interface {
	// Convert 把图片上传到图床, 再把得到的 URL 交给风格化服务。
	Convert(ctx context.Context, img imtypes.UploadedImage) (*imtypes.ConversionResult, error)
}

// conversionService 是 ConversionService 的实现。
type conversionService struct {
	host      imtypes.ImageHost
	stylizer  Stylizer
	publisher appKafka.EventPublisher
}

// NewConversionService 创建一个新的 ConversionService 实例。publisher 可以为 nil。
func NewConversionService(host imtypes.ImageHost, stylizer Stylizer, publisher appKafka.EventPublisher) ConversionService {
	if publisher == nil {
		publisher = appKafka.NopPublisher{}
	}
	return &conversionService{
		host:      host,
		stylizer:  stylizer,
		publisher: publisher,
	}
}

func (s *conversionService) Convert(ctx context.Context, img imtypes.UploadedImage) (*imtypes.ConversionResult, error) {
	started := time.Now()

	hosted, err := s.host.UploadImage(ctx, bytes.NewReader(img.Data), img.Size(), img.FileName, img.MimeType)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrUploadFailed, err)
		s.publish(ctx, img, StageUpload, "", started)
		return nil, err
	}
	logger.L().Debugw("图片已托管", "fileName", img.FileName, "url", hosted.URL)
	defer s.release(ctx, hosted)

	convertedURL, err := s.stylizer.Stylize(ctx, hosted.URL)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStylizeFailed, err)
		s.publish(ctx, img, StageStylize, "", started)
		return nil, err
	}

	s.publish(ctx, img, "", convertedURL, started)

	return &imtypes.ConversionResult{
		Success:           true,
		OriginalSize:      img.Size(),
		ConvertedImageURL: convertedURL,
		Message:           SuccessMessage,
	}, nil
}

// release 在风格化结束后删除图床上的临时图片 (仅对实现了 ImageReleaser 的图床)。
func (s *conversionService) release(ctx context.Context, hosted *imtypes.FileInfo) {
	releaser, ok := s.host.(imtypes.ImageReleaser)
	if !ok {
		return
	}
	if err := releaser.ReleaseImage(context.WithoutCancel(ctx), hosted); err != nil {
		logger.L().Warnw("清理托管图片失败", "url", hosted.URL, "error", err)
	}
}

// publish 发送转换事件; 失败只记录日志, 不影响响应。failedStage 为空表示成功。
func (s *conversionService) publish(ctx context.Context, img imtypes.UploadedImage, failedStage, convertedURL string, started time.Time) {
	event := imtypes.ConversionEvent{
		ID:                uuid.New().String(),
		Type:              imtypes.EventConversionSucceeded,
		FileName:          img.FileName,
		MimeType:          img.MimeType,
		OriginalSize:      img.Size(),
		ConvertedImageURL: convertedURL,
		Duration:          time.Since(started),
		OccurredAt:        time.Now().UTC(),
	}
	if failedStage != "" {
		event.Type = imtypes.EventConversionFailed
		event.Stage = failedStage
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventPublishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, event); err != nil {
		logger.L().Warnw("发布转换事件失败", "eventId", event.ID, "type", event.Type, "error", err)
	}
}
