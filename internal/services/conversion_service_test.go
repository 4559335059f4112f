package services

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"ghibli-go/internal/config"
	"ghibli-go/internal/imtypes"
	"ghibli-go/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeImageHost struct {
	url      string
	err      error
	received []byte
	mimeType string
}

func (f *fakeImageHost) UploadImage(_ context.Context, reader io.Reader, fileSize int64, fileName string, mimeType string) (*imtypes.FileInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	f.received = data
	f.mimeType = mimeType
	return &imtypes.FileInfo{URL: f.url, Size: fileSize, FileName: fileName, MimeType: mimeType}, nil
}

type releasingImageHost struct {
	fakeImageHost
	released []*imtypes.FileInfo
	err      error
}

func (f *releasingImageHost) ReleaseImage(_ context.Context, info *imtypes.FileInfo) error {
	f.released = append(f.released, info)
	return f.err
}

type fakeStylizer struct {
	result   string
	err      error
	received string
}

func (f *fakeStylizer) Stylize(_ context.Context, imageURL string) (string, error) {
	f.received = imageURL
	return f.result, f.err
}

type recordingPublisher struct {
	events []imtypes.ConversionEvent
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, event imtypes.ConversionEvent) error {
	r.events = append(r.events, event)
	return r.err
}

func testImage() imtypes.UploadedImage {
	return imtypes.UploadedImage{Data: []byte("0123456789"), FileName: "cat.png", MimeType: "image/png"}
}

func TestConversionServiceConvert(t *testing.T) {
	host := &fakeImageHost{url: "https://qu.ax/cat.png"}
	stylizer := &fakeStylizer{result: "https://cdn.example.com/ghibli-cat.png"}
	publisher := &recordingPublisher{}

	svc := NewConversionService(host, stylizer, publisher)
	result, err := svc.Convert(context.Background(), testImage())
	require.NoError(t, err)

	assert.Equal(t, &imtypes.ConversionResult{
		Success:           true,
		OriginalSize:      10,
		ConvertedImageURL: "https://cdn.example.com/ghibli-cat.png",
		Message:           SuccessMessage,
	}, result)
	assert.Equal(t, []byte("0123456789"), host.received)
	assert.Equal(t, "image/png", host.mimeType)
	assert.Equal(t, "https://qu.ax/cat.png", stylizer.received)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, imtypes.EventConversionSucceeded, publisher.events[0].Type)
	assert.Equal(t, "https://cdn.example.com/ghibli-cat.png", publisher.events[0].ConvertedImageURL)
	assert.NotEmpty(t, publisher.events[0].ID)
}

func TestConversionServiceUploadFailure(t *testing.T) {
	hostErr := errors.New("connection reset")
	stylizer := &fakeStylizer{result: "unused"}
	publisher := &recordingPublisher{}

	svc := NewConversionService(&fakeImageHost{err: hostErr}, stylizer, publisher)
	result, err := svc.Convert(context.Background(), testImage())

	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.ErrorIs(t, err, hostErr)
	assert.Empty(t, stylizer.received, "stylizer must not be called when upload fails")

	require.Len(t, publisher.events, 1)
	assert.Equal(t, imtypes.EventConversionFailed, publisher.events[0].Type)
	assert.Equal(t, StageUpload, publisher.events[0].Stage)
}

func TestConversionServiceStylizeFailure(t *testing.T) {
	styleErr := errors.New("upstream status 502")
	publisher := &recordingPublisher{}

	svc := NewConversionService(&fakeImageHost{url: "https://qu.ax/x.png"}, &fakeStylizer{err: styleErr}, publisher)
	_, err := svc.Convert(context.Background(), testImage())

	assert.ErrorIs(t, err, ErrStylizeFailed)
	assert.ErrorIs(t, err, styleErr)
	require.Len(t, publisher.events, 1)
	assert.Equal(t, StageStylize, publisher.events[0].Stage)
}

func TestConversionServicePublisherErrorIsIgnored(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("broker down")}
	svc := NewConversionService(&fakeImageHost{url: "https://qu.ax/x.png"}, &fakeStylizer{result: "https://cdn.example.com/y.png"}, publisher)

	result, err := svc.Convert(context.Background(), testImage())
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestConversionServiceNilPublisher(t *testing.T) {
	svc := NewConversionService(&fakeImageHost{url: "https://qu.ax/x.png"}, &fakeStylizer{result: "https://cdn.example.com/y.png"}, nil)

	_, err := svc.Convert(context.Background(), testImage())
	assert.NoError(t, err)
}

func TestConversionServiceReleasesHostedImage(t *testing.T) {
	testCase := map[string]struct {
		stylizer   *fakeStylizer
		releaseErr error
		wantErr    bool
	}{
		"success":         {stylizer: &fakeStylizer{result: "https://cdn.example.com/y.png"}},
		"stylize failure": {stylizer: &fakeStylizer{err: errors.New("timeout")}, wantErr: true},
		"release failure": {stylizer: &fakeStylizer{result: "https://cdn.example.com/y.png"}, releaseErr: errors.New("permission denied")},
	}

	for name, tc := range testCase {
		t.Run(name, func(t *testing.T) {
			host := &releasingImageHost{fakeImageHost: fakeImageHost{url: "http://localhost:8080/uploads/x.png"}, err: tc.releaseErr}
			svc := NewConversionService(host, tc.stylizer, nil)

			_, err := svc.Convert(context.Background(), testImage())
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			require.Len(t, host.released, 1)
			assert.Equal(t, "http://localhost:8080/uploads/x.png", host.released[0].URL)
		})
	}
}

func TestConversionServiceLocalHostLeavesNoFiles(t *testing.T) {
	dir := t.TempDir()
	host, err := storage.NewLocalImageHost(config.StorageConfig{LocalPath: dir, URLPrefix: "/uploads"}, "http://localhost:8080")
	require.NoError(t, err)

	var existedDuringStylize bool
	stylizer := stylizerFunc(func(_ context.Context, imageURL string) (string, error) {
		entries, err := os.ReadDir(dir)
		existedDuringStylize = err == nil && len(entries) == 1
		return "https://cdn.example.com/y.png", nil
	})

	_, err = NewConversionService(host, stylizer, nil).Convert(context.Background(), testImage())
	require.NoError(t, err)

	assert.True(t, existedDuringStylize, "image must be reachable while stylizing")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type stylizerFunc func(ctx context.Context, imageURL string) (string, error)

func (f stylizerFunc) Stylize(ctx context.Context, imageURL string) (string, error) {
	return f(ctx, imageURL)
}
