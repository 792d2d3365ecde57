package businessflow

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"os"
	"testing"

	"github.com/amirphl/Yata-no-Kagami/app/dto"
	"github.com/amirphl/Yata-no-Kagami/app/services"
	"github.com/amirphl/Yata-no-Kagami/config"
	"github.com/amirphl/Yata-no-Kagami/repository"
	testhelpers "github.com/amirphl/Yata-no-Kagami/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaxUploadSize = int64(1 * 1024 * 1024)

func newTestFlow(t *testing.T, generator services.GenerationService) (AnalysisFlow, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := repository.NewTempFileRepository(dir, testMaxUploadSize)
	require.NoError(t, err)

	cfg := &config.UploadConfig{
		Dir:          dir,
		MaxSizeBytes: testMaxUploadSize,
		AllowedTypes: []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
		MaxDimension: 2048,
	}
	return NewAnalysisFlow(repo, generator, cfg), dir
}

func analyzeRequest(payload []byte, contentType, prompt string) *dto.AnalyzeImageRequest {
	return &dto.AnalyzeImageRequest{
		OriginalFilename: "upload.jpg",
		FileSize:         int64(len(payload)),
		ContentType:      contentType,
		Prompt:           prompt,
		File:             bytes.NewReader(payload),
	}
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp files left behind")
}

func TestAnalyzeImage_Success(t *testing.T) {
	mock := services.NewMockGenerationService("A cat.", nil)
	flow, dir := newTestFlow(t, mock)

	payload := testhelpers.JPEGImage(64, 64)
	result, err := flow.AnalyzeImage(context.Background(), analyzeRequest(payload, "image/jpeg", "describe"), NewClientMetadata("127.0.0.1", "test"))
	require.NoError(t, err)
	assert.Equal(t, "A cat.", result.Output)
	assertNoTempFiles(t, dir)

	// Adapter receives exactly [text, inline-binary] in that order
	require.Len(t, mock.Calls, 1)
	parts := mock.Calls[0]
	require.Len(t, parts, 2)
	assert.Equal(t, "describe", parts[0].Text)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "image/jpeg", parts[1].InlineData.MIMEType)

	decoded, err := base64.StdEncoding.DecodeString(parts[1].InlineData.Data)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestAnalyzeImage_DefaultPromptSubstituted(t *testing.T) {
	mock := services.NewMockGenerationService("ok", nil)
	flow, _ := newTestFlow(t, mock)

	_, err := flow.AnalyzeImage(context.Background(), analyzeRequest(testhelpers.JPEGImage(32, 32), "image/jpeg", "   "), nil)
	require.NoError(t, err)

	require.Len(t, mock.Calls, 1)
	assert.Equal(t, DefaultImagePrompt, mock.Calls[0][0].Text)
}

func TestAnalyzeImage_MissingFile(t *testing.T) {
	flow, dir := newTestFlow(t, services.NewMockGenerationService("", nil))

	for _, req := range []*dto.AnalyzeImageRequest{
		nil,
		{File: nil, FileSize: 10},
	} {
		_, err := flow.AnalyzeImage(context.Background(), req, nil)
		var be *BusinessError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, "INVALID_FILE", be.Code)
	}
	assertNoTempFiles(t, dir)
}

func TestAnalyzeImage_DeclaredSizeTooLarge(t *testing.T) {
	flow, dir := newTestFlow(t, services.NewMockGenerationService("", nil))

	req := analyzeRequest(testhelpers.JPEGImage(32, 32), "image/jpeg", "")
	req.FileSize = testMaxUploadSize + 1

	_, err := flow.AnalyzeImage(context.Background(), req, nil)
	var be *BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "FILE_TOO_LARGE", be.Code)
	assert.True(t, IsFileTooLarge(err))
	assertNoTempFiles(t, dir)
}

func TestAnalyzeImage_ActualStreamTooLarge(t *testing.T) {
	flow, dir := newTestFlow(t, services.NewMockGenerationService("", nil))

	// Declared size lies; the stream itself exceeds the bound. The partial
	// file must not survive.
	oversized := append(testhelpers.JPEGImage(32, 32), bytes.Repeat([]byte{0}, int(testMaxUploadSize)+1)...)
	req := analyzeRequest(oversized, "image/jpeg", "")
	req.FileSize = 1000

	_, err := flow.AnalyzeImage(context.Background(), req, nil)
	var be *BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "FILE_TOO_LARGE", be.Code)
	assertNoTempFiles(t, dir)
}

func TestAnalyzeImage_DeclaredTypeRejected(t *testing.T) {
	flow, dir := newTestFlow(t, services.NewMockGenerationService("", nil))

	_, err := flow.AnalyzeImage(context.Background(), analyzeRequest(testhelpers.JPEGImage(32, 32), "video/mp4", ""), nil)
	var be *BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "INVALID_FILE_TYPE", be.Code)
	assert.True(t, IsUnsupportedMediaType(err))
	assertNoTempFiles(t, dir)
}

func TestAnalyzeImage_SniffedTypeRejected(t *testing.T) {
	flow, dir := newTestFlow(t, services.NewMockGenerationService("", nil))

	// Declared as JPEG but the bytes are plain text; nothing may be stored.
	payload := []byte("this is definitely not an image")
	_, err := flow.AnalyzeImage(context.Background(), analyzeRequest(payload, "image/jpeg", ""), nil)
	var be *BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "INVALID_FILE_TYPE", be.Code)
	assertNoTempFiles(t, dir)
}

func TestAnalyzeImage_GenerationFailureStillCleansUp(t *testing.T) {
	mock := services.NewMockGenerationService("", errors.New("upstream exploded"))
	flow, dir := newTestFlow(t, mock)

	_, err := flow.AnalyzeImage(context.Background(), analyzeRequest(testhelpers.JPEGImage(32, 32), "image/jpeg", ""), nil)
	var be *BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "GENERATION_FAILED", be.Code)
	assertNoTempFiles(t, dir)
}

type cancelingGenerator struct {
	cancel context.CancelFunc
}

func (g *cancelingGenerator) Generate(ctx context.Context, parts []services.ContentPart) (string, error) {
	g.cancel()
	return "", context.Canceled
}

func TestAnalyzeImage_CleanupSurvivesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	flow, dir := newTestFlow(t, &cancelingGenerator{cancel: cancel})

	_, err := flow.AnalyzeImage(ctx, analyzeRequest(testhelpers.JPEGImage(32, 32), "image/jpeg", ""), nil)
	require.Error(t, err)
	assertNoTempFiles(t, dir)
}

func TestAnalyzeImage_DownscalesOversizedImages(t *testing.T) {
	mock := services.NewMockGenerationService("ok", nil)
	dir := t.TempDir()
	repo, err := repository.NewTempFileRepository(dir, testMaxUploadSize)
	require.NoError(t, err)

	cfg := &config.UploadConfig{
		Dir:          dir,
		MaxSizeBytes: testMaxUploadSize,
		AllowedTypes: []string{"image/jpeg", "image/png"},
		MaxDimension: 128,
	}
	flow := NewAnalysisFlow(repo, mock, cfg)

	payload := testhelpers.PNGImage(300, 100)
	_, err = flow.AnalyzeImage(context.Background(), analyzeRequest(payload, "image/png", ""), nil)
	require.NoError(t, err)

	require.Len(t, mock.Calls, 1)
	inline := mock.Calls[0][1].InlineData
	require.NotNil(t, inline)
	assert.Equal(t, "image/jpeg", inline.MIMEType)

	decoded, err := base64.StdEncoding.DecodeString(inline.Data)
	require.NoError(t, err)
	imgCfg, _, err := image.DecodeConfig(bytes.NewReader(decoded))
	require.NoError(t, err)
	assert.Equal(t, 128, imgCfg.Width)
	assert.LessOrEqual(t, imgCfg.Height, 128)
	assertNoTempFiles(t, dir)
}

func TestTestGeneration(t *testing.T) {
	mock := services.NewMockGenerationService("Hello there.", nil)
	flow, _ := newTestFlow(t, mock)

	result, err := flow.TestGeneration(context.Background(), NewClientMetadata("127.0.0.1", "test"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "Hello there.", result.Output)

	require.Len(t, mock.Calls, 1)
	require.Len(t, mock.Calls[0], 1)
	assert.NotEmpty(t, mock.Calls[0][0].Text)
}

func TestTestGeneration_Failure(t *testing.T) {
	flow, _ := newTestFlow(t, services.NewMockGenerationService("", services.ErrGenerationFailed))

	_, err := flow.TestGeneration(context.Background(), nil)
	var be *BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "GENERATION_FAILED", be.Code)
	assert.ErrorIs(t, err, services.ErrGenerationFailed)
}
