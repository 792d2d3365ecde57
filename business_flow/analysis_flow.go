package businessflow

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log"
	"strings"

	// Decode support for the allowlisted upload formats
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/amirphl/Yata-no-Kagami/app/dto"
	"github.com/amirphl/Yata-no-Kagami/app/services"
	"github.com/amirphl/Yata-no-Kagami/config"
	"github.com/amirphl/Yata-no-Kagami/repository"
	"github.com/gabriel-vasile/mimetype"
	xdraw "golang.org/x/image/draw"
)

// DefaultImagePrompt is substituted when the caller supplies no prompt text.
const DefaultImagePrompt = "Describe this image in detail."

// testGenerationPrompt drives the connectivity check endpoint.
const testGenerationPrompt = "Say hello in one short sentence."

// sniffLen is how much of the upload head is buffered for content detection.
const sniffLen = 3072

// AnalysisFlow defines the request lifecycle operations of the gateway.
type AnalysisFlow interface {
	AnalyzeImage(ctx context.Context, req *dto.AnalyzeImageRequest, metadata *ClientMetadata) (*dto.AnalyzeImageResponse, error)
	TestGeneration(ctx context.Context, metadata *ClientMetadata) (*dto.TestGenerationResponse, error)
}

// AnalysisFlowImpl implements AnalysisFlow.
type AnalysisFlowImpl struct {
	tempFiles repository.TempFileRepository
	generator services.GenerationService
	uploadCfg *config.UploadConfig
}

// NewAnalysisFlow creates a new analysis flow instance.
func NewAnalysisFlow(tempFiles repository.TempFileRepository, generator services.GenerationService, uploadCfg *config.UploadConfig) AnalysisFlow {
	return &AnalysisFlowImpl{
		tempFiles: tempFiles,
		generator: generator,
		uploadCfg: uploadCfg,
	}
}

// AnalyzeImage runs the full upload lifecycle: validate, store, encode,
// generate, respond. The stored temp file is released on every exit path.
func (f *AnalysisFlowImpl) AnalyzeImage(ctx context.Context, req *dto.AnalyzeImageRequest, metadata *ClientMetadata) (*dto.AnalyzeImageResponse, error) {
	if req == nil || req.File == nil {
		return nil, NewBusinessError("INVALID_FILE", "image file is required", ErrImageRequired)
	}
	if req.FileSize <= 0 {
		return nil, NewBusinessError("INVALID_FILE", "file is empty", ErrFileEmpty)
	}
	if req.FileSize > f.uploadCfg.MaxSizeBytes {
		return nil, NewBusinessError("FILE_TOO_LARGE",
			fmt.Sprintf("file size exceeds %d bytes", f.uploadCfg.MaxSizeBytes), ErrFileTooLarge)
	}
	// A generic or missing declared type is resolved by sniffing below
	declared := normalizeContentType(req.ContentType)
	if declared != "" && declared != "application/octet-stream" && !f.typeAllowed(declared) {
		return nil, NewBusinessError("INVALID_FILE_TYPE",
			fmt.Sprintf("allowed content types: %s", strings.Join(f.uploadCfg.AllowedTypes, ", ")), ErrUnsupportedMediaType)
	}

	// Sniff the head before committing anything to storage
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(req.File, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, NewBusinessError("INVALID_FILE", "failed to read upload", err)
	}
	head = head[:n]

	detected := mimetype.Detect(head)
	if !f.mimeAllowed(detected) {
		return nil, NewBusinessError("INVALID_FILE_TYPE",
			fmt.Sprintf("detected type %s is not allowed", detected.String()), ErrUnsupportedMediaType)
	}

	fullReader := io.MultiReader(bytes.NewReader(head), req.File)
	handle, size, err := f.tempFiles.Save(ctx, fullReader, detected.Extension())
	if err != nil {
		if errors.Is(err, repository.ErrTempFileTooLarge) {
			return nil, NewBusinessError("FILE_TOO_LARGE",
				fmt.Sprintf("file size exceeds %d bytes", f.uploadCfg.MaxSizeBytes), ErrFileTooLarge)
		}
		return nil, NewBusinessError("TEMP_STORAGE_FAILED", "failed to store upload", errors.Join(ErrTempStorageFailed, err))
	}

	// Exactly one delete per stored handle, on every exit path including
	// client cancellation. Delete itself is idempotent.
	defer func() {
		if derr := f.tempFiles.Delete(context.WithoutCancel(ctx), handle); derr != nil {
			log.Printf("temp file cleanup failed: handle=%s request_id=%s err=%v", handle, requestID(metadata), derr)
		}
	}()

	data, err := f.tempFiles.ByHandle(ctx, handle)
	if err != nil {
		return nil, NewBusinessError("TEMP_STORAGE_FAILED", "failed to read stored upload", errors.Join(ErrTempStorageFailed, err))
	}

	data, mimeType, err := f.normalizeImage(data, detected.String())
	if err != nil {
		return nil, err
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		prompt = DefaultImagePrompt
	}

	parts := []services.ContentPart{
		{Text: prompt},
		{InlineData: &services.InlineData{
			MIMEType: mimeType,
			Data:     base64.StdEncoding.EncodeToString(data),
		}},
	}

	output, err := f.generator.Generate(ctx, parts)
	if err != nil {
		log.Printf("image analysis failed: handle=%s size=%d request_id=%s err=%v", handle, size, requestID(metadata), err)
		return nil, NewBusinessError("GENERATION_FAILED", "image analysis failed", err)
	}

	return &dto.AnalyzeImageResponse{Output: output}, nil
}

// TestGeneration runs a fixed text-only prompt through the adapter.
func (f *AnalysisFlowImpl) TestGeneration(ctx context.Context, metadata *ClientMetadata) (*dto.TestGenerationResponse, error) {
	output, err := f.generator.Generate(ctx, []services.ContentPart{{Text: testGenerationPrompt}})
	if err != nil {
		log.Printf("test generation failed: request_id=%s err=%v", requestID(metadata), err)
		return nil, NewBusinessError("GENERATION_FAILED", "generation failed", err)
	}
	return &dto.TestGenerationResponse{Success: true, Output: output}, nil
}

func (f *AnalysisFlowImpl) typeAllowed(contentType string) bool {
	for _, t := range f.uploadCfg.AllowedTypes {
		if contentType == strings.ToLower(t) {
			return true
		}
	}
	return false
}

// normalizeContentType strips parameters such as "; charset=binary" and lowercases.
func normalizeContentType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.TrimSpace(strings.ToLower(contentType))
}

func (f *AnalysisFlowImpl) mimeAllowed(detected *mimetype.MIME) bool {
	for _, t := range f.uploadCfg.AllowedTypes {
		if detected.Is(t) {
			return true
		}
	}
	return false
}

// normalizeImage verifies the bytes decode as an image and downscales
// anything whose longest side exceeds the configured bound so inline
// payloads stay small. Downscaled images are re-encoded as JPEG.
func (f *AnalysisFlowImpl) normalizeImage(data []byte, mimeType string) ([]byte, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", NewBusinessError("INVALID_FILE_TYPE", "file content is not a decodable image", errors.Join(ErrNotAnImage, err))
	}

	maxDim := f.uploadCfg.MaxDimension
	if maxDim <= 0 || (cfg.Width <= maxDim && cfg.Height <= maxDim) {
		return data, mimeType, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", NewBusinessError("INVALID_FILE_TYPE", "file content is not a decodable image", errors.Join(ErrNotAnImage, err))
	}

	resized := resizeImage(src, maxDim)
	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return nil, "", NewBusinessError("TEMP_STORAGE_FAILED", "failed to re-encode image", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

func resizeImage(src image.Image, maxDim int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	var nw, nh int
	if w >= h {
		nw = maxDim
		nh = int(float64(h) * float64(maxDim) / float64(w))
	} else {
		nh = maxDim
		nw = int(float64(w) * float64(maxDim) / float64(h))
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	return dst
}

func requestID(metadata *ClientMetadata) string {
	if metadata == nil {
		return ""
	}
	return metadata.RequestID
}
