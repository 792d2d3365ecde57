// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"time"

	"github.com/amirphl/Yata-no-Kagami/app/dto"
	businessflow "github.com/amirphl/Yata-no-Kagami/business_flow"
	"github.com/amirphl/Yata-no-Kagami/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// AnalysisHandlerInterface defines the contract for the gateway handlers.
type AnalysisHandlerInterface interface {
	AnalyzeImage(c fiber.Ctx) error
	TestGeneration(c fiber.Ctx) error
}

// AnalysisHandler handles image analysis and generation test requests.
type AnalysisHandler struct {
	flow      businessflow.AnalysisFlow
	validator *validator.Validate
}

// NewAnalysisHandler creates a new analysis handler.
func NewAnalysisHandler(flow businessflow.AnalysisFlow) *AnalysisHandler {
	return &AnalysisHandler{
		flow:      flow,
		validator: validator.New(),
	}
}

func (h *AnalysisHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.GatewayErrorResponse{
		Error:   message,
		Code:    errorCode,
		Details: details,
	})
}

// AnalyzeImage handles multipart image analysis requests.
// @Summary Analyze an uploaded image
// @Description Forward an image (jpg/png/gif/webp, bounded by the configured size limit) with an optional prompt to the generation API
// @Tags Analysis
// @Accept mpfd
// @Produce json
// @Param image formData file true "Image file"
// @Param prompt formData string false "Instruction text; a default is used when empty"
// @Success 200 {object} dto.AnalyzeImageResponse "Generated description"
// @Failure 400 {object} dto.GatewayErrorResponse "Missing or invalid upload"
// @Failure 500 {object} dto.GatewayErrorResponse "Generation or storage failure"
// @Router /analyze-image [post]
func (h *AnalysisHandler) AnalyzeImage(c fiber.Ctx) error {
	fileHeader, err := c.FormFile("image")
	if err != nil || fileHeader == nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "image file is required", "INVALID_FILE", nil)
	}

	file, err := fileHeader.Open()
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "invalid file", "INVALID_FILE", nil)
	}
	defer file.Close()

	req := dto.AnalyzeImageRequest{
		OriginalFilename: fileHeader.Filename,
		FileSize:         fileHeader.Size,
		ContentType:      fileHeader.Header.Get("Content-Type"),
		Prompt:           c.FormValue("prompt"),
		File:             file,
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, verr := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(verr))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "validation failed", "VALIDATION_ERROR", validationErrors)
	}

	ctx, cancel := h.createRequestContext(c, "/analyze-image")
	defer cancel()

	metadata := h.clientMetadata(c)
	result, err := h.flow.AnalyzeImage(ctx, &req, metadata)
	if err != nil {
		if be, ok := err.(*businessflow.BusinessError); ok {
			switch be.Code {
			case "INVALID_FILE":
				return h.ErrorResponse(c, fiber.StatusBadRequest, be.Message, be.Code, nil)
			case "INVALID_FILE_TYPE":
				return h.ErrorResponse(c, fiber.StatusBadRequest, be.Message, be.Code, nil)
			case "FILE_TOO_LARGE":
				return h.ErrorResponse(c, fiber.StatusBadRequest, be.Message, be.Code, nil)
			case "GENERATION_FAILED":
				return h.ErrorResponse(c, fiber.StatusInternalServerError, "image analysis failed", be.Code, nil)
			}
		}
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "failed to analyze image", "ANALYSIS_FAILED", nil)
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

// TestGeneration handles the generation API connectivity check.
// @Summary Test the generation API
// @Description Run a fixed text prompt through the generation API
// @Tags Analysis
// @Produce json
// @Success 200 {object} dto.TestGenerationResponse "Generated text"
// @Failure 500 {object} dto.TestGenerationErrorResponse "Generation failure"
// @Router /test-gemini [get]
func (h *AnalysisHandler) TestGeneration(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/test-gemini")
	defer cancel()

	result, err := h.flow.TestGeneration(ctx, h.clientMetadata(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.TestGenerationErrorResponse{
			Success: false,
			Error:   "generation failed",
		})
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *AnalysisHandler) clientMetadata(c fiber.Ctx) *businessflow.ClientMetadata {
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.RequestID = c.Get("X-Request-ID")
	return metadata
}

func (h *AnalysisHandler) createRequestContext(c fiber.Ctx, endpoint string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	return ctx, cancel
}
