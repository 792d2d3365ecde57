// Package router provides HTTP routing, middleware configuration, and server setup for the gateway
package router

import (
	"encoding/json"
	"log"
	"time"

	"github.com/amirphl/Yata-no-Kagami/app/dto"
	"github.com/amirphl/Yata-no-Kagami/app/handlers"
	"github.com/amirphl/Yata-no-Kagami/app/middleware"
	"github.com/amirphl/Yata-no-Kagami/config"
	"github.com/amirphl/Yata-no-Kagami/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	Start(address string) error
	GetApp() *fiber.App
}

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app             *fiber.App
	analysisHandler handlers.AnalysisHandlerInterface
	cfg             *config.ProductionConfig
}

// NewFiberRouter creates a new Fiber router
func NewFiberRouter(analysisHandler handlers.AnalysisHandlerInterface, cfg *config.ProductionConfig) Router {
	app := fiber.New(fiber.Config{
		AppName:      "Yata no Kagami Gateway",
		ServerHeader: "Yata-no-Kagami",
		ErrorHandler: errorHandler,
		// Multipart framing adds overhead beyond the file itself
		BodyLimit:    int(cfg.Upload.MaxSizeBytes) + 1024*1024,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ProxyHeader:  cfg.Server.ProxyHeader,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})

	return &FiberRouter{
		app:             app,
		analysisHandler: analysisHandler,
		cfg:             cfg,
	}
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	log.Println("Setting up routes...")

	r.setupMiddleware()

	r.app.Get("/", r.liveness)
	r.app.Get("/healthz", r.healthCheck)
	r.app.Get("/test-gemini", r.analysisHandler.TestGeneration)
	r.app.Post("/analyze-image", r.analysisHandler.AnalyzeImage)

	if r.cfg.Metrics.Enabled {
		r.app.Get(r.cfg.Metrics.Path, adaptor.HTTPHandler(promhttp.Handler()))
	}

	// Not found handler
	r.app.Use(r.notFoundHandler)

	log.Println("Routes configured successfully")
}

// setupMiddleware configures global middleware
func (r *FiberRouter) setupMiddleware() {
	// Request ID middleware - must be first
	r.app.Use(requestid.New(requestid.Config{
		Header: "X-Request-ID",
	}))

	// Security headers middleware
	r.app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))

	// CORS middleware from configuration
	r.app.Use(cors.New(cors.Config{
		AllowOrigins:     r.cfg.Security.AllowedOrigins,
		AllowMethods:     r.cfg.Security.AllowedMethods,
		AllowHeaders:     r.cfg.Security.AllowedHeaders,
		AllowCredentials: r.cfg.Security.AllowCredentials,
		MaxAge:           r.cfg.Security.CORSMaxAge,
	}))

	// Structured access logging
	r.app.Use(logger.New(logger.Config{
		Format:     `{"time":"${time}","request_id":"${locals:requestid}","level":"info","method":"${method}","path":"${path}","ip":"${ip}","status":${status},"latency":"${latency}","bytes_in":${bytesReceived},"bytes_out":${bytesSent}}` + "\n",
		TimeFormat: time.RFC3339,
		TimeZone:   "UTC",
		Next: func(c fiber.Ctx) bool {
			return c.Path() == "/healthz"
		},
	}))

	// Prometheus HTTP metrics
	if r.cfg.Metrics.Enabled {
		r.app.Use(middleware.Metrics())
	}

	// Recovery middleware so a panic in one request never kills the process
	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			log.Printf(`{"time":"%s","level":"error","request_id":"%v","event":"panic","error":"%v","path":"%s","method":"%s","ip":"%s"}`,
				utils.UTCNowRFC3339(),
				c.Locals("requestid"),
				e,
				c.Path(),
				c.Method(),
				c.IP(),
			)
		},
	}))
}

// Start starts the HTTP server
func (r *FiberRouter) Start(address string) error {
	log.Printf("Starting server on %s", address)
	return r.app.Listen(address)
}

// GetApp returns the Fiber app instance
func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

// liveness returns the plain-text liveness string.
func (r *FiberRouter) liveness(c fiber.Ctx) error {
	return c.SendString("Yata no Kagami gateway is alive")
}

// healthCheck returns structured health data.
func (r *FiberRouter) healthCheck(c fiber.Ctx) error {
	return c.JSON(dto.APIResponse{
		Success: true,
		Message: "Service is healthy",
		Data: fiber.Map{
			"status":    "ok",
			"timestamp": utils.UTCNowUnix(),
			"service":   "yata-no-kagami-gateway",
		},
	})
}

func (r *FiberRouter) notFoundHandler(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
		Success: false,
		Message: "Endpoint not found",
		Error: dto.ErrorDetail{
			Code: "NOT_FOUND",
		},
	})
}

// errorHandler converts transport-level failures into structured JSON.
// Oversized bodies in particular must surface as a client error, not a raw
// protocol failure.
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	log.Printf("Error %d: %v", code, err)

	if code == fiber.StatusRequestEntityTooLarge {
		return c.Status(code).JSON(dto.GatewayErrorResponse{
			Error: "uploaded file exceeds the size limit",
			Code:  "FILE_TOO_LARGE",
		})
	}

	if code >= 400 && code < 500 {
		return c.Status(code).JSON(dto.GatewayErrorResponse{
			Error: err.Error(),
			Code:  "BAD_REQUEST",
		})
	}

	// Internal detail stays in the logs
	return c.Status(code).JSON(dto.GatewayErrorResponse{
		Error: "an internal server error occurred",
		Code:  "INTERNAL_ERROR",
	})
}
