// Package app wires the presence verification engine into its HTTP surface.
package app

import (
	"errors"
	"strings"

	"github.com/attendly/presence-engine/pkg/engine"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
)

// CreateWebServer creates the API server over the given engine.
func CreateWebServer(logger *zerolog.Logger, eng *engine.Engine) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return ErrorHandler(c, err, logger)
		},
		DisableStartupMessage: true,
	})
	ctrl := NewController(eng, logger)

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(cors.New())

	app.Get("/", HealthCheck)
	v1 := app.Group("/v1")
	v1.Post("/sessions/:sessionId/challenge", ctrl.IssueChallenge)
	v1.Post("/responses", ctrl.VerifyResponse)
	v1.Get("/sessions/:sessionId/report", ctrl.SessionReport)
	v1.Post("/records/:recordId/override", ctrl.ApplyOverride)

	return app
}

// HealthCheck reports service liveness.
func HealthCheck(ctx *fiber.Ctx) error {
	return ctx.JSON(map[string]any{"data": "Server is up and running"})
}

// ErrorHandler logs recovered errors and returns json instead of string.
func ErrorHandler(ctx *fiber.Ctx, err error, logger *zerolog.Logger) error {
	code := fiber.StatusInternalServerError
	message := "Internal error."

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	// don't log not found errors
	if code != fiber.StatusNotFound {
		logger.Err(err).Int("httpStatusCode", code).
			Str("httpPath", strings.TrimPrefix(ctx.Path(), "/")).
			Str("httpMethod", ctx.Method()).
			Msg("caught an error from http request")
	}

	return ctx.Status(code).JSON(codeResp{Code: code, Message: message})
}

type codeResp struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}
