package app

import (
	"errors"

	"github.com/attendly/presence-engine/pkg/engine"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Controller exposes the engine's operations over HTTP. Authentication is the
// caller's concern: by the time a request reaches the controller the identity
// provider has already established participantId / organiserId.
type Controller struct {
	engine *engine.Engine
	logger *zerolog.Logger
}

// NewController creates a new Controller.
func NewController(eng *engine.Engine, logger *zerolog.Logger) *Controller {
	return &Controller{engine: eng, logger: logger}
}

type issueChallengeRequest struct {
	OrganiserID string            `json:"organiserId"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// IssueChallenge mints a challenge for a session.
func (c *Controller) IssueChallenge(ctx *fiber.Ctx) error {
	sessionID := ctx.Params("sessionId")
	var req issueChallengeRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if req.OrganiserID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "organiserId is required")
	}

	challenge, err := c.engine.IssueChallenge(ctx.Context(), sessionID, req.OrganiserID, req.Metadata)
	if err != nil {
		c.logger.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to issue challenge")
		return fiber.NewError(fiber.StatusServiceUnavailable, "Failed to issue challenge")
	}
	return ctx.JSON(challenge)
}

type verifyResponseRequest struct {
	Response string           `json:"response"`
	Evidence *engine.Evidence `json:"evidence"`
}

// VerifyResponse processes a signed response with its evidence bundle.
func (c *Controller) VerifyResponse(ctx *fiber.Ctx) error {
	var req verifyResponseRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if req.Response == "" {
		return fiber.NewError(fiber.StatusBadRequest, "response is required")
	}

	record, err := c.engine.VerifyResponse(ctx.Context(), req.Response, req.Evidence)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to verify response")
		return fiber.NewError(fiber.StatusServiceUnavailable, "Failed to verify response")
	}
	return ctx.JSON(record)
}

// SessionReport aggregates a session's analyses.
func (c *Controller) SessionReport(ctx *fiber.Ctx) error {
	sessionID := ctx.Params("sessionId")

	report, err := c.engine.SessionReport(ctx.Context(), sessionID)
	if err != nil {
		c.logger.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to build session report")
		return fiber.NewError(fiber.StatusServiceUnavailable, "Failed to build session report")
	}
	return ctx.JSON(report)
}

type overrideRequest struct {
	ActorID    string         `json:"actorId"`
	Reason     string         `json:"reason"`
	NewOutcome engine.Outcome `json:"newOutcome"`
}

// ApplyOverride applies an authorised human decision to a record.
func (c *Controller) ApplyOverride(ctx *fiber.Ctx) error {
	recordID := ctx.Params("recordId")
	var req overrideRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	record, err := c.engine.ApplyOverride(ctx.Context(), recordID, req.ActorID, req.Reason, req.NewOutcome)
	switch {
	case errors.Is(err, engine.ErrOverrideUnauthorised):
		return fiber.NewError(fiber.StatusForbidden, "Override unauthorised")
	case errors.Is(err, engine.ErrInvalidOutcome):
		return fiber.NewError(fiber.StatusBadRequest, "Invalid override outcome")
	case errors.Is(err, engine.ErrRecordNotFlagged):
		return fiber.NewError(fiber.StatusConflict, "Record is not flagged")
	case errors.Is(err, engine.ErrRecordNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Record not found")
	case err != nil:
		c.logger.Error().Err(err).Str("recordId", recordID).Msg("Failed to apply override")
		return fiber.NewError(fiber.StatusServiceUnavailable, "Failed to apply override")
	}
	return ctx.JSON(record)
}
