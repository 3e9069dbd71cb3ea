// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package steward

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/Steward/services/llm"
)

// ErrorResponse is the JSON error shape returned by all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ProcessRequest is the inbound turn. SessionID is generated when absent
// so a bare client still gets positional references within one response.
type ProcessRequest struct {
	Message   string        `json:"message" binding:"required"`
	SessionID string        `json:"session_id"`
	UserID    string        `json:"user_id"`
	History   []llm.Message `json:"conversation_history"`
}

// Handlers holds the HTTP handlers for the engine.
type Handlers struct {
	service *Service
}

// NewHandlers creates the handlers over a wired service.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// getOrCreateRequestID returns the inbound X-Request-ID or generates one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// HandleProcess handles POST /v1/steward/process.
//
// # Description
//
// Runs one conversational turn: decide the tool, execute it, return the
// uniform result envelope. The envelope is returned with HTTP 200 even
// when success=false — tool-level failures are part of the contract, not
// transport errors.
//
// Response:
//
//	200 OK: query.ToolResult
//	400 Bad Request: malformed body or missing message
func (h *Handlers) HandleProcess(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleProcess")

	var req ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "message is required",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	result := h.service.Process(c.Request.Context(), req.Message, req.SessionID, req.UserID, req.History)

	logger.Info("turn processed",
		slog.String("session_id", req.SessionID),
		slog.String("tool", result.Tool),
		slog.Bool("success", result.Success),
		slog.Bool("route_to_node", result.ShouldRouteToNode),
	)

	c.Header("X-Request-ID", requestID)
	c.Header("X-Session-ID", req.SessionID)
	c.JSON(http.StatusOK, result)
}

// HandleEntities handles GET /v1/steward/entities.
//
// Returns the current entity catalog descriptors, the same view the
// decision model sees. Intended for client capability discovery.
func (h *Handlers) HandleEntities(c *gin.Context) {
	entities := h.service.Registry().Describe(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"entities": entities,
		"count":    len(entities),
	})
}

// HandleHealth handles GET /v1/steward/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleReady handles GET /v1/steward/ready. Ready means at least one
// entity's schema is introspectable through the record source.
func (h *Handlers) HandleReady(c *gin.Context) {
	if !h.service.Ready(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "no entities available",
			Code:  "NOT_READY",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
