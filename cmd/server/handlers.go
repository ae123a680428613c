package main

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cipherdrop/cipherdrop/internal/upload"
	"github.com/cipherdrop/cipherdrop/pkg/apperr"
	"github.com/cipherdrop/cipherdrop/pkg/types"
)

// requestIDMiddleware tags every request with a correlation identifier
// that is echoed in the response and attached to handler logs.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func handleInitUpload(service *upload.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.InitUploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "invalid request body",
			})
			return
		}

		resp, err := service.InitializeUpload(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, types.APIResponse{Success: true, Data: resp})
	}
}

func handleUploadChunk(service *upload.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		index, err := strconv.Atoi(c.Param("index"))
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "chunk index must be an integer",
			})
			return
		}

		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "failed to read chunk payload",
			})
			return
		}

		resp, err := service.UploadChunk(c.Request.Context(), sessionID, index, payload)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{Success: true, Data: resp})
	}
}

func handleFinalize(service *upload.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")

		var req types.FinalizeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "invalid request body",
			})
			return
		}

		resp, err := service.FinalizeUpload(c.Request.Context(), sessionID, req.FileID, req.RetentionDays)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{Success: true, Data: resp})
	}
}

// respondError maps the error taxonomy onto HTTP statuses. Caller
// errors carry their message through; integrity and resource failures
// are logged with full context and surfaced opaquely.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict, apperr.KindState:
		status = http.StatusConflict
	default:
		log.Error().Err(err).
			Str("request_id", c.GetString("request_id")).
			Str("path", c.FullPath()).
			Msg("request failed")
	}

	c.JSON(status, types.APIResponse{
		Success: false,
		Error:   apperr.CallerMessage(err),
	})
}
