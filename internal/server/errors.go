package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nyl/internal/usecase"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorValidation:
		return http.StatusBadRequest
	case usecase.ErrorFeatureDisabled:
		return http.StatusForbidden
	case usecase.ErrorConfiguration:
		return http.StatusPreconditionFailed
	case usecase.ErrorUpstream, usecase.ErrorProtocol, usecase.ErrorTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	uerr := usecase.AsError(err)
	status := statusFor(uerr.Code)

	// Internal details stay in the log.
	msg := uerr.Message()
	if uerr.Code == usecase.ErrorInternal {
		msg = uerr.Reason
	}
	attrs := []any{"request_id", c.GetString(ctxRequestID), "code", uerr.Code, "err", err}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", attrs...)
	} else {
		s.logger.Warn("request failed", attrs...)
	}
	c.JSON(status, errorResponse{Error: string(uerr.Code), Message: msg})
}

func badRequest(c *gin.Context, reason string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorValidation), Message: reason})
}
