package server

import (
	"net/http"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"nyl/internal/domain"
	"nyl/internal/usecase"
)

type selectModelRequest struct {
	Model string `json:"model"`
}

type cloudCredentialRequest struct {
	APIKey string `json:"apiKey"`
}

type providerTestResponse struct {
	Provider domain.Provider `json:"provider"`
	OK       bool            `json:"ok"`
	Error    string          `json:"error,omitempty"`
}

func (s *Server) chat(c *gin.Context) {
	var req domain.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_json")
		return
	}
	resp, err := s.gateway.Chat(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// chatStream answers with Server-Sent Events, one data frame per stream event.
// Every failure, a malformed body included, travels in-band as an error event.
func (s *Server) chatStream(c *gin.Context) {
	var req domain.ChatRequest
	bindErr := c.ShouldBindJSON(&req)

	openEventStream(c)
	if bindErr != nil {
		writeEvent(c, domain.ErrorEvent("invalid_json"))
		return
	}
	s.gateway.StreamChat(c.Request.Context(), req, func(ev domain.ChatStreamEvent) {
		writeEvent(c, ev)
	})
}

func openEventStream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
}

func writeEvent(c *gin.Context, ev domain.ChatStreamEvent) {
	c.Render(-1, sse.Event{Data: ev})
	c.Writer.Flush()
}

func (s *Server) listModels(c *gin.Context) {
	resp, err := s.gateway.ListModels(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) selectModel(c *gin.Context) {
	var req selectModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_json")
		return
	}
	resp, err := s.gateway.SelectModel(c.Request.Context(), req.Model)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// testProvider reports reachability in the body. Only a disabled gateway or
// an unreadable configuration is an HTTP error.
func (s *Server) testProvider(c *gin.Context) {
	provider, err := s.gateway.TestConnection(c.Request.Context())
	if err != nil {
		uerr := usecase.AsError(err)
		if uerr.Code == usecase.ErrorFeatureDisabled || uerr.Code == usecase.ErrorInternal {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, providerTestResponse{Provider: provider, OK: false, Error: uerr.Message()})
		return
	}
	c.JSON(http.StatusOK, providerTestResponse{Provider: provider, OK: true})
}

func (s *Server) storeCloudCredential(c *gin.Context) {
	var req cloudCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_json")
		return
	}
	if err := s.gateway.StoreCloudCredential(c.Request.Context(), req.APIKey); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
