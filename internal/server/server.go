package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"nyl/internal/domain"
	"nyl/internal/hub"
)

// ChatGateway is the chat surface exposed over HTTP.
type ChatGateway interface {
	Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error)
	StreamChat(ctx context.Context, req domain.ChatRequest, onEvent func(domain.ChatStreamEvent))
	ListModels(ctx context.Context) (domain.ModelsResponse, error)
	SelectModel(ctx context.Context, id string) (domain.ModelsResponse, error)
	TestConnection(ctx context.Context) (domain.Provider, error)
	StoreCloudCredential(ctx context.Context, apiKey string) error
}

// StatusSource produces the device status.
type StatusSource interface {
	Snapshot(ctx context.Context) domain.StatusSnapshot
	Event(ctx context.Context, typ domain.StatusEventType) domain.StatusEvent
}

// ConnectionRegistry tracks WebSocket subscribers.
type ConnectionRegistry interface {
	Register(id string, t hub.Transport) error
	Unregister(id string)
}

type Options struct {
	// WriteTimeout bounds a single WebSocket frame write.
	WriteTimeout time.Duration
	OutboxSize   int
}

type Server struct {
	gateway  ChatGateway
	status   StatusSource
	conns    ConnectionRegistry
	logger   *slog.Logger
	opts     Options
	upgrader websocket.Upgrader
}

func New(gateway ChatGateway, status StatusSource, conns ConnectionRegistry, opts Options, logger *slog.Logger) (*Server, error) {
	if gateway == nil {
		return nil, errors.New("server: gateway must not be nil")
	}
	if status == nil {
		return nil, errors.New("server: status source must not be nil")
	}
	if conns == nil {
		return nil, errors.New("server: connection registry must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = hub.DefaultOutboxSize
	}
	return &Server{
		gateway: gateway,
		status:  status,
		conns:   conns,
		logger:  logger,
		opts:    opts,
		upgrader: websocket.Upgrader{
			// Peers are already restricted to the local network.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

// Router builds the gin engine with every route and middleware installed.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies(nil)
	r.Use(
		recovery(s.logger),
		requestID(),
		accessLog(s.logger),
		localNetworkOnly(s.logger),
	)

	r.GET("/health", s.health)
	r.GET("/ws/updates", s.updates)

	v1 := r.Group("/v1")
	v1.GET("/status", s.getStatus)
	v1.GET("/models", s.listModels)
	v1.PUT("/models/selected", s.selectModel)
	v1.POST("/chat", s.chat)
	v1.POST("/chat/stream", s.chatStream)
	v1.POST("/providers/test", s.testProvider)
	v1.PUT("/credentials/cloud", s.storeCloudCredential)

	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status.Snapshot(c.Request.Context()))
}
