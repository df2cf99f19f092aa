package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/memochat/memochat/pkg/config"
	"github.com/memochat/memochat/pkg/db"
	"github.com/memochat/memochat/pkg/handler"
	"github.com/memochat/memochat/pkg/service"
	"github.com/memochat/memochat/pkg/utils"
)

type Server struct {
	ginEngine *gin.Engine
	cfg       *config.AppConfig
	logger    *slog.Logger
	port      int
}

func NewServer(cfg *config.AppConfig) *Server {
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())

	// CORS middleware: allow common localhost dev origins.
	// Note: if you don't need cookies/credentials, keep Allow-Credentials off.
	ginEngine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// If there's no Origin header, it's not a browser CORS request.
		if origin != "" {
			allowed := strings.HasPrefix(origin, "http://localhost") ||
				strings.HasPrefix(origin, "http://127.0.0.1") ||
				strings.HasPrefix(origin, "https://localhost") ||
				strings.HasPrefix(origin, "https://127.0.0.1")

			if allowed {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
			} else {
				// Reject unknown origins.
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	return &Server{
		ginEngine: ginEngine,
		cfg:       cfg,
		logger:    utils.GetLogger(),
		port:      0,
	}
}

// SetupRoutes constructs the service graph and registers all routes.
func (s *Server) SetupRoutes(ctx context.Context) error {
	gormDB, err := db.Open(s.cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	history := service.NewHistoryStore(gormDB)
	memory := service.NewMemoryService(s.cfg.MemoryBaseURL(), s.cfg.MemoryAPIKey())
	resolver := service.NewAttachmentResolver()

	gateway, err := service.NewGeminiGateway(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("init model gateway: %w", err)
	}

	chatService := service.NewChatService(history, memory, resolver, gateway)
	chatHandler := handler.NewChatHandler(chatService, history, s.cfg.UploadDir())

	// API group
	// /api
	apiGroup := s.ginEngine.Group("/api")

	// Runtime info (lets clients discover the bound base URL)
	apiGroup.GET("/runtime", func(c *gin.Context) {
		host := s.cfg.Host()
		port := s.port
		if port == 0 {
			port = s.cfg.Port()
		}
		c.JSON(http.StatusOK, gin.H{
			"httpBaseUrl": fmt.Sprintf("http://%s:%d", host, port),
			"port":        port,
		})
	})

	chatHandler.RegisterRoutes(apiGroup)
	return nil
}

func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host(), s.cfg.Port())
	srv := &http.Server{Addr: addr, Handler: s.ginEngine}

	// Attempt to listen first; if the port is occupied return the error
	// immediately rather than from the serve goroutine.
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	// Record the actual port (useful if we ever switch to :0).
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	}
	s.logger.Info("Server listening", "addr", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := <-errChan; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
