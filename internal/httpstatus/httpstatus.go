// Package httpstatus provides an optional, read-only HTTP introspection
// endpoint for a running chatserver.Server. It is not part of the wire
// protocol (spec §4.1); it exists purely so an operator or monitoring tool
// can ask a node's self-hosted server how it is doing, mirroring the
// teacher's separate REST API server pattern.
package httpstatus

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"lanchat/internal/chatserver"
)

// Server wraps an echo.Echo exposing a single GET /status endpoint.
type Server struct {
	chat *chatserver.Server
	echo *echo.Echo
}

// New constructs a Server that reports on chat.
func New(chat *chatserver.Server) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{chat: chat, echo: e}
	e.GET("/status", s.handleStatus)
	return s
}

// statusResponse is the payload for GET /status.
type statusResponse struct {
	UID         uint64 `json:"uid"`
	Port        int    `json:"port"`
	AgeSeconds  uint32 `json:"age_seconds"`
	ClientCount int    `json:"client_count"`
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		UID:         s.chat.UID(),
		Port:        s.chat.Port(),
		AgeSeconds:  uint32(s.chat.Age().Seconds()),
		ClientCount: s.chat.ClientCount(),
	})
}

// Run starts the HTTP listener on addr and blocks until ctx is cancelled,
// mirroring the teacher's APIServer.Run shutdown pattern.
func (s *Server) Run(ctx context.Context, addr string) {
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Printf("[httpstatus] server error: %v", err)
		}
	}()
	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutCtx); err != nil {
		log.Printf("[httpstatus] shutdown: %v", err)
	}
}
