// Package api is the HTTP front of a node: read endpoints over committed
// state, tx submission and the websocket event stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/gin-gonic/gin"

	"github.com/NethermindEth/agentchain/api/handlers"
)

// Server runs the REST API.
type Server struct {
	http   *http.Server
	logger log.Logger
}

// NewServer builds the router and binds it to port.
func NewServer(port int, h *handlers.Handler, logger log.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	SetupRoutes(router, h)
	return &Server{
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With("module", "api"),
	}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("API server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server stopped", "err", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
