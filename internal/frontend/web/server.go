// Package web is the HTTP/JSON control interface. It exposes the command
// surface over REST-ish endpoints and a long-polling notification endpoint.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"tremolo/internal/command"
)

// notifyTimeout bounds the long-poll; clients re-issue the request.
const notifyTimeout = 60 * time.Second

// Server wraps the HTTP front-end.
type Server struct {
	dispatcher *command.Dispatcher
	logger     *log.Logger
	srv        *http.Server
	addr       string
}

// New builds the server and its routes.
func New(d *command.Dispatcher, logger *log.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{dispatcher: d, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/status", func(c *gin.Context) { s.run(c, "status", nil) })
	r.GET("/notify", func(c *gin.Context) { s.run(c, "notify", nil) })
	r.GET("/commands", func(c *gin.Context) { s.run(c, "help", nil) })
	r.POST("/command", s.postCommand)

	s.srv = &http.Server{Handler: r}
	return s
}

// Start serves on addr in the background.
func (s *Server) Start(addr string) error {
	s.srv.Addr = addr
	ln, err := netListen(addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()
	s.logger.Info("web interface listening", "addr", s.addr)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("web interface failed", "err", err)
		}
	}()
	return nil
}

// Addr returns the bound address, valid after Start.
func (s *Server) Addr() string { return s.addr }

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type commandRequest struct {
	Name string   `json:"name" binding:"required"`
	Args []string `json:"args"`
}

func (s *Server) postCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{
			"code":    "bad-request",
			"message": err.Error(),
		}})
		return
	}
	s.run(c, req.Name, req.Args)
}

// run executes one command and writes its result, waiting for finalized and
// idle commands to resolve.
func (s *Server) run(c *gin.Context, name string, args []string) {
	type outcome struct {
		result command.Result
		err    *command.Error
	}
	resCh := make(chan outcome, 1)
	s.dispatcher.Run(name, args, func(r command.Result, cerr *command.Error) {
		resCh <- outcome{result: r, err: cerr}
	})

	select {
	case out := <-resCh:
		if out.err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": out.err})
			return
		}
		c.JSON(http.StatusOK, out.result)
	case <-time.After(notifyTimeout):
		c.JSON(http.StatusRequestTimeout, gin.H{"error": gin.H{
			"code":    "timeout",
			"message": "no event before the long-poll deadline",
		}})
	case <-c.Request.Context().Done():
	}
}
